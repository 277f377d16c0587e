package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	coremetrics "github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/core/model"
)

func TestProgressPublisherAnnouncesOnline(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewProgressPublisher(Config{Broker: "tcp://localhost:1883", TopicPrefix: "plant"})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if len(mc.published) != 1 || mc.published[0].topic != "plant/status" || !mc.published[0].retained {
		t.Fatalf("status not published: %+v", mc.published)
	}
	_ = p.Close()
	if mc.connected {
		t.Fatalf("expected disconnect on close")
	}
}

func TestProgressPublisherRecordSubHorizon(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewProgressPublisher(Config{Broker: "tcp://localhost:1883", QoS: 1})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	now := time.UnixMilli(1700000000000)
	ev := coremetrics.SubHorizonEvent{
		RunID:     "r1",
		SimIdx:    2,
		Status:    model.StatusOptimal,
		Attempts:  2,
		Recovered: true,
		Objective: 42,
		Duration:  250 * time.Millisecond,
		Time:      now,
	}
	if err := p.RecordSubHorizon(ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	last := mc.published[len(mc.published)-1]
	if last.topic != "hydroflex/runs/r1/subhorizons" || last.qos != 1 || last.retained {
		t.Fatalf("unexpected publish: %+v", last)
	}
	var msg subHorizonMessage
	if err := json.Unmarshal(last.payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := subHorizonMessage{RunID: "r1", SimIdx: 2, Status: "optimal", Attempts: 2, Recovered: true, Objective: 42, DurationMS: 250, Timestamp: 1700000000000}
	if msg != want {
		t.Fatalf("message = %+v, want %+v", msg, want)
	}
}

func TestProgressPublisherRecordRunRetained(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewProgressPublisher(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	if err := p.RecordRun(coremetrics.RunEvent{RunID: "r1", SubHorizons: 3, Err: "infeasible"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	last := mc.published[len(mc.published)-1]
	if last.topic != "hydroflex/runs/r1/summary" || !last.retained {
		t.Fatalf("unexpected publish: %+v", last)
	}
	var msg runMessage
	if err := json.Unmarshal(last.payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.SubHorizons != 3 || msg.Error != "infeasible" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestProgressPublisherRetries(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	p, err := NewProgressPublisher(Config{Broker: "tcp://localhost:1883", MaxRetries: 1, BackoffMS: 1})
	if err != nil {
		t.Fatalf("publisher: %v", err)
	}
	before := len(mc.published)
	mc.publishErrs = []error{errNet, nil}
	if err := p.RecordSubHorizon(coremetrics.SubHorizonEvent{RunID: "r"}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if n := len(mc.published) - before; n != 2 {
		t.Fatalf("expected 2 publish attempts, got %d", n)
	}

	mc.publishErrs = []error{errNet, errNet}
	if err := p.RecordSubHorizon(coremetrics.SubHorizonEvent{RunID: "r"}); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestProgressPublisherRequiresBroker(t *testing.T) {
	if _, err := NewProgressPublisher(Config{}); err == nil {
		t.Fatalf("expected validation error")
	}
}

package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/core/model"
)

type bodyRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (b *bodyRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mu.Lock()
		b.bodies = append(b.bodies, strings.TrimSpace(string(data)))
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (b *bodyRecorder) all() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.bodies...)
}

func lineOf(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordSubHorizon(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	now := time.Now()
	ev := coremetrics.SubHorizonEvent{
		RunID:     "run1",
		SimIdx:    2,
		Status:    model.StatusOptimal,
		Attempts:  3,
		Recovered: true,
		Objective: 1234.56789,
		Duration:  1500 * time.Millisecond,
		Time:      now,
	}
	if err := sink.RecordSubHorizon(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("subhorizon_solve").
		AddTag("run_id", "run1").
		AddTag("sim_idx", "2").
		AddTag("status", "optimal").
		AddTag("recovered", "true").
		AddField("attempts", 3).
		AddField("objective", 1234.568).
		AddField("duration_ms", 1500.0).
		SetTime(now)
	bodies := rec.all()
	if len(bodies) != 1 || bodies[0] != lineOf(p) {
		t.Errorf("unexpected bodies: %#v", bodies)
	}
}

func TestInfluxSink_RecordRun(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	now := time.Now()
	ev := coremetrics.RunEvent{
		RunID:       "run1",
		Scenario:    "dry",
		SubHorizons: 4,
		NonOptimal:  1,
		Recovered:   2,
		Err:         "boom",
		Duration:    time.Second,
		Time:        now,
	}
	if err := sink.RecordRun(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("schedule_run").
		AddTag("run_id", "run1").
		AddTag("scenario", "dry").
		AddField("subhorizons", 4).
		AddField("non_optimal", 1).
		AddField("recovered", 2).
		AddField("failed", true).
		AddField("duration_ms", 1000.0).
		SetTime(now).
		AddField("error", "boom")
	bodies := rec.all()
	if len(bodies) != 1 || bodies[0] != lineOf(p) {
		t.Errorf("unexpected bodies: %#v", bodies)
	}
}

func TestInfluxSink_RecordResults(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	now := time.Now()
	rows := []model.ResultRow{
		{SimIdx: 0, T: 0, Timestamp: now, Table: model.TableFlow, Entity: "g1", Value: 4.5},
		{SimIdx: 0, T: 1, Timestamp: now.Add(time.Hour), Table: model.TableBasinVolume, Entity: "up", Value: 1000},
	}
	if err := sink.RecordResults(coremetrics.ResultEvent{RunID: "run1", Rows: rows}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p1 := write.NewPointWithMeasurement("flow").
		AddTag("run_id", "run1").
		AddTag("entity", "g1").
		AddTag("sim_idx", "0").
		AddField("value", 4.5).
		SetTime(now)
	p2 := write.NewPointWithMeasurement("basin_volume").
		AddTag("run_id", "run1").
		AddTag("entity", "up").
		AddTag("sim_idx", "0").
		AddField("value", 1000.0).
		SetTime(now.Add(time.Hour))
	bodies := rec.all()
	if len(bodies) != 1 {
		t.Fatalf("expected one batch, got %d", len(bodies))
	}
	lines := strings.Split(bodies[0], "\n")
	if len(lines) != 2 || strings.TrimSpace(lines[0]) != lineOf(p1) || strings.TrimSpace(lines[1]) != lineOf(p2) {
		t.Errorf("unexpected lines: %#v", lines)
	}
}

func TestInfluxSink_RecordResultsEmpty(t *testing.T) {
	rec := &bodyRecorder{}
	srv := rec.server(t)

	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	if err := sink.RecordResults(coremetrics.ResultEvent{RunID: "run1"}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	if n := len(rec.all()); n != 0 {
		t.Fatalf("expected no write, got %d", n)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}

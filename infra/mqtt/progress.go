package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	coremetrics "github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/infra/logger"
)

// ProgressPublisher is a metrics sink that reports each solved sub-horizon
// and the run summary as JSON messages under the configured topic prefix:
//
//	<prefix>/runs/<run_id>/subhorizons
//	<prefix>/runs/<run_id>/summary
type ProgressPublisher struct {
	cli    pahoClient
	cfg    Config
	logger logger.Logger
}

type subHorizonMessage struct {
	RunID      string  `json:"run_id"`
	SimIdx     int     `json:"sim_idx"`
	Status     string  `json:"status"`
	Attempts   int     `json:"attempts"`
	Recovered  bool    `json:"recovered"`
	Objective  float64 `json:"objective"`
	DurationMS int64   `json:"duration_ms"`
	Timestamp  int64   `json:"timestamp"`
}

type runMessage struct {
	RunID       string `json:"run_id"`
	Scenario    string `json:"scenario,omitempty"`
	SubHorizons int    `json:"subhorizons"`
	NonOptimal  int    `json:"non_optimal"`
	Recovered   int    `json:"recovered"`
	Error       string `json:"error,omitempty"`
	DurationMS  int64  `json:"duration_ms"`
	Timestamp   int64  `json:"timestamp"`
}

// NewProgressPublisher connects to the broker and announces itself on the
// status topic.
func NewProgressPublisher(cfg Config) (*ProgressPublisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_progress")
	opts.OnConnect = func(paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	p := &ProgressPublisher{cli: c, cfg: cfg, logger: log}
	if err := p.publish(cfg.statusTopic(), []byte("online"), true); err != nil {
		log.Warnf("publish status: %v", err)
	}
	return p, nil
}

// RecordSubHorizon publishes the outcome of one sub-horizon.
func (p *ProgressPublisher) RecordSubHorizon(ev coremetrics.SubHorizonEvent) error {
	return p.publishJSON(p.topic(ev.RunID, "subhorizons"), subHorizonMessage{
		RunID:      ev.RunID,
		SimIdx:     ev.SimIdx,
		Status:     ev.Status.String(),
		Attempts:   ev.Attempts,
		Recovered:  ev.Recovered,
		Objective:  ev.Objective,
		DurationMS: ev.Duration.Milliseconds(),
		Timestamp:  ev.Time.UnixMilli(),
	}, p.cfg.Retain)
}

// RecordRun publishes the run summary. Summaries are always retained so
// late subscribers see how the last run ended.
func (p *ProgressPublisher) RecordRun(ev coremetrics.RunEvent) error {
	return p.publishJSON(p.topic(ev.RunID, "summary"), runMessage{
		RunID:       ev.RunID,
		Scenario:    ev.Scenario,
		SubHorizons: ev.SubHorizons,
		NonOptimal:  ev.NonOptimal,
		Recovered:   ev.Recovered,
		Error:       ev.Err,
		DurationMS:  ev.Duration.Milliseconds(),
		Timestamp:   ev.Time.UnixMilli(),
	}, true)
}

// Close disconnects from the broker.
func (p *ProgressPublisher) Close() error {
	if p.cli != nil && p.cli.IsConnected() {
		p.cli.Disconnect(250)
	}
	return nil
}

func (p *ProgressPublisher) topic(runID, leaf string) string {
	return fmt.Sprintf("%s/runs/%s/%s", p.cfg.TopicPrefix, runID, leaf)
}

func (p *ProgressPublisher) publishJSON(topic string, v any, retain bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.publish(topic, payload, retain)
}

func (p *ProgressPublisher) publish(topic string, payload []byte, retain bool) error {
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, p.cfg.QoS, retain, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.logger.Debugf("published %d bytes to %s", len(payload), topic)
			return nil
		}
		p.logger.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.cfg.MaxRetries {
			time.Sleep(p.cfg.backoff() * time.Duration(1<<attempt))
		}
	}
	return fmt.Errorf("publish %s: %w", topic, publishErr)
}

package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/infra/logger"
)

// InfluxSink writes scheduling events and result rows to an InfluxDB
// instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordSubHorizon writes one point per sub-horizon outcome.
func (s *InfluxSink) RecordSubHorizon(ev coremetrics.SubHorizonEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("subhorizon_solve").
		AddTag("run_id", ev.RunID).
		AddTag("sim_idx", strconv.Itoa(ev.SimIdx)).
		AddTag("status", ev.Status.String()).
		AddTag("recovered", strconv.FormatBool(ev.Recovered)).
		AddField("attempts", ev.Attempts).
		AddField("objective", round3(ev.Objective)).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordRun writes the run summary.
func (s *InfluxSink) RecordRun(ev coremetrics.RunEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("schedule_run").
		AddTag("run_id", ev.RunID)
	if ev.Scenario != "" {
		p = p.AddTag("scenario", ev.Scenario)
	}
	p = p.AddField("subhorizons", ev.SubHorizons).
		AddField("non_optimal", ev.NonOptimal).
		AddField("recovered", ev.Recovered).
		AddField("failed", ev.Failed()).
		AddField("duration_ms", round3(ev.Duration.Seconds()*1000)).
		SetTime(ev.Time)
	if ev.Err != "" {
		p = p.AddField("error", ev.Err)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordResults writes every result row as a point of its table.
func (s *InfluxSink) RecordResults(ev coremetrics.ResultEvent) error {
	if len(ev.Rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(ev.Rows))
	for _, r := range ev.Rows {
		points = append(points, write.NewPointWithMeasurement(r.Table).
			AddTag("run_id", ev.RunID).
			AddTag("entity", r.Entity).
			AddTag("sim_idx", strconv.Itoa(r.SimIdx)).
			AddField("value", round3(r.Value)).
			SetTime(r.Timestamp))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// Close releases the underlying client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}

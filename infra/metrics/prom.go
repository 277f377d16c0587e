package metrics

import (
	"strconv"

	coremetrics "github.com/kilianp07/hydroflex/core/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// PromSink records scheduling events in Prometheus metrics.
type PromSink struct {
	subHorizons *prometheus.CounterVec
	attempts    prometheus.Histogram
	duration    prometheus.Histogram
	objective   prometheus.Gauge
	runs        *prometheus.CounterVec
}

// NewPromSink registers scheduling metrics on the default Prometheus registerer.
// The HTTP endpoint is served separately by the run command.
func NewPromSink() (coremetrics.MetricsSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	subHorizons := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydroflex_subhorizons_total",
		Help: "Total number of solved sub-horizons by final status",
	}, []string{"status", "recovered"})
	attempts := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hydroflex_solve_attempts",
		Help:    "Solver calls needed per sub-horizon",
		Buckets: []float64{1, 2, 3, 4, 5},
	})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hydroflex_solve_duration_seconds",
		Help:    "Wall time spent solving a sub-horizon, retries included",
		Buckets: prometheus.DefBuckets,
	})
	objective := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hydroflex_last_objective",
		Help: "Objective value of the last solved sub-horizon",
	})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydroflex_runs_total",
		Help: "Total number of scheduling runs",
	}, []string{"scenario", "failed"})

	var err error
	if subHorizons, err = register(reg, subHorizons); err != nil {
		return nil, err
	}
	if attempts, err = register(reg, attempts); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if objective, err = register(reg, objective); err != nil {
		return nil, err
	}
	if runs, err = register(reg, runs); err != nil {
		return nil, err
	}
	return &PromSink{
		subHorizons: subHorizons,
		attempts:    attempts,
		duration:    duration,
		objective:   objective,
		runs:        runs,
	}, nil
}

// register returns the already registered collector when c was registered
// by an earlier sink.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordSubHorizon counts the sub-horizon and observes its attempts and duration.
func (s *PromSink) RecordSubHorizon(ev coremetrics.SubHorizonEvent) error {
	s.subHorizons.WithLabelValues(ev.Status.String(), strconv.FormatBool(ev.Recovered)).Inc()
	s.attempts.Observe(float64(ev.Attempts))
	s.duration.Observe(ev.Duration.Seconds())
	if ev.Status.Usable() {
		s.objective.Set(ev.Objective)
	}
	return nil
}

// RecordRun counts finished runs.
func (s *PromSink) RecordRun(ev coremetrics.RunEvent) error {
	s.runs.WithLabelValues(ev.Scenario, strconv.FormatBool(ev.Failed())).Inc()
	return nil
}

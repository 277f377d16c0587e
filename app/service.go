// Package app wires datasets, configuration and infrastructure into
// scheduling runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kilianp07/hydroflex/config"
	"github.com/kilianp07/hydroflex/core/discretize"
	coremetrics "github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/quota"
	"github.com/kilianp07/hydroflex/core/scheduler"
	"github.com/kilianp07/hydroflex/core/solver"
	"github.com/kilianp07/hydroflex/infra/input"
	"github.com/kilianp07/hydroflex/infra/logger"
	"github.com/kilianp07/hydroflex/infra/metrics"
	"github.com/kilianp07/hydroflex/infra/mqtt"
	infrasolver "github.com/kilianp07/hydroflex/infra/solver"
	"github.com/kilianp07/hydroflex/infra/store"
	"github.com/kilianp07/hydroflex/internal/eventbus"
)

// RunStore persists finished runs.
type RunStore interface {
	SaveRun(ctx context.Context, run store.RunRecord, rows []model.ResultRow) error
}

// Service runs scheduling scenarios with a shared solver, metrics sink and
// store. It is safe for concurrent use once built.
type Service struct {
	cfg     *config.Config
	solver  solver.Solver
	sink    coremetrics.MetricsSink
	store   RunStore
	closers []io.Closer
	log     logger.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithSolver replaces the LP backend.
func WithSolver(s solver.Solver) Option { return func(svc *Service) { svc.solver = s } }

// WithSink replaces the configured metrics sinks.
func WithSink(s coremetrics.MetricsSink) Option { return func(svc *Service) { svc.sink = s } }

// WithStore replaces the configured run store.
func WithStore(s RunStore) Option { return func(svc *Service) { svc.store = s } }

// New creates a Service from the configuration.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	logger.SetLevel(cfg.Logging.Level)
	svc := &Service{cfg: cfg, log: logger.New("service")}
	for _, o := range opts {
		o(svc)
	}
	if svc.solver == nil {
		lps := infrasolver.NewLPSolver(logger.New("lp-solver"))
		lps.Tolerance = cfg.Solver.Tolerance
		svc.solver = lps
	}
	if svc.sink == nil {
		sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
		if err != nil {
			return nil, fmt.Errorf("metrics sink: %w", err)
		}
		if cfg.MQTT.Broker != "" {
			pub, err := mqtt.NewProgressPublisher(cfg.MQTT)
			if err != nil {
				return nil, fmt.Errorf("mqtt publisher: %w", err)
			}
			sink = coremetrics.NewMultiSink(sink, pub)
		}
		svc.sink = sink
		if c, ok := sink.(io.Closer); ok {
			svc.closers = append(svc.closers, c)
		}
	}
	if svc.store == nil && cfg.Store.Enabled() {
		st, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		svc.store = st
		svc.closers = append(svc.closers, st)
	}
	return svc, nil
}

// Topology validates and discretizes the assets of ds.
func (s *Service) Topology(ds *input.Dataset) (*scheduler.Topology, error) {
	dc := s.cfg.Discretization
	d := discretize.NewDiscretizer(dc.Tol(), dc.MaxBreakpoints, dc.WarnThreshold, logger.New("discretize"))
	return scheduler.NewTopology(ds.Basins, ds.Units, ds.Samples, d)
}

// Run schedules ds with the configured settings. start, when not nil,
// replaces the initial state built from the basin start volumes. On a
// fatal error the partial result is returned along with the error.
func (s *Service) Run(ctx context.Context, ds *input.Dataset, start *model.SubHorizonState) (*scheduler.Result, error) {
	return s.run(ctx, ds, s.schedulerConfig(ds, ds.Name), start)
}

func (s *Service) schedulerConfig(ds *input.Dataset, scenario string) scheduler.Config {
	sc := s.cfg.SchedulerConfig()
	if sc.Battery == nil {
		sc.Battery = ds.Battery
	}
	sc.Scenario = scenario
	return sc
}

func (s *Service) run(ctx context.Context, ds *input.Dataset, sc scheduler.Config, start *model.SubHorizonState) (*scheduler.Result, error) {
	topo, err := s.Topology(ds)
	if err != nil {
		return nil, err
	}
	series := ds.Series()
	if err := series.Validate(topo); err != nil {
		return nil, err
	}

	produced := ds.Produced
	if !ds.HasProduced() {
		fs := scheduler.NewFirstStage(topo, series, sc, s.solver, logger.New("first-stage"))
		if produced, err = fs.Produced(ctx); err != nil {
			return nil, err
		}
	}
	plan, err := quota.Aggregate(produced, sc.SubHorizonSteps)
	if err != nil {
		return nil, err
	}

	bus := eventbus.NewTyped[coremetrics.Event]()
	done := metrics.StartEventCollector(ctx, bus, s.sink)
	defer func() {
		bus.Close()
		<-done
	}()
	sched, err := scheduler.New(topo, series, sc, s.solver, logger.New("scheduler"), bus)
	if err != nil {
		return nil, err
	}

	began := time.Now()
	res, runErr := sched.Run(ctx, plan, initialState(topo, sc, start))
	if s.store != nil && res != nil {
		rec := store.RunRecord{
			ID:          res.RunID,
			Scenario:    sc.Scenario,
			Started:     began,
			Duration:    time.Since(began),
			Diagnostics: res.Diagnostics,
			Final:       &res.Final,
		}
		if runErr != nil {
			rec.Err = runErr.Error()
		}
		if err := s.store.SaveRun(context.WithoutCancel(ctx), rec, res.Rows); err != nil {
			s.log.Errorf("save run %s: %v", res.RunID, err)
			runErr = errors.Join(runErr, fmt.Errorf("save run: %w", err))
		}
	}
	return res, runErr
}

// initialState merges a warm-start state over the topology defaults so
// assets missing from it start from their configured values.
func initialState(topo *scheduler.Topology, sc scheduler.Config, start *model.SubHorizonState) model.SubHorizonState {
	soc := 0.0
	if sc.Battery != nil {
		soc = sc.Battery.StartSOC
	}
	st := topo.InitialState(soc)
	if start == nil {
		return st
	}
	for id, v := range start.Volumes {
		if _, ok := st.Volumes[id]; ok {
			st.Volumes[id] = v
		}
	}
	for id, v := range start.Shortage {
		if _, ok := st.Shortage[id]; ok {
			st.Shortage[id] = v
		}
	}
	for id, v := range start.Overage {
		if _, ok := st.Overage[id]; ok {
			st.Overage[id] = v
		}
	}
	if sc.Battery != nil {
		st.BatterySOC = start.BatterySOC
	}
	return st
}

// Close releases the sinks and the store.
func (s *Service) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

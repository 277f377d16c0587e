package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/hydroflex/core/logger"
	"github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/quota"
	"github.com/kilianp07/hydroflex/core/solver"
)

// Publisher receives scheduling events. It must not block.
type Publisher interface {
	Publish(metrics.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(metrics.Event) {}

// Result is the outcome of a run. On a fatal error it holds everything
// produced before the failing sub-horizon.
type Result struct {
	RunID       string
	Rows        []model.ResultRow
	Diagnostics model.Diagnostics
	// States lists the carried state entering each sub-horizon, followed by
	// the final state.
	States   []model.SubHorizonState
	Final    model.SubHorizonState
	Outcomes []model.SolveOutcome
}

// Scheduler runs the rolling-horizon loop over sub-horizons.
type Scheduler struct {
	topo    *Topology
	series  Series
	cfg     Config
	solver  solver.Solver
	prices  quota.UnpoweredPrices
	battery *solver.BatteryParams
	log     logger.Logger
	bus     Publisher
	now     func() time.Time
}

// New validates the series against the topology and prepares a Scheduler.
// log and bus may be nil.
func New(topo *Topology, series Series, cfg Config, slv solver.Solver, log logger.Logger, bus Publisher) (*Scheduler, error) {
	if topo == nil || slv == nil {
		return nil, fmt.Errorf("scheduler: topology and solver are required")
	}
	if err := series.Validate(topo); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	prices, err := quota.NewUnpoweredPrices(series.MarketPrice, cfg.PriceQuantile)
	if err != nil {
		return nil, err
	}
	if bus == nil {
		bus = nopPublisher{}
	}
	return &Scheduler{
		topo:    topo,
		series:  series,
		cfg:     cfg,
		solver:  slv,
		prices:  prices,
		battery: cfg.Battery,
		log:     logger.OrNop(log),
		bus:     bus,
		now:     time.Now,
	}, nil
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Windows returns the sub-horizon partition of the grid.
func (s *Scheduler) Windows() []model.Window {
	return model.Partition(s.series.Grid.Steps, s.cfg.SubHorizonSteps)
}

// Reconciler returns the quota reconciler for plan.
func (s *Scheduler) Reconciler(plan quota.Plan) *quota.Reconciler {
	seconds := float64(s.cfg.SubHorizonSteps) * s.series.Grid.Step.Seconds()
	return quota.NewReconciler(plan, s.topo.Units, s.prices, quota.Config{
		HorizonSeconds:    seconds,
		VolumeBufferRatio: s.cfg.VolumeBufferRatio,
	})
}

// checkPlan rejects plans aggregated over another partition than the
// sub-horizons of this scheduler.
func (s *Scheduler) checkPlan(plan quota.Plan) error {
	if len(plan.Quotas) == 0 && len(s.topo.Units) == 0 {
		return nil
	}
	if plan.Partition != s.cfg.SubHorizonSteps {
		return &model.ValidationError{Component: "quota plan",
			Reason: fmt.Sprintf("partition of %d steps, sub-horizons have %d", plan.Partition, s.cfg.SubHorizonSteps)}
	}
	if n := len(s.Windows()); plan.Len() != n {
		return &model.ValidationError{Component: "quota plan",
			Reason: fmt.Sprintf("covers %d sub-horizons, want %d", plan.Len(), n)}
	}
	return nil
}

// Run schedules every sub-horizon in order, starting from start. The run
// stops at the first fatal error; cancellation is honoured between
// sub-horizons only.
func (s *Scheduler) Run(ctx context.Context, plan quota.Plan, start model.SubHorizonState) (*Result, error) {
	if err := s.checkPlan(plan); err != nil {
		return nil, err
	}
	began := s.now()
	rec := s.Reconciler(plan)
	state := start.Clone()
	state.SimIdx = 0
	res := &Result{RunID: uuid.NewString(), Final: state}
	windows := s.Windows()
	s.log.Infof("run %s: %d sub-horizons of %d steps", res.RunID, len(windows), s.cfg.SubHorizonSteps)

	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			s.finish(res, began, err)
			return res, fmt.Errorf("run %s cancelled before sub-horizon %d: %w", res.RunID, w.SimIdx, err)
		}
		res.States = append(res.States, state)
		out, err := s.step(ctx, rec, w, state, res)
		if err != nil {
			s.finish(res, began, err)
			return res, err
		}
		state = s.next(out, state)
		res.Final = state
	}
	res.States = append(res.States, res.Final)
	s.finish(res, began, nil)
	return res, nil
}

func (s *Scheduler) step(ctx context.Context, rec *quota.Reconciler, w model.Window, state model.SubHorizonState, res *Result) (model.SolveOutcome, error) {
	began := s.now()
	quotas := rec.Targets(w.SimIdx, state, s.topo.FullUnitStates)
	basinStates, unitStates, err := s.localStates(s.windowBounds(w, state, quotas))
	if err != nil {
		return model.SolveOutcome{}, err
	}
	in := buildInput{simIdx: w.SimIdx, window: w, state: state, basinStates: basinStates, unitStates: unitStates}
	att, err := s.solveWithRecovery(ctx, w.SimIdx, quotas, func(q []model.Quota) *solver.Instance { return s.build(in, q) })
	if att.recovered {
		res.Diagnostics.Recovered = append(res.Diagnostics.Recovered, w.SimIdx)
	}
	ev := metrics.SubHorizonEvent{
		RunID:     res.RunID,
		SimIdx:    w.SimIdx,
		Status:    att.result.Status,
		Attempts:  att.attempts,
		Recovered: att.recovered,
		Objective: att.result.Objective,
		Duration:  s.now().Sub(began),
		Time:      s.now(),
	}
	if err != nil {
		s.bus.Publish(ev)
		s.log.Errorf("sub-horizon %d failed: %v", w.SimIdx, err)
		return model.SolveOutcome{}, err
	}
	if att.result.Status == model.StatusAborted {
		res.Diagnostics.NonOptimal = append(res.Diagnostics.NonOptimal, w.SimIdx)
		s.log.Warnf("sub-horizon %d aborted by the solver, keeping its incumbent", w.SimIdx)
	}
	out := model.SolveOutcome{
		SimIdx:    w.SimIdx,
		Status:    att.result.Status,
		Attempts:  att.attempts,
		Objective: att.result.Objective,
		Variables: att.result.Variables,
		Duration:  ev.Duration,
	}
	rows := s.extractRows(w, out.Variables)
	res.Rows = append(res.Rows, rows...)
	res.Outcomes = append(res.Outcomes, out)
	s.bus.Publish(ev)
	s.bus.Publish(metrics.ResultEvent{RunID: res.RunID, Rows: rows})
	s.log.Debugw("sub-horizon solved", map[string]any{
		"sim_idx":   w.SimIdx,
		"status":    out.Status.String(),
		"attempts":  out.Attempts,
		"objective": out.Objective,
	})
	return out, nil
}

// next derives the carried state of the following sub-horizon from the
// solve outcome and the battery level entering the solved one.
func (s *Scheduler) next(out model.SolveOutcome, prev model.SubHorizonState) model.SubHorizonState {
	short, over := quota.Carry(out.Variables, s.topo.Units)
	st := model.SubHorizonState{
		SimIdx:   out.SimIdx + 1,
		Volumes:  make(map[string]float64, len(s.topo.Basins)),
		Shortage: short,
		Overage:  over,
	}
	for b, basin := range s.topo.Basins {
		st.Volumes[basin.ID] = endVolume(out.Variables, b, prev.Volumes[basin.ID])
	}
	if s.battery != nil {
		soc := prev.BatterySOC +
			out.Variables.Value(model.VarEndSOCOverage, model.Key{}) -
			out.Variables.Value(model.VarEndSOCShortage, model.Key{})
		st.BatterySOC = math.Min(math.Max(soc, 0), s.battery.CapacityMWh)
	}
	return st
}

func endVolume(vars model.Variables, b int, fallback float64) float64 {
	if v, ok := vars[model.VarEndBasinVolume][model.Key{b, 0}]; ok {
		return v
	}
	last, found := -1, fallback
	for k, v := range vars[model.VarBasinVolume] {
		if k[1] == b && k[0] > last {
			last, found = k[0], v
		}
	}
	return found
}

func (s *Scheduler) extractRows(w model.Window, vars model.Variables) []model.ResultRow {
	var rows []model.ResultRow
	add := func(table, name string, t, e int, entity string) {
		v, ok := vars[name][model.Key{t, e}]
		if !ok {
			return
		}
		rows = append(rows, model.ResultRow{
			SimIdx:    w.SimIdx,
			T:         w.Start + t,
			Timestamp: s.series.Grid.At(w.Start + t),
			Table:     table,
			Entity:    entity,
			Value:     v,
		})
	}
	for t := 0; t < w.Len(); t++ {
		for h, u := range s.topo.Units {
			add(model.TableFlow, model.VarFlow, t, h, u.ID)
			add(model.TablePower, model.VarPower, t, h, u.ID)
		}
		for b, basin := range s.topo.Basins {
			add(model.TableBasinVolume, model.VarBasinVolume, t, b, basin.ID)
			add(model.TableSpilledVolume, model.VarSpilledVolume, t, b, basin.ID)
		}
		if s.battery != nil {
			add(model.TableBatteryCharge, model.VarBatteryCharge, t, 0, "battery")
			add(model.TableBatteryDischarge, model.VarBatteryDischarge, t, 0, "battery")
		}
	}
	return rows
}

func (s *Scheduler) finish(res *Result, began time.Time, err error) {
	ev := metrics.RunEvent{
		RunID:       res.RunID,
		Scenario:    s.cfg.Scenario,
		SubHorizons: len(res.Outcomes),
		NonOptimal:  len(res.Diagnostics.NonOptimal),
		Recovered:   len(res.Diagnostics.Recovered),
		Duration:    s.now().Sub(began),
		Time:        s.now(),
	}
	if err != nil {
		ev.Err = err.Error()
	}
	s.bus.Publish(ev)
	if err == nil {
		s.log.Infof("run %s done: %s", res.RunID, res.Diagnostics)
	}
}

package scheduler

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/hydroflex/core/discretize"
	"github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/quota"
	"github.com/kilianp07/hydroflex/core/solver"
	infrasolver "github.com/kilianp07/hydroflex/infra/solver"
)

const stepsPerHorizon = 4

type recordBus struct {
	mu     sync.Mutex
	events []metrics.Event
}

func (r *recordBus) Publish(ev metrics.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func testTopology(t *testing.T) *Topology {
	t.Helper()
	curve := make([]model.CurvePoint, 10)
	for i := range curve {
		curve[i] = model.CurvePoint{Height: float64(i), Volume: float64(i) * 1e5}
	}
	basins := []model.Basin{
		{ID: "up", VolumeMin: 0, VolumeMax: 9e5, StartVolume: 5e5, Curve: curve, SpillFactor: 1},
		{ID: "down", VolumeMin: 0, VolumeMax: 1e7, StartVolume: 1e6},
	}
	units := []model.HydraulicUnit{
		{ID: "g1", Kind: model.Turbine, RatedFlow: 10, RatedPower: 80, Upstream: "up", Downstream: "down"},
	}
	samples := map[string][]model.PerformanceSample{
		"g1": {
			{Height: 1, Flow: 8, Power: 56},
			{Height: 3, Flow: 9, Power: 70},
			{Height: 5, Flow: 9.5, Power: 80},
			{Height: 8, Flow: 10, Power: 82},
		},
	}
	topo, err := NewTopology(basins, units, samples, discretize.NewDiscretizer(discretize.Tolerance{Value: 0.05}, 0, 0, nil))
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	return topo
}

func testSeries(horizons int) Series {
	steps := horizons * stepsPerHorizon
	prices := make([]float64, steps)
	inflow := make([]float64, steps)
	for i := range prices {
		prices[i] = 40 + 10*math.Sin(float64(i)/3)
		inflow[i] = 1000
	}
	return Series{
		Grid:        model.TimeGrid{Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Step: time.Hour, Steps: steps},
		MarketPrice: prices,
		Discharge:   map[string][]float64{"up": inflow},
	}
}

func testPlan(t *testing.T, topo *Topology, steps int, perStep float64) quota.Plan {
	t.Helper()
	produced := make(map[string][]float64)
	for _, u := range topo.Units {
		s := make([]float64, steps)
		for i := range s {
			s[i] = perStep
		}
		produced[u.ID] = s
	}
	plan, err := quota.Aggregate(produced, stepsPerHorizon)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	return plan
}

func newTestScheduler(t *testing.T, horizons int, slv solver.Solver, bus Publisher) (*Scheduler, *Topology) {
	t.Helper()
	topo := testTopology(t)
	cfg := DefaultConfig()
	cfg.SubHorizonSteps = stepsPerHorizon
	s, err := New(topo, testSeries(horizons), cfg, slv, nil, bus)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, topo
}

func TestRunIsDeterministic(t *testing.T) {
	var seqs [][]model.SubHorizonState
	for i := 0; i < 2; i++ {
		s, topo := newTestScheduler(t, 5, solver.NewStub(), nil)
		res, err := s.Run(context.Background(), testPlan(t, topo, 20, 20000), topo.InitialState(0))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(res.States) != 6 {
			t.Fatalf("expected 6 states, got %d", len(res.States))
		}
		seqs = append(seqs, res.States)
	}
	if !reflect.DeepEqual(seqs[0], seqs[1]) {
		t.Fatalf("state sequences differ between identical runs")
	}
	for k, st := range seqs[0] {
		if st.SimIdx != k {
			t.Fatalf("state %d has sim_idx %d", k, st.SimIdx)
		}
	}
}

func TestRunThreadsEndVolumes(t *testing.T) {
	stub := solver.NewStub()
	s, topo := newTestScheduler(t, 3, stub, nil)
	res, err := s.Run(context.Background(), testPlan(t, topo, 12, 20000), topo.InitialState(0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	calls := stub.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 solves, got %d", len(calls))
	}
	for k := 1; k < len(calls); k++ {
		want := res.Outcomes[k-1].Variables.Value(model.VarEndBasinVolume, model.Key{0, 0})
		if calls[k].Starts[0] != want {
			t.Fatalf("sub-horizon %d started at %g, previous ended at %g", k, calls[k].Starts[0], want)
		}
	}
	// 4 steps of 1000 m3 inflow minus 80000 m3 turbined per sub-horizon
	if got, want := res.Final.Volumes["up"], 5e5+3*(4000-80000); math.Abs(got-want) > 1e-6 {
		t.Fatalf("final up volume %g, want %g", got, want)
	}
	if len(res.Diagnostics.NonOptimal) != 0 || len(res.Diagnostics.Recovered) != 0 {
		t.Fatalf("unexpected diagnostics %s", res.Diagnostics)
	}
	for _, st := range res.States {
		if st.Shortage["g1"] != 0 || st.Overage["g1"] != 0 {
			t.Fatalf("quota met exactly but carry is %+v", st)
		}
	}
}

func TestRunAlwaysInfeasibleStopsAfterRetries(t *testing.T) {
	stub := solver.NewStub()
	stub.Default = model.StatusInfeasible
	s, topo := newTestScheduler(t, 5, stub, nil)
	res, err := s.Run(context.Background(), testPlan(t, topo, 20, 20000), topo.InitialState(0))
	var herr *model.InfeasibleHorizonError
	if !errors.As(err, &herr) {
		t.Fatalf("expected InfeasibleHorizonError, got %v", err)
	}
	if herr.SimIdx != 0 || herr.Attempts != 4 {
		t.Fatalf("unexpected error %+v", herr)
	}
	if n := len(stub.Calls()); n != 4 {
		t.Fatalf("expected initial solve plus 3 retries, got %d calls", n)
	}
	if res == nil || len(res.Rows) != 0 || !reflect.DeepEqual(res.Diagnostics.Recovered, []int{0}) {
		t.Fatalf("unexpected partial result %+v", res)
	}
}

func TestRunRecoversInfeasibleSubHorizon(t *testing.T) {
	stub := solver.NewStub()
	stub.Script[2] = []model.SolveStatus{model.StatusInfeasible}
	s, topo := newTestScheduler(t, 5, stub, nil)
	res, err := s.Run(context.Background(), testPlan(t, topo, 20, 20000), topo.InitialState(0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(res.Diagnostics.Recovered, []int{2}) {
		t.Fatalf("expected sub-horizon 2 recovered, got %v", res.Diagnostics.Recovered)
	}
	if len(res.Diagnostics.NonOptimal) != 0 {
		t.Fatalf("unexpected non-optimal list %v", res.Diagnostics.NonOptimal)
	}
	found := false
	for _, r := range res.Rows {
		if r.SimIdx == 2 && r.Table == model.TableFlow {
			found = true
		}
	}
	if !found {
		t.Fatalf("no result row for sub-horizon 2")
	}
	if len(res.Outcomes) != 5 || res.Outcomes[2].Attempts != 2 {
		t.Fatalf("unexpected outcomes %+v", res.Outcomes)
	}
}

func TestRecoveryGrowsBuffersCumulatively(t *testing.T) {
	stub := solver.NewStub()
	stub.Script[0] = []model.SolveStatus{model.StatusInfeasible, model.StatusUnbounded}
	s, topo := newTestScheduler(t, 2, stub, nil)
	if _, err := s.Run(context.Background(), testPlan(t, topo, 8, 20000), topo.InitialState(0)); err != nil {
		t.Fatalf("run: %v", err)
	}
	calls := stub.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(calls))
	}
	base := calls[0].Quotas[0]
	for i, factor := range []float64{1, 2, 4} {
		q := calls[i].Quotas[0]
		if math.Abs(q.ShortageBuffer-factor*base.ShortageBuffer) > 1e-9 || math.Abs(q.OverageBuffer-factor*base.OverageBuffer) > 1e-9 {
			t.Fatalf("attempt %d: buffers %g/%g, want x%g", i, q.ShortageBuffer, q.OverageBuffer, factor)
		}
		if q.Target != base.Target {
			t.Fatalf("attempt %d changed the target", i)
		}
	}
	if calls[3].Quotas[0].ShortageBuffer != base.ShortageBuffer {
		t.Fatalf("widening leaked into the next sub-horizon")
	}
}

func TestRunAbortedIsNonOptimal(t *testing.T) {
	stub := solver.NewStub()
	stub.Script[1] = []model.SolveStatus{model.StatusAborted}
	s, topo := newTestScheduler(t, 3, stub, nil)
	res, err := s.Run(context.Background(), testPlan(t, topo, 12, 20000), topo.InitialState(0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !reflect.DeepEqual(res.Diagnostics.NonOptimal, []int{1}) || len(res.Diagnostics.Recovered) != 0 {
		t.Fatalf("unexpected diagnostics %s", res.Diagnostics)
	}
	if len(model.Rows(res.Rows, model.TablePower)) != 12 {
		t.Fatalf("expected 12 power rows, got %d", len(model.Rows(res.Rows, model.TablePower)))
	}
}

func TestRunCarriesShortage(t *testing.T) {
	stub := solver.NewStub()
	s, topo := newTestScheduler(t, 2, stub, nil)
	// 4 steps x 1e5 m3 is far above what the unit can turbine
	res, err := s.Run(context.Background(), testPlan(t, topo, 8, 1e5), topo.InitialState(0))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	short := res.States[1].Shortage["g1"]
	if short <= 0 {
		t.Fatalf("expected a carried shortage, got %g", short)
	}
	calls := stub.Calls()
	if got, want := calls[1].Quotas[0].Target, 4e5+short; math.Abs(got-want) > 1e-6 {
		t.Fatalf("second target %g, want %g", got, want)
	}
	if got, want := calls[1].Quotas[0].ShortageBuffer, calls[0].Quotas[0].ShortageBuffer+short/3; math.Abs(got-want) > 1e-6 {
		t.Fatalf("second shortage buffer %g, want %g", got, want)
	}
}

func TestRunCancelledBeforeBuild(t *testing.T) {
	stub := solver.NewStub()
	s, topo := newTestScheduler(t, 3, stub, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := s.Run(ctx, testPlan(t, topo, 12, 20000), topo.InitialState(0))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(stub.Calls()) != 0 || res == nil {
		t.Fatalf("solver called after cancellation")
	}
}

func TestRunSolverErrorIsFatal(t *testing.T) {
	stub := solver.NewStub()
	stub.Err = errors.New("license expired")
	s, topo := newTestScheduler(t, 2, stub, nil)
	_, err := s.Run(context.Background(), testPlan(t, topo, 8, 20000), topo.InitialState(0))
	var serr *model.SolverError
	if !errors.As(err, &serr) || serr.SimIdx != 0 {
		t.Fatalf("expected SolverError on sub-horizon 0, got %v", err)
	}
	if len(stub.Calls()) != 1 {
		t.Fatalf("solver errors must not be retried")
	}
}

func TestRunPublishesEvents(t *testing.T) {
	bus := &recordBus{}
	stub := solver.NewStub()
	stub.Script[0] = []model.SolveStatus{model.StatusInfeasible}
	s, topo := newTestScheduler(t, 2, stub, bus)
	if _, err := s.Run(context.Background(), testPlan(t, topo, 8, 20000), topo.InitialState(0)); err != nil {
		t.Fatalf("run: %v", err)
	}
	var subs []metrics.SubHorizonEvent
	var runs []metrics.RunEvent
	results := 0
	for _, ev := range bus.events {
		switch e := ev.(type) {
		case metrics.SubHorizonEvent:
			subs = append(subs, e)
		case metrics.RunEvent:
			runs = append(runs, e)
		case metrics.ResultEvent:
			results++
		}
	}
	if len(subs) != 2 || !subs[0].Recovered || subs[0].Attempts != 2 || subs[1].Recovered {
		t.Fatalf("unexpected sub-horizon events %+v", subs)
	}
	if len(runs) != 1 || runs[0].Failed() || runs[0].Recovered != 1 || results != 2 {
		t.Fatalf("unexpected run events %+v (results %d)", runs, results)
	}
}

func TestRunBatterySOCThreading(t *testing.T) {
	topo := testTopology(t)
	cfg := DefaultConfig()
	cfg.SubHorizonSteps = stepsPerHorizon
	cfg.Battery = &solver.BatteryParams{CapacityMWh: 10, PowerMW: 5, Efficiency: 0.9}
	slv := solver.SolverFunc(func(ctx context.Context, inst *solver.Instance, opts solver.Options) (solver.Result, error) {
		vars := model.Variables{}
		vars.Set(model.VarEndSOCOverage, model.Key{}, 3)
		vars.Set(model.VarEndSOCShortage, model.Key{}, 1)
		vars.Set(model.VarBatteryCharge, model.Key{0, 0}, inst.Battery.StartSOC)
		return solver.Result{Status: model.StatusOptimal, Variables: vars}, nil
	})
	s, err := New(topo, testSeries(4), cfg, slv, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	res, err := s.Run(context.Background(), testPlan(t, topo, 16, 0), topo.InitialState(1))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []float64{1, 3, 5, 7, 9}
	for k, st := range res.States {
		if st.BatterySOC != want[k] {
			t.Fatalf("state %d soc %g, want %g", k, st.BatterySOC, want[k])
		}
	}
	charges := model.Rows(res.Rows, model.TableBatteryCharge)
	if len(charges) != 4 || charges[1].Value != 3 || charges[1].T != 4 {
		t.Fatalf("unexpected battery rows %+v", charges)
	}
	// volumes stay put when the solver reports none
	if res.Final.Volumes["up"] != 5e5 {
		t.Fatalf("expected carried volume fallback, got %g", res.Final.Volumes["up"])
	}
}

func TestWindowsLastIsShorter(t *testing.T) {
	topo := testTopology(t)
	series := testSeries(5)
	series.Grid.Steps = 18
	series.MarketPrice = series.MarketPrice[:18]
	series.Discharge = nil
	cfg := DefaultConfig()
	cfg.SubHorizonSteps = 4
	s, err := New(topo, series, cfg, solver.NewStub(), nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	w := s.Windows()
	if len(w) != 5 || w[4].Len() != 2 {
		t.Fatalf("unexpected windows %+v", w)
	}
}

func TestNewRejectsMisalignedSeries(t *testing.T) {
	topo := testTopology(t)
	series := testSeries(2)
	series.MarketPrice = series.MarketPrice[:3]
	_, err := New(topo, series, DefaultConfig(), solver.NewStub(), nil, nil)
	var verr *model.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestRunLargeCarriedOverageSolvesFirstTime(t *testing.T) {
	s, topo := newTestScheduler(t, 2, infrasolver.NewLPSolver(nil), nil)
	start := topo.InitialState(0)
	start.Overage["g1"] = 1e5
	res, err := s.Run(context.Background(), testPlan(t, topo, 2*stepsPerHorizon, 0), start)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Diagnostics.Recovered) != 0 {
		t.Fatalf("negative targets needed recovery: %v", res.Diagnostics.Recovered)
	}
	for _, out := range res.Outcomes {
		if out.Attempts != 1 {
			t.Fatalf("sub-horizon %d took %d attempts", out.SimIdx, out.Attempts)
		}
	}
}

func TestRunRejectsMisalignedPlan(t *testing.T) {
	stub := solver.NewStub()
	s, topo := newTestScheduler(t, 2, stub, nil)

	produced := map[string][]float64{"g1": make([]float64, 2*stepsPerHorizon)}
	other, err := quota.Aggregate(produced, 2)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	short := testPlan(t, topo, stepsPerHorizon, 20000)

	for name, plan := range map[string]quota.Plan{"partition": other, "length": short, "empty": {}} {
		res, err := s.Run(context.Background(), plan, topo.InitialState(0))
		var verr *model.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", name, err)
		}
		if res != nil {
			t.Fatalf("%s: expected no result", name)
		}
	}
	if len(stub.Calls()) != 0 {
		t.Fatalf("solver called %d times on invalid plans", len(stub.Calls()))
	}
}

package scheduler

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kilianp07/hydroflex/core/discretize"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/solver"
)

func TestTopologyStateCounts(t *testing.T) {
	topo := testTopology(t)
	if n := topo.StateCounts["down"]; n != 1 {
		t.Fatalf("basin without curve should have one state, got %d", n)
	}
	if n := topo.StateCounts["up"]; n < 2 {
		t.Fatalf("expected the kinked unit curve to split up, got %d", n)
	}
	if err := discretize.CheckPartition(topo.FullStates["up"]); err != nil {
		t.Fatalf("full states: %v", err)
	}
	us := topo.FullUnitStates["g1"]
	if len(us) != topo.StateCounts["up"] {
		t.Fatalf("expected one unit state per basin state, got %d", len(us))
	}
	for _, s := range us {
		if s.Flow <= 0 || s.Alpha <= 0 {
			t.Fatalf("unexpected unit state %+v", s)
		}
	}
}

func TestTopologyOverrideAndValidation(t *testing.T) {
	basins := []model.Basin{
		{ID: "up", VolumeMax: 10, Curve: []model.CurvePoint{{Height: 0, Volume: 0}, {Height: 1, Volume: 5}, {Height: 2, Volume: 10}}, StateCount: 2},
		{ID: "down", VolumeMax: 10},
	}
	units := []model.HydraulicUnit{{ID: "g1", RatedFlow: 1, Upstream: "up", Downstream: "down"}}
	topo, err := NewTopology(basins, units, nil, nil)
	if err != nil {
		t.Fatalf("topology: %v", err)
	}
	if topo.StateCounts["up"] != 2 {
		t.Fatalf("override ignored: %d", topo.StateCounts["up"])
	}

	units[0].Downstream = "nowhere"
	_, err = NewTopology(basins, units, nil, nil)
	var verr *model.ValidationError
	if !errors.As(err, &verr) || verr.Entity != "g1" {
		t.Fatalf("expected unit validation error, got %v", err)
	}

	units[0].Downstream = "down"
	bad := map[string][]model.PerformanceSample{"g1": {{Height: 2, Flow: 1, Power: 1}, {Height: 1, Flow: 1, Power: 2}}}
	_, err = NewTopology(basins, units, bad, discretize.NewDiscretizer(discretize.Tolerance{Value: 0.1}, 0, 0, nil))
	if !errors.Is(err, model.ErrNonMonotonic) {
		t.Fatalf("expected non-monotonic samples to be rejected, got %v", err)
	}
}

func TestWindowBoundsUseQuotasAndDischarge(t *testing.T) {
	s, topo := newTestScheduler(t, 2, solver.NewStub(), nil)
	state := topo.InitialState(0)
	w := s.Windows()[0]
	quotas := []model.Quota{{Unit: "g1", Target: 50000}}
	b := s.windowBounds(w, state, quotas)
	if got := b["up"]; got[0] != 5e5-50000 || got[1] != 5e5+4000 {
		t.Fatalf("unexpected up bounds %v", got)
	}
	// downstream reach is at least the minimum volume share of rated flow
	minReach := 10 * 4 * 3600 * s.cfg.MinVolumeRatio
	if got := b["down"]; got[0] != 1e6 || got[1] != 1e6+math.Max(50000, minReach) {
		t.Fatalf("unexpected down bounds %v", got)
	}
}

func TestFirstStageProduced(t *testing.T) {
	topo := testTopology(t)
	cfg := DefaultConfig()
	cfg.FirstStageStep = 3
	series := testSeries(2)
	fs := NewFirstStage(topo, series, cfg, solver.NewStub(), nil)
	inst := fs.Instance()
	if inst.Steps != 3 || inst.StepSeconds != 3*3600 {
		t.Fatalf("unexpected coarse grid: %d steps of %gs", inst.Steps, inst.StepSeconds)
	}
	if inst.HasQuota() {
		t.Fatalf("first stage must not carry quotas")
	}
	if inst.Basins[0].Inflow[2] != 2000 {
		t.Fatalf("expected trailing coarse inflow of two steps, got %g", inst.Basins[0].Inflow[2])
	}
	produced, err := fs.Produced(context.Background())
	if err != nil {
		t.Fatalf("produced: %v", err)
	}
	g1 := produced["g1"]
	if len(g1) != series.Grid.Steps {
		t.Fatalf("expected %d fine steps, got %d", series.Grid.Steps, len(g1))
	}
	flow := inst.Units[0].Operating(inst.Basins[0].Start).Flow
	if math.Abs(g1[0]-flow*3600) > 1e-9 {
		t.Fatalf("expected %g m3 per step, got %g", flow*3600, g1[0])
	}

	stub := solver.NewStub()
	stub.Default = model.StatusInfeasible
	if _, err := NewFirstStage(topo, series, cfg, stub, nil).Produced(context.Background()); err == nil {
		t.Fatalf("expected infeasible first stage to fail")
	}
}

package scheduler

import (
	"math"

	"github.com/kilianp07/hydroflex/core/discretize"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/solver"
)

// windowBounds returns the (low, high) volume band each basin may reach
// during w. Inflowing quotas, never below the unit minimum reach, and
// natural discharge raise the upper bound; outflowing quotas lower the
// lower bound.
func (s *Scheduler) windowBounds(w model.Window, state model.SubHorizonState, quotas []model.Quota) map[string][2]float64 {
	seconds := float64(w.Len()) * s.series.Grid.Step.Seconds()
	out := make(map[string][2]float64, len(s.topo.Basins))
	for _, b := range s.topo.Basins {
		start := state.Volumes[b.ID]
		low, high := start, start
		for i, u := range s.topo.Units {
			q := math.Max(0, quotas[i].Target)
			switch wf := u.WaterFactor(b.ID); {
			case wf > 0:
				high += math.Max(q, u.RatedFlow*seconds*s.cfg.MinVolumeRatio)
			case wf < 0:
				low -= q
			}
		}
		high += sum(window(s.series.Discharge[b.ID], w))
		out[b.ID] = [2]float64{low, high}
	}
	return out
}

// localStates discretizes every basin around its carried volume.
func (s *Scheduler) localStates(bounds map[string][2]float64) (map[string][]model.State, map[string][]model.State, error) {
	basins := make(map[string][]model.State, len(s.topo.Basins))
	for _, b := range s.topo.Basins {
		lh := bounds[b.ID]
		states, err := discretize.WindowForBasin(b, s.topo.StateCounts[b.ID], lh[0], lh[1])
		if err != nil {
			return nil, nil, err
		}
		basins[b.ID] = states
	}
	return basins, s.topo.UnitStates(basins), nil
}

type buildInput struct {
	simIdx      int
	window      model.Window
	state       model.SubHorizonState
	basinStates map[string][]model.State
	unitStates  map[string][]model.State
}

// build assembles the solver instance of one sub-horizon.
func (s *Scheduler) build(in buildInput, quotas []model.Quota) *solver.Instance {
	inst := &solver.Instance{
		SimIdx:      in.simIdx,
		Steps:       in.window.Len(),
		StepSeconds: s.series.Grid.Step.Seconds(),
		Basins:      make([]solver.BasinParams, len(s.topo.Basins)),
		Units:       make([]solver.UnitParams, len(s.topo.Units)),
		MarketPrice: window(s.series.MarketPrice, in.window),
		Quotas:      quotas,
	}
	if s.cfg.WithAncillary {
		inst.AncillaryPrice = window(s.series.AncillaryPrice, in.window)
	}
	for i, b := range s.topo.Basins {
		start := in.state.Volumes[b.ID]
		lo, hi := b.VolumeMin, b.VolumeMax
		if states := in.basinStates[b.ID]; len(states) > 0 && b.HasCurve() {
			slo, shi := model.Span(states)
			lo, hi = math.Max(lo, slo), math.Min(hi, shi)
		}
		inst.Basins[i] = solver.BasinParams{
			ID:          b.ID,
			Start:       start,
			VolumeMin:   math.Min(lo, start),
			VolumeMax:   math.Max(hi, start),
			SpillFactor: b.SpillFactor,
			Inflow:      window(s.series.Discharge[b.ID], in.window),
			States:      in.basinStates[b.ID],
		}
	}
	for i, u := range s.topo.Units {
		inst.Units[i] = unitParams(s.topo, u, in.unitStates[u.ID])
	}
	if s.battery != nil {
		bp := *s.battery
		bp.StartSOC = in.state.BatterySOC
		inst.Battery = &bp
	}
	return inst
}

func unitParams(t *Topology, u model.HydraulicUnit, states []model.State) solver.UnitParams {
	return solver.UnitParams{
		ID:         u.ID,
		Kind:       u.Kind,
		Control:    u.Control,
		Upstream:   t.BasinIndex(u.Upstream),
		Downstream: t.BasinIndex(u.Downstream),
		RatedFlow:  u.RatedFlow,
		RatedPower: u.RatedPower,
		States:     states,
	}
}

package scheduler

import (
	"fmt"

	"github.com/kilianp07/hydroflex/core/discretize"
	"github.com/kilianp07/hydroflex/core/model"
)

// Topology holds the validated assets of a run together with everything
// derived from them once: unit operating points, state counts and the
// full-range discretization. It is read-only once built.
type Topology struct {
	Basins []model.Basin
	Units  []model.HydraulicUnit
	// Points are the unit performance samples against upstream volume.
	Points map[string][]discretize.OperatingPoint
	// StateCounts is the number of volume states per basin.
	StateCounts map[string]int
	// FullStates and FullUnitStates cover the whole volume curve.
	FullStates     map[string][]model.State
	FullUnitStates map[string][]model.State

	basinIdx map[string]int
}

// NewTopology validates the assets and discretizes them. Each basin gets
// its configured state count, or else the largest segment count of the
// performance curves of the units it feeds.
func NewTopology(basins []model.Basin, units []model.HydraulicUnit, samples map[string][]model.PerformanceSample, d *discretize.Discretizer) (*Topology, error) {
	if len(basins) == 0 {
		return nil, &model.ValidationError{Component: "topology", Reason: "no basin defined"}
	}
	t := &Topology{
		Basins:         basins,
		Units:          units,
		Points:         make(map[string][]discretize.OperatingPoint, len(units)),
		StateCounts:    make(map[string]int, len(basins)),
		FullStates:     make(map[string][]model.State, len(basins)),
		FullUnitStates: make(map[string][]model.State, len(units)),
		basinIdx:       make(map[string]int, len(basins)),
	}
	for i, b := range basins {
		if err := b.Validate(); err != nil {
			return nil, err
		}
		if _, dup := t.basinIdx[b.ID]; dup {
			return nil, &model.ValidationError{Component: "basin", Entity: b.ID, Reason: "duplicate id"}
		}
		t.basinIdx[b.ID] = i
		t.StateCounts[b.ID] = 1
	}
	seen := make(map[string]bool, len(units))
	segments := make(map[string]int)
	for _, u := range units {
		if err := u.Validate(); err != nil {
			return nil, err
		}
		if seen[u.ID] {
			return nil, &model.ValidationError{Component: "unit", Entity: u.ID, Reason: "duplicate id"}
		}
		seen[u.ID] = true
		for _, ref := range []string{u.Upstream, u.Downstream} {
			if _, ok := t.basinIdx[ref]; !ok {
				return nil, &model.ValidationError{Component: "unit", Entity: u.ID, Reason: fmt.Sprintf("unknown basin %q", ref)}
			}
		}
		s := samples[u.ID]
		if len(s) == 0 {
			continue
		}
		if d != nil {
			n, err := d.StateCount(u.ID, s)
			if err != nil {
				return nil, err
			}
			segments[u.Upstream] = max(segments[u.Upstream], n)
		}
		t.Points[u.ID] = discretize.ToVolume(basins[t.basinIdx[u.Upstream]], s)
	}
	for _, b := range basins {
		switch {
		case !b.HasCurve():
			t.StateCounts[b.ID] = 1
		case b.StateCount > 0:
			t.StateCounts[b.ID] = b.StateCount
		case segments[b.ID] > 0:
			t.StateCounts[b.ID] = segments[b.ID]
		}
		states, err := discretize.ForBasin(b, t.StateCounts[b.ID])
		if err != nil {
			return nil, err
		}
		t.FullStates[b.ID] = states
	}
	t.FullUnitStates = t.UnitStates(t.FullStates)
	return t, nil
}

// BasinIndex returns the position of the basin or -1.
func (t *Topology) BasinIndex(id string) int {
	if i, ok := t.basinIdx[id]; ok {
		return i
	}
	return -1
}

// Basin returns the basin with the given id.
func (t *Topology) Basin(id string) (model.Basin, bool) {
	i, ok := t.basinIdx[id]
	if !ok {
		return model.Basin{}, false
	}
	return t.Basins[i], true
}

// UnitStates derives the unit states aligned on the given basin states.
func (t *Topology) UnitStates(basinStates map[string][]model.State) map[string][]model.State {
	out := make(map[string][]model.State, len(t.Units))
	for _, u := range t.Units {
		out[u.ID] = discretize.UnitStates(u, t.Points[u.ID], basinStates[u.Upstream])
	}
	return out
}

// InitialState builds the carried state of sub-horizon 0 from the basin
// start volumes.
func (t *Topology) InitialState(batterySOC float64) model.SubHorizonState {
	s := model.SubHorizonState{
		Volumes:    make(map[string]float64, len(t.Basins)),
		BatterySOC: batterySOC,
		Shortage:   make(map[string]float64, len(t.Units)),
		Overage:    make(map[string]float64, len(t.Units)),
	}
	for _, b := range t.Basins {
		s.Volumes[b.ID] = b.StartVolume
	}
	for _, u := range t.Units {
		s.Shortage[u.ID] = 0
		s.Overage[u.ID] = 0
	}
	return s
}

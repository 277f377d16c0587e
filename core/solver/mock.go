package solver

import (
	"context"
	"math"
	"sync"

	"github.com/kilianp07/hydroflex/core/model"
)

// Call records one invocation of Stub.
type Call struct {
	SimIdx  int
	Quotas  []model.Quota
	Starts  []float64
	Options Options
}

// Stub is a deterministic Solver used in tests. Every unit runs at the
// constant flow that meets its quota, capped by the operating state, and
// basins integrate the resulting flows. Script overrides the status of
// successive calls for a sub-horizon; Default applies otherwise.
type Stub struct {
	mu      sync.Mutex
	Script  map[int][]Status
	Default Status
	// Err, when set, is returned by every call.
	Err   error
	calls []Call
}

// NewStub returns a Stub answering optimal unless scripted.
func NewStub() *Stub { return &Stub{Script: map[int][]Status{}} }

// Calls returns a copy of the recorded calls.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

func (s *Stub) Solve(_ context.Context, inst *Instance, opts Options) (Result, error) {
	s.mu.Lock()
	starts := make([]float64, len(inst.Basins))
	for i, b := range inst.Basins {
		starts[i] = b.Start
	}
	s.calls = append(s.calls, Call{SimIdx: inst.SimIdx, Quotas: append([]model.Quota(nil), inst.Quotas...), Starts: starts, Options: opts})
	status := s.Default
	if seq := s.Script[inst.SimIdx]; len(seq) > 0 {
		status = seq[0]
		s.Script[inst.SimIdx] = seq[1:]
	}
	err := s.Err
	s.mu.Unlock()
	if err != nil {
		return Result{}, err
	}
	if !status.Usable() {
		return Result{Status: status}, nil
	}
	vars, obj := simulate(inst)
	return Result{Status: status, Objective: obj, Variables: vars}, nil
}

func simulate(inst *Instance) (model.Variables, float64) {
	vars := model.Variables{}
	dt := inst.StepSeconds
	steps := float64(inst.Steps)
	flows := make([]float64, len(inst.Units))
	for h, u := range inst.Units {
		limit := u.Operating(inst.Basins[u.Upstream].Start).Flow
		f := limit
		if inst.HasQuota() {
			target := inst.Quotas[h].Target
			short, over := 0.0, 0.0
			f = target / (steps * dt)
			switch {
			case f > limit:
				f = limit
				short = target - f*steps*dt
			case f < 0:
				f = 0
				over = -target
			}
			vars.Set(model.VarShortage, Key{h, 0}, short)
			vars.Set(model.VarOverage, Key{h, 0}, over)
		}
		flows[h] = f
	}
	obj := 0.0
	volumes := make([]float64, len(inst.Basins))
	for b, basin := range inst.Basins {
		volumes[b] = basin.Start
	}
	for t := 0; t < inst.Steps; t++ {
		for h, u := range inst.Units {
			alpha := u.Operating(inst.Basins[u.Upstream].Start).Alpha
			p := alpha * flows[h]
			vars.Set(model.VarFlow, Key{t, h}, flows[h])
			vars.Set(model.VarPower, Key{t, h}, p)
			if t < len(inst.MarketPrice) {
				obj += inst.MarketPrice[t] * p * inst.StepHours()
			}
		}
		for b, basin := range inst.Basins {
			v := volumes[b]
			if t < len(basin.Inflow) {
				v += basin.Inflow[t]
			}
			for h := range inst.Units {
				v += inst.WaterFactor(h, b) * flows[h] * dt
			}
			spill := math.Max(0, v-basin.VolumeMax)
			v = math.Max(basin.VolumeMin, v-spill)
			volumes[b] = v
			vars.Set(model.VarBasinVolume, Key{t, b}, v)
			vars.Set(model.VarSpilledVolume, Key{t, b}, spill)
		}
		if inst.Battery != nil {
			vars.Set(model.VarBatteryCharge, Key{t, 0}, 0)
			vars.Set(model.VarBatteryDischarge, Key{t, 0}, 0)
		}
	}
	for b := range inst.Basins {
		vars.Set(model.VarEndBasinVolume, Key{b, 0}, volumes[b])
	}
	if inst.Battery != nil {
		vars.Set(model.VarEndSOCOverage, Key{}, 0)
		vars.Set(model.VarEndSOCShortage, Key{}, 0)
	}
	return vars, obj
}

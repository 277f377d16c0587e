// Package quota turns a coarse production plan into per sub-horizon volume
// targets and rolls deviations forward from one sub-horizon to the next.
package quota

import (
	"fmt"
	"math"

	"github.com/kilianp07/hydroflex/core/model"
)

// DefaultCarryDamping divides carried deviations before they widen buffers.
const DefaultCarryDamping = 3

// NegativeTargetMargin scales the overage buffer floor of a negative target.
const NegativeTargetMargin = 1.1

// Plan holds the base quota of every unit for every sub-horizon.
type Plan struct {
	Partition int
	Quotas    map[string][]float64
}

// Aggregate sums the produced volume series of each unit over consecutive
// slices of partition steps. The last slice may be shorter.
func Aggregate(produced map[string][]float64, partition int) (Plan, error) {
	if partition <= 0 {
		return Plan{}, &model.ValidationError{Component: "quota", Reason: "partition size must be positive"}
	}
	length := -1
	plan := Plan{Partition: partition, Quotas: make(map[string][]float64, len(produced))}
	for unit, series := range produced {
		if length >= 0 && len(series) != length {
			return Plan{}, &model.ValidationError{Component: "quota", Entity: unit,
				Reason: fmt.Sprintf("produced volume has %d steps, want %d", len(series), length)}
		}
		length = len(series)
		var sums []float64
		for start := 0; start < len(series); start += partition {
			end := min(start+partition, len(series))
			s := 0.0
			for _, v := range series[start:end] {
				s += v
			}
			sums = append(sums, s)
		}
		plan.Quotas[unit] = sums
	}
	return plan, nil
}

// Len returns the number of sub-horizons covered by the plan.
func (p Plan) Len() int {
	for _, q := range p.Quotas {
		return len(q)
	}
	return 0
}

// Base returns the planned volume of unit for sub-horizon k, 0 when unknown.
func (p Plan) Base(unit string, k int) float64 {
	q := p.Quotas[unit]
	if k < 0 || k >= len(q) {
		return 0
	}
	return q[k]
}

// Config parameterizes a Reconciler.
type Config struct {
	// HorizonSeconds is the duration of one sub-horizon.
	HorizonSeconds float64
	// VolumeBufferRatio scales rated flow times horizon into the base buffer.
	VolumeBufferRatio float64
	// CarryDamping defaults to DefaultCarryDamping.
	CarryDamping float64
}

// Reconciler derives quota targets for each sub-horizon.
type Reconciler struct {
	plan   Plan
	units  []model.HydraulicUnit
	prices UnpoweredPrices
	cfg    Config
}

// NewReconciler builds a Reconciler over the units in their index order.
func NewReconciler(plan Plan, units []model.HydraulicUnit, prices UnpoweredPrices, cfg Config) *Reconciler {
	if cfg.CarryDamping <= 0 {
		cfg.CarryDamping = DefaultCarryDamping
	}
	return &Reconciler{plan: plan, units: units, prices: prices, cfg: cfg}
}

// Plan returns the underlying base plan.
func (r *Reconciler) Plan() Plan { return r.plan }

// BaseBuffer is the flexible deviation allowed to unit before any carry.
func (r *Reconciler) BaseBuffer(u model.HydraulicUnit) float64 {
	return u.RatedFlow * r.cfg.HorizonSeconds * r.cfg.VolumeBufferRatio
}

// Targets returns the quota of every unit for sub-horizon k. The carried
// shortage is added to the target and the carried overage subtracted, and
// each widens its own buffer by a damped share. unitStates supplies the
// alpha range used for penalties.
func (r *Reconciler) Targets(k int, carry model.SubHorizonState, unitStates map[string][]model.State) []model.Quota {
	out := make([]model.Quota, len(r.units))
	for i, u := range r.units {
		short := carry.Shortage[u.ID]
		over := carry.Overage[u.ID]
		buf := r.BaseBuffer(u)
		amin, amax := alphaRange(u, unitStates[u.ID])
		sp, op := r.prices.Factors(amin, amax)
		target := r.plan.Base(u.ID, k) + short - over
		// A negative target can only be met through overage.
		overBuf := math.Max(buf+over/r.cfg.CarryDamping, -NegativeTargetMargin*target)
		out[i] = model.Quota{
			Unit:            u.ID,
			Target:          target,
			ShortageBuffer:  buf + short/r.cfg.CarryDamping,
			OverageBuffer:   overBuf,
			ShortagePenalty: sp,
			OveragePenalty:  op,
		}
	}
	return out
}

// Widen returns a copy of quotas with both buffers multiplied by factor.
func Widen(quotas []model.Quota, factor float64) []model.Quota {
	out := make([]model.Quota, len(quotas))
	for i, q := range quotas {
		q.ShortageBuffer *= factor
		q.OverageBuffer *= factor
		out[i] = q
	}
	return out
}

// Carry reads the shortage and overage reported by the solver for each unit.
// Variables are indexed by the unit position in units.
func Carry(vars model.Variables, units []model.HydraulicUnit) (shortage, overage map[string]float64) {
	shortage = make(map[string]float64, len(units))
	overage = make(map[string]float64, len(units))
	for i, u := range units {
		shortage[u.ID] = math.Max(0, vars.Value(model.VarShortage, model.Key{i, 0}))
		overage[u.ID] = math.Max(0, vars.Value(model.VarOverage, model.Key{i, 0}))
	}
	return shortage, overage
}

func alphaRange(u model.HydraulicUnit, states []model.State) (float64, float64) {
	if len(states) == 0 {
		a := 0.0
		if u.RatedFlow > 0 {
			a = u.RatedPower / u.RatedFlow
		}
		if u.Kind == model.Pump {
			a = -a
		}
		return a, a
	}
	lo, hi := states[0].Alpha, states[0].Alpha
	for _, s := range states[1:] {
		lo = math.Min(lo, s.Alpha)
		hi = math.Max(hi, s.Alpha)
	}
	return lo, hi
}

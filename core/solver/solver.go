// Package solver defines the contract between the scheduler and the
// optimization backend. A backend receives a fully assembled Instance and
// answers with a status and the values of the variables the scheduler reads
// back.
package solver

import (
	"context"
	"time"

	"github.com/kilianp07/hydroflex/core/model"
)

// Status aliases the solve status of the domain model.
type Status = model.SolveStatus

// Key indexes a variable.
type Key = model.Key

// Options are passed through to the backend untouched.
type Options struct {
	TimeLimit time.Duration `json:"time_limit"`
	Verbose   bool          `json:"verbose"`
}

// Result is the backend answer. Variables is only meaningful when
// Status.Usable() holds.
type Result struct {
	Status    Status
	Objective float64
	Variables model.Variables
}

// Solver solves a single model instance. The call blocks; implementations
// are not required to honour ctx once solving has started.
type Solver interface {
	Solve(ctx context.Context, inst *Instance, opts Options) (Result, error)
}

// SolverFunc adapts a function to the Solver interface.
type SolverFunc func(ctx context.Context, inst *Instance, opts Options) (Result, error)

func (f SolverFunc) Solve(ctx context.Context, inst *Instance, opts Options) (Result, error) {
	return f(ctx, inst, opts)
}

// BasinParams describes one basin inside an instance.
type BasinParams struct {
	ID          string
	Start       float64
	VolumeMin   float64
	VolumeMax   float64
	SpillFactor float64
	// Inflow is the discharge volume entering the basin at each step.
	Inflow []float64
	// States is the local discretization of the basin volume.
	States []model.State
}

// UnitParams describes one hydraulic unit inside an instance. Upstream and
// Downstream index Instance.Basins.
type UnitParams struct {
	ID         string
	Kind       model.UnitKind
	Control    model.Control
	Upstream   int
	Downstream int
	RatedFlow  float64
	RatedPower float64
	// States carry the flow and alpha of the unit per upstream basin state.
	States []model.State
}

// Operating returns the unit state containing the upstream volume v. Units
// without states fall back to their ratings.
func (u UnitParams) Operating(v float64) model.State {
	if i := model.Locate(u.States, v); i >= 0 {
		return u.States[i]
	}
	alpha := 0.0
	if u.RatedFlow > 0 {
		alpha = u.RatedPower / u.RatedFlow
	}
	if u.Kind == model.Pump {
		alpha = -alpha
	}
	return model.State{Unit: u.ID, Flow: u.RatedFlow, Alpha: alpha}
}

// Sign returns the pump/turbine role applied to water balances.
func (u UnitParams) Sign() float64 {
	if u.Kind == model.Pump {
		return -1
	}
	return 1
}

// BatteryParams describes the optional battery.
type BatteryParams struct {
	CapacityMWh float64
	PowerMW     float64
	Efficiency  float64
	StartSOC    float64
}

// Instance is a solver-ready model of one sub-horizon.
type Instance struct {
	SimIdx      int
	Steps       int
	StepSeconds float64
	Basins      []BasinParams
	Units       []UnitParams
	// MarketPrice and AncillaryPrice are aligned on Steps. AncillaryPrice
	// may be nil.
	MarketPrice    []float64
	AncillaryPrice []float64
	Battery        *BatteryParams
	// Quotas is aligned on Units. It is empty for unconstrained first
	// stage instances.
	Quotas []model.Quota
}

// HasQuota reports whether produced volumes are tied to quotas.
func (inst *Instance) HasQuota() bool {
	return len(inst.Quotas) == len(inst.Units) && len(inst.Quotas) > 0
}

// StepHours is the duration of a step in hours.
func (inst *Instance) StepHours() float64 { return inst.StepSeconds / 3600 }

// UnitIndex returns the position of the unit with the given ID or -1.
func (inst *Instance) UnitIndex(id string) int {
	for i, u := range inst.Units {
		if u.ID == id {
			return i
		}
	}
	return -1
}

// WaterFactor returns the sign of unit u's flow in the balance of basin b.
func (inst *Instance) WaterFactor(u, b int) float64 {
	unit := inst.Units[u]
	switch b {
	case unit.Upstream:
		return -unit.Sign()
	case unit.Downstream:
		return unit.Sign()
	default:
		return 0
	}
}

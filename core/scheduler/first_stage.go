package scheduler

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/hydroflex/core/logger"
	"github.com/kilianp07/hydroflex/core/model"
	"github.com/kilianp07/hydroflex/core/solver"
)

// FirstStage solves the whole horizon at a coarse resolution, on the
// full-range states, to plan how much water each unit should move.
type FirstStage struct {
	topo   *Topology
	series Series
	cfg    Config
	solver solver.Solver
	log    logger.Logger
}

// NewFirstStage returns a first-stage planner.
func NewFirstStage(topo *Topology, series Series, cfg Config, slv solver.Solver, log logger.Logger) *FirstStage {
	return &FirstStage{topo: topo, series: series, cfg: cfg.withDefaults(), solver: slv, log: logger.OrNop(log)}
}

// Instance builds the coarse instance. Prices are averaged and discharge
// summed over each group of FirstStageStep fine steps.
func (f *FirstStage) Instance() *solver.Instance {
	factor := f.cfg.FirstStageStep
	fine := f.series.Grid.Steps
	coarse := (fine + factor - 1) / factor
	inst := &solver.Instance{
		SimIdx:      -1,
		Steps:       coarse,
		StepSeconds: float64(factor) * f.series.Grid.Step.Seconds(),
		Basins:      make([]solver.BasinParams, len(f.topo.Basins)),
		Units:       make([]solver.UnitParams, len(f.topo.Units)),
		MarketPrice: make([]float64, coarse),
	}
	for c := 0; c < coarse; c++ {
		lo, hi := c*factor, min((c+1)*factor, fine)
		inst.MarketPrice[c] = stat.Mean(f.series.MarketPrice[lo:hi], nil)
	}
	if f.cfg.WithAncillary && f.series.AncillaryPrice != nil {
		inst.AncillaryPrice = make([]float64, coarse)
		for c := range inst.AncillaryPrice {
			lo, hi := c*factor, min((c+1)*factor, fine)
			inst.AncillaryPrice[c] = stat.Mean(f.series.AncillaryPrice[lo:hi], nil)
		}
	}
	for i, b := range f.topo.Basins {
		var inflow []float64
		if d := f.series.Discharge[b.ID]; d != nil {
			inflow = make([]float64, coarse)
			for c := range inflow {
				inflow[c] = sum(d[c*factor : min((c+1)*factor, fine)])
			}
		}
		inst.Basins[i] = solver.BasinParams{
			ID:          b.ID,
			Start:       b.StartVolume,
			VolumeMin:   math.Min(b.VolumeMin, b.StartVolume),
			VolumeMax:   math.Max(b.VolumeMax, b.StartVolume),
			SpillFactor: b.SpillFactor,
			Inflow:      inflow,
			States:      f.topo.FullStates[b.ID],
		}
	}
	for i, u := range f.topo.Units {
		inst.Units[i] = unitParams(f.topo, u, f.topo.FullUnitStates[u.ID])
	}
	return inst
}

// Produced solves the coarse instance and spreads each unit's coarse flow
// back onto the fine grid as a volume per fine step.
func (f *FirstStage) Produced(ctx context.Context) (map[string][]float64, error) {
	inst := f.Instance()
	res, err := f.solver.Solve(ctx, inst, f.cfg.Solver)
	if err != nil {
		return nil, fmt.Errorf("first stage: %w", err)
	}
	if !res.Status.Usable() {
		return nil, fmt.Errorf("first stage: solver returned %s", res.Status)
	}
	if res.Status == model.StatusAborted {
		f.log.Warnf("first stage aborted by the solver, using its incumbent")
	}
	seconds := f.series.Grid.Step.Seconds()
	out := make(map[string][]float64, len(f.topo.Units))
	for h, u := range f.topo.Units {
		series := make([]float64, f.series.Grid.Steps)
		for t := range series {
			series[t] = res.Variables.Value(model.VarFlow, model.Key{t / f.cfg.FirstStageStep, h}) * seconds
		}
		out[u.ID] = series
	}
	f.log.Infof("first stage planned %d units over %d coarse steps (objective %.2f)", len(out), inst.Steps, res.Objective)
	return out, nil
}

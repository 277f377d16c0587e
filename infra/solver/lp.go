// Package solver provides the linear-programming backend of the scheduler,
// built on gonum's simplex implementation.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"github.com/kilianp07/hydroflex/core/logger"
	"github.com/kilianp07/hydroflex/core/model"
	coresolver "github.com/kilianp07/hydroflex/core/solver"
)

// DefaultTolerance is passed to lp.Simplex.
const DefaultTolerance = 1e-7

// simplex points to the function used to solve the standard form LP. Tests
// override it to simulate solver failures.
var simplex = lp.Simplex

// LPSolver solves instances as a linear relaxation. Each unit runs on the
// state containing its upstream start volume; discrete units are relaxed to
// continuous flow.
type LPSolver struct {
	Tolerance float64
	log       logger.Logger
	now       func() time.Time
}

// NewLPSolver returns an LPSolver with the default tolerance.
func NewLPSolver(log logger.Logger) *LPSolver {
	return &LPSolver{Tolerance: DefaultTolerance, log: logger.OrNop(log), now: time.Now}
}

// Solve implements solver.Solver. Infeasible and unbounded programs are
// reported through the status; numerical failures are returned as errors.
// A solve that outlives opts.TimeLimit is reported as aborted.
func (s *LPSolver) Solve(ctx context.Context, inst *coresolver.Instance, opts coresolver.Options) (coresolver.Result, error) {
	if err := ctx.Err(); err != nil {
		return coresolver.Result{}, err
	}
	if inst.Steps <= 0 || inst.StepSeconds <= 0 {
		return coresolver.Result{}, fmt.Errorf("instance %d has no time steps", inst.SimIdx)
	}
	began := s.now()
	p := formulate(inst)
	x, obj, err := p.solve(s.Tolerance)
	elapsed := s.now().Sub(began)
	if opts.Verbose {
		s.log.Debugw("lp solved", map[string]any{
			"sim_idx":  inst.SimIdx,
			"vars":     len(p.c),
			"ineq":     len(p.h),
			"eq":       len(p.b),
			"elapsed":  elapsed.String(),
			"feasible": err == nil,
		})
	}
	switch {
	case errors.Is(err, lp.ErrInfeasible):
		return coresolver.Result{Status: model.StatusInfeasible}, nil
	case errors.Is(err, lp.ErrUnbounded):
		return coresolver.Result{Status: model.StatusUnbounded}, nil
	case err != nil:
		return coresolver.Result{}, fmt.Errorf("simplex on instance %d: %w", inst.SimIdx, err)
	}
	status := model.StatusOptimal
	if opts.TimeLimit > 0 && elapsed > opts.TimeLimit {
		status = model.StatusAborted
	}
	return coresolver.Result{Status: status, Objective: -obj, Variables: p.extract(x)}, nil
}

// program is an LP in general form: minimize cᵀx subject to Gx ≤ h and
// Ax = b. Every variable carries explicit bound rows.
type program struct {
	inst *coresolver.Instance
	c    []float64
	g    []map[int]float64
	h    []float64
	a    []map[int]float64
	b    []float64

	flow, spill, short, over, charge, discharge, reserve int
	battery, ancillary                                   bool
	alpha                                                []float64
}

func (p *program) block(n int) int {
	start := len(p.c)
	p.c = append(p.c, make([]float64, n)...)
	return start
}

func (p *program) leq(row map[int]float64, rhs float64) {
	p.g = append(p.g, row)
	p.h = append(p.h, rhs)
}

func (p *program) eq(row map[int]float64, rhs float64) {
	p.a = append(p.a, row)
	p.b = append(p.b, rhs)
}

func (p *program) bound(v int, lo, hi float64) {
	p.leq(map[int]float64{v: -1}, -lo)
	if !math.IsInf(hi, 1) {
		p.leq(map[int]float64{v: 1}, hi)
	}
}

func (p *program) f(t, h int) int  { return p.flow + t*len(p.inst.Units) + h }
func (p *program) sp(t, b int) int { return p.spill + t*len(p.inst.Basins) + b }

// formulate builds the program. Volumes are expressed in m³/s per step so
// that water balance rows stay well scaled: flows, spill and quota
// deviations all share that unit and are multiplied by the step duration
// when read back.
func formulate(inst *coresolver.Instance) *program {
	p := &program{inst: inst}
	T, H, B := inst.Steps, len(inst.Units), len(inst.Basins)
	dt := inst.StepSeconds
	dtH := inst.StepHours()

	p.flow = p.block(T * H)
	p.spill = p.block(T * B)
	p.alpha = make([]float64, H)
	caps := make([]float64, H)
	for h, u := range inst.Units {
		op := u.Operating(inst.Basins[u.Upstream].Start)
		p.alpha[h] = op.Alpha
		caps[h] = op.Flow
	}

	for t := 0; t < T; t++ {
		price := at(inst.MarketPrice, t)
		for h := range inst.Units {
			v := p.f(t, h)
			p.c[v] = -price * dtH * p.alpha[h]
			p.bound(v, 0, caps[h])
		}
		for b, basin := range inst.Basins {
			v := p.sp(t, b)
			p.c[v] = basin.SpillFactor * dt
			p.bound(v, 0, math.Inf(1))
		}
	}

	// cumulative water balance per basin
	for b, basin := range inst.Basins {
		inflow := 0.0
		row := map[int]float64{}
		for t := 0; t < T; t++ {
			inflow += at(basin.Inflow, t)
			for h := range inst.Units {
				if wf := inst.WaterFactor(h, b); wf != 0 {
					row[p.f(t, h)] = wf
				}
			}
			row[p.sp(t, b)] = -1
			upper := (basin.VolumeMax - basin.Start - inflow) / dt
			lower := (basin.Start + inflow - basin.VolumeMin) / dt
			p.leq(clone(row), upper)
			p.leq(negate(row), lower)
		}
	}

	if inst.HasQuota() {
		p.short = p.block(H)
		p.over = p.block(H)
		for h, q := range inst.Quotas {
			p.c[p.short+h] = q.ShortagePenalty * dt
			p.c[p.over+h] = q.OveragePenalty * dt
			p.bound(p.short+h, 0, math.Max(0, q.ShortageBuffer)/dt)
			p.bound(p.over+h, 0, math.Max(0, q.OverageBuffer)/dt)
			row := map[int]float64{p.short + h: 1, p.over + h: -1}
			for t := 0; t < T; t++ {
				row[p.f(t, h)] = 1
			}
			p.eq(row, q.Target/dt)
		}
	}

	if bat := inst.Battery; bat != nil && bat.PowerMW > 0 {
		eff := bat.Efficiency
		if eff <= 0 || eff > 1 {
			eff = 1
		}
		p.battery = true
		p.charge = p.block(T)
		p.discharge = p.block(T)
		row := map[int]float64{}
		for t := 0; t < T; t++ {
			price := at(inst.MarketPrice, t)
			p.c[p.charge+t] = price * dtH
			p.c[p.discharge+t] = -price * dtH
			p.bound(p.charge+t, 0, bat.PowerMW)
			p.bound(p.discharge+t, 0, bat.PowerMW)
			row[p.charge+t] = eff * dtH
			row[p.discharge+t] = -dtH / eff
			p.leq(clone(row), bat.CapacityMWh-bat.StartSOC)
			p.leq(negate(row), bat.StartSOC)
		}
	}

	if inst.AncillaryPrice != nil {
		headroom := 0.0
		for _, u := range inst.Units {
			if u.Kind == model.Turbine {
				headroom += u.RatedPower
			}
		}
		if headroom > 0 {
			p.ancillary = true
			p.reserve = p.block(T)
			for t := 0; t < T; t++ {
				v := p.reserve + t
				p.c[v] = -at(inst.AncillaryPrice, t) * dtH
				p.bound(v, 0, headroom)
				row := map[int]float64{v: 1}
				for h, u := range inst.Units {
					if u.Kind == model.Turbine && p.alpha[h] > 0 {
						row[p.f(t, h)] = p.alpha[h]
					}
				}
				p.leq(row, headroom)
			}
		}
	}
	return p
}

// solve converts the program to standard form, runs the simplex and maps
// the solution back onto the general form variables.
func (p *program) solve(tol float64) ([]float64, float64, error) {
	n := len(p.c)
	g := mat.NewDense(len(p.g), n, nil)
	for i, row := range p.g {
		for j, v := range row {
			g.Set(i, j, v)
		}
	}
	var a mat.Matrix
	if len(p.a) > 0 {
		d := mat.NewDense(len(p.a), n, nil)
		for i, row := range p.a {
			for j, v := range row {
				d.Set(i, j, v)
			}
		}
		a = d
	}
	cStd, aStd, bStd := lp.Convert(p.c, g, p.h, a, p.b)
	rows, cols := aStd.Dims()
	for i := 0; i < rows; i++ {
		if bStd[i] >= 0 {
			continue
		}
		bStd[i] = -bStd[i]
		for j := 0; j < cols; j++ {
			aStd.Set(i, j, -aStd.At(i, j))
		}
	}
	opt, xStd, err := simplex(cStd, aStd, bStd, tol, nil)
	if err != nil {
		return nil, 0, err
	}
	x := make([]float64, n)
	for i := range x {
		x[i] = xStd[i] - xStd[n+i]
	}
	return x, opt, nil
}

// extract reads the solution back into named variables.
func (p *program) extract(x []float64) model.Variables {
	inst := p.inst
	vars := model.Variables{}
	dt := inst.StepSeconds
	for b, basin := range inst.Basins {
		v := basin.Start
		for t := 0; t < inst.Steps; t++ {
			v += at(basin.Inflow, t)
			for h := range inst.Units {
				v += inst.WaterFactor(h, b) * x[p.f(t, h)] * dt
			}
			spilled := math.Max(0, x[p.sp(t, b)]) * dt
			v -= spilled
			vars.Set(model.VarBasinVolume, model.Key{t, b}, v)
			vars.Set(model.VarSpilledVolume, model.Key{t, b}, spilled)
		}
		vars.Set(model.VarEndBasinVolume, model.Key{b, 0}, v)
	}
	for t := 0; t < inst.Steps; t++ {
		for h := range inst.Units {
			f := math.Max(0, x[p.f(t, h)])
			vars.Set(model.VarFlow, model.Key{t, h}, f)
			vars.Set(model.VarPower, model.Key{t, h}, f*p.alpha[h])
		}
	}
	if inst.HasQuota() {
		for h := range inst.Units {
			vars.Set(model.VarShortage, model.Key{h, 0}, math.Max(0, x[p.short+h])*dt)
			vars.Set(model.VarOverage, model.Key{h, 0}, math.Max(0, x[p.over+h])*dt)
		}
	}
	if bat := inst.Battery; bat != nil {
		delta := 0.0
		if p.battery {
			eff := bat.Efficiency
			if eff <= 0 || eff > 1 {
				eff = 1
			}
			for t := 0; t < inst.Steps; t++ {
				ch := math.Max(0, x[p.charge+t])
				dis := math.Max(0, x[p.discharge+t])
				vars.Set(model.VarBatteryCharge, model.Key{t, 0}, ch)
				vars.Set(model.VarBatteryDischarge, model.Key{t, 0}, dis)
				delta += (ch*eff - dis/eff) * inst.StepHours()
			}
		}
		vars.Set(model.VarEndSOCOverage, model.Key{}, math.Max(0, delta))
		vars.Set(model.VarEndSOCShortage, model.Key{}, math.Max(0, -delta))
	}
	if p.ancillary {
		for t := 0; t < inst.Steps; t++ {
			vars.Set(model.VarAncillary, model.Key{t, 0}, math.Max(0, x[p.reserve+t]))
		}
	}
	return vars
}

func at(v []float64, t int) float64 {
	if t < len(v) {
		return v[t]
	}
	return 0
}

func clone(m map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func negate(m map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = -v
	}
	return out
}

package discretize

import (
	"fmt"
	"math"

	"github.com/kilianp07/hydroflex/core/logger"
	"github.com/kilianp07/hydroflex/core/model"
)

// DefaultWarnThreshold is the breakpoint count above which a warning is logged.
const DefaultWarnThreshold = 10

const eps = 1e-12

// Tolerance bounds the interpolation error. With Relative set, the bound at
// a sample is Value times the magnitude of the sample itself.
type Tolerance struct {
	Value    float64 `json:"value"`
	Relative bool    `json:"relative"`
}

func (t Tolerance) at(y float64) float64 {
	if t.Relative {
		return t.Value * math.Abs(y)
	}
	return t.Value
}

// BreakpointOptions tunes the refinement loop.
type BreakpointOptions struct {
	// MaxBreakpoints caps the result size. Zero means no cap.
	MaxBreakpoints int
	// WarnThreshold defaults to DefaultWarnThreshold when zero.
	WarnThreshold int
	Logger        logger.Logger
	// Name identifies the curve in log messages.
	Name string
}

// Breakpoints returns the indices of the smallest breakpoint set such that
// linear interpolation through them reproduces every column of ys within tol.
// Samples are refined greedily starting from the two endpoints; the sample
// with the largest violation is added first, ties going to the earliest index.
func Breakpoints(x []float64, ys [][]float64, tol Tolerance, opts BreakpointOptions) ([]int, error) {
	if err := validateCurve(opts.Name, x, ys); err != nil {
		return nil, err
	}
	if tol.Value < 0 || math.IsNaN(tol.Value) {
		return nil, &model.ValidationError{Component: "discretizer", Entity: opts.Name, Reason: "tolerance must be non-negative"}
	}
	n := len(x)
	if n == 1 {
		return []int{0}, nil
	}
	selected := []int{0, n - 1}
	for opts.MaxBreakpoints <= 0 || len(selected) < opts.MaxBreakpoints {
		worst, at := 0.0, -1
		seg := 0
		for i := 1; i < n-1; i++ {
			for selected[seg+1] < i {
				seg++
			}
			if selected[seg+1] == i || selected[seg] == i {
				continue
			}
			v := violation(x, ys, tol, selected[seg], selected[seg+1], i)
			if v > worst+eps {
				worst, at = v, i
			}
		}
		if at < 0 {
			break
		}
		selected = insertSorted(selected, at)
	}
	threshold := opts.WarnThreshold
	if threshold <= 0 {
		threshold = DefaultWarnThreshold
	}
	if len(selected) > threshold {
		logger.OrNop(opts.Logger).Warnf("curve %s needs %d breakpoints (threshold %d)", opts.Name, len(selected), threshold)
	}
	return selected, nil
}

// Interpolate replays the breakpoints idx over every sample of x and returns
// the interpolated columns.
func Interpolate(x []float64, ys [][]float64, idx []int) [][]float64 {
	out := make([][]float64, len(ys))
	for c := range ys {
		out[c] = make([]float64, len(x))
	}
	if len(idx) == 0 {
		return out
	}
	seg := 0
	for i := range x {
		for seg < len(idx)-2 && idx[seg+1] < i {
			seg++
		}
		for c, y := range ys {
			if len(idx) == 1 {
				out[c][i] = y[idx[0]]
				continue
			}
			out[c][i] = lerp(x, y, idx[seg], idx[seg+1], i)
		}
	}
	return out
}

// MaxError returns the largest absolute interpolation error over all columns.
func MaxError(x []float64, ys [][]float64, idx []int) float64 {
	approx := Interpolate(x, ys, idx)
	worst := 0.0
	for c, y := range ys {
		for i := range y {
			if d := math.Abs(y[i] - approx[c][i]); d > worst {
				worst = d
			}
		}
	}
	return worst
}

func violation(x []float64, ys [][]float64, tol Tolerance, a, b, i int) float64 {
	worst := 0.0
	for _, y := range ys {
		excess := math.Abs(y[i]-lerp(x, y, a, b, i)) - tol.at(y[i])
		if excess > worst {
			worst = excess
		}
	}
	return worst
}

// lerp interpolates column y at sample i between samples a and b. Equal
// abscissas fall back to index spacing.
func lerp(x, y []float64, a, b, i int) float64 {
	if a == b {
		return y[a]
	}
	var frac float64
	if dx := x[b] - x[a]; dx != 0 {
		frac = (x[i] - x[a]) / dx
	} else {
		frac = float64(i-a) / float64(b-a)
	}
	return y[a] + frac*(y[b]-y[a])
}

func insertSorted(s []int, v int) []int {
	pos := len(s)
	for i, e := range s {
		if e > v {
			pos = i
			break
		}
	}
	s = append(s, 0)
	copy(s[pos+1:], s[pos:])
	s[pos] = v
	return s
}

func validateCurve(name string, x []float64, ys [][]float64) error {
	if len(x) == 0 {
		return &model.ValidationError{Component: "discretizer", Entity: name, Reason: "curve has no samples", Err: model.ErrEmptyCurve}
	}
	for c, y := range ys {
		if len(y) != len(x) {
			return &model.ValidationError{Component: "discretizer", Entity: name,
				Reason: fmt.Sprintf("column %d has %d samples, want %d", c, len(y), len(x))}
		}
	}
	for i := 1; i < len(x); i++ {
		if x[i] < x[i-1] || math.IsNaN(x[i]) {
			return &model.ValidationError{Component: "discretizer", Entity: name,
				Reason: fmt.Sprintf("independent variable decreases at sample %d", i), Err: model.ErrNonMonotonic}
		}
	}
	return nil
}

// Discretizer reduces unit performance tables to breakpoint curves.
type Discretizer struct {
	Tolerance Tolerance
	Options   BreakpointOptions
}

// NewDiscretizer returns a Discretizer logging through log.
func NewDiscretizer(tol Tolerance, maxBreakpoints, warnThreshold int, log logger.Logger) *Discretizer {
	return &Discretizer{
		Tolerance: tol,
		Options: BreakpointOptions{
			MaxBreakpoints: maxBreakpoints,
			WarnThreshold:  warnThreshold,
			Logger:         logger.OrNop(log),
		},
	}
}

// Curve returns the performance samples kept as breakpoints of the unit's
// alpha curve. Samples must be ordered by height.
func (d *Discretizer) Curve(unit string, samples []model.PerformanceSample) ([]model.PerformanceSample, error) {
	x := make([]float64, len(samples))
	alpha := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = s.Height
		alpha[i] = s.Alpha()
	}
	opts := d.Options
	opts.Name = unit
	idx, err := Breakpoints(x, [][]float64{alpha}, d.Tolerance, opts)
	if err != nil {
		return nil, err
	}
	out := make([]model.PerformanceSample, len(idx))
	for i, k := range idx {
		out[i] = samples[k]
	}
	return out, nil
}

// StateCount returns the number of linear segments of the unit curve, at
// least 1.
func (d *Discretizer) StateCount(unit string, samples []model.PerformanceSample) (int, error) {
	bp, err := d.Curve(unit, samples)
	if err != nil {
		return 0, err
	}
	return max(1, len(bp)-1), nil
}

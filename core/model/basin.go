package model

import "sort"

// CurvePoint is one (height, volume) sample of a basin volume curve.
type CurvePoint struct {
	Height float64 `json:"height" yaml:"height"`
	Volume float64 `json:"volume" yaml:"volume"`
}

// Basin represents a reservoir with bounded storage volume.
type Basin struct {
	ID          string       `json:"id" yaml:"id"`
	VolumeMin   float64      `json:"volume_min" yaml:"volume_min"`
	VolumeMax   float64      `json:"volume_max" yaml:"volume_max"`
	StartVolume float64      `json:"start_volume" yaml:"start_volume"`
	Curve       []CurvePoint `json:"curve" yaml:"curve"`
	// SpillFactor is the penalty applied to every spilled cubic metre.
	SpillFactor float64 `json:"spill_factor" yaml:"spill_factor"`
	// StateCount overrides the number of discrete volume states. Zero means
	// the count is derived from the performance curves of its units.
	StateCount int `json:"state_count" yaml:"state_count"`
}

// HasCurve reports whether a measured volume curve is available.
func (b Basin) HasCurve() bool { return len(b.Curve) > 0 }

// Validate checks the basin bounds and curve monotonicity.
func (b Basin) Validate() error {
	if b.ID == "" {
		return &ValidationError{Component: "basin", Reason: "id is required"}
	}
	if b.VolumeMin > b.VolumeMax {
		return &ValidationError{Component: "basin", Entity: b.ID, Reason: "volume_min greater than volume_max"}
	}
	for i := 1; i < len(b.Curve); i++ {
		if b.Curve[i].Height < b.Curve[i-1].Height {
			return &ValidationError{Component: "basin", Entity: b.ID, Reason: "curve not sorted by height", Err: ErrNonMonotonic}
		}
		if b.Curve[i].Volume < b.Curve[i-1].Volume {
			return &ValidationError{Component: "basin", Entity: b.ID, Reason: "volume decreases with height", Err: ErrNonMonotonic}
		}
	}
	return nil
}

// Volumes returns the curve volumes in height order.
func (b Basin) Volumes() []float64 {
	out := make([]float64, len(b.Curve))
	for i, p := range b.Curve {
		out[i] = p.Volume
	}
	return out
}

// VolumeAt interpolates the curve at the given height. Heights outside the
// curve are clamped to its extremes.
func (b Basin) VolumeAt(height float64) float64 {
	n := len(b.Curve)
	if n == 0 {
		return b.VolumeMin
	}
	if height <= b.Curve[0].Height {
		return b.Curve[0].Volume
	}
	if height >= b.Curve[n-1].Height {
		return b.Curve[n-1].Volume
	}
	i := sort.Search(n, func(i int) bool { return b.Curve[i].Height >= height })
	lo, hi := b.Curve[i-1], b.Curve[i]
	if hi.Height == lo.Height {
		return hi.Volume
	}
	return lo.Volume + (hi.Volume-lo.Volume)*(height-lo.Height)/(hi.Height-lo.Height)
}

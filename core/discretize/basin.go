package discretize

import (
	"fmt"
	"math"
	"sort"

	"github.com/kilianp07/hydroflex/core/model"
)

// FullRange slices the volume curve into n contiguous states using
// index-proportional runs: sample i belongs to state i*n/len(volumes). Each
// state ends at the last volume of its run and starts where the previous one
// ends. The outer edges are the curve extremes. n is clamped to
// [1, len(volumes)].
func FullRange(basin string, volumes []float64, n int) ([]model.State, error) {
	if err := validateVolumes(basin, volumes); err != nil {
		return nil, err
	}
	return slice(basin, volumes, n), nil
}

// Window discretizes the part of the curve around [low, high]. The bounds
// are first widened by one bucket width on each side, then the curve is cut
// to the run from the last sample strictly below low to the first sample
// strictly above high (the curve extremes when there is none) and sliced as in FullRange.
func Window(basin string, volumes []float64, n int, low, high float64) ([]model.State, error) {
	if err := validateVolumes(basin, volumes); err != nil {
		return nil, err
	}
	if low > high {
		low, high = high, low
	}
	n = clampCount(n, len(volumes))
	dt := (high - low) / float64(max(1, n-2))
	low -= dt
	high += dt

	lo := sort.Search(len(volumes), func(i int) bool { return volumes[i] >= low }) - 1
	if lo < 0 {
		lo = 0
	}
	hi := sort.Search(len(volumes), func(i int) bool { return volumes[i] > high })
	if hi >= len(volumes) {
		hi = len(volumes) - 1
	}
	if hi < lo {
		hi = lo
	}
	if hi == lo {
		switch {
		case hi < len(volumes)-1:
			hi++
		case lo > 0:
			lo--
		}
	}
	return slice(basin, volumes[lo:hi+1], n), nil
}

// Degenerate returns the single state used for basins without a volume curve.
func Degenerate(b model.Basin) []model.State {
	return []model.State{{Index: 0, Basin: b.ID, VolumeMin: b.VolumeMin, VolumeMax: b.VolumeMax}}
}

// ForBasin picks FullRange for basins with a curve and Degenerate otherwise.
func ForBasin(b model.Basin, n int) ([]model.State, error) {
	if !b.HasCurve() {
		return Degenerate(b), nil
	}
	return FullRange(b.ID, b.Volumes(), n)
}

// WindowForBasin is the Window counterpart of ForBasin.
func WindowForBasin(b model.Basin, n int, low, high float64) ([]model.State, error) {
	if !b.HasCurve() {
		return Degenerate(b), nil
	}
	return Window(b.ID, b.Volumes(), n, low, high)
}

// CheckPartition verifies that consecutive states share their boundary and
// that none is inverted.
func CheckPartition(states []model.State) error {
	for i, s := range states {
		if s.VolumeMin > s.VolumeMax {
			return fmt.Errorf("state %d of %s is inverted: [%g, %g]", i, s.Basin, s.VolumeMin, s.VolumeMax)
		}
		if i == 0 {
			continue
		}
		prev := states[i-1]
		if math.Abs(prev.VolumeMax-s.VolumeMin) > 1e-9 {
			return fmt.Errorf("states %d and %d of %s do not share a boundary: %g != %g",
				i-1, i, s.Basin, prev.VolumeMax, s.VolumeMin)
		}
	}
	return nil
}

func slice(basin string, volumes []float64, n int) []model.State {
	n = clampCount(n, len(volumes))
	states := make([]model.State, n)
	for i := range states {
		states[i] = model.State{Index: i, Basin: basin}
	}
	for i, v := range volumes {
		states[i*n/len(volumes)].VolumeMax = v
	}
	states[0].VolumeMin = volumes[0]
	for i := 1; i < n; i++ {
		states[i].VolumeMin = states[i-1].VolumeMax
	}
	states[n-1].VolumeMax = volumes[len(volumes)-1]
	return states
}

func clampCount(n, length int) int {
	if n < 1 {
		return 1
	}
	if n > length {
		return length
	}
	return n
}

func validateVolumes(basin string, volumes []float64) error {
	if len(volumes) == 0 {
		return &model.ValidationError{Component: "basin state table", Entity: basin, Reason: "volume curve is empty", Err: model.ErrEmptyCurve}
	}
	for i := 1; i < len(volumes); i++ {
		if volumes[i] < volumes[i-1] {
			return &model.ValidationError{Component: "basin state table", Entity: basin,
				Reason: fmt.Sprintf("volume decreases at sample %d", i), Err: model.ErrNonMonotonic}
		}
	}
	return nil
}

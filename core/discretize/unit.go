package discretize

import (
	"math"
	"sort"

	"github.com/kilianp07/hydroflex/core/model"
)

// OperatingPoint is a performance sample expressed against the upstream
// basin volume instead of its height.
type OperatingPoint struct {
	Volume float64
	Flow   float64
	Power  float64
}

// ToVolume converts height-based samples into operating points using the
// volume curve of the upstream basin. The result is sorted by volume.
func ToVolume(upstream model.Basin, samples []model.PerformanceSample) []OperatingPoint {
	out := make([]OperatingPoint, len(samples))
	for i, s := range samples {
		out[i] = OperatingPoint{Volume: upstream.VolumeAt(s.Height), Flow: s.Flow, Power: s.Power}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Volume < out[j].Volume })
	return out
}

// UnitStates attaches the unit's representative flow and alpha to every
// basin state. The representative values are the mean flow and power of the
// operating points inside the state; states holding no point use the curve
// interpolated at their midpoint. Without any point the unit ratings apply.
func UnitStates(unit model.HydraulicUnit, points []OperatingPoint, basinStates []model.State) []model.State {
	out := make([]model.State, len(basinStates))
	for i, bs := range basinStates {
		flow, power := meanIn(points, bs.VolumeMin, bs.VolumeMax)
		if math.IsNaN(flow) {
			flow, power = interpolateAt(unit, points, (bs.VolumeMin+bs.VolumeMax)/2)
		}
		s := bs
		s.Unit = unit.ID
		s.Flow = math.Abs(flow)
		if s.Flow > 0 {
			s.Alpha = power / s.Flow
		}
		out[i] = s
	}
	return out
}

func meanIn(points []OperatingPoint, lo, hi float64) (float64, float64) {
	var flow, power float64
	n := 0
	for _, p := range points {
		if p.Volume < lo || p.Volume > hi {
			continue
		}
		flow += p.Flow
		power += p.Power
		n++
	}
	if n == 0 {
		return math.NaN(), math.NaN()
	}
	return flow / float64(n), power / float64(n)
}

func interpolateAt(unit model.HydraulicUnit, points []OperatingPoint, v float64) (float64, float64) {
	if len(points) == 0 {
		power := unit.RatedPower
		if unit.Kind == model.Pump {
			power = -power
		}
		return unit.RatedFlow, power
	}
	if v <= points[0].Volume {
		return points[0].Flow, points[0].Power
	}
	last := points[len(points)-1]
	if v >= last.Volume {
		return last.Flow, last.Power
	}
	i := sort.Search(len(points), func(i int) bool { return points[i].Volume >= v })
	a, b := points[i-1], points[i]
	if b.Volume == a.Volume {
		return b.Flow, b.Power
	}
	f := (v - a.Volume) / (b.Volume - a.Volume)
	return a.Flow + f*(b.Flow-a.Flow), a.Power + f*(b.Power-a.Power)
}

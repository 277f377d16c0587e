package model

// State is a discretized sub-range of a basin volume. Unit states also
// carry the representative flow and alpha of the unit within that range.
type State struct {
	Index     int     `json:"index"`
	Basin     string  `json:"basin"`
	Unit      string  `json:"unit,omitempty"`
	VolumeMin float64 `json:"volume_min"`
	VolumeMax float64 `json:"volume_max"`
	Flow      float64 `json:"flow,omitempty"`
	Alpha     float64 `json:"alpha,omitempty"`
}

// Width returns the volume span of the state.
func (s State) Width() float64 { return s.VolumeMax - s.VolumeMin }

// Contains reports whether v lies in [VolumeMin, VolumeMax].
func (s State) Contains(v float64) bool { return v >= s.VolumeMin && v <= s.VolumeMax }

// Power returns the power produced at the representative flow.
func (s State) Power() float64 { return s.Flow * s.Alpha }

// Span returns the overall volume range covered by the states.
func Span(states []State) (float64, float64) {
	if len(states) == 0 {
		return 0, 0
	}
	lo, hi := states[0].VolumeMin, states[0].VolumeMax
	for _, s := range states[1:] {
		if s.VolumeMin < lo {
			lo = s.VolumeMin
		}
		if s.VolumeMax > hi {
			hi = s.VolumeMax
		}
	}
	return lo, hi
}

// Locate returns the position of the state containing v. Volumes outside
// the span map to the nearest end.
func Locate(states []State, v float64) int {
	if len(states) == 0 {
		return -1
	}
	for i, s := range states {
		if v <= s.VolumeMax {
			return i
		}
	}
	return len(states) - 1
}

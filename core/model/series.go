package model

import "time"

// TimeGrid describes the fine scheduling grid.
type TimeGrid struct {
	Start time.Time
	Step  time.Duration
	Steps int
}

// At returns the timestamp of step t.
func (g TimeGrid) At(t int) time.Time { return g.Start.Add(time.Duration(t) * g.Step) }

// Window is a contiguous slice [Start, End) of the fine grid.
type Window struct {
	SimIdx int
	Start  int
	End    int
}

// Len returns the number of steps in the window.
func (w Window) Len() int { return w.End - w.Start }

// Partition splits n steps into windows of size steps. The last window may
// be shorter.
func Partition(n, size int) []Window {
	if n <= 0 || size <= 0 {
		return nil
	}
	var out []Window
	for start, k := 0, 0; start < n; start, k = start+size, k+1 {
		end := start + size
		if end > n {
			end = n
		}
		out = append(out, Window{SimIdx: k, Start: start, End: end})
	}
	return out
}

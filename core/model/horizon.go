package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SubHorizonState is the carried-over state threading one sub-horizon's end
// condition into the next one's start condition. It is replaced after every
// solve and never mutated in place.
type SubHorizonState struct {
	SimIdx     int                `json:"sim_idx"`
	Volumes    map[string]float64 `json:"volumes"`
	BatterySOC float64            `json:"battery_soc"`
	Shortage   map[string]float64 `json:"powered_volume_shortage"`
	Overage    map[string]float64 `json:"powered_volume_overage"`
}

// Clone returns a deep copy.
func (s SubHorizonState) Clone() SubHorizonState {
	return SubHorizonState{
		SimIdx:     s.SimIdx,
		Volumes:    cloneMap(s.Volumes),
		BatterySOC: s.BatterySOC,
		Shortage:   cloneMap(s.Shortage),
		Overage:    cloneMap(s.Overage),
	}
}

func cloneMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Quota is the target produced volume of a unit for one sub-horizon along
// with the flexible buffers and penalty factors applied to deviations.
type Quota struct {
	Unit            string  `json:"unit"`
	Target          float64 `json:"target"`
	ShortageBuffer  float64 `json:"shortage_buffer"`
	OverageBuffer   float64 `json:"overage_buffer"`
	ShortagePenalty float64 `json:"shortage_penalty"`
	OveragePenalty  float64 `json:"overage_penalty"`
}

// SolveStatus is the outcome reported by a solver.
type SolveStatus int

const (
	StatusOptimal SolveStatus = iota
	StatusAborted
	StatusInfeasible
	StatusUnbounded
)

// String returns a lowercase name for the status.
func (s SolveStatus) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusAborted:
		return "aborted"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	default:
		return "unknown"
	}
}

// Usable reports whether the solution can be extracted.
func (s SolveStatus) Usable() bool { return s == StatusOptimal || s == StatusAborted }

// Key indexes a solver variable. Time-indexed variables use (t, entity),
// entity-only variables use (entity, 0) and scalars the zero Key.
type Key [2]int

// Variables holds solver assignments by variable name.
type Variables map[string]map[Key]float64

// Value returns the value of name at k, or 0 if absent.
func (v Variables) Value(name string, k Key) float64 {
	if v == nil {
		return 0
	}
	return v[name][k]
}

// Set stores a value, creating the inner map if needed.
func (v Variables) Set(name string, k Key, val float64) {
	m, ok := v[name]
	if !ok {
		m = make(map[Key]float64)
		v[name] = m
	}
	m[k] = val
}

// SolveOutcome is the result of one sub-horizon solve, recovery included.
type SolveOutcome struct {
	SimIdx    int
	Status    SolveStatus
	Attempts  int
	Objective float64
	Variables Variables
	Duration  time.Duration
}

// Result tables produced per sub-horizon.
const (
	TableFlow             = "flow"
	TablePower            = "power"
	TableBasinVolume      = "basin_volume"
	TableSpilledVolume    = "spilled_volume"
	TableBatteryCharge    = "battery_charge"
	TableBatteryDischarge = "battery_discharge"
)

// ResultRow is one value of a result table keyed by time step and entity.
type ResultRow struct {
	SimIdx    int       `json:"sim_idx"`
	T         int       `json:"t"`
	Timestamp time.Time `json:"timestamp"`
	Table     string    `json:"table"`
	Entity    string    `json:"entity"`
	Value     float64   `json:"value"`
}

// Diagnostics lists sub-horizons that did not solve cleanly.
type Diagnostics struct {
	NonOptimal []int `json:"non_optimal"`
	Recovered  []int `json:"unfeasible_recovered"`
}

// Rows filters rows by table name, keeping their order.
func Rows(rows []ResultRow, table string) []ResultRow {
	var out []ResultRow
	for _, r := range rows {
		if r.Table == table {
			out = append(out, r)
		}
	}
	return out
}

// Tables returns the sorted set of table names present in rows.
func Tables(rows []ResultRow) []string {
	seen := make(map[string]struct{})
	for _, r := range rows {
		seen[r.Table] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer for log output.
func (d Diagnostics) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "non_optimal=%v recovered=%v", d.NonOptimal, d.Recovered)
	return b.String()
}

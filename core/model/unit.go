package model

import (
	"fmt"
	"math"
	"strings"
)

// UnitKind distinguishes generating from pumping units.
type UnitKind int

const (
	Turbine UnitKind = iota
	Pump
)

// String returns the configuration name of the kind.
func (k UnitKind) String() string {
	switch k {
	case Turbine:
		return "turbine"
	case Pump:
		return "pump"
	default:
		return "unknown"
	}
}

// ParseUnitKind converts a configuration name into a UnitKind.
func ParseUnitKind(s string) (UnitKind, error) {
	switch strings.ToLower(s) {
	case "turbine", "":
		return Turbine, nil
	case "pump":
		return Pump, nil
	default:
		return Turbine, fmt.Errorf("unknown unit kind %q", s)
	}
}

// Control describes whether a unit can modulate its flow.
type Control int

const (
	Continuous Control = iota
	Discrete
)

// String returns the configuration name of the control mode.
func (c Control) String() string {
	if c == Discrete {
		return "discrete"
	}
	return "continuous"
}

// ParseControl converts a configuration name into a Control.
func ParseControl(s string) (Control, error) {
	switch strings.ToLower(s) {
	case "continuous", "":
		return Continuous, nil
	case "discrete":
		return Discrete, nil
	default:
		return Continuous, fmt.Errorf("unknown control %q", s)
	}
}

// HydraulicUnit is a turbine or pump linking an upstream and a downstream basin.
type HydraulicUnit struct {
	ID         string
	Kind       UnitKind
	Control    Control
	RatedFlow  float64 // m³/s
	RatedPower float64 // MW
	Upstream   string
	Downstream string
}

// Validate checks the unit ratings and topology references.
func (u HydraulicUnit) Validate() error {
	if u.ID == "" {
		return &ValidationError{Component: "unit", Reason: "id is required"}
	}
	if u.Upstream == "" || u.Downstream == "" {
		return &ValidationError{Component: "unit", Entity: u.ID, Reason: "upstream and downstream basins are required"}
	}
	if u.Upstream == u.Downstream {
		return &ValidationError{Component: "unit", Entity: u.ID, Reason: "upstream and downstream basins must differ"}
	}
	if u.RatedFlow < 0 || u.RatedPower < 0 {
		return &ValidationError{Component: "unit", Entity: u.ID, Reason: "ratings must be non-negative"}
	}
	return nil
}

// WaterFactor returns the sign applied to the unit flow in the balance of
// basin. Turbines drain their upstream basin and fill the downstream one,
// pumps do the opposite. Unrelated basins get 0.
func (u HydraulicUnit) WaterFactor(basin string) float64 {
	role := 1.0
	if u.Kind == Pump {
		role = -1
	}
	switch basin {
	case u.Upstream:
		return -role
	case u.Downstream:
		return role
	default:
		return 0
	}
}

// PerformanceSample is one measured operating point of a unit.
type PerformanceSample struct {
	Height float64 `json:"height" yaml:"height"`
	Flow   float64 `json:"flow" yaml:"flow"`
	Power  float64 `json:"power" yaml:"power"`
}

// Alpha returns the power-per-flow efficiency coefficient. Pumps report a
// negative power so their alpha is negative.
func (p PerformanceSample) Alpha() float64 {
	f := math.Abs(p.Flow)
	if f == 0 {
		return 0
	}
	return p.Power / f
}

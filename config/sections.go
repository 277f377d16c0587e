package config

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/kilianp07/hydroflex/core/discretize"
	"github.com/kilianp07/hydroflex/core/solver"
)

// SolverConfig tunes the LP backend.
type SolverConfig struct {
	TimeLimit time.Duration `json:"time_limit"`
	Verbose   bool          `json:"verbose"`
	// Tolerance is the simplex pivot tolerance.
	Tolerance float64 `json:"tolerance"`
}

func (c *SolverConfig) SetDefaults() {
	if c.TimeLimit == 0 {
		c.TimeLimit = 30 * time.Second
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-7
	}
}

func (c SolverConfig) Validate() error {
	if c.TimeLimit < 0 {
		return fmt.Errorf("solver: time_limit must be non-negative")
	}
	if c.Tolerance <= 0 {
		return fmt.Errorf("solver: tolerance must be positive")
	}
	return nil
}

// Options returns the options passed on every solve.
func (c SolverConfig) Options() solver.Options {
	return solver.Options{TimeLimit: c.TimeLimit, Verbose: c.Verbose}
}

// DiscretizationConfig controls the performance curve reduction.
type DiscretizationConfig struct {
	Tolerance      float64 `json:"tolerance"`
	Relative       bool    `json:"relative"`
	MaxBreakpoints int     `json:"max_breakpoints"`
	WarnThreshold  int     `json:"warn_threshold"`
}

func (c *DiscretizationConfig) SetDefaults() {
	if c.Tolerance == 0 {
		c.Tolerance = 0.05
	}
	if c.WarnThreshold == 0 {
		c.WarnThreshold = discretize.DefaultWarnThreshold
	}
}

func (c DiscretizationConfig) Validate() error {
	if c.Tolerance < 0 {
		return fmt.Errorf("discretization: tolerance must be non-negative")
	}
	if c.MaxBreakpoints < 0 {
		return fmt.Errorf("discretization: max_breakpoints must be non-negative")
	}
	return nil
}

// Tol returns the interpolation tolerance.
func (c DiscretizationConfig) Tol() discretize.Tolerance {
	return discretize.Tolerance{Value: c.Tolerance, Relative: c.Relative}
}

// BatteryConfig describes an optional site battery. A zero capacity means
// no battery unless the dataset brings one.
type BatteryConfig struct {
	CapacityMWh float64 `json:"capacity_mwh"`
	PowerMW     float64 `json:"power_mw"`
	Efficiency  float64 `json:"efficiency"`
	StartSOC    float64 `json:"start_soc"`
}

func (c *BatteryConfig) SetDefaults() {
	if c.CapacityMWh > 0 && c.Efficiency == 0 {
		c.Efficiency = 1
	}
}

func (c BatteryConfig) Validate() error {
	if c.CapacityMWh < 0 || c.PowerMW < 0 {
		return fmt.Errorf("battery: capacity and power must be non-negative")
	}
	if c.CapacityMWh > 0 && (c.Efficiency <= 0 || c.Efficiency > 1) {
		return fmt.Errorf("battery: efficiency must be in (0, 1]")
	}
	if c.StartSOC < 0 || c.StartSOC > c.CapacityMWh {
		return fmt.Errorf("battery: start_soc outside [0, capacity_mwh]")
	}
	return nil
}

// Params returns the battery parameters, nil when no battery is configured.
func (c BatteryConfig) Params() *solver.BatteryParams {
	if c.CapacityMWh <= 0 {
		return nil
	}
	return &solver.BatteryParams{
		CapacityMWh: c.CapacityMWh,
		PowerMW:     c.PowerMW,
		Efficiency:  c.Efficiency,
		StartSOC:    c.StartSOC,
	}
}

// StoreConfig selects where runs are persisted. An empty path disables
// persistence.
type StoreConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
}

func (c StoreConfig) Validate() error {
	if c.Backend != "sqlite" {
		return fmt.Errorf("store: unknown backend %s", c.Backend)
	}
	return nil
}

// Enabled reports whether runs should be persisted.
func (c StoreConfig) Enabled() bool { return c.Path != "" }

// LoggingConfig sets the log verbosity.
type LoggingConfig struct {
	Level string `json:"level"`
}

// SetDefaults applies sane defaults.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks mandatory fields.
func (c LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

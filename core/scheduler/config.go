package scheduler

import (
	"github.com/kilianp07/hydroflex/core/solver"
)

// Config parameterizes a scheduling run.
type Config struct {
	// SubHorizonSteps is the number of fine steps solved at once.
	SubHorizonSteps int `json:"sub_horizon_steps" yaml:"sub_horizon_steps"`
	// FirstStageStep is the number of fine steps merged into one coarse
	// first-stage step.
	FirstStageStep int `json:"first_stage_step" yaml:"first_stage_step"`
	// MinVolumeRatio sets the minimum volume reach of a unit, as a share of
	// its rated flow over the sub-horizon, when sizing state windows.
	MinVolumeRatio float64 `json:"min_volume_ratio" yaml:"min_volume_ratio"`
	// VolumeBufferRatio sizes the base quota buffers.
	VolumeBufferRatio float64 `json:"volume_buffer_ratio" yaml:"volume_buffer_ratio"`
	// PriceQuantile offsets the quantiles pricing quota deviations.
	PriceQuantile float64        `json:"price_quantile" yaml:"price_quantile"`
	WithAncillary bool           `json:"with_ancillary" yaml:"with_ancillary"`
	Recovery      RecoveryPolicy `json:"recovery" yaml:"recovery"`
	Solver        solver.Options `json:"solver" yaml:"solver"`
	// Battery is nil when the site has no battery. StartSOC is ignored;
	// the carried state provides it.
	Battery *solver.BatteryParams `json:"-" yaml:"-"`
	// Scenario labels the run in its events.
	Scenario string `json:"-" yaml:"-"`
}

// DefaultConfig returns the settings used when a field is left empty.
func DefaultConfig() Config {
	return Config{
		SubHorizonSteps:   24,
		FirstStageStep:    4,
		MinVolumeRatio:    0.1,
		VolumeBufferRatio: 0.2,
		PriceQuantile:     0.25,
		Recovery:          DefaultRecoveryPolicy(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SubHorizonSteps <= 0 {
		c.SubHorizonSteps = d.SubHorizonSteps
	}
	if c.FirstStageStep <= 0 {
		c.FirstStageStep = d.FirstStageStep
	}
	c.Recovery = c.Recovery.withDefaults()
	return c
}

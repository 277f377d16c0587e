package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/hydroflex/core/metrics"
	"github.com/kilianp07/hydroflex/core/scheduler"
	"github.com/kilianp07/hydroflex/infra/mqtt"
)

type Config struct {
	Scheduler      scheduler.Config     `json:"scheduler"`
	Solver         SolverConfig         `json:"solver"`
	Discretization DiscretizationConfig `json:"discretization"`
	Battery        BatteryConfig        `json:"battery"`
	Logging        LoggingConfig        `json:"logging"`
	Metrics        metrics.Config       `json:"metrics"`
	Store          StoreConfig          `json:"store"`
	MQTT           mqtt.Config          `json:"mqtt"`
	Batch          BatchConfig          `json:"batch"`
}

// Load reads the configuration file at path and applies K_ prefixed
// environment overrides, e.g. K_SCHEDULER__SUB_HORIZON_STEPS=48.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied, used when
// no file is given.
func Default() *Config {
	var cfg Config
	cfg.SetDefaults()
	return &cfg
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	d := scheduler.DefaultConfig()
	if c.Scheduler.SubHorizonSteps <= 0 {
		c.Scheduler.SubHorizonSteps = d.SubHorizonSteps
	}
	if c.Scheduler.FirstStageStep <= 0 {
		c.Scheduler.FirstStageStep = d.FirstStageStep
	}
	if c.Scheduler.MinVolumeRatio == 0 {
		c.Scheduler.MinVolumeRatio = d.MinVolumeRatio
	}
	if c.Scheduler.VolumeBufferRatio == 0 {
		c.Scheduler.VolumeBufferRatio = d.VolumeBufferRatio
	}
	if c.Scheduler.PriceQuantile == 0 {
		c.Scheduler.PriceQuantile = d.PriceQuantile
	}
	if c.Scheduler.Recovery.MaxRetries == 0 {
		c.Scheduler.Recovery.MaxRetries = d.Recovery.MaxRetries
	}
	if c.Scheduler.Recovery.BufferGrowth == 0 {
		c.Scheduler.Recovery.BufferGrowth = d.Recovery.BufferGrowth
	}
	c.Solver.SetDefaults()
	c.Discretization.SetDefaults()
	c.Battery.SetDefaults()
	c.Logging.SetDefaults()
	c.Store.SetDefaults()
	c.Batch.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	s := c.Scheduler
	if s.MinVolumeRatio < 0 || s.VolumeBufferRatio < 0 {
		return fmt.Errorf("scheduler: volume ratios must be non-negative")
	}
	if s.PriceQuantile < 0 || s.PriceQuantile >= 0.5 {
		return fmt.Errorf("scheduler: price_quantile must be in [0, 0.5)")
	}
	if s.Recovery.BufferGrowth < 1 {
		return fmt.Errorf("scheduler: recovery.buffer_growth must be at least 1")
	}
	validators := []interface{ Validate() error }{
		c.Solver, c.Discretization, c.Battery, c.Logging, c.Store, c.Batch,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if c.MQTT.Broker != "" {
		if err := c.MQTT.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SchedulerConfig assembles the scheduler settings from the scheduler,
// solver and battery sections.
func (c Config) SchedulerConfig() scheduler.Config {
	sc := c.Scheduler
	sc.Solver = c.Solver.Options()
	sc.Battery = c.Battery.Params()
	return sc
}

package config

import "fmt"

// ScenarioConfig is one variant of the base dataset solved by a batch.
type ScenarioConfig struct {
	Name string `json:"name"`
	// DisableUnits removes units from the dataset.
	DisableUnits []string `json:"disable_units"`
	// Battery replaces the configured battery when set. A zero capacity
	// removes it.
	Battery *BatteryConfig `json:"battery"`
}

// BatchConfig lists scenarios solved in parallel.
type BatchConfig struct {
	Parallelism int              `json:"parallelism"`
	Scenarios   []ScenarioConfig `json:"scenarios"`
}

func (c *BatchConfig) SetDefaults() {
	if c.Parallelism <= 0 {
		c.Parallelism = 2
	}
	for i := range c.Scenarios {
		if c.Scenarios[i].Name == "" {
			c.Scenarios[i].Name = fmt.Sprintf("scenario-%d", i)
		}
		if b := c.Scenarios[i].Battery; b != nil {
			b.SetDefaults()
		}
	}
}

func (c BatchConfig) Validate() error {
	seen := make(map[string]bool, len(c.Scenarios))
	for _, s := range c.Scenarios {
		if seen[s.Name] {
			return fmt.Errorf("batch: duplicate scenario %s", s.Name)
		}
		seen[s.Name] = true
		if s.Battery != nil {
			if err := s.Battery.Validate(); err != nil {
				return fmt.Errorf("batch: scenario %s: %w", s.Name, err)
			}
		}
	}
	return nil
}

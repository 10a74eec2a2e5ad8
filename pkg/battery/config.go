package battery

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-volt/pkg/stress"
)

// Config holds the tunable parameters of the decay engine.
// Rates are percentage points per tick.
type Config struct {
	// TickInterval is the wall-clock period between ticks.
	TickInterval time.Duration `yaml:"tick_interval" json:"tick_interval"`

	// BaseDrainRate is drained every away tick before crowd and stress.
	BaseDrainRate float64 `yaml:"base_drain_rate" json:"base_drain_rate"`

	// CrowdFactor is added to the drain per nearby device.
	CrowdFactor float64 `yaml:"crowd_factor" json:"crowd_factor"`

	// RechargeRate is added every home tick.
	RechargeRate float64 `yaml:"recharge_rate" json:"recharge_rate"`

	// CriticalThreshold is the level at or below which an away
	// battery is CRITICAL.
	CriticalThreshold float64 `yaml:"critical_threshold" json:"critical_threshold"`

	// Stress maps HRV to the drain multiplier.
	Stress stress.Model `yaml:"stress" json:"stress"`
}

// DefaultConfig returns the documented defaults: 5s ticks, 1%/tick base
// drain, +0.2%/tick per nearby device, 5%/tick recharge, critical at 15%.
func DefaultConfig() Config {
	return Config{
		TickInterval:      5 * time.Second,
		BaseDrainRate:     1.0,
		CrowdFactor:       0.2,
		RechargeRate:      5.0,
		CriticalThreshold: 15,
		Stress:            stress.DefaultModel(),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.TickInterval)
	}
	if c.BaseDrainRate < 0 {
		return fmt.Errorf("base_drain_rate must not be negative, got %v", c.BaseDrainRate)
	}
	if c.CrowdFactor < 0 {
		return fmt.Errorf("crowd_factor must not be negative, got %v", c.CrowdFactor)
	}
	if c.RechargeRate < 0 {
		return fmt.Errorf("recharge_rate must not be negative, got %v", c.RechargeRate)
	}
	if c.CriticalThreshold < 0 || c.CriticalThreshold > MaxLevel {
		return fmt.Errorf("critical_threshold must be within [0, %v], got %v", MaxLevel, c.CriticalThreshold)
	}
	if err := c.Stress.Validate(); err != nil {
		return fmt.Errorf("stress: %w", err)
	}
	return nil
}

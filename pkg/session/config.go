package session

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/go-volt/pkg/battery"
	"github.com/teslashibe/go-volt/pkg/ingest"
)

// Config holds session and manager settings.
type Config struct {
	Battery battery.Config `yaml:"battery" json:"battery"`
	Ingest  ingest.Config  `yaml:"ingest" json:"ingest"`

	// ReadingsPerSecond limits inbound readings per connection, and
	// POST /update calls per session. Excess socket readings are dropped
	// and excess updates are refused. 0 disables the limit.
	ReadingsPerSecond float64 `yaml:"readings_per_second" json:"readings_per_second"`

	// ReadingsBurst is the limiter burst size.
	ReadingsBurst int `yaml:"readings_burst" json:"readings_burst"`

	// IdleTimeout closes sessions with no connections and no readings for
	// this long. 0 keeps sessions until explicitly closed.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// SweepSchedule is the cron spec for the idle sweep.
	SweepSchedule string `yaml:"sweep_schedule" json:"sweep_schedule"`

	// StoreTimeout bounds profile loads and saves.
	StoreTimeout time.Duration `yaml:"store_timeout" json:"store_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Battery:           battery.DefaultConfig(),
		Ingest:            ingest.DefaultConfig(),
		ReadingsPerSecond: 5,
		ReadingsBurst:     10,
		IdleTimeout:       30 * time.Minute,
		SweepSchedule:     "@every 1m",
		StoreTimeout:      2 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Battery.Validate(); err != nil {
		return fmt.Errorf("battery: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if c.ReadingsPerSecond < 0 {
		return fmt.Errorf("readings_per_second must not be negative, got %v", c.ReadingsPerSecond)
	}
	if c.ReadingsPerSecond > 0 && c.ReadingsBurst < 1 {
		return fmt.Errorf("readings_burst must be at least 1, got %d", c.ReadingsBurst)
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must not be negative, got %v", c.IdleTimeout)
	}
	if c.IdleTimeout > 0 && c.SweepSchedule == "" {
		return fmt.Errorf("sweep_schedule is required when idle_timeout is set")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store_timeout must be positive, got %v", c.StoreTimeout)
	}
	return nil
}

// newLimiter returns a reading limiter, or nil when readings are unlimited.
func (c Config) newLimiter() *rate.Limiter {
	if c.ReadingsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.ReadingsPerSecond), c.ReadingsBurst)
}

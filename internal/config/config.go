// Package config assembles the volt server configuration from defaults,
// an optional YAML file, .env files and VOLT_* environment variables, in
// that order of precedence (later wins).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-volt/pkg/session"
	"github.com/teslashibe/go-volt/pkg/store"
	"github.com/teslashibe/go-volt/pkg/web"
)

// Store drivers.
const (
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Config is the complete server configuration.
type Config struct {
	Server  web.Config     `yaml:"server" json:"server"`
	Session session.Config `yaml:"session" json:"session"`
	Store   StoreConfig    `yaml:"store" json:"store"`
	Log     LogConfig      `yaml:"log" json:"log"`
}

// StoreConfig selects and configures the profile store.
type StoreConfig struct {
	// Driver is "badger" or "memory".
	Driver string             `yaml:"driver" json:"driver"`
	Badger store.BadgerConfig `yaml:"badger" json:"badger"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  web.DefaultConfig(),
		Session: session.DefaultConfig(),
		Store: StoreConfig{
			Driver: StoreBadger,
			Badger: store.DefaultBadgerConfig(),
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the configuration. path may be empty; a missing .env file
// is not an error.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv.Load never overrides variables already set
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from VOLT_* variables. PORT is honoured as
// well for platforms that inject it.
func (c *Config) ApplyEnv() error {
	var err error
	set := func(key string, apply func(string) error) {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" || err != nil {
			return
		}
		if e := apply(v); e != nil {
			err = fmt.Errorf("%s: %w", key, e)
		}
	}

	set("PORT", intVar(&c.Server.Port))
	set("VOLT_PORT", intVar(&c.Server.Port))
	set("VOLT_DEBUG", boolVar(&c.Server.Debug))
	set("VOLT_LOG_LEVEL", stringVar(&c.Log.Level))
	set("VOLT_LOG_FORMAT", stringVar(&c.Log.Format))
	set("VOLT_STORE", stringVar(&c.Store.Driver))
	set("VOLT_DATA_DIR", stringVar(&c.Store.Badger.Path))
	set("VOLT_TICK_INTERVAL", durationVar(&c.Session.Battery.TickInterval))
	set("VOLT_IDLE_TIMEOUT", durationVar(&c.Session.IdleTimeout))
	set("VOLT_BASELINE_HRV", floatVar(&c.Session.Battery.Stress.Baseline))
	set("VOLT_SIMULATION", boolVar(&c.Session.Ingest.Simulation))
	set("VOLT_READINGS_PER_SECOND", floatVar(&c.Session.ReadingsPerSecond))
	return err
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	switch c.Store.Driver {
	case StoreMemory:
	case StoreBadger:
		if !c.Store.Badger.InMemory && c.Store.Badger.Path == "" {
			return fmt.Errorf("store: badger path is required")
		}
	default:
		return fmt.Errorf("store: driver must be %q or %q, got %q", StoreBadger, StoreMemory, c.Store.Driver)
	}
	return nil
}

func stringVar(p *string) func(string) error {
	return func(v string) error {
		*p = v
		return nil
	}
}

func intVar(p *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*p = n
		return nil
	}
}

func floatVar(p *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*p = f
		return nil
	}
}

func boolVar(p *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*p = b
		return nil
	}
}

func durationVar(p *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*p = d
		return nil
	}
}

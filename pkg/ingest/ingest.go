// Package ingest validates and normalizes inbound sensor reports into the
// canonical battery.Reading.
//
// Malformed optional fields never produce an error: they are clamped or
// dropped and the outcome is recorded in a Report for logging and metrics.
package ingest

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/teslashibe/go-volt/pkg/battery"
	"github.com/teslashibe/go-volt/pkg/geofence"
	"github.com/teslashibe/go-volt/pkg/protocol"
)

// Defaults for normalization.
const (
	// DefaultMaxHRV is the upper bound of the accepted HRV band in ms.
	// RMSSD above this is a sensor artefact rather than physiology.
	DefaultMaxHRV = 300.0

	// DefaultSimulatedDeviceCount replaces the crowd count in simulation mode.
	DefaultSimulatedDeviceCount = 20
)

// Config holds normalization settings.
type Config struct {
	// MaxHRV is the inclusive upper bound of accepted HRV values.
	// Values <= 0 or above MaxHRV are discarded.
	MaxHRV float64 `yaml:"max_hrv" json:"max_hrv"`

	// Simulation forces simulation mode for every reading.
	Simulation bool `yaml:"simulation" json:"simulation"`

	// SimulatedDeviceCount is the synthetic crowd used in simulation mode.
	SimulatedDeviceCount uint32 `yaml:"simulated_device_count" json:"simulated_device_count"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxHRV:               DefaultMaxHRV,
		SimulatedDeviceCount: DefaultSimulatedDeviceCount,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxHRV <= 0 {
		return fmt.Errorf("max_hrv must be positive, got %v", c.MaxHRV)
	}
	return nil
}

// Report describes what normalization did to a reading.
type Report struct {
	DeviceCountClamped bool
	HRVDropped         bool
	LocationDropped    bool
	Simulated          bool

	// FieldsDropped names wire members that failed to decode.
	FieldsDropped []string
}

// Clean reports whether the reading passed through unchanged.
func (r Report) Clean() bool {
	return !r.DeviceCountClamped && !r.HRVDropped && !r.LocationDropped && len(r.FieldsDropped) == 0
}

// Result is the metric label for the report.
func (r Report) Result() string {
	if r.Clean() {
		return "accepted"
	}
	return "normalized"
}

// Normalizer converts wire readings into battery readings.
type Normalizer struct {
	cfg      Config
	validate *validator.Validate
}

// New creates a normalizer.
func New(cfg Config) *Normalizer {
	return &Normalizer{
		cfg:      cfg,
		validate: validator.New(),
	}
}

// Normalize validates raw and returns the canonical reading received at now.
func (n *Normalizer) Normalize(raw protocol.SensorReading, now time.Time) (battery.Reading, Report) {
	rep := Report{FieldsDropped: raw.Dropped}
	for _, f := range raw.Dropped {
		switch f {
		case "hrv_value", "hrv":
			rep.HRVDropped = true
		case "latitude", "longitude":
			rep.LocationDropped = true
		}
	}
	out := battery.Reading{
		HomeHint:   raw.IsHome,
		Seq:        raw.Seq,
		ReceivedAt: now,
	}

	switch {
	case raw.NearbyDeviceCount < 0:
		rep.DeviceCountClamped = true
	case raw.NearbyDeviceCount > math.MaxUint32:
		out.DeviceCount = math.MaxUint32
		rep.DeviceCountClamped = true
	default:
		out.DeviceCount = uint32(raw.NearbyDeviceCount)
	}

	if raw.Simulation || n.cfg.Simulation {
		out.DeviceCount = n.cfg.SimulatedDeviceCount
		rep.Simulated = true
		rep.DeviceCountClamped = false
	}

	if raw.HRVValue != nil {
		if n.validHRV(*raw.HRVValue) {
			hrv := *raw.HRVValue
			out.HRV = &hrv
		} else {
			rep.HRVDropped = true
		}
	}

	switch {
	case raw.HasLocation():
		if n.validLocation(*raw.Latitude, *raw.Longitude) {
			out.Location = &geofence.Point{Lat: *raw.Latitude, Lon: *raw.Longitude}
		} else {
			rep.LocationDropped = true
		}
	case raw.Latitude != nil || raw.Longitude != nil:
		rep.LocationDropped = true
	}

	return out, rep
}

func (n *Normalizer) validHRV(v float64) bool {
	return v > 0 && v <= n.cfg.MaxHRV && !math.IsNaN(v)
}

func (n *Normalizer) validLocation(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) {
		return false
	}
	if err := n.validate.Var(lat, "latitude"); err != nil {
		return false
	}
	return n.validate.Var(lon, "longitude") == nil
}

// SeqGuard drops readings whose sequence number is not newer than the
// last accepted one. Unsequenced readings (seq 0) always pass.
type SeqGuard struct {
	mu   sync.Mutex
	last uint64
}

// Accept reports whether a reading with seq should be ingested.
func (g *SeqGuard) Accept(seq uint64) bool {
	if seq == 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if seq <= g.last {
		return false
	}
	g.last = seq
	return true
}

// Reset forgets the last sequence number, for a client that reconnected
// and restarted its counter.
func (g *SeqGuard) Reset() {
	g.mu.Lock()
	g.last = 0
	g.mu.Unlock()
}

// Last returns the last accepted sequence number.
func (g *SeqGuard) Last() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

// Package battery implements the authoritative social battery state machine.
//
// The engine is the single writer of the battery state. Readings only
// replace a latest-reading cache; the level moves exclusively on Tick,
// SetHome and Reset, so message arrival never drives decay.
package battery

import (
	"sync"
	"time"

	"github.com/teslashibe/go-volt/pkg/geofence"
)

// Engine holds one session's battery state.
type Engine struct {
	cfg Config
	now func() time.Time

	mu      sync.RWMutex
	state   State
	model   stressModel
	reading *Reading
	home    *geofence.HomeLocation
	fence   *geofence.Evaluator
}

// stressModel is satisfied by stress.Model.
type stressModel interface {
	Multiplier(hrv *float64) float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for UpdatedAt and tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHome starts the engine with a known home location.
func WithHome(home geofence.HomeLocation) Option {
	return func(e *Engine) { e.home = &home }
}

// NewEngine creates an engine at full charge, at home.
func NewEngine(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:   cfg,
		now:   time.Now,
		state: DefaultState(),
		model: cfg.Stress,
		fence: geofence.NewEvaluator(geofence.Home),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.state.UpdatedAt = e.now()
	return e
}

// Ingest replaces the cached reading. Nothing else changes until the next tick.
func (e *Engine) Ingest(r Reading) {
	e.mu.Lock()
	e.reading = &r
	e.mu.Unlock()
}

// Tick advances the battery by one interval and returns the new state.
//
// With no reading ever received the tick still runs on the previous
// is_home and a neutral multiplier.
func (e *Engine) Tick() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	zone := e.resolveZone()
	multiplier := e.model.Multiplier(e.hrv())

	s := e.state
	s.IsHome = zone.Zone == geofence.Home
	s.ZoneChanged = zone.Changed
	s.StressMultiplier = multiplier

	if s.IsHome {
		s.Level = clampLevel(s.Level + e.cfg.RechargeRate)
	} else {
		s.Level = clampLevel(s.Level - e.Drain(e.deviceCount(), multiplier))
	}

	s.Status = StatusFor(s.IsHome, s.Level, e.cfg.CriticalThreshold)
	s.Message = Message(s.Status)
	s.Ticks++
	s.UpdatedAt = e.now()

	e.state = s
	return s
}

// Drain returns the per-tick away drain for a crowd size and multiplier.
func (e *Engine) Drain(devices uint32, multiplier float64) float64 {
	return (e.cfg.BaseDrainRate + e.cfg.CrowdFactor*float64(devices)) * multiplier
}

// SetHome replaces the home location, resets the battery to defaults and
// re-evaluates the geofence against the cached reading.
func (e *Engine) SetHome(home geofence.HomeLocation) State {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.home = &home

	s := DefaultState()
	s.Ticks = e.state.Ticks
	s.IsHome = true
	if r := e.reading; r != nil {
		switch {
		case r.HomeHint != nil:
			s.IsHome = *r.HomeHint
		case r.Location != nil:
			s.IsHome = geofence.Classify(*r.Location, home) == geofence.Home
		}
	}
	e.fence.Reset(geofence.ZoneOf(s.IsHome))

	s.StressMultiplier = e.model.Multiplier(e.hrv())
	s.Status = StatusFor(s.IsHome, s.Level, e.cfg.CriticalThreshold)
	s.Message = Message(s.Status)
	s.UpdatedAt = e.now()

	e.state = s
	return s
}

// Reset restores the default state and drops the cached reading.
// The home location is kept.
func (e *Engine) Reset() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	ticks := e.state.Ticks
	e.state = DefaultState()
	e.state.Ticks = ticks
	e.state.UpdatedAt = e.now()
	e.reading = nil
	e.fence.Reset(geofence.Home)
	return e.state
}

// SetStressModel swaps the HRV model, for example after a baseline
// recalibration. Takes effect on the next tick.
func (e *Engine) SetStressModel(m stressModel) {
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
}

// Multiplier evaluates the current stress model for hrv without touching
// the state.
func (e *Engine) Multiplier(hrv *float64) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model.Multiplier(hrv)
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Home returns the configured home location, if any.
func (e *Engine) Home() (geofence.HomeLocation, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.home == nil {
		return geofence.HomeLocation{}, false
	}
	return *e.home, true
}

// LastReading returns the cached reading, if any.
func (e *Engine) LastReading() (Reading, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.reading == nil {
		return Reading{}, false
	}
	return *e.reading, true
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// resolveZone decides home/away for this tick: the client hint wins, then
// the geofence when both a fix and a home exist, else the previous zone.
// Caller holds e.mu.
func (e *Engine) resolveZone() geofence.Result {
	r := e.reading
	switch {
	case r == nil:
		return e.fence.Observe(geofence.ZoneOf(e.state.IsHome))
	case r.HomeHint != nil:
		return e.fence.Observe(geofence.ZoneOf(*r.HomeHint))
	case r.Location != nil && e.home != nil:
		return e.fence.Evaluate(*r.Location, *e.home)
	default:
		return e.fence.Observe(geofence.ZoneOf(e.state.IsHome))
	}
}

func (e *Engine) hrv() *float64 {
	if e.reading == nil {
		return nil
	}
	return e.reading.HRV
}

func (e *Engine) deviceCount() uint32 {
	if e.reading == nil {
		return 0
	}
	return e.reading.DeviceCount
}

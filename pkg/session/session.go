// Package session binds one battery engine to its tick loop, its
// connections and its persisted profile.
//
// A session is the unit of ownership: the engine, home location and hub
// are never shared across sessions. Ticks, home changes and resets are
// serialized on one mutex so every published snapshot reflects a single
// completed mutation, in order.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/teslashibe/go-volt/pkg/battery"
	"github.com/teslashibe/go-volt/pkg/geofence"
	"github.com/teslashibe/go-volt/pkg/hub"
	"github.com/teslashibe/go-volt/pkg/ingest"
	"github.com/teslashibe/go-volt/pkg/metrics"
	"github.com/teslashibe/go-volt/pkg/protocol"
	"github.com/teslashibe/go-volt/pkg/store"
)

// DefaultID is used when a client connects without a session id.
const DefaultID = "default"

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidID reports whether id is an acceptable session id.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Broadcast triggers, used as metric labels.
const (
	TriggerOpen  = "open"
	TriggerTick  = "tick"
	TriggerHome  = "home"
	TriggerReset = "reset"
)

// Session is one user's battery.
type Session struct {
	ID string

	cfg        Config
	engine     *battery.Engine
	hub        *hub.Hub
	normalizer *ingest.Normalizer
	seq        ingest.SeqGuard
	store      store.Store
	updates    *rate.Limiter // POST /update budget, nil when unlimited
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// opMu serializes tick, SetHome, Reset and their broadcasts
	opMu    sync.Mutex
	profile store.Profile

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   atomic.Bool
	closeMu  sync.Once
	conns    atomic.Int64
	lastSeen atomic.Int64 // unix nanos of the last connection or reading
	opened   time.Time
}

// open creates a session, loads its profile and starts its tick loop.
// The session lives until Close regardless of parent cancellation of
// the request that created it; parent is the manager's lifetime.
func open(parent context.Context, id string, cfg Config, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Session {
	logger = logger.With("session", id)

	profile := loadProfile(parent, id, cfg, st, logger)

	model := cfg.Battery.Stress.WithBaseline(profile.BaselineHRV)
	bcfg := cfg.Battery
	bcfg.Stress = model

	var opts []battery.Option
	if profile.Home != nil {
		opts = append(opts, battery.WithHome(*profile.Home))
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		ID:         id,
		cfg:        cfg,
		engine:     battery.NewEngine(bcfg, opts...),
		hub:        hub.New("session:"+id, logger),
		normalizer: ingest.New(cfg.Ingest),
		store:      st,
		metrics:    m,
		logger:     logger,
		profile:    profile,
		cancel:     cancel,
		opened:     time.Now(),
	}
	s.updates = cfg.newLimiter()
	s.touch()
	s.hub.OnDrop(func(c *hub.Client) {
		s.logger.Warn("dropped slow connection", "conn", c.ID)
	})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()

	// The hub replays this to the first connection
	s.opMu.Lock()
	s.publish(s.engine.Snapshot(), TriggerOpen)
	s.opMu.Unlock()

	go func() {
		defer s.wg.Done()
		s.tickLoop(ctx)
	}()

	logger.Info("session opened",
		"home_set", profile.Home != nil,
		"baseline_hrv", model.Baseline,
		"tick", cfg.Battery.TickInterval,
	)
	return s
}

func loadProfile(ctx context.Context, id string, cfg Config, st store.Store, logger *slog.Logger) store.Profile {
	profile := store.Profile{SessionID: id}
	if st == nil {
		return profile
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	p, err := st.Load(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return profile
	case err != nil:
		logger.Warn("profile load failed, using defaults", "error", err)
		return profile
	}
	return p
}

// tickLoop fires Tick on a fixed interval until ctx is cancelled.
// A time.Ticker drops ticks rather than queueing them, so a slow tick can
// never cause two ticks to run back to back or concurrently.
func (s *Session) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Battery.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick advances the battery once and broadcasts the result. It is called
// by the tick loop; tests may call it directly.
func (s *Session) Tick() protocol.EnergyState {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	var st battery.State
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("tick panicked", "panic", r)
				st = s.engine.Snapshot()
			}
		}()
		st = s.engine.Tick()
	}()

	s.metrics.Tick()
	if st.ZoneChanged {
		s.logger.Info("zone changed", "is_home", st.IsHome, "level", st.Level)
	}
	return s.publish(st, TriggerTick)
}

// publish broadcasts st. Caller holds opMu.
func (s *Session) publish(st battery.State, trigger string) protocol.EnergyState {
	wire := st.Wire()
	if err := s.hub.BroadcastJSON(wire); err != nil {
		if !errors.Is(err, hub.ErrStopped) {
			s.logger.Error("broadcast failed", "error", err)
		}
		return wire
	}
	s.metrics.Broadcast(trigger)
	s.metrics.ObserveState(s.ID, wire)
	s.logger.Debug("state published",
		"trigger", trigger,
		"level", wire.CurrentLevel,
		"status", wire.Status,
		"multiplier", wire.StressMultiplier,
	)
	return wire
}

// Ingest normalizes a reading and replaces the latest-reading cache.
// Validation problems are absorbed; only stale readings and a closed
// session produce errors, and those are never sent to the client.
func (s *Session) Ingest(raw protocol.SensorReading) (ingest.Report, error) {
	if s.closed.Load() {
		return ingest.Report{}, ErrClosed
	}
	if !s.seq.Accept(raw.Seq) {
		s.metrics.Reading("stale")
		return ingest.Report{}, fmt.Errorf("%w: seq %d <= %d", ErrStale, raw.Seq, s.seq.Last())
	}

	reading, rep := s.normalizer.Normalize(raw, time.Now())
	s.engine.Ingest(reading)
	s.touch()

	s.metrics.Reading(rep.Result())
	if !rep.Clean() {
		s.logger.Debug("reading normalized",
			"device_count_clamped", rep.DeviceCountClamped,
			"hrv_dropped", rep.HRVDropped,
			"location_dropped", rep.LocationDropped,
			"fields_dropped", rep.FieldsDropped,
		)
	}
	s.logger.Debug("reading ingested",
		"devices", reading.DeviceCount,
		"mode", s.engine.Config().Stress.Mode(reading.HRV),
		"simulated", rep.Simulated,
	)
	return rep, nil
}

// Update is the request/response variant of a socket reading: the reading
// is ingested like any other and the current level is returned together
// with the multiplier the reading will produce on the next tick.
func (s *Session) Update(raw protocol.SensorReading) (protocol.UpdateResponse, error) {
	if s.updates != nil && !s.updates.Allow() {
		s.metrics.Reading("rate_limited")
		return protocol.UpdateResponse{}, ErrRateLimited
	}
	if _, err := s.Ingest(raw); err != nil {
		return protocol.UpdateResponse{}, err
	}
	r, _ := s.engine.LastReading()
	st := s.engine.Snapshot().Wire()
	return protocol.UpdateResponse{
		Level:      st.CurrentLevel,
		Multiplier: roundMultiplier(s.engine.Multiplier(r.HRV)),
	}, nil
}

// SetHome replaces the home location, resets the battery and pushes the
// new state before returning. The in-memory change applies even when the
// profile cannot be persisted; the save error is returned.
func (s *Session) SetHome(ctx context.Context, home geofence.HomeLocation) (protocol.EnergyState, error) {
	if s.closed.Load() {
		return protocol.EnergyState{}, ErrClosed
	}
	if home.RadiusMeters <= 0 {
		home.RadiusMeters = geofence.DefaultRadiusMeters
	}
	if err := home.Validate(); err != nil {
		return protocol.EnergyState{}, fmt.Errorf("%w: %v", ErrInvalidHome, err)
	}

	s.opMu.Lock()
	wire := s.publish(s.engine.SetHome(home), TriggerHome)
	s.profile.Home = &home
	profile := s.profile
	s.opMu.Unlock()

	s.logger.Info("home location set", "lat", home.Lat, "lon", home.Lon, "radius", home.RadiusMeters)
	return wire, s.save(ctx, profile)
}

// SetBaseline recalibrates the HRV baseline used by the stress model.
func (s *Session) SetBaseline(ctx context.Context, baseline float64) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if baseline <= 0 {
		return fmt.Errorf("baseline_hrv must be positive, got %v", baseline)
	}

	s.opMu.Lock()
	s.engine.SetStressModel(s.engine.Config().Stress.WithBaseline(baseline))
	s.profile.BaselineHRV = baseline
	profile := s.profile
	s.opMu.Unlock()

	s.logger.Info("hrv baseline set", "baseline_hrv", baseline)
	return s.save(ctx, profile)
}

// Reset restores the default battery state and pushes it.
func (s *Session) Reset() (protocol.EnergyState, error) {
	if s.closed.Load() {
		return protocol.EnergyState{}, ErrClosed
	}
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.seq.Reset()
	return s.publish(s.engine.Reset(), TriggerReset), nil
}

func (s *Session) save(ctx context.Context, p store.Profile) error {
	if s.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	p.UpdatedAt = time.Now()
	if err := s.store.Save(ctx, p); err != nil {
		s.logger.Error("profile save failed", "error", err)
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Attach serves one WebSocket connection: the current snapshot is pushed
// immediately, inbound frames are ingested as readings, and every later
// broadcast is forwarded. Blocks until the connection closes.
func (s *Session) Attach(conn hub.Conn) error {
	if s.closed.Load() {
		conn.Close()
		return ErrClosed
	}

	connID := uuid.NewString()
	logger := s.logger.With("conn", connID)

	limiter := s.cfg.newLimiter()

	// A reconnecting client may restart its counter
	s.seq.Reset()
	s.conns.Add(1)
	s.touch()
	s.metrics.ConnectionOpened()
	logger.Info("client connected", "connections", s.conns.Load())

	defer func() {
		s.conns.Add(-1)
		s.touch()
		s.metrics.ConnectionClosed()
		logger.Info("client disconnected", "connections", s.conns.Load())
	}()

	client := hub.NewClient(s.hub, connID, conn, func(data []byte) {
		if err := s.ingestFrame(limiter, data); err != nil {
			logger.Debug("reading not ingested", "error", err)
		}
	})
	if err := client.Run(); err != nil {
		return ErrClosed
	}
	return nil
}

// ingestFrame parses and ingests one socket frame under the connection's
// limiter. Errors are for logging only; the connection stays open.
func (s *Session) ingestFrame(limiter *rate.Limiter, data []byte) error {
	if limiter != nil && !limiter.Allow() {
		s.metrics.Reading("rate_limited")
		return ErrRateLimited
	}
	raw, err := protocol.ParseReading(data)
	if err != nil {
		s.metrics.Reading("invalid")
		s.logger.Warn("dropping malformed reading", "error", err)
		return err
	}
	_, err = s.Ingest(raw)
	return err
}

// Snapshot returns the current state.
func (s *Session) Snapshot() protocol.EnergyState {
	return s.engine.Snapshot().Wire()
}

// State returns the full engine state, including tick count and time.
func (s *Session) State() battery.State {
	return s.engine.Snapshot()
}

// Home returns the session's home location, if set.
func (s *Session) Home() (geofence.HomeLocation, bool) {
	return s.engine.Home()
}

// Connections returns the number of attached connections.
func (s *Session) Connections() int {
	return int(s.conns.Load())
}

// IdleSince returns the time of the last connection event or reading.
func (s *Session) IdleSince() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.closed.Load()
}

// Close stops the tick loop and disconnects every client. It waits for
// both goroutines to exit so no tick can fire afterwards.
func (s *Session) Close() {
	s.closeMu.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.wg.Wait()
		s.logger.Info("session closed", "uptime", time.Since(s.opened).Round(time.Second))
	})
}

func roundMultiplier(v float64) float64 {
	return math.Round(v*100) / 100
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// Info summarizes a session for listings.
type Info struct {
	ID          string               `json:"id"`
	Connections int                  `json:"connections"`
	State       protocol.EnergyState `json:"state"`
	Ticks       uint64               `json:"ticks"`
	HomeSet     bool                 `json:"home_set"`
	IdleSince   time.Time            `json:"idle_since"`
}

// Info returns a summary of the session.
func (s *Session) Info() Info {
	st := s.engine.Snapshot()
	_, homeSet := s.engine.Home()
	return Info{
		ID:          s.ID,
		Connections: s.Connections(),
		State:       st.Wire(),
		Ticks:       st.Ticks,
		HomeSet:     homeSet,
		IdleSince:   s.IdleSince(),
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teslashibe/go-volt/pkg/metrics"
	"github.com/teslashibe/go-volt/pkg/store"
)

// Manager owns every session in the process. A second connection with a
// known session id resumes the existing session rather than creating one.
type Manager struct {
	cfg     Config
	store   store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	cron     *cron.Cron
}

// NewManager creates a session manager. store and m may be nil.
func NewManager(cfg Config, st store.Store, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		store:    st,
		metrics:  m,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*Session),
	}
}

// Start schedules the idle sweep. It is a no-op when IdleTimeout is 0.
func (m *Manager) Start() error {
	if m.cfg.IdleTimeout <= 0 {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.SweepSchedule, func() {
		if n := m.Sweep(time.Now()); n > 0 {
			m.logger.Info("idle sessions closed", "count", n)
		}
	}); err != nil {
		return fmt.Errorf("schedule idle sweep %q: %w", m.cfg.SweepSchedule, err)
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	return nil
}

// Open returns the session for id, creating it on first use.
func (m *Manager) Open(id string) (*Session, error) {
	if id == "" {
		id = DefaultID
	}
	if !ValidID(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ctx.Err(); err != nil {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[id]; ok && !s.Closed() {
		return s, nil
	}

	s := open(m.ctx, id, m.cfg, m.store, m.metrics, m.logger)
	m.sessions[id] = s
	m.metrics.SessionOpened()
	return s, nil
}

// Get returns an existing session.
func (m *Manager) Get(id string) (*Session, error) {
	if id == "" {
		id = DefaultID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.Closed() {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return s, nil
}

// Close tears down a session. Its profile stays in the store.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	s.Close()
	m.metrics.SessionClosed(id)
	return nil
}

// Purge closes the session if it is open and deletes its stored profile,
// so the next Open starts from defaults. Purging an unknown id is not an
// error.
func (m *Manager) Purge(ctx context.Context, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := m.Close(id); err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if m.store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete profile: %w", err)
	}
	m.logger.Info("session purged", "session", id)
	return nil
}

// List returns a summary of every session, sorted by id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions with no connections that have been idle longer
// than IdleTimeout as of now. Returns the number closed.
func (m *Manager) Sweep(now time.Time) int {
	if m.cfg.IdleTimeout <= 0 {
		return 0
	}

	var idle []string
	m.mu.Lock()
	for id, s := range m.sessions {
		if s.Connections() == 0 && now.Sub(s.IdleSince()) > m.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	closed := 0
	for _, id := range idle {
		if err := m.Close(id); err == nil {
			closed++
		}
	}
	return closed
}

// Shutdown stops the sweep and closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	m.mu.Lock()
	m.cancel()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Close(id)
	}
}

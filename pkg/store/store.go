// Package store persists per-session profiles: the home location and the
// calibrated HRV baseline. Battery levels are never persisted; a restarted
// session starts from defaults.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/teslashibe/go-volt/pkg/geofence"
)

// ErrNotFound is returned when no profile exists for a session.
var ErrNotFound = errors.New("profile not found")

// ErrClosed is returned when using a store after Close.
var ErrClosed = errors.New("store closed")

// Profile is the persisted part of a session.
type Profile struct {
	SessionID   string                 `json:"session_id"`
	Home        *geofence.HomeLocation `json:"home,omitempty"`
	BaselineHRV float64                `json:"baseline_hrv,omitempty"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// Store defines the interface for profile persistence backends.
type Store interface {
	// Load retrieves the profile for a session, or ErrNotFound.
	Load(ctx context.Context, sessionID string) (Profile, error)

	// Save creates or replaces the profile.
	Save(ctx context.Context, p Profile) error

	// Delete removes the profile. Deleting a missing profile is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore keeps profiles in a map. Used in tests and when no data
// directory is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]Profile)}
}

// Load returns the stored profile.
func (s *MemoryStore) Load(_ context.Context, sessionID string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Profile{}, ErrClosed
	}
	p, ok := s.profiles[sessionID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// Save stores the profile.
func (s *MemoryStore) Save(_ context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.profiles[p.SessionID] = p
	return nil
}

// Delete removes the profile.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.profiles, sessionID)
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

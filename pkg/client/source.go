package client

import (
	"context"
	"sync"

	"github.com/teslashibe/go-volt/pkg/protocol"
)

// Source produces the next sensor reading. Returning an error skips the
// send; the connection stays open.
type Source interface {
	Reading(ctx context.Context) (protocol.SensorReading, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (protocol.SensorReading, error)

// Reading calls f.
func (f SourceFunc) Reading(ctx context.Context) (protocol.SensorReading, error) {
	return f(ctx)
}

// StaticSource always reports the same reading until Set replaces it.
type StaticSource struct {
	mu      sync.RWMutex
	reading protocol.SensorReading
}

// NewStaticSource creates a source reporting r.
func NewStaticSource(r protocol.SensorReading) *StaticSource {
	return &StaticSource{reading: r}
}

// Set replaces the reported reading.
func (s *StaticSource) Set(r protocol.SensorReading) {
	s.mu.Lock()
	s.reading = r
	s.mu.Unlock()
}

// Reading returns the current reading.
func (s *StaticSource) Reading(context.Context) (protocol.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reading, nil
}

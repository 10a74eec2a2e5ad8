// Package protocol defines the WebSocket and REST message types for
// client-server battery synchronization.
// This package is shared between the server (cmd/volt) and clients
// (cmd/voltctl, pkg/client) so the schema exists exactly once.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Status is the battery state reported to clients.
type Status string

const (
	StatusIdle       Status = "IDLE"       // Home and fully charged
	StatusRecharging Status = "RECHARGING" // Home, level below 100
	StatusDraining   Status = "DRAINING"   // Away, above the critical threshold
	StatusCritical   Status = "CRITICAL"   // Away, at or below the critical threshold
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusIdle, StatusRecharging, StatusDraining, StatusCritical:
		return true
	}
	return false
}

// Charging reports whether the status belongs to the home side of the geofence.
func (s Status) Charging() bool {
	return s == StatusIdle || s == StatusRecharging
}

// =============================================================================
// Client → Server
// =============================================================================

// SensorReading is pushed by clients at their own cadence.
// Every field except the device count is optional on the wire. A member
// that fails to decode is skipped and named in Dropped instead of failing
// the whole reading.
type SensorReading struct {
	Latitude          *float64 `json:"latitude,omitempty"`
	Longitude         *float64 `json:"longitude,omitempty"`
	NearbyDeviceCount int64    `json:"nearby_device_count"`
	HRVValue          *float64 `json:"hrv_value"`
	IsHome            *bool    `json:"is_home,omitempty"`    // Client-side geofence hint
	Simulation        bool     `json:"simulation,omitempty"` // Replace device count with the synthetic crowd
	Seq               uint64   `json:"seq,omitempty"`        // Optional monotonic counter, 0 = unsequenced

	Dropped []string `json:"-"` // Members discarded while decoding
}

// HasLocation reports whether both coordinates are present.
func (r SensorReading) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

// ParseReading decodes a reading from a WebSocket frame. It fails only when
// the frame is not a JSON object.
func ParseReading(data []byte) (SensorReading, error) {
	var r SensorReading
	if err := json.Unmarshal(data, &r); err != nil {
		return SensorReading{}, fmt.Errorf("failed to parse reading: %w", err)
	}
	return r, nil
}

// =============================================================================
// Server → Client
// =============================================================================

// EnergyState is the full snapshot pushed on connect, after every tick and
// after every out-of-band mutation.
type EnergyState struct {
	CurrentLevel     float64 `json:"current_level"`
	Status           Status  `json:"status"`
	StressMultiplier float64 `json:"stress_multiplier"`
	IsHome           bool    `json:"is_home"`
	Message          string  `json:"message"`
	ZoneChanged      bool    `json:"zone_changed,omitempty"` // Geofence edge on this tick
}

// Bytes returns the JSON-encoded snapshot.
func (s EnergyState) Bytes() ([]byte, error) {
	return json.Marshal(s)
}

// ParseState decodes a snapshot frame.
func ParseState(data []byte) (EnergyState, error) {
	var s EnergyState
	if err := json.Unmarshal(data, &s); err != nil {
		return EnergyState{}, fmt.Errorf("failed to parse state: %w", err)
	}
	return s, nil
}

// =============================================================================
// REST
// =============================================================================

// UpdateRequest is the body of POST /update, the poll-based variant of
// SensorReading.
type UpdateRequest struct {
	IsHome      *bool    `json:"is_home"`
	DeviceCount int64    `json:"device_count"`
	HRV         *float64 `json:"hrv"`

	Dropped []string `json:"-"`
}

// Reading converts the REST body into a SensorReading.
func (u UpdateRequest) Reading() SensorReading {
	return SensorReading{
		NearbyDeviceCount: u.DeviceCount,
		HRVValue:          u.HRV,
		IsHome:            u.IsHome,
		Dropped:           u.Dropped,
	}
}

// UpdateResponse is returned by POST /update.
type UpdateResponse struct {
	Level      float64 `json:"level"`
	Multiplier float64 `json:"multiplier"`
}

// HomeLocation is the body of PUT /api/sessions/:id/home.
type HomeLocation struct {
	Latitude     float64 `json:"latitude" validate:"latitude"`
	Longitude    float64 `json:"longitude" validate:"longitude"`
	RadiusMeters float64 `json:"radius_meters,omitempty" validate:"gte=0"`
}

// ErrorResponse is returned by REST handlers on failure.
type ErrorResponse struct {
	Error string `json:"error"`
}

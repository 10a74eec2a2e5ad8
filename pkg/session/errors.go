package session

import "errors"

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("session not found")

	// ErrClosed is returned when using a session after Close.
	ErrClosed = errors.New("session closed")

	// ErrInvalidID is returned for session ids outside [A-Za-z0-9_-]{1,64}.
	ErrInvalidID = errors.New("invalid session id")

	// ErrInvalidHome is returned when a home location fails validation.
	ErrInvalidHome = errors.New("invalid home location")

	// ErrRateLimited is returned when a reading exceeds the configured rate.
	ErrRateLimited = errors.New("reading rate limited")

	// ErrStale is returned when a reading's seq is not newer than the last one.
	ErrStale = errors.New("stale reading")
)

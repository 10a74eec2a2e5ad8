// Package client connects a device to the battery server: it keeps a
// WebSocket open with fixed-delay reconnects, sends sensor readings at its
// own cadence and delivers every pushed snapshot.
package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds client configuration.
type Config struct {
	// URL is the server base URL.
	// Examples: "ws://localhost:8000", "wss://volt.example.com"
	URL string `yaml:"url" json:"url"`

	// Session is the session id. Empty uses the server default.
	Session string `yaml:"session" json:"session"`

	// SendInterval is how often a reading is taken from the Source.
	SendInterval time.Duration `yaml:"send_interval" json:"send_interval"`

	// ReconnectInterval is the fixed delay between connection attempts.
	ReconnectInterval time.Duration `yaml:"reconnect_interval" json:"reconnect_interval"`

	// HandshakeTimeout bounds each dial.
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" json:"handshake_timeout"`

	// ReadTimeout is how long the connection may stay silent before it is
	// treated as dead. The server pushes a snapshot every tick, so this
	// should span a few tick intervals.
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// MaxReconnectAttempts is the maximum number of consecutive failed
	// attempts. 0 means unlimited.
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts" json:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:8000",
		SendInterval:         3 * time.Second,
		ReconnectInterval:    3 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		ReadTimeout:          15 * time.Second,
		MaxReconnectAttempts: 0, // Unlimited
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
	}
	if c.SendInterval <= 0 {
		return fmt.Errorf("send_interval must be positive")
	}
	if c.ReconnectInterval <= 0 {
		return fmt.Errorf("reconnect_interval must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("handshake_timeout must be positive")
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	return nil
}

// Endpoint returns the WebSocket URL for the configured session.
func (c *Config) Endpoint() string {
	base := strings.TrimRight(c.URL, "/")
	if c.Session == "" {
		return base + "/ws"
	}
	return base + "/ws/" + url.PathEscape(c.Session)
}

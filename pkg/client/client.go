package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-volt/pkg/metrics"
	"github.com/teslashibe/go-volt/pkg/protocol"
)

const writeWait = 10 * time.Second

// ErrMaxReconnects is returned by Run when MaxReconnectAttempts consecutive
// attempts have failed.
var ErrMaxReconnects = errors.New("max reconnect attempts reached")

// Client keeps one device connected to its session.
type Client struct {
	cfg     Config
	source  Source
	logger  *slog.Logger
	metrics *metrics.Metrics
	dialer  *websocket.Dialer

	mu           sync.RWMutex
	last         *protocol.EnergyState
	onState      func(protocol.EnergyState)
	onConnect    func()
	onDisconnect func(error)

	seq        atomic.Uint64
	connected  atomic.Bool
	reconnects atomic.Int64
	received   atomic.Int64
	sent       atomic.Int64
}

// New creates a client. source may be nil for a watch-only client.
// Call Run to connect.
func New(cfg Config, source Source, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		source: source,
		logger: logger.With("component", "client", "session", cfg.Session),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}, nil
}

// WithMetrics counts reconnects on m.
func (c *Client) WithMetrics(m *metrics.Metrics) *Client {
	c.metrics = m
	return c
}

// OnState sets the callback for every snapshot received.
func (c *Client) OnState(fn func(protocol.EnergyState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnConnect sets the callback fired after each successful dial.
func (c *Client) OnConnect(fn func()) {
	c.mu.Lock()
	c.onConnect = fn
	c.mu.Unlock()
}

// OnDisconnect sets the callback fired when a connection ends.
func (c *Client) OnDisconnect(fn func(error)) {
	c.mu.Lock()
	c.onDisconnect = fn
	c.mu.Unlock()
}

// Run connects and stays connected until ctx is cancelled, retrying with
// a fixed delay after every failed dial or dropped connection.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0

	for {
		connected, err := c.serve(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			attempts = 0
		}

		attempts++
		c.reconnects.Add(1)
		c.metrics.Reconnect()

		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("%w (%d): %v", ErrMaxReconnects, c.cfg.MaxReconnectAttempts, err)
		}

		c.logger.Warn("connection lost, retrying",
			"error", err,
			"attempt", attempts,
			"retry_in", c.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// serve runs one connection to completion. connected reports whether the
// dial succeeded.
func (c *Client) serve(ctx context.Context) (connected bool, err error) {
	endpoint := c.cfg.Endpoint()
	conn, resp, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial %s: status %d: %w", endpoint, resp.StatusCode, err)
		}
		return false, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c.connected.Store(true)
	c.logger.Info("connected", "endpoint", endpoint)
	c.mu.RLock()
	onConnect := c.onConnect
	c.mu.RUnlock()
	if onConnect != nil {
		onConnect()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readPump(conn) })
	if c.source != nil {
		g.Go(func() error { return c.writePump(gctx, conn) })
	}
	g.Go(func() error {
		<-gctx.Done()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		return conn.Close()
	})

	err = g.Wait()
	c.connected.Store(false)

	c.mu.RLock()
	onDisconnect := c.onDisconnect
	c.mu.RUnlock()
	if onDisconnect != nil {
		onDisconnect(err)
	}
	return true, err
}

// readPump delivers snapshots until the connection fails or stays silent
// for longer than ReadTimeout. Snapshots and server pings both extend the
// deadline.
func (c *Client) readPump(conn *websocket.Conn) error {
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	})

	for {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		st, err := protocol.ParseState(data)
		if err != nil {
			c.logger.Warn("dropping malformed snapshot", "error", err)
			continue
		}
		c.received.Add(1)

		c.mu.Lock()
		c.last = &st
		onState := c.onState
		c.mu.Unlock()
		if onState != nil {
			onState(st)
		}
	}
}

// writePump sends one reading immediately and then every SendInterval.
// It is the only writer of data frames on conn.
func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(c.cfg.SendInterval)
	defer ticker.Stop()

	for {
		if err := c.sendReading(ctx, conn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Client) sendReading(ctx context.Context, conn *websocket.Conn) error {
	r, err := c.source.Reading(ctx)
	if err != nil {
		c.logger.Debug("no reading this round", "error", err)
		return nil
	}
	r.Seq = c.seq.Add(1)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(r); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	c.sent.Add(1)
	return nil
}

// Last returns the most recent snapshot, if any.
func (c *Client) Last() (protocol.EnergyState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return protocol.EnergyState{}, false
	}
	return *c.last, true
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Stats holds client counters.
type Stats struct {
	Reconnects       int64 `json:"reconnects"`
	MessagesReceived int64 `json:"messages_received"`
	ReadingsSent     int64 `json:"readings_sent"`
}

// Stats returns client counters.
func (c *Client) Stats() Stats {
	return Stats{
		Reconnects:       c.reconnects.Load(),
		MessagesReceived: c.received.Load(),
		ReadingsSent:     c.sent.Load(),
	}
}

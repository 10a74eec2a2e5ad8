// Package web serves the battery over fiber: one WebSocket route per
// session plus a small REST surface for the request/response variant,
// home and baseline configuration, health and metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	reqlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-volt/pkg/metrics"
	"github.com/teslashibe/go-volt/pkg/protocol"
	"github.com/teslashibe/go-volt/pkg/session"
)

// Config holds HTTP server settings.
type Config struct {
	// Port is the TCP port to listen on.
	Port int `yaml:"port" json:"port"`

	// Debug enables the request logger middleware.
	Debug bool `yaml:"debug" json:"debug"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Port:            8000,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive, got %v", c.ShutdownTimeout)
	}
	return nil
}

// Addr returns the listen address for Port.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Server is the battery HTTP server.
type Server struct {
	cfg      Config
	app      *fiber.App
	sessions *session.Manager
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *slog.Logger
	version  string
}

// NewServer creates a server over the session manager. m and logger may be nil.
func NewServer(cfg Config, sessions *session.Manager, m *metrics.Metrics, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		metrics:  m,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With("component", "web"),
		version:  version,
	}

	app := fiber.New(fiber.Config{
		AppName:               "volt",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		app.Use(reqlog.New())
	}

	s.registerSocketRoutes(app)
	s.registerAPIRoutes(app)

	app.Get("/health", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Run listens on the configured port until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr())
		errc <- s.app.Listen(s.cfg.Addr())
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	case <-ctx.Done():
	}

	return s.Shutdown()
}

// Shutdown stops accepting requests and waits up to ShutdownTimeout for
// in-flight ones.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleError renders every error as protocol.ErrorResponse.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := statusFor(err)
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(protocol.ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	var fe *fiber.Error
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.As(err, &ve),
		errors.Is(err, session.ErrInvalidID),
		errors.Is(err, session.ErrInvalidHome):
		return fiber.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, session.ErrStale):
		return fiber.StatusConflict
	case errors.Is(err, session.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, session.ErrClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  s.version,
		"sessions": s.sessions.Count(),
	})
}

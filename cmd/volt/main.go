// volt: social battery server
// Runs one battery per session and streams its state over WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-volt/internal/config"
	"github.com/teslashibe/go-volt/internal/log"
	"github.com/teslashibe/go-volt/pkg/metrics"
	"github.com/teslashibe/go-volt/pkg/session"
	"github.com/teslashibe/go-volt/pkg/store"
	"github.com/teslashibe/go-volt/pkg/web"
)

var (
	version    = "1.0.0"
	configPath = flag.String("config", "", "Path to YAML config file")
	port       = flag.Int("port", 0, "HTTP server port (overrides config)")
	debug      = flag.Bool("debug", false, "Enable debug logging")
	simulate   = flag.Bool("simulate", false, "Force simulation mode for every reading")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "volt: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *debug {
		cfg.Server.Debug = true
		cfg.Log.Level = "debug"
	}
	if *simulate {
		cfg.Session.Ingest.Simulation = true
	}

	log.Init(cfg.Log.Level, cfg.Log.Format)
	logger := log.L()
	logger.Info("starting volt",
		"version", version,
		"port", cfg.Server.Port,
		"tick", cfg.Session.Battery.TickInterval,
		"store", cfg.Store.Driver,
		"simulation", cfg.Session.Ingest.Simulation,
	)

	profiles, err := openStore(cfg.Store, logger)
	if err != nil {
		return err
	}
	defer profiles.Close()

	m := metrics.New()
	sessions := session.NewManager(cfg.Session, profiles, m, log.With("component", "session"))
	if err := sessions.Start(); err != nil {
		return err
	}
	defer sessions.Shutdown()

	server := web.NewServer(cfg.Server, sessions, m, logger, version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx)
	})

	err = g.Wait()
	logger.Info("shutting down", "sessions", sessions.Count())
	return err
}

func openStore(cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	if cfg.Driver == config.StoreMemory {
		logger.Warn("using in-memory profile store, homes will not survive a restart")
		return store.NewMemoryStore(), nil
	}
	s, err := store.OpenBadger(cfg.Badger, logger.With("component", "store"))
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	return s, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-volt/internal/log"
	"github.com/teslashibe/go-volt/pkg/client"
	"github.com/teslashibe/go-volt/pkg/protocol"
)

var (
	watchInterval  time.Duration
	watchReconnect time.Duration
	watchSimulate  bool
)

func runWatch(cmd *cobra.Command, args []string) error {
	id := ""
	if len(args) == 1 {
		id = args[0]
	} else {
		id = uuid.NewString()
		fmt.Fprintf(os.Stderr, "session: %s\n", id)
	}

	base, err := socketURL(serverURL)
	if err != nil {
		return err
	}

	cfg := client.DefaultConfig()
	cfg.URL = base
	cfg.Session = id
	if watchInterval > 0 {
		cfg.SendInterval = watchInterval
	}
	if watchReconnect > 0 {
		cfg.ReconnectInterval = watchReconnect
	}

	source, err := watchSource(cmd)
	if err != nil {
		return err
	}

	c, err := client.New(cfg, source, log.L())
	if err != nil {
		return err
	}
	c.OnState(printState)
	c.OnConnect(func() { fmt.Fprintln(os.Stderr, "connected") })
	c.OnDisconnect(func(err error) { fmt.Fprintf(os.Stderr, "disconnected: %v\n", err) })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = c.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchSource builds a static source from the reading flags, or nil when
// none were given.
func watchSource(cmd *cobra.Command) (client.Source, error) {
	flags := cmd.Flags()
	if !flags.Changed("lat") && !flags.Changed("lon") && !flags.Changed("devices") &&
		!flags.Changed("hrv") && !flags.Changed("home") && !watchSimulate {
		return nil, nil
	}

	hint, err := homeHint(readingHome)
	if err != nil {
		return nil, err
	}

	r := protocol.SensorReading{IsHome: hint, Simulation: watchSimulate}
	if flags.Changed("lat") || flags.Changed("lon") {
		r.Latitude = protocol.Float(readingLat)
		r.Longitude = protocol.Float(readingLon)
	}
	if readingDevices > 0 {
		r.NearbyDeviceCount = readingDevices
	}
	if readingHRV > 0 {
		r.HRVValue = protocol.Float(readingHRV)
	}
	return client.NewStaticSource(r), nil
}

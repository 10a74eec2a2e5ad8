package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-volt/internal/log"
	"github.com/teslashibe/go-volt/pkg/protocol"
)

// --- Global Command Variables ---
var (
	serverURL string
	logLevel  string
	jsonOut   bool

	rootCmd = &cobra.Command{
		Use:           "voltctl",
		Short:         "Talk to a volt social battery server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.Init(logLevel, "")
		},
	}

	watchCmd = &cobra.Command{
		Use:   "watch [session]",
		Short: "Stream battery snapshots, optionally sending readings",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	updateCmd = &cobra.Command{
		Use:   "update",
		Short: "Send one reading over REST and print level and multiplier",
		Args:  cobra.NoArgs,
		RunE:  runUpdate,
	}

	homeCmd = &cobra.Command{
		Use:   "home <session>",
		Short: "Set a session's home location",
		Args:  cobra.ExactArgs(1),
		RunE:  runHome,
	}

	baselineCmd = &cobra.Command{
		Use:   "baseline <session> <hrv>",
		Short: "Set a session's resting HRV baseline in ms",
		Args:  cobra.ExactArgs(2),
		RunE:  runBaseline,
	}

	stateCmd = &cobra.Command{
		Use:   "state <session>",
		Short: "Print a session's current snapshot",
		Args:  cobra.ExactArgs(1),
		RunE:  runState,
	}

	resetCmd = &cobra.Command{
		Use:   "reset <session>",
		Short: "Restore a session's battery to full",
		Args:  cobra.ExactArgs(1),
		RunE:  runReset,
	}

	sessionsCmd = &cobra.Command{
		Use:   "sessions",
		Short: "List open sessions",
		Args:  cobra.NoArgs,
		RunE:  runSessions,
	}

	closeCmd = &cobra.Command{
		Use:   "close <session>",
		Short: "Close a session on the server, --purge also forgets its profile",
		Args:  cobra.ExactArgs(1),
		RunE:  runClose,
	}
)

// Reading flags shared by watch and update.
var (
	readingLat     float64
	readingLon     float64
	readingDevices int64
	readingHRV     float64
	readingHome    string
	readingSession string
)

// Home flags.
var (
	homeLat    float64
	homeLon    float64
	homeRadius float64
)

var closePurge bool

func init() {
	defaultServer := "http://localhost:8000"
	if v := os.Getenv("VOLT_SERVER"); v != "" {
		defaultServer = v
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "Server base URL (env VOLT_SERVER)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print raw JSON")

	for _, cmd := range []*cobra.Command{watchCmd, updateCmd} {
		cmd.Flags().Int64Var(&readingDevices, "devices", -1, "Nearby device count to report (-1 sends nothing)")
		cmd.Flags().Float64Var(&readingHRV, "hrv", 0, "HRV in ms (0 reports none)")
		cmd.Flags().StringVar(&readingHome, "home", "", "Home hint: true, false or empty for none")
	}
	watchCmd.Flags().Float64Var(&readingLat, "lat", 0, "Latitude to report")
	watchCmd.Flags().Float64Var(&readingLon, "lon", 0, "Longitude to report")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "Send interval (default 3s)")
	watchCmd.Flags().DurationVar(&watchReconnect, "reconnect", 0, "Reconnect delay (default 3s)")
	watchCmd.Flags().BoolVar(&watchSimulate, "simulate", false, "Mark readings as simulated")
	updateCmd.Flags().StringVar(&readingSession, "session", "", "Session id (server default when empty)")

	homeCmd.Flags().Float64Var(&homeLat, "lat", 0, "Home latitude")
	homeCmd.Flags().Float64Var(&homeLon, "lon", 0, "Home longitude")
	homeCmd.Flags().Float64Var(&homeRadius, "radius", 0, "Home radius in meters (default 100)")
	homeCmd.MarkFlagRequired("lat")
	homeCmd.MarkFlagRequired("lon")

	closeCmd.Flags().BoolVar(&closePurge, "purge", false, "Also delete the stored home and baseline")

	rootCmd.AddCommand(watchCmd, updateCmd, homeCmd, baselineCmd, stateCmd, resetCmd, sessionsCmd, closeCmd)
}

// homeHint parses the --home flag.
func homeHint(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, fmt.Errorf("--home must be true or false, got %q", v)
	}
	return &b, nil
}

// apiURL joins the server base URL and path.
func apiURL(path string, query url.Values) string {
	u := strings.TrimRight(serverURL, "/") + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// socketURL converts the server base URL to its WebSocket form.
func socketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func printState(st protocol.EnergyState) {
	if jsonOut {
		if data, err := st.Bytes(); err == nil {
			fmt.Println(string(data))
		}
		return
	}
	home := "away"
	if st.IsHome {
		home = "home"
	}
	fmt.Printf("%6.2f%%  %-10s x%.2f  %-4s  %s\n",
		st.CurrentLevel, st.Status, st.StressMultiplier, home, st.Message)
}

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-volt/internal/httpc"
	"github.com/teslashibe/go-volt/pkg/protocol"
	"github.com/teslashibe/go-volt/pkg/session"
)

func runUpdate(cmd *cobra.Command, args []string) error {
	hint, err := homeHint(readingHome)
	if err != nil {
		return err
	}
	req := protocol.UpdateRequest{IsHome: hint}
	if readingDevices > 0 {
		req.DeviceCount = readingDevices
	}
	if readingHRV > 0 {
		req.HRV = protocol.Float(readingHRV)
	}

	query := url.Values{}
	if readingSession != "" {
		query.Set("session", readingSession)
	}

	var resp protocol.UpdateResponse
	if err := httpc.DoJSON(cmd.Context(), http.MethodPost, apiURL("/update", query), req, &resp); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(resp)
	}
	fmt.Printf("level %.2f%%  multiplier x%.2f\n", resp.Level, resp.Multiplier)
	return nil
}

func runHome(cmd *cobra.Command, args []string) error {
	req := protocol.HomeLocation{Latitude: homeLat, Longitude: homeLon, RadiusMeters: homeRadius}

	var st protocol.EnergyState
	if err := httpc.DoJSON(cmd.Context(), http.MethodPut, sessionURL(args[0], "/home"), req, &st); err != nil {
		return err
	}
	printState(st)
	return nil
}

func runBaseline(cmd *cobra.Command, args []string) error {
	hrv, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid hrv %q: %w", args[1], err)
	}

	body := map[string]float64{"baseline_hrv": hrv}
	if err := httpc.DoJSON(cmd.Context(), http.MethodPut, sessionURL(args[0], "/baseline"), body, nil); err != nil {
		return err
	}
	fmt.Printf("baseline set to %.1f ms\n", hrv)
	return nil
}

func runState(cmd *cobra.Command, args []string) error {
	var st protocol.EnergyState
	if err := httpc.DoJSON(cmd.Context(), http.MethodGet, sessionURL(args[0], "/state"), nil, &st); err != nil {
		return err
	}
	printState(st)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	var st protocol.EnergyState
	if err := httpc.DoJSON(cmd.Context(), http.MethodPost, sessionURL(args[0], "/reset"), nil, &st); err != nil {
		return err
	}
	printState(st)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	var out struct {
		Sessions []session.Info `json:"sessions"`
		Count    int            `json:"count"`
	}
	if err := httpc.DoJSON(cmd.Context(), http.MethodGet, apiURL("/api/sessions", nil), nil, &out); err != nil {
		return err
	}
	if jsonOut {
		return printJSON(out)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLEVEL\tSTATUS\tCONNS\tTICKS\tHOME SET")
	for _, s := range out.Sessions {
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%d\t%d\t%v\n",
			s.ID, s.State.CurrentLevel, s.State.Status, s.Connections, s.Ticks, s.HomeSet)
	}
	return w.Flush()
}

func runClose(cmd *cobra.Command, args []string) error {
	var query url.Values
	verb := "closed"
	if closePurge {
		query = url.Values{"purge": {"true"}}
		verb = "purged"
	}
	if err := httpc.DoJSON(cmd.Context(), http.MethodDelete, apiURL("/api/sessions/"+url.PathEscape(args[0]), query), nil, nil); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", verb, args[0])
	return nil
}

func sessionURL(id, suffix string) string {
	return apiURL("/api/sessions/"+url.PathEscape(id)+suffix, nil)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

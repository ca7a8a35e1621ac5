package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/pseudocoder/pairgate/internal/server"
	"github.com/pseudocoder/pairgate/internal/session"
)

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate status [options]\n\nShow the status of the local gateway.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var status server.StatusResponse
	if _, err := client.do(http.MethodGet, "/status", nil, &status, 0); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	writeStatusOutput(stdout, &status)
	return 0
}

// writeStatusOutput renders human-readable gateway status.
func writeStatusOutput(stdout io.Writer, status *server.StatusResponse) {
	fmt.Fprintf(stdout, "Gateway Status\n")
	fmt.Fprintf(stdout, "==============\n")
	fmt.Fprintf(stdout, "Listening:    %s\n", status.ListeningAddress)
	fmt.Fprintf(stdout, "TLS:          %v\n", status.TLSEnabled)
	fmt.Fprintf(stdout, "Auth:         %v\n", status.RequireAuth)
	if status.Driver != "" {
		fmt.Fprintf(stdout, "Driver:       %s\n", status.Driver)
	}
	fmt.Fprintf(stdout, "Sessions:     %d / %d\n", status.Sessions, status.MaxSessions)
	fmt.Fprintf(stdout, "Uptime:       %s\n", formatUptime(status.UptimeSeconds))

	if len(status.States) > 0 {
		states := make([]session.State, 0, len(status.States))
		for s := range status.States {
			states = append(states, s)
		}
		sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
		for _, s := range states {
			fmt.Fprintf(stdout, "  %-14s %d\n", s, status.States[s])
		}
	}
}

// formatUptime formats an uptime in seconds as a human-readable string.
// Examples: "45s", "5m 23s", "2h 15m", "3d 4h"
func formatUptime(seconds int64) string {
	d := time.Duration(seconds) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", seconds)
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd %dh", int(d.Hours())/24, int(d.Hours())%24)
}

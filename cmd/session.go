package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	apperrors "github.com/pseudocoder/pairgate/internal/errors"
	"github.com/pseudocoder/pairgate/internal/server"
	"github.com/pseudocoder/pairgate/internal/session"
	"github.com/pseudocoder/pairgate/internal/storage"
)

const sessionUsage = `Usage: pairgate session <command> [options]

Commands:
  start <tenant>      Start a tenant session
  status <tenant>     Show a tenant's session state
  pairing <tenant>    Show the current pairing payload
  logout <tenant>     Log a tenant out
  list                List live sessions
  events <tenant>     Show recent lifecycle events
`

// requestSlack is added to the client timeout of a waiting request.
const requestSlack = 5 * time.Second

func runSession(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stdout, sessionUsage)
		return 1
	}

	switch args[0] {
	case "start":
		return runSessionStart(args[1:], stdout, stderr)
	case "status":
		return runSessionStatus(args[1:], stdout, stderr)
	case "pairing":
		return runSessionPairing(args[1:], stdout, stderr)
	case "logout":
		return runSessionLogout(args[1:], stdout, stderr)
	case "list":
		return runSessionList(args[1:], stdout, stderr)
	case "events":
		return runSessionEvents(args[1:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, sessionUsage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown session command: %s\n", args[0])
		fmt.Fprint(stdout, sessionUsage)
		return 1
	}
}

// parseInterspersed parses fs and collects positional arguments, allowing
// flags after them ("pairing abc --qr").
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

// tenantCommand parses a "<cmd> <tenant> [options]" invocation. It returns
// ok=false with the exit code when the command should stop.
func tenantCommand(fs *flag.FlagSet, args []string, name, summary string, stderr io.Writer) (tenantID string, code int, ok bool) {
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate session %s [options] <tenant>\n\n%s\n\nOptions:\n", name, summary)
		fs.PrintDefaults()
	}

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return "", 0, false
		}
		return "", 1, false
	}
	if len(positional) != 1 {
		fs.Usage()
		return "", 1, false
	}
	return positional[0], 0, true
}

func runSessionStart(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session start", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)

	tenantID, code, ok := tenantCommand(fs, args, "start", "Start a session for the tenant. Returns immediately.", stderr)
	if !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var resp server.StartResponse
	if _, err := client.do(http.MethodPost, "/sessions/"+url.PathEscape(tenantID)+"/start", nil, &resp, 0); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	switch resp.Status {
	case session.StartStarting:
		fmt.Fprintf(stdout, "Session for %s is starting (generation %s).\n", tenantID, resp.Generation)
	default:
		fmt.Fprintf(stdout, "Session for %s is already active (%s).\n", tenantID, resp.State)
	}
	return 0
}

func runSessionStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)

	tenantID, code, ok := tenantCommand(fs, args, "status", "Show the tenant's lifecycle state.", stderr)
	if !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var resp server.SessionStatusResponse
	if _, err := client.do(http.MethodGet, "/sessions/"+url.PathEscape(tenantID)+"/status", nil, &resp, 0); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "%s: %s\n", tenantID, resp.State)
	if resp.Error != "" {
		fmt.Fprintf(stdout, "Error: %s\n", resp.Error)
	}
	return 0
}

func runSessionPairing(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session pairing", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	showQR := fs.Bool("qr", false, "Render the payload as a terminal QR code")
	wait := fs.Duration("wait", 0, "Wait up to this long for a payload (capped by the gateway)")
	follow := fs.Bool("follow", false, "Keep printing each new payload until the tenant leaves QR_PENDING")

	tenantID, code, ok := tenantCommand(fs, args, "pairing", "Show the tenant's current pairing payload.", stderr)
	if !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	waitFor := *wait
	if *follow && waitFor <= 0 {
		waitFor = 30 * time.Second
	}

	var after uint64
	shown := 0
	for {
		resp, err := fetchPairing(client, tenantID, waitFor, after)
		if err != nil {
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Body.Status == "waiting" {
				if *follow && apiErr.Body.ErrorCode == apperrors.CodePairingTimeout {
					if stillPairing(client, tenantID) {
						continue
					}
					return 0
				}
				if shown > 0 {
					return 0
				}
				fmt.Fprintf(stderr, "No pairing payload available for %s yet.\n", tenantID)
				return 1
			}
			if shown > 0 && errors.As(err, &apiErr) {
				// The session moved on (paired, failed or ended).
				return 0
			}
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}

		writePairing(stdout, resp, *showQR)
		shown++
		if !*follow {
			return 0
		}
		after = resp.Version
	}
}

// stillPairing reports whether the tenant can still produce a payload.
func stillPairing(client *apiClient, tenantID string) bool {
	var resp server.SessionStatusResponse
	if _, err := client.do(http.MethodGet, "/sessions/"+url.PathEscape(tenantID)+"/status", nil, &resp, 0); err != nil {
		return false
	}
	return resp.State == session.StateInitializing || resp.State == session.StateQRPending
}

func fetchPairing(client *apiClient, tenantID string, wait time.Duration, after uint64) (*server.PairingResponse, error) {
	path := "/sessions/" + url.PathEscape(tenantID) + "/pairing"
	timeout := time.Duration(0)
	if wait > 0 {
		q := url.Values{}
		q.Set("wait", wait.String())
		q.Set("after", strconv.FormatUint(after, 10))
		path += "?" + q.Encode()
		timeout = wait + requestSlack
	}

	var resp server.PairingResponse
	if _, err := client.do(http.MethodGet, path, nil, &resp, timeout); err != nil {
		return nil, err
	}
	return &resp, nil
}

func writePairing(w io.Writer, resp *server.PairingResponse, showQR bool) {
	if showQR {
		qr, err := qrcode.New(resp.Payload, qrcode.Medium)
		if err != nil {
			fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		} else {
			// ToSmallString(false) uses half-block characters without a border.
			fmt.Fprint(w, qr.ToSmallString(false))
		}
	}
	fmt.Fprintf(w, "Payload (v%d): %s\n", resp.Version, resp.Payload)
}

func runSessionLogout(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session logout", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	timeout := fs.Duration("timeout", 30*time.Second, "How long to wait for the logout to finish")

	tenantID, code, ok := tenantCommand(fs, args, "logout", "Log the tenant out and release its session.", stderr)
	if !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if _, err := client.do(http.MethodPost, "/sessions/"+url.PathEscape(tenantID)+"/logout", nil, nil, *timeout); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Logged out %s.\n", tenantID)
	return 0
}

func runSessionList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate session list [options]\n\nList live sessions.\n\nOptions:\n")
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

	var sessions []session.Snapshot
	if _, err := client.do(http.MethodGet, "/sessions", nil, &sessions, 0); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(sessions) == 0 {
		fmt.Fprintln(stdout, "No active sessions.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tSTATE\tGENERATION\tUPDATED")
	now := time.Now()
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.TenantID, s.State, s.Generation, formatDuration(now.Sub(s.UpdatedAt)))
	}
	w.Flush()
	return 0
}

func runSessionEvents(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("session events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cf := addClientFlags(fs)
	limit := fs.Int("limit", 20, "Maximum number of events")

	tenantID, code, ok := tenantCommand(fs, args, "events", "Show the tenant's recent lifecycle events, newest first.", stderr)
	if !ok {
		return code
	}

	client, err := cf.client()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	var events []storage.LifecycleEvent
	path := fmt.Sprintf("/sessions/%s/events?limit=%d", url.PathEscape(tenantID), *limit)
	if _, err := client.do(http.MethodGet, path, nil, &events, 0); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	if len(events) == 0 {
		fmt.Fprintf(stdout, "No events recorded for %s.\n", tenantID)
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AT\tFROM\tTO\tEVENT\tREASON")
	for _, ev := range events {
		from := ev.FromState
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ev.At.Local().Format(time.DateTime), from, ev.ToState, ev.Event, ev.Reason)
	}
	w.Flush()
	return 0
}

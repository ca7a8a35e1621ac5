package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/pseudocoder/pairgate/internal/auth"
	"github.com/pseudocoder/pairgate/internal/config"
	"github.com/pseudocoder/pairgate/internal/storage"
)

const tokenUsage = `Usage: pairgate token <command> [options]

Commands:
  create <name>       Issue a token for a new API client
  list                List API clients
  revoke <client-id>  Revoke an API client's token
`

func runToken(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprint(stdout, tokenUsage)
		return 1
	}

	switch args[0] {
	case "create":
		return runTokenCreate(args[1:], stdout, stderr)
	case "list":
		return runTokenList(args[1:], stdout, stderr)
	case "revoke":
		return runTokenRevoke(args[1:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, tokenUsage)
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown token command: %s\n", args[0])
		fmt.Fprint(stdout, tokenUsage)
		return 1
	}
}

// storeFlags locate the gateway database.
type storeFlags struct {
	Config   string
	Database string
}

func addStoreFlags(fs *flag.FlagSet) *storeFlags {
	sf := &storeFlags{}
	fs.StringVar(&sf.Config, "config", "", "Path to config file (default: ~/.pairgate/config.toml)")
	fs.StringVar(&sf.Database, "database", "", "Path to the gateway database (default: from config)")
	return sf
}

// open opens the database the gateway uses. Tokens are written directly;
// the gateway does not need to be running.
func (sf *storeFlags) open() (*storage.SQLiteStore, error) {
	path := sf.Database
	if path == "" {
		cfg, err := config.LoadWithEnv(sf.Config)
		if err != nil {
			return nil, err
		}
		if err := cfg.ApplyDefaults(); err != nil {
			return nil, err
		}
		path = cfg.Database
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return store, nil
}

func runTokenCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate token create [options] <name>\n\nIssue a bearer token for a new API client.\nThe token is shown once and cannot be recovered.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if len(positional) != 1 {
		fs.Usage()
		return 1
	}

	store, err := sf.open()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	client, token, err := auth.NewIssuer(store).Issue(positional[0])
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Client:  %s (%s)\n", client.Name, client.ID)
	fmt.Fprintf(stdout, "Token:   %s\n", token)
	fmt.Fprintln(stdout, "Store this token now. It will not be shown again.")
	return 0
}

func runTokenList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate token list [options]\n\nList API clients.\n\nOptions:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	store, err := sf.open()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	clients, err := auth.NewIssuer(store).List()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to list clients: %v\n", err)
		return 1
	}

	if len(clients) == 0 {
		fmt.Fprintln(stdout, "No API clients.")
		return 0
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCREATED\tLAST SEEN")
	now := time.Now()
	for _, c := range clients {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ID, c.Name, c.CreatedAt.Local().Format(time.DateOnly), formatDuration(now.Sub(c.LastSeen)))
	}
	w.Flush()
	return 0
}

func runTokenRevoke(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("token revoke", flag.ContinueOnError)
	fs.SetOutput(stderr)
	sf := addStoreFlags(fs)

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate token revoke [options] <client-id>\n\nRevoke an API client. A running gateway may accept the token\nfor up to a minute afterwards.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if len(positional) != 1 {
		fs.Usage()
		return 1
	}

	store, err := sf.open()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	if err := auth.NewIssuer(store).Revoke(positional[0]); err != nil {
		if errors.Is(err, auth.ErrClientNotFound) {
			fmt.Fprintf(stderr, "Error: client not found: %s\n", positional[0])
			return 1
		}
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Revoked %s.\n", positional[0])
	return 0
}

// formatDuration formats a duration as a human-readable "ago" string.
func formatDuration(d time.Duration) string {
	if d < 0 {
		return "in the future"
	}
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
	return fmt.Sprintf("%dd ago", int(d.Hours()/24))
}

package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.1.0" ./cmd
var Version = "dev"

const usage = `pairgate - multi-tenant messaging session gateway

Usage:
  pairgate <command> [options]

Commands:
  serve                       Run the gateway
  status                      Show gateway status
  session start <tenant>      Start a tenant session
  session status <tenant>     Show a tenant's session state
  session pairing <tenant>    Show the pairing payload [--qr] [--wait <dur>]
  session logout <tenant>     Log a tenant out
  session list                List live sessions
  session events <tenant>     Show a tenant's recent lifecycle events
  token create <name>         Issue an API token
  token list                  List API clients
  token revoke <client-id>    Revoke an API client
  version                     Show version
Run 'pairgate <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "session":
		return runSession(args[2:], stdout, stderr)
	case "token":
		return runToken(args[2:], stdout, stderr)
	case "--help", "-h", "help":
		fmt.Fprint(stdout, usage)
		return 0
	case "--version", "-v", "version":
		fmt.Fprintf(stdout, "pairgate %s\n", Version)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n", args[1])
		fmt.Fprint(stdout, usage)
		return 1
	}
}

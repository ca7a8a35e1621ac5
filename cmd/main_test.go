package main

import (
	"bytes"
	"strings"
	"testing"
)

func runWithArgs(args []string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunUsage(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if !strings.Contains(out, "Usage:") {
		t.Fatalf("expected usage output, got %q", out)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate", "nope"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Unknown command") {
		t.Fatalf("expected unknown command output, got %q", out)
	}
}

func TestRunVersion(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate", "version"})
	if code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
	if out != "pairgate "+Version+"\n" {
		t.Fatalf("unexpected version output %q", out)
	}
}

func TestRunSessionMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate", "session"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: pairgate session") {
		t.Fatalf("expected session usage, got %q", out)
	}
}

func TestRunTokenMissingSubcommand(t *testing.T) {
	code, out, _ := runWithArgs([]string{"pairgate", "token"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(out, "Usage: pairgate token") {
		t.Fatalf("expected token usage, got %q", out)
	}
}

func TestSubcommandHelp(t *testing.T) {
	tests := [][]string{
		{"pairgate", "serve", "--help"},
		{"pairgate", "status", "--help"},
		{"pairgate", "session", "start", "--help"},
		{"pairgate", "session", "pairing", "--help"},
		{"pairgate", "session", "list", "--help"},
		{"pairgate", "token", "create", "--help"},
		{"pairgate", "token", "revoke", "--help"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args[1:], " "), func(t *testing.T) {
			code, _, errOut := runWithArgs(args)
			if code != 0 {
				t.Fatalf("expected exit code 0, got %d", code)
			}
			if !strings.Contains(errOut, "Usage: pairgate") {
				t.Fatalf("expected usage on stderr, got %q", errOut)
			}
		})
	}
}

func TestSessionCommandRequiresTenant(t *testing.T) {
	code, _, errOut := runWithArgs([]string{"pairgate", "session", "status", "--url", "http://127.0.0.1:1"})
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "<tenant>") {
		t.Fatalf("expected usage naming <tenant>, got %q", errOut)
	}
}

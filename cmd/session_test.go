package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pseudocoder/pairgate/internal/driver"
	"github.com/pseudocoder/pairgate/internal/driver/drivertest"
	"github.com/pseudocoder/pairgate/internal/server"
	"github.com/pseudocoder/pairgate/internal/session"
	"github.com/pseudocoder/pairgate/internal/storage"
)

// newTestGateway serves a gateway backed by fake drivers.
func newTestGateway(t *testing.T) (*httptest.Server, *drivertest.Factory, *session.Gateway) {
	t.Helper()
	factory := drivertest.NewFactory()
	g, err := session.NewGateway(session.Config{
		Factory:        factory.New,
		CredentialRoot: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := server.NewServer(g, server.Config{PairingWaitMax: 5 * time.Second})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		g.Shutdown(ctx)
	})
	return ts, factory, g
}

func runSessionCmd(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := runSession(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func nextDriver(t *testing.T, f *drivertest.Factory) *drivertest.Driver {
	t.Helper()
	select {
	case d := <-f.Created():
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("driver was not constructed")
		return nil
	}
}

func waitForState(t *testing.T, g *session.Gateway, tenantID string, want session.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap, err := g.Status(tenantID)
		if err == nil && snap.State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("state = %s, want %s", snap.State, want)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSessionStartAndStatus(t *testing.T) {
	ts, _, _ := newTestGateway(t)

	code, out, errOut := runSessionCmd("start", "abc", "--url", ts.URL)
	if code != 0 {
		t.Fatalf("start: exit %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "is starting") {
		t.Errorf("start output = %q", out)
	}

	code, out, _ = runSessionCmd("start", "--url", ts.URL, "abc")
	if code != 0 {
		t.Fatalf("second start: exit %d", code)
	}
	if !strings.Contains(out, "already active") {
		t.Errorf("second start output = %q", out)
	}

	code, out, _ = runSessionCmd("status", "nobody", "--url", ts.URL)
	if code != 0 {
		t.Fatalf("status: exit %d", code)
	}
	if out != "nobody: NOT_INITIALIZED\n" {
		t.Errorf("status output = %q", out)
	}
}

func TestSessionStartInvalidTenant(t *testing.T) {
	ts, _, _ := newTestGateway(t)

	code, _, errOut := runSessionCmd("start", "a..b", "--url", ts.URL)
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "tenant.invalid_id") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestSessionPairing(t *testing.T) {
	ts, f, g := newTestGateway(t)

	runSessionCmd("start", "abc", "--url", ts.URL)
	d := nextDriver(t, f)

	code, _, errOut := runSessionCmd("pairing", "abc", "--url", ts.URL)
	if code != 1 {
		t.Fatalf("pairing before payload: exit %d", code)
	}
	if !strings.Contains(errOut, "No pairing payload") {
		t.Errorf("stderr = %q", errOut)
	}

	d.Emit(driver.Event{Type: driver.EventPairingPayload, Payload: "1@abc,XYZ=="})
	waitForState(t, g, "abc", session.StateQRPending)

	code, out, errOut := runSessionCmd("pairing", "abc", "--url", ts.URL, "--qr")
	if code != 0 {
		t.Fatalf("pairing: exit %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "Payload (v1): 1@abc,XYZ==") {
		t.Errorf("pairing output = %q", out)
	}
	if !strings.ContainsAny(out, "█▀▄") {
		t.Error("expected a terminal QR code")
	}
}

func TestSessionPairingWait(t *testing.T) {
	ts, f, _ := newTestGateway(t)

	runSessionCmd("start", "abc", "--url", ts.URL)
	d := nextDriver(t, f)

	go func() {
		time.Sleep(50 * time.Millisecond)
		d.Emit(driver.Event{Type: driver.EventPairingPayload, Payload: "late"})
	}()

	code, out, errOut := runSessionCmd("pairing", "abc", "--url", ts.URL, "--wait", "3s")
	if code != 0 {
		t.Fatalf("pairing --wait: exit %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "Payload (v1): late") {
		t.Errorf("pairing output = %q", out)
	}
}

func TestSessionPairingFollowStopsWhenAuthenticated(t *testing.T) {
	ts, f, g := newTestGateway(t)

	runSessionCmd("start", "abc", "--url", ts.URL)
	d := nextDriver(t, f)
	d.Emit(driver.Event{Type: driver.EventPairingPayload, Payload: "first"})
	waitForState(t, g, "abc", session.StateQRPending)

	go func() {
		time.Sleep(50 * time.Millisecond)
		d.Emit(driver.Event{Type: driver.EventPairingPayload, Payload: "second"})
		time.Sleep(50 * time.Millisecond)
		d.Emit(driver.Event{Type: driver.EventAuthenticated})
	}()

	code, out, errOut := runSessionCmd("pairing", "abc", "--url", ts.URL, "--follow", "--wait", "300ms")
	if code != 0 {
		t.Fatalf("pairing --follow: exit %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "Payload (v1): first") || !strings.Contains(out, "Payload (v2): second") {
		t.Errorf("pairing output = %q", out)
	}
}

func TestSessionLogout(t *testing.T) {
	ts, f, g := newTestGateway(t)

	code, _, errOut := runSessionCmd("logout", "abc", "--url", ts.URL)
	if code != 1 {
		t.Fatalf("logout without session: exit %d", code)
	}
	if !strings.Contains(errOut, "session.not_found") {
		t.Errorf("stderr = %q", errOut)
	}

	runSessionCmd("start", "abc", "--url", ts.URL)
	d := nextDriver(t, f)
	d.Emit(driver.Event{Type: driver.EventAuthenticated})
	d.Emit(driver.Event{Type: driver.EventReady})
	waitForState(t, g, "abc", session.StateReady)

	code, out, errOut := runSessionCmd("logout", "abc", "--url", ts.URL)
	if code != 0 {
		t.Fatalf("logout: exit %d, stderr %q", code, errOut)
	}
	if out != "Logged out abc.\n" {
		t.Errorf("logout output = %q", out)
	}
	if d.LogoutCalls() != 1 {
		t.Errorf("LogoutCalls = %d, want 1", d.LogoutCalls())
	}
}

func TestSessionList(t *testing.T) {
	ts, _, _ := newTestGateway(t)

	code, out, _ := runSessionCmd("list", "--url", ts.URL)
	if code != 0 {
		t.Fatalf("list: exit %d", code)
	}
	if out != "No active sessions.\n" {
		t.Errorf("empty list output = %q", out)
	}

	runSessionCmd("start", "abc", "--url", ts.URL)
	runSessionCmd("start", "def", "--url", ts.URL)

	code, out, _ = runSessionCmd("list", "--url", ts.URL)
	if code != 0 {
		t.Fatalf("list: exit %d", code)
	}
	if !strings.HasPrefix(out, "TENANT") {
		t.Errorf("expected a table header, got %q", out)
	}
	if strings.Index(out, "abc") > strings.Index(out, "def") || !strings.Contains(out, "def") {
		t.Errorf("expected abc before def, got %q", out)
	}
}

func TestSessionEvents(t *testing.T) {
	factory := drivertest.NewFactory()
	store, err := storage.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	defer store.Close()

	recorder := server.NewAuditRecorder(store, 0)
	g, err := session.NewGateway(session.Config{
		Factory:        factory.New,
		CredentialRoot: t.TempDir(),
		Recorder:       recorder,
	})
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	srv := server.NewServer(g, server.Config{})
	srv.SetEventStore(store)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	code, out, _ := runSessionCmd("events", "abc", "--url", ts.URL)
	if code != 0 {
		t.Fatalf("events: exit %d", code)
	}
	if out != "No events recorded for abc.\n" {
		t.Errorf("events output = %q", out)
	}

	runSessionCmd("start", "abc", "--url", ts.URL)
	nextDriver(t, factory)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g.Shutdown(ctx)
	recorder.Close()

	code, out, errOut := runSessionCmd("events", "abc", "--url", ts.URL, "--limit", "10")
	if code != 0 {
		t.Fatalf("events: exit %d, stderr %q", code, errOut)
	}
	if !strings.Contains(out, "DISCONNECTED") || !strings.Contains(out, "shutdown") {
		t.Errorf("events output = %q", out)
	}
	if !strings.Contains(out, "INITIALIZING") {
		t.Errorf("expected the start transition, got %q", out)
	}
}

func TestSessionUnreachableGateway(t *testing.T) {
	code, _, errOut := runSessionCmd("status", "abc", "--url", "http://127.0.0.1:1")
	if code != 1 {
		t.Fatalf("expected exit code 1, got %d", code)
	}
	if !strings.Contains(errOut, "not reachable") {
		t.Errorf("stderr = %q", errOut)
	}
}

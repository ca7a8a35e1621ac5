package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pseudocoder/pairgate/internal/session"
)

// TestStatusHandler_Success tests that the status handler returns correct JSON.
func TestStatusHandler_Success(t *testing.T) {
	srv, f := newTestServer(t, Config{
		Addr:        "127.0.0.1:3000",
		TLSEnabled:  true,
		Driver:      "exec",
		RequireAuth: false,
	})

	do(t, srv.Handler(), http.MethodPost, "/sessions/abc/start", nil)
	nextDriver(t, f)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rr := httptest.NewRecorder()
	NewStatusHandler(srv).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %s", ct)
	}

	var status StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if status.ListeningAddress != "127.0.0.1:3000" {
		t.Errorf("expected ListeningAddress 127.0.0.1:3000, got %s", status.ListeningAddress)
	}
	if status.Sessions != 1 {
		t.Errorf("expected 1 session, got %d", status.Sessions)
	}
	if status.MaxSessions != session.DefaultMaxSessions {
		t.Errorf("expected MaxSessions %d, got %d", session.DefaultMaxSessions, status.MaxSessions)
	}
	if status.States[session.StateInitializing] != 1 {
		t.Errorf("expected one INITIALIZING session, got %v", status.States)
	}
	if !status.TLSEnabled {
		t.Error("expected TLSEnabled true")
	}
	if status.RequireAuth {
		t.Error("expected RequireAuth false")
	}
	if status.Driver != "exec" {
		t.Errorf("expected Driver exec, got %s", status.Driver)
	}
	if status.UptimeSeconds < 0 {
		t.Errorf("expected UptimeSeconds >= 0, got %d", status.UptimeSeconds)
	}
}

// TestStatusHandler_NonLoopback tests that remote requests are rejected.
func TestStatusHandler_NonLoopback(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := NewStatusHandler(srv)

	tests := []string{"192.168.1.100:12345", "10.0.0.1:80", "invalid"}
	for _, addr := range tests {
		req := httptest.NewRequest(http.MethodGet, "/status", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s: expected status 403, got %d", addr, rr.Code)
		}
	}
}

// TestStatusHandler_IPv6Loopback tests that ::1 is accepted.
func TestStatusHandler_IPv6Loopback(t *testing.T) {
	srv, _ := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.RemoteAddr = "[::1]:12345"
	rr := httptest.NewRecorder()
	NewStatusHandler(srv).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
}

// TestStatusHandler_MethodNotAllowed tests that non-GET methods are rejected.
func TestStatusHandler_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, Config{})
	handler := NewStatusHandler(srv)

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		req := httptest.NewRequest(method, "/status", nil)
		req.RemoteAddr = "127.0.0.1:12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status 405, got %d", method, rr.Code)
		}
	}
}

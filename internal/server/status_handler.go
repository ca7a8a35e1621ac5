package server

// status_handler.go implements the local-only /status endpoint used by
// "pairgate status".

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pseudocoder/pairgate/internal/session"
)

// StatusResponse contains gateway status information returned by /status.
type StatusResponse struct {
	// ListeningAddress is the address the gateway is listening on.
	ListeningAddress string `json:"listening_address"`

	// Sessions is the number of live tenant sessions.
	Sessions int `json:"sessions"`

	// MaxSessions is the configured live session limit.
	MaxSessions int `json:"max_sessions"`

	// States counts live sessions per lifecycle state.
	States map[session.State]int `json:"states,omitempty"`

	// Driver is the configured driver kind.
	Driver string `json:"driver,omitempty"`

	// UptimeSeconds is how long the gateway has been running, in seconds.
	UptimeSeconds int64 `json:"uptime_seconds"`

	TLSEnabled  bool `json:"tls_enabled"`
	RequireAuth bool `json:"require_auth"`
}

// StatusHandler handles HTTP requests for gateway status.
// This endpoint is restricted to local machine addresses.
type StatusHandler struct {
	server *Server
}

// NewStatusHandler creates a new StatusHandler for s.
func NewStatusHandler(s *Server) *StatusHandler {
	return &StatusHandler{server: s}
}

// ServeHTTP handles GET /status. Non-local requests receive 403 and other
// methods 405.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := h.server
	snaps := s.gateway.List()
	states := make(map[session.State]int)
	for _, snap := range snaps {
		states[snap.State]++
	}

	resp := StatusResponse{
		ListeningAddress: s.Addr(),
		Sessions:         len(snaps),
		MaxSessions:      s.gateway.Registry().MaxSessions(),
		States:           states,
		Driver:           s.config.Driver,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
		TLSEnabled:       s.config.TLSEnabled,
		RequireAuth:      s.config.RequireAuth,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

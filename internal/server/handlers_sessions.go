package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	apperrors "github.com/pseudocoder/pairgate/internal/errors"
	"github.com/pseudocoder/pairgate/internal/session"
	"github.com/pseudocoder/pairgate/internal/storage"
	"github.com/pseudocoder/pairgate/internal/tenant"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// pairingPNGSize is the edge length of the rendered QR image in pixels.
const pairingPNGSize = 256

// StartResponse is the response for POST /sessions/{tenantId}/start.
type StartResponse struct {
	Status     session.StartStatus `json:"status"`
	State      session.State       `json:"state"`
	Generation string              `json:"generation,omitempty"`
}

// PairingResponse is the response for GET /sessions/{tenantId}/pairing.
type PairingResponse struct {
	Payload string `json:"payload"`
	Version uint64 `json:"version"`
}

// SessionStatusResponse is the response for GET /sessions/{tenantId}/status.
type SessionStatusResponse struct {
	TenantID   string        `json:"tenant_id"`
	State      session.State `json:"state"`
	Error      string        `json:"error,omitempty"`
	Generation string        `json:"generation,omitempty"`
}

// SendRequest is the request body for POST /sessions/{tenantId}/messages.
type SendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// handleStart creates the tenant's session or reports the existing one.
// 202 for a new session, 200 if one was already live.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	if err := tenant.ValidateID(tenantID); err != nil {
		writeError(w, err)
		return
	}
	if !s.startLimits.allow(tenantID) {
		writeError(w, apperrors.RateLimited())
		return
	}

	res, err := s.gateway.Start(r.Context(), tenantID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if res.Status == session.StartStarting {
		status = http.StatusAccepted
	}
	writeJSON(w, status, StartResponse{
		Status:     res.Status,
		State:      res.State,
		Generation: res.Generation,
	})
}

// handlePairing returns the current pairing payload. With ?wait=<duration>
// it blocks until a payload newer than ?after=<version> is published, for
// at most the configured PairingWaitMax.
func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")

	wait, after, err := s.parseWait(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var payload string
	var version uint64
	if wait > 0 {
		payload, version, err = s.gateway.AwaitPairing(r.Context(), tenantID, after, wait)
	} else {
		payload, version, err = s.gateway.PairingPayload(tenantID)
	}
	if err != nil {
		writePairingError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PairingResponse{Payload: payload, Version: version})
}

func (s *Server) parseWait(r *http.Request) (time.Duration, uint64, error) {
	q := r.URL.Query()

	var wait time.Duration
	if raw := q.Get("wait"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			// Bare integers are seconds.
			secs, convErr := strconv.Atoi(raw)
			if convErr != nil {
				return 0, 0, apperrors.InvalidRequest("wait must be a duration")
			}
			d = time.Duration(secs) * time.Second
		}
		if d < 0 {
			return 0, 0, apperrors.InvalidRequest("wait must not be negative")
		}
		wait = d
	}
	if limit := s.config.PairingWaitMax; limit > 0 && wait > limit {
		wait = limit
	}

	var after uint64
	if raw := q.Get("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, 0, apperrors.InvalidRequest("after must be a version number")
		}
		after = v
	}
	return wait, after, nil
}

// handlePairingPNG renders the current pairing payload as a QR code image.
func (s *Server) handlePairingPNG(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")

	payload, _, err := s.gateway.PairingPayload(tenantID)
	if err != nil {
		writePairingError(w, err)
		return
	}

	png, err := qrcode.Encode(payload, qrcode.Medium, pairingPNGSize)
	if err != nil {
		writeError(w, apperrors.Internal("render pairing QR code", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// handleStatus reports the tenant's lifecycle state. It never 404s: a
// tenant without a session reports NOT_INITIALIZED.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.gateway.Status(r.PathValue("tenantId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionStatusResponse{
		TenantID:   snap.TenantID,
		State:      snap.State,
		Error:      snap.Error,
		Generation: snap.Generation,
	})
}

// handleLogout logs the tenant out and releases its session.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	if err := s.gateway.Logout(r.Context(), tenantID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "logged-out",
		"tenant_id": tenantID,
	})
}

// handleSend relays one outbound message. Only READY sessions accept it.
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")

	var req SendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidRequest("invalid JSON body"))
		return
	}

	if err := s.gateway.Send(r.Context(), tenantID, req.To, req.Body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleList returns all live sessions.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	sessions := s.gateway.List()
	if sessions == nil {
		sessions = []session.Snapshot{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleEvents returns the tenant's recent audit entries, newest first.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantId")
	if err := tenant.ValidateID(tenantID); err != nil {
		writeError(w, err)
		return
	}

	limit := DefaultEventsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, apperrors.InvalidRequest("limit must be a positive integer"))
			return
		}
		limit = min(n, MaxEventsLimit)
	}

	s.mu.RLock()
	store := s.events
	s.mu.RUnlock()

	events := []*storage.LifecycleEvent{}
	if store != nil {
		found, err := store.ListEvents(tenantID, limit)
		if err != nil {
			writeError(w, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "failed to read lifecycle events", err))
			return
		}
		if found != nil {
			events = found
		}
	}
	writeJSON(w, http.StatusOK, events)
}

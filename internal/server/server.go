// Package server provides the HTTP surface of the gateway.
//
// Every tenant route lives under /sessions/{tenantId}. Handlers translate
// the session gateway's coded errors into HTTP statuses and never block on
// a driver, with the exception of the bounded pairing long-poll.
package server

import (
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pseudocoder/pairgate/internal/auth"
	"github.com/pseudocoder/pairgate/internal/session"
	"github.com/pseudocoder/pairgate/internal/storage"
)

// DefaultEventsLimit is how many audit entries /events returns by default.
const DefaultEventsLimit = 50

// MaxEventsLimit caps the ?limit parameter of /events.
const MaxEventsLimit = 1000

// Config holds the HTTP server settings.
type Config struct {
	// Addr is the listen address (e.g. "127.0.0.1:3000").
	Addr string

	// RequireAuth enables bearer-token authentication on /sessions routes.
	RequireAuth bool

	// TLSEnabled is reported by /status.
	TLSEnabled bool

	// Driver is the configured driver kind, reported by /status.
	Driver string

	// PairingWaitMax caps the ?wait parameter of the pairing endpoint.
	PairingWaitMax time.Duration

	// StartsPerMinute limits start calls per tenant. 0 disables the limit.
	StartsPerMinute int

	// PollsPerSecond limits requests per client (token or remote IP).
	// 0 disables the limit.
	PollsPerSecond float64
}

// EventStore reads the lifecycle audit log.
type EventStore interface {
	ListEvents(tenantID string, limit int) ([]*storage.LifecycleEvent, error)
}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Client, error)
}

// Server serves the session API.
type Server struct {
	config  Config
	gateway *session.Gateway

	mu         sync.RWMutex
	events     EventStore
	validator  TokenValidator
	httpServer *http.Server
	boundAddr  string

	startLimits *limiterSet
	pollLimits  *limiterSet

	startTime time.Time
}

// NewServer creates a server for the given gateway.
func NewServer(gateway *session.Gateway, cfg Config) *Server {
	return &Server{
		config:      cfg,
		gateway:     gateway,
		startLimits: newStartLimiters(cfg.StartsPerMinute),
		pollLimits:  newPollLimiters(cfg.PollsPerSecond),
		startTime:   time.Now(),
	}
}

// SetEventStore sets the store backing GET /sessions/{tenantId}/events.
// Without one the endpoint returns an empty list.
func (s *Server) SetEventStore(store EventStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = store
}

// SetTokenValidator sets the validator used when RequireAuth is enabled.
func (s *Server) SetTokenValidator(v TokenValidator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validator = v
}

// Addr returns the address the server is listening on, or the configured
// address before it starts.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.boundAddr != "" {
		return s.boundAddr
	}
	return s.config.Addr
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.createMux()
}

func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Local-only gateway status for the CLI.
	mux.Handle("/status", NewStatusHandler(s))

	api := func(h http.HandlerFunc) http.Handler {
		return s.withAuth(s.withPollLimit(h))
	}

	mux.Handle("GET /sessions", api(s.handleList))
	mux.Handle("POST /sessions/{tenantId}/start", api(s.handleStart))
	mux.Handle("GET /sessions/{tenantId}/pairing", api(s.handlePairing))
	mux.Handle("GET /sessions/{tenantId}/pairing.png", api(s.handlePairingPNG))
	mux.Handle("GET /sessions/{tenantId}/status", api(s.handleStatus))
	mux.Handle("POST /sessions/{tenantId}/logout", api(s.handleLogout))
	mux.Handle("POST /sessions/{tenantId}/messages", api(s.handleSend))
	mux.Handle("GET /sessions/{tenantId}/events", api(s.handleEvents))

	return mux
}

// isLoopbackRequest checks if the request originated from a loopback address.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		log.Printf("server: failed to parse RemoteAddr %q: %v", r.RemoteAddr, err)
		return false
	}

	ip := net.ParseIP(host)
	if ip == nil {
		log.Printf("server: failed to parse IP from host %q", host)
		return false
	}

	return ip.IsLoopback()
}

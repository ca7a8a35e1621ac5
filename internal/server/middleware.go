package server

import (
	"context"
	"log"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/pseudocoder/pairgate/internal/errors"
)

// limiterIdleTTL is how long an unused limiter is kept.
const limiterIdleTTL = 10 * time.Minute

type contextKey int

const clientIDKey contextKey = iota

// ClientIDFromContext returns the authenticated client id, if any.
func ClientIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(clientIDKey).(string)
	return id, ok
}

// withAuth rejects requests without a valid bearer token when RequireAuth
// is set. With RequireAuth and no validator every request is rejected.
func (s *Server) withAuth(next http.Handler) http.Handler {
	if !s.config.RequireAuth {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		validator := s.validator
		s.mu.RUnlock()

		token := extractBearerToken(r)
		if token == "" {
			writeError(w, apperrors.New(apperrors.CodeAuthRequired, "missing bearer token"))
			return
		}
		if validator == nil {
			log.Printf("server: rejecting request, authentication required but no token validator configured")
			writeError(w, apperrors.New(apperrors.CodeAuthInvalid, "invalid token"))
			return
		}

		client, err := validator.ValidateToken(token)
		if err != nil {
			log.Printf("server: request rejected: invalid token: %v", err)
			writeError(w, apperrors.New(apperrors.CodeAuthInvalid, "invalid token"))
			return
		}

		ctx := context.WithValue(r.Context(), clientIDKey, client.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withPollLimit applies the per-client request limiter. Clients are keyed
// by their authenticated id, or by remote IP without auth.
func (s *Server) withPollLimit(next http.Handler) http.Handler {
	if s.pollLimits == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := ClientIDFromContext(r.Context())
		if !ok {
			key = remoteIP(r)
		}
		if !s.pollLimits.allow(key) {
			writeError(w, apperrors.RateLimited())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractBearerToken extracts the token from an Authorization header.
// Returns empty string if no valid bearer token is found.
func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const bearerPrefix = "Bearer "
	if len(auth) > len(bearerPrefix) && strings.EqualFold(auth[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(auth[len(bearerPrefix):])
	}
	return ""
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// limiterSet holds one token bucket per key.
type limiterSet struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*keyedLimiter
	lastScan time.Time
	timeNow  func() time.Time
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newStartLimiters allows perMinute starts per tenant per minute.
// Returns nil (no limit) when perMinute <= 0.
func newStartLimiters(perMinute int) *limiterSet {
	if perMinute <= 0 {
		return nil
	}
	return newLimiterSet(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
}

// newPollLimiters allows perSecond requests per client per second.
// Returns nil (no limit) when perSecond <= 0.
func newPollLimiters(perSecond float64) *limiterSet {
	if perSecond <= 0 {
		return nil
	}
	return newLimiterSet(rate.Limit(perSecond), int(math.Ceil(perSecond)))
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	return &limiterSet{
		limit:    limit,
		burst:    max(burst, 1),
		limiters: make(map[string]*keyedLimiter),
		timeNow:  time.Now,
	}
}

// allow reports whether key may proceed now. A nil set allows everything.
func (ls *limiterSet) allow(key string) bool {
	if ls == nil {
		return true
	}

	now := ls.timeNow()

	ls.mu.Lock()
	defer ls.mu.Unlock()

	if now.Sub(ls.lastScan) > limiterIdleTTL {
		for k, l := range ls.limiters {
			if now.Sub(l.lastSeen) > limiterIdleTTL {
				delete(ls.limiters, k)
			}
		}
		ls.lastScan = now
	}

	l, ok := ls.limiters[key]
	if !ok {
		l = &keyedLimiter{limiter: rate.NewLimiter(ls.limit, ls.burst)}
		ls.limiters[key] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// size returns the number of tracked keys.
func (ls *limiterSet) size() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.limiters)
}

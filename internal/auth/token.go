package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"log"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCacheTTL is how long a validated token skips the bcrypt scan.
// Pairing clients poll once a second, and a bcrypt comparison per client
// per poll is too expensive.
const DefaultCacheTTL = time.Minute

// TokenValidator validates client tokens for authentication.
// It looks up tokens in the client store and updates last-seen timestamps.
type TokenValidator struct {
	store   ClientStore
	timeNow func() time.Time
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]cachedToken
}

type cachedToken struct {
	clientID  string
	expiresAt time.Time
}

// NewTokenValidator creates a new token validator.
func NewTokenValidator(store ClientStore) *TokenValidator {
	return &TokenValidator{
		store:   store,
		timeNow: time.Now,
		ttl:     DefaultCacheTTL,
		cache:   make(map[string]cachedToken),
	}
}

// ValidateToken checks if the given token is valid.
// On success, returns the client and updates its last_seen timestamp.
// Returns ErrClientNotFound if the token is invalid.
//
// Note: A cache miss does a linear scan of all clients to find a matching
// hash. Gateways have a handful of clients, so this is acceptable.
func (tv *TokenValidator) ValidateToken(token string) (*Client, error) {
	if token == "" {
		return nil, ErrClientNotFound
	}

	now := tv.timeNow()
	key := cacheKey(token)

	if id, ok := tv.cached(key, now); ok {
		client, err := tv.store.GetClient(id)
		if err != nil {
			return nil, err
		}
		if client != nil {
			return client, nil
		}
		// Revoked since it was cached.
		tv.forget(key)
	}

	clients, err := tv.store.ListClients()
	if err != nil {
		return nil, err
	}

	for _, client := range clients {
		// bcrypt.CompareHashAndPassword handles timing-safe comparison
		if err := bcrypt.CompareHashAndPassword([]byte(client.TokenHash), []byte(token)); err == nil {
			log.Printf("auth: validated token for client %s (%s)", client.ID, client.Name)

			if err := tv.store.UpdateLastSeen(client.ID, now); err != nil {
				// Log but don't fail - validation succeeded
				log.Printf("auth: failed to update last_seen for client %s: %v", client.ID, err)
			}

			tv.mu.Lock()
			tv.cache[key] = cachedToken{clientID: client.ID, expiresAt: now.Add(tv.ttl)}
			tv.mu.Unlock()
			return client, nil
		}
	}

	log.Printf("auth: token validation failed (no matching client)")
	return nil, ErrClientNotFound
}

func (tv *TokenValidator) cached(key string, now time.Time) (string, bool) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	entry, ok := tv.cache[key]
	if !ok {
		return "", false
	}
	if !now.Before(entry.expiresAt) {
		delete(tv.cache, key)
		return "", false
	}
	return entry.clientID, true
}

func (tv *TokenValidator) forget(key string) {
	tv.mu.Lock()
	defer tv.mu.Unlock()
	delete(tv.cache, key)
}

// cacheKey avoids keeping raw tokens in memory longer than a request.
func cacheKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Package auth manages the API clients allowed to call the gateway.
//
// Operators issue a client with `pairgate token create`; the bearer token is
// printed once and only its bcrypt hash is stored. Every authenticated HTTP
// request presents the token and TokenValidator resolves it back to a client.
package auth

import (
	"errors"
	"time"

	"github.com/pseudocoder/pairgate/internal/storage"
)

// ErrClientNotFound is returned when a token or client id matches no client.
var ErrClientNotFound = errors.New("client not found")

// Client is an alias for storage.Client to avoid import cycles.
type Client = storage.Client

// ClientStore defines the interface for persisting API clients.
// This interface is implemented by storage.SQLiteStore.
// Implementations must be safe for concurrent access.
type ClientStore interface {
	// SaveClient persists a client, replacing one with the same ID.
	SaveClient(client *Client) error

	// GetClient retrieves a client by ID.
	// Returns nil, nil if the client does not exist.
	GetClient(id string) (*Client, error)

	// ListClients returns all clients.
	ListClients() ([]*Client, error)

	// DeleteClient removes a client.
	DeleteClient(id string) error

	// UpdateLastSeen updates the last_seen timestamp for a client.
	UpdateLastSeen(id string, t time.Time) error
}

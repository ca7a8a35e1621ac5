package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pseudocoder/pairgate/internal/storage"
)

// Issuer creates and revokes API clients.
type Issuer struct {
	store   ClientStore
	timeNow func() time.Time
}

// NewIssuer creates an issuer backed by store.
func NewIssuer(store ClientStore) *Issuer {
	return &Issuer{store: store, timeNow: time.Now}
}

// Issue creates a client named name and returns it with its bearer token.
// The token is not recoverable afterwards.
func (i *Issuer) Issue(name string) (*Client, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", errors.New("client name is required")
	}

	token := generateSecureToken()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash token: %w", err)
	}

	now := i.timeNow()
	client := &Client{
		ID:        uuid.New().String(),
		Name:      name,
		TokenHash: string(hash),
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := i.store.SaveClient(client); err != nil {
		return nil, "", err
	}

	log.Printf("auth: issued client %s (%s)", client.ID, client.Name)
	return client, token, nil
}

// Revoke deletes the client with the given id.
func (i *Issuer) Revoke(id string) error {
	if err := i.store.DeleteClient(id); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return ErrClientNotFound
		}
		return err
	}
	log.Printf("auth: revoked client %s", id)
	return nil
}

// List returns every client.
func (i *Issuer) List() ([]*Client, error) {
	return i.store.ListClients()
}

// generateSecureToken generates a secure random bearer token.
// Returns a hex-encoded string suitable for an Authorization header.
func generateSecureToken() string {
	// 32 bytes = 256 bits of entropy
	const tokenBytes = 32

	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		// This should never happen with crypto/rand
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}

	return fmt.Sprintf("%x", b)
}

package auth

import (
	"sync"
	"testing"
	"time"

	"github.com/pseudocoder/pairgate/internal/storage"
)

// mockClientStore is an in-memory ClientStore.
type mockClientStore struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	listCalls int
}

func newMockClientStore() *mockClientStore {
	return &mockClientStore{clients: make(map[string]*Client)}
}

func (s *mockClientStore) SaveClient(client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ID] = client
	return nil
}

func (s *mockClientStore) GetClient(id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[id], nil
}

func (s *mockClientStore) ListClients() ([]*Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []*Client
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out, nil
}

func (s *mockClientStore) DeleteClient(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return storage.ErrClientNotFound
	}
	delete(s.clients, id)
	return nil
}

func (s *mockClientStore) UpdateLastSeen(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return storage.ErrClientNotFound
	}
	c.LastSeen = t
	return nil
}

// TestIssueAndValidate verifies an issued token authenticates its client.
func TestIssueAndValidate(t *testing.T) {
	store := newMockClientStore()
	issuer := NewIssuer(store)

	client, token, err := issuer.Issue("billing-service")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if len(token) != 64 {
		t.Errorf("token length = %d, want 64 hex chars", len(token))
	}
	if client.TokenHash == token {
		t.Error("token stored in plain text")
	}

	validator := NewTokenValidator(store)
	got, err := validator.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if got.ID != client.ID || got.Name != "billing-service" {
		t.Errorf("validated client = %+v", got)
	}
}

// TestValidateTokenInvalid verifies unknown and empty tokens are rejected.
func TestValidateTokenInvalid(t *testing.T) {
	store := newMockClientStore()
	NewIssuer(store).Issue("svc")
	validator := NewTokenValidator(store)

	for _, token := range []string{"", "wrong-token"} {
		if _, err := validator.ValidateToken(token); err != ErrClientNotFound {
			t.Errorf("ValidateToken(%q) err = %v, want ErrClientNotFound", token, err)
		}
	}
}

// TestValidateTokenCache verifies repeat validations skip the scan until
// the cache entry expires.
func TestValidateTokenCache(t *testing.T) {
	store := newMockClientStore()
	_, token, _ := NewIssuer(store).Issue("svc")

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	validator := NewTokenValidator(store)
	validator.timeNow = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := validator.ValidateToken(token); err != nil {
			t.Fatalf("ValidateToken %d: %v", i, err)
		}
	}
	if store.listCalls != 1 {
		t.Errorf("list calls = %d, want 1", store.listCalls)
	}

	now = now.Add(DefaultCacheTTL)
	if _, err := validator.ValidateToken(token); err != nil {
		t.Fatalf("ValidateToken after expiry: %v", err)
	}
	if store.listCalls != 2 {
		t.Errorf("list calls after expiry = %d, want 2", store.listCalls)
	}
}

// TestRevokedTokenRejected verifies a cached token stops working once its
// client is revoked.
func TestRevokedTokenRejected(t *testing.T) {
	store := newMockClientStore()
	issuer := NewIssuer(store)
	client, token, _ := issuer.Issue("svc")

	validator := NewTokenValidator(store)
	if _, err := validator.ValidateToken(token); err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}

	if err := issuer.Revoke(client.ID); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := validator.ValidateToken(token); err != ErrClientNotFound {
		t.Errorf("revoked token err = %v", err)
	}
	if err := issuer.Revoke(client.ID); err != ErrClientNotFound {
		t.Errorf("second revoke err = %v", err)
	}
}

func TestIssueRequiresName(t *testing.T) {
	if _, _, err := NewIssuer(newMockClientStore()).Issue("  "); err == nil {
		t.Error("expected error for blank name")
	}
}

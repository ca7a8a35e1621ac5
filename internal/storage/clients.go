package storage

// clients.go contains SQLiteStore methods for API client CRUD operations.
// API clients hold the bearer tokens accepted by the HTTP surface.

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"
)

// Client is an API client allowed to call the gateway.
// This is a storage-level struct that the auth package aliases.
type Client struct {
	ID        string
	Name      string
	TokenHash string
	CreatedAt time.Time
	LastSeen  time.Time
}

// SaveClient persists a client. Uses INSERT OR REPLACE to handle both new
// clients and updates.
func (s *SQLiteStore) SaveClient(client *Client) error {
	if client == nil {
		return errors.New("client cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: saving client %s (%s)", client.ID, client.Name)

	const query = `
		INSERT OR REPLACE INTO api_clients
			(id, name, token_hash, created_at, last_seen)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		client.ID,
		client.Name,
		client.TokenHash,
		client.CreatedAt.Format(time.RFC3339Nano),
		client.LastSeen.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save client: %w", err)
	}

	return nil
}

// GetClient retrieves a client by ID.
// Returns nil, nil if the client does not exist.
func (s *SQLiteStore) GetClient(id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, token_hash, created_at, last_seen
		FROM api_clients
		WHERE id = ?
	`

	client, err := scanClient(s.db.QueryRow(query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}

	return client, nil
}

// ListClients returns all clients, oldest first.
func (s *SQLiteStore) ListClients() ([]*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	const query = `
		SELECT id, name, token_hash, created_at, last_seen
		FROM api_clients
		ORDER BY created_at ASC
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	defer rows.Close()

	var clients []*Client
	for rows.Next() {
		client, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, client)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate client rows: %w", err)
	}

	return clients, nil
}

// DeleteClient removes a client.
// Returns ErrClientNotFound if no such client exists.
func (s *SQLiteStore) DeleteClient(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log.Printf("storage: deleting client %s", id)

	result, err := s.db.Exec("DELETE FROM api_clients WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return ErrClientNotFound
	}

	return nil
}

// UpdateLastSeen updates the last_seen timestamp for a client.
// Returns ErrClientNotFound if the client does not exist.
func (s *SQLiteStore) UpdateLastSeen(id string, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	const query = `UPDATE api_clients SET last_seen = ? WHERE id = ?`

	result, err := s.db.Exec(query, t.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrClientNotFound
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*Client, error) {
	var (
		client    Client
		createdAt string
		lastSeen  string
	)

	err := row.Scan(
		&client.ID,
		&client.Name,
		&client.TokenHash,
		&createdAt,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	client.CreatedAt = t

	t, err = time.Parse(time.RFC3339Nano, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parse last_seen: %w", err)
	}
	client.LastSeen = t

	return &client, nil
}

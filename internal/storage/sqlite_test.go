package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestNewSQLiteStore verifies that a fresh store is empty and usable.
func TestNewSQLiteStore(t *testing.T) {
	store := newTestStore(t)

	n, err := store.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no events, got %d", n)
	}

	clients, err := store.ListClients()
	if err != nil {
		t.Fatalf("ListClients failed: %v", err)
	}
	if len(clients) != 0 {
		t.Errorf("expected no clients, got %d", len(clients))
	}
}

// TestSchemaReopen verifies migrations are not reapplied on an existing file.
func TestSchemaReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairgate.db")

	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := store.SaveAndPruneEvent(&LifecycleEvent{TenantID: "abc", ToState: "INITIALIZING", Event: "start", At: time.Now()}, 0); err != nil {
		t.Fatalf("SaveAndPruneEvent: %v", err)
	}
	store.Close()

	store, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()

	var versions int
	if err := store.db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&versions); err != nil {
		t.Fatalf("count versions: %v", err)
	}
	if versions != currentSchemaVersion {
		t.Errorf("schema_version rows = %d, want %d", versions, currentSchemaVersion)
	}
	if n, _ := store.CountEvents(); n != 1 {
		t.Errorf("events after reopen = %d, want 1", n)
	}
}

func TestLifecycleEvents(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	steps := []struct {
		tenant   string
		from, to string
		event    string
		reason   string
	}{
		{"abc", "", "INITIALIZING", "start", ""},
		{"abc", "INITIALIZING", "QR_PENDING", "pairing_payload", ""},
		{"other", "", "INITIALIZING", "start", ""},
		{"abc", "QR_PENDING", "READY", "ready", ""},
		{"abc", "READY", "DISCONNECTED", "disconnected", "logged_out"},
	}
	for i, s := range steps {
		err := store.SaveAndPruneEvent(&LifecycleEvent{
			TenantID:   s.tenant,
			Generation: "gen-1",
			FromState:  s.from,
			ToState:    s.to,
			Event:      s.event,
			Reason:     s.reason,
			At:         base.Add(time.Duration(i) * time.Second),
		}, 0)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	events, err := store.ListEvents("abc", 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("len = %d, want 4", len(events))
	}
	last := events[0]
	if last.ToState != "DISCONNECTED" || last.Reason != "logged_out" || last.FromState != "READY" {
		t.Errorf("newest event = %+v", last)
	}
	if !last.At.Equal(base.Add(4 * time.Second)) {
		t.Errorf("At = %v", last.At)
	}

	limited, err := store.ListEvents("abc", 2)
	if err != nil {
		t.Fatalf("ListEvents limited: %v", err)
	}
	if len(limited) != 2 || limited[1].ToState != "READY" {
		t.Errorf("limited = %+v", limited)
	}

	all, err := store.ListEvents("", 0)
	if err != nil {
		t.Fatalf("ListEvents all: %v", err)
	}
	if len(all) != len(steps) {
		t.Errorf("all = %d, want %d", len(all), len(steps))
	}
}

func TestLifecycleEventsPrune(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 10; i++ {
		ev := &LifecycleEvent{TenantID: "abc", ToState: "QR_PENDING", Event: fmt.Sprintf("e%d", i), At: time.Now()}
		if err := store.SaveAndPruneEvent(ev, 3); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
		if ev.ID == 0 {
			t.Errorf("save %d: ID not assigned", i)
		}
	}

	events, err := store.ListEvents("abc", 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("len = %d, want 3", len(events))
	}
	if events[0].Event != "e9" || events[2].Event != "e7" {
		t.Errorf("kept %s..%s, want e9..e7", events[0].Event, events[2].Event)
	}
}

func TestSaveAndPruneEventNil(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveAndPruneEvent(nil, 0); err == nil {
		t.Error("expected error for nil event")
	}
}

func TestClients(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	client := &Client{
		ID:        "client-1",
		Name:      "billing-service",
		TokenHash: "$2a$10$hash",
		CreatedAt: now,
		LastSeen:  now,
	}
	if err := store.SaveClient(client); err != nil {
		t.Fatalf("SaveClient: %v", err)
	}

	got, err := store.GetClient("client-1")
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got == nil || got.Name != "billing-service" || got.TokenHash != "$2a$10$hash" {
		t.Fatalf("GetClient = %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	missing, err := store.GetClient("nope")
	if err != nil || missing != nil {
		t.Errorf("GetClient(nope) = %v, %v", missing, err)
	}

	later := now.Add(time.Hour)
	if err := store.UpdateLastSeen("client-1", later); err != nil {
		t.Fatalf("UpdateLastSeen: %v", err)
	}
	got, _ = store.GetClient("client-1")
	if !got.LastSeen.Equal(later) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, later)
	}
	if err := store.UpdateLastSeen("nope", later); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("UpdateLastSeen(nope) err = %v", err)
	}

	if err := store.DeleteClient("client-1"); err != nil {
		t.Fatalf("DeleteClient: %v", err)
	}
	if err := store.DeleteClient("client-1"); !errors.Is(err, ErrClientNotFound) {
		t.Errorf("second DeleteClient err = %v", err)
	}
}

func TestConcurrentEventWrites(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := &LifecycleEvent{TenantID: fmt.Sprintf("t%d", i%4), ToState: "INITIALIZING", Event: "start", At: time.Now()}
			if err := store.SaveAndPruneEvent(ev, 0); err != nil {
				t.Errorf("save: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if n, _ := store.CountEvents(); n != 20 {
		t.Errorf("CountEvents = %d, want 20", n)
	}
}

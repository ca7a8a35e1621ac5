package server

// audit_adapter.go bridges session transitions to the SQLite lifecycle
// audit log. Transitions are queued and written by one worker so the
// session controllers never wait on the database.

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/pseudocoder/pairgate/internal/session"
	"github.com/pseudocoder/pairgate/internal/storage"
)

// auditQueueSize is how many transitions may wait for the writer.
const auditQueueSize = 256

// AuditWriter persists lifecycle events.
type AuditWriter interface {
	SaveAndPruneEvent(ev *storage.LifecycleEvent, maxRows int) error
}

// AuditRecorder implements session.TransitionRecorder on top of an
// AuditWriter. When the queue is full, transitions are dropped and logged.
type AuditRecorder struct {
	store   AuditWriter
	maxRows int

	queue chan *storage.LifecycleEvent
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAuditRecorder starts the writer goroutine. Call Close to flush.
func NewAuditRecorder(store AuditWriter, maxRows int) *AuditRecorder {
	a := &AuditRecorder{
		store:   store,
		maxRows: maxRows,
		queue:   make(chan *storage.LifecycleEvent, auditQueueSize),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// RecordTransition queues t for persistence. It never blocks.
func (a *AuditRecorder) RecordTransition(t session.Transition) {
	ev := &storage.LifecycleEvent{
		TenantID:   t.TenantID,
		Generation: t.Generation,
		FromState:  string(t.From),
		ToState:    string(t.To),
		Event:      t.Event,
		Reason:     t.Reason,
		At:         t.At,
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- ev:
	default:
		a.dropped.Add(1)
		log.Printf("audit: queue full, dropping %s transition for tenant %s", t.To, t.TenantID)
	}
}

func (a *AuditRecorder) run() {
	defer close(a.done)
	for ev := range a.queue {
		if err := a.store.SaveAndPruneEvent(ev, a.maxRows); err != nil {
			log.Printf("audit: durable write failed: %v", err)
			continue
		}
		log.Printf("audit: tenant=%s generation=%s %s -> %s event=%s reason=%s",
			ev.TenantID, ev.Generation, ev.FromState, ev.ToState, ev.Event, ev.Reason)
	}
}

// Dropped returns how many transitions were dropped on a full queue.
func (a *AuditRecorder) Dropped() int64 {
	return a.dropped.Load()
}

// Close stops accepting transitions and waits for queued ones to be
// written.
func (a *AuditRecorder) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		<-a.done
		return
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()
	<-a.done
}

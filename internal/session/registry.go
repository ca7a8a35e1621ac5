package session

import (
	"errors"
	"hash/maphash"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrMaxSessionsReached is returned when the registry is at its limit.
var ErrMaxSessionsReached = errors.New("maximum number of sessions reached")

// DefaultMaxSessions bounds concurrent driver instances. Each one is a
// headless client with its own browser, so the limit is deliberately low.
const DefaultMaxSessions = 50

// DefaultMaxEnded bounds the ended-session snapshots kept per shard. The
// oldest snapshot is dropped first.
const DefaultMaxEnded = 64

// registryShards is the number of independently locked shards. It must be a
// power of two.
const registryShards = 32

// Registry maps tenant ids to their live handle.
//
// The map is split into shards with their own locks, so operations on
// different tenants rarely contend. No operation performs I/O or blocks on a
// driver; construction happens after CreateIfAbsent has reserved the slot.
//
// The registry also keeps the last snapshot of every removed handle so a
// status query can tell a tenant that never started from one whose session
// ended. At most maxEnded snapshots are kept per shard.
type Registry struct {
	shards      [registryShards]registryShard
	seed        maphash.Seed
	count       atomic.Int64
	maxSessions int64
	maxEnded    int
	timeNow     func() time.Time
}

type registryShard struct {
	mu       sync.RWMutex
	live     map[string]*Handle
	ended    map[string]tombstone
	endedSeq uint64
}

type tombstone struct {
	snap Snapshot
	seq  uint64
}

// remember stores snap as the tenant's ended snapshot, evicting the oldest
// ones beyond limit. Callers hold s.mu.
func (s *registryShard) remember(snap Snapshot, limit int) {
	s.endedSeq++
	s.ended[snap.TenantID] = tombstone{snap: snap, seq: s.endedSeq}
	for len(s.ended) > limit {
		oldest, oldestSeq := "", uint64(0)
		for id, t := range s.ended {
			if oldest == "" || t.seq < oldestSeq {
				oldest, oldestSeq = id, t.seq
			}
		}
		delete(s.ended, oldest)
	}
}

// NewRegistry returns an empty registry. maxSessions <= 0 selects
// DefaultMaxSessions.
func NewRegistry(maxSessions int) *Registry {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	r := &Registry{
		seed:        maphash.MakeSeed(),
		maxSessions: int64(maxSessions),
		maxEnded:    DefaultMaxEnded,
		timeNow:     time.Now,
	}
	for i := range r.shards {
		r.shards[i].live = make(map[string]*Handle)
		r.shards[i].ended = make(map[string]tombstone)
	}
	return r
}

func (r *Registry) shard(tenantID string) *registryShard {
	return &r.shards[maphash.String(r.seed, tenantID)&(registryShards-1)]
}

// CreateIfAbsent returns the live handle for tenantID, or reserves a new
// handle in INITIALIZING. created reports which happened. It is the only way
// handles come into existence.
func (r *Registry) CreateIfAbsent(tenantID string) (h *Handle, created bool, err error) {
	s := r.shard(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.live[tenantID]; ok {
		return existing, false, nil
	}

	if r.count.Add(1) > r.maxSessions {
		r.count.Add(-1)
		return nil, false, ErrMaxSessionsReached
	}

	h = newHandle(tenantID, uuid.New().String(), r.timeNow())
	s.live[tenantID] = h
	delete(s.ended, tenantID)
	return h, true, nil
}

// Get returns the live handle for tenantID.
func (r *Registry) Get(tenantID string) (*Handle, bool) {
	s := r.shard(tenantID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.live[tenantID]
	return h, ok
}

// Remove drops the live handle for tenantID, keeping its last snapshot.
// It is a no-op if there is none.
func (r *Registry) Remove(tenantID string) {
	s := r.shard(tenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.live[tenantID]; ok {
		delete(s.live, tenantID)
		s.remember(h.Snapshot(), r.maxEnded)
		r.count.Add(-1)
	}
}

// RemoveHandle drops h only if it is still the tenant's registered handle,
// so a finished controller can never remove its successor. It reports
// whether h was removed.
func (r *Registry) RemoveHandle(h *Handle) bool {
	s := r.shard(h.TenantID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if current, ok := s.live[h.TenantID]; !ok || current != h {
		return false
	}
	delete(s.live, h.TenantID)
	s.remember(h.Snapshot(), r.maxEnded)
	r.count.Add(-1)
	return true
}

// Ended returns the last snapshot of the tenant's most recently removed
// handle, if the tenant has no live handle.
func (r *Registry) Ended(tenantID string) (Snapshot, bool) {
	s := r.shard(tenantID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.ended[tenantID]
	return t.snap, ok
}

// Handles returns the live handles in no particular order.
func (r *Registry) Handles() []*Handle {
	var out []*Handle
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, h := range s.live {
			out = append(out, h)
		}
		s.mu.RUnlock()
	}
	return out
}

// List returns snapshots of all live handles sorted by tenant id.
func (r *Registry) List() []Snapshot {
	handles := r.Handles()
	out := make([]Snapshot, 0, len(handles))
	for _, h := range handles {
		out = append(out, h.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Count returns the number of live handles.
func (r *Registry) Count() int {
	return int(r.count.Load())
}

// MaxSessions returns the configured limit.
func (r *Registry) MaxSessions() int {
	return int(r.maxSessions)
}

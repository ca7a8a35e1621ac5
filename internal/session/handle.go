package session

import (
	"context"
	"sync"
	"time"

	"github.com/pseudocoder/pairgate/internal/driver"
)

// Handle is the registry's record of one tenant's driver instance.
//
// Handles are created only by Registry.CreateIfAbsent and mutated only by
// the handle's controller. Everything else reads through Snapshot and the
// accessors below.
type Handle struct {
	// TenantID is the tenant this handle belongs to.
	TenantID string

	// Generation uniquely identifies this handle among all handles ever
	// created for the tenant. A new start after a terminal state always
	// gets a new generation.
	Generation string

	// CreatedAt is when the handle was reserved.
	CreatedAt time.Time

	pairing *PairingChannel

	mu              sync.Mutex
	state           State
	lastError       string
	reason          string
	updatedAt       time.Time
	drv             driver.Driver
	ctl             *controller
	cancel          context.CancelFunc
	logoutRequested bool
}

// Snapshot is an immutable copy of a handle's externally visible fields.
type Snapshot struct {
	TenantID       string    `json:"tenant_id"`
	Generation     string    `json:"generation,omitempty"`
	State          State     `json:"state"`
	Error          string    `json:"error,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	PairingVersion uint64    `json:"pairing_version,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

func newHandle(tenantID, generation string, now time.Time) *Handle {
	return &Handle{
		TenantID:   tenantID,
		Generation: generation,
		CreatedAt:  now,
		pairing:    NewPairingChannel(),
		state:      StateInitializing,
		updatedAt:  now,
	}
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Pairing returns the handle's pairing channel.
func (h *Handle) Pairing() *PairingChannel {
	return h.pairing
}

// Snapshot returns a consistent copy of the handle's fields.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Snapshot{
		TenantID:       h.TenantID,
		Generation:     h.Generation,
		State:          h.state,
		Error:          h.lastError,
		Reason:         h.reason,
		PairingVersion: h.pairing.Version(),
		CreatedAt:      h.CreatedAt,
		UpdatedAt:      h.updatedAt,
	}
}

func (h *Handle) driver() driver.Driver {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drv
}

func (h *Handle) controller() *controller {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ctl
}

// attach binds a constructed driver and its controller to the handle.
// It fails if the handle already ended (shutdown raced with construction).
func (h *Handle) attach(d driver.Driver, c *controller, cancel context.CancelFunc) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	h.drv = d
	h.ctl = c
	h.cancel = cancel
	return true
}

// beginLogout marks the handle as logging out. Only authenticated sessions
// can log out, and only once.
func (h *Handle) beginLogout() (State, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.state.Connected() || h.logoutRequested {
		return h.state, false
	}
	h.logoutRequested = true
	return h.state, true
}

func (h *Handle) loggingOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.logoutRequested
}

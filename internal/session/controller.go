package session

import (
	"context"
	"log"
	"time"

	"github.com/pseudocoder/pairgate/internal/driver"
)

// Transition describes one applied state change.
type Transition struct {
	TenantID   string
	Generation string
	From       State
	To         State
	Event      string
	Reason     string
	At         time.Time
}

// TransitionRecorder receives every applied transition. Implementations
// must not block; they are called from the handle's controller goroutine.
type TransitionRecorder interface {
	RecordTransition(t Transition)
}

// Events the controller receives from the gateway rather than the driver.
const (
	eventLogout   = "logout"
	eventShutdown = "shutdown"
)

type controlKind int

const (
	controlInitError controlKind = iota
	controlLogout
	controlShutdown
)

type controlEvent struct {
	kind   controlKind
	reason string
}

// controller consumes one handle's driver events and applies the lifecycle
// transitions. There is exactly one controller goroutine per handle, so
// transitions for a tenant are applied one at a time in arrival order.
type controller struct {
	handle   *Handle
	drv      driver.Driver
	registry *Registry
	recorder TransitionRecorder
	timeNow  func() time.Time

	control chan controlEvent
	done    chan struct{}
}

func newController(h *Handle, d driver.Driver, r *Registry, rec TransitionRecorder, now func() time.Time) *controller {
	return &controller{
		handle:   h,
		drv:      d,
		registry: r,
		recorder: rec,
		timeNow:  now,
		control:  make(chan controlEvent, 4),
		done:     make(chan struct{}),
	}
}

// Done is closed after the controller applied a terminal transition and
// released the driver.
func (c *controller) Done() <-chan struct{} {
	return c.done
}

// submit hands a gateway-originated event to the controller. It returns
// false if the controller already finished.
func (c *controller) submit(ctx context.Context, ev controlEvent) bool {
	select {
	case c.control <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *controller) run() {
	defer close(c.done)

	events := c.drv.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// The driver stopped without a terminal event.
				c.apply(driver.Event{Type: driver.EventDisconnected, Reason: driver.ReasonDriverError})
				return
			}
			if c.apply(ev) {
				return
			}
		case ctl := <-c.control:
			if c.applyControl(ctl) {
				return
			}
		}
	}
}

func (c *controller) applyControl(ctl controlEvent) bool {
	switch ctl.kind {
	case controlInitError:
		return c.apply(driver.Event{Type: driver.EventInitError, Reason: ctl.reason})
	case controlLogout:
		return c.terminate(StateLoggedOut, eventLogout, ctl.reason)
	case controlShutdown:
		return c.terminate(StateDisconnected, eventShutdown, ctl.reason)
	}
	return false
}

// apply runs one driver event through the transition table. It returns true
// when the handle reached a terminal state.
func (c *controller) apply(ev driver.Event) bool {
	h := c.handle

	if ev.Type == driver.EventDisconnected && h.loggingOut() {
		// Drivers report their own logout as a disconnect.
		return c.terminate(StateLoggedOut, eventLogout, ev.Reason)
	}

	switch ev.Type {
	case driver.EventAuthFailure, driver.EventInitError:
		return c.terminate(StateFailed, string(ev.Type), ev.Reason)
	case driver.EventDisconnected:
		return c.terminate(StateDisconnected, string(ev.Type), ev.Reason)
	}

	h.mu.Lock()
	from := h.state
	to, ok := nextState(from, ev.Type)
	if !ok {
		h.mu.Unlock()
		log.Printf("session: tenant %s ignoring %s in state %s", h.TenantID, ev, from)
		return from.Terminal()
	}

	// The channel is updated under the handle lock so a reader never sees
	// QR_PENDING without a payload, or a payload outside QR_PENDING.
	switch ev.Type {
	case driver.EventPairingPayload:
		h.pairing.Publish(ev.Payload)
	case driver.EventAuthenticated, driver.EventReady:
		h.pairing.Clear()
	}
	h.state = to
	h.updatedAt = c.timeNow()
	h.mu.Unlock()

	c.record(from, to, string(ev.Type), "")
	if from != to {
		log.Printf("session: tenant %s %s -> %s on %s", h.TenantID, from, to, ev)
	}
	return false
}

// nextState is the non-terminal part of the transition table.
func nextState(from State, ev driver.EventType) (State, bool) {
	if from.Terminal() {
		return from, false
	}
	switch ev {
	case driver.EventPairingPayload:
		if from == StateInitializing || from == StateQRPending {
			return StateQRPending, true
		}
	case driver.EventAuthenticated:
		// INITIALIZING is accepted for drivers restoring saved credentials,
		// which authenticate without ever showing a pairing code.
		if from == StateQRPending || from == StateInitializing {
			return StateAuthenticated, true
		}
	case driver.EventReady:
		if from == StateInitializing || from == StateQRPending || from == StateAuthenticated {
			return StateReady, true
		}
	}
	return from, false
}

// terminate moves the handle to a terminal state, releases the driver and
// only then removes the handle from the registry. It returns true unless
// the handle had already ended.
func (c *controller) terminate(to State, event, reason string) bool {
	h := c.handle

	h.mu.Lock()
	from := h.state
	if from.Terminal() {
		h.mu.Unlock()
		return true
	}
	h.state = to
	h.reason = reason
	if to == StateFailed {
		h.lastError = reason
		if h.lastError == "" {
			h.lastError = event
		}
	}
	h.updatedAt = c.timeNow()
	cancel := h.cancel
	h.pairing.Close()
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c.drv != nil {
		if err := c.drv.Close(); err != nil {
			log.Printf("session: tenant %s driver release failed: %v", h.TenantID, err)
		}
	}
	c.registry.RemoveHandle(h)

	c.record(from, to, event, reason)
	log.Printf("session: tenant %s %s -> %s on %s (%s)", h.TenantID, from, to, event, reason)
	return true
}

func (c *controller) record(from, to State, event, reason string) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordTransition(Transition{
		TenantID:   c.handle.TenantID,
		Generation: c.handle.Generation,
		From:       from,
		To:         to,
		Event:      event,
		Reason:     reason,
		At:         c.timeNow(),
	})
}

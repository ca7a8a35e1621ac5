// Package driver defines the contract between the session core and the
// headless client that logs into the messaging platform.
//
// A driver is constructed per tenant, emits lifecycle events on the channel
// returned by Events, and is released with Close. The session core never
// looks inside a driver; it only consumes the events listed here.
package driver

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventType identifies a driver lifecycle event.
type EventType string

const (
	// EventPairingPayload carries a new pairing code. Drivers emit it
	// repeatedly while the platform rotates the code.
	EventPairingPayload EventType = "pairing_payload"

	// EventAuthenticated reports that the pairing code was scanned.
	EventAuthenticated EventType = "authenticated"

	// EventReady reports that the client can send and receive messages.
	EventReady EventType = "ready"

	// EventAuthFailure reports that the platform rejected the session.
	EventAuthFailure EventType = "auth_failure"

	// EventDisconnected reports that the client lost its session.
	EventDisconnected EventType = "disconnected"

	// EventInitError reports that the driver could not start.
	EventInitError EventType = "init_error"
)

// ReasonDriverError is the disconnect reason used when a driver stops
// without emitting a terminal event (crash, closed pipe, lost bridge).
const ReasonDriverError = "driver-error"

// Event is a single lifecycle event emitted by a driver.
//
// Payload is set for EventPairingPayload. Reason is set for EventAuthFailure,
// EventDisconnected and EventInitError.
type Event struct {
	Type    EventType `json:"type"`
	Payload string    `json:"payload,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// String implements fmt.Stringer for log output. Pairing payloads are
// credentials in transit, so only their length is printed.
func (e Event) String() string {
	switch e.Type {
	case EventPairingPayload:
		return fmt.Sprintf("%s(len=%d)", e.Type, len(e.Payload))
	case EventAuthFailure, EventDisconnected, EventInitError:
		return fmt.Sprintf("%s(%s)", e.Type, e.Reason)
	default:
		return string(e.Type)
	}
}

// Known reports whether t is one of the event types in the contract.
func (t EventType) Known() bool {
	switch t {
	case EventPairingPayload, EventAuthenticated, EventReady,
		EventAuthFailure, EventDisconnected, EventInitError:
		return true
	}
	return false
}

// wireEvent accepts the event names used by common headless clients in
// addition to the contract names ("qr" for pairing codes, "auth" as a short
// form of authenticated, "message" for the error text).
type wireEvent struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload string `json:"payload"`
	Data    string `json:"data"`
	QR      string `json:"qr"`
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

var wireAliases = map[string]EventType{
	"qr":            EventPairingPayload,
	"auth":          EventAuthenticated,
	"auth_failed":   EventAuthFailure,
	"auth_failure":  EventAuthFailure,
	"authenticated": EventAuthenticated,
	"disconnected":  EventDisconnected,
	"init_error":    EventInitError,
	"ready":         EventReady,
	"pairing":       EventPairingPayload,
}

// ParseEvent decodes one JSON-encoded event produced by a driver helper.
// It returns an error for malformed JSON and for unknown event types.
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("decode driver event: %w", err)
	}

	name := w.Type
	if name == "" {
		name = w.Event
	}
	t := EventType(name)
	if alias, ok := wireAliases[name]; ok {
		t = alias
	}
	if !t.Known() {
		return Event{}, fmt.Errorf("unknown driver event %q", name)
	}

	ev := Event{Type: t}
	switch t {
	case EventPairingPayload:
		ev.Payload = firstNonEmpty(w.Payload, w.QR, w.Data)
		if ev.Payload == "" {
			return Event{}, fmt.Errorf("driver event %s without payload", t)
		}
	case EventAuthFailure, EventDisconnected, EventInitError:
		ev.Reason = firstNonEmpty(w.Reason, w.Message, w.Error, w.Data)
	}
	return ev, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Driver is one tenant's headless client instance.
//
// Events returns the channel on which the driver delivers lifecycle events in
// emission order. The driver closes the channel when it stops producing
// events; a close without a preceding terminal event is treated by the
// session core as a disconnect with ReasonDriverError.
//
// Initialize starts the client. It may block until the client is up, and is
// always called from its own goroutine. A returned error becomes an
// init_error transition.
//
// Close releases every resource the driver holds (helper process, bridge
// connection). It must be safe to call more than once and after the events
// channel has been closed.
type Driver interface {
	Events() <-chan Event
	Initialize(ctx context.Context) error
	Logout(ctx context.Context) error
	SendMessage(ctx context.Context, to, body string) error
	Close() error
}

// Config is what the session core hands to a Factory for each new driver.
type Config struct {
	// TenantID is the validated tenant identifier.
	TenantID string

	// CredentialDir is where the driver persists the tenant's login
	// credentials between runs (the platform's local auth store).
	CredentialDir string
}

// Factory constructs a new driver instance. It must not block on network or
// process startup; that work belongs in Initialize.
type Factory func(cfg Config) (Driver, error)

package session

// State is a session's lifecycle state.
type State string

const (
	// StateNotInitialized is reported for tenants that never had a session.
	// No handle is ever in this state.
	StateNotInitialized State = "NOT_INITIALIZED"

	// StateInitializing is the entry state, before the driver emits anything.
	StateInitializing State = "INITIALIZING"

	// StateQRPending means a pairing payload is waiting to be scanned.
	StateQRPending State = "QR_PENDING"

	// StateAuthenticated means the pairing code was accepted.
	StateAuthenticated State = "AUTHENTICATED"

	// StateReady means the client can send and receive messages.
	StateReady State = "READY"

	// StateDisconnected is terminal: the driver lost its session.
	StateDisconnected State = "DISCONNECTED"

	// StateFailed is terminal: initialization or authentication failed.
	StateFailed State = "FAILED"

	// StateLoggedOut is terminal: the tenant logged out through the API.
	StateLoggedOut State = "LOGGED_OUT"
)

// Terminal reports whether s ends a handle's lifetime.
func (s State) Terminal() bool {
	switch s {
	case StateDisconnected, StateFailed, StateLoggedOut:
		return true
	}
	return false
}

// Valid reports whether s is a state a handle can be in.
func (s State) Valid() bool {
	switch s {
	case StateInitializing, StateQRPending, StateAuthenticated, StateReady,
		StateDisconnected, StateFailed, StateLoggedOut:
		return true
	}
	return false
}

// Connected reports whether the driver is logged in.
func (s State) Connected() bool {
	return s == StateAuthenticated || s == StateReady
}

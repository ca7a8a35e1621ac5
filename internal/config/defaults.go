package config

import "time"

// DefaultAddr is the default listen address for the HTTP server.
const DefaultAddr = "127.0.0.1:3000"

// Driver implementations.
const (
	DriverExec   = "exec"
	DriverBridge = "bridge"
)

// DefaultDriverCommand is the helper executable for the exec driver.
const DefaultDriverCommand = "pairgate-driver"

const (
	DefaultMaxSessions     = 50
	DefaultPairingWaitMax  = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultStartsPerMinute = 6
	DefaultPollsPerSecond  = 10
	DefaultAuditMaxRows    = 10000
)

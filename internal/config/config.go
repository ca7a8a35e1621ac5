// Package config provides configuration loading for the gateway.
//
// Values come from three layers, lowest precedence first: the TOML file
// (~/.pairgate/config.toml by default, or --config), environment variables
// (PAIRGATE_* plus the conventional PORT), and CLI flags applied by the
// caller. Defaults fill whatever is still empty.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "PAIRGATE_"

// Duration is a time.Duration that decodes from strings like "30s" in both
// TOML and environment variables.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the gateway configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML
// files and upper snake case (with EnvPrefix) in the environment.
type Config struct {
	// Addr is the host:port for the HTTP server.
	// Default: 127.0.0.1:3000
	Addr string `toml:"addr" env:"ADDR"`

	// DataDir holds the database, certificates and tenant credentials.
	// Default: ~/.pairgate
	DataDir string `toml:"data_dir" env:"DATA_DIR"`

	// CredentialDir is the root under which each tenant's driver persists
	// its credentials, one subdirectory per tenant.
	// Default: <data_dir>/credentials
	CredentialDir string `toml:"credential_dir" env:"CREDENTIAL_DIR"`

	// Database is the path to the SQLite audit and client database.
	// Default: <data_dir>/pairgate.db
	Database string `toml:"database" env:"DATABASE"`

	// TLSEnabled serves HTTPS with TLSCert/TLSKey, generating a self-signed
	// pair when they are missing. Default: false
	TLSEnabled bool `toml:"tls_enabled" env:"TLS_ENABLED"`

	// TLSCert is the path to the TLS certificate file.
	// Default: <data_dir>/certs/gateway.crt
	TLSCert string `toml:"tls_cert" env:"TLS_CERT"`

	// TLSKey is the path to the TLS key file.
	// Default: <data_dir>/certs/gateway.key
	TLSKey string `toml:"tls_key" env:"TLS_KEY"`

	// RequireAuth enables bearer-token authentication for the session API.
	// Default: false
	RequireAuth bool `toml:"require_auth" env:"REQUIRE_AUTH"`

	// MaxSessions limits concurrent tenant sessions.
	// Default: 50
	MaxSessions int `toml:"max_sessions" env:"MAX_SESSIONS"`

	// Driver selects the driver implementation: "exec" runs a local helper
	// process per tenant, "bridge" connects to a remote driver service.
	// Default: exec
	Driver string `toml:"driver" env:"DRIVER"`

	// DriverCommand is the helper executable for the exec driver.
	// Default: pairgate-driver
	DriverCommand string `toml:"driver_command" env:"DRIVER_COMMAND"`

	// DriverArgs are extra arguments for the helper.
	DriverArgs []string `toml:"driver_args" env:"DRIVER_ARGS" envSeparator:","`

	// BridgeURL is the WebSocket URL of the remote driver service.
	BridgeURL string `toml:"bridge_url" env:"BRIDGE_URL"`

	// BridgeToken is sent as a bearer token when dialing BridgeURL.
	BridgeToken string `toml:"bridge_token" env:"BRIDGE_TOKEN"`

	// PairingWaitMax caps the ?wait= duration of the pairing long-poll.
	// Default: 30s
	PairingWaitMax Duration `toml:"pairing_wait_max" env:"PAIRING_WAIT_MAX"`

	// ShutdownTimeout bounds how long shutdown waits for drivers to exit.
	// Default: 10s
	ShutdownTimeout Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// StartsPerMinute limits start requests per tenant.
	// Default: 6
	StartsPerMinute int `toml:"starts_per_minute" env:"STARTS_PER_MINUTE"`

	// PollsPerSecond limits requests per client (or remote address).
	// Default: 10
	PollsPerSecond float64 `toml:"polls_per_second" env:"POLLS_PER_SECOND"`

	// AuditMaxRows bounds the lifecycle audit log. 0 keeps every row.
	// Default: 10000
	AuditMaxRows int `toml:"audit_max_rows" env:"AUDIT_MAX_ROWS"`

	// MdnsEnabled advertises the gateway on the local network.
	// Default: false
	MdnsEnabled bool `toml:"mdns_enabled" env:"MDNS_ENABLED"`

	// Daemon runs the gateway as a background daemon.
	// Default: false
	Daemon bool `toml:"daemon" env:"DAEMON"`

	// PIDFile is the path to write the daemon PID file.
	// Default: <data_dir>/pairgate.pid
	PIDFile string `toml:"pid_file" env:"PID_FILE"`

	// LogFile is the path for daemon log output.
	// Default: <data_dir>/pairgate.log
	LogFile string `toml:"log_file" env:"LOG_FILE"`
}

// portEnv holds the unprefixed PORT variable used by container platforms.
type portEnv struct {
	Port int `env:"PORT"`
}

// DefaultDataDir returns ~/.pairgate.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".pairgate"), nil
}

// DefaultConfigPath returns the default config file location: ~/.pairgate/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultDataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// WriteDefault creates a config file with LAN-ready defaults at the given
// path: it listens on all interfaces and requires authentication.
//
// Behavior:
//   - If the file already exists, returns without error (does not overwrite).
//   - Creates the parent directory if it doesn't exist.
//   - Returns an error if the file cannot be written.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := `# pairgate configuration

# Listen on all interfaces for LAN access
addr = "0.0.0.0:3000"

# Require a bearer token issued with 'pairgate token create'
require_auth = true

# Helper process driving one headless client per tenant
driver = "exec"
driver_command = "pairgate-driver"
`

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.pairgate/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			return cfg, nil
		}
		path = defaultPath
	} else {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overlays environment variables onto cfg. Only variables that are
// set replace file values. PORT sets the listen address to all interfaces
// unless PAIRGATE_ADDR is also set.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	var port portEnv
	if err := env.Parse(&port); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if port.Port > 0 {
		if _, ok := os.LookupEnv(EnvPrefix + "ADDR"); !ok {
			cfg.Addr = fmt.Sprintf("0.0.0.0:%d", port.Port)
		}
	}
	return nil
}

// LoadWithEnv is Load followed by ApplyEnv.
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every empty field with its default. Paths default to
// locations under DataDir.
func (c *Config) ApplyDefaults() error {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.DataDir == "" {
		dir, err := DefaultDataDir()
		if err != nil {
			return err
		}
		c.DataDir = dir
	}
	if c.CredentialDir == "" {
		c.CredentialDir = filepath.Join(c.DataDir, "credentials")
	}
	if c.Database == "" {
		c.Database = filepath.Join(c.DataDir, "pairgate.db")
	}
	if c.TLSCert == "" {
		c.TLSCert = filepath.Join(c.DataDir, "certs", "gateway.crt")
	}
	if c.TLSKey == "" {
		c.TLSKey = filepath.Join(c.DataDir, "certs", "gateway.key")
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = DefaultMaxSessions
	}
	if c.Driver == "" {
		c.Driver = DriverExec
	}
	if c.DriverCommand == "" {
		c.DriverCommand = DefaultDriverCommand
	}
	if c.PairingWaitMax.Duration <= 0 {
		c.PairingWaitMax.Duration = DefaultPairingWaitMax
	}
	if c.ShutdownTimeout.Duration <= 0 {
		c.ShutdownTimeout.Duration = DefaultShutdownTimeout
	}
	if c.StartsPerMinute <= 0 {
		c.StartsPerMinute = DefaultStartsPerMinute
	}
	if c.PollsPerSecond <= 0 {
		c.PollsPerSecond = DefaultPollsPerSecond
	}
	if c.AuditMaxRows < 0 {
		c.AuditMaxRows = 0
	} else if c.AuditMaxRows == 0 {
		c.AuditMaxRows = DefaultAuditMaxRows
	}
	if c.PIDFile == "" {
		c.PIDFile = filepath.Join(c.DataDir, "pairgate.pid")
	}
	if c.LogFile == "" {
		c.LogFile = filepath.Join(c.DataDir, "pairgate.log")
	}
	return nil
}

// Validate reports configuration that cannot work.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverExec:
		if c.DriverCommand == "" {
			return fmt.Errorf("driver_command is required for the exec driver")
		}
	case DriverBridge:
		if c.BridgeURL == "" {
			return fmt.Errorf("bridge_url is required for the bridge driver")
		}
	default:
		return fmt.Errorf("unknown driver %q (want %q or %q)", c.Driver, DriverExec, DriverBridge)
	}
	return nil
}

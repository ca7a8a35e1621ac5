package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/pseudocoder/pairgate/internal/auth"
	"github.com/pseudocoder/pairgate/internal/config"
	"github.com/pseudocoder/pairgate/internal/driver"
	"github.com/pseudocoder/pairgate/internal/driver/bridge"
	"github.com/pseudocoder/pairgate/internal/driver/execdriver"
	"github.com/pseudocoder/pairgate/internal/mdns"
	"github.com/pseudocoder/pairgate/internal/server"
	"github.com/pseudocoder/pairgate/internal/session"
	"github.com/pseudocoder/pairgate/internal/storage"
	gatewayTLS "github.com/pseudocoder/pairgate/internal/tls"
)

// daemonEnvVar marks the re-executed background child.
const daemonEnvVar = "PAIRGATE_DAEMON_CHILD"

// daemonStartupWait is how long the parent watches the child for an early exit.
const daemonStartupWait = 2 * time.Second

// serveFlags holds command-line overrides for the serve command.
type serveFlags struct {
	ConfigPath    string
	Addr          string
	DataDir       string
	Driver        string
	DriverCommand string
	BridgeURL     string
	MaxSessions   int
	RequireAuth   bool
	TLS           bool
	Mdns          bool
	Daemon        bool
	PIDFile       string
	LogFile       string
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	sf := &serveFlags{}
	fs.StringVar(&sf.ConfigPath, "config", "", "Path to config file (default: ~/.pairgate/config.toml)")
	fs.StringVar(&sf.Addr, "addr", "", "Listen address (default: "+config.DefaultAddr+")")
	fs.StringVar(&sf.DataDir, "data-dir", "", "Data directory (default: ~/.pairgate)")
	fs.StringVar(&sf.Driver, "driver", "", "Session driver: exec or bridge (default: exec)")
	fs.StringVar(&sf.DriverCommand, "driver-command", "", "Helper executable for the exec driver")
	fs.StringVar(&sf.BridgeURL, "bridge-url", "", "WebSocket endpoint for the bridge driver")
	fs.IntVar(&sf.MaxSessions, "max-sessions", 0, "Maximum concurrent sessions (default: 50)")
	fs.BoolVar(&sf.RequireAuth, "require-auth", false, "Require a bearer token on /sessions routes")
	fs.BoolVar(&sf.TLS, "tls", false, "Serve HTTPS with a self-signed certificate")
	fs.BoolVar(&sf.Mdns, "mdns", false, "Advertise the gateway via mDNS")
	fs.BoolVar(&sf.Daemon, "daemon", false, "Run in the background")
	fs.StringVar(&sf.PIDFile, "pid-file", "", "PID file path (default: <data-dir>/pairgate.pid)")
	fs.StringVar(&sf.LogFile, "log-file", "", "Log file for daemon mode (default: <data-dir>/pairgate.log)")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: pairgate serve [options]\n\nRun the gateway.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	cfg, err := loadServeConfig(fs, sf)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Go has no fork(): the parent re-executes itself with daemonEnvVar set
	// and the child carries on below.
	if cfg.Daemon && os.Getenv(daemonEnvVar) == "" {
		return startDaemon(args, cfg.LogFile, stdout, stderr)
	}

	var logFile *os.File
	if cfg.Daemon {
		logFile, err = os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
			return 1
		}
		defer logFile.Close()
		stdout = logFile
		stderr = logFile
		log.SetOutput(logFile)
	}

	return serve(cfg, stdout, stderr)
}

// loadServeConfig merges file, environment and explicit flags, then fills
// defaults and validates.
func loadServeConfig(fs *flag.FlagSet, sf *serveFlags) (*config.Config, error) {
	cfg, err := config.LoadWithEnv(sf.ConfigPath)
	if err != nil {
		return nil, err
	}

	// Only flags given on the command line override the file. This lets
	// --require-auth=false beat require_auth = true.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = sf.Addr
		case "data-dir":
			cfg.DataDir = sf.DataDir
		case "driver":
			cfg.Driver = sf.Driver
		case "driver-command":
			cfg.DriverCommand = sf.DriverCommand
		case "bridge-url":
			cfg.BridgeURL = sf.BridgeURL
		case "max-sessions":
			cfg.MaxSessions = sf.MaxSessions
		case "require-auth":
			cfg.RequireAuth = sf.RequireAuth
		case "tls":
			cfg.TLSEnabled = sf.TLS
		case "mdns":
			cfg.MdnsEnabled = sf.Mdns
		case "daemon":
			cfg.Daemon = sf.Daemon
		case "pid-file":
			cfg.PIDFile = sf.PIDFile
		case "log-file":
			cfg.LogFile = sf.LogFile
		}
	})

	if err := cfg.ApplyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// startDaemon re-executes "serve" in the background and reports whether the
// child survived its first seconds.
func startDaemon(args []string, logFilePath string, stdout, stderr io.Writer) int {
	if err := os.MkdirAll(filepath.Dir(logFilePath), 0755); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create log directory: %v\n", err)
		return 1
	}

	logFileHandle, err := os.OpenFile(logFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open log file: %v\n", err)
		return 1
	}
	defer logFileHandle.Close()

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to get executable path: %v\n", err)
		return 1
	}

	childArgs := append([]string{"serve"}, args...)
	cmd := exec.Command(exe, childArgs...)
	cmd.Stdout = logFileHandle
	cmd.Stderr = logFileHandle
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), daemonEnvVar+"=1")

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(stderr, "Error: failed to start daemon: %v\n", err)
		return 1
	}

	childPid := cmd.Process.Pid
	childDone := make(chan error, 1)
	go func() {
		childDone <- cmd.Wait()
	}()

	select {
	case err := <-childDone:
		if err != nil {
			fmt.Fprintf(stderr, "Error: daemon failed to start (exit: %v, check log: %s)\n", err, logFilePath)
		} else {
			fmt.Fprintf(stderr, "Error: daemon exited unexpectedly (check log: %s)\n", logFilePath)
		}
		return 1
	case <-time.After(daemonStartupWait):
		fmt.Fprintf(stdout, "Daemon started (pid %d). Logging to: %s\n", childPid, logFilePath)
		return 0
	}
}

// newDriverFactory builds the factory for the configured driver kind.
func newDriverFactory(cfg *config.Config) (driver.Factory, error) {
	switch cfg.Driver {
	case config.DriverExec:
		return execdriver.NewFactory(execdriver.Config{
			Command: cfg.DriverCommand,
			Args:    cfg.DriverArgs,
		}), nil
	case config.DriverBridge:
		if _, err := bridge.NormalizeURL(cfg.BridgeURL); err != nil {
			return nil, fmt.Errorf("invalid bridge_url: %w", err)
		}
		return bridge.NewFactory(bridge.Config{
			URL:   cfg.BridgeURL,
			Token: cfg.BridgeToken,
		}), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Driver)
	}
}

// serve runs the gateway until SIGINT or SIGTERM.
func serve(cfg *config.Config, stdout, stderr io.Writer) int {
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create data directory: %v\n", err)
		return 1
	}
	if err := os.MkdirAll(cfg.CredentialDir, 0700); err != nil {
		fmt.Fprintf(stderr, "Error: failed to create credential directory: %v\n", err)
		return 1
	}

	factory, err := newDriverFactory(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	store, err := storage.NewSQLiteStore(cfg.Database)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open database: %v\n", err)
		return 1
	}

	recorder := server.NewAuditRecorder(store, cfg.AuditMaxRows)

	gateway, err := session.NewGateway(session.Config{
		Factory:        factory,
		CredentialRoot: cfg.CredentialDir,
		MaxSessions:    cfg.MaxSessions,
		Recorder:       recorder,
	})
	if err != nil {
		recorder.Close()
		store.Close()
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	srv := server.NewServer(gateway, server.Config{
		Addr:            cfg.Addr,
		RequireAuth:     cfg.RequireAuth,
		TLSEnabled:      cfg.TLSEnabled,
		Driver:          cfg.Driver,
		PairingWaitMax:  cfg.PairingWaitMax.Duration,
		StartsPerMinute: cfg.StartsPerMinute,
		PollsPerSecond:  cfg.PollsPerSecond,
	})
	srv.SetEventStore(store)
	if cfg.RequireAuth {
		srv.SetTokenValidator(auth.NewTokenValidator(store))
	}

	var certInfo *gatewayTLS.CertInfo
	var errCh <-chan error
	if cfg.TLSEnabled {
		certInfo, err = gatewayTLS.EnsureCertificate(gatewayTLS.CertConfig{
			CertPath: cfg.TLSCert,
			KeyPath:  cfg.TLSKey,
			Hosts:    gatewayTLS.HostsForAddr(cfg.Addr),
		})
		if err != nil {
			gateway.Shutdown(context.Background())
			recorder.Close()
			store.Close()
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		errCh = srv.StartAsyncTLS(server.TLSConfig{CertPath: certInfo.CertPath, KeyPath: certInfo.KeyPath})
	} else {
		errCh = srv.StartAsync()
	}

	if err := <-errCh; err != nil {
		gateway.Shutdown(context.Background())
		recorder.Close()
		store.Close()
		fmt.Fprintf(stderr, "Error: failed to start server: %v\n", err)
		return 1
	}

	scheme := "http"
	if cfg.TLSEnabled {
		scheme = "https"
	}
	fmt.Fprintf(stdout, "Gateway listening on %s://%s (driver: %s)\n", scheme, srv.Addr(), cfg.Driver)
	if certInfo != nil {
		fmt.Fprintf(stdout, "TLS fingerprint: %s\n", certInfo.Fingerprint)
	}
	if cfg.RequireAuth {
		fmt.Fprintln(stdout, "Authentication required. Issue a token with 'pairgate token create <name>'.")
	} else if !isLoopbackAddr(cfg.Addr) {
		fmt.Fprintln(stderr, "Warning: listening beyond loopback without --require-auth")
	}

	var advertiser *mdns.Advertiser
	if cfg.MdnsEnabled {
		advertiser, err = startAdvertiser(srv.Addr(), cfg, certInfo)
		if err != nil {
			fmt.Fprintf(stderr, "Warning: mDNS advertisement failed: %v\n", err)
			advertiser = nil
		} else {
			fmt.Fprintf(stdout, "Advertising %s via mDNS\n", mdns.ServiceType)
		}
	}

	if cfg.PIDFile != "" {
		if err := writePIDFile(cfg.PIDFile); err != nil {
			fmt.Fprintf(stderr, "Warning: %v\n", err)
		} else {
			fmt.Fprintf(stdout, "PID file: %s\n", cfg.PIDFile)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
	defer cancel()

	// Cleanup in reverse order of creation.
	if advertiser != nil {
		advertiser.Stop()
	}
	if err := srv.Stop(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: server shutdown: %v\n", err)
	}
	if err := gateway.Shutdown(ctx); err != nil {
		fmt.Fprintf(stderr, "Warning: session shutdown: %v\n", err)
	}
	recorder.Close()
	if n := recorder.Dropped(); n > 0 {
		fmt.Fprintf(stderr, "Warning: %d lifecycle events were not recorded\n", n)
	}
	store.Close()

	if cfg.PIDFile != "" {
		removePIDFile(cfg.PIDFile, stderr)
	}
	return 0
}

func startAdvertiser(addr string, cfg *config.Config, certInfo *gatewayTLS.CertInfo) (*mdns.Advertiser, error) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port %q: %w", portStr, err)
	}

	mdnsCfg := mdns.Config{
		Port:        port,
		TLS:         cfg.TLSEnabled,
		RequireAuth: cfg.RequireAuth,
	}
	if certInfo != nil {
		mdnsCfg.Fingerprint = certInfo.Fingerprint
	}

	advertiser := mdns.NewAdvertiser(mdnsCfg)
	if err := advertiser.Start(); err != nil {
		return nil, err
	}
	return advertiser, nil
}

// isLoopbackAddr reports whether a listen address only accepts local connections.
func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// writePIDFile writes the current process ID to the specified file.
// Creates the parent directory if it doesn't exist.
func writePIDFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	pid := fmt.Sprintf("%d\n", os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// removePIDFile removes the PID file if it exists.
// Errors are reported but not returned.
func removePIDFile(path string, stderr io.Writer) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(stderr, "Warning: failed to remove PID file: %v\n", err)
	}
}

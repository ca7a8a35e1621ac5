package main

// address.go resolves where client commands send API requests.

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pseudocoder/pairgate/internal/config"
)

// tokenEnvVar supplies the bearer token when --token is not given.
const tokenEnvVar = "PAIRGATE_TOKEN"

// clientFlags are shared by commands that talk to a running gateway.
type clientFlags struct {
	Config string
	Addr   string
	URL    string
	Token  string
}

func addClientFlags(fs *flag.FlagSet) *clientFlags {
	cf := &clientFlags{}
	fs.StringVar(&cf.Config, "config", "", "Path to config file (default: ~/.pairgate/config.toml)")
	fs.StringVar(&cf.Addr, "addr", "", "Gateway address (default: from config, then "+config.DefaultAddr+")")
	fs.StringVar(&cf.URL, "url", "", "Gateway base URL, overrides --addr (e.g. https://gw.example:3000)")
	fs.StringVar(&cf.Token, "token", "", "API bearer token (default: $"+tokenEnvVar+")")
	return cf
}

// baseURL returns the gateway base URL without a trailing slash.
func (cf *clientFlags) baseURL() (string, error) {
	if cf.URL != "" {
		return strings.TrimRight(cf.URL, "/"), nil
	}

	cfg, err := config.LoadWithEnv(cf.Config)
	if err != nil {
		return "", err
	}

	addr := cf.Addr
	if addr == "" {
		addr = cfg.Addr
	}
	if addr == "" {
		addr = config.DefaultAddr
	}

	scheme := "http"
	if cfg.TLSEnabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, dialableAddr(addr)), nil
}

func (cf *clientFlags) token() string {
	if cf.Token != "" {
		return cf.Token
	}
	return os.Getenv(tokenEnvVar)
}

func (cf *clientFlags) client() (*apiClient, error) {
	base, err := cf.baseURL()
	if err != nil {
		return nil, err
	}
	return newAPIClient(base, cf.token()), nil
}

// dialableAddr maps a wildcard listen address to loopback.
func dialableAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		return net.JoinHostPort("127.0.0.1", port)
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsUnspecified() {
		if ip.To4() == nil {
			return net.JoinHostPort("::1", port)
		}
		return net.JoinHostPort("127.0.0.1", port)
	}
	return addr
}

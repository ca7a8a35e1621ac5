// Package mdns advertises the gateway on the local network with DNS-SD so
// operators and pairing frontends can find it without a configured address.
// Advertisement is opt-in and only reveals presence; the API still enforces
// its own authentication.
package mdns

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service type of a gateway.
const ServiceType = "_pairgate._tcp"

// ProtocolVersion identifies the HTTP API generation.
const ProtocolVersion = "1"

// Domain is the mDNS domain services are registered in.
const Domain = "local."

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the API port to advertise.
	Port int

	// Name is the instance name. Defaults to the hostname.
	Name string

	// Fingerprint is the TLS certificate fingerprint, if TLS is enabled.
	Fingerprint string

	// TLS and RequireAuth tell clients how to connect.
	TLS         bool
	RequireAuth bool
}

// Advertiser manages the DNS-SD registration.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates an advertiser. Nothing is registered until Start.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{config: cfg}
}

// Start registers the service. Calling Start on a running advertiser is a
// no-op.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		return nil
	}

	name := instanceName(a.config.Name)
	server, err := zeroconf.Register(name, ServiceType, Domain, a.config.Port, txtRecords(a.config, name), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop unregisters the service. It is safe to call on a stopped advertiser.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the service is registered.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}

func instanceName(name string) string {
	if name != "" {
		return name
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "pairgate"
}

// txtRecords builds the TXT metadata. Each string stays well under the
// 255 byte DNS limit; a SHA-256 fingerprint is 95 characters.
func txtRecords(cfg Config, name string) []string {
	records := []string{
		"version=" + ProtocolVersion,
		"name=" + name,
		"tls=" + boolFlag(cfg.TLS),
		"auth=" + boolFlag(cfg.RequireAuth),
	}
	if cfg.Fingerprint != "" {
		records = append(records, "fp="+cfg.Fingerprint)
	}
	return records
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// DiscoveredGateway is a gateway found by Discover.
type DiscoveredGateway struct {
	Name        string
	Host        string
	Port        int
	Version     string
	Fingerprint string
	TLS         bool
	RequireAuth bool
}

// URL returns the gateway's base URL.
func (g DiscoveredGateway) URL() string {
	scheme := "http"
	if g.TLS {
		scheme = "https"
	}
	host := g.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, host, g.Port)
}

// parseEntry converts a resolved service entry.
func parseEntry(entry *zeroconf.ServiceEntry) DiscoveredGateway {
	gw := DiscoveredGateway{
		Name: entry.Instance,
		Port: entry.Port,
	}

	// Prefer IPv4.
	if len(entry.AddrIPv4) > 0 {
		gw.Host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		gw.Host = entry.AddrIPv6[0].String()
	}

	for _, txt := range entry.Text {
		key, value, ok := strings.Cut(txt, "=")
		if !ok {
			continue
		}
		switch key {
		case "name":
			gw.Name = value
		case "version":
			gw.Version = value
		case "fp":
			gw.Fingerprint = value
		case "tls":
			gw.TLS = value == "1"
		case "auth":
			gw.RequireAuth = value == "1"
		}
	}
	return gw
}

// Discover browses for gateways until ctx is done.
func Discover(ctx context.Context) ([]DiscoveredGateway, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	var (
		found []DiscoveredGateway
		wg    sync.WaitGroup
	)

	entries := make(chan *zeroconf.ServiceEntry)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			found = append(found, parseEntry(entry))
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-ctx.Done()

	// zeroconf closes entries once ctx is done.
	wg.Wait()

	return found, nil
}

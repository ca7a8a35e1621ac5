package mdns

import (
	"net"
	"slices"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestAdvertiserStopBeforeStart(t *testing.T) {
	advertiser := NewAdvertiser(Config{Port: 3000})

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running before Start()")
	}

	// Stop before start, and repeated stops, are no-ops.
	advertiser.Stop()
	advertiser.Stop()

	if advertiser.IsRunning() {
		t.Error("advertiser should not be running after Stop()")
	}
}

func TestInstanceName(t *testing.T) {
	if got := instanceName("gw-1"); got != "gw-1" {
		t.Errorf("instanceName(gw-1) = %q", got)
	}
	if got := instanceName(""); got == "" {
		t.Error("instanceName should fall back to a non-empty name")
	}
}

func TestTXTRecords(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "plain",
			cfg:  Config{},
			want: []string{"version=1", "name=gw", "tls=0", "auth=0"},
		},
		{
			name: "tls with fingerprint",
			cfg:  Config{TLS: true, RequireAuth: true, Fingerprint: "AA:BB"},
			want: []string{"version=1", "name=gw", "tls=1", "auth=1", "fp=AA:BB"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := txtRecords(tt.cfg, "gw")
			if !slices.Equal(got, tt.want) {
				t.Errorf("txtRecords = %v, want %v", got, tt.want)
			}
			for _, rec := range got {
				if len(rec) > 255 {
					t.Errorf("record longer than 255 bytes: %q", rec)
				}
			}
		})
	}
}

func TestParseEntry(t *testing.T) {
	entry := zeroconf.NewServiceEntry("host-a", ServiceType, Domain)
	entry.Port = 3000
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	entry.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	entry.Text = []string{"version=1", "name=office", "tls=1", "auth=1", "fp=AA:BB", "garbage"}

	gw := parseEntry(entry)
	if gw.Name != "office" {
		t.Errorf("Name = %q, want office", gw.Name)
	}
	if gw.Host != "192.168.1.20" {
		t.Errorf("Host = %q, want IPv4 address", gw.Host)
	}
	if gw.Port != 3000 || gw.Version != "1" || gw.Fingerprint != "AA:BB" {
		t.Errorf("gateway = %+v", gw)
	}
	if !gw.TLS || !gw.RequireAuth {
		t.Errorf("flags not parsed: %+v", gw)
	}
	if got := gw.URL(); got != "https://192.168.1.20:3000" {
		t.Errorf("URL = %q", got)
	}
}

func TestDiscoveredGatewayURLIPv6(t *testing.T) {
	gw := DiscoveredGateway{Host: "fe80::1", Port: 3000}
	if got := gw.URL(); got != "http://[fe80::1]:3000" {
		t.Errorf("URL = %q", got)
	}
}

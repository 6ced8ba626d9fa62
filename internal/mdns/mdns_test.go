package mdns

import (
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

func fakeBrowse(t *testing.T, byService map[string][]*zeroconf.ServiceEntry) {
	t.Helper()
	prev := browse
	browse = func(ctx context.Context, service, domain string, entries chan *zeroconf.ServiceEntry) error {
		if domain != "local." {
			t.Fatalf("domain %q", domain)
		}
		list, ok := byService[service]
		if !ok {
			return errors.New("no such service")
		}
		for _, e := range list {
			entries <- e
		}
		close(entries)
		return nil
	}
	t.Cleanup(func() { browse = prev })
}

func entry(instance, host string, port int, ip string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, "", "local.")
	e.HostName = host
	e.Port = port
	if ip != "" {
		e.AddrIPv4 = []net.IP{net.ParseIP(ip)}
	}
	return e
}

func TestDiscoverInstrumentsDeduplicates(t *testing.T) {
	fakeBrowse(t, map[string][]*zeroconf.ServiceEntry{
		"_lxi._tcp": {
			entry(`RIGOL\ DSG3030`, "dsg3030.local.", 80, "192.168.1.20"),
			nil,
			entry(`RIGOL\ DSG3030`, "dsg3030.local.", 80, "192.168.1.20"),
			entry(`Agilent\ 33220A`, "a33220a.local.", 80, "192.168.1.21"),
		},
		"_scpi-raw._tcp": {
			entry(`RIGOL\ DSG3030`, "dsg3030.local.", 5555, "192.168.1.20"),
		},
	})

	got, err := DiscoverInstruments(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("found %d instruments: %+v", len(got), got)
	}
	if got[0].Service != "_lxi._tcp" || got[0].Instance != "Agilent 33220A" {
		t.Fatalf("first %+v", got[0])
	}
	if got[1].Instance != "RIGOL DSG3030" || got[1].Address() != "192.168.1.20:80" {
		t.Fatalf("second %+v", got[1])
	}
	if got[2].Service != "_scpi-raw._tcp" || got[2].Port != 5555 {
		t.Fatalf("third %+v", got[2])
	}
}

func TestDiscoverInstrumentsBrowseError(t *testing.T) {
	fakeBrowse(t, map[string][]*zeroconf.ServiceEntry{})
	_, err := DiscoverInstruments(context.Background(), time.Second, "_vxi-11._tcp")
	if err == nil || !strings.Contains(err.Error(), "_vxi-11._tcp") {
		t.Fatalf("expected browse error naming the service, got %v", err)
	}
}

func TestAddressFallsBackToHostname(t *testing.T) {
	i := Instrument{Hostname: "rc4dat.local.", Port: 23}
	if got := i.Address(); got != "rc4dat.local:23" {
		t.Fatalf("address %q", got)
	}
	i.Addresses = []net.IP{net.ParseIP("fe80::1")}
	if got := i.Address(); got != "rc4dat.local:23" {
		t.Fatalf("ipv6 only address %q", got)
	}
}

func TestCleanInstance(t *testing.T) {
	if got := cleanInstance(`Keysight\ 33220A\ (1)`); got != "Keysight 33220A (1)" {
		t.Fatalf("clean %q", got)
	}
}

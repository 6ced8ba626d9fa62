package hostinfo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rjboer/bpmtest/internal/logging"
)

func TestParseMAC(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Address  HWtype  HWaddress           Flags Mask  Iface\n172.23.240.5  ether  00:D0:50:31:03:A2  C  eth0\n", "00:d0:50:31:03:a2"},
		{"? (10.0.0.1) at 3c:ec:ef:01:02:03 [ether] on eth0", "3c:ec:ef:01:02:03"},
		{"10.0.0.9 (10.0.0.9) -- no entry", ""},
	}
	for _, tc := range tests {
		if got := ParseMAC(tc.in); got != tc.want {
			t.Fatalf("ParseMAC(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestDashedMAC(t *testing.T) {
	if got := DashedMAC("00:d0:50:31:03:a2"); got != "00-d0-50-31-03-a2" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestARPResolverResolvesHostname(t *testing.T) {
	var gotArgs string
	r := ARPResolver{
		LookupIP: func(ctx context.Context, host string) ([]string, error) {
			if host != "bpm01" {
				t.Fatalf("unexpected lookup %q", host)
			}
			return []string{"10.1.2.3"}, nil
		},
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			gotArgs = name + " " + strings.Join(args, " ")
			return []byte("10.1.2.3 ether aa:bb:cc:dd:ee:ff C eth0"), nil
		},
	}
	mac, err := r.MAC(context.Background(), "bpm01")
	if err != nil {
		t.Fatalf("mac: %v", err)
	}
	if mac != "aa:bb:cc:dd:ee:ff" || gotArgs != "arp -n 10.1.2.3" {
		t.Fatalf("mac %q args %q", mac, gotArgs)
	}
}

type staticResolver struct {
	mac string
	err error
}

func (s staticResolver) MAC(context.Context, string) (string, error) { return s.mac, s.err }

func TestChainFallsThrough(t *testing.T) {
	c := Chain{
		Resolvers: []Resolver{staticResolver{err: ErrNotFound}, staticResolver{mac: "01:02:03:04:05:06"}},
		Logger:    logging.Discard(),
	}
	mac, err := c.MAC(context.Background(), "h")
	if err != nil || mac != "01:02:03:04:05:06" {
		t.Fatalf("got %q %v", mac, err)
	}

	c.Resolvers = []Resolver{staticResolver{err: ErrNotFound}}
	if _, err := c.MAC(context.Background(), "h"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSSHResolverDefaults(t *testing.T) {
	r := NewSSHResolver(SSHConfig{})
	if r.cfg.User != "root" || r.cfg.Port != 22 || r.addressPath() != "/sys/class/net/eth0/address" {
		t.Fatalf("unexpected defaults %+v", r.cfg)
	}
	if _, err := r.MAC(context.Background(), "127.0.0.1"); err == nil {
		t.Fatalf("expected error without credentials")
	}
	if got := shellQuote("a'b"); got != `'a'\''b'` {
		t.Fatalf("shellQuote %q", got)
	}
}

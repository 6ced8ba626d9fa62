// Package hostinfo resolves the MAC address of a networked BPM from its IP
// address or hostname.
package hostinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"regexp"
	"strings"

	"github.com/rjboer/bpmtest/internal/logging"
)

// ErrNotFound is returned when a resolver has no entry for a host.
var ErrNotFound = errors.New("mac address not found")

var macPattern = regexp.MustCompile(`(?i)\b([0-9a-f]{2}(?::[0-9a-f]{2}){5})\b`)

// Resolver maps a host to its MAC address.
type Resolver interface {
	MAC(ctx context.Context, host string) (string, error)
}

// ARPResolver reads the local ARP cache with "arp -n <ip>".
type ARPResolver struct {
	Run func(ctx context.Context, name string, args ...string) ([]byte, error)
	// LookupIP resolves hostnames; defaults to net.DefaultResolver.
	LookupIP func(ctx context.Context, host string) ([]string, error)
}

func (r ARPResolver) MAC(ctx context.Context, host string) (string, error) {
	ip, err := r.resolve(ctx, host)
	if err != nil {
		return "", err
	}
	run := r.Run
	if run == nil {
		run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return exec.CommandContext(ctx, name, args...).CombinedOutput()
		}
	}
	out, err := run(ctx, "arp", "-n", ip)
	if err != nil {
		return "", fmt.Errorf("arp %s: %w", ip, err)
	}
	mac := ParseMAC(string(out))
	if mac == "" {
		return "", fmt.Errorf("%s: %w", ip, ErrNotFound)
	}
	return mac, nil
}

func (r ARPResolver) resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	lookup := r.LookupIP
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	addrs, err := lookup(ctx, host)
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("lookup %s: %w", host, ErrNotFound)
	}
	return addrs[0], nil
}

// ParseMAC returns the first colon separated MAC address in s, lower case,
// or "" when none is present.
func ParseMAC(s string) string {
	m := macPattern.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// DashedMAC replaces the colons of a MAC address with dashes, as used in
// result directory and report names.
func DashedMAC(mac string) string {
	return strings.ReplaceAll(mac, ":", "-")
}

// Chain tries each resolver in order and returns the first address found.
type Chain struct {
	Resolvers []Resolver
	Logger    logging.Logger
}

func (c Chain) MAC(ctx context.Context, host string) (string, error) {
	var errs []error
	for _, r := range c.Resolvers {
		mac, err := r.MAC(ctx, host)
		if err == nil {
			return mac, nil
		}
		logging.OrDefault(c.Logger).Debug("mac lookup failed", logging.F("host", host), logging.Err(err))
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%s: %w", host, ErrNotFound)
	}
	return "", errors.Join(errs...)
}

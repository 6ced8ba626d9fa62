// Package epics reads and writes EPICS process variables. Channel Access
// itself is provided by an external client; this package defines the
// operations the BPM drivers need and an Accumulator for monitored PVs.
package epics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoValue is returned when a PV read yields no data.
	ErrNoValue = errors.New("no value")
	// ErrMonitorClosed is returned when a monitor ends before enough samples arrived.
	ErrMonitorClosed = errors.New("monitor closed early")
)

// Sample is one monitor update.
type Sample struct {
	Stamp time.Time
	Value float64
}

// Client is the subset of Channel Access used by the drivers.
type Client interface {
	// Get returns the numeric value(s) of pv; scalars have length one.
	Get(ctx context.Context, pv string) ([]float64, error)
	// GetString returns the value of pv as text (enum labels, strings).
	GetString(ctx context.Context, pv string) (string, error)
	// Put writes value to pv.
	Put(ctx context.Context, pv string, value any) error
	// Monitor streams updates of pv until ctx is cancelled.
	Monitor(ctx context.Context, pv string) (<-chan Sample, error)
	// Host returns the IOC host serving pv.
	Host(ctx context.Context, pv string) (string, error)
}

// PV joins a device prefix and a suffix into "<device>:<suffix>". A prefix
// that already ends in ':' or '.' and suffixes that start with '.' are
// joined without an extra separator.
func PV(device, suffix string) string {
	switch {
	case device == "":
		return suffix
	case strings.HasSuffix(device, ":"), strings.HasSuffix(device, "."), strings.HasPrefix(suffix, "."):
		return device + suffix
	default:
		return device + ":" + suffix
	}
}

// GetFloat reads a scalar PV.
func GetFloat(ctx context.Context, c Client, pv string) (float64, error) {
	vals, err := c.Get(ctx, pv)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("%s: %w", pv, ErrNoValue)
	}
	return vals[0], nil
}

// GetInt reads a scalar PV and rounds it to an int.
func GetInt(ctx context.Context, c Client, pv string) (int, error) {
	v, err := GetFloat(ctx, c, pv)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return int(v - 0.5), nil
	}
	return int(v + 0.5), nil
}

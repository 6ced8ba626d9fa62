// Package rfsig drives the RF signal generators that stand in for the beam.
package rfsig

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/logging"
)

// Generator is an RF source. Frequencies are in MHz and powers in dBm.
// Readbacks return the parsed value and the instrument's own text.
type Generator interface {
	DeviceID(ctx context.Context) (string, error)
	Frequency(ctx context.Context) (float64, string, error)
	SetFrequency(ctx context.Context, mhz float64) error
	OutputPower(ctx context.Context) (float64, string, error)
	// SetOutputPower clamps requests above the output limit.
	SetOutputPower(ctx context.Context, dbm float64) error
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	OutputState(ctx context.Context) (bool, error)
	SetOutputPowerLimit(ctx context.Context, dbm float64) error
	OutputPowerLimit(ctx context.Context) (float64, string, error)
	Close() error
}

var leadingNumber = regexp.MustCompile(`^\s*([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)`)

// parseLeading returns the number at the start of s ("-20.5dBm" -> -20.5).
func parseLeading(s string) (float64, error) {
	m := leadingNumber.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.ParseFloat(m[1], 64)
}

// clampToLimit caps power at limit and logs when it does.
func clampToLimit(log logging.Logger, power, limit float64) float64 {
	if power > limit {
		log.Warn("power limit reached, output capped",
			logging.F("requested_dbm", power), logging.F("limit_dbm", limit))
		return limit
	}
	return power
}

func checkFrequency(mhz float64) error { return instrument.CheckMin("frequency", mhz, 0) }

func formatDBm(v float64) string { return formatFloat(v) + " dBm" }

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

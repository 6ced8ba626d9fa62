// Package gate drives the RF gate that emulates fill patterns by pulse
// modulating the generator output.
package gate

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/itech"
	"github.com/rjboer/bpmtest/internal/logging"
)

var (
	// ErrOutOfRange is returned for duty cycles outside [0, 1].
	ErrOutOfRange = instrument.ErrOutOfRange
	// ErrInvalidValue is returned for NaN or infinite duty cycles.
	ErrInvalidValue = instrument.ErrInvalidValue
)

// Source is a pulse modulation source. Duty cycles are fractions in [0, 1]
// and pulse periods are in microseconds.
type Source interface {
	DeviceID(ctx context.Context) (string, error)
	ModulationState(ctx context.Context) (bool, error)
	TurnOnModulation(ctx context.Context) error
	TurnOffModulation(ctx context.Context) error
	PulsePeriod(ctx context.Context) (float64, error)
	PulseDutyCycle(ctx context.Context) (float64, error)
	SetPulseDutyCycle(ctx context.Context, duty float64) error
	Close() error
}

// CheckDutyCycle validates a duty cycle fraction.
func CheckDutyCycle(duty float64) error {
	return instrument.CheckRange("duty cycle", duty, 0, 1)
}

// ITech gates the RF of a BL12HI through its GATE:FILL percentage. A fill
// of 100 % is the same as no modulation.
type ITech struct {
	s     *itech.Session
	owned bool
	id    string
	log   logging.Logger
}

// DialITech opens a dedicated session to addr.
func DialITech(ctx context.Context, addr string, timeout time.Duration, logger logging.Logger) (*ITech, error) {
	s, err := itech.Dial(ctx, addr, timeout, logger)
	if err != nil {
		return nil, err
	}
	g, err := NewITech(ctx, s, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	g.owned = true
	return g, nil
}

// NewITech checks the identity on a shared session and closes the gate.
func NewITech(ctx context.Context, s *itech.Session, logger logging.Logger) (*ITech, error) {
	id, err := s.Identity(ctx)
	if err != nil {
		return nil, err
	}
	g := &ITech{s: s, id: id, log: logging.OrDefault(logger).With(logging.Component("gate"))}
	if err := g.SetPulseDutyCycle(ctx, 0); err != nil {
		return nil, err
	}
	g.log.Info("opened connection to gate source", logging.F("device", id))
	return g, nil
}

func (g *ITech) DeviceID(context.Context) (string, error) { return g.id, nil }

func (g *ITech) ModulationState(ctx context.Context) (bool, error) {
	fill, _, err := g.s.Query(ctx, "GATE:FILL?")
	if err != nil {
		return false, err
	}
	return fill != "100 %", nil
}

func (g *ITech) TurnOnModulation(ctx context.Context) error {
	if err := g.s.Command(ctx, "GATE:FILL 0"); err != nil {
		return fmt.Errorf("gate modulation in unknown state: %w", err)
	}
	return nil
}

func (g *ITech) TurnOffModulation(ctx context.Context) error {
	if err := g.s.Command(ctx, "GATE:FILL 100"); err != nil {
		return fmt.Errorf("gate modulation in unknown state: %w", err)
	}
	return nil
}

// PulsePeriod is derived from the master clock frequency.
func (g *ITech) PulsePeriod(ctx context.Context) (float64, error) {
	raw, _, err := g.s.Query(ctx, "FREQ:MC?")
	if err != nil {
		return 0, err
	}
	mhz, err := itech.ParseUnitValue(raw)
	if err != nil {
		return 0, err
	}
	if mhz == 0 {
		return 0, fmt.Errorf("master clock %q: %w", raw, instrument.ErrInvalidValue)
	}
	return 1 / mhz, nil
}

func (g *ITech) PulseDutyCycle(ctx context.Context) (float64, error) {
	raw, _, err := g.s.Query(ctx, "GATE:FILL?")
	if err != nil {
		return 0, err
	}
	fill, err := itech.ParseUnitValue(raw)
	if err != nil {
		return 0, err
	}
	return fill / 100, nil
}

// SetPulseDutyCycle sends the duty as a whole percentage.
func (g *ITech) SetPulseDutyCycle(ctx context.Context, duty float64) error {
	if err := CheckDutyCycle(duty); err != nil {
		return err
	}
	pct := int(math.Round(duty * 100))
	return g.s.Command(ctx, "GATE:FILL "+strconv.Itoa(pct))
}

// Close switches the modulation off; the session is closed only when
// DialITech opened it.
func (g *ITech) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := g.TurnOffModulation(ctx)
	if g.owned {
		if cerr := g.s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close gate source: %w", err)
	}
	g.log.Info("closed connection to gate source", logging.F("device", g.id))
	return nil
}

// Simulated keeps the gate state in memory for bpm.Simulated.
type Simulated struct {
	mu     sync.RWMutex
	on     bool
	duty   float64
	period float64
}

// NewSimulated returns a gate with modulation off, full duty and the given
// pulse period in microseconds.
func NewSimulated(period float64) *Simulated {
	return &Simulated{duty: 1, period: period}
}

func (s *Simulated) DeviceID(context.Context) (string, error) { return "Simulated Gate Source", nil }

func (s *Simulated) ModulationState(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on, nil
}

func (s *Simulated) TurnOnModulation(context.Context) error {
	s.mu.Lock()
	s.on = true
	s.mu.Unlock()
	return nil
}

func (s *Simulated) TurnOffModulation(context.Context) error {
	s.mu.Lock()
	s.on = false
	s.mu.Unlock()
	return nil
}

func (s *Simulated) PulsePeriod(context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.period, nil
}

func (s *Simulated) PulseDutyCycle(context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.duty, nil
}

func (s *Simulated) SetPulseDutyCycle(_ context.Context, duty float64) error {
	if err := CheckDutyCycle(duty); err != nil {
		return err
	}
	s.mu.Lock()
	s.duty = duty
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Close() error { return nil }

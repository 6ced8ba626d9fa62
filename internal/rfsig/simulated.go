package rfsig

import (
	"context"
	"sync"

	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/logging"
)

// Simulated is an in-memory generator feeding bpm.Simulated.
type Simulated struct {
	mu    sync.RWMutex
	freq  float64
	power float64
	limit float64
	on    bool
	log   logging.Logger
}

// NewSimulated returns a generator that is off, at -100 dBm.
func NewSimulated(limit float64, logger logging.Logger) *Simulated {
	return &Simulated{
		power: -100,
		limit: limit,
		log:   logging.OrDefault(logger).With(logging.Component("rfsig")),
	}
}

func (s *Simulated) DeviceID(context.Context) (string, error) { return "Simulated RF Device", nil }

func (s *Simulated) Frequency(context.Context) (float64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freq, formatFloat(s.freq) + " MHz", nil
}

func (s *Simulated) SetFrequency(_ context.Context, mhz float64) error {
	if err := checkFrequency(mhz); err != nil {
		return err
	}
	s.mu.Lock()
	s.freq = mhz
	s.mu.Unlock()
	return nil
}

func (s *Simulated) OutputPower(context.Context) (float64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.power, formatDBm(s.power), nil
}

func (s *Simulated) SetOutputPower(_ context.Context, dbm float64) error {
	if err := instrument.CheckFinite("power", dbm); err != nil {
		return err
	}
	s.mu.Lock()
	s.power = clampToLimit(s.log, dbm, s.limit)
	s.mu.Unlock()
	return nil
}

func (s *Simulated) TurnOn(context.Context) error {
	s.mu.Lock()
	s.on = true
	s.mu.Unlock()
	return nil
}

func (s *Simulated) TurnOff(context.Context) error {
	s.mu.Lock()
	s.on = false
	s.mu.Unlock()
	return nil
}

func (s *Simulated) OutputState(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on, nil
}

func (s *Simulated) SetOutputPowerLimit(_ context.Context, dbm float64) error {
	if err := instrument.CheckFinite("power limit", dbm); err != nil {
		return err
	}
	s.mu.Lock()
	s.limit = dbm
	s.mu.Unlock()
	return nil
}

func (s *Simulated) OutputPowerLimit(context.Context) (float64, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limit, formatDBm(s.limit), nil
}

func (s *Simulated) Close() error { return nil }

// Package trigger drives the sources that provide the BPM trigger input.
package trigger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/itech"
	"github.com/rjboer/bpmtest/internal/logging"
)

// Source is a trigger output. Frequencies are in MHz.
type Source interface {
	DeviceID(ctx context.Context) (string, error)
	OutputState(ctx context.Context) (bool, error)
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
	SetUpTriggerPulse(ctx context.Context, mhz float64) error
	Close() error
}

const (
	// AgilentPort is the Telnet port of the 33220A.
	AgilentPort = 5024
	// AgilentPrefix starts the first reply line of a 33220A session.
	AgilentPrefix = "Welcome to Agilent's 33220A Waveform Generator"
)

// Agilent33220A uses the pulse function of an Agilent 33220A waveform
// generator as trigger.
type Agilent33220A struct {
	mgr *connectionmgr.Manager
	id  string
	log logging.Logger
}

// DialAgilent33220A connects to addr and switches the output off.
func DialAgilent33220A(ctx context.Context, addr string, timeout time.Duration, logger logging.Logger) (*Agilent33220A, error) {
	mgr := connectionmgr.New(addr)
	if timeout > 0 {
		mgr.Timeout = timeout
	}
	mgr.Logger = logging.OrDefault(logger).With(logging.Component("trigger"))
	if err := mgr.Connect(ctx); err != nil {
		return nil, err
	}
	s, err := NewAgilent33220A(ctx, mgr, logger)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	return s, nil
}

// NewAgilent33220A checks the identity on a connected manager.
func NewAgilent33220A(ctx context.Context, mgr *connectionmgr.Manager, logger logging.Logger) (*Agilent33220A, error) {
	idn, err := mgr.Query(ctx, "*IDN?")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(idn, AgilentPrefix) {
		return nil, fmt.Errorf("identity %q: %w", idn, instrument.ErrWrongDevice)
	}
	s := &Agilent33220A{
		mgr: mgr,
		id:  "Trigger Source " + idn,
		log: logging.OrDefault(logger).With(logging.Component("trigger")),
	}
	if err := s.TurnOff(ctx); err != nil {
		return nil, err
	}
	s.log.Info("opened connection to trigger source", logging.F("device", s.id))
	return s, nil
}

func (s *Agilent33220A) DeviceID(context.Context) (string, error) { return s.id, nil }

func (s *Agilent33220A) OutputState(ctx context.Context) (bool, error) {
	reply, err := s.mgr.Query(ctx, "OUTP?")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(reply) == "1", nil
}

func (s *Agilent33220A) TurnOn(ctx context.Context) error  { return s.mgr.WriteLine(ctx, "OUTP ON") }
func (s *Agilent33220A) TurnOff(ctx context.Context) error { return s.mgr.WriteLine(ctx, "OUTP OFF") }

// SetUpTriggerPulse applies a 50 % pulse at mhz, 1 Vpp, no offset, and
// enables the output.
func (s *Agilent33220A) SetUpTriggerPulse(ctx context.Context, mhz float64) error {
	if err := instrument.CheckMin("trigger frequency", mhz, 0); err != nil {
		return err
	}
	if err := s.mgr.WriteLine(ctx, "FUNC:PULS:DCYC 50"); err != nil {
		return err
	}
	if err := s.mgr.WriteLine(ctx, "APPL:PULS "+itech.FormatNumber(mhz)+", 1, 0"); err != nil {
		return err
	}
	return s.TurnOn(ctx)
}

func (s *Agilent33220A) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.TurnOff(ctx)
	if cerr := s.mgr.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("close trigger source: %w", err)
	}
	s.log.Info("closed connection to trigger source", logging.F("device", s.id))
	return nil
}

// ITechDefaultLevel is the output level used when the BL12HI trigger is on.
const ITechDefaultLevel = -20.0

// ITech uses the RF output of a BL12HI as trigger. The pulse shape is fixed
// by the instrument, so SetUpTriggerPulse does not talk to it.
type ITech struct {
	s     *itech.Session
	owned bool
	id    string
	log   logging.Logger

	// Level is the output level in dBm applied by TurnOn.
	Level float64
}

// DialITech opens a dedicated session to addr.
func DialITech(ctx context.Context, addr string, timeout time.Duration, logger logging.Logger) (*ITech, error) {
	sess, err := itech.Dial(ctx, addr, timeout, logger)
	if err != nil {
		return nil, err
	}
	s, err := NewITech(ctx, sess, logger)
	if err != nil {
		sess.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewITech checks the identity on a shared session and turns the output off.
func NewITech(ctx context.Context, sess *itech.Session, logger logging.Logger) (*ITech, error) {
	id, err := sess.Identity(ctx)
	if err != nil {
		return nil, err
	}
	s := &ITech{
		s:     sess,
		id:    id,
		log:   logging.OrDefault(logger).With(logging.Component("trigger")),
		Level: ITechDefaultLevel,
	}
	if err := s.TurnOff(ctx); err != nil {
		return nil, err
	}
	s.log.Info("opened connection to trigger source", logging.F("device", id))
	return s, nil
}

func (s *ITech) DeviceID(context.Context) (string, error) { return s.id, nil }

// OutputState reports off while the RF sits at the minimum level.
func (s *ITech) OutputState(ctx context.Context) (bool, error) {
	raw, _, err := s.s.Query(ctx, "POW:RF?")
	if err != nil {
		return false, err
	}
	return !strings.Contains(raw, itech.FormatNumber(itech.RFOffLevel)), nil
}

func (s *ITech) TurnOn(ctx context.Context) error { return s.s.RFOn(ctx, s.Level) }

func (s *ITech) TurnOff(ctx context.Context) error { return s.s.RFOff(ctx) }

func (s *ITech) SetUpTriggerPulse(_ context.Context, mhz float64) error {
	if err := instrument.CheckMin("trigger frequency", mhz, 0); err != nil {
		return err
	}
	s.log.Debug("trigger pulse shape fixed by instrument", logging.F("freq_mhz", mhz))
	return nil
}

// Close turns the output off; the session is closed only when DialITech
// opened it.
func (s *ITech) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.TurnOff(ctx)
	if s.owned {
		if cerr := s.s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close trigger source: %w", err)
	}
	s.log.Info("closed connection to trigger source", logging.F("device", s.id))
	return nil
}

// Simulated records the trigger set-up in memory.
type Simulated struct {
	mu   sync.RWMutex
	on   bool
	freq float64
}

func NewSimulated() *Simulated { return &Simulated{} }

func (s *Simulated) DeviceID(context.Context) (string, error) { return "Simulated Trigger Source", nil }

func (s *Simulated) OutputState(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.on, nil
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

func (s *Simulated) SetUpTriggerPulse(ctx context.Context, mhz float64) error {
	if err := instrument.CheckMin("trigger frequency", mhz, 0); err != nil {
		return err
	}
	s.mu.Lock()
	s.freq = mhz
	s.mu.Unlock()
	return s.TurnOn(ctx)
}

// Frequency returns the last pulse frequency set up.
func (s *Simulated) Frequency() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.freq
}

func (s *Simulated) Close() error { return s.TurnOff(context.Background()) }

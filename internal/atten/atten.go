// Package atten drives the four channel programmable attenuator placed
// between the RF splitter and the BPM buttons.
package atten

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/logging"
)

const (
	// MaxAttenuation is the highest setting in dB.
	MaxAttenuation = 95.0
	// Step is the attenuator resolution in dB.
	Step = 0.25
	// Model is expected in the MN? reply.
	Model = "RC4DAT-6G-95"
	// Port is the Telnet port of the RC4DAT.
	Port = 23

	readRetries   = 10
	readInterval  = 500 * time.Millisecond
	channelsCount = 4
)

var (
	// ErrOutOfRange is returned for attenuations outside [0, 95] and unknown channels.
	ErrOutOfRange = instrument.ErrOutOfRange
	// ErrInvalidValue is returned for non-finite attenuations.
	ErrInvalidValue = instrument.ErrInvalidValue
	// ErrNoReply is returned when a channel read stays empty after all retries.
	ErrNoReply = errors.New("attenuator returned no reading")
	// ErrReadback is returned when a channel does not hold the value just written.
	ErrReadback = errors.New("attenuation readback mismatch")
)

// Attenuator sets and reads the per-channel attenuation in dB. Channels are
// named "A" to "D" or "1" to "4".
type Attenuator interface {
	DeviceID(ctx context.Context) (string, error)
	GlobalAttenuation(ctx context.Context) ([4]float64, error)
	SetGlobalAttenuation(ctx context.Context, db float64) error
	ChannelAttenuation(ctx context.Context, ch string) (float64, error)
	SetChannelAttenuation(ctx context.Context, ch string, db float64) error
	Close() error
}

// Channels lists the channel names in button order.
var Channels = [4]string{"A", "B", "C", "D"}

// ChannelIndex maps "A".."D" or "1".."4" to 0..3.
func ChannelIndex(ch string) (int, error) {
	c := strings.ToUpper(strings.TrimSpace(ch))
	for i, name := range Channels {
		if c == name || c == strconv.Itoa(i+1) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("channel %q: %w", ch, ErrOutOfRange)
}

// CheckAttenuation validates a setting in dB.
func CheckAttenuation(db float64) error {
	return instrument.CheckRange("attenuation", db, 0, MaxAttenuation)
}

// RC4DAT6G95 drives a Mini-Circuits RC4DAT-6G-95 over Telnet.
type RC4DAT6G95 struct {
	mgr *connectionmgr.Manager
	id  string
	log logging.Logger

	// RetryInterval spaces channel reads that came back empty.
	RetryInterval time.Duration

	mu sync.Mutex
}

// DialRC4DAT6G95 connects to addr and checks the model number.
func DialRC4DAT6G95(ctx context.Context, addr string, timeout time.Duration, logger logging.Logger) (*RC4DAT6G95, error) {
	mgr := connectionmgr.New(addr)
	if timeout > 0 {
		mgr.Timeout = timeout
	}
	mgr.Logger = logging.OrDefault(logger).With(logging.Component("atten"))
	if err := mgr.Connect(ctx); err != nil {
		return nil, err
	}
	a, err := NewRC4DAT6G95(ctx, mgr, logger)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	return a, nil
}

// NewRC4DAT6G95 checks the model number on a connected manager.
func NewRC4DAT6G95(ctx context.Context, mgr *connectionmgr.Manager, logger logging.Logger) (*RC4DAT6G95, error) {
	a := &RC4DAT6G95{
		mgr:           mgr,
		log:           logging.OrDefault(logger).With(logging.Component("atten")),
		RetryInterval: readInterval,
	}
	reply, err := a.query(ctx, "MN?")
	if err != nil {
		return nil, err
	}
	model := strings.ReplaceAll(reply, "MN=", "")
	if !strings.Contains(model, Model) {
		return nil, fmt.Errorf("model %q: %w", reply, instrument.ErrWrongDevice)
	}
	a.id = model
	a.log.Info("connected to programmable attenuator", logging.F("device", model))
	return a, nil
}

// query sends cmd and reads the status line and the value line. The value
// line is used when present; a missing value line falls back to the status.
func (a *RC4DAT6G95) query(ctx context.Context, cmd string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.mgr.WriteLine(ctx, cmd); err != nil {
		return "", err
	}
	status, err := a.mgr.ReadLine(ctx)
	if errors.Is(err, connectionmgr.ErrEmptyReply) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	value, err := a.mgr.ReadLine(ctx)
	if errors.Is(err, connectionmgr.ErrEmptyReply) || (err == nil && strings.TrimSpace(value) == "") {
		return strings.TrimSpace(status), nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func (a *RC4DAT6G95) DeviceID(context.Context) (string, error) { return a.id, nil }

func (a *RC4DAT6G95) SetGlobalAttenuation(ctx context.Context, db float64) error {
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	_, err := a.query(ctx, ":CHAN:1:2:3:4:SETATT:"+formatDB(db))
	return err
}

func (a *RC4DAT6G95) GlobalAttenuation(ctx context.Context) ([4]float64, error) {
	reply, err := a.readAll(ctx)
	if err != nil {
		return [4]float64{}, err
	}
	return parseAttenuations(reply)
}

// readAll queries ":ATT?" until a non-empty reply arrives, giving up after
// ten attempts spaced by RetryInterval.
func (a *RC4DAT6G95) readAll(ctx context.Context) (string, error) {
	var reply string
	attempt := 0
	op := func() error {
		attempt++
		r, err := a.query(ctx, ":ATT?")
		if err != nil {
			return backoff.Permanent(err)
		}
		if r == "" {
			a.log.Warn("empty attenuator reply, trying again", logging.F("attempt", attempt))
			return ErrNoReply
		}
		reply = r
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(a.RetryInterval), readRetries-1), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", fmt.Errorf("read attenuation: %w", err)
	}
	if attempt > 1 {
		a.log.Info("attenuator replied after retry", logging.F("reply", reply), logging.F("attempt", attempt))
	}
	return reply, nil
}

func (a *RC4DAT6G95) ChannelAttenuation(ctx context.Context, ch string) (float64, error) {
	idx, err := ChannelIndex(ch)
	if err != nil {
		return 0, err
	}
	vals, err := a.GlobalAttenuation(ctx)
	if err != nil {
		return 0, err
	}
	return vals[idx], nil
}

// SetChannelAttenuation writes one channel, reads it back and writes once
// more when the readback differs.
func (a *RC4DAT6G95) SetChannelAttenuation(ctx context.Context, ch string, db float64) error {
	idx, err := ChannelIndex(ch)
	if err != nil {
		return err
	}
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	cmd := ":CHAN:" + strconv.Itoa(idx+1) + ":SETATT:" + formatDB(db)
	op := func() error {
		if _, err := a.query(ctx, cmd); err != nil {
			return backoff.Permanent(err)
		}
		got, err := a.ChannelAttenuation(ctx, ch)
		if err != nil {
			return backoff.Permanent(err)
		}
		if got != db {
			a.log.Warn("attenuation readback mismatch", logging.F("channel", Channels[idx]), logging.F("want", db), logging.F("got", got))
			return fmt.Errorf("channel %s reads %v dB, want %v: %w", Channels[idx], got, db, ErrReadback)
		}
		return nil
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1), ctx))
}

func (a *RC4DAT6G95) Close() error {
	err := a.mgr.Close()
	a.log.Info("closed connection to programmable attenuator", logging.F("device", a.id))
	return err
}

func parseAttenuations(reply string) ([4]float64, error) {
	var out [4]float64
	fields := strings.Fields(reply)
	if len(fields) < channelsCount {
		return out, fmt.Errorf("attenuation reply %q: %w", reply, ErrNoReply)
	}
	for i := range out {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return out, fmt.Errorf("attenuation reply %q: %w", reply, err)
		}
		out[i] = v
	}
	return out, nil
}

func formatDB(db float64) string {
	return strconv.FormatFloat(db, 'f', -1, 64)
}

// Simulated holds four channel settings in memory. It feeds bpm.Simulated.
type Simulated struct {
	mu   sync.RWMutex
	vals [4]float64
}

// NewSimulated returns an attenuator with every channel at 0 dB.
func NewSimulated() *Simulated { return &Simulated{} }

func (s *Simulated) DeviceID(context.Context) (string, error) {
	return "Simulated programmable attenuator device", nil
}

func (s *Simulated) GlobalAttenuation(context.Context) ([4]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals, nil
}

func (s *Simulated) SetGlobalAttenuation(_ context.Context, db float64) error {
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	s.mu.Lock()
	for i := range s.vals {
		s.vals[i] = db
	}
	s.mu.Unlock()
	return nil
}

func (s *Simulated) ChannelAttenuation(_ context.Context, ch string) (float64, error) {
	idx, err := ChannelIndex(ch)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vals[idx], nil
}

func (s *Simulated) SetChannelAttenuation(_ context.Context, ch string, db float64) error {
	idx, err := ChannelIndex(ch)
	if err != nil {
		return err
	}
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	s.mu.Lock()
	s.vals[idx] = db
	s.mu.Unlock()
	return nil
}

func (s *Simulated) Close() error { return nil }

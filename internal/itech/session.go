// Package itech talks to the ITech BL12HI clock generator, which provides
// the RF output, the gate modulation and the trigger output of the test
// bench through one Telnet/SCPI session.
package itech

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/logging"
)

var (
	// ErrBadStatus is returned when the status line after a reply lacks "OK".
	ErrBadStatus = errors.New("bad status on communication with ITechBL12HI")
	// ErrWrongDevice is returned when *IDN? does not identify a clock generator.
	ErrWrongDevice = instrument.ErrWrongDevice
)

const (
	// Signature expected in the *IDN? reply.
	Signature = "IT CLKGEN"
	// RFOffLevel is the lowest output level; the generator has no RF switch.
	RFOffLevel  = -50.0
	bannerLines = 2
)

var replyPattern = regexp.MustCompile(`^(?:scpi>)*\S*\s+(.*)$`)

// Session is a shared connection to one BL12HI.
type Session struct {
	mu  sync.Mutex
	mgr *connectionmgr.Manager
	log logging.Logger
}

// Dial connects to addr and consumes the login banner.
func Dial(ctx context.Context, addr string, timeout time.Duration, logger logging.Logger) (*Session, error) {
	mgr := connectionmgr.New(addr)
	if timeout > 0 {
		mgr.Timeout = timeout
	}
	logger = logging.OrDefault(logger).With(logging.Component("itech"))
	mgr.Logger = logger
	if err := mgr.Connect(ctx); err != nil {
		return nil, err
	}
	s := NewSession(mgr, logger)
	if err := mgr.Drain(ctx, bannerLines); err != nil {
		mgr.Close()
		return nil, fmt.Errorf("read banner: %w", err)
	}
	return s, nil
}

// NewSession wraps an already connected manager whose banner was consumed.
func NewSession(mgr *connectionmgr.Manager, logger logging.Logger) *Session {
	return &Session{mgr: mgr, log: logging.OrDefault(logger)}
}

// Query switches the instrument to SCPI mode, sends msg and returns the
// value part of the reply and the status line.
func (s *Session) Query(ctx context.Context, msg string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.mgr.WriteLine(ctx, "scpi>"); err != nil {
		return "", "", err
	}
	if err := s.mgr.WriteLine(ctx, strings.TrimRight(msg, "\r\n")); err != nil {
		return "", "", err
	}
	reply, err := s.mgr.ReadLine(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%s: %w", msg, err)
	}
	status, err := s.mgr.ReadLine(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%s status: %w", msg, err)
	}
	value := ""
	if m := replyPattern.FindStringSubmatch(reply); m != nil {
		value = strings.TrimSpace(m[1])
	}
	if !strings.Contains(status, "OK") {
		s.log.Warn("bad status", logging.F("cmd", msg), logging.F("status", status), logging.F("reply", reply))
		return value, status, fmt.Errorf("%s: status %q: %w", msg, status, ErrBadStatus)
	}
	return value, status, nil
}

// Command is Query for writes whose value is not needed.
func (s *Session) Command(ctx context.Context, msg string) error {
	_, _, err := s.Query(ctx, msg)
	return err
}

// Identity returns the *IDN? reply, rejecting instruments that are not a
// BL12HI clock generator.
func (s *Session) Identity(ctx context.Context) (string, error) {
	id, _, err := s.Query(ctx, "*IDN?")
	if err != nil {
		return "", err
	}
	if !strings.Contains(id, Signature) {
		return "", fmt.Errorf("identity %q: %w", id, ErrWrongDevice)
	}
	return id, nil
}

// RFOn sets the output level and opens the gate fully.
func (s *Session) RFOn(ctx context.Context, power float64) error {
	if err := s.Command(ctx, "POW:RF "+FormatNumber(power)); err != nil {
		return fmt.Errorf("turning RF on, power in unknown state: %w", err)
	}
	if err := s.Command(ctx, "GATE:FILL 100"); err != nil {
		return fmt.Errorf("turning RF on, gate in unknown state: %w", err)
	}
	return nil
}

// RFOff drops the output to the minimum level and closes the gate.
func (s *Session) RFOff(ctx context.Context) error {
	if err := s.Command(ctx, "POW:RF "+FormatNumber(RFOffLevel)); err != nil {
		return fmt.Errorf("turning RF off, power in unknown state: %w", err)
	}
	if err := s.Command(ctx, "GATE:FILL 0"); err != nil {
		return fmt.Errorf("turning RF off, gate in unknown state: %w", err)
	}
	return nil
}

func (s *Session) Close() error {
	return s.mgr.Close()
}

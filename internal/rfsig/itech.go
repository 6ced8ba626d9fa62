package rfsig

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/itech"
	"github.com/rjboer/bpmtest/internal/logging"
)

const (
	// ITechPort is the Telnet port of the BL12HI.
	ITechPort = 5555
	// ITechDefaultLimit is the output limit applied on connect.
	ITechDefaultLimit = -20.0
)

// ITech is the RF output of an ITech BL12HI. The generator has no output
// switch: off means the lowest level with the gate closed, so a level set
// while off is held until TurnOn.
type ITech struct {
	s     *itech.Session
	owned bool
	id    string
	log   logging.Logger

	mu    sync.Mutex
	limit float64
	level float64
	on    bool
}

// DialITech opens a dedicated session to addr.
func DialITech(ctx context.Context, addr string, timeout time.Duration, limit float64, logger logging.Logger) (*ITech, error) {
	s, err := itech.Dial(ctx, addr, timeout, logger)
	if err != nil {
		return nil, err
	}
	g, err := NewITech(ctx, s, limit, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	g.owned = true
	return g, nil
}

// NewITech checks the identity on a shared session and turns the RF off.
func NewITech(ctx context.Context, s *itech.Session, limit float64, logger logging.Logger) (*ITech, error) {
	if err := instrument.CheckFinite("power limit", limit); err != nil {
		return nil, err
	}
	id, err := s.Identity(ctx)
	if err != nil {
		return nil, err
	}
	g := &ITech{
		s:     s,
		id:    id,
		log:   logging.OrDefault(logger).With(logging.Component("rfsig")),
		limit: limit,
		level: itech.RFOffLevel,
	}
	if err := g.TurnOff(ctx); err != nil {
		return nil, err
	}
	g.log.Info("opened connection to RF source", logging.F("device", id))
	return g, nil
}

func (g *ITech) DeviceID(context.Context) (string, error) { return g.id, nil }

func (g *ITech) Frequency(ctx context.Context) (float64, string, error) {
	raw, _, err := g.s.Query(ctx, "FREQ:RF?")
	if err != nil {
		return 0, "", err
	}
	v, err := itech.ParseUnitValue(raw)
	return v, raw, err
}

func (g *ITech) SetFrequency(ctx context.Context, mhz float64) error {
	if err := checkFrequency(mhz); err != nil {
		return err
	}
	return g.s.Command(ctx, "FREQ:RF "+itech.FormatFrequency(mhz))
}

func (g *ITech) OutputPower(ctx context.Context) (float64, string, error) {
	raw, _, err := g.s.Query(ctx, "POW:RF?")
	if err != nil {
		return 0, "", err
	}
	v, err := itech.ParseUnitValue(raw)
	return v, raw, err
}

// SetOutputPower rounds to whole dB, which is all the BL12HI accepts.
func (g *ITech) SetOutputPower(ctx context.Context, dbm float64) error {
	if err := instrument.CheckFinite("power", dbm); err != nil {
		return err
	}
	g.mu.Lock()
	p := clampToLimit(g.log, dbm, g.limit)
	if p < itech.RFOffLevel {
		g.log.Warn("power level too low, using minimum", logging.F("requested_dbm", dbm), logging.F("minimum_dbm", itech.RFOffLevel))
		p = itech.RFOffLevel
	}
	p = math.Round(p)
	g.level = p
	on := g.on
	g.mu.Unlock()

	if !on {
		return nil
	}
	return g.s.Command(ctx, "POW:RF "+itech.FormatNumber(p))
}

func (g *ITech) TurnOn(ctx context.Context) error {
	g.mu.Lock()
	level := g.level
	g.mu.Unlock()
	if err := g.s.RFOn(ctx, level); err != nil {
		return err
	}
	g.mu.Lock()
	g.on = true
	g.mu.Unlock()
	return nil
}

func (g *ITech) TurnOff(ctx context.Context) error {
	if err := g.s.RFOff(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.on = false
	g.mu.Unlock()
	return nil
}

func (g *ITech) OutputState(context.Context) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.on, nil
}

func (g *ITech) SetOutputPowerLimit(_ context.Context, dbm float64) error {
	if err := instrument.CheckFinite("power limit", dbm); err != nil {
		return err
	}
	g.mu.Lock()
	g.limit = dbm
	g.mu.Unlock()
	return nil
}

func (g *ITech) OutputPowerLimit(context.Context) (float64, string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit, formatDBm(g.limit), nil
}

// Close turns the RF off; the session is closed only when DialITech opened it.
func (g *ITech) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := g.TurnOff(ctx)
	if g.owned {
		if cerr := g.s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("close rf source: %w", err)
	}
	g.log.Info("closed connection to RF source", logging.F("device", g.id))
	return nil
}

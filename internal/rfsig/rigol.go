package rfsig

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/logging"
)

const (
	// RigolPrefix starts the *IDN? reply of a DSG3030.
	RigolPrefix = "Rigol Technologies,DSG3030"
	// RigolDefaultLimit is the output limit applied on connect.
	RigolDefaultLimit = -40.0
	// RigolPort is the Telnet SCPI port of the DSG3030.
	RigolPort = 5555
)

// Rigol drives a Rigol DSG3030 over Telnet SCPI.
type Rigol struct {
	mgr *connectionmgr.Manager
	id  string
	log logging.Logger
}

// DialRigol connects to addr and prepares the generator.
func DialRigol(ctx context.Context, addr string, timeout time.Duration, limit float64, logger logging.Logger) (*Rigol, error) {
	mgr := connectionmgr.New(addr)
	if timeout > 0 {
		mgr.Timeout = timeout
	}
	mgr.Logger = logging.OrDefault(logger).With(logging.Component("rfsig"))
	if err := mgr.Connect(ctx); err != nil {
		return nil, err
	}
	g, err := NewRigol(ctx, mgr, limit, logger)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	return g, nil
}

// NewRigol checks the identity, turns the RF off and applies limit.
func NewRigol(ctx context.Context, mgr *connectionmgr.Manager, limit float64, logger logging.Logger) (*Rigol, error) {
	g := &Rigol{mgr: mgr, log: logging.OrDefault(logger).With(logging.Component("rfsig"))}
	idn, err := mgr.Query(ctx, "*IDN?")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(idn, RigolPrefix) {
		return nil, fmt.Errorf("identity %q: %w", idn, instrument.ErrWrongDevice)
	}
	g.id = "RF Source " + idn
	if err := g.TurnOff(ctx); err != nil {
		return nil, err
	}
	if err := g.SetOutputPowerLimit(ctx, limit); err != nil {
		return nil, err
	}
	g.log.Info("opened connection to RF source", logging.F("device", g.id))
	return g, nil
}

func (g *Rigol) DeviceID(context.Context) (string, error) { return g.id, nil }

func (g *Rigol) Frequency(ctx context.Context) (float64, string, error) {
	raw, err := g.mgr.Query(ctx, "FREQ?")
	if err != nil {
		return 0, "", err
	}
	v, err := parseLeading(raw)
	return v, raw, err
}

func (g *Rigol) SetFrequency(ctx context.Context, mhz float64) error {
	if err := checkFrequency(mhz); err != nil {
		return err
	}
	return g.mgr.WriteLine(ctx, "FREQ "+formatFloat(mhz)+"MHz")
}

func (g *Rigol) OutputPower(ctx context.Context) (float64, string, error) {
	level, err := g.mgr.Query(ctx, "LEV?")
	if err != nil {
		return 0, "", err
	}
	unit, err := g.mgr.Query(ctx, "UNIT:POW?")
	if err != nil {
		return 0, "", err
	}
	v, err := parseLeading(level)
	return v, level + unit, err
}

func (g *Rigol) SetOutputPower(ctx context.Context, dbm float64) error {
	if err := instrument.CheckFinite("power", dbm); err != nil {
		return err
	}
	limit, _, err := g.OutputPowerLimit(ctx)
	if err != nil {
		return err
	}
	p := clampToLimit(g.log, dbm, limit)
	if err := g.mgr.WriteLine(ctx, "UNIT:POW dBm"); err != nil {
		return err
	}
	return g.mgr.WriteLine(ctx, "LEV "+formatFloat(p))
}

func (g *Rigol) TurnOn(ctx context.Context) error  { return g.mgr.WriteLine(ctx, "OUTP ON") }
func (g *Rigol) TurnOff(ctx context.Context) error { return g.mgr.WriteLine(ctx, "OUTP OFF") }

func (g *Rigol) OutputState(ctx context.Context) (bool, error) {
	reply, err := g.mgr.Query(ctx, "OUTP?")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(reply) == "1", nil
}

func (g *Rigol) SetOutputPowerLimit(ctx context.Context, dbm float64) error {
	if err := instrument.CheckFinite("power limit", dbm); err != nil {
		return err
	}
	if err := g.mgr.WriteLine(ctx, "UNIT:POW dBm"); err != nil {
		return err
	}
	return g.mgr.WriteLine(ctx, "LEV:LIM "+formatFloat(dbm))
}

func (g *Rigol) OutputPowerLimit(ctx context.Context) (float64, string, error) {
	raw, err := g.mgr.Query(ctx, "LEV:LIM?")
	if err != nil {
		return 0, "", err
	}
	unit, err := g.mgr.Query(ctx, "UNIT:POW?")
	if err != nil {
		return 0, "", err
	}
	v, err := parseLeading(raw)
	return v, raw + unit, err
}

func (g *Rigol) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := g.TurnOff(ctx)
	if cerr := g.mgr.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

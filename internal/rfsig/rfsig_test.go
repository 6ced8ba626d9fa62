package rfsig

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/itech"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/scpitest"
)

func prompted(name, cmd, reply string) []scpitest.Step {
	return scpitest.Prompted(name, "scpi>", cmd, reply, "OK")
}

func openSteps() []scpitest.Step {
	var steps []scpitest.Step
	steps = append(steps, prompted("idn", "*IDN?", "*IDN? IT CLKGEN BL12HI")...)
	steps = append(steps, prompted("off power", "POW:RF -50", "POW:RF -50")...)
	steps = append(steps, prompted("off gate", "GATE:FILL 0", "GATE:FILL 0")...)
	return steps
}

func pipeManager(t *testing.T, banner []string, steps []scpitest.Step) (*connectionmgr.Manager, *scpitest.Responder) {
	t.Helper()
	conn, responder := scpitest.Start(t, banner, steps)
	mgr := connectionmgr.New("pipe")
	mgr.Timeout = 200 * time.Millisecond
	mgr.Logger = logging.Discard()
	mgr.SetConn(conn)
	return mgr, responder
}

func TestITechPowerHeldUntilOn(t *testing.T) {
	steps := openSteps()
	steps = append(steps, prompted("on power", "POW:RF -20", "POW:RF -20")...)
	steps = append(steps, prompted("on gate", "GATE:FILL 100", "GATE:FILL 100")...)
	steps = append(steps, prompted("change", "POW:RF -30", "POW:RF -30")...)
	mgr, responder := pipeManager(t, nil, steps)
	ctx := context.Background()

	g, err := NewITech(ctx, itech.NewSession(mgr, logging.Discard()), ITechDefaultLimit, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := g.SetOutputPower(ctx, -10); err != nil {
		t.Fatalf("set power: %v", err)
	}
	if err := g.TurnOn(ctx); err != nil {
		t.Fatalf("turn on: %v", err)
	}
	if err := g.SetOutputPower(ctx, -30.2); err != nil {
		t.Fatalf("set power while on: %v", err)
	}
	on, _ := g.OutputState(ctx)
	if !on {
		t.Fatalf("expected output on")
	}
	responder.Wait(t)
}

func TestITechWrongDevice(t *testing.T) {
	mgr, responder := pipeManager(t, nil, prompted("idn", "*IDN?", "*IDN? Agilent 33220A"))
	_, err := NewITech(context.Background(), itech.NewSession(mgr, logging.Discard()), -20, logging.Discard())
	if !errors.Is(err, instrument.ErrWrongDevice) {
		t.Fatalf("expected ErrWrongDevice, got %v", err)
	}
	responder.Wait(t)
}

func TestITechFrequencyFormatting(t *testing.T) {
	steps := openSteps()
	steps = append(steps, prompted("set freq", "FREQ:RF 499,650", "FREQ:RF 499,650")...)
	steps = append(steps, prompted("get freq", "FREQ:RF?", "FREQ:RF? 499,650 MHz")...)
	mgr, responder := pipeManager(t, nil, steps)
	ctx := context.Background()
	g, err := NewITech(ctx, itech.NewSession(mgr, logging.Discard()), -20, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := g.SetFrequency(ctx, -1); !errors.Is(err, instrument.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := g.SetFrequency(ctx, 499.65); err != nil {
		t.Fatalf("set freq: %v", err)
	}
	f, raw, err := g.Frequency(ctx)
	if err != nil || f != 499.65 || raw != "499,650 MHz" {
		t.Fatalf("freq %v %q %v", f, raw, err)
	}
	responder.Wait(t)
}

func TestRigolIdentityAndState(t *testing.T) {
	mgr, responder := pipeManager(t, nil, []scpitest.Step{
		{Name: "idn", Expect: "*IDN?", Reply: []string{"Rigol Technologies,DSG3030,DSG3A1234,00.01.05"}},
		{Name: "off", Expect: "OUTP OFF"},
		{Name: "unit", Expect: "UNIT:POW dBm"},
		{Name: "limit", Expect: "LEV:LIM -40"},
		{Name: "state", Expect: "OUTP?", Reply: []string{"0"}},
	})
	ctx := context.Background()
	g, err := NewRigol(ctx, mgr, RigolDefaultLimit, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	on, err := g.OutputState(ctx)
	if err != nil || on {
		t.Fatalf("state %v %v", on, err)
	}
	id, _ := g.DeviceID(ctx)
	if id != "RF Source Rigol Technologies,DSG3030,DSG3A1234,00.01.05" {
		t.Fatalf("id %q", id)
	}
	responder.Wait(t)
}

func TestRigolWrongDevice(t *testing.T) {
	mgr, responder := pipeManager(t, nil, []scpitest.Step{
		{Name: "idn", Expect: "*IDN?", Reply: []string{"Keysight N5181B"}},
	})
	if _, err := NewRigol(context.Background(), mgr, -40, logging.Discard()); !errors.Is(err, instrument.ErrWrongDevice) {
		t.Fatalf("expected ErrWrongDevice, got %v", err)
	}
	responder.Wait(t)
}

func TestSimulatedClampsToLimit(t *testing.T) {
	g := NewSimulated(-20, logging.Discard())
	ctx := context.Background()
	if err := g.SetOutputPower(ctx, 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	p, s, _ := g.OutputPower(ctx)
	if p != -20 || s != "-20 dBm" {
		t.Fatalf("power %v %q", p, s)
	}
	if err := g.SetOutputPower(ctx, math.NaN()); !errors.Is(err, instrument.ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
}

func TestParseLeading(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"-20.5dBm", -20.5},
		{"499.6817682", 499.6817682},
		{" 1e3Hz", 1000},
	}
	for _, tc := range tests {
		got, err := parseLeading(tc.in)
		if err != nil || got != tc.want {
			t.Fatalf("parseLeading(%q)=%v,%v", tc.in, got, err)
		}
	}
	if _, err := parseLeading("dBm"); err == nil {
		t.Fatalf("expected error")
	}
}

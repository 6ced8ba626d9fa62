package trigger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/itech"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/scpitest"
)

func pipeManager(t *testing.T, steps []scpitest.Step) (*connectionmgr.Manager, *scpitest.Responder) {
	t.Helper()
	conn, responder := scpitest.Start(t, nil, steps)
	mgr := connectionmgr.New("pipe")
	mgr.Timeout = 200 * time.Millisecond
	mgr.Logger = logging.Discard()
	mgr.SetConn(conn)
	return mgr, responder
}

func TestAgilentTriggerPulse(t *testing.T) {
	mgr, responder := pipeManager(t, []scpitest.Step{
		{Name: "idn", Expect: "*IDN?", Reply: []string{AgilentPrefix + " Agilent Technologies,33220A"}},
		{Name: "off", Expect: "OUTP OFF"},
		{Name: "duty", Expect: "FUNC:PULS:DCYC 50"},
		{Name: "apply", Expect: "APPL:PULS 4.99655, 1, 0"},
		{Name: "on", Expect: "OUTP ON"},
		{Name: "state", Expect: "OUTP?", Reply: []string{"1"}},
	})
	ctx := context.Background()
	s, err := NewAgilent33220A(ctx, mgr, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.SetUpTriggerPulse(ctx, 4.99655); err != nil {
		t.Fatalf("set up: %v", err)
	}
	on, err := s.OutputState(ctx)
	if err != nil || !on {
		t.Fatalf("state %v %v", on, err)
	}
	id, _ := s.DeviceID(ctx)
	if id != "Trigger Source "+AgilentPrefix+" Agilent Technologies,33220A" {
		t.Fatalf("id %q", id)
	}
	responder.Wait(t)
}

func TestAgilentWrongDevice(t *testing.T) {
	mgr, responder := pipeManager(t, []scpitest.Step{
		{Name: "idn", Expect: "*IDN?", Reply: []string{"Rigol Technologies,DSG3030"}},
	})
	if _, err := NewAgilent33220A(context.Background(), mgr, logging.Discard()); !errors.Is(err, instrument.ErrWrongDevice) {
		t.Fatalf("expected ErrWrongDevice, got %v", err)
	}
	responder.Wait(t)
}

func TestITechOutputState(t *testing.T) {
	var steps []scpitest.Step
	add := func(name, cmd, reply string) {
		steps = append(steps, scpitest.Prompted(name, "scpi>", cmd, reply, "OK")...)
	}
	add("idn", "*IDN?", "*IDN? IT CLKGEN BL12HI")
	add("off power", "POW:RF -50", "POW:RF -50")
	add("off gate", "GATE:FILL 0", "GATE:FILL 0")
	add("state off", "POW:RF?", "POW:RF? -50 dBm")
	add("on power", "POW:RF -20", "POW:RF -20")
	add("on gate", "GATE:FILL 100", "GATE:FILL 100")
	add("state on", "POW:RF?", "POW:RF? -20 dBm")

	mgr, responder := pipeManager(t, steps)
	ctx := context.Background()
	s, err := NewITech(ctx, itech.NewSession(mgr, logging.Discard()), logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if on, err := s.OutputState(ctx); err != nil || on {
		t.Fatalf("expected off, got %v %v", on, err)
	}
	if err := s.SetUpTriggerPulse(ctx, 4.99); err != nil {
		t.Fatalf("set up: %v", err)
	}
	if err := s.TurnOn(ctx); err != nil {
		t.Fatalf("on: %v", err)
	}
	if on, err := s.OutputState(ctx); err != nil || !on {
		t.Fatalf("expected on, got %v %v", on, err)
	}
	responder.Wait(t)
}

func TestSimulatedTrigger(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	if err := s.SetUpTriggerPulse(ctx, -1); !errors.Is(err, instrument.ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := s.SetUpTriggerPulse(ctx, 4.99); err != nil {
		t.Fatalf("set up: %v", err)
	}
	if on, _ := s.OutputState(ctx); !on || s.Frequency() != 4.99 {
		t.Fatalf("unexpected state on=%v freq=%v", on, s.Frequency())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if on, _ := s.OutputState(ctx); on {
		t.Fatalf("expected output off after close")
	}
}

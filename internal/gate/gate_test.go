package gate

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

func newITech(t *testing.T, extra []scpitest.Step) (*ITech, *scpitest.Responder) {
	t.Helper()
	var steps []scpitest.Step
	steps = append(steps, prompted("idn", "*IDN?", "*IDN? IT CLKGEN BL12HI")...)
	steps = append(steps, prompted("close gate", "GATE:FILL 0", "GATE:FILL 0")...)
	steps = append(steps, extra...)

	conn, responder := scpitest.Start(t, nil, steps)
	mgr := connectionmgr.New("pipe")
	mgr.Timeout = 200 * time.Millisecond
	mgr.Logger = logging.Discard()
	mgr.SetConn(conn)
	g, err := NewITech(context.Background(), itech.NewSession(mgr, logging.Discard()), logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return g, responder
}

func TestITechDutyCycleRoundTrip(t *testing.T) {
	var steps []scpitest.Step
	steps = append(steps, prompted("set", "GATE:FILL 25", "GATE:FILL 25")...)
	steps = append(steps, prompted("get", "GATE:FILL?", "GATE:FILL? 25 %")...)
	g, responder := newITech(t, steps)
	ctx := context.Background()

	if err := g.SetPulseDutyCycle(ctx, 0.251); err != nil {
		t.Fatalf("set duty: %v", err)
	}
	duty, err := g.PulseDutyCycle(ctx)
	if err != nil {
		t.Fatalf("get duty: %v", err)
	}
	if math.Abs(duty-0.25) > 1e-12 {
		t.Fatalf("duty = %v, want 0.25", duty)
	}
	responder.Wait(t)
}

func TestITechModulationState(t *testing.T) {
	var steps []scpitest.Step
	steps = append(steps, prompted("off", "GATE:FILL 100", "GATE:FILL 100")...)
	steps = append(steps, prompted("state off", "GATE:FILL?", "GATE:FILL? 100 %")...)
	steps = append(steps, prompted("on", "GATE:FILL 0", "GATE:FILL 0")...)
	steps = append(steps, prompted("state on", "GATE:FILL?", "GATE:FILL? 0 %")...)
	g, responder := newITech(t, steps)
	ctx := context.Background()

	if err := g.TurnOffModulation(ctx); err != nil {
		t.Fatalf("off: %v", err)
	}
	if on, err := g.ModulationState(ctx); err != nil || on {
		t.Fatalf("expected modulation off, got %v %v", on, err)
	}
	if err := g.TurnOnModulation(ctx); err != nil {
		t.Fatalf("on: %v", err)
	}
	if on, err := g.ModulationState(ctx); err != nil || !on {
		t.Fatalf("expected modulation on, got %v %v", on, err)
	}
	responder.Wait(t)
}

func TestITechPulsePeriod(t *testing.T) {
	g, responder := newITech(t, prompted("mc", "FREQ:MC?", "FREQ:MC? 0,5 MHz"))
	period, err := g.PulsePeriod(context.Background())
	if err != nil {
		t.Fatalf("period: %v", err)
	}
	if period != 2 {
		t.Fatalf("period = %v us, want 2", period)
	}
	responder.Wait(t)
}

func TestDutyCycleValidation(t *testing.T) {
	tests := []struct {
		duty float64
		want error
	}{
		{-0.1, ErrOutOfRange},
		{1.01, ErrOutOfRange},
		{math.NaN(), ErrInvalidValue},
		{math.Inf(1), ErrInvalidValue},
		{0, nil},
		{1, nil},
	}
	s := NewSimulated(1.87)
	for _, tc := range tests {
		err := s.SetPulseDutyCycle(context.Background(), tc.duty)
		if tc.want == nil && err != nil {
			t.Fatalf("duty %v: unexpected error %v", tc.duty, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("duty %v: expected %v, got %v", tc.duty, tc.want, err)
		}
	}
	if !errors.Is(ErrOutOfRange, instrument.ErrOutOfRange) {
		t.Fatalf("gate range error must match the shared sentinel")
	}
}

func TestSimulatedState(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated(1.87)
	if on, _ := s.ModulationState(ctx); on {
		t.Fatalf("expected modulation off initially")
	}
	if d, _ := s.PulseDutyCycle(ctx); d != 1 {
		t.Fatalf("initial duty %v", d)
	}
	_ = s.TurnOnModulation(ctx)
	_ = s.SetPulseDutyCycle(ctx, 0.5)
	if on, _ := s.ModulationState(ctx); !on {
		t.Fatalf("expected modulation on")
	}
	if p, _ := s.PulsePeriod(ctx); p != 1.87 {
		t.Fatalf("period %v", p)
	}
}

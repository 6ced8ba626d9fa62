package itech

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/scpitest"
)

func queryStep(name, cmd, reply, status string) []scpitest.Step {
	return scpitest.Prompted(name, "scpi>", cmd, reply, status)
}

func newTestSession(t *testing.T, steps []scpitest.Step) (*Session, *scpitest.Responder) {
	t.Helper()
	conn, responder := scpitest.Start(t, nil, steps)
	mgr := connectionmgr.New("pipe")
	mgr.Timeout = 200 * time.Millisecond
	mgr.Logger = logging.Discard()
	mgr.SetConn(conn)
	return NewSession(mgr, logging.Discard()), responder
}

func TestQueryParsesValue(t *testing.T) {
	s, responder := newTestSession(t, queryStep("pow", "POW:RF?", "scpi>POW:RF? -20 dBm", "OK"))
	value, status, err := s.Query(context.Background(), "POW:RF?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if value != "-20 dBm" || status != "OK" {
		t.Fatalf("unexpected value %q status %q", value, status)
	}
	responder.Wait(t)
}

func TestQueryBadStatus(t *testing.T) {
	s, responder := newTestSession(t, queryStep("pow", "POW:RF 5", "POW:RF 5", "ERR"))
	_, _, err := s.Query(context.Background(), "POW:RF 5")
	if !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
	responder.Wait(t)
}

func TestIdentityRejectsOtherDevices(t *testing.T) {
	s, responder := newTestSession(t, queryStep("idn", "*IDN?", "*IDN? Rigol Technologies,DSG3030", "OK"))
	if _, err := s.Identity(context.Background()); !errors.Is(err, ErrWrongDevice) {
		t.Fatalf("expected ErrWrongDevice, got %v", err)
	}
	responder.Wait(t)
}

func TestIdentityAccepted(t *testing.T) {
	s, responder := newTestSession(t, queryStep("idn", "*IDN?", "*IDN? IT CLKGEN BL12HI v2", "OK"))
	id, err := s.Identity(context.Background())
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if id != "IT CLKGEN BL12HI v2" {
		t.Fatalf("unexpected id %q", id)
	}
	responder.Wait(t)
}

func TestRFOffSequence(t *testing.T) {
	steps := append(queryStep("pow", "POW:RF -50", "POW:RF -50", "OK"),
		queryStep("gate", "GATE:FILL 0", "GATE:FILL 0", "OK")...)
	s, responder := newTestSession(t, steps)
	if err := s.RFOff(context.Background()); err != nil {
		t.Fatalf("rf off: %v", err)
	}
	responder.Wait(t)
}

func TestFormatFrequency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{499.655, "499,655"},
		{499.65, "499,650"},
		{500, "500"},
	}
	for _, tc := range tests {
		if got := FormatFrequency(tc.in); got != tc.want {
			t.Fatalf("FormatFrequency(%v)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseUnitValue(t *testing.T) {
	v, err := ParseUnitValue("499,655 MHz")
	if err != nil || v != 499.655 {
		t.Fatalf("got %v, %v", v, err)
	}
	v, err = ParseUnitValue("100 %")
	if err != nil || v != 100 {
		t.Fatalf("got %v, %v", v, err)
	}
	if _, err := ParseUnitValue(""); err == nil {
		t.Fatalf("expected error for empty reply")
	}
}

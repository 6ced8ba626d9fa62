package atten

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/scpitest"
)

func pipeManager(t *testing.T, steps []scpitest.Step) (*connectionmgr.Manager, *scpitest.Responder) {
	t.Helper()
	conn, responder := scpitest.Start(t, nil, steps)
	mgr := connectionmgr.New("pipe")
	mgr.Timeout = 50 * time.Millisecond
	mgr.Logger = logging.Discard()
	mgr.SetConn(conn)
	return mgr, responder
}

func reply(name, cmd string, lines ...string) scpitest.Step {
	return scpitest.Step{Name: name, Expect: cmd, Reply: lines}
}

func open(t *testing.T, steps ...scpitest.Step) (*RC4DAT6G95, *scpitest.Responder) {
	t.Helper()
	all := append([]scpitest.Step{reply("model", "MN?", "", "MN=RC4DAT-6G-95")}, steps...)
	mgr, responder := pipeManager(t, all)
	a, err := NewRC4DAT6G95(context.Background(), mgr, logging.Discard())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	a.RetryInterval = time.Millisecond
	return a, responder
}

func TestChannelIndex(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"A", 0, true},
		{"d", 3, true},
		{"2", 1, true},
		{"4", 3, true},
		{"E", 0, false},
		{"0", 0, false},
	}
	for _, tc := range tests {
		got, err := ChannelIndex(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ChannelIndex(%q)=%d,%v want %d", tc.in, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrOutOfRange) {
			t.Fatalf("ChannelIndex(%q): expected ErrOutOfRange, got %v", tc.in, err)
		}
	}
}

func TestRC4DATModelAndGlobal(t *testing.T) {
	a, responder := open(t,
		reply("set", ":CHAN:1:2:3:4:SETATT:12.25", "", "1"),
		reply("get", ":ATT?", "", "12.25 12.25 12.25 12.25"),
	)
	ctx := context.Background()
	id, _ := a.DeviceID(ctx)
	if id != "RC4DAT-6G-95" {
		t.Fatalf("id %q", id)
	}
	if err := a.SetGlobalAttenuation(ctx, 12.25); err != nil {
		t.Fatalf("set: %v", err)
	}
	vals, err := a.GlobalAttenuation(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if vals != [4]float64{12.25, 12.25, 12.25, 12.25} {
		t.Fatalf("unexpected readback %v", vals)
	}
	responder.Wait(t)
}

func TestRC4DATWrongModel(t *testing.T) {
	mgr, responder := pipeManager(t, []scpitest.Step{reply("model", "MN?", "", "MN=ZX76-31R5")})
	if _, err := NewRC4DAT6G95(context.Background(), mgr, logging.Discard()); !errors.Is(err, instrument.ErrWrongDevice) {
		t.Fatalf("expected ErrWrongDevice, got %v", err)
	}
	responder.Wait(t)
}

func TestRC4DATChannelReadRetriesEmptyReply(t *testing.T) {
	a, responder := open(t,
		reply("empty", ":ATT?"),
		reply("again", ":ATT?", "", "0 10 20 30"),
	)
	v, err := a.ChannelAttenuation(context.Background(), "C")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if v != 20 {
		t.Fatalf("channel C = %v, want 20", v)
	}
	responder.Wait(t)
}

func TestRC4DATChannelReadGivesUp(t *testing.T) {
	var steps []scpitest.Step
	for i := 0; i < readRetries; i++ {
		steps = append(steps, reply("empty", ":ATT?"))
	}
	a, responder := open(t, steps...)
	if _, err := a.ChannelAttenuation(context.Background(), "A"); !errors.Is(err, ErrNoReply) {
		t.Fatalf("expected ErrNoReply, got %v", err)
	}
	responder.Wait(t)
}

func TestRC4DATSetChannelRetriesOnce(t *testing.T) {
	a, responder := open(t,
		reply("set", ":CHAN:2:SETATT:5.5", "", "1"),
		reply("check", ":ATT?", "", "0 0 0 0"),
		reply("set again", ":CHAN:2:SETATT:5.5", "", "1"),
		reply("check again", ":ATT?", "", "0 5.5 0 0"),
	)
	if err := a.SetChannelAttenuation(context.Background(), "B", 5.5); err != nil {
		t.Fatalf("set: %v", err)
	}
	responder.Wait(t)
}

func TestRC4DATRejectsBadValues(t *testing.T) {
	a, responder := open(t)
	ctx := context.Background()
	if err := a.SetGlobalAttenuation(ctx, 96); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if err := a.SetChannelAttenuation(ctx, "A", math.NaN()); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("expected ErrInvalidValue, got %v", err)
	}
	if err := a.SetChannelAttenuation(ctx, "5", 1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange for channel, got %v", err)
	}
	responder.Wait(t)
}

func TestSimulatedAttenuator(t *testing.T) {
	ctx := context.Background()
	s := NewSimulated()
	if err := s.SetGlobalAttenuation(ctx, 10); err != nil {
		t.Fatalf("global: %v", err)
	}
	if err := s.SetChannelAttenuation(ctx, "3", 20); err != nil {
		t.Fatalf("channel: %v", err)
	}
	vals, _ := s.GlobalAttenuation(ctx)
	if vals != [4]float64{10, 10, 20, 10} {
		t.Fatalf("unexpected values %v", vals)
	}
	if v, _ := s.ChannelAttenuation(ctx, "C"); v != 20 {
		t.Fatalf("channel C = %v", v)
	}
	if err := s.SetGlobalAttenuation(ctx, -1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestRC4DATSetChannelFailsAfterRetry(t *testing.T) {
	a, responder := open(t,
		reply("set", ":CHAN:1:SETATT:3", "", "1"),
		reply("check", ":ATT?", "", "0 0 0 0"),
		reply("set again", ":CHAN:1:SETATT:3", "", "1"),
		reply("check again", ":ATT?", "", "0 0 0 0"),
	)
	if err := a.SetChannelAttenuation(context.Background(), "1", 3); !errors.Is(err, ErrReadback) {
		t.Fatalf("expected ErrReadback, got %v", err)
	}
	responder.Wait(t)
}

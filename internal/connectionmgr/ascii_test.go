package connectionmgr

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/scpitest"
)

func newPipeManager(t *testing.T, banner []string, steps []scpitest.Step) (*Manager, *scpitest.Responder) {
	t.Helper()
	conn, responder := scpitest.Start(t, banner, steps)
	m := New("pipe")
	m.Timeout = 200 * time.Millisecond
	m.Logger = logging.Discard()
	m.SetConn(conn)
	return m, responder
}

func TestQueryStripsTerminator(t *testing.T) {
	m, responder := newPipeManager(t, nil, []scpitest.Step{
		{Name: "idn", Expect: "MN?", Reply: []string{"MN=RC4DAT-6G-95"}},
	})
	got, err := m.Query(context.Background(), "MN?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != "MN=RC4DAT-6G-95" {
		t.Fatalf("unexpected reply %q", got)
	}
	responder.Wait(t)
}

func TestQueryLinesAndDrain(t *testing.T) {
	m, responder := newPipeManager(t, []string{"Welcome", "Ready"}, []scpitest.Step{
		{Name: "att", Expect: ":ATT?", Reply: []string{"1", "10.25 10.25 10.25 10.25"}},
	})
	ctx := context.Background()
	if err := m.Drain(ctx, 2); err != nil {
		t.Fatalf("drain: %v", err)
	}
	lines, err := m.QueryLines(ctx, ":ATT?", 2)
	if err != nil {
		t.Fatalf("query lines: %v", err)
	}
	if len(lines) != 2 || lines[1] != "10.25 10.25 10.25 10.25" {
		t.Fatalf("unexpected lines %q", lines)
	}
	responder.Wait(t)
}

func TestReadLineTimeoutIsEmptyReply(t *testing.T) {
	m, responder := newPipeManager(t, nil, []scpitest.Step{{Name: "silent", Expect: ":CHAN:1:ATT?"}})
	m.Timeout = 20 * time.Millisecond
	_, err := m.Query(context.Background(), ":CHAN:1:ATT?")
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
	responder.Wait(t)
}

func TestNotConnected(t *testing.T) {
	m := New("127.0.0.1:1")
	if _, err := m.Query(context.Background(), "*IDN?"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close without conn: %v", err)
	}
}

func TestConnectDialsListener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 64)
		n, _ := c.Read(buf)
		_, _ = c.Write(append([]byte("echo "), buf[:n]...))
	}()

	m := New(ln.Addr().String())
	m.Logger = logging.Discard()
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer m.Close()
	got, err := m.Query(context.Background(), "PING")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got != "echo PING" {
		t.Fatalf("unexpected echo %q", got)
	}
}

func TestContextDeadlineWins(t *testing.T) {
	m := New("x")
	m.Timeout = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if dl := m.deadline(ctx); time.Until(dl) > 2*time.Second {
		t.Fatalf("expected context deadline, got %v", dl)
	}
}

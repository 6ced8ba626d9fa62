// Package scpitest provides a scripted in-memory instrument for exercising
// line-oriented Telnet/SCPI drivers over net.Pipe.
package scpitest

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
)

// Step is one expected command and the lines written back for it.
type Step struct {
	Name   string
	Expect string   // command without CRLF; empty accepts anything
	Prefix bool     // match Expect as a prefix
	Reply  []string // written back each terminated with CRLF
}

// Responder plays Steps against the server end of a pipe.
type Responder struct {
	conn   net.Conn
	banner []string
	steps  []Step
	done   chan struct{}
	errCh  chan error
}

// Start returns the client end of a pipe served by a Responder that first
// writes banner and then plays steps in order.
func Start(t *testing.T, banner []string, steps []Step) (net.Conn, *Responder) {
	t.Helper()

	client, server := net.Pipe()
	r := &Responder{
		conn:   server,
		banner: banner,
		steps:  steps,
		done:   make(chan struct{}),
		errCh:  make(chan error, 1),
	}
	go r.run()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, r
}

func (r *Responder) run() {
	defer close(r.done)
	defer close(r.errCh)

	for _, line := range r.banner {
		if _, err := r.conn.Write([]byte(line + "\r\n")); err != nil {
			r.errCh <- fmt.Errorf("write banner: %w", err)
			return
		}
	}

	reader := bufio.NewReader(r.conn)
	for idx, step := range r.steps {
		line, err := reader.ReadString('\n')
		if err != nil {
			r.errCh <- fmt.Errorf("step %d (%s): read command: %w", idx, step.Name, err)
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if step.Expect != "" {
			ok := line == step.Expect
			if step.Prefix {
				ok = strings.HasPrefix(line, step.Expect)
			}
			if !ok {
				r.errCh <- fmt.Errorf("step %d (%s): unexpected command %q, want %q", idx, step.Name, line, step.Expect)
				_ = r.conn.Close()
				return
			}
		}
		for _, reply := range step.Reply {
			if _, err := r.conn.Write([]byte(reply + "\r\n")); err != nil {
				r.errCh <- fmt.Errorf("step %d (%s): write reply: %w", idx, step.Name, err)
				return
			}
		}
	}
}

// Wait blocks until every step ran and fails the test on a script mismatch.
func (r *Responder) Wait(t *testing.T) {
	t.Helper()
	<-r.done
	if err, ok := <-r.errCh; ok && err != nil {
		t.Fatalf("mock instrument: %v", err)
	}
}

// Prompted scripts an exchange where the driver writes a mode prompt line
// before cmd, as the ITech generator requires.
func Prompted(name, prompt, cmd string, reply ...string) []Step {
	return []Step{
		{Name: name + " prompt", Expect: prompt},
		{Name: name, Expect: cmd, Reply: reply},
	}
}

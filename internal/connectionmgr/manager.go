package connectionmgr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
)

var (
	// ErrNotConnected is returned by I/O helpers before Connect or SetConn.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyReply is returned when the peer sent nothing before the read deadline.
	ErrEmptyReply = errors.New("empty reply")
)

// Manager owns one Telnet-style TCP session to a lab instrument. Commands
// and replies are CRLF terminated ASCII lines.
type Manager struct {
	Address string
	Timeout time.Duration
	Logger  logging.Logger

	mu   sync.Mutex
	conn net.Conn
}

// ---------- Construction / lifecycle ----------

func New(addr string) *Manager {
	return &Manager{
		Address: addr,
		Timeout: 5 * time.Second,
	}
}

// Connect dials the configured address.
func (m *Manager) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: m.Timeout}
	c, err := d.DialContext(ctx, "tcp", m.Address)
	if err != nil {
		return fmt.Errorf("connect %s: %w", m.Address, err)
	}
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()
	m.logger().Debug("connected", logging.F("addr", m.Address))
	return nil
}

// SetConn injects an established connection (tests, tunnels).
func (m *Manager) SetConn(conn net.Conn) {
	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()
}

// Connected reports whether a connection is attached.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	err := m.conn.Close()
	m.conn = nil
	return err
}

func (m *Manager) SetTimeout(d time.Duration) {
	m.Timeout = d
}

func (m *Manager) SetLogger(l logging.Logger) {
	m.Logger = l
}

func (m *Manager) logger() logging.Logger {
	if m.Logger == nil {
		return logging.Default().With(logging.Component("connectionmgr"))
	}
	return m.Logger
}

// ---------- Raw I/O ----------

// deadline picks the earlier of the context deadline and now+Timeout.
func (m *Manager) deadline(ctx context.Context) time.Time {
	var dl time.Time
	if m.Timeout > 0 {
		dl = time.Now().Add(m.Timeout)
	}
	if ctxDl, ok := ctx.Deadline(); ok && (dl.IsZero() || ctxDl.Before(dl)) {
		dl = ctxDl
	}
	return dl
}

func (m *Manager) current() (net.Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// writeAll writes the full buffer to the socket, handling short writes.
func (m *Manager) writeAll(ctx context.Context, b []byte) error {
	conn, err := m.current()
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(m.deadline(ctx))
	for len(b) > 0 {
		n, err := conn.Write(b)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		b = b[n:]
	}
	return nil
}

// readLine reads one LF-terminated line byte by byte so no reply bytes are
// buffered past the terminator. A timeout after partial data returns what
// was read; a timeout with nothing read returns ErrEmptyReply.
func (m *Manager) readLine(ctx context.Context) (string, error) {
	conn, err := m.current()
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	_ = conn.SetReadDeadline(m.deadline(ctx))

	var buf []byte
	var one [1]byte
	for len(buf) < maxLineLen {
		_, err := conn.Read(one[:])
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if len(buf) > 0 {
					return trimLine(string(buf)), nil
				}
				return "", fmt.Errorf("read %s: %w", m.Address, ErrEmptyReply)
			}
			return "", fmt.Errorf("read: %w", err)
		}
		if one[0] == '\n' {
			return trimLine(string(buf)), nil
		}
		buf = append(buf, one[0])
	}
	return "", fmt.Errorf("read: line exceeds %d bytes", maxLineLen)
}

package connectionmgr

import (
	"context"
	"strings"

	"github.com/rjboer/bpmtest/internal/logging"
)

const maxLineLen = 1 << 20

// hasLineEnding checks whether the string already ends with CR or LF.
func hasLineEnding(s string) bool {
	return strings.HasSuffix(s, "\n") || strings.HasSuffix(s, "\r")
}

func trimLine(s string) string {
	return strings.TrimRight(s, "\r\n")
}

// WriteLine writes a command line terminated with CRLF.
func (m *Manager) WriteLine(ctx context.Context, cmd string) error {
	m.logger().Debug("tx", logging.F("addr", m.Address), logging.F("cmd", trimLine(cmd)))
	if !hasLineEnding(cmd) {
		cmd += "\r\n"
	}
	return m.writeAll(ctx, []byte(cmd))
}

// ReadLine returns the next reply line without its terminator.
func (m *Manager) ReadLine(ctx context.Context) (string, error) {
	line, err := m.readLine(ctx)
	if err != nil {
		return "", err
	}
	m.logger().Debug("rx", logging.F("addr", m.Address), logging.F("line", line))
	return line, nil
}

// Query sends cmd and returns the single reply line.
func (m *Manager) Query(ctx context.Context, cmd string) (string, error) {
	if err := m.WriteLine(ctx, cmd); err != nil {
		return "", err
	}
	return m.ReadLine(ctx)
}

// QueryLines sends cmd and reads exactly n reply lines.
func (m *Manager) QueryLines(ctx context.Context, cmd string, n int) ([]string, error) {
	if err := m.WriteLine(ctx, cmd); err != nil {
		return nil, err
	}
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		line, err := m.ReadLine(ctx)
		if err != nil {
			return lines, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// Drain discards n lines, typically a connection banner.
func (m *Manager) Drain(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if _, err := m.ReadLine(ctx); err != nil {
			return err
		}
	}
	return nil
}

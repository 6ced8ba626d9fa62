package epics

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
)

const monitorStampLayout = "2006-01-02 15:04:05.999999999"

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Streamer starts a long running command and returns its stdout.
type Streamer func(ctx context.Context, name string, args ...string) (io.ReadCloser, error)

// CATools implements Client with the EPICS base command line tools
// (caget, caput, camonitor, cainfo).
type CATools struct {
	Run    Runner
	Stream Streamer
	Logger logging.Logger
}

// NewCATools returns a client that runs the tools found on PATH.
func NewCATools(logger logging.Logger) *CATools {
	return &CATools{
		Run:    runCommand,
		Stream: streamCommand,
		Logger: logging.OrDefault(logger).With(logging.Component("epics")),
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func streamCommand(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return out, nil
}

func (c *CATools) logger() logging.Logger {
	return logging.OrDefault(c.Logger)
}

// Get runs "caget -t -n pv". Waveforms print their element count first.
func (c *CATools) Get(ctx context.Context, pv string) ([]float64, error) {
	out, err := c.Run(ctx, "caget", "-t", "-n", pv)
	if err != nil {
		return nil, err
	}
	vals, err := parseCaget(string(out))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", pv, err)
	}
	c.logger().Debug("caget", logging.F("pv", pv), logging.F("n", len(vals)))
	return vals, nil
}

func (c *CATools) GetString(ctx context.Context, pv string) (string, error) {
	out, err := c.Run(ctx, "caget", "-t", pv)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (c *CATools) Put(ctx context.Context, pv string, value any) error {
	args := []string{"-t", pv}
	switch v := value.(type) {
	case []float64:
		args = append([]string{"-a"}, args...)
		args = append(args, strconv.Itoa(len(v)))
		for _, f := range v {
			args = append(args, strconv.FormatFloat(f, 'g', -1, 64))
		}
	case float64:
		args = append(args, strconv.FormatFloat(v, 'g', -1, 64))
	default:
		args = append(args, fmt.Sprint(v))
	}
	if _, err := c.Run(ctx, "caput", args...); err != nil {
		return err
	}
	c.logger().Debug("caput", logging.F("pv", pv), logging.F("value", value))
	return nil
}

// Host parses the "Host:" line of cainfo and strips the port.
func (c *CATools) Host(ctx context.Context, pv string) (string, error) {
	out, err := c.Run(ctx, "cainfo", pv)
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Host:"); ok {
			host := strings.TrimSpace(rest)
			if i := strings.LastIndex(host, ":"); i > 0 {
				host = host[:i]
			}
			return host, nil
		}
	}
	return "", fmt.Errorf("cainfo %s: no host line", pv)
}

// Monitor runs "camonitor -n pv" and parses "<pv> <date> <time> <value>" lines.
func (c *CATools) Monitor(ctx context.Context, pv string) (<-chan Sample, error) {
	rc, err := c.Stream(ctx, "camonitor", "-n", pv)
	if err != nil {
		return nil, err
	}
	ch := make(chan Sample)
	go func() {
		defer close(ch)
		defer rc.Close()
		scanner := bufio.NewScanner(rc)
		for scanner.Scan() {
			s, err := parseMonitorLine(scanner.Text())
			if err != nil {
				c.logger().Debug("skip monitor line", logging.F("pv", pv), logging.Err(err))
				continue
			}
			select {
			case ch <- s:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func parseCaget(out string) ([]float64, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return nil, ErrNoValue
	}
	vals := make([]float64, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", f, err)
		}
		vals = append(vals, v)
	}
	if len(vals) > 1 && int(vals[0]) == len(vals)-1 {
		return vals[1:], nil
	}
	return vals, nil
}

func parseMonitorLine(line string) (Sample, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return Sample{}, fmt.Errorf("short line %q", line)
	}
	stamp, err := time.ParseInLocation(monitorStampLayout, fields[1]+" "+fields[2], time.Local)
	if err != nil {
		return Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	v, err := strconv.ParseFloat(fields[len(fields)-1], 64)
	if err != nil {
		return Sample{}, fmt.Errorf("value: %w", err)
	}
	return Sample{Stamp: stamp, Value: v}, nil
}

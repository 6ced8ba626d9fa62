package epics

import (
	"context"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
)

func TestPV(t *testing.T) {
	tests := []struct {
		device, suffix, want string
	}{
		{"TS-DI-EBPM-05", "SA:X", "TS-DI-EBPM-05:SA:X"},
		{"db:signals:sa", ".X", "db:signals:sa.X"},
		{"dev:", "CF:ATTEN_S", "dev:CF:ATTEN_S"},
		{"", "X", "X"},
	}
	for _, tc := range tests {
		if got := PV(tc.device, tc.suffix); got != tc.want {
			t.Fatalf("PV(%q,%q)=%q want %q", tc.device, tc.suffix, got, tc.want)
		}
	}
}

func TestParseCaget(t *testing.T) {
	vals, err := parseCaget("4 1 2 3 4\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(vals, []float64{1, 2, 3, 4}) {
		t.Fatalf("unexpected waveform %v", vals)
	}
	vals, err = parseCaget("12.5\n")
	if err != nil || len(vals) != 1 || vals[0] != 12.5 {
		t.Fatalf("scalar: %v %v", vals, err)
	}
	if _, err := parseCaget("  "); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}
}

func TestCAToolsCommands(t *testing.T) {
	var calls []string
	c := &CATools{
		Logger: logging.Discard(),
		Run: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			calls = append(calls, name+" "+strings.Join(args, " "))
			switch name {
			case "caget":
				return []byte("3\n"), nil
			case "cainfo":
				return []byte("dev:X\n    State:            connected\n    Host:             10.0.0.7:5064\n"), nil
			}
			return nil, nil
		},
	}
	ctx := context.Background()
	v, err := GetFloat(ctx, c, "dev:CF:ATTEN_S")
	if err != nil || v != 3 {
		t.Fatalf("get: %v %v", v, err)
	}
	if err := c.Put(ctx, "dev:CF:ATTEN_S", 10.0); err != nil {
		t.Fatalf("put: %v", err)
	}
	host, err := c.Host(ctx, "dev:X")
	if err != nil || host != "10.0.0.7" {
		t.Fatalf("host: %q %v", host, err)
	}
	want := []string{
		"caget -t -n dev:CF:ATTEN_S",
		"caput -t dev:CF:ATTEN_S 10",
		"cainfo dev:X",
	}
	if !reflect.DeepEqual(calls, want) {
		t.Fatalf("calls %v want %v", calls, want)
	}
}

func TestCAToolsMonitor(t *testing.T) {
	c := &CATools{
		Logger: logging.Discard(),
		Stream: func(ctx context.Context, name string, args ...string) (io.ReadCloser, error) {
			out := "dev:SA:A 2024-03-01 10:00:00.000100 1.5\n" +
				"garbage\n" +
				"dev:SA:A 2024-03-01 10:00:00.000200 2.5\n"
			return io.NopCloser(strings.NewReader(out)), nil
		},
	}
	acc := NewAccumulator("dev:SA:A", 2)
	if err := acc.Start(context.Background(), c); err != nil {
		t.Fatalf("start: %v", err)
	}
	stamps, values, err := acc.Wait(context.Background())
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !reflect.DeepEqual(values, []float64{1.5, 2.5}) {
		t.Fatalf("values %v", values)
	}
	if d := stamps[1].Sub(stamps[0]); d != 100*time.Microsecond {
		t.Fatalf("stamp spacing %v", d)
	}
}

func TestAccumulatorMonitorClosedEarly(t *testing.T) {
	f := NewFake()
	f.SetMonitor("pv", Sample{Stamp: time.Unix(0, 0), Value: 1})
	acc := NewAccumulator("pv", 3)
	if err := acc.Start(context.Background(), f); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, _, err := acc.Wait(context.Background()); !errors.Is(err, ErrMonitorClosed) {
		t.Fatalf("expected ErrMonitorClosed, got %v", err)
	}
	if err := acc.Start(context.Background(), f); err == nil {
		t.Fatalf("expected restart to fail")
	}
}

func TestCollectFromFakeValues(t *testing.T) {
	f := NewFake()
	f.Set("a", 1)
	f.Set("b", 2)
	stamps, values, err := Collect(context.Background(), f, []string{"a", "b"}, 5)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(values[0]) != 5 || values[1][4] != 2 || len(stamps[1]) != 5 {
		t.Fatalf("unexpected collection %v", values)
	}
}

func TestFakePutIsVisible(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.Put(ctx, "x", 4); err != nil {
		t.Fatalf("put: %v", err)
	}
	n, err := GetInt(ctx, f, "x")
	if err != nil || n != 4 {
		t.Fatalf("get: %v %v", n, err)
	}
	if _, err := f.Get(ctx, "missing"); !errors.Is(err, ErrNoValue) {
		t.Fatalf("expected ErrNoValue, got %v", err)
	}
	if len(f.Puts()) != 1 {
		t.Fatalf("expected one recorded put")
	}
}

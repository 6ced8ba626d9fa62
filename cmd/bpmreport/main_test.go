package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/results"
)

func noEnv(string) (string, bool) { return "", false }

func writeRun(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	store := results.Open(dir, logging.Discard())
	st := results.NewInitialState(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	st.MAC = "00:0d:5d:0b:01:7a"
	if err := store.WriteJSON(results.FileInitialState, st); err != nil {
		t.Fatalf("state: %v", err)
	}
	rec := results.PowerDependence{
		Header:      results.Header{TestName: "Beam_power_dependence", Frequency: 499.655},
		PowerLevels: []float64{-40, -50},
		InputPower:  []float64{-52, -62},
		XPosRaw:     [][]float64{{0.001, 0.002}, {0.3, 0.3}},
		YPosRaw:     [][]float64{{0, 0}, {0, 0}},
		XPosMean:    []float64{0.0015, 0.3},
		YPosMean:    []float64{0, 0},
		XPosStd:     []float64{0.0005, 0},
		YPosStd:     []float64{0, 0},
		Current:     []float64{1, 0.1},
		ADCSum:      []float64{4000, 400},
	}
	if err := store.WriteJSON(results.FilePowerDependence, rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	return dir
}

func TestRunRebuildsReport(t *testing.T) {
	dir := writeRun(t)
	calls := 0
	prev := latex
	latex = func(_ context.Context, gotDir, name string, _ ...string) error {
		if gotDir != dir || name != "pdflatex" {
			t.Fatalf("ran %s in %s", name, gotDir)
		}
		calls++
		return nil
	}
	defer func() { latex = prev }()

	out := &strings.Builder{}
	if err := run(context.Background(), []string{dir}, noEnv, out, &strings.Builder{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if calls != 3 {
		t.Fatalf("pdflatex ran %d times", calls)
	}
	if !strings.Contains(out.String(), "Fail") {
		t.Fatalf("a 300 um offset should fail:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "power_vs_position.png")); err != nil {
		t.Fatalf("figure: %v", err)
	}
}

func TestRunWithoutPDF(t *testing.T) {
	dir := writeRun(t)
	prev := latex
	latex = func(context.Context, string, string, ...string) error { return errors.New("should not run") }
	defer func() { latex = prev }()

	if err := run(context.Background(), []string{"--no-pdf", dir}, noEnv, &strings.Builder{}, &strings.Builder{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "BPMTestReport_00-0d-5d-0b-01-7a.tex")); err != nil {
		t.Fatalf("tex: %v", err)
	}
}

func TestRunMissingRun(t *testing.T) {
	err := run(context.Background(), []string{t.TempDir()}, noEnv, &strings.Builder{}, &strings.Builder{})
	if !errors.Is(err, results.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := run(context.Background(), nil, noEnv, &strings.Builder{}, &strings.Builder{}); err == nil {
		t.Fatalf("expected a usage error")
	}
}

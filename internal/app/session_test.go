package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/results"
	"github.com/rjboer/bpmtest/internal/sequences"
	"github.com/rjboer/bpmtest/internal/telemetry"
	"github.com/rjboer/bpmtest/internal/testsystem"
)

func simulatedBench(t *testing.T) *testsystem.System {
	t.Helper()
	sys, err := testsystem.NewSimulated(context.Background(), -20, logging.Discard())
	if err != nil {
		t.Fatalf("simulated bench: %v", err)
	}
	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func TestSessionRunsPlanAndBuildsReport(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	full := sequences.SimulatedPlan(testsystem.HardwareFrequency)
	plan := sequences.Plan{Frequency: full.Frequency, PowerDependence: full.PowerDependence, RasterScan: full.RasterScan}

	var latex []string
	hub := telemetry.NewHub(0)
	s := NewSession(simulatedBench(t), hub, Config{
		Root:    root,
		EpicsID: "SIM-01",
		Plan:    plan,
		Settle:  func(time.Duration) {},
		LaTeX: func(_ context.Context, dir, name string, args ...string) error {
			latex = append(latex, name)
			return nil
		},
		Now: func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	}, logging.Discard())
	defer s.Close()

	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	if want := results.RunDir(root, "SIMULATED", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)); s.Dir() != want {
		t.Fatalf("dir %q want %q", s.Dir(), want)
	}
	verdicts, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(latex) != 3 {
		t.Fatalf("pdflatex ran %d times", len(latex))
	}
	if len(verdicts) != 3 {
		t.Fatalf("verdicts %+v", verdicts)
	}
	for _, v := range verdicts {
		if !v.OK {
			t.Fatalf("simulated bench should pass %+v", v)
		}
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "BPMTestReport_SIMULATED.tex")); err != nil {
		t.Fatalf("tex: %v", err)
	}
	if len(hub.Summaries()) != 2 {
		t.Fatalf("progress summaries %v", hub.Summaries())
	}

	cat, err := results.OpenCatalog(ctx, root)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	defer cat.Close()
	runs, err := cat.Runs(ctx, "SIMULATED")
	if err != nil || len(runs) != 1 {
		t.Fatalf("runs %v err %v", runs, err)
	}
}

func TestSessionReportsAfterFailedSequence(t *testing.T) {
	ctx := context.Background()
	plan := sequences.Plan{
		Frequency:       testsystem.HardwareFrequency,
		PowerDependence: &sequences.PowerDependenceParams{PowerLevels: []float64{-40, -30}, Samples: 2},
	}
	s := NewSession(simulatedBench(t), nil, Config{Root: t.TempDir(), Plan: plan, NoCatalog: true, NoPDF: true, Settle: func(time.Duration) {}}, logging.Discard())
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	_, err := s.Run(ctx)
	if err == nil || !strings.Contains(err.Error(), "beam power dependence") {
		t.Fatalf("expected the sequence failure, got %v", err)
	}
	src, readErr := os.ReadFile(filepath.Join(s.Dir(), "BPMTestReport_SIMULATED.tex"))
	if readErr != nil {
		t.Fatalf("report source should still be written: %v", readErr)
	}
	if strings.Contains(string(src), `\section{Beam Power Dependence}`) {
		t.Fatalf("failed sequence should have no section")
	}
}

func TestSessionsInSameSecondGetOwnRunDirs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	sys := simulatedBench(t)
	now := func() time.Time { return time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC) }
	var dirs []string
	for i := 0; i < 2; i++ {
		s := NewSession(sys, nil, Config{Root: root, Plan: sequences.Plan{}, NoPDF: true, Now: now}, logging.Discard())
		if err := s.Init(ctx); err != nil {
			t.Fatalf("init %d: %v", i, err)
		}
		dirs = append(dirs, s.Dir())
		s.Close()
	}
	if dirs[0] == dirs[1] {
		t.Fatalf("both runs went to %q", dirs[0])
	}

	cat, err := results.OpenCatalog(ctx, root)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	defer cat.Close()
	runs, err := cat.Runs(ctx, "SIMULATED")
	if err != nil || len(runs) != 2 {
		t.Fatalf("runs %+v err %v", runs, err)
	}
	for _, r := range runs {
		names, err := cat.Records(ctx, r.ID)
		if err != nil || len(names) != 1 || names[0] != results.FileInitialState {
			t.Fatalf("run %s records %v err %v", r.ID, names, err)
		}
	}
}

func TestSessionNeedsInit(t *testing.T) {
	s := NewSession(simulatedBench(t), nil, Config{}, logging.Discard())
	if _, err := s.Run(context.Background()); err == nil {
		t.Fatalf("expected an error before Init")
	}
	if err := s.Init(context.Background()); err == nil {
		t.Fatalf("expected an error without a results root")
	}
}

func TestEnvHelpers(t *testing.T) {
	env := map[string]string{"F": "1.5", "I": "7", "B": "true", "S": "x", "BAD": "nope"}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	if EnvFloat(lookup, "F", 0) != 1.5 || EnvFloat(lookup, "BAD", 2) != 2 || EnvFloat(lookup, "MISSING", 3) != 3 {
		t.Fatalf("EnvFloat")
	}
	if EnvInt(lookup, "I", 0) != 7 || EnvInt(lookup, "BAD", 4) != 4 {
		t.Fatalf("EnvInt")
	}
	if !EnvBool(lookup, "B", false) || EnvBool(lookup, "BAD", false) {
		t.Fatalf("EnvBool")
	}
	if EnvString(lookup, "S", "") != "x" || EnvString(lookup, "MISSING", "d") != "d" {
		t.Fatalf("EnvString")
	}
}

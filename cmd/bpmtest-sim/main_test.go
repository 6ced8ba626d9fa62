package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseConfigEnvOverrides(t *testing.T) {
	env := map[string]string{"BPM_RF_LIMIT": "-30", "BPM_SETTLE": "true"}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	cfg, err := parseConfig([]string{"--history-limit", "20", "/tmp/results"}, lookup)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.root != "/tmp/results" || cfg.limit != -30 || !cfg.settle || cfg.historyLimit != 20 {
		t.Fatalf("unexpected config: %#v", cfg)
	}
	if _, err := parseConfig(nil, lookup); err == nil {
		t.Fatalf("expected an error without a results root")
	}
}

func TestRunSimulatedBench(t *testing.T) {
	root := t.TempDir()
	out := &strings.Builder{}
	lookup := func(string) (string, bool) { return "", false }
	if err := run(context.Background(), []string{"--no-pdf", root}, lookup, out, &strings.Builder{}); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	text := out.String()
	if !strings.Contains(text, "run directory: ") || !strings.Contains(text, "Beam Position Raster Scan") {
		t.Fatalf("output:\n%s", text)
	}
	matches, err := filepath.Glob(filepath.Join(root, "SIMULATED", "*", "BPMTestReport_SIMULATED.tex"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("report source %v err %v", matches, err)
	}
	if _, err := os.Stat(filepath.Join(root, "catalog.db")); err != nil {
		t.Fatalf("catalog: %v", err)
	}
}

func TestRunAbortedReturnsError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	lookup := func(string) (string, bool) { return "", false }
	logOut := &strings.Builder{}
	err := run(ctx, []string{"--no-pdf", "--no-catalog", t.TempDir()}, lookup, &strings.Builder{}, logOut)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("aborted run should fail, got %v", err)
	}
	if !strings.Contains(logOut.String(), "run aborted") {
		t.Fatalf("abort not logged:\n%s", logOut)
	}
}

func TestRunRejectsBadLogLevel(t *testing.T) {
	lookup := func(string) (string, bool) { return "", false }
	err := run(context.Background(), []string{"--log-level", "loud", t.TempDir()}, lookup, &strings.Builder{}, &strings.Builder{})
	if err == nil {
		t.Fatalf("expected a log level error")
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/rjboer/bpmtest/internal/app"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/sequences"
	"github.com/rjboer/bpmtest/internal/telemetry"
	"github.com/rjboer/bpmtest/internal/testsystem"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("bpmtest-sim: %v", err)
	}
}

type cliConfig struct {
	root         string
	frequency    float64
	limit        float64
	settle       bool
	historyLimit int
	logging      logging.Config
	noPDF        bool
	noCatalog    bool
}

func parseConfig(args []string, lookup app.Lookup) (cliConfig, error) {
	cfg := cliConfig{}
	fs := flag.NewFlagSet("bpmtest-sim", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: bpmtest-sim [flags] <results-root>\n")
		fs.PrintDefaults()
	}
	fs.Float64Var(&cfg.frequency, "frequency", app.EnvFloat(lookup, "BPM_FREQUENCY", testsystem.HardwareFrequency), "RF frequency (MHz)")
	fs.Float64Var(&cfg.limit, "rf-limit", app.EnvFloat(lookup, "BPM_RF_LIMIT", -20), "simulated RF output power limit (dBm)")
	fs.BoolVar(&cfg.settle, "settle", app.EnvBool(lookup, "BPM_SETTLE", false), "honour settling times instead of skipping them")
	fs.IntVar(&cfg.historyLimit, "history-limit", app.EnvInt(lookup, "BPM_HISTORY_LIMIT", 500), "progress events kept in memory")
	fs.StringVar(&cfg.logging.Level, "log-level", app.EnvString(lookup, "BPM_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logging.Format, "log-format", app.EnvString(lookup, "BPM_LOG_FORMAT", "text"), "log format (text|json)")
	fs.BoolVar(&cfg.noPDF, "no-pdf", app.EnvBool(lookup, "BPM_NO_PDF", false), "write the report source without running pdflatex")
	fs.BoolVar(&cfg.noCatalog, "no-catalog", app.EnvBool(lookup, "BPM_NO_CATALOG", false), "do not index the run in catalog.db")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return cliConfig{}, fmt.Errorf("want 1 argument, got %d", fs.NArg())
	}
	cfg.root = fs.Arg(0)
	return cfg, nil
}

func run(ctx context.Context, args []string, lookup app.Lookup, out, logOut io.Writer) error {
	cfg, err := parseConfig(args, lookup)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	logger, err := logging.FromConfig(cfg.logging, logOut)
	if err != nil {
		return err
	}

	sys, err := testsystem.NewSimulated(ctx, cfg.limit, logger)
	if err != nil {
		return fmt.Errorf("simulated bench: %w", err)
	}
	defer sys.Close()

	hub := telemetry.NewHub(cfg.historyLimit)
	sc := app.Config{
		Root:      cfg.root,
		EpicsID:   "SIMULATED",
		Plan:      sequences.SimulatedPlan(cfg.frequency),
		NoCatalog: cfg.noCatalog,
		NoPDF:     cfg.noPDF,
	}
	if !cfg.settle {
		sc.Settle = func(time.Duration) {}
	}
	s := app.NewSession(sys, telemetry.MultiReporter{telemetry.NewLogReporter(logger), hub}, sc, logger)
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		return err
	}
	verdicts, runErr := s.Run(ctx)

	fmt.Fprintf(out, "run directory: %s\n", s.Dir())
	for _, sum := range hub.Summaries() {
		fmt.Fprintf(out, "%-40s %d steps done=%v\n", sum.Test, sum.Steps, sum.Done)
	}
	for _, v := range verdicts {
		fmt.Fprintf(out, "%-40s %-30s %s\n", v.Test, v.Check, v.Result)
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Warn("run aborted", logging.F("dir", s.Dir()))
	}
	return runErr
}

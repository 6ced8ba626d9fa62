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
	"strings"

	"github.com/rjboer/bpmtest/internal/app"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/sequences"
	"github.com/rjboer/bpmtest/internal/telemetry"
	"github.com/rjboer/bpmtest/internal/testsystem"
)

// openSystem is replaced in tests.
var openSystem = testsystem.New

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stderr); err != nil {
		log.Fatalf("bpmtest: %v", err)
	}
}

type cliConfig struct {
	sys       testsystem.Config
	root      string
	epicsID   string
	frequency float64
	logging   logging.Config
	noPDF     bool
	noCatalog bool
}

func parseConfig(args []string, lookup app.Lookup, defaults testsystem.Config) (cliConfig, error) {
	cfg := cliConfig{sys: defaults}
	fs := flag.NewFlagSet("bpmtest", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: bpmtest [flags] <results-root> <device-id> <E|B>\n")
		fs.PrintDefaults()
	}
	fs.StringVar(&cfg.sys.RF.Address, "rf-addr", app.EnvString(lookup, "BPM_RF_ADDR", defaults.RF.Address), "RF source address")
	fs.Float64Var(&cfg.sys.RF.PowerLimit, "rf-limit", app.EnvFloat(lookup, "BPM_RF_LIMIT", defaults.RF.PowerLimit), "RF output power limit (dBm)")
	fs.StringVar(&cfg.sys.Atten.Address, "atten-addr", app.EnvString(lookup, "BPM_ATTEN_ADDR", defaults.Atten.Address), "programmable attenuator address")
	fs.StringVar(&cfg.sys.Gate.Address, "gate-addr", app.EnvString(lookup, "BPM_GATE_ADDR", defaults.Gate.Address), "gate source address")
	fs.StringVar(&cfg.sys.Trigger.Address, "trigger-addr", app.EnvString(lookup, "BPM_TRIGGER_ADDR", defaults.Trigger.Address), "trigger source address")
	fs.StringVar(&cfg.sys.RFHW, "rf-hw", app.EnvString(lookup, "BPM_RF_HW", defaults.RFHW), "RF source backend")
	fs.StringVar(&cfg.sys.AttenHW, "atten-hw", app.EnvString(lookup, "BPM_ATTEN_HW", defaults.AttenHW), "attenuator backend, empty for none")
	fs.StringVar(&cfg.sys.GateHW, "gate-hw", app.EnvString(lookup, "BPM_GATE_HW", defaults.GateHW), "gate backend, empty for none")
	fs.StringVar(&cfg.sys.TriggerHW, "trigger-hw", app.EnvString(lookup, "BPM_TRIGGER_HW", defaults.TriggerHW), "trigger backend, empty for none")
	fs.Float64Var(&cfg.frequency, "frequency", app.EnvFloat(lookup, "BPM_FREQUENCY", testsystem.HardwareFrequency), "RF frequency (MHz)")
	fs.StringVar(&cfg.logging.Level, "log-level", app.EnvString(lookup, "BPM_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	fs.StringVar(&cfg.logging.Format, "log-format", app.EnvString(lookup, "BPM_LOG_FORMAT", "text"), "log format (text|json)")
	fs.BoolVar(&cfg.noPDF, "no-pdf", app.EnvBool(lookup, "BPM_NO_PDF", false), "write the report source without running pdflatex")
	fs.BoolVar(&cfg.noCatalog, "no-catalog", app.EnvBool(lookup, "BPM_NO_CATALOG", false), "do not index the run in catalog.db")

	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return cliConfig{}, fmt.Errorf("want 3 arguments, got %d", fs.NArg())
	}
	cfg.root, cfg.epicsID = fs.Arg(0), fs.Arg(1)
	switch strings.ToUpper(fs.Arg(2)) {
	case "E":
		cfg.sys.BPMHW = testsystem.HWElectron
	case "B":
		cfg.sys.BPMHW = testsystem.HWBrilliance
	default:
		return cliConfig{}, fmt.Errorf("bpm type %q: want E or B", fs.Arg(2))
	}
	cfg.sys.BPM.EpicsID = cfg.epicsID
	return cfg, nil
}

func run(ctx context.Context, args []string, lookup app.Lookup, out io.Writer) error {
	configPath := app.EnvString(lookup, "BPM_CONFIG", "bpmtest.yaml")
	persistent, err := testsystem.LoadOrCreateConfig(configPath, testsystem.DefaultConfig())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg, err := parseConfig(args, lookup, persistent)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := testsystem.SaveConfig(configPath, cfg.sys); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	logger, err := logging.FromConfig(cfg.logging, out)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)

	sys, err := openSystem(ctx, cfg.sys, testsystem.Options{Logger: logger})
	if err != nil {
		return fmt.Errorf("open bench: %w", err)
	}
	defer func() {
		if cerr := sys.Close(); cerr != nil {
			logger.Warn("closing bench", logging.Err(cerr))
		}
	}()

	s := app.NewSession(sys, telemetry.NewLogReporter(logger), app.Config{
		Root:      cfg.root,
		EpicsID:   cfg.epicsID,
		Plan:      sequences.HardwarePlan(cfg.frequency),
		NoCatalog: cfg.noCatalog,
		NoPDF:     cfg.noPDF,
	}, logger)
	defer s.Close()
	if err := s.Init(ctx); err != nil {
		return err
	}
	verdicts, err := s.Run(ctx)
	for _, v := range verdicts {
		logger.Info("verdict", logging.F("test", v.Test), logging.F("check", v.Check), logging.F("result", v.Result))
	}
	if errors.Is(err, context.Canceled) {
		logger.Warn("run aborted", logging.F("dir", s.Dir()))
		return err
	}
	if err != nil {
		return err
	}
	logger.Info("run finished", logging.F("dir", s.Dir()))
	return nil
}

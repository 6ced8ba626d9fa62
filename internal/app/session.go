// Package app runs one complete bench session: it records the initial BPM
// state, runs the selected test sequences and builds the report.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/report"
	"github.com/rjboer/bpmtest/internal/results"
	"github.com/rjboer/bpmtest/internal/sequences"
	"github.com/rjboer/bpmtest/internal/telemetry"
	"github.com/rjboer/bpmtest/internal/testsystem"
)

// Config captures session level configuration.
type Config struct {
	// Root is the results root; runs go to <root>/<mac>/<timestamp>.
	Root    string
	EpicsID string
	Plan    sequences.Plan
	// NoCatalog skips the SQLite run index.
	NoCatalog bool
	// NoPDF stops after writing the report source.
	NoPDF bool
	// Settle, when set, replaces time.Sleep for settling waits.
	Settle func(time.Duration)
	// LaTeX runs pdflatex; nil uses report.ExecRunner.
	LaTeX report.CommandRunner
	Now   func() time.Time
}

// Session owns the results of one run on one bench.
type Session struct {
	sys      *testsystem.System
	reporter telemetry.Reporter
	cfg      Config
	log      logging.Logger

	store   *results.Store
	catalog *results.Catalog
	runner  *sequences.Runner
	state   results.InitialState
}

// NewSession prepares a session; Init opens its run directory.
func NewSession(sys *testsystem.System, reporter telemetry.Reporter, cfg Config, logger logging.Logger) *Session {
	if reporter == nil {
		reporter = telemetry.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		sys:      sys,
		reporter: reporter,
		cfg:      cfg,
		log:      logging.OrDefault(logger).With(logging.Component("session")),
	}
}

// Init creates the run directory and the catalog entry and records the
// BPM state found before anything is changed.
func (s *Session) Init(ctx context.Context) error {
	if s.cfg.Root == "" {
		return errors.New("no results root")
	}
	store, err := results.Create(s.cfg.Root, s.sys.BPM.MACAddress(), s.cfg.Now(), s.log)
	if err != nil {
		return err
	}
	s.store = store
	if !s.cfg.NoCatalog {
		if s.catalog, err = results.OpenCatalog(ctx, s.cfg.Root); err != nil {
			return err
		}
	}
	s.runner = sequences.NewRunner(s.sys, store, s.log)
	s.runner.Progress = s.reporter
	if s.cfg.Settle != nil {
		s.runner.Sleep = s.cfg.Settle
	}
	if s.state, err = s.runner.Begin(ctx, s.cfg.EpicsID, s.catalog); err != nil {
		return err
	}
	s.log.Info("session ready", logging.F("dir", store.Dir()), logging.F("run", s.state.RunID))
	return nil
}

// Dir is the run directory, empty before Init.
func (s *Session) Dir() string {
	if s.store == nil {
		return ""
	}
	return s.store.Dir()
}

// Run executes the plan and builds the report from whatever it recorded.
// A failed sequence still gets a report of the records written before it.
func (s *Session) Run(ctx context.Context) ([]report.Verdict, error) {
	if s.runner == nil {
		return nil, errors.New("session not initialised")
	}
	runErr := s.runner.Run(ctx, s.cfg.Plan)
	if runErr != nil {
		s.log.Error("run stopped", logging.Err(runErr))
	}
	if ctx.Err() != nil {
		return nil, runErr
	}
	verdicts, err := BuildReport(ctx, s.store.Dir(), s.cfg.LaTeX, !s.cfg.NoPDF, s.log)
	return verdicts, errors.Join(runErr, err)
}

// BuildReport assembles the report of dir and optionally compiles it.
func BuildReport(ctx context.Context, dir string, latex report.CommandRunner, pdf bool, logger logging.Logger) ([]report.Verdict, error) {
	doc, verdicts, err := report.Assemble(ctx, dir, logger)
	if err != nil {
		return nil, fmt.Errorf("assemble report: %w", err)
	}
	if latex != nil {
		doc.Run = latex
	}
	if !pdf {
		return verdicts, doc.WriteTex()
	}
	if err := doc.CreateReport(ctx); err != nil {
		return verdicts, err
	}
	return verdicts, nil
}

// Close closes the catalog. The bench itself belongs to the caller.
func (s *Session) Close() error {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.Close()
}

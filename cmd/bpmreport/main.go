package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rjboer/bpmtest/internal/app"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/report"
)

// latex is replaced in tests.
var latex report.CommandRunner = report.ExecRunner

func main() {
	if err := run(context.Background(), os.Args[1:], os.LookupEnv, os.Stdout, os.Stderr); err != nil {
		log.Fatalf("bpmreport: %v", err)
	}
}

func run(ctx context.Context, args []string, lookup app.Lookup, out, logOut io.Writer) error {
	var (
		noPDF  bool
		logCfg logging.Config
	)
	fs := flag.NewFlagSet("bpmreport", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: bpmreport [flags] <run-dir>\n")
		fs.PrintDefaults()
	}
	fs.BoolVar(&noPDF, "no-pdf", app.EnvBool(lookup, "BPM_NO_PDF", false), "write the report source without running pdflatex")
	fs.StringVar(&logCfg.Level, "log-level", app.EnvString(lookup, "BPM_LOG_LEVEL", "info"), "log level (debug|info|warn|error)")
	fs.StringVar(&logCfg.Format, "log-format", app.EnvString(lookup, "BPM_LOG_FORMAT", "text"), "log format (text|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("want 1 argument, got %d", fs.NArg())
	}
	logger, err := logging.FromConfig(logCfg, logOut)
	if err != nil {
		return err
	}

	verdicts, err := app.BuildReport(ctx, fs.Arg(0), latex, !noPDF, logger)
	for _, v := range verdicts {
		fmt.Fprintf(out, "%-40s %-30s %s\n", v.Test, v.Check, v.Result)
	}
	return err
}

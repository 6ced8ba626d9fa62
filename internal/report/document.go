// Package report turns a run directory of sequence records into a LaTeX
// test report with PNG figures and compiles it with pdflatex.
package report

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/results"
)

// MaxTableRows is the longest table AddTable emits before decimating.
const MaxTableRows = 20

// pdflatex needs three passes to settle the contents and figure lists.
const latexPasses = 3

var (
	// ErrShape is returned for tables whose columns or headings disagree.
	ErrShape = errors.New("table shape mismatch")
)

// CommandRunner runs an external program in dir.
type CommandRunner func(ctx context.Context, dir, name string, args ...string) error

// ExecRunner runs the command with os/exec and folds its output into the
// error on failure.
func ExecRunner(ctx context.Context, dir, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		tail := string(out)
		if len(tail) > 2048 {
			tail = tail[len(tail)-2048:]
		}
		return fmt.Errorf("%s: %w\n%s", name, err, tail)
	}
	return nil
}

var texEscaper = strings.NewReplacer(
	`\`, `\textbackslash{}`,
	`&`, `\&`,
	`%`, `\%`,
	`$`, `\$`,
	`#`, `\#`,
	`_`, `\_`,
	`{`, `\{`,
	`}`, `\}`,
	`~`, `\textasciitilde{}`,
	`^`, `\textasciicircum{}`,
)

// Escape quotes the LaTeX special characters of plain text.
func Escape(s string) string { return texEscaper.Replace(s) }

// Document accumulates the LaTeX source of one report.
type Document struct {
	dir  string
	name string
	body strings.Builder

	// Run compiles the source. Defaults to ExecRunner.
	Run CommandRunner
	log logging.Logger
}

// New starts the report of the run described by state. The source and the
// PDF are written into dir.
func New(dir string, state results.InitialState, logger logging.Logger) *Document {
	mac := results.MACDir(state.MAC)
	d := &Document{
		dir:  dir,
		name: "BPMTestReport_" + mac,
		Run:  ExecRunner,
		log:  logging.OrDefault(logger).With(logging.Component("report")),
	}
	b := &d.body
	b.WriteString("\\documentclass[a4paper,11pt]{article}\n")
	b.WriteString("\\newcommand\\tab[1][1cm]{\\hspace*{#1}}\n")
	b.WriteString("\\usepackage{fullpage}\n\\usepackage{graphicx}\n")
	b.WriteString("\\begin{document}\n")
	b.WriteString("\\noindent\n")
	b.WriteString("\\large\\textbf{Diamond Light Source Ltd} \\hfill\\large\\textbf{Date: \\today}\\\\\n")
	b.WriteString("\\normalsize Beam Diagnostics Group \\hfill\\\\\n")
	fmt.Fprintf(b, "\\section*{BPM Test Report for %s}\n", Escape(state.MAC))
	b.WriteString("This is a test report for the beam position monitor electronics used at Diamond. " +
		"Every test is recorded in its own section, together with the parameters under test " +
		"and the test method used.\\\\\n\n")
	b.WriteString("\\textbf{The controllable devices used in this test system are:}\\\\\n\n")
	fmt.Fprintf(b, "BPM is %s\\\\\n", Escape(state.BPMID))
	fmt.Fprintf(b, "RF source is %s\\\\\n", Escape(state.RFID))
	fmt.Fprintf(b, "Programmable attenuator is %s\\\\\n", Escape(state.AttenID))
	fmt.Fprintf(b, "Gate source is %s\\\\\n", Escape(state.GateID))
	fmt.Fprintf(b, "Trigger source is %s\\\\\n", Escape(state.TriggerID))
	fmt.Fprintf(b, "Run %s started %s\\\\\n", Escape(state.RunID), Escape(state.Created.Format("2006-01-02 15:04:05")))
	b.WriteString("\\clearpage\n\\tableofcontents\n\\listoffigures\n")
	return d
}

// Name is the base name of the source and PDF files.
func (d *Document) Name() string { return d.name }

// TexPath is where CreateReport writes the source.
func (d *Document) TexPath() string { return filepath.Join(d.dir, d.name+".tex") }

// PDFPath is where pdflatex leaves the report.
func (d *Document) PDFPath() string { return filepath.Join(d.dir, d.name+".pdf") }

// SetupTest opens the section of one test. intro is LaTeX source; devices
// and params are plain text lines.
func (d *Document) SetupTest(name, intro string, devices, params []string) {
	b := &d.body
	fmt.Fprintf(b, "\\clearpage\n\\section{%s}\n", Escape(name))
	b.WriteString(intro)
	b.WriteString("\\\\\n")
	if len(devices) > 0 {
		b.WriteString("\\\\\n\\textbf{The devices used in this test are:}\\\\\n\n")
		for _, l := range devices {
			fmt.Fprintf(b, "%s\\\\\n", Escape(l))
		}
	}
	if len(params) > 0 {
		b.WriteString("\\\\\n\\textbf{The parameters used in this test are:}\\\\\n\n")
		for _, l := range params {
			fmt.Fprintf(b, "%s\\\\\n", Escape(l))
		}
	}
}

// AddText appends a paragraph of plain text.
func (d *Document) AddText(text string) {
	fmt.Fprintf(&d.body, "\n%s\\\\\n", Escape(text))
}

// AddFigure includes an image, given relative to the report directory,
// scaled to widthFrac of the text width.
func (d *Document) AddFigure(image, caption string, widthFrac float64) {
	b := &d.body
	b.WriteString("\\begin{figure}[htbp]\n\\centering\n")
	fmt.Fprintf(b, "\\includegraphics[width=%s\\textwidth]{%s}\n", strconv.FormatFloat(widthFrac, 'f', -1, 64), filepath.ToSlash(image))
	fmt.Fprintf(b, "\\caption{%s}\n\\end{figure}\n", Escape(caption))
}

// Decimate keeps at most size entries: the first, every step-th entry in
// between and the last, where step is ceil(len/size).
func Decimate(n, size int) []int {
	idx := make([]int, 0, min(n, size+1))
	if n <= size {
		for i := 0; i < n; i++ {
			idx = append(idx, i)
		}
		return idx
	}
	step := int(math.Ceil(float64(n) / float64(size)))
	idx = append(idx, 0)
	for i := step; i < n-step; i += step {
		idx = append(idx, i)
	}
	return append(idx, n-1)
}

func formatCell(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

// AddTable appends a table of columns, rounded to two decimals and
// decimated to MaxTableRows rows. Every heading row needs one entry per
// column.
func (d *Document) AddTable(colSpec string, columns [][]float64, headings [][]string, caption string) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %q: no columns: %w", caption, ErrShape)
	}
	n := len(columns[0])
	for i, c := range columns {
		if len(c) != n {
			return fmt.Errorf("table %q: column %d has %d rows, want %d: %w", caption, i, len(c), n, ErrShape)
		}
	}
	for i, h := range headings {
		if len(h) != len(columns) {
			return fmt.Errorf("table %q: heading row %d has %d cells, want %d: %w", caption, i, len(h), len(columns), ErrShape)
		}
	}

	b := &d.body
	b.WriteString("\\begin{figure}[htbp]\n\\centering\n")
	fmt.Fprintf(b, "\\caption{%s}\n", Escape(caption))
	fmt.Fprintf(b, "\\begin{tabular}{%s}\n\\hline\n", colSpec)
	for _, h := range headings {
		cells := make([]string, len(h))
		for i, c := range h {
			cells[i] = Escape(c)
		}
		fmt.Fprintf(b, "%s \\\\\n", strings.Join(cells, " & "))
	}
	b.WriteString("\\hline\n")
	for _, r := range Decimate(n, MaxTableRows) {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = formatCell(c[r])
		}
		fmt.Fprintf(b, "%s \\\\\n", strings.Join(cells, " & "))
	}
	b.WriteString("\\hline\n\\end{tabular}\n\\end{figure}\n")
	return nil
}

// Source returns the complete LaTeX document.
func (d *Document) Source() string {
	return d.body.String() + "\\end{document}\n"
}

// WriteTex writes the source next to the figures.
func (d *Document) WriteTex() error {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("report dir: %w", err)
	}
	if err := os.WriteFile(d.TexPath(), []byte(d.Source()), 0o644); err != nil {
		return fmt.Errorf("write tex: %w", err)
	}
	return nil
}

// CreateReport writes the source and compiles it.
func (d *Document) CreateReport(ctx context.Context) error {
	if err := d.WriteTex(); err != nil {
		return err
	}
	run := d.Run
	if run == nil {
		run = ExecRunner
	}
	for pass := 1; pass <= latexPasses; pass++ {
		d.log.Debug("pdflatex", logging.F("pass", pass), logging.F("file", d.name+".tex"))
		if err := run(ctx, d.dir, "pdflatex", "-interaction=nonstopmode", "-halt-on-error", d.name+".tex"); err != nil {
			return fmt.Errorf("pdflatex pass %d: %w", pass, err)
		}
	}
	d.log.Info("report created", logging.F("pdf", d.PDFPath()))
	return nil
}

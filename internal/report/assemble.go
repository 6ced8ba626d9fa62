package report

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rjboer/bpmtest/internal/analysis"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/plot"
	"github.com/rjboer/bpmtest/internal/results"
)

// ErrBadDSC is returned for a DSC code the report cannot name.
var ErrBadDSC = errors.New("unknown DSC mode")

// DSCName decodes the DSC code stored in a record.
func DSCName(m bpm.DSCMode) (string, error) {
	switch m {
	case bpm.DSCFixed, bpm.DSCUnity, bpm.DSCAutomatic:
		return m.String(), nil
	}
	return "", fmt.Errorf("dsc %d: %w", int(m), ErrBadDSC)
}

// Verdict is the outcome of one pass/fail check.
type Verdict struct {
	Test   string
	Check  string
	Result string
	OK     bool
}

const figureWidth = 0.8

const (
	introADCBitCheck = "This test checks that every bit of every ADC toggles. A signal well inside " +
		"the ADC range is applied, the raw samples are captured and each bit of each sample is " +
		"inspected. A working bit is set in about half of the samples, so its standard deviation " +
		"is close to 0.5. A bit that never changes has a standard deviation of zero and is " +
		"reported as missing."
	introADCIntAttenSweep = "This test steps the internal attenuator of the BPM at a fixed RF level and " +
		"captures the raw ADC data at each setting. The mean and spread of the counts show that " +
		"the attenuator steps are consistent and that the ADCs stay inside their range."
	introIntAttenSweep = "This test lowers the RF level with the external attenuator while raising " +
		"the gain inside the BPM by the same amount. The button signals should not change, so " +
		"each channel normalised to the first step has to stay close to one."
	introPowerDependence = "This test changes the power of the RF signal going into the BPM while " +
		"keeping the beam centred. The measured position should not depend on the input power."
	introFixedFillPattern = "This test changes the duty cycle of the RF gate while keeping the RF " +
		"amplitude fixed. This is equivalent to keeping the bunch charge constant and changing " +
		"the number of bunches in the train. The position should not move."
	introScaledFillPattern = "This test changes the duty cycle of the RF gate and adds the duty cycle " +
		"loss in dB to the programmable attenuator, so the signal reaching the BPM drops by twice " +
		"the gating loss as the train gets shorter. The position should not move."
	introRasterScan = "This test moves the simulated beam over an equidistant grid by unbalancing " +
		"the four attenuator channels. Every measured position is compared with the position " +
		"predicted from the channel powers."
	introAttenPermutation = "This test sets every combination of the four attenuator channels over a " +
		"range of levels and compares the measured position with the predicted one."
	introNoise = "This test records the slow acquisition positions with the RF off, as a baseline, " +
		"and then at several RF levels. The spectra show the noise of the position readout."
)

var (
	headingsPower = [][]string{
		{"Input Power", "mean X Position", "mean Y Position", "Std X", "Std Y"},
		{"(dBm)", "(um)", "(um)", "(um)", "(um)"},
	}
	headingsDuty = [][]string{
		{"Duty Cycle", "mean X Position", "mean Y Position", "Std X", "Std Y"},
		{"(0-1)", "(um)", "(um)", "(um)", "(um)"},
	}
)

type assembler struct {
	dir      string
	store    *results.Store
	doc      *Document
	spec     bpm.PerformanceSpec
	verdicts []Verdict
	log      logging.Logger
}

// withSpec adds the specification curve c to chart as a limit line.
// Runs recorded without a specification leave the chart untouched.
func withSpec(chart plot.Chart, label string, c bpm.Curve) plot.Chart {
	if len(c.X) == 0 || len(c.X) != len(c.Y) {
		return chart
	}
	chart.Series = append(chart.Series, plot.Series{Label: label, X: c.X, Y: c.Y, Style: plot.Line, Color: plot.PaletteColor(3)})
	return chart
}

type section struct {
	file  string
	build func(*assembler) error
}

var sections = []section{
	{results.FileADCBitCheck, (*assembler).adcBitCheck},
	{results.FileADCIntAttenSweep, (*assembler).adcIntAttenSweep},
	{results.FileIntAttenSweep, (*assembler).intAttenSweep},
	{results.FilePowerDependence, (*assembler).powerDependence},
	{results.FileFixedFillPattern, func(a *assembler) error { return a.fillPattern(false) }},
	{results.FileScaledFillPattern, func(a *assembler) error { return a.fillPattern(true) }},
	{results.FileRasterScan, (*assembler).rasterScan},
	{results.FileAttenPermutation, (*assembler).attenPermutation},
	{results.FileNoise, (*assembler).noise},
}

// Assemble builds the report of the run in dir. Every known record found
// gets a section with its figures, rendered as PNG files into dir, and its
// pass/fail checks. Missing records are skipped. The returned document
// still has to be compiled with CreateReport.
func Assemble(ctx context.Context, dir string, logger logging.Logger) (*Document, []Verdict, error) {
	log := logging.OrDefault(logger).With(logging.Component("report"))
	store := results.Open(dir, logger)
	var state results.InitialState
	if err := store.ReadJSON(results.FileInitialState, &state); err != nil {
		return nil, nil, err
	}
	a := &assembler{dir: dir, store: store, doc: New(dir, state, logger), spec: state.Spec, log: log}
	a.doc.AddText("BPM internal state before the run: " + stateLine(state.InternalState))

	for _, s := range sections {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		if !store.Exists(s.file) {
			log.Debug("record absent", logging.F("file", s.file))
			continue
		}
		if err := s.build(a); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", s.file, err)
		}
		log.Info("section added", logging.F("file", s.file))
	}
	a.summary()
	return a.doc, a.verdicts, nil
}

func stateLine(s bpm.InternalState) string {
	return fmt.Sprintf("AGC %s, switching %s, DSC %s, attenuation %g dB", s.AGC, s.Switches, s.DSC, s.Attenuation)
}

func (a *assembler) summary() {
	if len(a.verdicts) == 0 {
		return
	}
	lines := make([]string, len(a.verdicts))
	for i, v := range a.verdicts {
		lines[i] = fmt.Sprintf("%s, %s: %s", v.Test, v.Check, v.Result)
	}
	a.doc.SetupTest("Summary", "Outcome of every pass/fail check of this run.", nil, lines)
}

func (a *assembler) check(test, name, result string, ok bool) {
	a.verdicts = append(a.verdicts, Verdict{Test: test, Check: name, Result: result, OK: ok})
	a.doc.AddText(fmt.Sprintf("%s: %s", name, result))
}

// figure renders c into dir and includes it. Charts without data are
// left out of the report.
func (a *assembler) figure(name string, c plot.Chart, caption string) error {
	if err := c.Save(filepath.Join(a.dir, name)); err != nil {
		if errors.Is(err, plot.ErrNoData) {
			a.log.Warn("figure skipped", logging.F("figure", name), logging.Err(err))
			return nil
		}
		return fmt.Errorf("figure %s: %w", name, err)
	}
	a.doc.AddFigure(name, caption, figureWidth)
	return nil
}

func devices(h results.Header) []string {
	out := []string{"BPM is " + h.BPMID, "RF source is " + h.RFID}
	if h.AttenID != "" {
		out = append(out, "Programmable attenuator is "+h.AttenID)
	}
	if h.GateID != "" {
		out = append(out, "Gate source is "+h.GateID)
	}
	return out
}

func headerParams(h results.Header) ([]string, error) {
	dsc, err := DSCName(h.DSC)
	if err != nil {
		return nil, err
	}
	return []string{
		"AGC " + h.AGC.String(),
		"Switching " + h.Switching.String(),
		"DSC " + dsc,
		fmt.Sprintf("BPM attenuation: %gdB", h.Attenuation),
		fmt.Sprintf("Frequency: %gMHz", h.Frequency),
		fmt.Sprintf("Settling time: %gs", h.SettlingTime),
	}, nil
}

func (a *assembler) setup(title, intro string, h results.Header, extra ...string) error {
	params, err := headerParams(h)
	if err != nil {
		return err
	}
	a.doc.SetupTest(title, intro, devices(h), append(params, extra...))
	return nil
}

func um(mm []float64) []float64 { return analysis.Scale(mm, 1e3) }

func index(n int) []float64 { return analysis.Linspace(1, float64(n), n) }

func (a *assembler) adcBitCheck() error {
	const title = "ADC Bit Check"
	var rec results.ADCBitCheck
	if err := a.store.ReadJSON(results.FileADCBitCheck, &rec); err != nil {
		return err
	}
	if err := a.setup(title, introADCBitCheck, rec.Header,
		fmt.Sprintf("ADC bits: %d", rec.NBits),
		fmt.Sprintf("Number of ADCs: %d", rec.NADC)); err != nil {
		return err
	}

	raw := plot.Chart{Title: "Raw ADC data", XLabel: "Time (s)", YLabel: "ADC counts"}
	for i, ch := range rec.Data {
		raw.Series = append(raw.Series, plot.Series{Label: fmt.Sprintf("ADC %d", i+1), X: rec.Times, Y: ch})
	}
	if err := a.figure("ADC_data.png", raw, "Raw data captured from every ADC"); err != nil {
		return err
	}
	for i, std := range rec.DataStd {
		c := plot.Chart{
			Title:  fmt.Sprintf("ADC %d bit check", i+1),
			XLabel: "Bit",
			YLabel: "Standard deviation",
			YRange: &[2]float64{0, 1},
			Series: []plot.Series{{X: index(len(std)), Y: std, Style: plot.Bars}},
		}
		name := fmt.Sprintf("ADC_%d_bit_check.png", i+1)
		if err := a.figure(name, c, fmt.Sprintf("Standard deviation of every bit of ADC %d", i+1)); err != nil {
			return err
		}
		if missing := analysis.MissingBits(std); len(missing) > 0 {
			a.doc.AddText(fmt.Sprintf("ADC %d missing bits: %v", i+1, missing))
		}
	}
	v, ok := analysis.ADCBitTest(rec.Data, rec.NBits, analysis.ADCBitLimit)
	a.check(title, "bit toggling", v, ok)
	return nil
}

func (a *assembler) adcIntAttenSweep() error {
	const title = "ADC Internal Attenuator Sweep"
	var rec results.ADCIntAttenSweep
	if err := a.store.ReadJSON(results.FileADCIntAttenSweep, &rec); err != nil {
		return err
	}
	if err := a.setup(title, introADCIntAttenSweep, rec.Header,
		fmt.Sprintf("Output Power: %gdBm", rec.OutputPower),
		fmt.Sprintf("Attenuation levels: %vdB", rec.Attenuation)); err != nil {
		return err
	}

	counts := plot.Chart{Title: "ADC counts vs internal attenuation", XLabel: "Internal attenuation (dB)", YLabel: "Mean ADC counts"}
	for adc := 0; adc < rec.NADC; adc++ {
		means := make([]float64, len(rec.Data))
		stds := make([]float64, len(rec.Data))
		for l, level := range rec.Data {
			if adc < len(level) {
				means[l], stds[l] = analysis.MeanStd(level[adc])
			}
		}
		counts.Series = append(counts.Series, plot.Series{Label: fmt.Sprintf("ADC %d", adc+1), X: rec.Attenuation, Y: means, Err: stds})
	}
	if err := a.figure("ADC_int_atten_sweep.png", counts, "Mean and spread of the ADC counts at every internal attenuation"); err != nil {
		return err
	}
	power := plot.Chart{
		Title:  "Input power vs internal attenuation",
		XLabel: "Internal attenuation (dB)",
		YLabel: "BPM input power (dBm)",
		Series: []plot.Series{{X: rec.Attenuation, Y: rec.BPMInputPower, Style: plot.Circles}},
	}
	return a.figure("ADC_int_atten_input_power.png", power, "Input power reported by the BPM")
}

func (a *assembler) intAttenSweep() error {
	const title = "Internal Attenuator Sweep"
	var rec results.IntAttenSweep
	if err := a.store.ReadJSON(results.FileIntAttenSweep, &rec); err != nil {
		return err
	}
	if err := a.setup(title, introIntAttenSweep, rec.Header,
		fmt.Sprintf("Output power levels: %vdBm", rec.OutputPower)); err != nil {
		return err
	}

	means := make([][4]float64, len(rec.Data))
	cols := [][]float64{rec.OutputPower, rec.BPMInputPower, nil, nil, nil, nil}
	for s, set := range rec.Data {
		for ch, name := range []string{"A", "B", "C", "D"} {
			means[s][ch], _ = analysis.MeanStd(set[name].Data)
			cols[2+ch] = append(cols[2+ch], means[s][ch])
		}
	}
	if len(rec.OutputPower) == len(rec.Data) && len(rec.BPMInputPower) == len(rec.Data) {
		err := a.doc.AddTable("|c|c|c|c|c|c|", cols, [][]string{
			{"Output Power", "Input Power", "A", "B", "C", "D"},
			{"(dBm)", "(dBm)", "(counts)", "(counts)", "(counts)", "(counts)"},
		}, "Mean button signal at every step")
		if err != nil {
			return err
		}
	}

	c := plot.Chart{Title: "Normalised button signals", XLabel: "Output power (dBm)", YLabel: "Signal / first step"}
	for ch, name := range []string{"A", "B", "C", "D"} {
		norm := make([]float64, len(means))
		for s := range means {
			norm[s] = means[s][ch] / means[0][ch]
		}
		c.Series = append(c.Series, plot.Series{Label: name, X: rec.OutputPower, Y: norm, Style: plot.Circles})
	}
	if err := a.figure("int_atten_sweep.png", c, "Button signals normalised to the first step"); err != nil {
		return err
	}
	v, ok := analysis.InternalAttenuator(means, analysis.InternalAttenuatorLimit)
	a.check(title, "signal constant within 10%", v, ok)
	return nil
}

func (a *assembler) positionTable(first []float64, xMean, yMean, xStd, yStd []float64, headings [][]string, caption string) error {
	return a.doc.AddTable("|c|c|c|c|c|", [][]float64{first, um(xMean), um(yMean), um(xStd), um(yStd)}, headings, caption)
}

func positionChart(title, xlabel string, x, xMean, yMean, xStd, yStd []float64) plot.Chart {
	return plot.Chart{
		Title:  title,
		XLabel: xlabel,
		YLabel: "Position (um)",
		Series: []plot.Series{
			{Label: "X", X: x, Y: um(xMean), Err: um(xStd), Style: plot.Circles},
			{Label: "Y", X: x, Y: um(yMean), Err: um(yStd), Style: plot.Crosses},
		},
	}
}

func (a *assembler) powerDependence() error {
	const title = "Beam Power Dependence"
	var rec results.PowerDependence
	if err := a.store.ReadJSON(results.FilePowerDependence, &rec); err != nil {
		return err
	}
	if err := a.setup(title, introPowerDependence, rec.Header,
		fmt.Sprintf("Power levels used: %vdBm", rec.PowerLevels)); err != nil {
		return err
	}

	if err := a.positionTable(rec.InputPower, rec.XPosMean, rec.YPosMean, rec.XPosStd, rec.YPosStd,
		headingsPower, "Beam Power Dependence Results"); err != nil {
		return err
	}
	pos := positionChart("Position vs input power", "Input power (dBm)", rec.InputPower, rec.XPosMean, rec.YPosMean, rec.XPosStd, rec.YPosStd)
	pos = withSpec(pos, "X spec", a.spec.PowerDependenceX)
	if err := a.figure("power_vs_position.png", pos, "Mean position at every input power"); err != nil {
		return err
	}
	cur := plot.Chart{
		Title:  "Beam current vs input power",
		XLabel: "Input power (dBm)",
		YLabel: "Beam current (mA)",
		Series: []plot.Series{{X: rec.InputPower, Y: rec.Current, Style: plot.Circles}},
	}
	if err := a.figure("power_vs_current.png", cur, "Beam current reported at every input power"); err != nil {
		return err
	}
	sum := plot.Chart{
		Title:  "ADC sum vs input power",
		XLabel: "Input power (dBm)",
		YLabel: "ADC sum (counts)",
		Series: []plot.Series{{X: rec.InputPower, Y: rec.ADCSum, Style: plot.Circles}},
	}
	if err := a.figure("power_vs_ADC_sum.png", sum, "Sum of the button signals at every input power"); err != nil {
		return err
	}
	v, ok := analysis.PowerDependence(rec.XPosRaw, rec.YPosRaw, analysis.PowerDependenceLimit)
	a.check(title, "position within 100 um", v, ok)
	return nil
}

func (a *assembler) fillPattern(scaled bool) error {
	title, intro, file, prefix := "Fixed Voltage Amplitude Fill Pattern", introFixedFillPattern, results.FileFixedFillPattern, "fixed"
	caption := "Changing gate duty cycle, with fixed RF amplitude"
	if scaled {
		title, intro, file, prefix = "Scaled Voltage Amplitude Fill Pattern", introScaledFillPattern, results.FileScaledFillPattern, "scaled"
		caption = "Changing gate duty cycle, with scaled RF amplitude"
	}
	var rec results.FillPattern
	if err := a.store.ReadJSON(file, &rec); err != nil {
		return err
	}
	power := fmt.Sprintf("Maximum Power: %gdBm", rec.MaxPower)
	if !scaled {
		power = fmt.Sprintf("Output Power: %gdBm", rec.MaxPower)
	}
	if err := a.setup(title, intro, rec.Header, power,
		fmt.Sprintf("Pulse Period: %gus", rec.PulsePeriod),
		fmt.Sprintf("Duty cycles: %v", rec.DutyCycles)); err != nil {
		return err
	}

	if err := a.positionTable(rec.DutyCycles, rec.XPosMean, rec.YPosMean, rec.XPosStd, rec.YPosStd, headingsDuty, caption); err != nil {
		return err
	}
	pos := positionChart("Position vs duty cycle", "Duty cycle", rec.DutyCycles, rec.XPosMean, rec.YPosMean, rec.XPosStd, rec.YPosStd)
	if err := a.figure(prefix+"_fill_pattern_position.png", pos, caption); err != nil {
		return err
	}
	in := plot.Chart{
		Title:  "Input power vs duty cycle",
		XLabel: "Duty cycle",
		YLabel: "Power (dBm)",
		Series: []plot.Series{
			{Label: "BPM input", X: rec.DutyCycles, Y: rec.InputPower, Style: plot.Circles},
			{Label: "RF output", X: rec.DutyCycles, Y: rec.OutputPower, Style: plot.Crosses},
		},
	}
	if err := a.figure(prefix+"_fill_pattern_power.png", in, "Input power reported by the BPM at every duty cycle"); err != nil {
		return err
	}
	if scaled && len(rec.Attenuation) == len(rec.DutyCycles) {
		att := plot.Chart{
			Title:  "Attenuation vs duty cycle",
			XLabel: "Duty cycle",
			YLabel: "Attenuation (dB)",
			Series: []plot.Series{{X: rec.DutyCycles, Y: rec.Attenuation, Style: plot.Circles}},
		}
		if err := a.figure("scaled_fill_pattern_attenuation.png", att, "External attenuation added for the duty cycle"); err != nil {
			return err
		}
	}
	v, ok := analysis.PowerDependence(rec.XPosRaw, rec.YPosRaw, analysis.PowerDependenceLimit)
	a.check(title, "position within 100 um", v, ok)
	return nil
}

func positionScatter(title string, mx, my, px, py []float64) plot.Chart {
	return plot.Chart{
		Title:  title,
		XLabel: "X position (mm)",
		YLabel: "Y position (mm)",
		Series: []plot.Series{
			{Label: "measured", X: mx, Y: my, Style: plot.Circles},
			{Label: "predicted", X: px, Y: py, Style: plot.Crosses},
		},
	}
}

func (a *assembler) rasterScan() error {
	const title = "Beam Position Raster Scan"
	var rec results.RasterScan
	if err := a.store.ReadJSON(results.FileRasterScan, &rec); err != nil {
		return err
	}
	if err := a.setup(title, introRasterScan, rec.Header,
		fmt.Sprintf("Nominal attenuation: %gdB", rec.NominalAttenuation),
		fmt.Sprintf("Grid: %d x %d points", rec.XPoints, rec.YPoints),
		fmt.Sprintf("Samples per point: %d", rec.Samples)); err != nil {
		return err
	}
	c := positionScatter("Raster scan", rec.MeasuredX, rec.MeasuredY, rec.PredictedX, rec.PredictedY)
	if err := a.figure("raster_scan.png", c, "Measured and predicted positions of the raster scan"); err != nil {
		return err
	}
	v, ok, _ := analysis.RasterScan(rec.MeasuredX, rec.MeasuredY, rec.PredictedX, rec.PredictedY, rec.Samples, analysis.RasterScanLimit)
	a.check(title, "positions within 0.05 mm", v, ok)
	v, ok, _ = analysis.CentreOffset(rec.MeasuredX, rec.MeasuredY, rec.PredictedX, rec.PredictedY, rec.Samples, analysis.CentreOffsetLimit)
	a.check(title, "centre within 0.02 mm", v, ok)
	return nil
}

func (a *assembler) attenPermutation() error {
	const title = "Beam Position Attenuation Permutation"
	var rec results.AttenPermutation
	if err := a.store.ReadJSON(results.FileAttenPermutation, &rec); err != nil {
		return err
	}
	if err := a.setup(title, introAttenPermutation, rec.Header,
		fmt.Sprintf("RF power: %gdBm", rec.RFPower),
		fmt.Sprintf("Attenuator range: %g to %gdB in %d steps", rec.AttenMin, rec.AttenMax, rec.AttenSteps),
		fmt.Sprintf("Combinations: %d", len(rec.Attenuations))); err != nil {
		return err
	}
	c := positionScatter("Attenuation permutation", rec.MeasuredX, rec.MeasuredY, rec.PredictedX, rec.PredictedY)
	if err := a.figure("attenuation_permutation.png", c, "Measured and predicted positions of every attenuator combination"); err != nil {
		return err
	}
	v, ok, _ := analysis.RasterScan(rec.MeasuredX, rec.MeasuredY, rec.PredictedX, rec.PredictedY, 1, analysis.RasterScanLimit)
	a.check(title, "positions within 0.05 mm", v, ok)
	return nil
}

func (a *assembler) noise() error {
	const title = "Noise"
	var rec results.Noise
	if err := a.store.ReadJSON(results.FileNoise, &rec); err != nil {
		return err
	}
	if err := a.setup(title, introNoise, rec.Header,
		fmt.Sprintf("Power levels used: %vdBm", rec.PowerLevels)); err != nil {
		return err
	}

	base := plot.Chart{Title: "Baseline noise spectrum", XLabel: "Frequency (Hz)", YLabel: "Amplitude (mm)"}
	for _, s := range []struct {
		label string
		t, v  []float64
	}{{"X", rec.XTimeBaseline, rec.XPosBaseline}, {"Y", rec.YTimeBaseline, rec.YPosBaseline}} {
		f, m, err := analysis.NoiseSpectrum(s.t, s.v)
		if err != nil {
			a.log.Warn("baseline spectrum skipped", logging.F("axis", s.label), logging.Err(err))
			continue
		}
		base.Series = append(base.Series, plot.Series{Label: s.label, X: f, Y: m})
	}
	if err := a.figure("baseline_noise_spectrum.png", base, "Position noise spectrum with the RF off"); err != nil {
		return err
	}

	spectra := plot.Chart{Title: "X noise spectrum", XLabel: "Frequency (Hz)", YLabel: "Amplitude (mm)"}
	for i := range rec.XPos {
		if i >= len(rec.XTime) || i >= len(rec.OutputPower) {
			break
		}
		f, m, err := analysis.NoiseSpectrum(rec.XTime[i], rec.XPos[i])
		if err != nil {
			a.log.Warn("spectrum skipped", logging.F("level", rec.OutputPower[i]), logging.Err(err))
			continue
		}
		spectra.Series = append(spectra.Series, plot.Series{Label: fmt.Sprintf("%g dBm", rec.OutputPower[i]), X: f, Y: m})
	}
	if err := a.figure("noise_spectrum_x.png", spectra, "X position noise spectrum at every RF level"); err != nil {
		return err
	}

	xMean, xStd := analysis.StatDataset(rec.XPos)
	yMean, yStd := analysis.StatDataset(rec.YPos)
	if len(rec.InputPower) != len(xMean) || len(xMean) != len(yMean) {
		return nil
	}
	if err := a.positionTable(rec.InputPower, xMean, yMean, xStd, yStd, headingsPower, "Position noise at every input power"); err != nil {
		return err
	}
	pos := positionChart("Position noise vs input power", "Input power (dBm)", rec.InputPower, xMean, yMean, xStd, yStd)
	pos = withSpec(pos, "10 kHz spec", a.spec.Noise10kHz)
	return a.figure("noise_position_vs_power.png", pos, "Mean and spread of the position at every input power")
}

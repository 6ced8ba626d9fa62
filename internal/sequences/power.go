package sequences

import (
	"context"
	"fmt"

	"github.com/rjboer/bpmtest/internal/analysis"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/results"
)

// PowerDependenceParams configures PowerDependence.
type PowerDependenceParams struct {
	Frequency   float64
	PowerLevels []float64
	// Samples is the number of positions read at each level.
	Samples  int
	Settling float64
}

// DefaultPowerDependenceParams ramps from -10 to -85 dBm in 5 dB steps.
func DefaultPowerDependenceParams() PowerDependenceParams {
	return PowerDependenceParams{
		PowerLevels: analysis.Arange(-10, -86, -5),
		Samples:     10,
		Settling:    1,
	}
}

// PowerDependence steps the BPM input power down through PowerLevels and
// records how the reported position, current and ADC sum follow it.
func (r *Runner) PowerDependence(ctx context.Context, p PowerDependenceParams) (rec results.PowerDependence, err error) {
	if len(p.PowerLevels) == 0 {
		return rec, fmt.Errorf("beam power dependence: no power levels: %w", bpm.ErrOutOfRange)
	}
	name, _, err := r.start(ctx, "Beam_power_dependence", p.Frequency, p.PowerLevels[0], bpm.DefaultState())
	if err != nil {
		return rec, err
	}
	defer r.shutdown(ctx, false)
	if rec.Header, err = r.header(ctx, name, p.Frequency, p.Settling, false); err != nil {
		return rec, err
	}

	if err := r.rfOn(ctx); err != nil {
		return rec, err
	}
	if err := r.settle(ctx, p.Settling); err != nil {
		return rec, err
	}
	for i, level := range p.PowerLevels {
		actual, err := r.Sys.SetInputPower(ctx, level)
		if err != nil {
			return rec, fmt.Errorf("%s: %v dBm: %w", name, level, err)
		}
		if err := r.settle(ctx, p.Settling); err != nil {
			return rec, err
		}
		rd, err := r.read(ctx, p.Samples)
		if err != nil {
			return rec, err
		}
		rec.OutputPower = append(rec.OutputPower, actual)
		rec.InputPower = append(rec.InputPower, rd.input)
		rec.Current = append(rec.Current, rd.current)
		rec.XPosRaw = append(rec.XPosRaw, rd.xs)
		rec.YPosRaw = append(rec.YPosRaw, rd.ys)
		rec.ADCSum = append(rec.ADCSum, rd.adcSum)
		r.report(name, i+1, len(p.PowerLevels), map[string]any{"output_dbm": actual, "input_dbm": rd.input})
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}

	rec.PowerLevels = p.PowerLevels
	rec.XPosMean, rec.XPosStd = analysis.StatDataset(rec.XPosRaw)
	rec.YPosMean, rec.YPosStd = analysis.StatDataset(rec.YPosRaw)
	if err := r.Store.WriteJSON(results.FilePowerDependence, rec); err != nil {
		return rec, err
	}
	r.done(name, len(p.PowerLevels))
	return rec, nil
}

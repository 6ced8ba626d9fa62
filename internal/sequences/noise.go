package sequences

import (
	"context"
	"fmt"

	"github.com/rjboer/bpmtest/internal/analysis"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/results"
)

// NoiseParams configures Noise.
type NoiseParams struct {
	Frequency   float64
	PowerLevels []float64
	// Samples is the slow acquisition length read per level.
	Samples  int
	Settling float64
}

// DefaultNoiseParams reads 1024 SA samples at four levels.
func DefaultNoiseParams() NoiseParams {
	return NoiseParams{PowerLevels: analysis.Arange(-10, -71, -20), Samples: 1024, Settling: 1}
}

// Noise records slow acquisition positions with the RF off, as a baseline,
// and then at every power level, for the noise spectra of the report.
func (r *Runner) Noise(ctx context.Context, p NoiseParams) (rec results.Noise, err error) {
	if len(p.PowerLevels) == 0 {
		return rec, fmt.Errorf("noise: no power levels: %w", bpm.ErrOutOfRange)
	}
	name, _, err := r.start(ctx, "Noise_test", p.Frequency, p.PowerLevels[0], bpm.DefaultState())
	if err != nil {
		return rec, err
	}
	defer r.shutdown(ctx, false)
	if rec.Header, err = r.header(ctx, name, p.Frequency, p.Settling, false); err != nil {
		return rec, err
	}

	sa := func() (bpm.Series, bpm.Series, error) {
		x, err := r.Sys.BPM.XSAData(ctx, p.Samples)
		if err != nil {
			return x, bpm.Series{}, fmt.Errorf("x sa data: %w", err)
		}
		y, err := r.Sys.BPM.YSAData(ctx, p.Samples)
		if err != nil {
			return x, y, fmt.Errorf("y sa data: %w", err)
		}
		return x, y, nil
	}

	x, y, err := sa()
	if err != nil {
		return rec, err
	}
	rec.XTimeBaseline, rec.XPosBaseline = x.Times, x.Values
	rec.YTimeBaseline, rec.YPosBaseline = y.Times, y.Values

	if err := r.rfOn(ctx); err != nil {
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
		x, y, err := sa()
		if err != nil {
			return rec, err
		}
		in, err := r.Sys.BPM.InputPower(ctx)
		if err != nil {
			return rec, fmt.Errorf("input power: %w", err)
		}
		rec.XTime = append(rec.XTime, x.Times)
		rec.XPos = append(rec.XPos, x.Values)
		rec.YTime = append(rec.YTime, y.Times)
		rec.YPos = append(rec.YPos, y.Values)
		rec.OutputPower = append(rec.OutputPower, actual)
		rec.InputPower = append(rec.InputPower, in)
		r.report(name, i+1, len(p.PowerLevels), map[string]any{"output_dbm": actual, "input_dbm": in})
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}

	rec.PowerLevels = p.PowerLevels
	if err := r.Store.WriteJSON(results.FileNoise, rec); err != nil {
		return rec, err
	}
	r.done(name, len(p.PowerLevels))
	return rec, nil
}

package sequences

import (
	"context"
	"fmt"
	"math"

	"github.com/rjboer/bpmtest/internal/analysis"
	"github.com/rjboer/bpmtest/internal/atten"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/results"
)

// FillPatternParams configures both fill pattern sequences.
type FillPatternParams struct {
	Frequency float64
	MaxPower  float64
	// DutyCycles are applied in order. They should descend from 1.
	DutyCycles []float64
	Samples    int
	Settling   float64
}

// DefaultFillPatternParams steps the duty cycle from 1 down to 0.1.
func DefaultFillPatternParams() FillPatternParams {
	return FillPatternParams{
		MaxPower:   -10,
		DutyCycles: analysis.RoundAll(analysis.Arange(1, 0.05, -0.1)),
		Samples:    10,
		Settling:   1,
	}
}

// FixedFillPattern imitates a fill pattern by gating the RF with a square
// wave whose high time stands for the bunches. The peak level stays fixed,
// so the average power falls with the duty cycle.
func (r *Runner) FixedFillPattern(ctx context.Context, p FillPatternParams) (results.FillPattern, error) {
	return r.fillPattern(ctx, "Fixed_voltage_amplitude_fill_pattern", results.FileFixedFillPattern, p, false)
}

// ScaledFillPattern is FixedFillPattern with the duty cycle loss in dB
// added to the attenuator, so the level at the BPM falls further as the
// duty cycle drops.
func (r *Runner) ScaledFillPattern(ctx context.Context, p FillPatternParams) (results.FillPattern, error) {
	if r.Sys.Atten == nil {
		return results.FillPattern{}, fmt.Errorf("scaled fill pattern: programmable attenuator: %w", ErrMissingDevice)
	}
	return r.fillPattern(ctx, "Scaled_voltage_amplitude_fill_pattern", results.FileScaledFillPattern, p, true)
}

// DutyCompensation is the dB a gated signal loses at the given duty cycle.
func DutyCompensation(duty float64) float64 {
	return math.Abs(20 * math.Log10(duty))
}

func (r *Runner) fillPattern(ctx context.Context, test, file string, p FillPatternParams, scaled bool) (rec results.FillPattern, err error) {
	if r.Sys.Gate == nil {
		return rec, fmt.Errorf("%s: gate source: %w", test, ErrMissingDevice)
	}
	if len(p.DutyCycles) == 0 {
		return rec, fmt.Errorf("%s: no duty cycles: %w", test, bpm.ErrOutOfRange)
	}
	for _, d := range p.DutyCycles {
		if d <= 0 || d > 1 {
			return rec, fmt.Errorf("%s: duty cycle %v: %w", test, d, bpm.ErrOutOfRange)
		}
	}

	name, actual, err := r.start(ctx, test, p.Frequency, p.MaxPower, bpm.DefaultState())
	if err != nil {
		return rec, err
	}
	defer r.shutdown(ctx, true)
	if rec.Header, err = r.header(ctx, name, p.Frequency, p.Settling, true); err != nil {
		return rec, err
	}

	var base float64
	if r.Sys.Atten != nil {
		if base, err = r.baseAttenuation(ctx); err != nil {
			return rec, err
		}
	}
	if rec.PulsePeriod, err = r.Sys.Gate.PulsePeriod(ctx); err != nil {
		return rec, fmt.Errorf("pulse period: %w", err)
	}
	if err := r.Sys.Gate.TurnOnModulation(ctx); err != nil {
		return rec, fmt.Errorf("modulation on: %w", err)
	}
	if err := r.Sys.Gate.SetPulseDutyCycle(ctx, p.DutyCycles[0]); err != nil {
		return rec, fmt.Errorf("duty cycle: %w", err)
	}
	if err := r.rfOn(ctx); err != nil {
		return rec, err
	}
	if err := r.settle(ctx, p.Settling); err != nil {
		return rec, err
	}

	for i, duty := range p.DutyCycles {
		if err := r.Sys.Gate.SetPulseDutyCycle(ctx, duty); err != nil {
			return rec, fmt.Errorf("duty cycle %v: %w", duty, err)
		}
		out := actual
		if scaled {
			setting := math.Min(base+analysis.QuarterRound(DutyCompensation(duty)), atten.MaxAttenuation)
			if err := r.Sys.Atten.SetGlobalAttenuation(ctx, setting); err != nil {
				return rec, fmt.Errorf("set attenuation %v dB: %w", setting, err)
			}
			got, err := r.baseAttenuation(ctx)
			if err != nil {
				return rec, err
			}
			rec.Attenuation = append(rec.Attenuation, got)
			out = actual - (got - base)
		}
		if err := r.settle(ctx, p.Settling); err != nil {
			return rec, err
		}
		rd, err := r.read(ctx, p.Samples)
		if err != nil {
			return rec, err
		}
		rec.OutputPower = append(rec.OutputPower, out)
		rec.InputPower = append(rec.InputPower, rd.input)
		rec.Current = append(rec.Current, rd.current)
		rec.XPosRaw = append(rec.XPosRaw, rd.xs)
		rec.YPosRaw = append(rec.YPosRaw, rd.ys)
		rec.ADCSum = append(rec.ADCSum, rd.adcSum)
		r.report(name, i+1, len(p.DutyCycles), map[string]any{"duty": duty, "input_dbm": rd.input})
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}
	if err := r.Sys.Gate.TurnOffModulation(ctx); err != nil {
		return rec, fmt.Errorf("modulation off: %w", err)
	}

	rec.DutyCycles = p.DutyCycles
	rec.MaxPower = actual
	rec.XPosMean, rec.XPosStd = analysis.StatDataset(rec.XPosRaw)
	rec.YPosMean, rec.YPosStd = analysis.StatDataset(rec.YPosRaw)
	if err := r.Store.WriteJSON(file, rec); err != nil {
		return rec, err
	}
	r.done(name, len(p.DutyCycles))
	return rec, nil
}

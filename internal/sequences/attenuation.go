package sequences

import (
	"context"
	"fmt"
	"math"

	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/results"
	"github.com/rjboer/bpmtest/internal/testsystem"
)

// IntAttenSweepParams configures IntAttenSweep.
type IntAttenSweepParams struct {
	Frequency  float64
	PowerLevel float64
	// StepSize is the dB moved on both attenuators at every step.
	StepSize float64
	Steps    int
	// RepeatPoints is the slow acquisition length read per capture.
	RepeatPoints int
	Settling     float64
}

// DefaultIntAttenSweepParams takes ten 2 dB steps.
func DefaultIntAttenSweepParams() IntAttenSweepParams {
	return IntAttenSweepParams{PowerLevel: -20, StepSize: 2, Steps: 10, RepeatPoints: 10, Settling: 1}
}

// IntAttenSweep checks that the BPM internal attenuator tracks the external
// one. At every step the external attenuation goes up by StepSize and the
// internal one comes down by the same amount, so the ADCs should see an
// unchanged signal. Slow acquisition data is captured before the change,
// between the two moves and after both.
func (r *Runner) IntAttenSweep(ctx context.Context, p IntAttenSweepParams) (rec results.IntAttenSweep, err error) {
	if r.Sys.Atten == nil {
		return rec, fmt.Errorf("internal attenuator sweep: programmable attenuator: %w", ErrMissingDevice)
	}
	if p.Steps < 1 || p.StepSize <= 0 {
		return rec, fmt.Errorf("internal attenuator sweep: %d steps of %v dB: %w", p.Steps, p.StepSize, bpm.ErrOutOfRange)
	}
	info := r.Sys.BPM.Info()
	start := float64(p.Steps) * p.StepSize
	name, _, err := r.start(ctx, "int_atten_sweep", p.Frequency, p.PowerLevel, bpm.MeasurementState(info, start))
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

	capture := func() (results.SASet, error) {
		w, err := r.Sys.BPM.SAData(ctx, p.RepeatPoints)
		if err != nil {
			return nil, fmt.Errorf("sa data: %w", err)
		}
		return results.SAFromWaveform(w), nil
	}

	for step := 0; step < p.Steps; step++ {
		in, err := r.Sys.BPM.InputPower(ctx)
		if err != nil {
			return rec, fmt.Errorf("input power: %w", err)
		}
		rec.BPMInputPower = append(rec.BPMInputPower, math.Round(in))
		rec.OutputPower = append(rec.OutputPower, p.PowerLevel-float64(step)*p.StepSize)

		before, err := capture()
		if err != nil {
			return rec, err
		}
		if err := r.settle(ctx, p.Settling); err != nil {
			return rec, err
		}
		ext, err := r.Sys.Atten.GlobalAttenuation(ctx)
		if err != nil {
			return rec, fmt.Errorf("read attenuation: %w", err)
		}
		if err := testsystem.CheckSymmetric(ext); err != nil {
			return rec, err
		}
		if err := r.Sys.Atten.SetGlobalAttenuation(ctx, ext[0]+p.StepSize); err != nil {
			return rec, fmt.Errorf("set attenuation: %w", err)
		}

		after, err := capture()
		if err != nil {
			return rec, err
		}
		internal, err := r.Sys.BPM.Attenuation(ctx)
		if err != nil {
			return rec, fmt.Errorf("bpm attenuation: %w", err)
		}
		if err := r.Sys.BPM.SetAttenuation(ctx, internal-p.StepSize); err != nil {
			return rec, fmt.Errorf("bpm attenuation: %w", err)
		}
		if err := r.settle(ctx, p.Settling); err != nil {
			return rec, err
		}
		data, err := capture()
		if err != nil {
			return rec, err
		}

		rec.AdjBefore = append(rec.AdjBefore, before)
		rec.AdjAfter = append(rec.AdjAfter, after)
		rec.Data = append(rec.Data, data)
		r.report(name, step+1, p.Steps, map[string]any{"external_db": ext[0] + p.StepSize, "internal_db": internal - p.StepSize})
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}

	rec.NBits = info.ADCBits
	rec.NADC = info.ADCCount
	if err := r.Store.WriteJSON(results.FileIntAttenSweep, rec); err != nil {
		return rec, err
	}
	r.done(name, p.Steps)
	return rec, nil
}

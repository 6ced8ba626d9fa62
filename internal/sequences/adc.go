package sequences

import (
	"context"
	"fmt"

	"github.com/rjboer/bpmtest/internal/analysis"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/results"
)

// ADCBitCheckParams configures ADCBitCheck.
type ADCBitCheckParams struct {
	Frequency  float64
	PowerLevel float64
	Settling   float64
}

// DefaultADCBitCheckParams excites the ADCs at -40 dBm.
func DefaultADCBitCheckParams() ADCBitCheckParams {
	return ADCBitCheckParams{PowerLevel: -40, Settling: 10}
}

// ADCBitCheck captures one block of raw ADC data from a sine excitation and
// records the spread of every bit, so stuck or missing bits show up.
func (r *Runner) ADCBitCheck(ctx context.Context, p ADCBitCheckParams) (rec results.ADCBitCheck, err error) {
	info := r.Sys.BPM.Info()
	name, _, err := r.start(ctx, "ADC_bit_check", p.Frequency, p.PowerLevel, bpm.MeasurementState(info, 0))
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
	w, err := r.Sys.BPM.ADCData(ctx, info.ADCBits)
	if err != nil {
		return rec, fmt.Errorf("adc data: %w", err)
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}

	rec.NBits = info.ADCBits
	rec.NADC = info.ADCCount
	rec.Times = w.Times
	for ch := 0; ch < info.ADCCount && ch < len(w.Channels); ch++ {
		rec.Data = append(rec.Data, w.Channels[ch])
		rec.DataStd = append(rec.DataStd, analysis.ADCMissingBitAnalysis(w.Channels[ch], info.ADCBits))
	}
	r.report(name, 1, 1, map[string]any{"samples": len(w.Times)})
	if err := r.Store.WriteJSON(results.FileADCBitCheck, rec); err != nil {
		return rec, err
	}
	r.done(name, 1)
	return rec, nil
}

// ADCIntAttenSweepParams configures ADCIntAttenSweep.
type ADCIntAttenSweepParams struct {
	Frequency  float64
	PowerLevel float64
	// Levels are the BPM internal attenuation settings in dB.
	Levels   []float64
	Settling float64
}

// DefaultADCIntAttenSweepParams steps the internal attenuator from 0 to
// 60 dB in 2 dB steps.
func DefaultADCIntAttenSweepParams() ADCIntAttenSweepParams {
	return ADCIntAttenSweepParams{
		PowerLevel: -10,
		Levels:     analysis.Arange(0, 62, 2),
		Settling:   1,
	}
}

// ADCIntAttenSweep records raw ADC data, in units of the ADC step, at each
// BPM internal attenuation level while the RF level stays fixed.
func (r *Runner) ADCIntAttenSweep(ctx context.Context, p ADCIntAttenSweepParams) (rec results.ADCIntAttenSweep, err error) {
	if len(p.Levels) == 0 {
		return rec, fmt.Errorf("adc internal attenuation sweep: no levels: %w", bpm.ErrOutOfRange)
	}
	info := r.Sys.BPM.Info()
	name, actual, err := r.start(ctx, "ADC_int_atten_sweep", p.Frequency, p.PowerLevel, bpm.MeasurementState(info, p.Levels[0]))
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

	step := analysis.ADCStep(info.ADCBits)
	for i, level := range p.Levels {
		if err := r.Sys.BPM.SetAttenuation(ctx, level); err != nil {
			return rec, fmt.Errorf("bpm attenuation %v dB: %w", level, err)
		}
		if err := r.settle(ctx, p.Settling); err != nil {
			return rec, err
		}
		w, err := r.Sys.BPM.ADCData(ctx, info.ADCBits)
		if err != nil {
			return rec, fmt.Errorf("adc data: %w", err)
		}
		var chans [][]float64
		for ch := 0; ch < info.ADCCount && ch < len(w.Channels); ch++ {
			chans = append(chans, analysis.Scale(w.Channels[ch], 1/step))
		}
		in, err := r.Sys.BPM.InputPower(ctx)
		if err != nil {
			return rec, fmt.Errorf("input power: %w", err)
		}
		rec.Data = append(rec.Data, chans)
		rec.BPMInputPower = append(rec.BPMInputPower, in)
		r.report(name, i+1, len(p.Levels), map[string]any{"attenuation_db": level, "input_dbm": in})
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}

	rec.Attenuation = p.Levels
	rec.OutputPower = actual
	rec.NBits = info.ADCBits
	rec.NADC = info.ADCCount
	rec.ADCStep = step
	if err := r.Store.WriteJSON(results.FileADCIntAttenSweep, rec); err != nil {
		return rec, err
	}
	r.done(name, len(p.Levels))
	return rec, nil
}

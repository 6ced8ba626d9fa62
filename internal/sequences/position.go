package sequences

import (
	"context"
	"fmt"

	"github.com/rjboer/bpmtest/internal/analysis"
	"github.com/rjboer/bpmtest/internal/atten"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/results"
)

// PositionScale is the kx and ky, in mm, used for predicted positions.
const PositionScale = 10.0

// RasterScanParams configures RasterScan.
type RasterScanParams struct {
	Frequency  float64
	PowerLevel float64
	// NominalAttenuation is added to every channel so a channel can take
	// more than its quarter share of the power.
	NominalAttenuation float64
	XPoints, YPoints   int
	Samples            int
	Settling           float64
}

// DefaultRasterScanParams scans a 5 by 5 grid.
func DefaultRasterScanParams() RasterScanParams {
	return RasterScanParams{PowerLevel: -10, NominalAttenuation: 10, XPoints: 5, YPoints: 5, Samples: 10, Settling: 1}
}

// setChannels applies base plus offsets to channels A to D and returns the
// values read back.
func (r *Runner) setChannels(ctx context.Context, base float64, offsets [4]float64) ([4]float64, error) {
	var got [4]float64
	for i, ch := range atten.Channels {
		db := base + offsets[i]
		if err := r.Sys.Atten.SetChannelAttenuation(ctx, ch, db); err != nil {
			return got, fmt.Errorf("channel %s %v dB: %w", ch, db, err)
		}
	}
	got, err := r.Sys.Atten.GlobalAttenuation(ctx)
	if err != nil {
		return got, fmt.Errorf("read attenuation: %w", err)
	}
	return got, nil
}

// RasterScan moves the simulated beam over an equidistant grid by sharing
// the power unevenly between the four buttons, and records the measured
// position next to the one predicted from the attenuator settings.
func (r *Runner) RasterScan(ctx context.Context, p RasterScanParams) (rec results.RasterScan, err error) {
	if r.Sys.Atten == nil {
		return rec, fmt.Errorf("raster scan: programmable attenuator: %w", ErrMissingDevice)
	}
	grid := analysis.RasterGrid(p.XPoints, p.YPoints)
	if len(grid) == 0 {
		return rec, fmt.Errorf("raster scan: %dx%d grid: %w", p.XPoints, p.YPoints, bpm.ErrOutOfRange)
	}
	name, actual, err := r.start(ctx, "Beam_position_equidistant_grid_raster_scan", p.Frequency, p.PowerLevel, bpm.DefaultState())
	if err != nil {
		return rec, err
	}
	defer r.shutdown(ctx, false)
	if rec.Header, err = r.header(ctx, name, p.Frequency, p.Settling, false); err != nil {
		return rec, err
	}
	base, err := r.baseAttenuation(ctx)
	if err != nil {
		return rec, err
	}

	if err := r.rfOn(ctx); err != nil {
		return rec, err
	}
	if err := r.settle(ctx, p.Settling); err != nil {
		return rec, err
	}
	for i, shares := range grid {
		var offsets [4]float64
		for ch, share := range shares {
			offsets[ch] = analysis.AttenuationForShare(p.NominalAttenuation, share)
		}
		got, err := r.setChannels(ctx, base, offsets)
		if err != nil {
			return rec, err
		}
		if err := r.settle(ctx, p.Settling); err != nil {
			return rec, err
		}
		px, py, err := analysis.PredictedPosition(actual, got, PositionScale, PositionScale)
		if err != nil {
			return rec, err
		}
		xs, ys, err := r.samplePositions(ctx, p.Samples)
		if err != nil {
			return rec, err
		}
		rec.MeasuredX = append(rec.MeasuredX, xs...)
		rec.MeasuredY = append(rec.MeasuredY, ys...)
		rec.PredictedX = append(rec.PredictedX, px)
		rec.PredictedY = append(rec.PredictedY, py)
		rec.Attenuations = append(rec.Attenuations, got)
		r.report(name, i+1, len(grid), map[string]any{"predicted_x": px, "predicted_y": py})
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}

	rec.NominalAttenuation = p.NominalAttenuation
	rec.XPoints = p.XPoints
	rec.YPoints = p.YPoints
	rec.Samples = max(p.Samples, 1)
	if err := r.Store.WriteJSON(results.FileRasterScan, rec); err != nil {
		return rec, err
	}
	r.done(name, len(grid))
	return rec, nil
}

// AttenPermutationParams configures AttenPermutation.
type AttenPermutationParams struct {
	Frequency  float64
	PowerLevel float64
	AttenMin   float64
	AttenMax   float64
	AttenSteps int
	Settling   float64
}

// DefaultAttenPermutationParams tries 0, 5 and 10 dB on every channel.
func DefaultAttenPermutationParams() AttenPermutationParams {
	return AttenPermutationParams{PowerLevel: -10, AttenMin: 0, AttenMax: 10, AttenSteps: 3, Settling: 1}
}

// permutations returns every assignment of levels to the four channels,
// the last channel changing fastest.
func permutations(levels []float64) [][4]float64 {
	n := len(levels)
	if n == 0 {
		return nil
	}
	var out [][4]float64
	var idx [4]int
	for {
		out = append(out, [4]float64{levels[idx[0]], levels[idx[1]], levels[idx[2]], levels[idx[3]]})
		ch := 3
		for ch >= 0 {
			idx[ch]++
			if idx[ch] < n {
				break
			}
			idx[ch] = 0
			ch--
		}
		if ch < 0 {
			return out
		}
	}
}

// AttenPermutation applies every combination of AttenSteps levels between
// AttenMin and AttenMax to the four channels and records measured and
// predicted positions for each.
func (r *Runner) AttenPermutation(ctx context.Context, p AttenPermutationParams) (rec results.AttenPermutation, err error) {
	if r.Sys.Atten == nil {
		return rec, fmt.Errorf("attenuation permutation: programmable attenuator: %w", ErrMissingDevice)
	}
	combos := permutations(analysis.Linspace(p.AttenMin, p.AttenMax, p.AttenSteps))
	if len(combos) == 0 {
		return rec, fmt.Errorf("attenuation permutation: %d steps: %w", p.AttenSteps, bpm.ErrOutOfRange)
	}
	name, actual, err := r.start(ctx, "Beam_position_attenuation_permutation", p.Frequency, p.PowerLevel, bpm.DefaultState())
	if err != nil {
		return rec, err
	}
	defer r.shutdown(ctx, false)
	if rec.Header, err = r.header(ctx, name, p.Frequency, p.Settling, false); err != nil {
		return rec, err
	}
	base, err := r.baseAttenuation(ctx)
	if err != nil {
		return rec, err
	}

	if err := r.rfOn(ctx); err != nil {
		return rec, err
	}
	if err := r.settle(ctx, p.Settling); err != nil {
		return rec, err
	}
	for i, combo := range combos {
		got, err := r.setChannels(ctx, base, combo)
		if err != nil {
			return rec, err
		}
		if err := r.settle(ctx, p.Settling); err != nil {
			return rec, err
		}
		px, py, err := analysis.PredictedPosition(actual, got, PositionScale, PositionScale)
		if err != nil {
			return rec, err
		}
		xs, ys, err := r.samplePositions(ctx, 1)
		if err != nil {
			return rec, err
		}
		rec.OutputPower = append(rec.OutputPower, actual)
		rec.MeasuredX = append(rec.MeasuredX, xs[0])
		rec.MeasuredY = append(rec.MeasuredY, ys[0])
		rec.PredictedX = append(rec.PredictedX, px)
		rec.PredictedY = append(rec.PredictedY, py)
		rec.Attenuations = append(rec.Attenuations, got)
		r.report(name, i+1, len(combos), map[string]any{"attenuation_db": combo})
	}
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		return rec, fmt.Errorf("rf off: %w", err)
	}

	rec.RFPower = p.PowerLevel
	rec.AttenMin = p.AttenMin
	rec.AttenMax = p.AttenMax
	rec.AttenSteps = p.AttenSteps
	if err := r.Store.WriteJSON(results.FileAttenPermutation, rec); err != nil {
		return rec, err
	}
	r.done(name, len(combos))
	return rec, nil
}

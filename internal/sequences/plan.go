package sequences

import (
	"context"
	"fmt"

	"github.com/rjboer/bpmtest/internal/analysis"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/testsystem"
)

// Plan selects the sequences of one run. Nil entries are skipped. A zero
// Frequency in an entry is replaced by the plan's.
type Plan struct {
	Frequency float64

	ADCBitCheck       *ADCBitCheckParams
	ADCIntAttenSweep  *ADCIntAttenSweepParams
	IntAttenSweep     *IntAttenSweepParams
	PowerDependence   *PowerDependenceParams
	FixedFillPattern  *FillPatternParams
	ScaledFillPattern *FillPatternParams
	RasterScan        *RasterScanParams
	AttenPermutation  *AttenPermutationParams
	Noise             *NoiseParams
}

// HardwarePlan is the battery run on the lab bench.
func HardwarePlan(frequency float64) Plan {
	const settling = 0.2
	adc := DefaultADCBitCheckParams()
	adc.Settling = 10
	sweep := DefaultADCIntAttenSweepParams()
	sweep.Settling = settling
	power := DefaultPowerDependenceParams()
	power.Settling = settling
	fill := DefaultFillPatternParams()
	fill.Settling = settling
	scaled := fill
	raster := DefaultRasterScanParams()
	raster.Settling = settling
	noise := DefaultNoiseParams()
	noise.Settling = settling
	return Plan{
		Frequency:         frequency,
		ADCBitCheck:       &adc,
		ADCIntAttenSweep:  &sweep,
		PowerDependence:   &power,
		FixedFillPattern:  &fill,
		ScaledFillPattern: &scaled,
		RasterScan:        &raster,
		Noise:             &noise,
	}
}

// SimulatedPlan runs every sequence within the power budget of the
// simulated bench.
func SimulatedPlan(frequency float64) Plan {
	adc := ADCBitCheckParams{PowerLevel: -40}
	sweep := ADCIntAttenSweepParams{PowerLevel: -40, Levels: analysis.Arange(0, 61, 10)}
	internal := DefaultIntAttenSweepParams()
	internal.PowerLevel = -40
	internal.Settling = 0
	power := PowerDependenceParams{PowerLevels: analysis.Arange(-40, -91, -10), Samples: 10}
	fill := DefaultFillPatternParams()
	fill.MaxPower = -40
	fill.Settling = 0
	scaled := fill
	raster := RasterScanParams{PowerLevel: -40, NominalAttenuation: 10, XPoints: 3, YPoints: 3, Samples: 2}
	perm := AttenPermutationParams{PowerLevel: -40, AttenMin: 0, AttenMax: 10, AttenSteps: 2}
	noise := NoiseParams{PowerLevels: analysis.Arange(-40, -61, -5), Samples: 1024}
	return Plan{
		Frequency:         frequency,
		ADCBitCheck:       &adc,
		ADCIntAttenSweep:  &sweep,
		IntAttenSweep:     &internal,
		PowerDependence:   &power,
		FixedFillPattern:  &fill,
		ScaledFillPattern: &scaled,
		RasterScan:        &raster,
		AttenPermutation:  &perm,
		Noise:             &noise,
	}
}

func orFreq(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// Run prepares the trigger and attenuator, then runs every selected
// sequence in a fixed order. The first failure stops the run.
func (r *Runner) Run(ctx context.Context, p Plan) error {
	if r.Sys.Trigger != nil {
		if err := r.Sys.Trigger.SetUpTriggerPulse(ctx, testsystem.TriggerFrequency(p.Frequency)); err != nil {
			return fmt.Errorf("trigger: %w", err)
		}
	}
	if r.Sys.Atten != nil {
		if err := r.Sys.Atten.SetGlobalAttenuation(ctx, 0); err != nil {
			return fmt.Errorf("attenuator: %w", err)
		}
	}

	type step struct {
		name string
		run  func() error
	}
	var steps []step
	if p.ADCBitCheck != nil {
		q := *p.ADCBitCheck
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"ADC bit check", func() error { _, err := r.ADCBitCheck(ctx, q); return err }})
	}
	if p.ADCIntAttenSweep != nil {
		q := *p.ADCIntAttenSweep
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"ADC int atten sweep", func() error { _, err := r.ADCIntAttenSweep(ctx, q); return err }})
	}
	if p.IntAttenSweep != nil {
		q := *p.IntAttenSweep
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"int atten sweep", func() error { _, err := r.IntAttenSweep(ctx, q); return err }})
	}
	if p.PowerDependence != nil {
		q := *p.PowerDependence
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"beam power dependence", func() error { _, err := r.PowerDependence(ctx, q); return err }})
	}
	if p.FixedFillPattern != nil {
		q := *p.FixedFillPattern
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"fixed fill pattern", func() error { _, err := r.FixedFillPattern(ctx, q); return err }})
	}
	if p.ScaledFillPattern != nil {
		q := *p.ScaledFillPattern
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"scaled fill pattern", func() error { _, err := r.ScaledFillPattern(ctx, q); return err }})
	}
	if p.RasterScan != nil {
		q := *p.RasterScan
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"raster scan", func() error { _, err := r.RasterScan(ctx, q); return err }})
	}
	if p.AttenPermutation != nil {
		q := *p.AttenPermutation
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"attenuation permutation", func() error { _, err := r.AttenPermutation(ctx, q); return err }})
	}
	if p.Noise != nil {
		q := *p.Noise
		q.Frequency = orFreq(q.Frequency, p.Frequency)
		steps = append(steps, step{"noise", func() error { _, err := r.Noise(ctx, q); return err }})
	}

	for i, s := range steps {
		r.log.Info("running sequence", logging.F("sequence", s.name), logging.F("index", i+1), logging.F("of", len(steps)))
		if err := s.run(); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

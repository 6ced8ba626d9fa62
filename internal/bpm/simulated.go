package bpm

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// SimulatedInfo describes the simulated BPM.
var SimulatedInfo = Info{Model: "Simulated", ADCBits: 16, ADCCount: 4, MaxInput: 6, SwitchStraight: 3}

const (
	simulatedLoss      = 12.0 // splitter and cables
	simulatedSplit     = 6.0  // per channel share of a four way split
	simulatedScale     = 10.0 // mm per unit position ratio
	simulatedTolerance = -40
	// SimulatedOffPower is the generator level seen while its output is off.
	SimulatedOffPower = -100.0
	simulatedADCLen   = 1024
	simulatedTTLen    = 1024
)

// PowerSource reports what an RF generator is emitting.
type PowerSource interface {
	OutputPower(ctx context.Context) (float64, string, error)
	OutputState(ctx context.Context) (bool, error)
}

// GateSource reports the modulation applied to the RF.
type GateSource interface {
	ModulationState(ctx context.Context) (bool, error)
	PulseDutyCycle(ctx context.Context) (float64, error)
}

// AttenuationSource reports the per-channel attenuation in front of the BPM.
type AttenuationSource interface {
	GlobalAttenuation(ctx context.Context) ([4]float64, error)
}

// Simulated derives its readings from the simulated bench instruments.
type Simulated struct {
	rf    PowerSource
	gate  GateSource
	atten AttenuationSource
	state *memState
	rng   *rand.Rand
}

// NewSimulated builds a simulated BPM fed by rf. gate and atten may be nil.
func NewSimulated(rf PowerSource, gate GateSource, atten AttenuationSource) *Simulated {
	return &Simulated{
		rf:    rf,
		gate:  gate,
		atten: atten,
		state: newMemState(SimulatedInfo.SwitchStraight),
		rng:   rand.New(rand.NewSource(1)),
	}
}

func (s *Simulated) outputPower(ctx context.Context) (float64, error) {
	on, err := s.rf.OutputState(ctx)
	if err != nil {
		return 0, err
	}
	if !on {
		return SimulatedOffPower, nil
	}
	p, _, err := s.rf.OutputPower(ctx)
	if err != nil {
		return 0, err
	}
	if math.IsInf(p, -1) || math.IsNaN(p) {
		return SimulatedOffPower, nil
	}
	return p, nil
}

// channelPowers returns the mW reaching each input after the attenuator.
func (s *Simulated) channelPowers(ctx context.Context, total float64) ([4]float64, error) {
	var out [4]float64
	att, err := s.atten.GlobalAttenuation(ctx)
	if err != nil {
		return out, err
	}
	for i, a := range att {
		out[i] = math.Pow(10, (total-simulatedSplit-a)/10)
	}
	return out, nil
}

// shares returns each channel's fraction of the total power.
func (s *Simulated) shares(ctx context.Context) ([4]float64, error) {
	if s.atten == nil {
		return [4]float64{0.25, 0.25, 0.25, 0.25}, nil
	}
	p, err := s.outputPower(ctx)
	if err != nil {
		return [4]float64{}, err
	}
	pw, err := s.channelPowers(ctx, p)
	if err != nil {
		return [4]float64{}, err
	}
	sum := pw[0] + pw[1] + pw[2] + pw[3]
	if sum == 0 {
		return [4]float64{}, ErrNoSignal
	}
	return [4]float64{pw[0] / sum, pw[1] / sum, pw[2] / sum, pw[3] / sum}, nil
}

func (s *Simulated) DeviceID(context.Context) (string, error) { return "Simulated BPM Device", nil }
func (s *Simulated) MACAddress() string                       { return "SIMULATED" }

func (s *Simulated) position(ctx context.Context) (float64, float64, error) {
	if s.atten == nil {
		return 0, 0, nil
	}
	sh, err := s.shares(ctx)
	if err != nil {
		return 0, 0, err
	}
	return Position(Buttons(sh), simulatedScale, simulatedScale)
}

func (s *Simulated) XPosition(ctx context.Context) (float64, error) {
	x, _, err := s.position(ctx)
	return x, err
}

func (s *Simulated) YPosition(ctx context.Context) (float64, error) {
	_, y, err := s.position(ctx)
	return y, err
}

// InputPower is the generator level less the gate duty cycle in dB, the
// attenuator and the fixed 12 dB loss. A closed gate passes no more than
// a generator that is off.
func (s *Simulated) InputPower(ctx context.Context) (float64, error) {
	p, err := s.outputPower(ctx)
	if err != nil {
		return 0, err
	}
	if s.gate != nil {
		on, err := s.gate.ModulationState(ctx)
		if err != nil {
			return 0, err
		}
		if on {
			duty, err := s.gate.PulseDutyCycle(ctx)
			if err != nil {
				return 0, err
			}
			if duty > 0 {
				p -= math.Abs(20 * math.Log10(duty))
			} else {
				p = SimulatedOffPower
			}
		}
	}
	if s.atten != nil {
		pw, err := s.channelPowers(ctx, p)
		if err != nil {
			return 0, err
		}
		p = 10 * math.Log10(pw[0]+pw[1]+pw[2]+pw[3])
	}
	return p - simulatedLoss, nil
}

// BeamCurrent follows the fit 1000*1.1193^P measured between a Rigol
// generator and a Libera.
func (s *Simulated) BeamCurrent(ctx context.Context) (float64, error) {
	p, err := s.InputPower(ctx)
	if err != nil {
		return 0, err
	}
	return 1000 * math.Pow(1.1193, p), nil
}

func (s *Simulated) RawButtons(ctx context.Context) (Buttons, error) {
	current, err := s.BeamCurrent(ctx)
	if err != nil {
		return Buttons{}, err
	}
	adc := 1000 * current
	sh, err := s.shares(ctx)
	if err != nil {
		return Buttons{}, err
	}
	var b Buttons
	for i := range b {
		b[i] = 4 * sh[i] * adc
	}
	return b, nil
}

func (s *Simulated) NormalisedButtons(ctx context.Context) (Buttons, error) {
	sh, err := s.shares(ctx)
	if err != nil {
		return Buttons{}, err
	}
	return Buttons{4 * sh[0], 4 * sh[1], 4 * sh[2], 4 * sh[3]}, nil
}

func (s *Simulated) ADCSum(ctx context.Context) (float64, error) {
	b, err := s.RawButtons(ctx)
	if err != nil {
		return 0, err
	}
	return b.Sum(), nil
}

func (s *Simulated) Attenuation(context.Context) (float64, error) {
	return s.state.get().Attenuation, nil
}

func (s *Simulated) SetAttenuation(_ context.Context, db float64) error {
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	s.state.setAttenuation(db)
	return nil
}

func (s *Simulated) InputTolerance() float64 { return simulatedTolerance }

// ADCData synthesises a sine per channel whose amplitude follows the
// channel power relative to the damage level, with one count of noise.
func (s *Simulated) ADCData(ctx context.Context, nBits int) (Waveform, error) {
	if nBits <= 0 || nBits > 32 {
		return Waveform{}, fmt.Errorf("adc bits %d: %w", nBits, ErrOutOfRange)
	}
	p, err := s.InputPower(ctx)
	if err != nil {
		return Waveform{}, err
	}
	sh, err := s.shares(ctx)
	if err != nil {
		return Waveform{}, err
	}
	full := math.Pow(2, float64(nBits))
	half := full / 2
	amp := half * math.Pow(10, (p-SimulatedInfo.MaxInput)/20)
	internal := s.state.get().Attenuation
	amp *= math.Pow(10, -internal/20)

	rate := ElectronVariant.ADCRate
	w := Waveform{Times: sampleTimes(simulatedADCLen, 1/rate)}
	for ch := range w.Channels {
		a := math.Min(amp*math.Sqrt(4*sh[ch]), half-1)
		data := make([]float64, simulatedADCLen)
		for i := range data {
			v := half + a*math.Sin(2*math.Pi*10.7e6*w.Times[i]+float64(ch)) + s.rng.NormFloat64()
			data[i] = math.Max(0, math.Min(full-1, math.Round(v)))
		}
		w.Channels[ch] = data
	}
	return w, nil
}

func (s *Simulated) repeatButtons(ctx context.Context, n int, period float64) (Waveform, error) {
	if n <= 0 {
		return Waveform{}, fmt.Errorf("sample count %d: %w", n, ErrOutOfRange)
	}
	b, err := s.RawButtons(ctx)
	if err != nil {
		return Waveform{}, err
	}
	w := Waveform{Times: sampleTimes(n, period)}
	for ch := range w.Channels {
		data := make([]float64, n)
		for i := range data {
			data[i] = b[ch]
		}
		w.Channels[ch] = data
	}
	return w, nil
}

func (s *Simulated) TTData(ctx context.Context) (Waveform, error) {
	return s.repeatButtons(ctx, simulatedTTLen, ElectronVariant.TTPeriod)
}

func (s *Simulated) FTData(ctx context.Context) (Waveform, error) {
	return s.repeatButtons(ctx, simulatedTTLen, 1/ElectronVariant.FTRate)
}

func (s *Simulated) SAData(ctx context.Context, n int) (Waveform, error) {
	return s.repeatButtons(ctx, n, 1/SARate)
}

func (s *Simulated) series(n int, v float64) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("sample count %d: %w", n, ErrOutOfRange)
	}
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = v
	}
	return Series{Times: sampleTimes(n, 1/SARate), Values: vals}, nil
}

func (s *Simulated) XSAData(ctx context.Context, n int) (Series, error) {
	x, err := s.XPosition(ctx)
	if err != nil {
		return Series{}, err
	}
	return s.series(n, x)
}

func (s *Simulated) YSAData(ctx context.Context, n int) (Series, error) {
	y, err := s.YPosition(ctx)
	if err != nil {
		return Series{}, err
	}
	return s.series(n, y)
}

func (s *Simulated) InternalState(context.Context) (InternalState, error) { return s.state.get(), nil }

func (s *Simulated) SetInternalState(_ context.Context, st InternalState) error {
	if err := CheckAttenuation(st.Attenuation); err != nil {
		return err
	}
	s.state.set(st)
	return nil
}

func (s *Simulated) PerformanceSpec() PerformanceSpec { return SimulatedSpec() }
func (s *Simulated) Info() Info                       { return SimulatedInfo }

func (s *Simulated) Snapshot(ctx context.Context) (InternalState, error) { return s.InternalState(ctx) }

func (s *Simulated) Restore(ctx context.Context, st InternalState) error {
	return s.SetInternalState(ctx, st)
}

func (s *Simulated) Close() error { return nil }

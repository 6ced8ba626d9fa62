// Package bpm drives beam position monitor readout electronics.
//
// Every backend implements Device. Hardware backends capture the BPM's
// internal state when they connect and put it back when closed, so a run
// that fails half way leaves the instrument as it was found.
package bpm

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rjboer/bpmtest/internal/hostinfo"
	"github.com/rjboer/bpmtest/internal/instrument"
	"github.com/rjboer/bpmtest/internal/logging"
)

var (
	// ErrNoSignal is returned when the button sum is zero.
	ErrNoSignal = errors.New("no signal on bpm buttons")
	// ErrOutOfRange is returned when a setting falls outside the device limits.
	ErrOutOfRange = instrument.ErrOutOfRange
	// ErrInvalidValue is returned for a mode or code the device does not know.
	ErrInvalidValue = instrument.ErrInvalidValue
	// ErrUnsupported is returned by backends that cannot capture a data type.
	ErrUnsupported = errors.New("not supported by this bpm")
	// ErrIncompleteCapture is returned when a capture misses a channel.
	ErrIncompleteCapture = errors.New("not all channels returned data")
)

const (
	// MaxAttenuation is the upper bound of the internal attenuator.
	MaxAttenuation = 95.0
	// SARate is the slow acquisition rate in Hz.
	SARate      = 10e3
	noSignalSum = 1e-12
)

// Buttons holds one value per pickup, in A, B, C, D order.
type Buttons [4]float64

// Sum returns A+B+C+D.
func (b Buttons) Sum() float64 { return b[0] + b[1] + b[2] + b[3] }

// Normalised divides every button by the mean of the four.
func (b Buttons) Normalised() (Buttons, error) {
	sum := b.Sum()
	if math.Abs(sum) < noSignalSum {
		return Buttons{}, ErrNoSignal
	}
	avg := sum / 4
	return Buttons{b[0] / avg, b[1] / avg, b[2] / avg, b[3] / avg}, nil
}

// Position converts button signals into a beam position in mm:
// X = kx*((A+D)-(B+C))/sum, Y = ky*((A+B)-(C+D))/sum.
func Position(b Buttons, kx, ky float64) (float64, float64, error) {
	sum := b.Sum()
	if math.Abs(sum) < noSignalSum {
		return 0, 0, ErrNoSignal
	}
	x := kx * ((b[0] + b[3]) - (b[1] + b[2])) / sum
	y := ky * ((b[0] + b[1]) - (b[2] + b[3])) / sum
	return x, y, nil
}

// Waveform is a four channel capture sharing one time axis in seconds.
type Waveform struct {
	Times    []float64
	Channels [4][]float64
}

// Series is a single channel capture.
type Series struct {
	Times  []float64
	Values []float64
}

// Info describes fixed properties of a BPM model.
type Info struct {
	Model          string
	ADCBits        int
	ADCCount       int
	MaxInput       float64 // dBm, damage level
	SwitchStraight int
}

// Device is a BPM readout.
type Device interface {
	DeviceID(ctx context.Context) (string, error)
	MACAddress() string

	XPosition(ctx context.Context) (float64, error)
	YPosition(ctx context.Context) (float64, error)
	BeamCurrent(ctx context.Context) (float64, error)
	InputPower(ctx context.Context) (float64, error)
	RawButtons(ctx context.Context) (Buttons, error)
	NormalisedButtons(ctx context.Context) (Buttons, error)
	ADCSum(ctx context.Context) (float64, error)

	Attenuation(ctx context.Context) (float64, error)
	SetAttenuation(ctx context.Context, db float64) error
	InputTolerance() float64

	ADCData(ctx context.Context, nBits int) (Waveform, error)
	TTData(ctx context.Context) (Waveform, error)
	FTData(ctx context.Context) (Waveform, error)
	SAData(ctx context.Context, n int) (Waveform, error)
	XSAData(ctx context.Context, n int) (Series, error)
	YSAData(ctx context.Context, n int) (Series, error)

	InternalState(ctx context.Context) (InternalState, error)
	SetInternalState(ctx context.Context, s InternalState) error
	PerformanceSpec() PerformanceSpec
	Info() Info

	Snapshot(ctx context.Context) (InternalState, error)
	Restore(ctx context.Context, s InternalState) error
	Close() error
}

// Options are shared by the hardware backends.
type Options struct {
	Logger   logging.Logger
	Resolver hostinfo.Resolver
	// Sleep waits for the hardware to settle; defaults to time.Sleep.
	Sleep func(time.Duration)
	// Settle is the wait after enabling a capture mode.
	Settle time.Duration
	// CloseTimeout bounds the state restore run by Close.
	CloseTimeout time.Duration
}

func (o Options) withDefaults(component string) Options {
	o.Logger = logging.OrDefault(o.Logger).With(logging.Component(component))
	if o.Resolver == nil {
		o.Resolver = hostinfo.ARPResolver{}
	}
	if o.Sleep == nil {
		o.Sleep = time.Sleep
	}
	if o.Settle == 0 {
		o.Settle = 2 * time.Second
	}
	if o.CloseTimeout == 0 {
		o.CloseTimeout = 30 * time.Second
	}
	return o
}

// CheckAttenuation validates an internal attenuation request.
func CheckAttenuation(db float64) error {
	return instrument.CheckRange("attenuation", db, 0, MaxAttenuation)
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return math.NaN()
	}
	var s float64
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}

func sampleTimes(n int, period float64) []float64 {
	t := make([]float64, n)
	for i := range t {
		t[i] = float64(i) * period
	}
	return t
}

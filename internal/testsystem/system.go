// Package testsystem owns the bench instruments for one test run and the
// power interlock every test sequence goes through first.
package testsystem

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/rjboer/bpmtest/internal/atten"
	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/gate"
	"github.com/rjboer/bpmtest/internal/itech"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/rfsig"
	"github.com/rjboer/bpmtest/internal/trigger"
)

var (
	// ErrUnknownDevice is returned for backend names New does not know.
	ErrUnknownDevice = errors.New("unknown device")
	// ErrDangerousPower is returned when a requested level exceeds the BPM damage level.
	ErrDangerousPower = errors.New("input power level dangerously high")
	// ErrPowerBudget is returned when the RF chain cannot deliver the requested level.
	ErrPowerBudget = errors.New("requested power above what the system can deliver")
	// ErrAttenuatorMismatch is returned when the attenuator channels disagree after a global set.
	ErrAttenuatorMismatch = errors.New("attenuator channels read back different values")
)

const (
	// DLSFrequency is the storage ring RF frequency in MHz.
	DLSFrequency = 499.6817682
	// HardwareFrequency is the closest frequency the BL12HI can generate (5 kHz steps).
	HardwareFrequency = 499.655
	// HarmonicNumber is the number of RF buckets in the ring.
	HarmonicNumber = 936
	// ChannelTolerance is the allowed spread between attenuator channels in dB.
	ChannelTolerance = 1e-5
)

// BunchLength returns the revolution period in microseconds for an RF
// frequency in MHz.
func BunchLength(mhz float64) float64 { return 1 / (mhz / HarmonicNumber) }

// TriggerFrequency returns the trigger pulse frequency for an RF frequency.
func TriggerFrequency(mhz float64) float64 { return mhz / 100 }

// Devices are the instruments of a bench. Atten, Gate and Trigger may be nil.
type Devices struct {
	RF      rfsig.Generator
	BPM     bpm.Device
	Atten   atten.Attenuator
	Gate    gate.Source
	Trigger trigger.Source
}

// System is the test bench of one run.
type System struct {
	Devices

	// Losses are the cable losses to buttons A to D in dB.
	Losses [4]float64
	// Loss is the smallest of Losses, so that no channel receives more
	// than the computed power.
	Loss float64

	log      logging.Logger
	sessions []*itech.Session
}

// FromDevices builds a System around already opened instruments.
func FromDevices(d Devices, losses [4]float64, logger logging.Logger) *System {
	s := &System{
		Devices: d,
		Losses:  losses,
		log:     logging.OrDefault(logger).With(logging.Component("testsystem")),
	}
	s.Loss = math.Min(math.Min(losses[0], losses[1]), math.Min(losses[2], losses[3]))
	return s
}

// FormatTestName turns an identifier such as ADC_bit_check into the
// title used in logs and reports.
func FormatTestName(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return strings.ReplaceAll(name, "_", " ")
}

// MaxDeliverablePower is the RF output limit less the cable loss.
func (s *System) MaxDeliverablePower(ctx context.Context) (float64, error) {
	limit, _, err := s.RF.OutputPowerLimit(ctx)
	if err != nil {
		return 0, fmt.Errorf("read rf limit: %w", err)
	}
	return limit - s.Loss, nil
}

// Initialise prepares the bench for a test: the RF is turned off and tuned,
// the requested BPM input power is checked against the BPM damage level and
// the power budget, and the external attenuator is set so that the BPM
// receives outputPower. It returns the formatted test name and the power
// actually delivered after attenuator quantisation. The RF is left off.
func (s *System) Initialise(ctx context.Context, testName string, frequency, outputPower float64) (string, float64, error) {
	name := FormatTestName(testName)
	s.log.Info("starting test", logging.F("test", name), logging.F("freq_mhz", frequency), logging.F("power_dbm", outputPower))

	if err := s.RF.TurnOff(ctx); err != nil {
		return name, 0, fmt.Errorf("rf off: %w", err)
	}
	if err := s.RF.SetFrequency(ctx, frequency); err != nil {
		return name, 0, fmt.Errorf("rf frequency: %w", err)
	}

	actual, err := s.SetInputPower(ctx, outputPower)
	if err != nil {
		return name, 0, err
	}
	s.log.Debug("bench initialised", logging.F("test", name), logging.F("actual_dbm", actual))
	return name, actual, nil
}

// SetInputPower changes the level delivered to the BPM without touching the
// RF output state. With an attenuator the generator sits at its limit and
// only the attenuator moves, otherwise the generator level is set directly.
// It returns the level actually delivered.
func (s *System) SetInputPower(ctx context.Context, outputPower float64) (float64, error) {
	if damage := s.BPM.Info().MaxInput; outputPower > damage {
		return 0, fmt.Errorf("%v dBm above %v dBm: %w", outputPower, damage, ErrDangerousPower)
	}
	limit, _, err := s.RF.OutputPowerLimit(ctx)
	if err != nil {
		return 0, fmt.Errorf("read rf limit: %w", err)
	}
	if deliverable := limit - s.Loss; outputPower > deliverable {
		return 0, fmt.Errorf("%v dBm above %v dBm: %w", outputPower, deliverable, ErrPowerBudget)
	}

	if s.Atten == nil {
		level := math.Floor(outputPower + s.Loss)
		if err := s.RF.SetOutputPower(ctx, level); err != nil {
			return 0, err
		}
		got, _, err := s.RF.OutputPower(ctx)
		if err != nil {
			return 0, err
		}
		return got - s.Loss, nil
	}

	if err := s.RF.SetOutputPower(ctx, limit); err != nil {
		return 0, err
	}
	setting := AttenuationFor(limit, s.Loss, outputPower)
	if err := s.Atten.SetGlobalAttenuation(ctx, setting); err != nil {
		return 0, fmt.Errorf("set attenuation %v dB: %w", setting, err)
	}
	readback, err := s.Atten.GlobalAttenuation(ctx)
	if err != nil {
		return 0, err
	}
	if err := CheckSymmetric(readback); err != nil {
		return 0, err
	}
	return limit - s.Loss - readback[0], nil
}

// AttenuationFor returns the attenuator setting that brings an RF level
// through loss down to target, rounded up to the attenuator step and
// clamped to its range.
func AttenuationFor(level, loss, target float64) float64 {
	a := level - loss - target
	a = math.Ceil(a/atten.Step-1e-9) * atten.Step
	return math.Min(math.Max(a, 0), atten.MaxAttenuation)
}

// CheckSymmetric fails when any channel differs from channel A by more than
// ChannelTolerance.
func CheckSymmetric(vals [4]float64) error {
	for i := 1; i < len(vals); i++ {
		if math.Abs(vals[i]-vals[0]) > ChannelTolerance {
			return fmt.Errorf("channels %v: %w", vals, ErrAttenuatorMismatch)
		}
	}
	return nil
}

// Close closes every instrument, the BPM restoring its connect-time state,
// and then the shared sessions.
func (s *System) Close() error {
	var errs []error
	closeDev := func(name string, c interface{ Close() error }) {
		if c == nil {
			return
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	closeDev("trigger", s.Trigger)
	closeDev("gate", s.Gate)
	closeDev("attenuator", s.Atten)
	closeDev("rf", s.RF)
	closeDev("bpm", s.BPM)
	for _, sess := range s.sessions {
		if err := sess.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close itech session: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Package sequences holds the measurement sequences run against a test
// bench. Every sequence initialises the bench, configures the BPM, sweeps
// one parameter while sampling the BPM and writes a single JSON record to
// the run directory.
package sequences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rjboer/bpmtest/internal/bpm"
	"github.com/rjboer/bpmtest/internal/logging"
	"github.com/rjboer/bpmtest/internal/results"
	"github.com/rjboer/bpmtest/internal/telemetry"
	"github.com/rjboer/bpmtest/internal/testsystem"
)

// ErrMissingDevice is returned when a sequence needs an instrument the
// bench does not have.
var ErrMissingDevice = errors.New("required instrument not present")

// NoDevice is recorded as the id of an absent instrument.
const NoDevice = "None"

// Runner executes sequences on one bench and stores their records.
type Runner struct {
	Sys   *testsystem.System
	Store *results.Store
	// Progress receives one event per sweep step. Nil discards them.
	Progress telemetry.Reporter
	// Sleep waits for the bench to settle. Defaults to time.Sleep.
	Sleep func(time.Duration)

	log logging.Logger
}

// NewRunner builds a runner writing to store.
func NewRunner(sys *testsystem.System, store *results.Store, logger logging.Logger) *Runner {
	return &Runner{
		Sys:      sys,
		Store:    store,
		Progress: telemetry.Nop{},
		Sleep:    time.Sleep,
		log:      logging.OrDefault(logger).With(logging.Component("sequences")),
	}
}

func (r *Runner) settle(ctx context.Context, seconds float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if seconds <= 0 {
		return nil
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	sleep(time.Duration(seconds * float64(time.Second)))
	return ctx.Err()
}

func (r *Runner) report(test string, step, total int, values map[string]any) {
	if r.Progress == nil {
		return
	}
	r.Progress.Report(telemetry.Event{Test: test, Step: step, Total: total, Values: values})
}

func (r *Runner) done(test string, total int) {
	if r.Progress == nil {
		return
	}
	r.Progress.Report(telemetry.Event{Test: test, Step: total, Total: total, Done: true})
}

// start initialises the bench for a sequence and applies the BPM state.
// It returns the formatted test name and the power actually delivered.
func (r *Runner) start(ctx context.Context, test string, frequency, power float64, state bpm.InternalState) (string, float64, error) {
	name, actual, err := r.Sys.Initialise(ctx, test, frequency, power)
	if err != nil {
		return name, 0, fmt.Errorf("%s: %w", name, err)
	}
	if err := r.Sys.BPM.SetInternalState(ctx, state); err != nil {
		return name, 0, fmt.Errorf("%s: set bpm state: %w", name, err)
	}
	return name, actual, nil
}

// header collects the ids of the bench and the BPM state in use.
func (r *Runner) header(ctx context.Context, name string, frequency, settling float64, withGate bool) (results.Header, error) {
	h := results.Header{TestName: name, Frequency: frequency, SettlingTime: settling}
	var err error
	if h.RFID, err = r.Sys.RF.DeviceID(ctx); err != nil {
		return h, fmt.Errorf("rf id: %w", err)
	}
	if h.BPMID, err = r.Sys.BPM.DeviceID(ctx); err != nil {
		return h, fmt.Errorf("bpm id: %w", err)
	}
	if r.Sys.Atten == nil {
		h.AttenID = NoDevice
	} else if h.AttenID, err = r.Sys.Atten.DeviceID(ctx); err != nil {
		return h, fmt.Errorf("attenuator id: %w", err)
	}
	if withGate && r.Sys.Gate != nil {
		if h.GateID, err = r.Sys.Gate.DeviceID(ctx); err != nil {
			return h, fmt.Errorf("gate id: %w", err)
		}
	}
	st, err := r.Sys.BPM.InternalState(ctx)
	if err != nil {
		return h, fmt.Errorf("bpm state: %w", err)
	}
	h.SetState(st)
	return h, nil
}

func (r *Runner) rfOn(ctx context.Context) error {
	if err := r.Sys.RF.TurnOn(ctx); err != nil {
		return fmt.Errorf("rf on: %w", err)
	}
	return nil
}

// shutdown leaves the bench safe after a sequence, even when ctx has been
// cancelled.
func (r *Runner) shutdown(ctx context.Context, gated bool) {
	ctx = context.WithoutCancel(ctx)
	if err := r.Sys.RF.TurnOff(ctx); err != nil {
		r.log.Warn("rf off failed", logging.Err(err))
	}
	if gated && r.Sys.Gate != nil {
		if err := r.Sys.Gate.TurnOffModulation(ctx); err != nil {
			r.log.Warn("modulation off failed", logging.Err(err))
		}
	}
}

// samplePositions reads n X and Y positions.
func (r *Runner) samplePositions(ctx context.Context, n int) ([]float64, []float64, error) {
	if n < 1 {
		n = 1
	}
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i := 0; i < n; i++ {
		var err error
		if xs[i], err = r.Sys.BPM.XPosition(ctx); err != nil {
			return nil, nil, fmt.Errorf("x position: %w", err)
		}
		if ys[i], err = r.Sys.BPM.YPosition(ctx); err != nil {
			return nil, nil, fmt.Errorf("y position: %w", err)
		}
	}
	return xs, ys, nil
}

// reading is one set of scalar BPM values taken at a sweep step.
type reading struct {
	input, current, adcSum float64
	xs, ys                 []float64
}

func (r *Runner) read(ctx context.Context, samples int) (reading, error) {
	var rd reading
	var err error
	if rd.input, err = r.Sys.BPM.InputPower(ctx); err != nil {
		return rd, fmt.Errorf("input power: %w", err)
	}
	if rd.current, err = r.Sys.BPM.BeamCurrent(ctx); err != nil {
		return rd, fmt.Errorf("beam current: %w", err)
	}
	if rd.xs, rd.ys, err = r.samplePositions(ctx, samples); err != nil {
		return rd, err
	}
	if rd.adcSum, err = r.Sys.BPM.ADCSum(ctx); err != nil {
		return rd, fmt.Errorf("adc sum: %w", err)
	}
	return rd, nil
}

// baseAttenuation returns the global setting the attenuator was left at,
// checking the channels agree.
func (r *Runner) baseAttenuation(ctx context.Context) (float64, error) {
	vals, err := r.Sys.Atten.GlobalAttenuation(ctx)
	if err != nil {
		return 0, fmt.Errorf("read attenuation: %w", err)
	}
	if err := testsystem.CheckSymmetric(vals); err != nil {
		return 0, err
	}
	return vals[0], nil
}

// Begin records the bench and the BPM configuration before any sequence
// runs. When cat is not nil the run is registered there once the state file
// is on disk, and every record written afterwards is catalogued too.
func (r *Runner) Begin(ctx context.Context, epicsID string, cat *results.Catalog) (results.InitialState, error) {
	st := results.NewInitialState(time.Now())
	st.EpicsID = epicsID
	st.MAC = r.Sys.BPM.MACAddress()
	var err error
	if st.BPMID, err = r.Sys.BPM.DeviceID(ctx); err != nil {
		return st, fmt.Errorf("bpm id: %w", err)
	}
	if st.RFID, err = r.Sys.RF.DeviceID(ctx); err != nil {
		return st, fmt.Errorf("rf id: %w", err)
	}
	if r.Sys.Atten != nil {
		if st.AttenID, err = r.Sys.Atten.DeviceID(ctx); err != nil {
			return st, fmt.Errorf("attenuator id: %w", err)
		}
	} else {
		st.AttenID = NoDevice
	}
	if r.Sys.Gate != nil {
		if st.GateID, err = r.Sys.Gate.DeviceID(ctx); err != nil {
			return st, fmt.Errorf("gate id: %w", err)
		}
	} else {
		st.GateID = NoDevice
	}
	if r.Sys.Trigger != nil {
		if st.TriggerID, err = r.Sys.Trigger.DeviceID(ctx); err != nil {
			return st, fmt.Errorf("trigger id: %w", err)
		}
	} else {
		st.TriggerID = NoDevice
	}
	if st.InternalState, err = r.Sys.BPM.Snapshot(ctx); err != nil {
		return st, fmt.Errorf("bpm snapshot: %w", err)
	}
	st.Spec = r.Sys.BPM.PerformanceSpec()

	if err := r.Store.WriteJSON(results.FileInitialState, st); err != nil {
		return st, err
	}
	if cat != nil {
		if err := cat.AddRun(ctx, results.Run{ID: st.RunID, MAC: st.MAC, BPMID: st.BPMID, Dir: r.Store.Dir(), Created: st.Created}); err != nil {
			return st, err
		}
		if err := cat.AddRecord(ctx, st.RunID, results.FileInitialState, time.Now()); err != nil {
			return st, err
		}
		bg := context.WithoutCancel(ctx)
		r.Store.OnWrite = func(name string) {
			if err := cat.AddRecord(bg, st.RunID, name, time.Now()); err != nil {
				r.log.Warn("catalog record failed", logging.F("file", name), logging.Err(err))
			}
		}
	}
	r.log.Info("run started", logging.F("run_id", st.RunID), logging.F("mac", st.MAC), logging.F("dir", r.Store.Dir()))
	return st, nil
}

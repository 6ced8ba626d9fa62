package bpm

import (
	"context"
	"fmt"
	"math"

	"github.com/rjboer/bpmtest/internal/epics"
	"github.com/rjboer/bpmtest/internal/logging"
)

// SparkERXRInfo describes the Libera SparkER-XR.
var SparkERXRInfo = Info{Model: "Libera SparkER-XR", ADCBits: 14, ADCCount: 4, MaxInput: 6, SwitchStraight: 3}

const nmPerMM = 1e6

// SparkERXR drives a SparkER-XR through its "<db>:signals:<daq>" record.
// Each read processes the record first so values are fresh.
type SparkERXR struct {
	client epics.Client
	prefix string
	mac    string
	log    logging.Logger
	state  *memState
}

// NewSparkERXR connects to the DAQ record daq of database db.
func NewSparkERXR(ctx context.Context, client epics.Client, db, daq string, opts Options) (*SparkERXR, error) {
	opts = opts.withDefaults("bpm")
	s := &SparkERXR{
		client: client,
		prefix: db + ":signals:" + daq,
		log:    opts.Logger,
		state:  newMemState(SparkERXRInfo.SwitchStraight),
	}
	if err := client.Put(ctx, s.prefix+".SCAN", 0); err != nil {
		return nil, fmt.Errorf("passive scan on %s: %w", s.prefix, err)
	}
	if err := s.process(ctx); err != nil {
		return nil, err
	}
	host, err := client.Host(ctx, s.prefix+".X")
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", s.prefix, err)
	}
	mac, err := opts.Resolver.MAC(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("mac address of %s: %w", host, err)
	}
	s.mac = mac
	id, _ := s.DeviceID(ctx)
	s.log.Info("opened connection", logging.F("device", id))
	return s, nil
}

func (s *SparkERXR) process(ctx context.Context) error {
	return s.client.Put(ctx, s.prefix+".PROC", 1)
}

// field processes the record and returns the mean of one of its fields.
func (s *SparkERXR) field(ctx context.Context, name string) (float64, error) {
	if err := s.process(ctx); err != nil {
		return 0, err
	}
	vals, err := s.client.Get(ctx, s.prefix+"."+name)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("%s.%s: %w", s.prefix, name, epics.ErrNoValue)
	}
	return mean(vals), nil
}

func (s *SparkERXR) DeviceID(context.Context) (string, error) {
	return fmt.Sprintf("Libera BPM with the Epics ID %q and the MAC Address %q", s.prefix, s.mac), nil
}

func (s *SparkERXR) MACAddress() string { return s.mac }

func (s *SparkERXR) XPosition(ctx context.Context) (float64, error) {
	v, err := s.field(ctx, "X")
	return v / nmPerMM, err
}

func (s *SparkERXR) YPosition(ctx context.Context) (float64, error) {
	v, err := s.field(ctx, "Y")
	return v / nmPerMM, err
}

func (s *SparkERXR) BeamCurrent(ctx context.Context) (float64, error) { return s.field(ctx, "Sum") }
func (s *SparkERXR) InputPower(ctx context.Context) (float64, error)  { return s.field(ctx, "Sum") }

func (s *SparkERXR) ADCSum(ctx context.Context) (float64, error) {
	v, err := s.field(ctx, "Sum")
	return math.Round(v), err
}

func (s *SparkERXR) RawButtons(ctx context.Context) (Buttons, error) {
	var b Buttons
	for i, name := range []string{"A", "B", "C", "D"} {
		v, err := s.field(ctx, name)
		if err != nil {
			return Buttons{}, err
		}
		b[i] = math.Round(v)
	}
	return b, nil
}

func (s *SparkERXR) NormalisedButtons(ctx context.Context) (Buttons, error) {
	b, err := s.RawButtons(ctx)
	if err != nil {
		return Buttons{}, err
	}
	return b.Normalised()
}

func (s *SparkERXR) Attenuation(context.Context) (float64, error) {
	return s.state.get().Attenuation, nil
}

func (s *SparkERXR) SetAttenuation(_ context.Context, db float64) error {
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	s.state.setAttenuation(db)
	return nil
}

func (s *SparkERXR) InputTolerance() float64 { return sparkerTolerance }

func (s *SparkERXR) ADCData(context.Context, int) (Waveform, error) {
	return Waveform{}, fmt.Errorf("adc data: %w", ErrUnsupported)
}

func (s *SparkERXR) TTData(context.Context) (Waveform, error) {
	return Waveform{}, fmt.Errorf("turn by turn data: %w", ErrUnsupported)
}

func (s *SparkERXR) FTData(context.Context) (Waveform, error) {
	return Waveform{}, fmt.Errorf("first turn data: %w", ErrUnsupported)
}

func (s *SparkERXR) SAData(context.Context, int) (Waveform, error) {
	return Waveform{}, fmt.Errorf("sa button data: %w", ErrUnsupported)
}

func (s *SparkERXR) XSAData(ctx context.Context, n int) (Series, error) {
	return collectSeries(ctx, s.client, epics.PV(s.prefix, "SA:X"), n)
}

func (s *SparkERXR) YSAData(ctx context.Context, n int) (Series, error) {
	return collectSeries(ctx, s.client, epics.PV(s.prefix, "SA:Y"), n)
}

func (s *SparkERXR) InternalState(context.Context) (InternalState, error) { return s.state.get(), nil }

func (s *SparkERXR) SetInternalState(_ context.Context, st InternalState) error {
	if err := CheckAttenuation(st.Attenuation); err != nil {
		return err
	}
	s.state.set(st)
	return nil
}

func (s *SparkERXR) PerformanceSpec() PerformanceSpec { return LiberaSpec() }
func (s *SparkERXR) Info() Info                       { return SparkERXRInfo }

func (s *SparkERXR) Snapshot(ctx context.Context) (InternalState, error) { return s.InternalState(ctx) }

func (s *SparkERXR) Restore(ctx context.Context, st InternalState) error {
	return s.SetInternalState(ctx, st)
}

func (s *SparkERXR) Close() error {
	s.log.Info("closed connection", logging.F("epics_id", s.prefix))
	return nil
}

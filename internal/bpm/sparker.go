package bpm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rjboer/bpmtest/internal/connectionmgr"
	"github.com/rjboer/bpmtest/internal/logging"
)

// SparkERInfo describes the Libera SparkER.
var SparkERInfo = Info{Model: "Libera SparkER", ADCBits: 14, ADCCount: 4, MaxInput: 6, SwitchStraight: 3}

// SparkERPort is the Telnet port used when the address has none.
const SparkERPort = 23

const (
	sparkerTolerance = -40
	sparkerSamples   = 100
	sparkerADCLen    = 200
)

// SparkER drives a Libera SparkER through its Telnet SCPI interface.
type SparkER struct {
	mgr      *connectionmgr.Manager
	mac      string
	autoTrig bool
	log      logging.Logger
	state    *memState
}

// SparkEROptions configures DialSparkER.
type SparkEROptions struct {
	Options
	Timeout time.Duration
	// AutoTrigger fires a software TRIG before each read when no hardware
	// trigger is connected.
	AutoTrigger bool
}

// DialSparkER connects to addr (host:port), starts acquisition and fires
// the first trigger.
func DialSparkER(ctx context.Context, addr string, opts SparkEROptions) (*SparkER, error) {
	opts.Options = opts.Options.withDefaults("bpm")
	mgr := connectionmgr.New(addr)
	if opts.Timeout > 0 {
		mgr.Timeout = opts.Timeout
	}
	mgr.Logger = opts.Logger
	if err := mgr.Connect(ctx); err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	mac, err := opts.Resolver.MAC(ctx, host)
	if err != nil {
		mgr.Close()
		return nil, fmt.Errorf("mac address of %s: %w", host, err)
	}
	s, err := NewSparkER(ctx, mgr, mac, opts.AutoTrigger, opts.Logger)
	if err != nil {
		mgr.Close()
		return nil, err
	}
	return s, nil
}

// NewSparkER starts a SparkER on an already connected manager.
func NewSparkER(ctx context.Context, mgr *connectionmgr.Manager, mac string, autoTrig bool, logger logging.Logger) (*SparkER, error) {
	s := &SparkER{
		mgr:      mgr,
		mac:      mac,
		autoTrig: autoTrig,
		log:      logging.OrDefault(logger),
		state:    newMemState(SparkERInfo.SwitchStraight),
	}
	if _, err := s.exchange(ctx, "START"); err != nil {
		return nil, fmt.Errorf("start acquisition: %w", err)
	}
	if err := s.trigger(ctx); err != nil {
		return nil, err
	}
	id, _ := s.DeviceID(ctx)
	s.log.Info("opened connection", logging.F("device", id))
	return s, nil
}

// exchange writes cmd and reads one reply line; an empty reply is not an
// error since control commands may not answer.
func (s *SparkER) exchange(ctx context.Context, cmd string) (string, error) {
	reply, err := s.mgr.Query(ctx, cmd)
	if errors.Is(err, connectionmgr.ErrEmptyReply) {
		return "", nil
	}
	return reply, err
}

func (s *SparkER) trigger(ctx context.Context) error {
	if !s.autoTrig {
		return nil
	}
	if _, err := s.exchange(ctx, "TRIG"); err != nil {
		return fmt.Errorf("software trigger: %w", err)
	}
	return nil
}

// values triggers, sends cmd and parses the whitespace separated reply.
func (s *SparkER) values(ctx context.Context, cmd string) ([]float64, error) {
	if err := s.trigger(ctx); err != nil {
		return nil, err
	}
	reply, err := s.mgr.Query(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return parseFloats(reply)
}

func parseFloats(reply string) ([]float64, error) {
	fields := strings.Fields(reply)
	if len(fields) == 0 {
		return nil, ErrIncompleteCapture
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", f, err)
		}
		out[i] = v
	}
	return out, nil
}

// interleaved returns every stride-th value starting at offset.
func interleaved(vals []float64, offset, stride int) []float64 {
	out := make([]float64, 0, len(vals)/stride+1)
	for i := offset; i < len(vals); i += stride {
		out = append(out, vals[i])
	}
	return out
}

func (s *SparkER) DeviceID(context.Context) (string, error) {
	return fmt.Sprintf("Spark BPM %q", s.mac), nil
}

func (s *SparkER) MACAddress() string { return s.mac }

// xy returns the mean X and Y of a TBT_XY burst in mm.
func (s *SparkER) xy(ctx context.Context) (float64, float64, error) {
	vals, err := s.values(ctx, fmt.Sprintf("TBT_XY %d", sparkerSamples))
	if err != nil {
		return 0, 0, err
	}
	return mean(interleaved(vals, 0, 2)) / 1000, mean(interleaved(vals, 1, 2)) / 1000, nil
}

func (s *SparkER) XPosition(ctx context.Context) (float64, error) {
	x, _, err := s.xy(ctx)
	return x, err
}

func (s *SparkER) YPosition(ctx context.Context) (float64, error) {
	_, y, err := s.xy(ctx)
	return y, err
}

func (s *SparkER) qsum(ctx context.Context) (float64, error) {
	vals, err := s.values(ctx, fmt.Sprintf("TBT_QSUM %d", sparkerSamples))
	if err != nil {
		return 0, err
	}
	sums := interleaved(vals, 1, 2)
	if len(sums) == 0 {
		return 0, ErrIncompleteCapture
	}
	return mean(sums), nil
}

func (s *SparkER) BeamCurrent(ctx context.Context) (float64, error) { return s.qsum(ctx) }
func (s *SparkER) InputPower(ctx context.Context) (float64, error)  { return s.qsum(ctx) }

func (s *SparkER) ADCSum(ctx context.Context) (float64, error) {
	v, err := s.qsum(ctx)
	return math.Round(v), err
}

// RawButtons is the RMS of each channel of an interleaved ADC burst.
func (s *SparkER) RawButtons(ctx context.Context) (Buttons, error) {
	vals, err := s.values(ctx, fmt.Sprintf("ADC %d", sparkerADCLen))
	if err != nil {
		return Buttons{}, err
	}
	var b Buttons
	for ch := range b {
		samples := interleaved(vals, ch, 4)
		if len(samples) == 0 {
			return Buttons{}, ErrIncompleteCapture
		}
		var sq float64
		for _, v := range samples {
			sq += v * v
		}
		b[ch] = math.Sqrt(sq / float64(len(samples)))
	}
	return b, nil
}

func (s *SparkER) NormalisedButtons(ctx context.Context) (Buttons, error) {
	b, err := s.RawButtons(ctx)
	if err != nil {
		return Buttons{}, err
	}
	return b.Normalised()
}

// Attenuation is held locally; the SCPI interface has no attenuator command.
func (s *SparkER) Attenuation(context.Context) (float64, error) {
	return s.state.get().Attenuation, nil
}

func (s *SparkER) SetAttenuation(_ context.Context, db float64) error {
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	s.state.setAttenuation(db)
	return nil
}

func (s *SparkER) InputTolerance() float64 { return sparkerTolerance }

func (s *SparkER) ADCData(context.Context, int) (Waveform, error) {
	return Waveform{}, fmt.Errorf("adc data: %w", ErrUnsupported)
}

func (s *SparkER) TTData(context.Context) (Waveform, error) {
	return Waveform{}, fmt.Errorf("turn by turn data: %w", ErrUnsupported)
}

func (s *SparkER) FTData(context.Context) (Waveform, error) {
	return Waveform{}, fmt.Errorf("first turn data: %w", ErrUnsupported)
}

func (s *SparkER) SAData(context.Context, int) (Waveform, error) {
	return Waveform{}, fmt.Errorf("sa button data: %w", ErrUnsupported)
}

// XSAData reads n turn by turn positions and stamps them at the SA rate.
func (s *SparkER) XSAData(ctx context.Context, n int) (Series, error) {
	return s.saSeries(ctx, n, 0)
}

func (s *SparkER) YSAData(ctx context.Context, n int) (Series, error) {
	return s.saSeries(ctx, n, 1)
}

func (s *SparkER) saSeries(ctx context.Context, n, offset int) (Series, error) {
	if n <= 0 {
		return Series{}, fmt.Errorf("sample count %d: %w", n, ErrOutOfRange)
	}
	vals, err := s.values(ctx, fmt.Sprintf("TBT_XY %d", n))
	if err != nil {
		return Series{}, err
	}
	data := interleaved(vals, offset, 2)
	for i := range data {
		data[i] /= 1000
	}
	return Series{Times: sampleTimes(len(data), 1/SARate), Values: data}, nil
}

func (s *SparkER) InternalState(context.Context) (InternalState, error) { return s.state.get(), nil }

func (s *SparkER) SetInternalState(_ context.Context, st InternalState) error {
	if err := CheckAttenuation(st.Attenuation); err != nil {
		return err
	}
	s.state.set(st)
	s.log.Debug("internal state recorded only", logging.F("dsc", st.DSC.String()))
	return nil
}

func (s *SparkER) PerformanceSpec() PerformanceSpec { return LiberaSpec() }
func (s *SparkER) Info() Info                       { return SparkERInfo }

func (s *SparkER) Snapshot(ctx context.Context) (InternalState, error) { return s.InternalState(ctx) }

func (s *SparkER) Restore(ctx context.Context, st InternalState) error {
	return s.SetInternalState(ctx, st)
}

func (s *SparkER) Close() error {
	s.log.Info("closed connection", logging.F("mac", s.mac))
	return s.mgr.Close()
}

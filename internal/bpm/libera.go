package bpm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rjboer/bpmtest/internal/epics"
	"github.com/rjboer/bpmtest/internal/logging"
)

// Variant holds the constants that differ between Libera models sharing
// the same PV map.
type Variant struct {
	Info      Info
	Tolerance float64
	ADCRate   float64 // Hz
	TTPeriod  float64 // seconds per turn by turn sample
	FTRate    float64 // Hz
}

var (
	// ElectronVariant is the Libera Electron (launcher type flag E).
	ElectronVariant = Variant{
		Info:      Info{Model: "Libera Electron", ADCBits: 12, ADCCount: 4, MaxInput: 6, SwitchStraight: 3},
		Tolerance: -20,
		ADCRate:   117e6,
		TTPeriod:  936 / 500e6,
		FTRate:    30e6,
	}
	// BrillianceVariant is the Libera Brilliance (launcher type flag B).
	BrillianceVariant = Variant{
		Info:      Info{Model: "Libera Brilliance", ADCBits: 16, ADCCount: 4, MaxInput: 6, SwitchStraight: 3},
		Tolerance: -20,
		ADCRate:   117e6,
		TTPeriod:  936 / 500e6,
		FTRate:    30e6,
	}
)

const (
	pvX          = "SA:X"
	pvY          = "SA:Y"
	pvCurrent    = "SA:CURRENT"
	pvPower      = "SA:POWER"
	pvAtten      = "CF:ATTEN_S"
	pvKX         = "CF:KX_S"
	pvKY         = "CF:KY_S"
	pvAGC        = "CF:ATTEN:AGC_S"
	pvDelta      = "CF:ATTEN:DISP_S"
	pvOffset     = "CF:ATTEN:OFFSET_S"
	pvAutoSwitch = "CF:AUTOSW_S"
	pvSetSwitch  = "CF:SETSW_S"
	pvDSC        = "CF:DSC_S"
	pvFTEnable   = "FT:ENABLE_S"
	ttCaptureLen = 131072
)

var (
	saButtonPVs = [4]string{"SA:A", "SA:B", "SA:C", "SA:D"}
	rawADCPVs   = [4]string{"FT:RAW1", "FT:RAW2", "FT:RAW3", "FT:RAW4"}
	ttPVs       = [4]string{"TT:WFA", "TT:WFB", "TT:WFC", "TT:WFD"}
	ftPVs       = [4]string{"FT:WFA", "FT:WFB", "FT:WFC", "FT:WFD"}
)

// Libera drives Libera Electron and Brilliance units over EPICS.
type Libera struct {
	client  epics.Client
	id      string
	mac     string
	variant Variant
	opts    Options
	log     logging.Logger

	mu       sync.Mutex
	snapshot *InternalState
}

// NewElectron connects to a Libera Electron with EPICS prefix id.
func NewElectron(ctx context.Context, client epics.Client, id string, opts Options) (*Libera, error) {
	return NewLibera(ctx, client, id, ElectronVariant, opts)
}

// NewBrilliance connects to a Libera Brilliance with EPICS prefix id.
func NewBrilliance(ctx context.Context, client epics.Client, id string, opts Options) (*Libera, error) {
	return NewLibera(ctx, client, id, BrillianceVariant, opts)
}

// NewLibera resolves the unit's MAC address and snapshots its state.
func NewLibera(ctx context.Context, client epics.Client, id string, v Variant, opts Options) (*Libera, error) {
	opts = opts.withDefaults("bpm")
	l := &Libera{client: client, id: id, variant: v, opts: opts, log: opts.Logger}

	host, err := client.Host(ctx, l.pv(pvX))
	if err != nil {
		return nil, fmt.Errorf("locate %s: %w", id, err)
	}
	mac, err := opts.Resolver.MAC(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("mac address of %s (%s): %w", id, host, err)
	}
	l.mac = mac

	snap, err := l.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", id, err)
	}
	l.snapshot = &snap

	devID, _ := l.DeviceID(ctx)
	l.log.Info("opened connection", logging.F("device", devID))
	return l, nil
}

func (l *Libera) pv(suffix string) string { return epics.PV(l.id, suffix) }

func (l *Libera) get(ctx context.Context, suffix string) (float64, error) {
	return epics.GetFloat(ctx, l.client, l.pv(suffix))
}

func (l *Libera) put(ctx context.Context, suffix string, value any) error {
	return l.client.Put(ctx, l.pv(suffix), value)
}

func (l *Libera) DeviceID(context.Context) (string, error) {
	return fmt.Sprintf("%s BPM with the Epics ID %q and the MAC Address %q", l.variant.Info.Model, l.id, l.mac), nil
}

func (l *Libera) MACAddress() string { return l.mac }

func (l *Libera) XPosition(ctx context.Context) (float64, error)   { return l.get(ctx, pvX) }
func (l *Libera) YPosition(ctx context.Context) (float64, error)   { return l.get(ctx, pvY) }
func (l *Libera) BeamCurrent(ctx context.Context) (float64, error) { return l.get(ctx, pvCurrent) }
func (l *Libera) InputPower(ctx context.Context) (float64, error)  { return l.get(ctx, pvPower) }

func (l *Libera) RawButtons(ctx context.Context) (Buttons, error) {
	var b Buttons
	for i, suffix := range saButtonPVs {
		v, err := l.get(ctx, suffix)
		if err != nil {
			return Buttons{}, err
		}
		b[i] = v
	}
	return b, nil
}

func (l *Libera) NormalisedButtons(ctx context.Context) (Buttons, error) {
	b, err := l.RawButtons(ctx)
	if err != nil {
		return Buttons{}, err
	}
	return b.Normalised()
}

func (l *Libera) ADCSum(ctx context.Context) (float64, error) {
	b, err := l.RawButtons(ctx)
	if err != nil {
		return 0, err
	}
	return b.Sum(), nil
}

func (l *Libera) Attenuation(ctx context.Context) (float64, error) { return l.get(ctx, pvAtten) }

func (l *Libera) SetAttenuation(ctx context.Context, db float64) error {
	if err := CheckAttenuation(db); err != nil {
		return err
	}
	return l.put(ctx, pvAtten, db)
}

func (l *Libera) InputTolerance() float64 { return l.variant.Tolerance }

// ADCData enables first turn mode for the capture and shifts the signed
// samples by half the ADC range so every count is positive.
func (l *Libera) ADCData(ctx context.Context, nBits int) (Waveform, error) {
	if nBits <= 0 || nBits > 32 {
		return Waveform{}, fmt.Errorf("adc bits %d: %w", nBits, ErrOutOfRange)
	}
	if err := l.put(ctx, pvFTEnable, int(FirstTurnEnabled)); err != nil {
		return Waveform{}, err
	}
	l.opts.Sleep(l.opts.Settle)
	w, readErr := l.readChannels(ctx, rawADCPVs)
	if err := l.put(ctx, pvFTEnable, int(FirstTurnDisabled)); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		return Waveform{}, readErr
	}
	half := math.Pow(2, float64(nBits)) / 2
	for ch := range w.Channels {
		for i, v := range w.Channels[ch] {
			w.Channels[ch][i] = math.Trunc(v + half)
		}
	}
	w.Times = sampleTimes(len(w.Channels[0]), 1/l.variant.ADCRate)
	return w, nil
}

func (l *Libera) TTData(ctx context.Context) (Waveform, error) {
	if err := l.put(ctx, "TT:CAPLEN_S", ttCaptureLen); err != nil {
		return Waveform{}, err
	}
	if err := l.put(ctx, "TT:DELAY_S", 0); err != nil {
		return Waveform{}, err
	}
	if err := l.put(ctx, "TT:ARM", 1); err != nil {
		return Waveform{}, err
	}
	w, err := l.readChannels(ctx, ttPVs)
	if err != nil {
		return Waveform{}, err
	}
	w.Times = sampleTimes(len(w.Channels[0]), l.variant.TTPeriod)
	return w, nil
}

func (l *Libera) FTData(ctx context.Context) (Waveform, error) {
	if err := l.put(ctx, pvFTEnable, int(FirstTurnEnabled)); err != nil {
		return Waveform{}, err
	}
	w, readErr := l.readChannels(ctx, ftPVs)
	if err := l.put(ctx, pvFTEnable, int(FirstTurnDisabled)); err != nil && readErr == nil {
		readErr = err
	}
	if readErr != nil {
		return Waveform{}, readErr
	}
	w.Times = sampleTimes(len(w.Channels[0]), 1/l.variant.FTRate)
	return w, nil
}

func (l *Libera) readChannels(ctx context.Context, suffixes [4]string) (Waveform, error) {
	var w Waveform
	for i, suffix := range suffixes {
		vals, err := l.client.Get(ctx, l.pv(suffix))
		if err != nil {
			return Waveform{}, err
		}
		if len(vals) == 0 {
			return Waveform{}, fmt.Errorf("%s: %w", suffix, ErrIncompleteCapture)
		}
		w.Channels[i] = vals
	}
	return w, nil
}

// SAData monitors the four SA button PVs until n samples of each arrived.
func (l *Libera) SAData(ctx context.Context, n int) (Waveform, error) {
	pvs := make([]string, len(saButtonPVs))
	for i, s := range saButtonPVs {
		pvs[i] = l.pv(s)
	}
	return collectWaveform(ctx, l.client, pvs, n)
}

func (l *Libera) XSAData(ctx context.Context, n int) (Series, error) {
	return collectSeries(ctx, l.client, l.pv(pvX), n)
}

func (l *Libera) YSAData(ctx context.Context, n int) (Series, error) {
	return collectSeries(ctx, l.client, l.pv(pvY), n)
}

func (l *Libera) InternalState(ctx context.Context) (InternalState, error) {
	var s InternalState
	ints := []struct {
		suffix string
		dst    *int
	}{
		{pvAGC, (*int)(&s.AGC)},
		{pvAutoSwitch, (*int)(&s.Switches)},
		{pvSetSwitch, &s.SwitchState},
		{pvDSC, (*int)(&s.DSC)},
		{pvFTEnable, (*int)(&s.FirstTurn)},
	}
	for _, f := range ints {
		v, err := epics.GetInt(ctx, l.client, l.pv(f.suffix))
		if err != nil {
			return InternalState{}, err
		}
		*f.dst = v
	}
	floats := []struct {
		suffix string
		dst    *float64
	}{
		{pvDelta, &s.Delta},
		{pvAtten, &s.Attenuation},
		{pvKX, &s.KX},
		{pvKY, &s.KY},
	}
	for _, f := range floats {
		v, err := l.get(ctx, f.suffix)
		if err != nil {
			return InternalState{}, err
		}
		*f.dst = v
	}
	offsets, err := l.client.Get(ctx, l.pv(pvOffset))
	if err != nil {
		return InternalState{}, err
	}
	s.OffsetWaveform = offsets
	if len(offsets) > 0 {
		s.Offset = offsets[0]
	}
	return s, nil
}

// SetInternalState writes every field of s. A nil OffsetWaveform is
// replaced by Offset repeated over the length of the current table.
func (l *Libera) SetInternalState(ctx context.Context, s InternalState) error {
	if err := CheckAttenuation(s.Attenuation); err != nil {
		return err
	}
	offsets := s.OffsetWaveform
	if offsets == nil {
		current, err := l.client.Get(ctx, l.pv(pvOffset))
		if err != nil {
			return err
		}
		offsets = make([]float64, len(current))
		for i := range offsets {
			offsets[i] = s.Offset
		}
	}
	writes := []struct {
		suffix string
		value  any
	}{
		{pvFTEnable, int(s.FirstTurn)},
		{pvAGC, int(s.AGC)},
		{pvDelta, s.Delta},
		{pvOffset, offsets},
		{pvAutoSwitch, int(s.Switches)},
		{pvSetSwitch, s.SwitchState},
		{pvAtten, s.Attenuation},
		{pvDSC, int(s.DSC)},
	}
	for _, w := range writes {
		if err := l.put(ctx, w.suffix, w.value); err != nil {
			return fmt.Errorf("set %s: %w", w.suffix, err)
		}
	}
	l.log.Debug("internal state set",
		logging.F("agc", s.AGC.String()),
		logging.F("switches", s.Switches.String()),
		logging.F("dsc", s.DSC.String()),
		logging.F("attenuation", s.Attenuation))
	return nil
}

func (l *Libera) PerformanceSpec() PerformanceSpec { return LiberaSpec() }
func (l *Libera) Info() Info                       { return l.variant.Info }

func (l *Libera) Snapshot(ctx context.Context) (InternalState, error) {
	return l.InternalState(ctx)
}

func (l *Libera) Restore(ctx context.Context, s InternalState) error {
	return l.SetInternalState(ctx, s)
}

// Close restores the state captured at connect time. Calling it twice is
// a no-op.
func (l *Libera) Close() error {
	l.mu.Lock()
	snap := l.snapshot
	l.snapshot = nil
	l.mu.Unlock()
	if snap == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.opts.CloseTimeout)
	defer cancel()
	if err := l.Restore(ctx, *snap); err != nil {
		return fmt.Errorf("restore %s: %w", l.id, err)
	}
	l.log.Info("restored state and closed", logging.F("epics_id", l.id))
	return nil
}

func collectSeries(ctx context.Context, c epics.Client, pv string, n int) (Series, error) {
	stamps, values, err := epics.Collect(ctx, c, []string{pv}, n)
	if err != nil {
		return Series{}, err
	}
	return Series{Times: relativeSeconds(stamps[0]), Values: values[0]}, nil
}

func collectWaveform(ctx context.Context, c epics.Client, pvs []string, n int) (Waveform, error) {
	if len(pvs) != 4 {
		return Waveform{}, errors.New("need four button pvs")
	}
	stamps, values, err := epics.Collect(ctx, c, pvs, n)
	if err != nil {
		return Waveform{}, err
	}
	var w Waveform
	for i := range pvs {
		w.Channels[i] = values[i]
	}
	w.Times = relativeSeconds(stamps[0])
	return w, nil
}

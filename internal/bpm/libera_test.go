package bpm

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rjboer/bpmtest/internal/epics"
	"github.com/rjboer/bpmtest/internal/logging"
)

type fixedResolver string

func (f fixedResolver) MAC(context.Context, string) (string, error) { return string(f), nil }

const testID = "TS-DI-EBPM-05"

func newLiberaFake() *epics.Fake {
	f := epics.NewFake()
	pv := func(s string) string { return epics.PV(testID, s) }
	f.SetHost(pv(pvX), "172.23.240.5")
	f.Set(pv(pvAGC), 1)
	f.Set(pv(pvAutoSwitch), 1)
	f.Set(pv(pvSetSwitch), 3)
	f.Set(pv(pvDSC), 2)
	f.Set(pv(pvFTEnable), 0)
	f.Set(pv(pvDelta), 0)
	f.Set(pv(pvAtten), 20)
	f.Set(pv(pvKX), 10)
	f.Set(pv(pvKY), 10)
	f.Set(pv(pvOffset), 1, 1, 1, 1)
	f.Set(pv("SA:A"), 800)
	f.Set(pv("SA:B"), 900)
	f.Set(pv("SA:C"), 1100)
	f.Set(pv("SA:D"), 1200)
	f.Set(pv(pvX), 0.25)
	return f
}

func newTestElectron(t *testing.T, f *epics.Fake) *Libera {
	t.Helper()
	l, err := NewElectron(context.Background(), f, testID, Options{
		Logger:   logging.Discard(),
		Resolver: fixedResolver("00:d0:50:31:03:a2"),
		Sleep:    func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	return l
}

func TestElectronADCSum(t *testing.T) {
	l := newTestElectron(t, newLiberaFake())
	sum, err := l.ADCSum(context.Background())
	if err != nil {
		t.Fatalf("adc sum: %v", err)
	}
	if sum != 4000 {
		t.Fatalf("adc sum %v want 4000", sum)
	}
	n, err := l.NormalisedButtons(context.Background())
	if err != nil || math.Abs(n[3]-1.2) > 1e-12 {
		t.Fatalf("normalised %v %v", n, err)
	}
}

func TestElectronDeviceID(t *testing.T) {
	l := newTestElectron(t, newLiberaFake())
	id, _ := l.DeviceID(context.Background())
	want := `Libera Electron BPM with the Epics ID "TS-DI-EBPM-05" and the MAC Address "00:d0:50:31:03:a2"`
	if id != want {
		t.Fatalf("id %q", id)
	}
	if l.InputTolerance() != -20 || l.Info().ADCBits != 12 {
		t.Fatalf("unexpected electron constants")
	}
}

func TestElectronRestoresSnapshotOnClose(t *testing.T) {
	f := newLiberaFake()
	l := newTestElectron(t, f)
	ctx := context.Background()
	if err := l.SetInternalState(ctx, MeasurementState(l.Info(), 0)); err != nil {
		t.Fatalf("set state: %v", err)
	}
	if v, _ := epics.GetInt(ctx, f, epics.PV(testID, pvDSC)); v != int(DSCUnity) {
		t.Fatalf("dsc not applied: %d", v)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	st, err := l.InternalState(ctx)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.AGC != AGCOn || st.DSC != DSCAutomatic || st.Attenuation != 20 || st.Switches != SwitchesAuto {
		t.Fatalf("state not restored: %+v", st)
	}
	n := len(f.Puts())
	if err := l.Close(); err != nil || len(f.Puts()) != n {
		t.Fatalf("second close should do nothing")
	}
}

func TestElectronADCDataBracketsFirstTurn(t *testing.T) {
	f := newLiberaFake()
	for i, s := range rawADCPVs {
		f.Set(epics.PV(testID, s), -1, 0, float64(i))
	}
	l := newTestElectron(t, f)
	before := len(f.Puts())
	w, err := l.ADCData(context.Background(), 16)
	if err != nil {
		t.Fatalf("adc data: %v", err)
	}
	if w.Channels[0][0] != 32767 || w.Channels[3][2] != 32771 {
		t.Fatalf("unexpected offset data %v", w.Channels)
	}
	if len(w.Times) != 3 || math.Abs(w.Times[1]-1/117e6) > 1e-15 {
		t.Fatalf("unexpected times %v", w.Times)
	}
	puts := f.Puts()[before:]
	if len(puts) != 2 || puts[0].Value != 1 || puts[1].Value != 0 {
		t.Fatalf("first turn not bracketed: %+v", puts)
	}
}

func TestElectronADCDataMissingChannel(t *testing.T) {
	f := newLiberaFake()
	f.Set(epics.PV(testID, "FT:RAW1"), 1, 2)
	l := newTestElectron(t, f)
	if _, err := l.ADCData(context.Background(), 16); err == nil {
		t.Fatalf("expected error for missing channels")
	}
	if v, _ := epics.GetInt(context.Background(), f, epics.PV(testID, pvFTEnable)); v != 0 {
		t.Fatalf("first turn left enabled")
	}
}

func TestElectronSAData(t *testing.T) {
	l := newTestElectron(t, newLiberaFake())
	w, err := l.SAData(context.Background(), 5)
	if err != nil {
		t.Fatalf("sa data: %v", err)
	}
	if len(w.Times) != 5 || w.Channels[2][4] != 1100 || w.Times[0] != 0 {
		t.Fatalf("unexpected sa capture %+v", w)
	}
	x, err := l.XSAData(context.Background(), 3)
	if err != nil || len(x.Values) != 3 || x.Values[0] != 0.25 {
		t.Fatalf("x sa %+v %v", x, err)
	}
}

func TestLiberaRejectsBadAttenuation(t *testing.T) {
	l := newTestElectron(t, newLiberaFake())
	if err := l.SetAttenuation(context.Background(), -1); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

package analysis

import (
	"math"
	"reflect"
	"testing"
)

func near(a, b, tol float64) bool { return math.Abs(a-b) <= tol }

func TestMeanStdIsPopulation(t *testing.T) {
	mean, std := MeanStd([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if mean != 5 || !near(std, 2, 1e-12) {
		t.Fatalf("mean %v std %v", mean, std)
	}
	if _, std := MeanStd([]float64{3}); std != 0 {
		t.Fatalf("single sample std %v", std)
	}
	if mean, std := MeanStd(nil); !math.IsNaN(mean) || !math.IsNaN(std) {
		t.Fatalf("empty data gave %v %v", mean, std)
	}
	s, err := Summarise([]float64{1, -2, 3})
	if err != nil || s.Max != 3 || s.Min != -2 {
		t.Fatalf("summary %+v %v", s, err)
	}
	if _, err := Summarise(nil); err == nil {
		t.Fatalf("expected error for empty data")
	}
}

func TestRounding(t *testing.T) {
	tests := []struct {
		fn   func(float64) float64
		in   float64
		want float64
	}{
		{QuarterRound, 3.1, 3},
		{QuarterRound, 3.13, 3.25},
		{QuarterRound, -1.4, -1.5},
		{RoundTo2SF, 1.23456, 1.23},
		{RoundTo2SF, -0.005001, -0.01},
	}
	for _, tc := range tests {
		if got := tc.fn(tc.in); !near(got, tc.want, 1e-12) {
			t.Fatalf("round(%v)=%v want %v", tc.in, got, tc.want)
		}
	}
}

func TestRanges(t *testing.T) {
	if got := Linspace(-1, 1, 5); !reflect.DeepEqual(got, []float64{-1, -0.5, 0, 0.5, 1}) {
		t.Fatalf("linspace %v", got)
	}
	if got := Linspace(4, 9, 1); !reflect.DeepEqual(got, []float64{4}) {
		t.Fatalf("single point linspace %v", got)
	}
	got := Arange(-6, -86, -5)
	if len(got) != 16 || got[0] != -6 || got[15] != -81 {
		t.Fatalf("arange %v", got)
	}
	if Arange(1, 0, 0.5) != nil {
		t.Fatalf("expected empty arange for a step away from stop")
	}
}

func TestFFTFreq(t *testing.T) {
	if got := FFTFreq(4, 0.25); !reflect.DeepEqual(got, []float64{0, 1, -2, -1}) {
		t.Fatalf("even freq %v", got)
	}
	if got := FFTFreq(5, 1); !reflect.DeepEqual(got, []float64{0, 0.2, 0.4, -0.4, -0.2}) {
		t.Fatalf("odd freq %v", got)
	}
}

func TestSpectrumPeak(t *testing.T) {
	n := 64
	times := make([]float64, n)
	data := make([]float64, n)
	for i := range data {
		times[i] = float64(i) * 1e-4
		data[i] = 3 + math.Sin(2*math.Pi*8*float64(i)/float64(n))
	}
	freqs, mags, err := Spectrum(times, data)
	if err != nil {
		t.Fatalf("spectrum: %v", err)
	}
	if len(freqs) != n || !near(mags[0], 3*float64(n), 1e-9) || !near(mags[8], float64(n)/2, 1e-9) {
		t.Fatalf("dc %v bin8 %v", mags[0], mags[8])
	}
	if !near(freqs[8], 8/(float64(n)*1e-4), 1e-6) {
		t.Fatalf("bin 8 at %v Hz", freqs[8])
	}

	freqs, mags, err = NoiseSpectrum(times, data)
	if err != nil {
		t.Fatalf("noise spectrum: %v", err)
	}
	peak := 0
	for i := range mags {
		if mags[i] > mags[peak] {
			peak = i
		}
	}
	if peak != 8 || len(freqs) != n/2+1 {
		t.Fatalf("peak at bin %d of %d", peak, len(freqs))
	}
	if mags[0] > 1e-3 || !near(mags[8], 0.5, 1e-3) {
		t.Fatalf("dc %v peak %v", mags[0], mags[8])
	}
	if _, _, err := Spectrum(times[:2], data[:2]); err == nil {
		t.Fatalf("expected error for two samples")
	}
}

func TestHammingWindow(t *testing.T) {
	win := Hamming(5)
	if !near(win[0], 0.08, 1e-12) || !near(win[2], 1, 1e-12) || !near(win[4], 0.08, 1e-12) {
		t.Fatalf("window %v", win)
	}
	if len(ApplyWindow([]float64{1}, win)) != 0 {
		t.Fatalf("mismatched lengths should give an empty result")
	}
}

func TestADCMissingBitAnalysis(t *testing.T) {
	// Counts alternate between 0x8001 and 0x8000: the MSB is stuck at one,
	// the LSB toggles and everything else is stuck at zero.
	data := []float64{0x8001, 0x8000, 0x8001, 0x8000}
	std := ADCMissingBitAnalysis(data, 16)
	if len(std) != 16 || std[0] != 0 || std[15] != 0.5 || std[7] != 0 {
		t.Fatalf("bit std %v", std)
	}
	missing := MissingBits(std)
	if len(missing) != 15 || missing[0] != 1 || missing[14] != 15 {
		t.Fatalf("missing %v", missing)
	}
	if got := ADCStep(16); got != 4096 {
		t.Fatalf("adc step %v", got)
	}
}

func TestPredictedPosition(t *testing.T) {
	x, y, err := PredictedPosition(0, [4]float64{10, 10, 10, 10}, 10, 10)
	if err != nil || !near(x, 0, 1e-12) || !near(y, 0, 1e-12) {
		t.Fatalf("centred %v %v %v", x, y, err)
	}
	// Less attenuation on A and D pulls the beam to positive X.
	x, y, err = PredictedPosition(0, [4]float64{7, 13, 13, 7}, 10, 10)
	if err != nil || x <= 0 || !near(y, 0, 1e-12) {
		t.Fatalf("offset %v %v %v", x, y, err)
	}
	if got := ChannelPower(16, 10); !near(got, 1, 1e-12) {
		t.Fatalf("channel power %v", got)
	}
}

func TestRasterGrid(t *testing.T) {
	grid := RasterGrid(3, 2)
	if len(grid) != 6 {
		t.Fatalf("grid size %d", len(grid))
	}
	for _, w := range grid {
		if !near(w[0]+w[1]+w[2]+w[3], 1, 1e-12) {
			t.Fatalf("weights %v do not sum to one", w)
		}
	}
	// Middle column of the first row has equal A/B and C/D.
	mid := grid[1]
	if !near(mid[0], mid[1], 1e-9) || !near(mid[2], mid[3], 1e-9) {
		t.Fatalf("middle point %v", mid)
	}
	if got := AttenuationForShare(20, 0.25); got != 20 {
		t.Fatalf("equal share %v", got)
	}
	if got := AttenuationForShare(20, 0.5); got != 17 {
		t.Fatalf("double share %v", got)
	}
}

func TestPassFail(t *testing.T) {
	steps := [][4]float64{{100, 100, 100, 100}, {105, 95, 101, 99}}
	if v, ok := InternalAttenuator(steps, InternalAttenuatorLimit); !ok || v != Pass {
		t.Fatalf("attenuator %v", v)
	}
	steps = append(steps, [4]float64{100, 100, 111, 100})
	if v, ok := InternalAttenuator(steps, InternalAttenuatorLimit); ok || v != Fail {
		t.Fatalf("attenuator should fail")
	}

	x := [][]float64{{0.01, 0.03}, {-0.05, -0.07}}
	y := [][]float64{{0, 0}, {0.001, 0.001}}
	if _, ok := PowerDependence(x, y, PowerDependenceLimit); !ok {
		t.Fatalf("power dependence should pass at 60 um")
	}
	x[1] = []float64{-0.1, -0.2}
	if _, ok := PowerDependence(x, y, PowerDependenceLimit); ok {
		t.Fatalf("power dependence should fail at 150 um")
	}

	counts := make([]float64, 1<<16)
	for i := range counts {
		counts[i] = float64(i)
	}
	if _, ok := ADCBitTest([][]float64{counts}, 16, ADCBitLimit); !ok {
		t.Fatalf("full code ramp should pass")
	}
	if _, ok := ADCBitTest([][]float64{counts[:256]}, 16, ADCBitLimit); ok {
		t.Fatalf("stuck upper bits should fail")
	}

	mx := []float64{1.01, 0.99, -2.02, -2}
	my := []float64{0, 0.01, 1, 1}
	px := []float64{1, -2}
	py := []float64{0, 1}
	v, ok, res := RasterScan(mx, my, px, py, 2, RasterScanLimit)
	if !ok || v != Pass || len(res) != 4 {
		t.Fatalf("raster %v %v", v, res)
	}
	mx[3] = -2.2
	if _, ok, res := RasterScan(mx, my, px, py, 2, RasterScanLimit); ok || res[3] {
		t.Fatalf("raster should fail on the last sample: %v", res)
	}
	if _, ok, res := CentreOffset(mx, my, px, py, 2, CentreOffsetLimit); !ok || len(res) != 2 {
		t.Fatalf("centre offset %v", res)
	}
}

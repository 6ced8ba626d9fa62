package analysis

import "math"

// Verdicts printed in the report.
const (
	Pass = "Pass"
	Fail = "Fail"
)

// Default limits of the predicates.
const (
	InternalAttenuatorLimit = 0.1
	PowerDependenceLimit    = 100.0 // um
	ADCBitLimit             = 0.05
	RasterScanLimit         = 0.05 // mm
	CentreOffsetLimit       = 0.02 // mm
)

func verdict(ok bool) (string, bool) {
	if ok {
		return Pass, true
	}
	return Fail, false
}

// InternalAttenuator passes when the mean of every channel at every step,
// normalised to the first step, stays within 1 +/- lim. means is indexed
// [step][channel].
func InternalAttenuator(means [][4]float64, lim float64) (string, bool) {
	if len(means) == 0 {
		return verdict(false)
	}
	ref := means[0]
	for _, step := range means {
		for ch, v := range step {
			n := v / ref[ch]
			if !(n > 1-lim && n < 1+lim) {
				return verdict(false)
			}
		}
	}
	return verdict(true)
}

// PowerDependence passes when no mean position, converted from mm to um,
// is level or further from zero. Raw positions are indexed [level][sample].
func PowerDependence(xRaw, yRaw [][]float64, level float64) (string, bool) {
	if len(xRaw) == 0 || len(yRaw) == 0 {
		return verdict(false)
	}
	within := func(sets [][]float64) bool {
		means, _ := StatDataset(sets)
		for _, m := range means {
			if !(math.Abs(m*1e3) < level) {
				return false
			}
		}
		return true
	}
	return verdict(within(xRaw) && within(yRaw))
}

// ADCBitTest passes when every bit of every ADC toggles with a spread
// within 0.5 +/- lim. data is indexed [adc][sample].
func ADCBitTest(data [][]float64, nBits int, lim float64) (string, bool) {
	if len(data) == 0 {
		return verdict(false)
	}
	for _, adc := range data {
		for _, s := range ADCMissingBitAnalysis(adc, nBits) {
			if !(s > 0.5-lim && s < 0.5+lim) {
				return verdict(false)
			}
		}
	}
	return verdict(true)
}

// distances compares every measured point with the predicted point it
// belongs to. Each predicted point owns samples consecutive measurements.
func distances(mx, my, px, py []float64, samples int) []float64 {
	if samples <= 0 {
		samples = 1
	}
	var out []float64
	k := 0
	for p := range px {
		for s := 0; s < samples && k < len(mx) && k < len(my); s++ {
			dx := math.Abs(mx[k]) - math.Abs(px[p])
			dy := math.Abs(my[k]) - math.Abs(py[p])
			out = append(out, math.Sqrt(dx*dx+dy*dy))
			k++
		}
	}
	return out
}

func allBelow(dists []float64, lim float64) ([]bool, bool) {
	ok := len(dists) > 0
	res := make([]bool, len(dists))
	for i, d := range dists {
		res[i] = d < lim
		ok = ok && res[i]
	}
	return res, ok
}

// RasterScan passes when every measured position lies within lim mm of
// its predicted position. The per sample results are returned as well.
func RasterScan(mx, my, px, py []float64, samples int, lim float64) (string, bool, []bool) {
	res, ok := allBelow(distances(mx, my, px, py, samples), lim)
	v, ok := verdict(ok)
	return v, ok, res
}

// CentreOffset applies the raster scan comparison to the first grid point
// only.
func CentreOffset(mx, my, px, py []float64, samples int, lim float64) (string, bool, []bool) {
	if len(px) > 1 {
		px, py = px[:1], py[:1]
	}
	return RasterScan(mx, my, px, py, samples, lim)
}

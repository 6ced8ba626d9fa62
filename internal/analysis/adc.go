package analysis

import "math"

// bitWidth is the word size ADC counts are decoded with. EPICS always
// delivers 16 bit counts whatever the converter resolution.
const bitWidth = 16

// ADCMissingBitAnalysis returns, for each of the nBits most significant
// bits of the counts, the standard deviation of that bit over all samples.
// A healthy bit toggles about half the time and so sits near 0.5; a bit
// stuck at 0 or 1 has no spread.
func ADCMissingBitAnalysis(data []float64, nBits int) []float64 {
	width := bitWidth
	if nBits > width {
		width = nBits
	}
	out := make([]float64, nBits)
	if len(data) == 0 {
		return out
	}
	bit := make([]float64, len(data))
	for b := 0; b < nBits; b++ {
		shift := uint(width - 1 - b)
		for i, v := range data {
			word := uint64(int64(v)) & (1<<uint(width) - 1)
			bit[i] = float64((word >> shift) & 1)
		}
		_, out[b] = MeanStd(bit)
	}
	return out
}

// MissingBits lists the 1-based bit numbers whose spread is zero.
func MissingBits(bitStd []float64) []int {
	var out []int
	for i, s := range bitStd {
		if s == 0 {
			out = append(out, i+1)
		}
	}
	return out
}

// ADCStep is the number of counts per display bin when a converter of
// nBits is shown as nBits bins.
func ADCStep(nBits int) float64 {
	if nBits <= 0 {
		return math.NaN()
	}
	return math.Pow(2, float64(nBits)) / float64(nBits)
}

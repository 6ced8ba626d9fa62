package analysis

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// SampleSpacing returns the mean interval between sample times. The last
// interval is left out as it often straddles a capture boundary.
func SampleSpacing(times []float64) (float64, error) {
	if len(times) < 3 {
		return 0, fmt.Errorf("%d sample times: %w", len(times), ErrEmpty)
	}
	var sum float64
	n := len(times) - 2
	for i := 0; i < n; i++ {
		sum += times[i+1] - times[i]
	}
	d := sum / float64(n)
	if d <= 0 {
		return 0, fmt.Errorf("sample spacing %v is not positive", d)
	}
	return d, nil
}

// FFTFreq returns the frequency of each coefficient of an n point
// transform with sample spacing d, in transform order: zero and the
// positive frequencies first, then the negative ones.
func FFTFreq(n int, d float64) []float64 {
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	for i := range out {
		k := i
		if i >= (n+1)/2 {
			k = i - n
		}
		out[i] = float64(k) / (float64(n) * d)
	}
	return out
}

// Spectrum transforms a time series and returns the frequency axis and the
// magnitude of every coefficient.
func Spectrum(times, data []float64) ([]float64, []float64, error) {
	if len(times) != len(data) {
		return nil, nil, fmt.Errorf("%d times for %d samples", len(times), len(data))
	}
	d, err := SampleSpacing(times)
	if err != nil {
		return nil, nil, err
	}
	in := make([]complex128, len(data))
	for i, v := range data {
		in[i] = complex(v, 0)
	}
	coeff := fourier.NewCmplxFFT(len(in)).Coefficients(nil, in)
	mags := make([]float64, len(coeff))
	for i, c := range coeff {
		mags[i] = cmplx.Abs(c)
	}
	return FFTFreq(len(data), d), mags, nil
}

// NoiseSpectrum is the one sided amplitude spectrum of data with its mean
// removed, Hamming windowed and normalised by the window sum, so that a
// sine of amplitude a shows a peak near a/2.
func NoiseSpectrum(times, data []float64) ([]float64, []float64, error) {
	if len(times) != len(data) {
		return nil, nil, fmt.Errorf("%d times for %d samples", len(times), len(data))
	}
	d, err := SampleSpacing(times)
	if err != nil {
		return nil, nil, err
	}
	mean, _ := MeanStd(data)
	win := Hamming(len(data))
	windowed := ApplyWindow(data, win)
	for i := range windowed {
		windowed[i] -= mean * win[i]
	}
	var sumWin float64
	for _, v := range win {
		sumWin += v
	}
	fft := fourier.NewFFT(len(windowed))
	coeff := fft.Coefficients(nil, windowed)
	freqs := make([]float64, len(coeff))
	mags := make([]float64, len(coeff))
	for i, c := range coeff {
		freqs[i] = fft.Freq(i) / d
		mags[i] = cmplx.Abs(c) / sumWin
	}
	return freqs, mags, nil
}

// Hamming returns a Hamming window of length n.
func Hamming(n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	if n == 1 {
		return []float64{1}
	}
	win := make([]float64, n)
	for i := range win {
		win[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return win
}

// ApplyWindow multiplies samples by window. Mismatched lengths give an
// empty result.
func ApplyWindow(samples, window []float64) []float64 {
	if len(samples) != len(window) {
		return []float64{}
	}
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = v * window[i]
	}
	return out
}

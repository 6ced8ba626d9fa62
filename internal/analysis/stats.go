// Package analysis holds the arithmetic applied to recorded test data:
// summary statistics, spectra, ADC bit checks, predicted beam positions and
// the pass/fail predicates of the report.
package analysis

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrEmpty is returned when a statistic is asked of no data.
var ErrEmpty = errors.New("no data")

// Stats holds the summary of one data set.
type Stats struct {
	Mean, Std, Max, Min float64
}

// MeanStd returns the mean and the population standard deviation.
func MeanStd(data []float64) (float64, float64) {
	if len(data) == 0 {
		return math.NaN(), math.NaN()
	}
	return stat.PopMeanStdDev(data, nil)
}

// Summarise returns mean, std, max and min of data.
func Summarise(data []float64) (Stats, error) {
	if len(data) == 0 {
		return Stats{}, ErrEmpty
	}
	mean, std := MeanStd(data)
	return Stats{Mean: mean, Std: std, Max: floats.Max(data), Min: floats.Min(data)}, nil
}

// StatDataset returns the mean and std of every set.
func StatDataset(sets [][]float64) (means, stds []float64) {
	means = make([]float64, len(sets))
	stds = make([]float64, len(sets))
	for i, s := range sets {
		means[i], stds[i] = MeanStd(s)
	}
	return means, stds
}

// Scale returns data multiplied by k.
func Scale(data []float64, k float64) []float64 {
	out := append([]float64(nil), data...)
	floats.Scale(k, out)
	return out
}

// Linspace returns n evenly spaced values from start to end inclusive.
func Linspace(start, end float64, n int) []float64 {
	switch {
	case n <= 0:
		return nil
	case n == 1:
		return []float64{start}
	}
	return floats.Span(make([]float64, n), start, end)
}

// Arange returns start, start+step, ... stopping before stop.
func Arange(start, stop, step float64) []float64 {
	if step == 0 || (stop-start)/step <= 0 {
		return nil
	}
	n := int(math.Ceil((stop - start) / step))
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

// QuarterRound rounds x to the nearest 0.25.
func QuarterRound(x float64) float64 { return math.Round(x*4) / 4 }

// RoundTo2SF rounds x to two decimal places, as printed in report tables.
func RoundTo2SF(x float64) float64 { return math.Round(x*100) / 100 }

// RoundAll applies RoundTo2SF to every value.
func RoundAll(data []float64) []float64 {
	out := make([]float64, len(data))
	for i, v := range data {
		out[i] = RoundTo2SF(v)
	}
	return out
}

// Concat joins several sample sets into one.
func Concat(sets [][]float64) []float64 {
	var out []float64
	for _, s := range sets {
		out = append(out, s...)
	}
	return out
}

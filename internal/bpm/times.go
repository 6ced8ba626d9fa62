package bpm

import "time"

func relativeSeconds(stamps []time.Time) []float64 {
	out := make([]float64, len(stamps))
	if len(stamps) == 0 {
		return out
	}
	for i, s := range stamps {
		out[i] = s.Sub(stamps[0]).Seconds()
	}
	return out
}

package bpm

// Curve is a piecewise specification: Y (um) against input power X (dBm).
type Curve struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
}

// RangeLimit bounds the position deviation (um) while the input power stays
// between High and Low dBm.
type RangeLimit struct {
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Limit float64 `json:"limit"`
}

// FillPatternLimit bounds the position change (um) over a fill range in %.
type FillPatternLimit struct {
	Range [2]float64 `json:"range"`
	Limit float64    `json:"limit"`
}

// PerformanceSpec is the factory specification a BPM is judged against.
// Noise is measured at 10 kHz (BW 2 kHz, DSC on, AGC off) and turn by
// turn (BW 0.3 fs, DSC off, AGC off).
type PerformanceSpec struct {
	Noise10kHz           Curve            `json:"noise_10kHz"`
	Noise1MHz            Curve            `json:"noise_1MHz"`
	PowerDependenceX     Curve            `json:"Beam_power_dependence_X"`
	PowerDependenceY     Curve            `json:"Beam_power_dependence_Y"`
	DeviationWithinRange []RangeLimit     `json:"deviation_within_range"`
	FillPattern          FillPatternLimit `json:"Fill_pattern_dependence"`
}

// Curve returns a specification curve by its record name.
func (p PerformanceSpec) Curve(name string) (Curve, bool) {
	switch name {
	case "noise_10kHz":
		return p.Noise10kHz, true
	case "noise_1MHz":
		return p.Noise1MHz, true
	case "Beam_power_dependence_X":
		return p.PowerDependenceX, true
	case "Beam_power_dependence_Y":
		return p.PowerDependenceY, true
	}
	return Curve{}, false
}

func deviationLimits() []RangeLimit {
	bounds := [][3]float64{
		{0, -8, 1}, {-8, -20, 1}, {-20, -32, 1}, {-32, -40, 1},
		{-40, -56, 1}, {-56, -68, 5}, {-68, -70, 50},
	}
	out := make([]RangeLimit, len(bounds))
	for i, b := range bounds {
		out[i] = RangeLimit{High: b[0], Low: b[1], Limit: b[2]}
	}
	return out
}

// LiberaSpec applies to the Libera and Spark families.
func LiberaSpec() PerformanceSpec {
	powerDep := Curve{
		X: []float64{0, -2, -56, -68, -74, -80},
		Y: []float64{0, 1, 2, 10, 20, 50},
	}
	return PerformanceSpec{
		Noise10kHz: Curve{
			X: []float64{0, -24, -32, -40, -44, -50, -56, -62, -68, -74, -80},
			Y: []float64{0.2, 0.3, 0.5, 1, 2, 4, 5, 10, 20, 50, 100},
		},
		Noise1MHz: Curve{
			X: []float64{0, -32, -36, -40, -44, -50, -56, -62, -68, -74, -80},
			Y: []float64{3, 5, 6, 8, 15, 30, 50, 150, 300, 600, 1500},
		},
		PowerDependenceX:     powerDep,
		PowerDependenceY:     Curve{X: append([]float64(nil), powerDep.X...), Y: append([]float64(nil), powerDep.Y...)},
		DeviationWithinRange: deviationLimits(),
		FillPattern:          FillPatternLimit{Range: [2]float64{20, 100}, Limit: 1},
	}
}

// SimulatedSpec holds the same limits drawn as steps.
func SimulatedSpec() PerformanceSpec {
	powerDep := func() Curve {
		return Curve{
			X: []float64{0, -2, -2, -56, -56, -68, -68, -74, -74, -80, -80},
			Y: []float64{0, 0, 1, 1, 2, 2, 10, 10, 20, 20, 50},
		}
	}
	return PerformanceSpec{
		Noise10kHz: Curve{
			X: []float64{0, -24, -24, -32, -32, -40, -40, -44, -44, -50, -50, -56, -56, -62, -62, -68, -68, -74, -74, -80, -80},
			Y: []float64{0.2, 0.2, 0.3, 0.3, 0.5, 0.5, 1, 1, 2, 2, 4, 4, 5, 5, 10, 10, 20, 20, 50, 50, 100},
		},
		Noise1MHz: Curve{
			X: []float64{0, -32, -32, -36, -36, -40, -40, -44, -44, -50, -50, -56, -56, -62, -62, -68, -68, -74, -74, -80, -80},
			Y: []float64{3, 3, 5, 5, 6, 6, 8, 8, 15, 15, 30, 30, 50, 50, 150, 150, 300, 300, 600, 600, 1500},
		},
		PowerDependenceX:     powerDep(),
		PowerDependenceY:     powerDep(),
		DeviationWithinRange: deviationLimits(),
		FillPattern:          FillPatternLimit{Range: [2]float64{20, 100}, Limit: 1},
	}
}

package analysis

import (
	"math"

	"github.com/rjboer/bpmtest/internal/bpm"
)

// SplitLoss is the per channel share of a four way splitter in dB.
const SplitLoss = 6.0

// ChannelPower returns the mW reaching a button from an RF level in dBm
// through the splitter and an attenuation in dB.
func ChannelPower(rf, attenuation float64) float64 {
	return math.Pow(10, (rf-SplitLoss-attenuation)/10)
}

// PredictedPosition computes where a BPM should place the beam when the
// buttons see rf through the given per-channel attenuations.
func PredictedPosition(rf float64, attenuations [4]float64, kx, ky float64) (float64, float64, error) {
	var b bpm.Buttons
	for i, a := range attenuations {
		b[i] = ChannelPower(rf, a)
	}
	return bpm.Position(b, kx, ky)
}

// RasterGrid returns the per-channel power weights of the equidistant
// grid raster scan. For every row y in [-1, 1] the four buttons follow a
// gradient across the columns so that the beam appears to sweep
// horizontally; the rows shift it vertically. Each point is normalised so
// that the weights sum to one.
func RasterGrid(xPoints, yPoints int) [][4]float64 {
	gradient := Linspace(0.0001, 2, xPoints)
	inverse := make([]float64, len(gradient))
	for i := range gradient {
		inverse[i] = gradient[len(gradient)-1-i]
	}
	var out [][4]float64
	for _, y := range Linspace(-1, 1, yPoints) {
		for i := range gradient {
			w := [4]float64{
				gradient[i] + y + 1,
				inverse[i] + y + 1,
				inverse[i] - y + 1,
				gradient[i] - y + 1,
			}
			sum := w[0] + w[1] + w[2] + w[3]
			for c := range w {
				w[c] /= sum
			}
			out = append(out, w)
		}
	}
	return out
}

// AttenuationForShare returns the attenuation that reduces an equal four
// way split down to the given power share, added to nominal and rounded
// to the attenuator's 0.25 dB step.
func AttenuationForShare(nominal, share float64) float64 {
	return nominal - QuarterRound(10*math.Log10(share/0.25))
}

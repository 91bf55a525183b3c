package filters

import (
	"math"
)

// DCRemoval is a one-pole DC blocking filter:
//
//	y[n] = x[n] - x[n-1] + R*y[n-1]
//
// See J. O. Smith, "Introduction to Digital Filters", DC Blocker.
type DCRemoval struct {
	poleLocation float64
}

// NewDCRemovalWithCutoff derives the pole from a -3 dB cutoff using
// R = 1 - 2*pi*fc/fs, clamped to (0, 1).
func NewDCRemovalWithCutoff(sampleRate int, cutoffFreq float64) *DCRemoval {
	r := 0.995
	if sampleRate > 0 && cutoffFreq > 0 {
		r = 1.0 - (2.0 * math.Pi * cutoffFreq / float64(sampleRate))
	}
	r = math.Min(math.Max(r, 0.001), 0.999)
	return &DCRemoval{poleLocation: r}
}

// ProcessBuffer filters input from a zero state into a new slice
func (dc *DCRemoval) ProcessBuffer(input []float64) []float64 {
	output := make([]float64, len(input))

	var x1, y1 float64
	for i, x := range input {
		y := x - x1 + dc.poleLocation*y1
		output[i] = y
		x1, y1 = x, y
	}

	return output
}

// PoleLocation returns R
func (dc *DCRemoval) PoleLocation() float64 {
	return dc.poleLocation
}

package spectral

import (
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
)

// FFT wraps the real-input transform from mjibson/go-dsp.
type FFT struct{}

// NewFFT creates a new FFT calculator
func NewFFT() *FFT {
	return &FFT{}
}

// Compute returns the full complex spectrum of x. go-dsp handles
// non-power-of-two sizes.
func (f *FFT) Compute(x []float64) []complex128 {
	if len(x) == 0 {
		return []complex128{}
	}
	return fft.FFTReal(x)
}

// Magnitudes writes |X[k]| for the positive-frequency bins k = 0..len(x)/2
// into dst, which must have length len(x)/2+1.
func (f *FFT) Magnitudes(x []float64, dst []float64) {
	spectrum := f.Compute(x)
	for k := range dst {
		dst[k] = cmplx.Abs(spectrum[k])
	}
}

package spectral

import (
	"fmt"
	"math"
)

// HzToMel converts frequency in Hz to mel scale
func HzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

// MelToHz converts mel scale to frequency in Hz
func MelToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// MelFilterBank is a set of triangular filters spaced evenly on the mel
// scale. Immutable after construction.
type MelFilterBank struct {
	filters  [][]float64
	freqBins int
}

// NewMelFilterBank builds numFilters triangular filters over [lowFreq,
// highFreq] for an FFT of fftSize points. Weights are computed from each
// bin's center frequency so narrow low-frequency filters never collapse to
// zero width.
func NewMelFilterBank(numFilters, fftSize, sampleRate int, lowFreq, highFreq float64) (*MelFilterBank, error) {
	if numFilters <= 0 || fftSize <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid mel filter bank parameters: filters=%d fft=%d rate=%d", numFilters, fftSize, sampleRate)
	}
	if highFreq <= lowFreq {
		return nil, fmt.Errorf("high frequency %.1f must exceed low frequency %.1f", highFreq, lowFreq)
	}

	lowMel := HzToMel(lowFreq)
	highMel := HzToMel(highFreq)
	melStep := (highMel - lowMel) / float64(numFilters+1)

	edges := make([]float64, numFilters+2)
	for i := range edges {
		edges[i] = MelToHz(lowMel + float64(i)*melStep)
	}

	freqBins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)

	filters := make([][]float64, numFilters)
	for m := range numFilters {
		left, center, right := edges[m], edges[m+1], edges[m+2]
		filters[m] = make([]float64, freqBins)

		for k := range freqBins {
			f := float64(k) * binHz
			rising := (f - left) / (center - left)
			falling := (right - f) / (right - center)
			filters[m][k] = math.Max(0, math.Min(rising, falling))
		}
	}

	return &MelFilterBank{filters: filters, freqBins: freqBins}, nil
}

// Apply projects a power spectrum onto the filter bank
func (b *MelFilterBank) Apply(powerSpectrum []float64) []float64 {
	melSpectrum := make([]float64, len(b.filters))

	for i, filter := range b.filters {
		sum := 0.0
		for j := 0; j < len(filter) && j < len(powerSpectrum); j++ {
			sum += powerSpectrum[j] * filter[j]
		}
		melSpectrum[i] = sum
	}

	return melSpectrum
}

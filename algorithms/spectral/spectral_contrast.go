package spectral

import (
	"fmt"
	"math"
	"sort"
)

// ContrastParams configures spectral contrast
type ContrastParams struct {
	NumBands int     `json:"num_bands" msgpack:"num_bands"` // total output values, including the sub-MinFreq band
	MinFreq  float64 `json:"min_freq" msgpack:"min_freq"`   // lower edge of the first log-spaced band
	Quantile float64 `json:"quantile" msgpack:"quantile"`   // fraction of each band averaged for peak and valley
}

// SpectralContrast measures the dB difference between spectral peaks and
// valleys in each sub-band. Band 0 covers [0, MinFreq); the remaining bands
// are log-spaced from MinFreq up to Nyquist. Immutable after construction.
type SpectralContrast struct {
	params    ContrastParams
	bandEdges []int
}

// NewSpectralContrast prepares band edges for spectra from an FFT of
// fftSize points at sampleRate.
func NewSpectralContrast(sampleRate, fftSize int, params ContrastParams) (*SpectralContrast, error) {
	if params.NumBands < 2 {
		return nil, fmt.Errorf("spectral contrast needs at least 2 bands, got %d", params.NumBands)
	}
	if params.Quantile <= 0 || params.Quantile >= 0.5 {
		return nil, fmt.Errorf("spectral contrast quantile must be in (0, 0.5), got %g", params.Quantile)
	}

	nyquist := float64(sampleRate) / 2.0
	if params.MinFreq <= 0 || params.MinFreq >= nyquist {
		return nil, fmt.Errorf("spectral contrast min frequency %.1f outside (0, %.1f)", params.MinFreq, nyquist)
	}

	numBins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)
	freqToBin := func(freq float64) int {
		bin := int(math.Round(freq / binHz))
		return max(0, min(bin, numBins-1))
	}

	edges := make([]int, params.NumBands+1)
	edges[0] = 0

	logMin := math.Log10(params.MinFreq)
	logStep := (math.Log10(nyquist) - logMin) / float64(params.NumBands-1)
	for i := 1; i <= params.NumBands; i++ {
		edges[i] = freqToBin(math.Pow(10.0, logMin+float64(i-1)*logStep))
	}
	edges[params.NumBands] = numBins

	// keep every band at least one bin wide
	for i := 1; i <= params.NumBands; i++ {
		if edges[i] <= edges[i-1] {
			edges[i] = edges[i-1] + 1
		}
	}
	if edges[params.NumBands] > numBins {
		return nil, fmt.Errorf("%d contrast bands do not fit in %d frequency bins", params.NumBands, numBins)
	}

	return &SpectralContrast{params: params, bandEdges: edges}, nil
}

// Compute calculates spectral contrast for a single magnitude spectrum
func (sc *SpectralContrast) Compute(magnitudeSpectrum []float64) []float64 {
	contrast := make([]float64, sc.params.NumBands)
	sorted := make([]float64, len(magnitudeSpectrum))

	for band := range sc.params.NumBands {
		start := sc.bandEdges[band]
		end := min(sc.bandEdges[band+1], len(magnitudeSpectrum))
		if start >= end {
			continue
		}

		bandValues := sorted[:end-start]
		copy(bandValues, magnitudeSpectrum[start:end])
		sort.Float64s(bandValues)

		contrast[band] = sc.bandContrast(bandValues)
	}

	return contrast
}

// bandContrast expects ascending values
func (sc *SpectralContrast) bandContrast(sorted []float64) float64 {
	n := len(sorted)
	k := max(1, int(math.Round(sc.params.Quantile*float64(n))))

	valley := 0.0
	for _, v := range sorted[:k] {
		valley += v
	}
	valley /= float64(k)

	peak := 0.0
	for _, v := range sorted[n-k:] {
		peak += v
	}
	peak /= float64(k)

	return 10.0 * (math.Log10(math.Max(peak, logFloor)) - math.Log10(math.Max(valley, logFloor)))
}

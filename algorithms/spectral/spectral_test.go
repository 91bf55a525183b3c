package spectral

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hann struct{ coeffs []float64 }

func newHann(n int) *hann {
	h := &hann{coeffs: make([]float64, n)}
	for i := range n {
		h.coeffs[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return h
}

func (h *hann) ApplyInPlace(x []float64) error {
	for i := range x {
		x[i] *= h.coeffs[i]
	}
	return nil
}

func sine(freq float64, rate, n int) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
	}
	return x
}

func TestFrameCount(t *testing.T) {
	assert.Equal(t, 0, FrameCount(5, 2048, 512))
	assert.Equal(t, 1, FrameCount(2048, 2048, 512))
	assert.Equal(t, 2, FrameCount(2560, 2048, 512))
	assert.Equal(t, 28, FrameCount(16000, 2048, 512))
}

func TestSTFTPeakBin(t *testing.T) {
	const rate = 16000
	signal := sine(1000, rate, rate)

	result, err := NewSTFT().Compute(signal, 1024, 256, rate, newHann(1024))
	require.NoError(t, err)

	assert.Equal(t, FrameCount(len(signal), 1024, 256), result.TimeFrames)
	assert.Equal(t, 513, result.FreqBins)
	assert.InDelta(t, 15.625, result.FreqResolution, 1e-9)

	frame := result.Magnitude[result.TimeFrames/2]
	peak := 0
	for k := range frame {
		if frame[k] > frame[peak] {
			peak = k
		}
	}
	assert.Equal(t, 64, peak) // 1000 Hz / 15.625 Hz per bin
}

func TestSTFTWorkerCountIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	signal := make([]float64, 8000)
	for i := range signal {
		signal[i] = rng.Float64()*2 - 1
	}

	a, err := NewSTFTWithWorkers(1).Compute(signal, 512, 128, 16000, newHann(512))
	require.NoError(t, err)
	b, err := NewSTFTWithWorkers(16).Compute(signal, 512, 128, 16000, newHann(512))
	require.NoError(t, err)

	assert.Equal(t, a.Magnitude, b.Magnitude)
}

func TestSTFTTooShort(t *testing.T) {
	_, err := NewSTFT().Compute(make([]float64, 100), 2048, 512, 16000, nil)
	assert.Error(t, err)
}

func TestMelRoundTrip(t *testing.T) {
	for _, hz := range []float64{0, 200, 1000, 8000} {
		assert.InDelta(t, hz, MelToHz(HzToMel(hz)), 1e-6)
	}
}

func TestMelFilterBankCoversEveryFilter(t *testing.T) {
	bank, err := NewMelFilterBank(40, 2048, 16000, 0, 8000)
	require.NoError(t, err)
	require.Len(t, bank.filters, 40)

	flat := make([]float64, 1025)
	for i := range flat {
		flat[i] = 1
	}
	for i, e := range bank.Apply(flat) {
		assert.Greater(t, e, 0.0, "filter %d is empty", i)
	}
}

func TestMFCCSilentFrameIsFinite(t *testing.T) {
	m, err := NewMFCC(16000, 2048, MFCCParams{NumCoefficients: 13, NumMelFilters: 40})
	require.NoError(t, err)

	coeffs := m.Compute(make([]float64, 1025))
	require.Len(t, coeffs, 13)
	for _, c := range coeffs {
		assert.False(t, math.IsNaN(c) || math.IsInf(c, 0))
	}
	// a flat log-mel spectrum puts all energy in C0
	for _, c := range coeffs[1:] {
		assert.InDelta(t, 0, c, 1e-9)
	}
}

func TestMFCCRejectsTooManyCoefficients(t *testing.T) {
	_, err := NewMFCC(16000, 2048, MFCCParams{NumCoefficients: 50, NumMelFilters: 40})
	assert.Error(t, err)
}

func TestSpectralContrastToneVersusNoise(t *testing.T) {
	const rate, n = 16000, 2048
	sc, err := NewSpectralContrast(rate, n, ContrastParams{NumBands: 7, MinFreq: 200, Quantile: 0.02})
	require.NoError(t, err)

	edges := sc.bandEdges
	require.Len(t, edges, 8)
	assert.Equal(t, 0, edges[0])
	assert.Equal(t, 1025, edges[7])

	window := newHann(n)
	tone := sine(3000, rate, n)
	require.NoError(t, window.ApplyInPlace(tone))
	toneMag := make([]float64, n/2+1)
	NewFFT().Magnitudes(tone, toneMag)

	rng := rand.New(rand.NewSource(1))
	noise := make([]float64, n)
	for i := range noise {
		noise[i] = rng.NormFloat64()
	}
	require.NoError(t, window.ApplyInPlace(noise))
	noiseMag := make([]float64, n/2+1)
	NewFFT().Magnitudes(noise, noiseMag)

	toneContrast := sc.Compute(toneMag)
	noiseContrast := sc.Compute(noiseMag)
	require.Len(t, toneContrast, 7)

	// find the band holding 3000 Hz
	bin := int(3000.0 / (float64(rate) / n))
	band := 0
	for i := range 7 {
		if bin >= edges[i] && bin < edges[i+1] {
			band = i
		}
	}
	assert.Greater(t, toneContrast[band], noiseContrast[band])
}

func TestSpectralContrastInvalidParams(t *testing.T) {
	_, err := NewSpectralContrast(16000, 2048, ContrastParams{NumBands: 1, MinFreq: 200, Quantile: 0.02})
	assert.Error(t, err)
	_, err = NewSpectralContrast(16000, 2048, ContrastParams{NumBands: 7, MinFreq: 9000, Quantile: 0.02})
	assert.Error(t, err)
}

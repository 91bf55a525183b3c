package spectral

import (
	"fmt"
	"math"
)

// logFloor keeps log-mel energies finite on silent frames
const logFloor = 1e-10

// MFCCParams contains parameters for MFCC computation
type MFCCParams struct {
	NumCoefficients int     `json:"num_coefficients" msgpack:"num_coefficients"` // default 13
	NumMelFilters   int     `json:"num_mel_filters" msgpack:"num_mel_filters"`   // default 40
	LowFreq         float64 `json:"low_freq" msgpack:"low_freq"`                 // default 0
	HighFreq        float64 `json:"high_freq" msgpack:"high_freq"`               // default sampleRate/2
	LifterCoeff     float64 `json:"lifter_coeff" msgpack:"lifter_coeff"`         // 0 disables liftering
}

// MFCC computes Mel-Frequency Cepstral Coefficients from power spectra.
// All tables are built by NewMFCC, so one instance can be shared by
// concurrent callers.
type MFCC struct {
	params    MFCCParams
	bank      *MelFilterBank
	dctMatrix [][]float64
	lifter    []float64
}

// NewMFCC prepares an MFCC computer for spectra produced by an FFT of
// fftSize points at sampleRate.
func NewMFCC(sampleRate, fftSize int, params MFCCParams) (*MFCC, error) {
	if params.NumCoefficients <= 0 {
		params.NumCoefficients = 13
	}
	if params.NumMelFilters <= 0 {
		params.NumMelFilters = 40
	}
	if params.HighFreq <= 0 {
		params.HighFreq = float64(sampleRate) / 2.0
	}
	if params.NumCoefficients > params.NumMelFilters {
		return nil, fmt.Errorf("cannot take %d coefficients from %d mel filters", params.NumCoefficients, params.NumMelFilters)
	}

	bank, err := NewMelFilterBank(params.NumMelFilters, fftSize, sampleRate, params.LowFreq, params.HighFreq)
	if err != nil {
		return nil, fmt.Errorf("failed to create mel filter bank: %w", err)
	}

	m := &MFCC{params: params, bank: bank}
	m.dctMatrix = dctII(params.NumCoefficients, params.NumMelFilters)

	if params.LifterCoeff > 0 {
		m.lifter = make([]float64, params.NumCoefficients)
		for i := range m.lifter {
			m.lifter[i] = 1.0 + (params.LifterCoeff/2.0)*math.Sin(math.Pi*float64(i)/params.LifterCoeff)
		}
		// C0 carries frame energy and is left alone
		m.lifter[0] = 1.0
	}

	return m, nil
}

// Compute returns the cepstral coefficients of one power spectrum frame.
// Mel energies are taken in dB before the DCT.
func (m *MFCC) Compute(powerSpectrum []float64) []float64 {
	melSpectrum := m.bank.Apply(powerSpectrum)

	for i, e := range melSpectrum {
		melSpectrum[i] = 10.0 * math.Log10(math.Max(e, logFloor))
	}

	coeffs := make([]float64, m.params.NumCoefficients)
	for k, row := range m.dctMatrix {
		sum := 0.0
		for n, w := range row {
			sum += melSpectrum[n] * w
		}
		coeffs[k] = sum
	}

	if m.lifter != nil {
		for i := range coeffs {
			coeffs[i] *= m.lifter[i]
		}
	}

	return coeffs
}

// Params returns the effective parameters after defaults were applied
func (m *MFCC) Params() MFCCParams {
	return m.params
}

// dctII builds an orthonormal DCT-II matrix of numCoeffs x numInputs
func dctII(numCoeffs, numInputs int) [][]float64 {
	matrix := make([][]float64, numCoeffs)
	for k := range numCoeffs {
		matrix[k] = make([]float64, numInputs)

		scale := math.Sqrt(2.0 / float64(numInputs))
		if k == 0 {
			scale = math.Sqrt(1.0 / float64(numInputs))
		}

		for n := range numInputs {
			matrix[k][n] = scale * math.Cos(math.Pi*float64(k)*(float64(n)+0.5)/float64(numInputs))
		}
	}
	return matrix
}

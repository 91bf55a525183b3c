package chroma

import (
	"fmt"
	"math"
)

// NumBins is the number of pitch classes
const NumBins = 12

// Labels names the pitch classes in bin order
var Labels = [NumBins]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Params configures the chromagram
type Params struct {
	TuningFreq float64 `json:"tuning_freq" msgpack:"tuning_freq"` // A4 frequency, usually 440 Hz
	MinFreq    float64 `json:"min_freq" msgpack:"min_freq"`       // bins below are ignored
	MaxFreq    float64 `json:"max_freq" msgpack:"max_freq"`       // bins above are ignored
}

// ChromaSTFT folds an STFT power spectrum into 12 octave-equivalent pitch
// classes. The bin-to-class map is built once, so an instance can be
// shared across goroutines.
type ChromaSTFT struct {
	params  Params
	mapping []int
}

// NewChromaSTFT prepares a chroma mapping for spectra from an FFT of
// fftSize points at sampleRate.
func NewChromaSTFT(sampleRate, fftSize int, params Params) (*ChromaSTFT, error) {
	if params.TuningFreq <= 0 {
		params.TuningFreq = 440.0
	}
	if params.MaxFreq <= 0 {
		params.MaxFreq = float64(sampleRate) / 2.0
	}
	if params.MinFreq <= 0 || params.MinFreq >= params.MaxFreq {
		return nil, fmt.Errorf("invalid chroma frequency range [%.1f, %.1f]", params.MinFreq, params.MaxFreq)
	}
	if fftSize <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid chroma FFT parameters: fft=%d rate=%d", fftSize, sampleRate)
	}

	freqBins := fftSize/2 + 1
	binHz := float64(sampleRate) / float64(fftSize)

	mapping := make([]int, freqBins)
	for f := range freqBins {
		frequency := float64(f) * binHz
		if frequency < params.MinFreq || frequency > params.MaxFreq {
			mapping[f] = -1
			continue
		}

		midiNote := 69.0 + 12.0*math.Log2(frequency/params.TuningFreq)
		mapping[f] = ((int(math.Round(midiNote)) % NumBins) + NumBins) % NumBins
	}

	return &ChromaSTFT{params: params, mapping: mapping}, nil
}

// Frame computes the chroma vector of one power spectrum. The result is
// scaled so its largest bin is 1; a frame with no energy in range yields
// all zeros.
func (cs *ChromaSTFT) Frame(powerSpectrum []float64) []float64 {
	chroma := make([]float64, NumBins)

	for f, power := range powerSpectrum {
		if f >= len(cs.mapping) {
			break
		}
		if bin := cs.mapping[f]; bin >= 0 {
			chroma[bin] += power
		}
	}

	peak := 0.0
	for _, e := range chroma {
		peak = math.Max(peak, e)
	}
	if peak > 1e-10 {
		for i := range chroma {
			chroma[i] /= peak
		}
	} else {
		clear(chroma)
	}

	return chroma
}

package spectral

import (
	"fmt"
	"runtime"
	"sync"
)

// STFT provides Short-Time Fourier Transform functionality. Frames are
// computed in parallel; the result does not depend on the worker count.
type STFT struct {
	fft        *FFT
	maxWorkers int
}

// STFTResult holds the magnitude spectrogram of a signal
type STFTResult struct {
	Magnitude      [][]float64 `json:"magnitude"`       // Time x Frequency magnitude matrix
	TimeFrames     int         `json:"time_frames"`     // Number of time frames
	FreqBins       int         `json:"freq_bins"`       // Number of frequency bins
	SampleRate     int         `json:"sample_rate"`     // Sample rate
	WindowSize     int         `json:"window_size"`     // FFT window size
	HopSize        int         `json:"hop_size"`        // Hop size between frames
	FreqResolution float64     `json:"freq_resolution"` // Frequency resolution (Hz/bin)
	TimeResolution float64     `json:"time_resolution"` // Time resolution (seconds/frame)
}

// Window is applied to each frame before the FFT
type Window interface {
	ApplyInPlace(signal []float64) error
}

// NewSTFT creates an STFT calculator that sizes its pool from the CPU count
func NewSTFT() *STFT {
	return &STFT{fft: NewFFT()}
}

// NewSTFTWithWorkers caps the number of goroutines used per call. Values
// below 1 fall back to the CPU-based default.
func NewSTFTWithWorkers(maxWorkers int) *STFT {
	return &STFT{fft: NewFFT(), maxWorkers: maxWorkers}
}

// FrameCount returns how many full frames fit in a signal of the given
// length. Frames are not padded, so a signal shorter than one window has
// zero frames.
func FrameCount(signalLen, windowSize, hopSize int) int {
	if windowSize <= 0 || hopSize <= 0 || signalLen < windowSize {
		return 0
	}
	return (signalLen-windowSize)/hopSize + 1
}

// Compute computes the magnitude STFT of signal using the given window
func (s *STFT) Compute(signal []float64, windowSize, hopSize, sampleRate int, window Window) (*STFTResult, error) {
	if len(signal) == 0 {
		return nil, fmt.Errorf("empty signal")
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive")
	}
	if hopSize <= 0 {
		return nil, fmt.Errorf("hop size must be positive")
	}

	numFrames := FrameCount(len(signal), windowSize, hopSize)
	if numFrames == 0 {
		return nil, fmt.Errorf("signal too short: %d samples < window size %d", len(signal), windowSize)
	}

	freqBins := windowSize/2 + 1
	magnitude := make([][]float64, numFrames)
	for i := range numFrames {
		magnitude[i] = make([]float64, freqBins)
	}

	numWorkers := s.workerCount(numFrames)
	jobs := make(chan int, numFrames)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			frameBuffer := make([]float64, windowSize)
			for frameIdx := range jobs {
				start := frameIdx * hopSize
				copy(frameBuffer, signal[start:start+windowSize])

				if window != nil {
					if err := window.ApplyInPlace(frameBuffer); err != nil {
						errOnce.Do(func() { firstErr = fmt.Errorf("frame %d: %w", frameIdx, err) })
						continue
					}
				}

				s.fft.Magnitudes(frameBuffer, magnitude[frameIdx])
			}
		}()
	}

	for frameIdx := range numFrames {
		jobs <- frameIdx
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	return &STFTResult{
		Magnitude:      magnitude,
		TimeFrames:     numFrames,
		FreqBins:       freqBins,
		SampleRate:     sampleRate,
		WindowSize:     windowSize,
		HopSize:        hopSize,
		FreqResolution: float64(sampleRate) / float64(windowSize),
		TimeResolution: float64(hopSize) / float64(sampleRate),
	}, nil
}

// Power returns the power spectrogram |X|^2
func (r *STFTResult) Power() [][]float64 {
	power := make([][]float64, r.TimeFrames)
	for t, frame := range r.Magnitude {
		power[t] = make([]float64, len(frame))
		for f, mag := range frame {
			power[t][f] = mag * mag
		}
	}
	return power
}

// workerCount picks the goroutine count for a workload. It is always at
// least 1.
func (s *STFT) workerCount(numFrames int) int {
	numCPU := runtime.NumCPU()

	var n int
	switch {
	case numFrames < 100:
		n = numCPU / 2
	case numFrames < 1000:
		n = min(numCPU, 8)
	default:
		n = numCPU
	}

	if s.maxWorkers > 0 {
		n = min(n, s.maxWorkers)
	}
	return max(1, min(n, numFrames))
}

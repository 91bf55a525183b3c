package temporal

import (
	"math"
)

// FrameRMS computes the RMS of each frame of signal. A signal shorter than
// one frame yields a single value over the whole signal.
func FrameRMS(signal []float64, frameSize, hopSize int) []float64 {
	if len(signal) == 0 || frameSize <= 0 || hopSize <= 0 {
		return []float64{}
	}

	if len(signal) < frameSize {
		return []float64{rms(signal)}
	}

	numFrames := (len(signal)-frameSize)/hopSize + 1
	envelope := make([]float64, numFrames)
	for i := range numFrames {
		start := i * hopSize
		envelope[i] = rms(signal[start : start+frameSize])
	}

	return envelope
}

func rms(frame []float64) float64 {
	sumSquares := 0.0
	for _, x := range frame {
		sumSquares += x * x
	}
	return math.Sqrt(sumSquares / float64(len(frame)))
}

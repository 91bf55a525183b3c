package common

import (
	"gonum.org/v1/gonum/floats"
)

// PeakNormalize scales signal so that its largest absolute value is 1. The
// result is a new slice; an all-zero signal comes back as an unchanged copy.
func PeakNormalize(signal []float64) []float64 {
	normalized := make([]float64, len(signal))
	copy(normalized, signal)

	peak := PeakAbs(signal)
	if peak == 0 {
		return normalized
	}

	floats.Scale(1.0/peak, normalized)
	return normalized
}

// DownmixInterleaved averages interleaved channels into one
func DownmixInterleaved(interleaved []float64, channels int) []float64 {
	if channels <= 1 {
		mono := make([]float64, len(interleaved))
		copy(mono, interleaved)
		return mono
	}

	frames := len(interleaved) / channels
	mono := make([]float64, frames)
	for i := range frames {
		sum := 0.0
		for c := range channels {
			sum += interleaved[i*channels+c]
		}
		mono[i] = sum / float64(channels)
	}

	return mono
}

package common

import (
	"math"
)

// SincResampler converts sample rates with a Lanczos-windowed sinc kernel.
// When decimating, the kernel is widened so its cutoff sits at the new
// Nyquist frequency.
type SincResampler struct {
	// Lobes is the Lanczos parameter a; the kernel spans a zero crossings on
	// each side.
	Lobes int
}

// NewSincResampler creates a resampler with the given number of lobes
func NewSincResampler(lobes int) *SincResampler {
	if lobes <= 0 {
		lobes = 16
	}
	return &SincResampler{Lobes: lobes}
}

// ResampledLength is the number of output samples for n input samples
func ResampledLength(n, originalRate, targetRate int) int {
	if n == 0 || originalRate <= 0 || targetRate <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) * float64(targetRate) / float64(originalRate)))
}

// Resample converts signal from originalRate to targetRate. A matching rate
// returns a copy.
func (r *SincResampler) Resample(signal []float64, originalRate, targetRate int) []float64 {
	if len(signal) == 0 || originalRate <= 0 || targetRate <= 0 {
		return []float64{}
	}
	if originalRate == targetRate {
		out := make([]float64, len(signal))
		copy(out, signal)
		return out
	}

	ratio := float64(targetRate) / float64(originalRate)
	cutoff := math.Min(1.0, ratio)
	a := float64(r.Lobes)
	support := a / cutoff

	out := make([]float64, ResampledLength(len(signal), originalRate, targetRate))
	for j := range out {
		center := float64(j) / ratio
		lo := max(0, int(math.Ceil(center-support)))
		hi := min(len(signal)-1, int(math.Floor(center+support)))

		sum, weights := 0.0, 0.0
		for i := lo; i <= hi; i++ {
			x := (center - float64(i)) * cutoff
			w := lanczosKernel(x, a)
			sum += signal[i] * w
			weights += w
		}

		if weights != 0 {
			out[j] = sum / weights
		}
	}

	return out
}

// lanczosKernel computes sinc(x) * sinc(x/a) for |x| < a
func lanczosKernel(x, a float64) float64 {
	if math.Abs(x) < 1e-10 {
		return 1.0
	}
	if math.Abs(x) >= a {
		return 0.0
	}

	px := math.Pi * x
	return (a * math.Sin(px) * math.Sin(px/a)) / (px * px)
}

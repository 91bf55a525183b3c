package common

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// ColumnMeans averages a frames x dims matrix across frames. Rows must all
// have the same length.
func ColumnMeans(frames [][]float64) []float64 {
	if len(frames) == 0 {
		return []float64{}
	}

	mean := make([]float64, len(frames[0]))
	for _, row := range frames {
		floats.Add(mean, row)
	}
	floats.Scale(1.0/float64(len(frames)), mean)

	return mean
}

// PeakAbs returns the largest absolute sample value
func PeakAbs(signal []float64) float64 {
	if len(signal) == 0 {
		return 0
	}
	return math.Max(math.Abs(floats.Max(signal)), math.Abs(floats.Min(signal)))
}

// AllFinite reports whether no value is NaN or infinite
func AllFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Package model holds the trained parts of the classifier: the per-dimension
// feature scaler and the random forest.
package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/RyanBlaney/catvid/errs"
)

// stdEpsilon is the relative floor below which a dimension counts as
// constant
const stdEpsilon = 1e-10

// ScalerParams standardizes feature vectors to zero mean and unit variance
// per dimension. Fitted once, never mutated.
type ScalerParams struct {
	Mean []float64 `msgpack:"mean" json:"mean"`
	Std  []float64 `msgpack:"std" json:"std"`
}

// FitScaler computes population mean and standard deviation of each
// dimension. A dimension with zero spread gets a std of 1 so it maps to 0.
func FitScaler(vectors [][]float64) (*ScalerParams, error) {
	const op = "model.fit_scaler"

	dim, err := checkMatrix(op, vectors)
	if err != nil {
		return nil, err
	}

	params := &ScalerParams{
		Mean: make([]float64, dim),
		Std:  make([]float64, dim),
	}

	column := make([]float64, len(vectors))
	for j := range dim {
		for i, v := range vectors {
			column[i] = v[j]
		}

		mean, std := stat.PopMeanStdDev(column, nil)
		if std <= stdEpsilon*math.Max(1, math.Abs(mean)) {
			std = 1
		}
		params.Mean[j] = mean
		params.Std[j] = std
	}

	return params, nil
}

// Dim is the vector length the scaler was fitted on
func (s *ScalerParams) Dim() int {
	return len(s.Mean)
}

// Apply returns (v - mean) / std as a new slice
func (s *ScalerParams) Apply(v []float64) ([]float64, error) {
	if len(v) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: vector has %d dimensions, want %d", len(v), len(s.Mean))
	}

	out := make([]float64, len(v))
	for j, x := range v {
		out[j] = (x - s.Mean[j]) / s.Std[j]
	}
	return out, nil
}

// ApplyAll scales every row of vectors
func (s *ScalerParams) ApplyAll(vectors [][]float64) ([][]float64, error) {
	out := make([][]float64, len(vectors))
	for i, v := range vectors {
		scaled, err := s.Apply(v)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out[i] = scaled
	}
	return out, nil
}

// Validate checks a deserialized scaler
func (s *ScalerParams) Validate() error {
	if len(s.Mean) == 0 || len(s.Mean) != len(s.Std) {
		return fmt.Errorf("scaler has %d means and %d stds", len(s.Mean), len(s.Std))
	}
	for j, std := range s.Std {
		if !(std > 0) || math.IsInf(std, 0) || math.IsNaN(s.Mean[j]) || math.IsInf(s.Mean[j], 0) {
			return fmt.Errorf("scaler dimension %d has invalid mean %g / std %g", j, s.Mean[j], std)
		}
	}
	return nil
}

// checkMatrix validates a non-empty, rectangular, finite sample matrix and
// returns its width
func checkMatrix(op string, X [][]float64) (int, error) {
	if len(X) == 0 {
		return 0, errs.InvalidTrainingData(op, "no samples")
	}

	dim := len(X[0])
	if dim == 0 {
		return 0, errs.InvalidTrainingData(op, "samples have no features")
	}

	for i, row := range X {
		if len(row) != dim {
			return 0, errs.InvalidTrainingData(op, fmt.Sprintf("sample %d has %d features, want %d", i, len(row), dim))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return 0, errs.InvalidTrainingData(op, fmt.Sprintf("sample %d feature %d is not finite", i, j))
			}
		}
	}

	return dim, nil
}

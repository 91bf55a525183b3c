package model

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/catvid/algorithms/stats"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/logging"
)

// ForestParams configures FitForest
type ForestParams struct {
	NumTrees        int             `msgpack:"num_trees" json:"num_trees" yaml:"num_trees"`
	MaxDepth        int             `msgpack:"max_depth" json:"max_depth" yaml:"max_depth"` // 0 = unlimited
	MinSamplesSplit int             `msgpack:"min_samples_split" json:"min_samples_split" yaml:"min_samples_split"`
	MinSamplesLeaf  int             `msgpack:"min_samples_leaf" json:"min_samples_leaf" yaml:"min_samples_leaf"`
	MaxFeatures     int             `msgpack:"max_features" json:"max_features" yaml:"max_features"` // 0 = floor(sqrt(dim))
	Criterion       stats.Criterion `msgpack:"criterion" json:"criterion" yaml:"criterion"`
	Bootstrap       bool            `msgpack:"bootstrap" json:"bootstrap" yaml:"bootstrap"`
	Seed            int64           `msgpack:"seed" json:"seed" yaml:"seed"`

	// Workers bounds parallel tree construction; it never changes the result
	Workers int `msgpack:"-" json:"-" yaml:"-"`
}

// DefaultForestParams returns 100 bootstrapped gini trees seeded with 42
func DefaultForestParams() ForestParams {
	return ForestParams{
		NumTrees:        100,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Criterion:       stats.Gini,
		Bootstrap:       true,
		Seed:            42,
		Workers:         runtime.NumCPU(),
	}
}

// Validate checks the hyperparameters
func (p ForestParams) Validate() error {
	if p.NumTrees <= 0 {
		return fmt.Errorf("num_trees must be positive: %d", p.NumTrees)
	}
	if p.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative: %d", p.MaxDepth)
	}
	if p.MinSamplesSplit < 2 {
		return fmt.Errorf("min_samples_split must be at least 2: %d", p.MinSamplesSplit)
	}
	if p.MinSamplesLeaf < 1 {
		return fmt.Errorf("min_samples_leaf must be at least 1: %d", p.MinSamplesLeaf)
	}
	if p.MaxFeatures < 0 {
		return fmt.Errorf("max_features must not be negative: %d", p.MaxFeatures)
	}
	if _, err := stats.ParseCriterion(string(p.Criterion)); err != nil {
		return err
	}
	return nil
}

// Forest is a bagged ensemble of CART trees. Classes holds the label codes
// in sorted order; probability vectors are indexed the same way. A fitted
// Forest is read-only and safe for concurrent prediction.
type Forest struct {
	Classes     []string     `msgpack:"classes"`
	NumFeatures int          `msgpack:"num_features"`
	Trees       []Tree       `msgpack:"trees"`
	Params      ForestParams `msgpack:"params"`
}

// FitForest trains a random forest on X (samples x features) with labels y.
// Malformed input fails with an InvalidTrainingData error.
func FitForest(X [][]float64, y []string, params ForestParams) (*Forest, error) {
	const op = "model.fit_forest"

	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// canonical spelling; Impurity matches criteria exactly
	params.Criterion, _ = stats.ParseCriterion(string(params.Criterion))

	dim, err := checkMatrix(op, X)
	if err != nil {
		return nil, err
	}
	if len(y) != len(X) {
		return nil, errs.InvalidTrainingData(op, fmt.Sprintf("%d samples but %d labels", len(X), len(y)))
	}

	classes := slices.Compact(slices.Sorted(slices.Values(y)))
	if len(classes) < 2 {
		return nil, errs.InvalidTrainingData(op, fmt.Sprintf("need at least 2 classes, got %d", len(classes)))
	}
	for _, c := range classes {
		if c == "" {
			return nil, errs.InvalidTrainingData(op, "empty label")
		}
	}

	yIdx := make([]int, len(y))
	for i, label := range y {
		yIdx[i], _ = slices.BinarySearch(classes, label)
	}

	// seeds are drawn up front so the trees do not depend on scheduling
	master := rand.New(rand.NewSource(params.Seed))
	seeds := make([]int64, params.NumTrees)
	for i := range seeds {
		seeds[i] = master.Int63()
	}

	logger := logging.WithFields(logging.Fields{
		"component": "random_forest",
		"trees":     params.NumTrees,
		"samples":   len(X),
		"classes":   len(classes),
	})
	logger.Debug("Fitting forest")

	trees := make([]Tree, params.NumTrees)
	var g errgroup.Group
	g.SetLimit(max(1, params.Workers))
	for t := range trees {
		g.Go(func() error {
			b := newTreeBuilder(X, yIdx, len(classes), params, seeds[t])
			trees[t] = b.build(b.sample(len(X)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logger.Debug("Forest fitted")

	return &Forest{
		Classes:     classes,
		NumFeatures: dim,
		Trees:       trees,
		Params:      params,
	}, nil
}

// sample draws the bootstrap sample, or every index when bootstrapping is off
func (b *treeBuilder) sample(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		if b.params.Bootstrap {
			idx[i] = b.rng.Intn(n)
		} else {
			idx[i] = i
		}
	}
	return idx
}

// PredictProba averages the leaf class distributions of all trees
func (f *Forest) PredictProba(x []float64) ([]float64, error) {
	if len(x) != f.NumFeatures {
		return nil, fmt.Errorf("forest: vector has %d features, want %d", len(x), f.NumFeatures)
	}
	for j, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("forest: feature %d is not finite", j)
		}
	}

	proba := make([]float64, len(f.Classes))
	for i := range f.Trees {
		for c, p := range f.Trees[i].leaf(x) {
			proba[c] += p
		}
	}
	for c := range proba {
		proba[c] /= float64(len(f.Trees))
	}
	return proba, nil
}

// Predict returns the most probable class; ties go to the earliest class
func (f *Forest) Predict(x []float64) (string, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return "", err
	}
	return f.Classes[Argmax(proba)], nil
}

// Argmax returns the index of the largest value, preferring the lowest
// index on ties
func Argmax(values []float64) int {
	best := 0
	for i := 1; i < len(values); i++ {
		if values[i] > values[best] {
			best = i
		}
	}
	return best
}

// Validate checks the structure of a deserialized forest so that Predict
// cannot index out of range
func (f *Forest) Validate() error {
	if len(f.Classes) < 2 {
		return fmt.Errorf("forest has %d classes", len(f.Classes))
	}
	if f.NumFeatures <= 0 {
		return fmt.Errorf("forest has %d features", f.NumFeatures)
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("forest has no trees")
	}

	for t, tree := range f.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", t)
		}
		for i, n := range tree.Nodes {
			if n.IsLeaf() {
				if len(n.Value) != len(f.Classes) {
					return fmt.Errorf("tree %d leaf %d has %d probabilities", t, i, len(n.Value))
				}
				continue
			}
			// children always follow their parent
			if n.Feature < 0 || n.Feature >= f.NumFeatures ||
				n.Left <= i || n.Left >= len(tree.Nodes) ||
				n.Right <= i || n.Right >= len(tree.Nodes) {
				return fmt.Errorf("tree %d node %d is malformed", t, i)
			}
		}
	}
	return nil
}

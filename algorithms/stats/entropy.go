package stats

import (
	"fmt"
	"math"
	"strings"
)

// Criterion names an impurity measure over class counts
type Criterion string

const (
	Gini    Criterion = "gini"
	Entropy Criterion = "entropy"
)

// ParseCriterion maps a config string to a Criterion
func ParseCriterion(s string) (Criterion, error) {
	switch c := Criterion(strings.ToLower(strings.TrimSpace(s))); c {
	case Gini, Entropy:
		return c, nil
	case "":
		return Gini, nil
	default:
		return "", fmt.Errorf("unknown split criterion %q", s)
	}
}

// Impurity evaluates the criterion for a class histogram holding total
// samples. An empty histogram has zero impurity.
func (c Criterion) Impurity(counts []float64, total float64) float64 {
	if total <= 0 {
		return 0
	}
	if c == Entropy {
		return ShannonEntropy(counts, total)
	}
	return GiniImpurity(counts, total)
}

// GiniImpurity computes 1 - ∑ p(x)^2
func GiniImpurity(counts []float64, total float64) float64 {
	sumSq := 0.0
	for _, n := range counts {
		p := n / total
		sumSq += p * p
	}
	return 1.0 - sumSq
}

// ShannonEntropy computes H(X) = -∑ p(x) * log2(p(x))
func ShannonEntropy(counts []float64, total float64) float64 {
	entropy := 0.0
	for _, n := range counts {
		if n > 0 {
			p := n / total
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

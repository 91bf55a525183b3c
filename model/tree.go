package model

import (
	"math"
	"math/rand"
	"slices"
)

// leafFeature marks a leaf node
const leafFeature = -1

// Node is one node of a flattened decision tree. Internal nodes send x to
// Left when x[Feature] <= Threshold. Leaves carry the class distribution of
// the training samples that reached them.
type Node struct {
	Feature   int       `msgpack:"f"`
	Threshold float64   `msgpack:"t"`
	Left      int       `msgpack:"l"`
	Right     int       `msgpack:"r"`
	Value     []float64 `msgpack:"v,omitempty"`
}

// IsLeaf reports whether n has no children
func (n *Node) IsLeaf() bool {
	return n.Feature == leafFeature
}

// Tree is a CART classifier stored as a node slice rooted at index 0
type Tree struct {
	Nodes []Node `msgpack:"nodes"`
}

// leaf returns the distribution reached by x
func (t *Tree) leaf(x []float64) []float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return n.Value
		}
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Depth is the longest root-to-leaf path
func (t *Tree) Depth() int {
	var walk func(i int) int
	walk = func(i int) int {
		n := &t.Nodes[i]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	if len(t.Nodes) == 0 {
		return 0
	}
	return walk(0)
}

type treeBuilder struct {
	X           [][]float64
	y           []int
	numClasses  int
	maxFeatures int
	params      ForestParams
	rng         *rand.Rand
	nodes       []Node
}

type split struct {
	feature   int
	threshold float64
	impurity  float64
	left      []int
	right     []int
}

func (b *treeBuilder) build(samples []int) Tree {
	b.nodes = b.nodes[:0]
	b.grow(samples, 0)
	return Tree{Nodes: slices.Clone(b.nodes)}
}

func (b *treeBuilder) grow(samples []int, depth int) int {
	counts := b.classCounts(samples)
	index := len(b.nodes)
	b.nodes = append(b.nodes, Node{Feature: leafFeature})

	total := float64(len(samples))
	impurity := b.params.Criterion.Impurity(counts, total)

	stop := impurity <= 0 ||
		len(samples) < b.params.MinSamplesSplit ||
		len(samples) < 2*b.params.MinSamplesLeaf ||
		(b.params.MaxDepth > 0 && depth >= b.params.MaxDepth)

	if !stop {
		if s, ok := b.bestSplit(samples, impurity); ok {
			b.nodes[index].Feature = s.feature
			b.nodes[index].Threshold = s.threshold
			left := b.grow(s.left, depth+1)
			right := b.grow(s.right, depth+1)
			b.nodes[index].Left = left
			b.nodes[index].Right = right
			return index
		}
	}

	value := make([]float64, b.numClasses)
	for c, n := range counts {
		value[c] = n / total
	}
	b.nodes[index].Value = value
	return index
}

func (b *treeBuilder) classCounts(samples []int) []float64 {
	counts := make([]float64, b.numClasses)
	for _, i := range samples {
		counts[b.y[i]]++
	}
	return counts
}

// bestSplit searches a random feature subset. Like the usual CART forests,
// it keeps drawing past maxFeatures until at least one feature is
// splittable.
func (b *treeBuilder) bestSplit(samples []int, parentImpurity float64) (split, bool) {
	best := split{impurity: math.Inf(1)}
	found := false

	sorted := slices.Clone(samples)
	leftCounts := make([]float64, b.numClasses)
	rightCounts := make([]float64, b.numClasses)
	total := b.classCounts(samples)
	n := float64(len(samples))
	minLeaf := b.params.MinSamplesLeaf

	visited := 0
	for _, f := range b.rng.Perm(len(b.X[0])) {
		if visited >= b.maxFeatures && found {
			break
		}

		slices.SortStableFunc(sorted, func(a, c int) int {
			switch va, vc := b.X[a][f], b.X[c][f]; {
			case va < vc:
				return -1
			case va > vc:
				return 1
			}
			return 0
		})
		if b.X[sorted[0]][f] == b.X[sorted[len(sorted)-1]][f] {
			// constant here, does not count toward the budget
			continue
		}
		visited++

		clear(leftCounts)
		copy(rightCounts, total)
		for k := 0; k < len(sorted)-1; k++ {
			c := b.y[sorted[k]]
			leftCounts[c]++
			rightCounts[c]--

			nl := k + 1
			nr := len(sorted) - nl
			lo, hi := b.X[sorted[k]][f], b.X[sorted[k+1]][f]
			if lo == hi || nl < minLeaf || nr < minLeaf {
				continue
			}

			imp := (float64(nl)*b.params.Criterion.Impurity(leftCounts, float64(nl)) +
				float64(nr)*b.params.Criterion.Impurity(rightCounts, float64(nr))) / n
			if imp < best.impurity {
				threshold := lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
				best = split{feature: f, threshold: threshold, impurity: imp}
				found = true
			}
		}
	}

	if !found || best.impurity > parentImpurity {
		return split{}, false
	}

	for _, i := range samples {
		if b.X[i][best.feature] <= best.threshold {
			best.left = append(best.left, i)
		} else {
			best.right = append(best.right, i)
		}
	}
	return best, true
}

// newTreeBuilder prepares a builder with its own random source
func newTreeBuilder(X [][]float64, y []int, numClasses int, params ForestParams, seed int64) *treeBuilder {
	maxFeatures := params.MaxFeatures
	if maxFeatures <= 0 {
		maxFeatures = max(1, int(math.Sqrt(float64(len(X[0])))))
	}
	maxFeatures = min(maxFeatures, len(X[0]))

	return &treeBuilder{
		X:           X,
		y:           y,
		numClasses:  numClasses,
		maxFeatures: maxFeatures,
		params:      params,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

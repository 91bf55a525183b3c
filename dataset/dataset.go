// Package dataset discovers labeled recordings and splits them for
// training.
package dataset

import (
	"fmt"
	"io/fs"
	"math"
	"math/rand"
	"path/filepath"
	"slices"
	"strings"

	"github.com/RyanBlaney/catvid/labels"
)

// Example is one labeled recording
type Example struct {
	Path  string      `json:"path"`
	Label labels.Code `json:"label"`
}

// Skipped is a file Scan ignored, with the reason
type Skipped struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

var mediaExtensions = map[string]bool{
	".wav": true, ".wave": true,
	".mp3": true, ".m4a": true, ".aac": true, ".flac": true, ".ogg": true, ".opus": true,
	".mp4": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true,
}

// IsMedia reports whether name has an audio or video extension
func IsMedia(name string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(name))]
}

// LabelOf extracts the label code from a file name: the part before the
// first underscore. The boolean is false when the prefix is not a known code.
func LabelOf(name string) (labels.Code, bool) {
	base := filepath.Base(name)
	prefix, _, found := strings.Cut(base, "_")
	if !found {
		return "", false
	}
	ctx := labels.Parse(prefix)
	return ctx.Code(), ctx.Known()
}

// Scan walks dir for media files named <CODE>_*. Files with an unknown
// prefix are returned in skipped rather than failing the scan. Results are
// sorted by path.
func Scan(dir string) ([]Example, []Skipped, error) {
	var examples []Example
	var skipped []Skipped

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !IsMedia(d.Name()) {
			return nil
		}

		code, ok := LabelOf(d.Name())
		if !ok {
			skipped = append(skipped, Skipped{Path: path, Reason: "unrecognized label prefix"})
			return nil
		}
		examples = append(examples, Example{Path: path, Label: code})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	slices.SortFunc(examples, func(a, b Example) int { return strings.Compare(a.Path, b.Path) })
	return examples, skipped, nil
}

// Counts tallies examples per label
func Counts(examples []Example) map[labels.Code]int {
	counts := make(map[labels.Code]int)
	for _, e := range examples {
		counts[e.Label]++
	}
	return counts
}

// SplitOptions controls Split
type SplitOptions struct {
	TestFraction float64
	Seed         int64
	// Stratify splits each label separately so every label keeps the same
	// share of test samples
	Stratify bool
}

// Split shuffles n indices with Seed and holds out ceil(n*TestFraction) of
// them for testing. At least one index always stays in the training set.
// The outcome depends only on n, labels, and opts.
func Split(labelOf []string, opts SplitOptions) (train, test []int, err error) {
	if opts.TestFraction < 0 || opts.TestFraction >= 1 {
		return nil, nil, fmt.Errorf("test fraction must be in [0, 1): %g", opts.TestFraction)
	}

	n := len(labelOf)
	if !opts.Stratify {
		train, test = splitIndices(seq(n), opts.TestFraction, rand.New(rand.NewSource(opts.Seed)))
		return train, test, nil
	}

	groups := make(map[string][]int)
	var order []string
	for i, l := range labelOf {
		if _, ok := groups[l]; !ok {
			order = append(order, l)
		}
		groups[l] = append(groups[l], i)
	}
	slices.Sort(order)

	rng := rand.New(rand.NewSource(opts.Seed))
	for _, l := range order {
		tr, te := splitIndices(groups[l], opts.TestFraction, rng)
		train = append(train, tr...)
		test = append(test, te...)
	}
	slices.Sort(train)
	slices.Sort(test)
	return train, test, nil
}

func splitIndices(idx []int, fraction float64, rng *rand.Rand) (train, test []int) {
	shuffled := slices.Clone(idx)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })

	nTest := int(math.Ceil(float64(len(shuffled)) * fraction))
	nTest = min(nTest, len(shuffled)-1)
	if fraction == 0 || nTest < 0 {
		nTest = 0
	}

	test = slices.Clone(shuffled[:nTest])
	train = slices.Clone(shuffled[nTest:])
	slices.Sort(test)
	slices.Sort(train)
	return train, test
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

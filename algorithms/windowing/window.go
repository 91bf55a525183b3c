package windowing

import (
	"fmt"
	"math"
	"strings"
)

// Kind names a window function
type Kind string

const (
	KindHann        Kind = "hann"
	KindHamming     Kind = "hamming"
	KindBlackman    Kind = "blackman"
	KindRectangular Kind = "rectangular"
)

// ParseKind maps a config string to a window Kind
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindHann, KindHamming, KindBlackman, KindRectangular:
		return k, nil
	default:
		return "", fmt.Errorf("unknown window type %q", s)
	}
}

// cosine-sum coefficients a0 - a1 cos(2πn/N) + a2 cos(4πn/N)
var cosineTerms = map[Kind][3]float64{
	KindHann:        {0.5, 0.5, 0},
	KindHamming:     {0.54, 0.46, 0},
	KindBlackman:    {0.42, 0.5, 0.08},
	KindRectangular: {1, 0, 0},
}

// Window is a precomputed window of fixed size. It is read-only after
// construction and safe to share across goroutines.
type Window struct {
	kind         Kind
	size         int
	symmetric    bool
	coefficients []float64
}

// New builds a window. Periodic windows (symmetric=false) are the usual
// choice for STFT analysis.
func New(kind Kind, size int, symmetric bool) (*Window, error) {
	terms, ok := cosineTerms[kind]
	if !ok {
		return nil, fmt.Errorf("unknown window type %q", kind)
	}
	if size <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", size)
	}

	w := &Window{
		kind:         kind,
		size:         size,
		symmetric:    symmetric,
		coefficients: make([]float64, size),
	}

	denominator := float64(size)
	if symmetric && size > 1 {
		denominator = float64(size - 1)
	}

	for i := range size {
		phase := 2 * math.Pi * float64(i) / denominator
		w.coefficients[i] = terms[0] - terms[1]*math.Cos(phase) + terms[2]*math.Cos(2*phase)
	}

	return w, nil
}

// NewHann creates a Hann window
func NewHann(size int, symmetric bool) *Window {
	w, _ := New(KindHann, max(size, 1), symmetric)
	return w
}

// Apply returns a windowed copy of signal
func (w *Window) Apply(signal []float64) ([]float64, error) {
	windowed := make([]float64, len(signal))
	copy(windowed, signal)
	if err := w.ApplyInPlace(windowed); err != nil {
		return nil, err
	}
	return windowed, nil
}

// ApplyInPlace applies the window to a signal in-place
func (w *Window) ApplyInPlace(signal []float64) error {
	if len(signal) != w.size {
		return fmt.Errorf("signal length (%d) doesn't match window size (%d)", len(signal), w.size)
	}

	for i, c := range w.coefficients {
		signal[i] *= c
	}

	return nil
}

// Coefficients returns a copy of the window coefficients
func (w *Window) Coefficients() []float64 {
	coeffs := make([]float64, len(w.coefficients))
	copy(coeffs, w.coefficients)
	return coeffs
}

func (w *Window) Size() int { return w.size }

func (w *Window) Kind() Kind { return w.kind }

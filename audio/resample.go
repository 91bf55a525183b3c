package audio

import (
	"fmt"
	"math"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/RyanBlaney/catvid/algorithms/common"
)

// Resampling methods
const (
	ResampleSoxr = "soxr"
	ResampleSinc = "sinc"
)

// Resampler converts mono samples between rates
type Resampler interface {
	Resample(samples []float64, fromRate, toRate int) ([]float64, error)
}

// NewResampler returns the resampler for method; "" selects soxr
func NewResampler(method string) (Resampler, error) {
	switch method {
	case "", ResampleSoxr:
		return &soxrResampler{}, nil
	case ResampleSinc:
		return &sincResampler{inner: common.NewSincResampler(16)}, nil
	default:
		return nil, fmt.Errorf("unknown resample method %q", method)
	}
}

// soxrResampler runs the pure Go polyphase resampler at its high quality
// preset. A fresh converter is built per call since it keeps stream state.
// The converter's group delay is measured once per rate pair and cut from
// the front of every output so onsets stay where they were.
type soxrResampler struct {
	delays sync.Map // [2]int{from, to} -> int output samples
}

// tailPadding flushes the converter's filter delay with zeros
const tailPadding = 4096

func (r *soxrResampler) Resample(samples []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate == toRate {
		out := make([]float64, len(samples))
		copy(out, samples)
		return out, nil
	}
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", fromRate, toRate)
	}

	delay, err := r.delay(fromRate, toRate)
	if err != nil {
		return nil, err
	}

	padded := make([]float64, len(samples)+tailPadding)
	copy(padded, samples)
	out, err := r.process(padded, fromRate, toRate)
	if err != nil {
		return nil, err
	}

	want := common.ResampledLength(len(samples), fromRate, toRate)
	if delay >= len(out) {
		return make([]float64, want), nil
	}
	out = out[delay:]
	if len(out) >= want {
		return out[:want:want], nil
	}
	return append(out, make([]float64, want-len(out))...), nil
}

// delay is the output index at which a unit impulse at input index 0
// peaks
func (r *soxrResampler) delay(fromRate, toRate int) (int, error) {
	key := [2]int{fromRate, toRate}
	if d, ok := r.delays.Load(key); ok {
		return d.(int), nil
	}

	impulse := make([]float64, tailPadding)
	impulse[0] = 1
	out, err := r.process(impulse, fromRate, toRate)
	if err != nil {
		return 0, err
	}

	d, peak := 0, 0.0
	for i, v := range out {
		if math.Abs(v) > peak {
			d, peak = i, math.Abs(v)
		}
	}
	r.delays.Store(key, d)
	return d, nil
}

func (r *soxrResampler) process(samples []float64, fromRate, toRate int) ([]float64, error) {
	conv, err := resampling.New(&resampling.Config{
		InputRate:  float64(fromRate),
		OutputRate: float64(toRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	out, err := conv.Process(samples)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", fromRate, toRate, err)
	}
	return out, nil
}

type sincResampler struct {
	inner *common.SincResampler
}

func (r *sincResampler) Resample(samples []float64, fromRate, toRate int) ([]float64, error) {
	if fromRate <= 0 || toRate <= 0 {
		return nil, fmt.Errorf("invalid resample rates %d -> %d", fromRate, toRate)
	}
	return r.inner.Resample(samples, fromRate, toRate), nil
}

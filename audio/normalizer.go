package audio

import (
	"fmt"

	"github.com/RyanBlaney/catvid/algorithms/common"
	"github.com/RyanBlaney/catvid/algorithms/filters"
	"github.com/RyanBlaney/catvid/algorithms/temporal"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/logging"
)

// NormalizerConfig controls the normalization chain
type NormalizerConfig struct {
	// TopDB is how far below the loudest frame a frame must sit to count
	// as silence
	TopDB float64 `json:"top_db"`
	// Resample is ResampleSoxr or ResampleSinc
	Resample string `json:"resample"`
	// RemoveDC runs a DC blocker before trimming
	RemoveDC   bool    `json:"remove_dc"`
	DCCutoffHz float64 `json:"dc_cutoff_hz"`
}

// DefaultNormalizerConfig trims at 60 dB and resamples with soxr
func DefaultNormalizerConfig() NormalizerConfig {
	return NormalizerConfig{
		TopDB:      60,
		Resample:   ResampleSoxr,
		DCCutoffHz: 20,
	}
}

// Normalizer brings decoded audio into canonical form: silence-trimmed at
// the source rate, resampled to TargetSampleRate, peak-normalized. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	cfg       NormalizerConfig
	resampler Resampler
	trimmer   *temporal.SilenceTrimmer
	logger    logging.Logger
}

// NewNormalizer validates cfg and builds a Normalizer
func NewNormalizer(cfg NormalizerConfig) (*Normalizer, error) {
	if cfg.TopDB <= 0 {
		return nil, fmt.Errorf("top_db must be positive: %g", cfg.TopDB)
	}
	resampler, err := NewResampler(cfg.Resample)
	if err != nil {
		return nil, err
	}

	return &Normalizer{
		cfg:       cfg,
		resampler: resampler,
		trimmer:   temporal.NewSilenceTrimmer(cfg.TopDB),
		logger: logging.WithFields(logging.Fields{
			"component": "audio_normalizer",
			"resample":  cfg.Resample,
		}),
	}, nil
}

// Config returns the configuration the normalizer was built with
func (n *Normalizer) Config() NormalizerConfig {
	return n.cfg
}

// Normalize returns a new Normalized clip; raw is not modified. Empty input
// fails with an AudioDecode error.
func (n *Normalizer) Normalize(raw *Raw) (*Normalized, error) {
	const op = "audio.normalize"

	if raw == nil || len(raw.Samples) == 0 {
		return nil, errs.AudioDecode(op, "no samples to normalize", nil)
	}
	if raw.SampleRate <= 0 {
		return nil, errs.AudioDecode(op, fmt.Sprintf("invalid sample rate %d", raw.SampleRate), nil)
	}

	samples := raw.Samples
	if n.cfg.RemoveDC {
		samples = filters.NewDCRemovalWithCutoff(raw.SampleRate, n.cfg.DCCutoffHz).ProcessBuffer(samples)
	}

	// trimmed at the source rate; bounds index raw.Samples
	start, end := n.trimmer.Bounds(samples)
	samples = samples[start:end]

	if raw.SampleRate != TargetSampleRate {
		resampled, err := n.resampler.Resample(samples, raw.SampleRate, TargetSampleRate)
		if err != nil {
			return nil, errs.AudioDecode(op, "resampling failed", err)
		}
		samples = resampled
	}
	if len(samples) == 0 {
		return nil, errs.AudioDecode(op, "resampling produced no samples", nil)
	}

	out := common.PeakNormalize(samples)

	n.logger.Debug("Normalized audio", logging.Fields{
		"input_rate":    raw.SampleRate,
		"input_samples": len(raw.Samples),
		"trim_start":    start,
		"trim_end":      end,
	})

	return &Normalized{
		Samples:    out,
		SampleRate: TargetSampleRate,
		TrimStart:  start,
		TrimEnd:    end,
	}, nil
}

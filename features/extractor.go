package features

import (
	"fmt"

	"github.com/RyanBlaney/catvid/algorithms/chroma"
	"github.com/RyanBlaney/catvid/algorithms/common"
	"github.com/RyanBlaney/catvid/algorithms/spectral"
	"github.com/RyanBlaney/catvid/algorithms/windowing"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/logging"
)

// Vector is a Dim-length feature vector: MFCC means, then chroma means,
// then spectral contrast means
type Vector []float64

// MFCC returns the cepstral part of v
func (v Vector) MFCC() []float64 { return v[:NumMFCC] }

// Chroma returns the pitch-class part of v
func (v Vector) Chroma() []float64 { return v[NumMFCC : NumMFCC+NumChroma] }

// Contrast returns the spectral contrast part of v
func (v Vector) Contrast() []float64 { return v[NumMFCC+NumChroma:] }

// Extractor computes feature vectors. All tables are built up front, so one
// Extractor can serve concurrent requests.
type Extractor struct {
	cfg      Config
	stft     *spectral.STFT
	window   *windowing.Window
	mfcc     *spectral.MFCC
	chroma   *chroma.ChromaSTFT
	contrast *spectral.SpectralContrast
	logger   logging.Logger
}

// NewExtractor validates cfg and prepares the filter banks
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid feature config: %w", err)
	}

	window, err := windowing.New(cfg.Window, cfg.WindowSize, false)
	if err != nil {
		return nil, err
	}

	mfcc, err := spectral.NewMFCC(cfg.SampleRate, cfg.WindowSize, cfg.MFCC)
	if err != nil {
		return nil, fmt.Errorf("mfcc: %w", err)
	}

	chromaSTFT, err := chroma.NewChromaSTFT(cfg.SampleRate, cfg.WindowSize, cfg.Chroma)
	if err != nil {
		return nil, fmt.Errorf("chroma: %w", err)
	}

	contrast, err := spectral.NewSpectralContrast(cfg.SampleRate, cfg.WindowSize, cfg.Contrast)
	if err != nil {
		return nil, fmt.Errorf("spectral contrast: %w", err)
	}

	return &Extractor{
		cfg:      cfg,
		stft:     spectral.NewSTFT(),
		window:   window,
		mfcc:     mfcc,
		chroma:   chromaSTFT,
		contrast: contrast,
		logger: logging.WithFields(logging.Fields{
			"component":       "feature_extractor",
			"feature_version": cfg.Version(),
		}),
	}, nil
}

// Config returns the configuration the extractor was built with
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract computes the feature vector of mono samples at sampleRate, which
// must equal the configured rate. Clips shorter than one analysis window
// fail with an InsufficientAudio error.
func (e *Extractor) Extract(samples []float64, sampleRate int) (Vector, error) {
	const op = "features.extract"

	if sampleRate != e.cfg.SampleRate {
		return nil, fmt.Errorf("%s: sample rate %d does not match feature rate %d", op, sampleRate, e.cfg.SampleRate)
	}
	if len(samples) < e.cfg.WindowSize {
		return nil, errs.InsufficientAudio(op, fmt.Sprintf("%d samples is shorter than one %d-sample frame", len(samples), e.cfg.WindowSize))
	}

	result, err := e.stft.Compute(samples, e.cfg.WindowSize, e.cfg.HopSize, e.cfg.SampleRate, e.window)
	if err != nil {
		return nil, fmt.Errorf("%s: stft: %w", op, err)
	}

	power := result.Power()
	mfccFrames := make([][]float64, result.TimeFrames)
	chromaFrames := make([][]float64, result.TimeFrames)
	contrastFrames := make([][]float64, result.TimeFrames)

	for t := range result.TimeFrames {
		mfccFrames[t] = e.mfcc.Compute(power[t])
		chromaFrames[t] = e.chroma.Frame(power[t])
		contrastFrames[t] = e.contrast.Compute(result.Magnitude[t])
	}

	vector := make(Vector, 0, Dim)
	vector = append(vector, common.ColumnMeans(mfccFrames)...)
	vector = append(vector, common.ColumnMeans(chromaFrames)...)
	vector = append(vector, common.ColumnMeans(contrastFrames)...)

	if len(vector) != Dim {
		return nil, fmt.Errorf("%s: produced %d dimensions, want %d", op, len(vector), Dim)
	}
	if !common.AllFinite(vector) {
		return nil, fmt.Errorf("%s: non-finite feature value", op)
	}

	e.logger.Debug("Extracted features", logging.Fields{
		"samples": len(samples),
		"frames":  result.TimeFrames,
	})

	return vector, nil
}

// Package pipeline wires decoding, normalization, feature extraction and
// the trained model into the inference and training flows. Both flows run
// audio through the same Frontend, so a clip yields the same vector at
// training and serving time.
package pipeline

import (
	"context"

	"github.com/RyanBlaney/catvid/audio"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/features"
)

// Stage names reported in ClassificationError
const (
	StageDecode    = "decode"
	StageNormalize = "normalize"
	StageExtract   = "extract"
	StageModel     = "model"
	StageScale     = "scale"
	StagePredict   = "predict"
)

// Frontend turns uploaded bytes into a feature vector
type Frontend struct {
	decoder    *audio.Decoder
	normalizer *audio.Normalizer
	extractor  *features.Extractor
}

// NewFrontend assembles the audio half of the pipeline
func NewFrontend(decoder *audio.Decoder, normalizer *audio.Normalizer, extractor *features.Extractor) *Frontend {
	return &Frontend{
		decoder:    decoder,
		normalizer: normalizer,
		extractor:  extractor,
	}
}

// FeatureVersion identifies the normalizer and extractor configuration
// the frontend runs with
func (f *Frontend) FeatureVersion() string {
	return FeatureVersion(f.normalizer.Config(), f.extractor.Config())
}

// FeatureVersion tags everything that shapes a feature vector: the
// canonical rate, the normalization chain and the extractor. Artifacts
// carry it, so a model is only served behind the frontend it was trained
// with.
func FeatureVersion(norm audio.NormalizerConfig, feat features.Config) string {
	if norm.Resample == "" {
		norm.Resample = audio.ResampleSoxr
	}
	if !norm.RemoveDC {
		norm.DCCutoffHz = 0
	}
	return feat.VersionWith(struct {
		SampleRate int                    `json:"sample_rate"`
		Normalizer audio.NormalizerConfig `json:"normalizer"`
	}{audio.TargetSampleRate, norm})
}

// Features decodes, normalizes and extracts. Errors are
// *errs.ClassificationError naming the failed stage.
func (f *Frontend) Features(ctx context.Context, data []byte) (features.Vector, *audio.Normalized, error) {
	raw, err := f.decoder.Decode(ctx, data)
	if err != nil {
		return nil, nil, stageError(StageDecode, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, stageError(StageDecode, err)
	}
	return f.FeaturesFromRaw(raw)
}

// FeaturesFromRaw runs normalization and extraction on decoded audio
func (f *Frontend) FeaturesFromRaw(raw *audio.Raw) (features.Vector, *audio.Normalized, error) {
	norm, err := f.normalizer.Normalize(raw)
	if err != nil {
		return nil, nil, stageError(StageNormalize, err)
	}

	vector, err := f.extractor.Extract(norm.Samples, norm.SampleRate)
	if err != nil {
		return nil, nil, stageError(StageExtract, err)
	}
	return vector, norm, nil
}

func stageError(stage string, err error) error {
	return &errs.ClassificationError{Stage: stage, Cause: err}
}

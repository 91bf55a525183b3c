package pipeline

import (
	"context"
	"time"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/labels"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/model"
)

// Result is the outcome of classifying one recording
type Result struct {
	Category      string             `json:"category"`
	Code          string             `json:"code"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
	ArtifactID    string             `json:"artifact_id"`
	AudioSeconds  float64            `json:"audio_seconds"`
	Elapsed       time.Duration      `json:"-"`
	ElapsedMillis float64            `json:"elapsed_ms"`
}

// Inference classifies recordings against the registry's current bundle.
// It holds no per-request state and may be shared across goroutines.
type Inference struct {
	frontend *Frontend
	registry *artifact.Registry
	logger   logging.Logger
}

// NewInference builds the inference path. The registry should be loaded
// before the first Classify call.
func NewInference(frontend *Frontend, registry *artifact.Registry) *Inference {
	return &Inference{
		frontend: frontend,
		registry: registry,
		logger: logging.WithFields(logging.Fields{
			"component": "inference",
		}),
	}
}

// Frontend exposes the shared audio front end
func (p *Inference) Frontend() *Frontend {
	return p.frontend
}

// Classify runs decode, normalize, extract, scale and predict on data.
// Any failure is returned as *errs.ClassificationError wrapping the typed
// cause; there are no partial results.
func (p *Inference) Classify(ctx context.Context, data []byte) (*Result, error) {
	start := time.Now()

	// pin one bundle for the whole request
	bundle, err := p.registry.Current()
	if err != nil {
		return nil, stageError(StageModel, err)
	}

	vector, norm, err := p.frontend.Features(ctx, data)
	if err != nil {
		return nil, err
	}

	scaled, err := bundle.Scaler.Apply(vector)
	if err != nil {
		return nil, stageError(StageScale, err)
	}

	proba, err := bundle.Forest.PredictProba(scaled)
	if err != nil {
		return nil, stageError(StagePredict, err)
	}

	best := model.Argmax(proba)
	code := bundle.Forest.Classes[best]

	probabilities := make(map[string]float64, len(proba))
	for i, c := range bundle.Forest.Classes {
		probabilities[c] = proba[i]
	}

	elapsed := time.Since(start)
	result := &Result{
		Category:      labels.Lookup(code),
		Code:          code,
		Confidence:    proba[best],
		Probabilities: probabilities,
		ArtifactID:    bundle.ID,
		AudioSeconds:  norm.Duration().Seconds(),
		Elapsed:       elapsed,
		ElapsedMillis: float64(elapsed.Microseconds()) / 1000,
	}

	p.logger.Debug("Classified recording", logging.Fields{
		"category":    result.Category,
		"confidence":  result.Confidence,
		"artifact_id": bundle.ID,
		"elapsed_ms":  result.ElapsedMillis,
	})

	return result, nil
}

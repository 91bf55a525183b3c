package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/sync/errgroup"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/dataset"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/features"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/model"
)

// TrainOptions configures a training run
type TrainOptions struct {
	TestFraction float64
	Seed         int64
	Stratify     bool
	// Workers bounds concurrent feature extraction
	Workers int
	// Strict fails the run on the first unreadable recording instead of
	// skipping it
	Strict bool
	Forest model.ForestParams
	// Progress receives a progress bar when non-nil
	Progress io.Writer
}

// DefaultTrainOptions holds out 20% with seed 42
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		TestFraction: 0.2,
		Seed:         42,
		Workers:      runtime.NumCPU(),
		Forest:       model.DefaultForestParams(),
	}
}

// Failure is a recording that could not be turned into features
type Failure struct {
	Path  string `yaml:"path" json:"path"`
	Stage string `yaml:"stage" json:"stage"`
	Error string `yaml:"error" json:"error"`
}

// Report summarizes a training run. It is published next to the artifacts.
type Report struct {
	ArtifactID     string             `yaml:"artifact_id" json:"artifact_id"`
	FeatureVersion string             `yaml:"feature_version" json:"feature_version"`
	CreatedAt      time.Time          `yaml:"created_at" json:"created_at"`
	Dataset        string             `yaml:"dataset" json:"dataset"`
	Files          int                `yaml:"files" json:"files"`
	ClassCounts    map[string]int     `yaml:"class_counts" json:"class_counts"`
	Skipped        []dataset.Skipped  `yaml:"skipped,omitempty" json:"skipped,omitempty"`
	Failures       []Failure          `yaml:"failures,omitempty" json:"failures,omitempty"`
	CacheHits      int                `yaml:"cache_hits" json:"cache_hits"`
	TrainSamples   int                `yaml:"train_samples" json:"train_samples"`
	TestSamples    int                `yaml:"test_samples" json:"test_samples"`
	Forest         model.ForestParams `yaml:"forest" json:"forest"`
	Evaluation     *model.Evaluation  `yaml:"evaluation,omitempty" json:"evaluation,omitempty"`
	Elapsed        time.Duration      `yaml:"elapsed" json:"elapsed"`
}

// Trainer fits and publishes a scaler and forest from a labeled directory
type Trainer struct {
	frontend *Frontend
	store    *artifact.Store
	cache    *dataset.Cache
	opts     TrainOptions
	logger   logging.Logger
}

// NewTrainer builds a trainer. cache may be nil.
func NewTrainer(frontend *Frontend, store *artifact.Store, cache *dataset.Cache, opts TrainOptions) *Trainer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	return &Trainer{
		frontend: frontend,
		store:    store,
		cache:    cache,
		opts:     opts,
		logger: logging.WithFields(logging.Fields{
			"component": "trainer",
		}),
	}
}

type sample struct {
	vector features.Vector
	cached bool
	err    error
}

// Train scans dir, extracts features, fits the scaler on the training split
// only, fits the forest, evaluates on the held-out split and publishes.
func (t *Trainer) Train(ctx context.Context, dir string) (*Report, error) {
	const op = "pipeline.train"
	start := time.Now()

	examples, skipped, err := dataset.Scan(dir)
	if err != nil {
		return nil, errs.InvalidTrainingData(op, err.Error())
	}
	for _, s := range skipped {
		t.logger.Warn("Skipping file", logging.Fields{"path": s.Path, "reason": s.Reason})
	}
	if len(examples) == 0 {
		return nil, errs.InvalidTrainingData(op, "no labeled recordings in "+dir)
	}

	t.logger.Info("Extracting features", logging.Fields{
		"dataset": dir,
		"files":   len(examples),
		"skipped": len(skipped),
		"workers": t.opts.Workers,
	})

	samples, err := t.extractAll(ctx, examples)
	if err != nil {
		return nil, err
	}

	report := &Report{
		FeatureVersion: t.frontend.FeatureVersion(),
		Dataset:        dir,
		Files:          len(examples),
		ClassCounts:    map[string]int{},
		Skipped:        skipped,
		Forest:         t.opts.Forest,
	}

	var X [][]float64
	var y []string
	for i, s := range samples {
		if s.err != nil {
			report.Failures = append(report.Failures, failureOf(examples[i].Path, s.err))
			continue
		}
		if s.cached {
			report.CacheHits++
		}
		X = append(X, s.vector)
		y = append(y, string(examples[i].Label))
		report.ClassCounts[string(examples[i].Label)]++
	}
	for _, f := range report.Failures {
		t.logger.Warn("Recording skipped", logging.Fields{"path": f.Path, "stage": f.Stage, "error": f.Error})
	}
	if len(X) == 0 {
		return nil, errs.InvalidTrainingData(op, "no recording produced features")
	}

	trainIdx, testIdx, err := dataset.Split(y, dataset.SplitOptions{
		TestFraction: t.opts.TestFraction,
		Seed:         t.opts.Seed,
		Stratify:     t.opts.Stratify,
	})
	if err != nil {
		return nil, errs.InvalidTrainingData(op, err.Error())
	}
	trainX, trainY := pick(X, y, trainIdx)
	testX, testY := pick(X, y, testIdx)
	report.TrainSamples, report.TestSamples = len(trainX), len(testX)

	scaler, err := model.FitScaler(trainX)
	if err != nil {
		return nil, err
	}
	scaledTrain, err := scaler.ApplyAll(trainX)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	t.logger.Info("Fitting classifier", logging.Fields{
		"train_samples": len(trainX),
		"test_samples":  len(testX),
		"trees":         t.opts.Forest.NumTrees,
	})
	forest, err := model.FitForest(scaledTrain, trainY, t.opts.Forest)
	if err != nil {
		return nil, err
	}

	if len(testX) > 0 {
		predicted := make([]string, len(testX))
		for i, x := range testX {
			scaled, err := scaler.Apply(x)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
			if predicted[i], err = forest.Predict(scaled); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		if report.Evaluation, err = model.Evaluate(forest.Classes, testY, predicted); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		t.logger.Info("Held-out evaluation", logging.Fields{
			"accuracy": report.Evaluation.Accuracy,
			"macro_f1": report.Evaluation.MacroF1,
		})
	}

	report.ArtifactID = uuid.NewString()
	report.CreatedAt = time.Now().UTC()
	report.Elapsed = time.Since(start)

	bundle := &artifact.Bundle{
		ID:             report.ArtifactID,
		FeatureVersion: report.FeatureVersion,
		CreatedAt:      report.CreatedAt,
		Scaler:         scaler,
		Forest:         forest,
	}
	if _, err := t.store.Publish(bundle, report); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return report, nil
}

// extractAll computes features for every example with bounded parallelism.
// Per-file failures are recorded unless Strict is set.
func (t *Trainer) extractAll(ctx context.Context, examples []dataset.Example) ([]sample, error) {
	samples := make([]sample, len(examples))

	var bar *mpb.Bar
	var progress *mpb.Progress
	if t.opts.Progress != nil {
		progress = mpb.NewWithContext(ctx, mpb.WithWidth(64), mpb.WithOutput(t.opts.Progress))
		bar = progress.AddBar(int64(len(examples)),
			mpb.PrependDecorators(
				decor.Name("Extracting: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.Workers)

	for i, ex := range examples {
		g.Go(func() error {
			started := time.Now()
			s := t.extractOne(gctx, ex)
			if bar != nil {
				bar.EwmaIncrement(time.Since(started))
			}
			if s.err != nil && t.opts.Strict {
				return fmt.Errorf("%s: %w", ex.Path, s.err)
			}
			samples[i] = s
			return nil
		})
	}

	err := g.Wait()
	if progress != nil {
		if err != nil {
			bar.Abort(false)
		}
		progress.Wait()
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

func (t *Trainer) extractOne(ctx context.Context, ex dataset.Example) sample {
	if err := ctx.Err(); err != nil {
		return sample{err: err}
	}

	data, err := os.ReadFile(ex.Path)
	if err != nil {
		return sample{err: stageError("read", err)}
	}

	version := t.frontend.FeatureVersion()
	var hash string
	if t.cache != nil {
		hash = dataset.ContentHash(data)
		v, ok, err := t.cache.Get(ctx, hash, version)
		if err != nil {
			t.logger.Warn("Feature cache lookup failed", logging.Fields{"path": ex.Path, "error": err.Error()})
		} else if ok && len(v) == features.Dim {
			return sample{vector: v, cached: true}
		}
	}

	vector, _, err := t.frontend.Features(ctx, data)
	if err != nil {
		return sample{err: err}
	}

	if t.cache != nil {
		if err := t.cache.Put(ctx, hash, version, vector); err != nil {
			t.logger.Warn("Feature cache store failed", logging.Fields{"path": ex.Path, "error": err.Error()})
		}
	}
	return sample{vector: vector}
}

func pick(X [][]float64, y []string, idx []int) ([][]float64, []string) {
	outX := make([][]float64, len(idx))
	outY := make([]string, len(idx))
	for i, j := range idx {
		outX[i] = X[j]
		outY[i] = y[j]
	}
	return outX, outY
}

func failureOf(path string, err error) Failure {
	f := Failure{Path: path, Error: err.Error()}
	var ce *errs.ClassificationError
	if errors.As(err, &ce) {
		f.Stage = ce.Stage
	}
	return f
}

// ClassCodes returns the label codes of a report in sorted order
func (r *Report) ClassCodes() []string {
	codes := make([]string, 0, len(r.ClassCounts))
	for c := range r.ClassCounts {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

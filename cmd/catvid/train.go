package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/dataset"
	"github.com/RyanBlaney/catvid/labels"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/pipeline"
)

var trainNoProgress bool

var trainCmd = &cobra.Command{
	Use:   "train <dataset-dir>",
	Short: "Train and publish a model from labeled recordings",
	Long: `Train scans a directory for recordings whose file names start with a
context code (F_, I_ or B_), extracts features, holds out a test split,
fits the scaler and random forest and publishes them as a new artifact
version. The server picks it up on its next reload.

Examples:
  catvid train ./dataset
  catvid train --trees 200 --test-fraction 0.25 --stratify ./dataset
  catvid train -o yaml ./dataset > report.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)

	trainCmd.Flags().Int("trees", 100, "number of trees in the forest")
	trainCmd.Flags().Int("max-depth", 0, "maximum tree depth (0 = unlimited)")
	trainCmd.Flags().String("criterion", "gini", "split criterion (gini, entropy)")
	trainCmd.Flags().Int64("seed", 42, "seed for the split")
	trainCmd.Flags().Float64("test-fraction", 0.2, "fraction of recordings held out for evaluation")
	trainCmd.Flags().Bool("stratify", false, "hold out the same fraction of every class")
	trainCmd.Flags().Int("workers", 0, "parallel feature extraction and tree fitting (0 = all CPUs)")
	trainCmd.Flags().Bool("strict", false, "fail on the first unreadable recording")
	trainCmd.Flags().Bool("no-ffmpeg", false, "accept WAV input only")
	trainCmd.Flags().String("resample", "soxr", "resampler (soxr, sinc)")
	trainCmd.Flags().BoolVar(&trainNoProgress, "no-progress", false, "disable the progress bar")
}

func runTrain(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	frontend, err := newFrontend(appConfig)
	if err != nil {
		return err
	}
	opts, err := appConfig.TrainOptions()
	if err != nil {
		return err
	}
	if !trainNoProgress && isatty.IsTerminal(os.Stderr.Fd()) {
		opts.Progress = os.Stderr
	}

	var cache *dataset.Cache
	if path := appConfig.CachePath(); path != "" {
		if err := os.MkdirAll(appConfig.Artifacts.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create artifacts dir: %w", err)
		}
		cache, err = dataset.OpenCache(ctx, path)
		if err != nil {
			return err
		}
		defer cache.Close()
	}

	store := artifact.NewStore(appConfig.Artifacts.Dir)
	report, err := pipeline.NewTrainer(frontend, store, cache, opts).Train(ctx, args[0])
	if err != nil {
		return err
	}

	if cache != nil {
		pruneCache(ctx, cache, report.FeatureVersion)
	}

	logging.Info("Model published", logging.Fields{
		"artifact_id": report.ArtifactID,
		"report":      store.ReportPath(report.ArtifactID),
	})
	return render(cmd.OutOrStdout(), report, func(tw *tabwriter.Writer) { printReport(tw, report) })
}

func pruneCache(ctx context.Context, cache *dataset.Cache, version string) {
	removed, err := cache.Prune(ctx, version)
	if err != nil {
		logging.Warn("Failed to prune feature cache", logging.Fields{"error": err.Error()})
		return
	}
	if removed > 0 {
		logging.Debug("Pruned stale cache entries", logging.Fields{"removed": removed})
	}
}

func printReport(tw *tabwriter.Writer, r *pipeline.Report) {
	fmt.Fprintf(tw, "Artifact:\t%s\n", r.ArtifactID)
	fmt.Fprintf(tw, "Feature version:\t%s\n", r.FeatureVersion)
	fmt.Fprintf(tw, "Recordings:\t%d (%d skipped, %d failed, %d cached)\n",
		r.Files, len(r.Skipped), len(r.Failures), r.CacheHits)
	fmt.Fprintf(tw, "Classes:\t%s\n", classCounts(r))
	fmt.Fprintf(tw, "Split:\t%d train / %d test\n", r.TrainSamples, r.TestSamples)
	fmt.Fprintf(tw, "Elapsed:\t%s\n", r.Elapsed.Round(time.Millisecond))

	if r.Evaluation == nil {
		fmt.Fprintln(tw, "\nNo held-out recordings; evaluation skipped.")
		return
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "class\tprecision\trecall\tf1\tsupport\t")
	for _, m := range r.Evaluation.PerClass {
		fmt.Fprintf(tw, "%s (%s)\t%.2f\t%.2f\t%.2f\t%d\t\n",
			m.Class, labels.Lookup(m.Class), m.Precision, m.Recall, m.F1, m.Support)
	}
	fmt.Fprintf(tw, "accuracy\t\t\t%.2f\t%d\t\n", r.Evaluation.Accuracy, r.TestSamples)
	fmt.Fprintf(tw, "macro avg\t\t\t%.2f\t\t\n", r.Evaluation.MacroF1)
}

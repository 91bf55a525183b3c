package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/pipeline"
)

var classifyCmd = &cobra.Command{
	Use:   "classify <file>...",
	Short: "Classify recordings with the current model",
	Long: `Classify decodes each file (WAV natively, video and other containers
through ffmpeg), extracts features and predicts the emission context with
the model currently published in the artifact directory.

Examples:
  catvid classify meow.wav
  catvid classify -o json clip1.mp4 clip2.mov`,
	Args: cobra.MinimumNArgs(1),
	RunE: runClassify,
}

func init() {
	rootCmd.AddCommand(classifyCmd)

	classifyCmd.Flags().Bool("no-ffmpeg", false, "accept WAV input only")
	classifyCmd.Flags().String("resample", "soxr", "resampler (soxr, sinc)")
}

// fileResult is one row of classify output
type fileResult struct {
	Path   string           `json:"path" yaml:"path"`
	Result *pipeline.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error  string           `json:"error,omitempty" yaml:"error,omitempty"`
	Code   string           `json:"code,omitempty" yaml:"code,omitempty"`
}

func runClassify(cmd *cobra.Command, args []string) error {
	frontend, err := newFrontend(appConfig)
	if err != nil {
		return err
	}
	registry := artifact.NewRegistry(artifact.NewStore(appConfig.Artifacts.Dir), frontend.FeatureVersion())
	if _, err := registry.Reload(); err != nil {
		return err
	}
	inference := pipeline.NewInference(frontend, registry)

	results := make([]fileResult, 0, len(args))
	failed := 0
	for _, path := range args {
		row := fileResult{Path: path}

		data, err := os.ReadFile(path)
		if err == nil {
			row.Result, err = inference.Classify(cmd.Context(), data)
		}
		if err != nil {
			row.Error = err.Error()
			row.Code = errs.CodeOf(err)
			failed++
		}
		results = append(results, row)
	}

	err = render(cmd.OutOrStdout(), results, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "FILE\tCONTEXT\tCODE\tCONFIDENCE\t")
		for _, r := range results {
			if r.Result == nil {
				fmt.Fprintf(tw, "%s\terror: %s\t\t\t\n", r.Path, r.Error)
				continue
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t\n", r.Path, r.Result.Category, r.Result.Code, r.Result.Confidence)
		}
	})
	if err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d recordings could not be classified", failed, len(args))
	}
	return nil
}

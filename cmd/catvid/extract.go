package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/catvid/features"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Print the feature vector of a recording",
	Long: `Extract runs decoding, normalization and feature extraction on one
file and prints the resulting vector: 13 MFCC means, 12 chroma means and 7
spectral contrast means.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().Bool("no-ffmpeg", false, "accept WAV input only")
	extractCmd.Flags().String("resample", "soxr", "resampler (soxr, sinc)")
}

// extraction is the machine-readable extract output
type extraction struct {
	Path           string             `json:"path" yaml:"path"`
	FeatureVersion string             `json:"feature_version" yaml:"feature_version"`
	Seconds        float64            `json:"seconds" yaml:"seconds"`
	Features       map[string]float64 `json:"features" yaml:"features"`
	Vector         []float64          `json:"vector" yaml:"vector,flow"`
}

func runExtract(cmd *cobra.Command, args []string) error {
	frontend, err := newFrontend(appConfig)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	vector, normalized, err := frontend.Features(cmd.Context(), data)
	if err != nil {
		return err
	}

	names := features.Names()
	out := extraction{
		Path:           args[0],
		FeatureVersion: frontend.FeatureVersion(),
		Seconds:        normalized.Duration().Seconds(),
		Features:       make(map[string]float64, len(vector)),
		Vector:         vector,
	}
	for i, v := range vector {
		out.Features[names[i]] = v
	}

	return render(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
		fmt.Fprintf(tw, "# %s (%.2fs after trimming)\n", out.Path, out.Seconds)
		for i, v := range vector {
			fmt.Fprintf(tw, "%s\t%10.4f\t\n", names[i], v)
		}
	})
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/features"
	"github.com/RyanBlaney/catvid/labels"
	"github.com/RyanBlaney/catvid/pipeline"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List published model versions",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

var modelsShowCmd = &cobra.Command{
	Use:   "show <version>",
	Short: "Show one published model version",
	Long: `Show loads a published version, checks it against the feature version
of the current configuration and prints its training report.`,
	Args: cobra.ExactArgs(1),
	RunE: runModelsShow,
}

func init() {
	modelsShowCmd.Flags().String("resample", "soxr", "resampler (soxr, sinc)")

	modelsCmd.AddCommand(modelsShowCmd)
	rootCmd.AddCommand(modelsCmd)
}

type modelVersion struct {
	ID      string `json:"id" yaml:"id"`
	Current bool   `json:"current" yaml:"current"`
	Report  string `json:"report" yaml:"report"`
}

func runModels(cmd *cobra.Command, args []string) error {
	store := artifact.NewStore(appConfig.Artifacts.Dir)

	ids, err := store.Versions()
	if err != nil {
		return err
	}
	current := ""
	if m, err := store.Manifest(); err == nil {
		current = m.Current
	}

	versions := make([]modelVersion, len(ids))
	for i, id := range ids {
		versions[i] = modelVersion{ID: id, Current: id == current, Report: store.ReportPath(id)}
	}

	return render(cmd.OutOrStdout(), versions, func(tw *tabwriter.Writer) {
		if len(versions) == 0 {
			fmt.Fprintf(tw, "No models published in %s\n", store.Dir())
			return
		}
		fmt.Fprintln(tw, "VERSION\tCURRENT\tREPORT\t")
		for _, v := range versions {
			mark := ""
			if v.Current {
				mark = "*"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t\n", v.ID, mark, v.Report)
		}
	})
}

type modelDetail struct {
	ID             string           `json:"id" yaml:"id"`
	Current        bool             `json:"current" yaml:"current"`
	CreatedAt      time.Time        `json:"created_at" yaml:"created_at"`
	FeatureVersion string           `json:"feature_version" yaml:"feature_version"`
	Compatible     bool             `json:"compatible" yaml:"compatible"`
	Classes        []string         `json:"classes" yaml:"classes"`
	Trees          int              `json:"trees" yaml:"trees"`
	Features       int              `json:"features" yaml:"features"`
	Report         *pipeline.Report `json:"report,omitempty" yaml:"report,omitempty"`
}

func runModelsShow(cmd *cobra.Command, args []string) error {
	store := artifact.NewStore(appConfig.Artifacts.Dir)
	id := args[0]

	// no version check; incompatible models can still be inspected
	bundle, err := store.LoadVersion(id, "")
	if err != nil {
		return err
	}

	detail := modelDetail{
		ID:             id,
		CreatedAt:      bundle.CreatedAt,
		FeatureVersion: bundle.FeatureVersion,
		Compatible:     bundle.FeatureVersion == pipeline.FeatureVersion(appConfig.Audio.Normalizer(), features.DefaultConfig()),
		Classes:        bundle.Forest.Classes,
		Trees:          len(bundle.Forest.Trees),
		Features:       bundle.Forest.NumFeatures,
	}
	if m, err := store.Manifest(); err == nil {
		detail.Current = m.Current == id
	}

	report, err := readReport(store.ReportPath(id))
	if err != nil {
		return err
	}
	detail.Report = report

	return render(cmd.OutOrStdout(), detail, func(tw *tabwriter.Writer) {
		compat := "compatible"
		if !detail.Compatible {
			compat = "incompatible with the current configuration"
		}
		fmt.Fprintf(tw, "Version:\t%s\n", detail.ID)
		fmt.Fprintf(tw, "Current:\t%t\n", detail.Current)
		fmt.Fprintf(tw, "Created:\t%s\n", detail.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(tw, "Feature version:\t%s (%s)\n", detail.FeatureVersion, compat)
		fmt.Fprintf(tw, "Classes:\t%s\n", describeClasses(detail.Classes))
		fmt.Fprintf(tw, "Forest:\t%d trees over %d features\n", detail.Trees, detail.Features)

		if report == nil {
			return
		}
		fmt.Fprintf(tw, "Trained on:\t%s (%s)\n", report.Dataset, classCounts(report))
		if report.Evaluation != nil {
			fmt.Fprintf(tw, "Accuracy:\t%.2f (macro F1 %.2f)\n", report.Evaluation.Accuracy, report.Evaluation.MacroF1)
		}
	})
}

// readReport reads a training report; a version published without one
// yields nil
func readReport(path string) (*pipeline.Report, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var r pipeline.Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("report %s: %w", path, err)
	}
	return &r, nil
}

func describeClasses(codes []string) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = fmt.Sprintf("%s (%s)", c, labels.Lookup(c))
	}
	return strings.Join(parts, ", ")
}

// classCounts formats a report's per-class recording counts
func classCounts(r *pipeline.Report) string {
	parts := make([]string, 0, len(r.ClassCounts))
	for _, c := range r.ClassCodes() {
		parts = append(parts, fmt.Sprintf("%s %d", c, r.ClassCounts[c]))
	}
	return strings.Join(parts, ", ")
}

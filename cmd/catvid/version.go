package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/catvid/artifact"
	"github.com/RyanBlaney/catvid/features"
	"github.com/RyanBlaney/catvid/pipeline"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "catvid %s (%s %s/%s)\n", version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "feature version: %s\n", pipeline.FeatureVersion(appConfig.Audio.Normalizer(), features.DefaultConfig()))
		fmt.Fprintf(out, "artifact schema: %d\n", artifact.SchemaVersion)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

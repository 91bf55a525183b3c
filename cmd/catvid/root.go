package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/RyanBlaney/catvid/audio"
	"github.com/RyanBlaney/catvid/configs"
	"github.com/RyanBlaney/catvid/features"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/pipeline"
	"github.com/RyanBlaney/catvid/transcode"
)

const envPrefix = "CATVID"

var (
	configFile   string
	logLevel     string
	artifactsDir string
	outputFormat string

	// appConfig is loaded in PersistentPreRunE before any command runs
	appConfig *configs.Config
	configErr error
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "catvid",
	Short: "Classify the emission context of cat meows",
	Long: `catvid classifies short recordings of cat meows into one of three
emission contexts: waiting for food, isolated in an unfamiliar environment,
or being brushed.

Train a model from a directory of labeled recordings (file names start with
F_, I_ or B_), then classify files or serve the HTTP API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeConfig(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default is ./catvid.yaml or $HOME/.config/catvid/catvid.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&artifactsDir, "artifacts-dir", "artifacts",
		"model artifact directory")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table",
		"output format (table, json, yaml)")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("artifacts.dir", rootCmd.PersistentFlags().Lookup("artifacts-dir"))
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "catvid"))
		}
		viper.AddConfigPath("/etc/catvid")
		viper.SetConfigName("catvid")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			configErr = fmt.Errorf("failed to read config: %w", err)
		}
	}
}

// initializeConfig binds command flags, decodes the configuration and
// applies the log level
func initializeConfig(cmd *cobra.Command) error {
	if configErr != nil {
		return configErr
	}
	if err := bindFlags(cmd, viper.GetViper()); err != nil {
		return err
	}

	cfg, err := configs.Load(viper.GetViper())
	if err != nil {
		return err
	}
	appConfig = cfg

	logging.SetLevel(cfg.Level())
	if used := viper.ConfigFileUsed(); used != "" {
		logging.Debug("Using config file", logging.Fields{"path": used})
	}
	return nil
}

// flagKeys maps command flags onto configuration keys
var flagKeys = map[string]string{
	"trees":         "model.num_trees",
	"max-depth":     "model.max_depth",
	"criterion":     "model.criterion",
	"seed":          "training.seed",
	"test-fraction": "training.test_fraction",
	"stratify":      "training.stratify",
	"workers":       "training.workers",
	"strict":        "training.strict",
	"addr":          "server.addr",
	"resample":      "audio.resample",
	"no-ffmpeg":     "",
}

// bindFlags binds each changed command flag to its configuration key so
// that flags win over the config file and the environment
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || key == "" || !f.Changed {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			lastErr = err
		}
	})

	if f := cmd.Flags().Lookup("no-ffmpeg"); f != nil && f.Changed {
		v.Set("ffmpeg.enabled", false)
	}
	return lastErr
}

// newFrontend wires decoder, normalizer and extractor from the configuration
func newFrontend(cfg *configs.Config) (*pipeline.Frontend, error) {
	var media audio.MediaDecoder
	if dc := cfg.FFmpeg.Decoder(); dc != nil {
		media = transcode.NewDecoder(dc)
	}

	normalizer, err := audio.NewNormalizer(cfg.Audio.Normalizer())
	if err != nil {
		return nil, err
	}
	extractor, err := features.NewExtractor(features.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return pipeline.NewFrontend(audio.NewDecoder(media), normalizer, extractor), nil
}

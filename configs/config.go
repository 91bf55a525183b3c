// Package configs loads catvid settings from viper (config file, CATVID_
// environment variables and bound flags) and maps them onto the option
// structs of each component.
package configs

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/RyanBlaney/catvid/algorithms/stats"
	"github.com/RyanBlaney/catvid/audio"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/model"
	"github.com/RyanBlaney/catvid/pipeline"
	"github.com/RyanBlaney/catvid/server"
	"github.com/RyanBlaney/catvid/transcode"
)

// Config represents the application configuration
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	Audio     AudioConfig     `mapstructure:"audio"`
	FFmpeg    FFmpegConfig    `mapstructure:"ffmpeg"`
	Model     ModelConfig     `mapstructure:"model"`
	Training  TrainingConfig  `mapstructure:"training"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AudioConfig contains normalization settings
type AudioConfig struct {
	TopDB      float64 `mapstructure:"top_db"`
	Resample   string  `mapstructure:"resample"`
	RemoveDC   bool    `mapstructure:"remove_dc"`
	DCCutoffHz float64 `mapstructure:"dc_cutoff_hz"`
}

// FFmpegConfig controls extraction of audio from video and compressed
// containers. When disabled only WAV input is accepted.
type FFmpegConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`
	FFprobePath string        `mapstructure:"ffprobe_path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
}

// ModelConfig contains random forest hyperparameters
type ModelConfig struct {
	NumTrees        int    `mapstructure:"num_trees"`
	MaxDepth        int    `mapstructure:"max_depth"`
	MinSamplesSplit int    `mapstructure:"min_samples_split"`
	MinSamplesLeaf  int    `mapstructure:"min_samples_leaf"`
	MaxFeatures     int    `mapstructure:"max_features"`
	Criterion       string `mapstructure:"criterion"`
	Bootstrap       bool   `mapstructure:"bootstrap"`
	Seed            int64  `mapstructure:"seed"`
}

// TrainingConfig contains dataset handling settings
type TrainingConfig struct {
	TestFraction float64 `mapstructure:"test_fraction"`
	Seed         int64   `mapstructure:"seed"`
	Stratify     bool    `mapstructure:"stratify"`
	Workers      int     `mapstructure:"workers"`
	Strict       bool    `mapstructure:"strict"`
	CacheEnabled bool    `mapstructure:"cache_enabled"`
	// CachePath defaults to features.db inside the artifacts directory
	CachePath string `mapstructure:"cache_path"`
}

// ArtifactsConfig locates the model store
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ServerConfig contains HTTP settings
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	Workers         int           `mapstructure:"workers"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Load applies defaults to v, decodes it and validates the result
func Load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if _, err := audio.NewNormalizer(c.Audio.Normalizer()); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if c.FFmpeg.Enabled && (c.FFmpeg.FFmpegPath == "" || c.FFmpeg.FFprobePath == "") {
		return fmt.Errorf("ffmpeg: binary paths must be set when enabled")
	}

	forest, err := c.ForestParams()
	if err != nil {
		return err
	}
	if err := forest.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}

	if c.Training.TestFraction < 0 || c.Training.TestFraction >= 1 {
		return fmt.Errorf("training: test_fraction must be in [0, 1): %v", c.Training.TestFraction)
	}
	if c.Training.Workers < 0 {
		return fmt.Errorf("training: workers must not be negative: %d", c.Training.Workers)
	}
	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts: dir must be set")
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server: addr must be set")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("server: max_upload_bytes must be positive: %d", c.Server.MaxUploadBytes)
	}
	if c.Server.Workers < 0 {
		return fmt.Errorf("server: workers must not be negative: %d", c.Server.Workers)
	}
	return nil
}

// Level returns the parsed log level
func (c *Config) Level() logging.Level {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.InfoLevel
	}
	return level
}

// Normalizer maps the audio section onto the normalizer options
func (a AudioConfig) Normalizer() audio.NormalizerConfig {
	return audio.NormalizerConfig{
		TopDB:      a.TopDB,
		Resample:   a.Resample,
		RemoveDC:   a.RemoveDC,
		DCCutoffHz: a.DCCutoffHz,
	}
}

// Decoder returns the ffmpeg decoder options, or nil when ffmpeg is
// disabled
func (f FFmpegConfig) Decoder() *transcode.DecoderConfig {
	if !f.Enabled {
		return nil
	}
	cfg := transcode.DefaultDecoderConfig()
	cfg.FFmpegPath = f.FFmpegPath
	cfg.FFprobePath = f.FFprobePath
	cfg.Timeout = f.Timeout
	cfg.MaxDuration = f.MaxDuration
	return cfg
}

// ForestParams maps the model section onto forest hyperparameters
func (c *Config) ForestParams() (model.ForestParams, error) {
	criterion, err := stats.ParseCriterion(c.Model.Criterion)
	if err != nil {
		return model.ForestParams{}, fmt.Errorf("model: %w", err)
	}

	params := model.DefaultForestParams()
	params.NumTrees = c.Model.NumTrees
	params.MaxDepth = c.Model.MaxDepth
	params.MinSamplesSplit = c.Model.MinSamplesSplit
	params.MinSamplesLeaf = c.Model.MinSamplesLeaf
	params.MaxFeatures = c.Model.MaxFeatures
	params.Criterion = criterion
	params.Bootstrap = c.Model.Bootstrap
	params.Seed = c.Model.Seed
	if c.Training.Workers > 0 {
		params.Workers = c.Training.Workers
	}
	return params, nil
}

// TrainOptions combines the training and model sections
func (c *Config) TrainOptions() (pipeline.TrainOptions, error) {
	forest, err := c.ForestParams()
	if err != nil {
		return pipeline.TrainOptions{}, err
	}

	opts := pipeline.DefaultTrainOptions()
	opts.TestFraction = c.Training.TestFraction
	opts.Seed = c.Training.Seed
	opts.Stratify = c.Training.Stratify
	opts.Strict = c.Training.Strict
	if c.Training.Workers > 0 {
		opts.Workers = c.Training.Workers
	}
	opts.Forest = forest
	return opts, nil
}

// CachePath returns where the feature cache lives, or "" when disabled
func (c *Config) CachePath() string {
	if !c.Training.CacheEnabled {
		return ""
	}
	if c.Training.CachePath != "" {
		return c.Training.CachePath
	}
	return filepath.Join(c.Artifacts.Dir, "features.db")
}

// HTTP maps the server section onto server options
func (s ServerConfig) HTTP() server.Config {
	cfg := server.DefaultConfig()
	cfg.Addr = s.Addr
	cfg.MaxUploadBytes = s.MaxUploadBytes
	if s.Workers > 0 {
		cfg.Workers = s.Workers
	}
	cfg.RequestTimeout = s.RequestTimeout
	cfg.ShutdownTimeout = s.ShutdownTimeout
	cfg.AllowedOrigins = s.AllowedOrigins
	return cfg
}

package configs

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers default values for every key. Values from the
// config file, the environment or bound flags take precedence.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	// Audio normalization
	v.SetDefault("audio.top_db", 60.0)
	v.SetDefault("audio.resample", "soxr")
	v.SetDefault("audio.remove_dc", false)
	v.SetDefault("audio.dc_cutoff_hz", 20.0)

	// Video and compressed input
	v.SetDefault("ffmpeg.enabled", true)
	v.SetDefault("ffmpeg.ffmpeg_path", "ffmpeg")
	v.SetDefault("ffmpeg.ffprobe_path", "ffprobe")
	v.SetDefault("ffmpeg.timeout", 30*time.Second)
	v.SetDefault("ffmpeg.max_duration", time.Duration(0))

	// Random forest
	v.SetDefault("model.num_trees", 100)
	v.SetDefault("model.max_depth", 0)
	v.SetDefault("model.min_samples_split", 2)
	v.SetDefault("model.min_samples_leaf", 1)
	v.SetDefault("model.max_features", 0)
	v.SetDefault("model.criterion", "gini")
	v.SetDefault("model.bootstrap", true)
	v.SetDefault("model.seed", 42)

	// Training
	v.SetDefault("training.test_fraction", 0.2)
	v.SetDefault("training.seed", 42)
	v.SetDefault("training.stratify", false)
	v.SetDefault("training.workers", 0)
	v.SetDefault("training.strict", false)
	v.SetDefault("training.cache_enabled", true)
	v.SetDefault("training.cache_path", "")

	v.SetDefault("artifacts.dir", "artifacts")

	// HTTP server
	v.SetDefault("server.addr", ":5000")
	v.SetDefault("server.max_upload_bytes", int64(100<<20))
	v.SetDefault("server.workers", 0)
	v.SetDefault("server.request_timeout", 2*time.Minute)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})
}

// GetDefaultConfig returns the configuration with every default applied
func GetDefaultConfig() *Config {
	config, err := Load(viper.New())
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return config
}

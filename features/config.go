// Package features turns normalized audio into the fixed-length vectors the
// classifier is trained on. Training and inference must share one Config;
// its Version is stored with the model artifacts and checked at load.
package features

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/RyanBlaney/catvid/algorithms/chroma"
	"github.com/RyanBlaney/catvid/algorithms/spectral"
	"github.com/RyanBlaney/catvid/algorithms/windowing"
)

const (
	// SampleRate is the canonical rate every clip is resampled to
	SampleRate = 16000

	NumMFCC     = 13
	NumChroma   = chroma.NumBins
	NumContrast = 7

	// Dim is the length of every feature vector
	Dim = NumMFCC + NumChroma + NumContrast

	// schemaRevision changes when the extraction code changes in a way the
	// Config fields do not capture
	schemaRevision = 1
)

// Config holds every constant that shapes a feature vector
type Config struct {
	SampleRate int                     `json:"sample_rate" msgpack:"sample_rate"`
	WindowSize int                     `json:"window_size" msgpack:"window_size"`
	HopSize    int                     `json:"hop_size" msgpack:"hop_size"`
	Window     windowing.Kind          `json:"window" msgpack:"window"`
	MFCC       spectral.MFCCParams     `json:"mfcc" msgpack:"mfcc"`
	Chroma     chroma.Params           `json:"chroma" msgpack:"chroma"`
	Contrast   spectral.ContrastParams `json:"contrast" msgpack:"contrast"`
}

// DefaultConfig returns the single feature configuration used for both
// training and inference
func DefaultConfig() Config {
	return Config{
		SampleRate: SampleRate,
		WindowSize: 2048,
		HopSize:    512,
		Window:     windowing.KindHann,
		MFCC: spectral.MFCCParams{
			NumCoefficients: NumMFCC,
			NumMelFilters:   40,
			LowFreq:         0,
			HighFreq:        SampleRate / 2,
		},
		Chroma: chroma.Params{
			TuningFreq: 440,
			MinFreq:    80,
			MaxFreq:    SampleRate / 2,
		},
		Contrast: spectral.ContrastParams{
			NumBands: NumContrast,
			MinFreq:  200,
			Quantile: 0.02,
		},
	}
}

// Validate checks that the configuration yields Dim-length vectors
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.WindowSize <= 0 || c.HopSize <= 0 {
		return fmt.Errorf("window (%d) and hop (%d) must be positive", c.WindowSize, c.HopSize)
	}
	if c.HopSize > c.WindowSize {
		return fmt.Errorf("hop size %d exceeds window size %d", c.HopSize, c.WindowSize)
	}
	if _, err := windowing.ParseKind(string(c.Window)); err != nil {
		return err
	}
	if c.MFCC.NumCoefficients != NumMFCC {
		return fmt.Errorf("expected %d MFCC coefficients, got %d", NumMFCC, c.MFCC.NumCoefficients)
	}
	if c.Contrast.NumBands != NumContrast {
		return fmt.Errorf("expected %d contrast bands, got %d", NumContrast, c.Contrast.NumBands)
	}
	return nil
}

// Version is a stable tag derived from every field of c. Artifacts trained
// under one version are rejected by an extractor with another.
func (c Config) Version() string {
	return versionTag(c)
}

// VersionWith tags c together with the configuration of the stages that
// feed the extractor. upstream must encode to JSON deterministically.
func (c Config) VersionWith(upstream any) string {
	return versionTag(struct {
		Upstream any    `json:"upstream"`
		Features Config `json:"features"`
	}{upstream, c})
}

func versionTag(v any) string {
	// struct field order makes the encoding deterministic
	payload, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("features: config not encodable: %v", err))
	}
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("v%d-%s", schemaRevision, hex.EncodeToString(sum[:6]))
}

// Names returns the name of each vector dimension in order
func Names() []string {
	names := make([]string, 0, Dim)
	for i := range NumMFCC {
		names = append(names, fmt.Sprintf("mfcc_%02d", i))
	}
	for _, label := range chroma.Labels {
		names = append(names, "chroma_"+label)
	}
	for i := range NumContrast {
		names = append(names, fmt.Sprintf("contrast_%d", i))
	}
	return names
}

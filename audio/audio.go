// Package audio turns uploaded recordings into the canonical mono 16 kHz
// signal the feature extractor expects.
package audio

import (
	"time"
)

// TargetSampleRate is the rate every normalized clip is delivered at
const TargetSampleRate = 16000

// Raw is decoded, not yet normalized audio. Samples are mono; decoders
// down-mix before returning.
type Raw struct {
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"` // channel count of the source
	Source     string    `json:"source"`   // "wav" or "ffmpeg"
}

// Duration of the decoded clip
func (r *Raw) Duration() time.Duration {
	return samplesToDuration(len(r.Samples), r.SampleRate)
}

// Normalized is mono audio at TargetSampleRate with leading and trailing
// silence removed and a peak magnitude of 1 (or all zeros).
type Normalized struct {
	Samples    []float64 `json:"-"`
	SampleRate int       `json:"sample_rate"`

	// TrimStart and TrimEnd are the kept range in source-rate samples
	TrimStart int `json:"trim_start"`
	TrimEnd   int `json:"trim_end"`
}

// Duration of the normalized clip
func (n *Normalized) Duration() time.Duration {
	return samplesToDuration(len(n.Samples), n.SampleRate)
}

func samplesToDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}

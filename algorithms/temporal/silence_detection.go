package temporal

import (
	"math"
)

// SilenceTrimmer cuts leading and trailing silence. A frame is silent when
// its RMS sits more than TopDB below the loudest frame of the clip.
type SilenceTrimmer struct {
	TopDB     float64
	FrameSize int
	HopSize   int
}

// NewSilenceTrimmer returns a trimmer with the usual 2048/512 framing
func NewSilenceTrimmer(topDB float64) *SilenceTrimmer {
	return &SilenceTrimmer{
		TopDB:     topDB,
		FrameSize: 2048,
		HopSize:   512,
	}
}

// Bounds returns the [start, end) sample range that remains after trimming.
// Interior silence is kept. A clip with no energy at all keeps its full
// range.
func (st *SilenceTrimmer) Bounds(signal []float64) (int, int) {
	energies := FrameRMS(signal, st.FrameSize, st.HopSize)
	if len(energies) == 0 {
		return 0, len(signal)
	}

	peak := 0.0
	for _, e := range energies {
		peak = math.Max(peak, e)
	}
	if peak == 0 {
		return 0, len(signal)
	}

	threshold := peak * math.Pow(10, -st.TopDB/20.0)

	first, last := -1, -1
	for i, e := range energies {
		if e > threshold {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return 0, len(signal)
	}

	start := first * st.HopSize
	end := min(len(signal), last*st.HopSize+st.FrameSize)
	// samples past the last full frame belong to it
	if last == len(energies)-1 {
		end = len(signal)
	}
	return start, end
}

// Trim returns the trimmed sub-slice of signal. The result aliases signal.
func (st *SilenceTrimmer) Trim(signal []float64) []float64 {
	start, end := st.Bounds(signal)
	return signal[start:end]
}

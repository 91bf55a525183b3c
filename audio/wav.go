package audio

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"

	"github.com/RyanBlaney/catvid/algorithms/common"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// errUnsupportedWAV marks a well-formed RIFF/WAVE file whose encoding the
// in-process decoder cannot read, e.g. IEEE float samples
var errUnsupportedWAV = errors.New("unsupported wav encoding")

// IsWAV reports whether data starts with a RIFF/WAVE header
func IsWAV(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// decodeWAV reads integer PCM WAV and down-mixes it to mono
func decodeWAV(data []byte) (*Raw, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("invalid wav header")
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: format tag %d", errUnsupportedWAV, dec.WavAudioFormat)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read pcm: %w", err)
	}

	channels := int(dec.NumChans)
	bitDepth := int(dec.BitDepth)
	if bitDepth > 32 {
		return nil, fmt.Errorf("%w: %d-bit samples", errUnsupportedWAV, bitDepth)
	}

	interleaved := make([]float64, len(buf.Data))
	if bitDepth == 8 {
		// 8-bit WAV is unsigned
		for i, v := range buf.Data {
			interleaved[i] = float64(v-128) / 128.0
		}
	} else {
		scale := float64(int64(1) << (bitDepth - 1))
		for i, v := range buf.Data {
			interleaved[i] = float64(v) / scale
		}
	}

	return &Raw{
		Samples:    common.DownmixInterleaved(interleaved, channels),
		SampleRate: int(dec.SampleRate),
		Channels:   channels,
		Source:     "wav",
	}, nil
}

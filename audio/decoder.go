package audio

import (
	"context"
	"errors"
	"fmt"

	"github.com/RyanBlaney/catvid/algorithms/common"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/transcode"
)

// MediaDecoder extracts audio from containers the in-process WAV reader
// cannot handle. *transcode.Decoder implements it.
type MediaDecoder interface {
	DecodeBytes(ctx context.Context, data []byte) (*transcode.AudioData, error)
}

// Decoder turns uploaded bytes into Raw audio. PCM WAV is read in process;
// everything else goes to the media decoder when one is configured.
type Decoder struct {
	media  MediaDecoder
	logger logging.Logger
}

// NewDecoder creates a decoder. A nil media decoder limits input to PCM WAV.
func NewDecoder(media MediaDecoder) *Decoder {
	return &Decoder{
		media: media,
		logger: logging.WithFields(logging.Fields{
			"component": "audio_decoder",
		}),
	}
}

// Decode returns mono samples at the source rate. Every failure is an
// AudioDecode error except a media extraction cut short by ctx, which
// wraps the context error.
func (d *Decoder) Decode(ctx context.Context, data []byte) (*Raw, error) {
	const op = "audio.decode"

	if len(data) == 0 {
		return nil, errs.AudioDecode(op, "empty payload", nil)
	}

	if IsWAV(data) {
		raw, err := decodeWAV(data)
		switch {
		case err == nil:
			if len(raw.Samples) == 0 {
				return nil, errs.AudioDecode(op, "wav contains no samples", nil)
			}
			return raw, nil
		case errors.Is(err, errUnsupportedWAV) && d.media != nil:
			d.logger.Debug("Falling back to ffmpeg for wav", logging.Fields{"reason": err.Error()})
		default:
			return nil, errs.AudioDecode(op, "malformed wav", err)
		}
	}

	if d.media == nil {
		return nil, errs.AudioDecode(op, "unsupported format and media decoding is disabled", nil)
	}

	extracted, err := d.media.DecodeBytes(ctx, data)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: media extraction interrupted: %w", op, ctxErr)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: media extraction interrupted: %w", op, err)
		}
		return nil, errs.AudioDecode(op, "media extraction failed", err)
	}

	samples := extracted.PCM
	if extracted.Channels > 1 {
		samples = common.DownmixInterleaved(samples, extracted.Channels)
	}
	if len(samples) == 0 {
		return nil, errs.AudioDecode(op, "media contains no audio samples", nil)
	}

	channels := extracted.Channels
	if extracted.Source != nil {
		channels = extracted.Source.Channels
	}

	return &Raw{
		Samples:    samples,
		SampleRate: extracted.SampleRate,
		Channels:   channels,
		Source:     "ffmpeg",
	}, nil
}

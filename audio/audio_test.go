package audio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/catvid/algorithms/common"
	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/internal/testaudio"
	"github.com/RyanBlaney/catvid/logging"
	"github.com/RyanBlaney/catvid/transcode"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

type fakeMedia struct {
	data  *transcode.AudioData
	err   error
	calls int
}

func (f *fakeMedia) DecodeBytes(_ context.Context, _ []byte) (*transcode.AudioData, error) {
	f.calls++
	return f.data, f.err
}

func TestDecodeWAV(t *testing.T) {
	tone := testaudio.Tone(440, 0.5, 22050, 0.5)
	payload, err := testaudio.WAV(tone, 22050, 1)
	require.NoError(t, err)
	require.True(t, IsWAV(payload))

	raw, err := NewDecoder(nil).Decode(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, 22050, raw.SampleRate)
	assert.Equal(t, 1, raw.Channels)
	assert.Equal(t, "wav", raw.Source)
	require.Len(t, raw.Samples, len(tone))
	for i := range tone {
		assert.InDelta(t, tone[i], raw.Samples[i], 1e-4)
	}
}

func TestDecodeStereoWAVDownmixes(t *testing.T) {
	frames := 8000
	interleaved := make([]float64, 2*frames)
	for i := range frames {
		interleaved[2*i] = 0.5
		interleaved[2*i+1] = -0.25
	}
	payload, err := testaudio.WAV(interleaved, 16000, 2)
	require.NoError(t, err)

	raw, err := NewDecoder(nil).Decode(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, 2, raw.Channels)
	require.Len(t, raw.Samples, frames)
	assert.InDelta(t, 0.125, raw.Samples[100], 1e-4)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	d := NewDecoder(nil)

	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not audio"),
		"truncated": []byte("RIFF\x00\x00\x00\x00WAVEfmt "),
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := d.Decode(context.Background(), payload)
			require.Error(t, err)
			assert.ErrorIs(t, err, errs.ErrAudioDecode)
		})
	}
}

func TestDecodeFallsBackToMedia(t *testing.T) {
	media := &fakeMedia{data: &transcode.AudioData{
		PCM:        []float64{0.1, 0.3, 0.5, 0.7},
		SampleRate: 16000,
		Channels:   2,
		Source:     &transcode.AudioMetadata{Channels: 2},
	}}

	raw, err := NewDecoder(media).Decode(context.Background(), []byte("\x00\x00\x00\x18ftypmp42"))
	require.NoError(t, err)

	assert.Equal(t, 1, media.calls)
	assert.Equal(t, "ffmpeg", raw.Source)
	assert.Equal(t, 2, raw.Channels)
	assert.InDeltaSlice(t, []float64{0.2, 0.6}, raw.Samples, 1e-12)
}

func TestDecodeMediaFailure(t *testing.T) {
	media := &fakeMedia{err: errors.New("ffmpeg exploded")}

	_, err := NewDecoder(media).Decode(context.Background(), []byte("video bytes"))
	assert.ErrorIs(t, err, errs.ErrAudioDecode)
	assert.ErrorContains(t, err, "ffmpeg exploded")

	media = &fakeMedia{data: &transcode.AudioData{SampleRate: 16000, Channels: 1}}
	_, err = NewDecoder(media).Decode(context.Background(), []byte("video bytes"))
	assert.ErrorIs(t, err, errs.ErrAudioDecode)
}

func TestDecodeMediaInterrupted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	<-ctx.Done()

	media := &fakeMedia{err: errors.New("signal: killed")}
	_, err := NewDecoder(media).Decode(ctx, []byte("video bytes"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, errs.ErrAudioDecode)

	// the decoder may report the context error itself
	media = &fakeMedia{err: fmt.Errorf("ffprobe interrupted: %w", context.Canceled)}
	_, err = NewDecoder(media).Decode(context.Background(), []byte("video bytes"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errs.ErrAudioDecode)
}

func newTestNormalizer(t *testing.T, method string) *Normalizer {
	t.Helper()
	cfg := DefaultNormalizerConfig()
	cfg.Resample = method
	n, err := NewNormalizer(cfg)
	require.NoError(t, err)
	return n
}

func TestNormalizeEmpty(t *testing.T) {
	n := newTestNormalizer(t, ResampleSinc)

	_, err := n.Normalize(&Raw{SampleRate: 16000})
	assert.ErrorIs(t, err, errs.ErrAudioDecode)

	_, err = n.Normalize(nil)
	assert.ErrorIs(t, err, errs.ErrAudioDecode)
}

func TestNormalizeTrimsAndScales(t *testing.T) {
	n := newTestNormalizer(t, ResampleSinc)

	tone := testaudio.Tone(500, 0.5, TargetSampleRate, 0.25)
	raw := &Raw{Samples: testaudio.Pad(tone, 8000, 8000), SampleRate: TargetSampleRate, Channels: 1}

	out, err := n.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, TargetSampleRate, out.SampleRate)
	assert.InDelta(t, 1.0, common.PeakAbs(out.Samples), 1e-12)
	assert.GreaterOrEqual(t, len(out.Samples), len(tone))
	assert.LessOrEqual(t, len(out.Samples), len(tone)+2*2048)
	assert.Greater(t, out.TrimStart, 0)

	// input untouched
	assert.InDelta(t, 0.25, common.PeakAbs(raw.Samples), 1e-3)
}

func TestNormalizeKeepsInteriorSilence(t *testing.T) {
	n := newTestNormalizer(t, ResampleSinc)

	burst := testaudio.Tone(500, 0.3, TargetSampleRate, 0.5)
	x := append(append(append([]float64{}, burst...), testaudio.Silence(8000)...), burst...)

	out, err := n.Normalize(&Raw{Samples: x, SampleRate: TargetSampleRate, Channels: 1})
	require.NoError(t, err)
	assert.Len(t, out.Samples, len(x))
}

func TestNormalizeSilentClip(t *testing.T) {
	n := newTestNormalizer(t, ResampleSinc)

	out, err := n.Normalize(&Raw{Samples: testaudio.Silence(4000), SampleRate: TargetSampleRate, Channels: 1})
	require.NoError(t, err)
	assert.Len(t, out.Samples, 4000)
	assert.Equal(t, 0.0, common.PeakAbs(out.Samples))
}

func TestNormalizeResamples(t *testing.T) {
	tone := testaudio.Tone(440, 1, 44100, 0.8)

	t.Run("sinc", func(t *testing.T) {
		out, err := newTestNormalizer(t, ResampleSinc).Normalize(&Raw{Samples: tone, SampleRate: 44100, Channels: 1})
		require.NoError(t, err)
		assert.Equal(t, common.ResampledLength(len(tone), 44100, TargetSampleRate), len(out.Samples))
		assert.True(t, common.AllFinite(out.Samples))
	})

	t.Run("soxr", func(t *testing.T) {
		out, err := newTestNormalizer(t, ResampleSoxr).Normalize(&Raw{Samples: tone, SampleRate: 44100, Channels: 1})
		require.NoError(t, err)
		assert.Equal(t, common.ResampledLength(len(tone), 44100, TargetSampleRate), len(out.Samples))
		assert.True(t, common.AllFinite(out.Samples))
	})
}

func TestResamplersKeepOnsets(t *testing.T) {
	// a click every 0.1 s, offset by 0.05 s, lands on exact 16 kHz samples
	clicks := make([]float64, 44100)
	for i := 2205; i < len(clicks); i += 4410 {
		clicks[i] = 1
	}

	for _, method := range []string{ResampleSoxr, ResampleSinc} {
		t.Run(method, func(t *testing.T) {
			r, err := NewResampler(method)
			require.NoError(t, err)

			// twice, so the cached delay is exercised as well
			for range 2 {
				out, err := r.Resample(clicks, 44100, TargetSampleRate)
				require.NoError(t, err)
				require.Len(t, out, TargetSampleRate)

				for k := range 10 {
					want := 800 + 1600*k
					lo, hi := want-400, want+400
					peak := lo
					for i := lo; i < hi; i++ {
						if math.Abs(out[i]) > math.Abs(out[peak]) {
							peak = i
						}
					}
					assert.InDelta(t, want, peak, 1, "click %d", k)
				}
			}
		})
	}
}

func TestNormalizeTrimsAtSourceRate(t *testing.T) {
	n := newTestNormalizer(t, ResampleSinc)

	tone := testaudio.Tone(500, 0.5, 44100, 0.25)
	raw := &Raw{Samples: testaudio.Pad(tone, 22050, 22050), SampleRate: 44100, Channels: 1}

	out, err := n.Normalize(raw)
	require.NoError(t, err)

	// 2048/512 frames over the 44.1 kHz signal: frame 40 is the first to
	// reach the tone at 22050, frame 86 the last
	assert.Equal(t, 40*512, out.TrimStart)
	assert.Equal(t, 86*512+2048, out.TrimEnd)
	assert.Equal(t, TargetSampleRate, out.SampleRate)
	assert.Len(t, out.Samples, common.ResampledLength(out.TrimEnd-out.TrimStart, 44100, TargetSampleRate))
}

func TestSincResamplerKeepsPitch(t *testing.T) {
	r, err := NewResampler(ResampleSinc)
	require.NoError(t, err)

	out, err := r.Resample(testaudio.Tone(440, 1, 48000, 0.5), 48000, TargetSampleRate)
	require.NoError(t, err)

	// count positive-going zero crossings over one second
	crossings := 0
	for i := 1; i < len(out); i++ {
		if out[i-1] < 0 && out[i] >= 0 {
			crossings++
		}
	}
	assert.InDelta(t, 440, crossings, 3)
}

func TestNormalizeDCRemoval(t *testing.T) {
	cfg := DefaultNormalizerConfig()
	cfg.Resample = ResampleSinc
	cfg.RemoveDC = true
	n, err := NewNormalizer(cfg)
	require.NoError(t, err)

	tone := testaudio.Tone(300, 1, TargetSampleRate, 0.3)
	for i := range tone {
		tone[i] += 0.4
	}

	out, err := n.Normalize(&Raw{Samples: tone, SampleRate: TargetSampleRate, Channels: 1})
	require.NoError(t, err)

	tail := out.Samples[len(out.Samples)/2:]
	mean := 0.0
	for _, v := range tail {
		mean += v
	}
	mean /= float64(len(tail))
	assert.Less(t, math.Abs(mean), 0.05)
}

func TestUnknownResampleMethod(t *testing.T) {
	_, err := NewResampler("linear")
	assert.Error(t, err)

	cfg := DefaultNormalizerConfig()
	cfg.TopDB = 0
	_, err = NewNormalizer(cfg)
	assert.Error(t, err)
}

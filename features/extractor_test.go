package features

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/catvid/errs"
	"github.com/RyanBlaney/catvid/internal/testaudio"
	"github.com/RyanBlaney/catvid/logging"
)

func init() {
	logging.SetGlobalLogger(&logging.NoOpLogger{})
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultConfig())
	require.NoError(t, err)
	return e
}

func TestExtractDimensionsForAnyLength(t *testing.T) {
	e := newTestExtractor(t)

	for _, seconds := range []float64{0.5, 2, 10} {
		samples := testaudio.Tone(700, seconds, SampleRate, 0.8)
		v, err := e.Extract(samples, SampleRate)
		require.NoError(t, err, "%.1fs clip", seconds)
		assert.Len(t, v, Dim)
		assert.Len(t, v.MFCC(), NumMFCC)
		assert.Len(t, v.Chroma(), NumChroma)
		assert.Len(t, v.Contrast(), NumContrast)
	}
}

func TestExtractTooShort(t *testing.T) {
	e := newTestExtractor(t)

	_, err := e.Extract([]float64{0.1, 0.2, 0.3, 0.2, 0.1}, SampleRate)
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInsufficientAudio)
}

func TestExtractSilenceDoesNotFail(t *testing.T) {
	e := newTestExtractor(t)

	v, err := e.Extract(testaudio.Silence(SampleRate), SampleRate)
	require.NoError(t, err)
	assert.Len(t, v, Dim)
	// nothing to fold into pitch classes
	assert.Equal(t, make([]float64, NumChroma), []float64(v.Chroma()))
}

func TestExtractIsDeterministic(t *testing.T) {
	e := newTestExtractor(t)
	clip := testaudio.Meow("F", rand.New(rand.NewSource(3)), SampleRate)

	a, err := e.Extract(clip, SampleRate)
	require.NoError(t, err)
	b, err := e.Extract(clip, SampleRate)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestExtractRejectsWrongRate(t *testing.T) {
	e := newTestExtractor(t)
	_, err := e.Extract(testaudio.Tone(440, 1, 44100, 0.5), 44100)
	assert.Error(t, err)
}

func TestChromaFollowsPitch(t *testing.T) {
	e := newTestExtractor(t)

	v, err := e.Extract(testaudio.Tone(440, 1, SampleRate, 0.8), SampleRate)
	require.NoError(t, err)

	chroma := v.Chroma()
	best := 0
	for i := range chroma {
		if chroma[i] > chroma[best] {
			best = i
		}
	}
	assert.Equal(t, 9, best) // A
}

func TestVersionTracksConfig(t *testing.T) {
	base := DefaultConfig()
	assert.Equal(t, base.Version(), DefaultConfig().Version())

	changed := DefaultConfig()
	changed.HopSize = 256
	assert.NotEqual(t, base.Version(), changed.Version())

	up := map[string]any{"top_db": 60}
	assert.Equal(t, base.VersionWith(up), DefaultConfig().VersionWith(map[string]any{"top_db": 60}))
	assert.NotEqual(t, base.VersionWith(up), base.VersionWith(map[string]any{"top_db": 20}))
	assert.NotEqual(t, base.VersionWith(up), changed.VersionWith(up))
	assert.Regexp(t, `^v\d+-[0-9a-f]{12}$`, base.VersionWith(up))
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Contrast.NumBands = 6
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Window = "kaiser"
	assert.Error(t, cfg.Validate())
}

func TestNames(t *testing.T) {
	names := Names()
	require.Len(t, names, Dim)
	assert.Equal(t, "mfcc_00", names[0])
	assert.Equal(t, "chroma_C", names[NumMFCC])
	assert.Equal(t, "contrast_6", names[Dim-1])
}

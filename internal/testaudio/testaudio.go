// Package testaudio synthesizes clips and WAV payloads for tests.
package testaudio

import (
	"fmt"
	"math"
	"math/rand"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Tone returns a sine wave
func Tone(freq, seconds float64, rate int, amplitude float64) []float64 {
	n := int(seconds * float64(rate))
	x := make([]float64, n)
	for i := range x {
		x[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate))
	}
	return x
}

// Silence returns n zero samples
func Silence(n int) []float64 {
	return make([]float64, n)
}

type voice struct {
	f0        float64 // start pitch
	glide     float64 // pitch multiplier reached at the end
	harmonics int
	tremolo   float64 // amplitude modulation rate, 0 for none
	noise     float64
}

var voices = map[string]voice{
	"F": {f0: 600, glide: 1.25, harmonics: 4},
	"I": {f0: 1000, glide: 0.7, harmonics: 2, noise: 0.02},
	"B": {f0: 300, glide: 1.0, harmonics: 6, tremolo: 25, noise: 0.05},
}

// Meow synthesizes a meow-like vocalization whose timbre depends on the
// label code (F, I or B). rng adds per-clip variation in pitch, length and
// noise so that repeated calls produce distinct but same-class clips.
func Meow(code string, rng *rand.Rand, rate int) []float64 {
	v, ok := voices[code]
	if !ok {
		panic(fmt.Sprintf("testaudio: no voice for %q", code))
	}

	seconds := 0.6 + 0.6*rng.Float64()
	f0 := v.f0 * (0.95 + 0.1*rng.Float64())
	n := int(seconds * float64(rate))

	x := make([]float64, n)
	phase := 0.0
	for i := range x {
		progress := float64(i) / float64(n)
		freq := f0 * (1 + (v.glide-1)*progress)
		phase += 2 * math.Pi * freq / float64(rate)

		s := 0.0
		for h := 1; h <= v.harmonics; h++ {
			s += math.Sin(float64(h)*phase) / float64(h)
		}

		// attack/release envelope
		env := math.Sin(math.Pi * progress)
		if v.tremolo > 0 {
			env *= 0.6 + 0.4*math.Sin(2*math.Pi*v.tremolo*float64(i)/float64(rate))
		}

		x[i] = 0.4*env*s + v.noise*rng.NormFloat64()
	}

	return x
}

// Pad surrounds x with silence
func Pad(x []float64, lead, tail int) []float64 {
	out := make([]float64, 0, lead+len(x)+tail)
	out = append(out, Silence(lead)...)
	out = append(out, x...)
	return append(out, Silence(tail)...)
}

// WAV encodes mono or interleaved samples in [-1, 1] as 16-bit PCM WAV
func WAV(samples []float64, rate, channels int) ([]byte, error) {
	f, err := os.CreateTemp("", "testaudio-*.wav")
	if err != nil {
		return nil, err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	data := make([]int, len(samples))
	for i, s := range samples {
		s = math.Max(-1, math.Min(1, s))
		data[i] = int(math.Round(s * 32767))
	}

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}

	return os.ReadFile(f.Name())
}

// MustWAV is WAV for test setup code
func MustWAV(samples []float64, rate int) []byte {
	b, err := WAV(samples, rate, 1)
	if err != nil {
		panic(err)
	}
	return b
}

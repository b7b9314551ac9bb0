// Package testutil provides deterministic signal generators for tests.
package testutil

import (
	"math"
	"math/rand"

	"github.com/duanchangstar/sushi/audio"
)

// DeterministicSine generates a deterministic sine wave.
func DeterministicSine(freqHz, sampleRate, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range out {
		out[i] = amplitude * math.Sin(step*float64(i))
	}
	return out
}

// DeterministicNoise generates white noise with a fixed seed for
// reproducibility.
func DeterministicNoise(seed int64, amplitude float64, length int) []float64 {
	out := make([]float64, length)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = (rng.Float64()*2 - 1) * amplitude
	}
	return out
}

// DC generates a constant-valued signal.
func DC(value float64, length int) []float64 {
	out := make([]float64, length)
	for i := range out {
		out[i] = value
	}
	return out
}

// Impulse generates a unit impulse at the given position.
func Impulse(length, pos int) []float64 {
	out := make([]float64, length)
	if pos >= 0 && pos < length {
		out[pos] = 1
	}
	return out
}

// Ones returns a slice of length n filled with 1.0.
func Ones(n int) []float64 {
	return DC(1.0, n)
}

// FillChunk sets every sample of one channel of a chunk buffer to v.
func FillChunk(buf *audio.SampleBuffer, channel int, v float64) {
	s := buf.Channel(channel)
	for i := range s {
		s[i] = v
	}
}

// SineChunk fills one channel of a chunk buffer with a sine wave starting
// at the given sample offset.
func SineChunk(buf *audio.SampleBuffer, channel int, freqHz, sampleRate float64, offset int) {
	s := buf.Channel(channel)
	step := 2 * math.Pi * freqHz / sampleRate
	for i := range s {
		s[i] = math.Sin(step * float64(offset+i))
	}
}

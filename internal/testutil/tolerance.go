package testutil

import (
	"math"
	"testing"

	"github.com/duanchangstar/sushi/audio"
)

// RequireNearlyEqual fails t if got and want differ in length or if any
// sample pair differs by more than eps. An eps of 0 demands bit-exact
// equality, as the passthrough contracts do.
func RequireNearlyEqual(t *testing.T, got, want []float64, eps float64) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d samples, want %d", len(got), len(want))
	}
	for i := range got {
		if math.Abs(got[i]-want[i]) > eps {
			t.Fatalf("sample %d: got %v, want %v (eps %v)", i, got[i], want[i], eps)
		}
	}
}

// RequireChunksNearlyEqual fails t if two chunk buffers differ in channel
// count or if any sample pair on any channel differs by more than eps.
func RequireChunksNearlyEqual(t *testing.T, got, want *audio.SampleBuffer, eps float64) {
	t.Helper()
	if got.ChannelCount() != want.ChannelCount() {
		t.Fatalf("channel count mismatch: got %d, want %d", got.ChannelCount(), want.ChannelCount())
	}
	for ch := 0; ch < got.ChannelCount(); ch++ {
		g := got.Channel(ch)
		w := want.Channel(ch)
		for i := range g {
			if math.Abs(g[i]-w[i]) > eps {
				t.Fatalf("channel %d sample %d: got %v, want %v (eps %v)", ch, i, g[i], w[i], eps)
			}
		}
	}
}

// RequireChunkFinite fails t if any sample on any channel is NaN or Inf.
func RequireChunkFinite(t *testing.T, buf *audio.SampleBuffer) {
	t.Helper()
	for ch := 0; ch < buf.ChannelCount(); ch++ {
		for i, v := range buf.Channel(ch) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("channel %d sample %d: non-finite value %v", ch, i, v)
			}
		}
	}
}

// ChunkMaxAbsDiff returns the largest absolute sample difference between
// two chunk buffers across their shared channels.
func ChunkMaxAbsDiff(a, b *audio.SampleBuffer) float64 {
	channels := a.ChannelCount()
	if b.ChannelCount() < channels {
		channels = b.ChannelCount()
	}
	maxDiff := 0.0
	for ch := 0; ch < channels; ch++ {
		x := a.Channel(ch)
		y := b.Channel(ch)
		for i := range x {
			if d := math.Abs(x[i] - y[i]); d > maxDiff {
				maxDiff = d
			}
		}
	}
	return maxDiff
}

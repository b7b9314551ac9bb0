// Package audio provides the fixed-size planar sample buffers passed through
// the engine, and the control buffer carrying CV and gate data alongside
// each chunk.
package audio

// ChunkSize is the number of samples processed per audio callback. The
// engine, tracks and plugins all operate on blocks of exactly this size.
const ChunkSize = 64

// MaxCVPorts is the number of control voltage ports per direction.
const MaxCVPorts = 4

// SampleBuffer is a planar block of samples, one contiguous region per
// channel, each exactly ChunkSize samples long. A SampleBuffer does not have
// to own its storage: ViewOf and ChannelView build zero-copy views over an
// existing buffer's regions.
type SampleBuffer struct {
	channels [][]float64
}

// NewBuffer returns a SampleBuffer with channelCount zeroed channels backed
// by one contiguous allocation.
func NewBuffer(channelCount int) *SampleBuffer {
	if channelCount < 0 {
		channelCount = 0
	}
	data := make([]float64, channelCount*ChunkSize)
	channels := make([][]float64, channelCount)
	for i := range channels {
		channels[i] = data[i*ChunkSize : (i+1)*ChunkSize : (i+1)*ChunkSize]
	}
	return &SampleBuffer{channels: channels}
}

// FromSlices wraps existing per-channel slices without copying. Each slice
// must be ChunkSize long; mutations are visible both ways.
func FromSlices(channels ...[]float64) *SampleBuffer {
	return &SampleBuffer{channels: channels}
}

// ViewOf returns a view over count channels of src starting at first. The
// view shares storage with src.
func ViewOf(src *SampleBuffer, first, count int) *SampleBuffer {
	return &SampleBuffer{channels: src.channels[first : first+count]}
}

// ChannelCount returns the number of channels.
func (b *SampleBuffer) ChannelCount() int {
	return len(b.channels)
}

// Channel returns the sample region for channel i.
func (b *SampleBuffer) Channel(i int) []float64 {
	return b.channels[i]
}

// Clear zeroes every channel.
func (b *SampleBuffer) Clear() {
	for _, ch := range b.channels {
		Zero(ch)
	}
}

// ClearChannel zeroes a single channel.
func (b *SampleBuffer) ClearChannel(i int) {
	Zero(b.channels[i])
}

// CopyFrom copies src into the buffer channel by channel. Channel counts
// beyond the smaller of the two are left untouched.
func (b *SampleBuffer) CopyFrom(src *SampleBuffer) {
	n := len(b.channels)
	if len(src.channels) < n {
		n = len(src.channels)
	}
	for i := 0; i < n; i++ {
		CopyInto(b.channels[i], src.channels[i])
	}
}

package audiofrontend

import (
	"time"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/engine"
)

// OfflineFrontend renders arbitrary-length planar buffers through the
// engine chunk by chunk, as fast as possible. Input lengths that are not a
// multiple of the chunk size are zero-padded on the final chunk.
type OfflineFrontend struct {
	base
	channels int
	samples  int64
}

// NewOfflineFrontend returns an offline frontend with the given channel
// count on both sides.
func NewOfflineFrontend(e *engine.Engine, channels int) *OfflineFrontend {
	return &OfflineFrontend{base: base{engine: e}, channels: channels}
}

// Init configures the engine channels.
func (f *OfflineFrontend) Init() error {
	f.engine.SetAudioInputChannels(f.channels)
	f.engine.SetAudioOutputChannels(f.channels)
	f.engine.SetOutputLatency(0)
	return nil
}

// Run is a no-op for the offline frontend; use ProcessBuffers.
func (f *OfflineFrontend) Run() error {
	return nil
}

// Stop is a no-op for the offline frontend.
func (f *OfflineFrontend) Stop() {}

// ProcessBuffers renders in through the engine and returns the rendered
// output of the same length. Every channel slice of in must have equal
// length.
func (f *OfflineFrontend) ProcessBuffers(in [][]float64) [][]float64 {
	if len(in) == 0 || len(in[0]) == 0 {
		return nil
	}
	length := len(in[0])
	out := make([][]float64, len(in))
	for ch := range out {
		out[ch] = make([]float64, length)
	}

	inChunk := audio.NewBuffer(f.channels)
	outChunk := audio.NewBuffer(f.channels)
	var cvIn, cvOut audio.ControlBuffer

	sampleRate := f.engine.SampleRate()
	for offset := 0; offset < length; offset += audio.ChunkSize {
		inChunk.Clear()
		for ch := 0; ch < f.channels && ch < len(in); ch++ {
			audio.CopyInto(inChunk.Channel(ch), in[ch][offset:])
		}

		timestamp := time.Duration(float64(f.samples) / sampleRate * float64(time.Second))
		f.engine.UpdateTime(timestamp, f.samples)
		f.engine.ProcessChunk(inChunk, outChunk, &cvIn, &cvOut)
		f.samples += audio.ChunkSize

		for ch := 0; ch < f.channels && ch < len(out); ch++ {
			audio.CopyInto(out[ch][offset:], outChunk.Channel(ch))
		}
	}
	return out
}

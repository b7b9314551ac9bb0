package audiofrontend

import (
	"time"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/engine"
)

// DummyFrontend drives the engine with silent input at wall-clock rate.
// Useful for running a host without any audio hardware.
type DummyFrontend struct {
	base
	channels int
	stop     chan struct{}
	done     chan struct{}
}

// NewDummyFrontend returns a dummy frontend with the given channel count.
func NewDummyFrontend(e *engine.Engine, channels int) *DummyFrontend {
	return &DummyFrontend{
		base:     base{engine: e},
		channels: channels,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Init configures the engine channels.
func (f *DummyFrontend) Init() error {
	f.engine.SetAudioInputChannels(f.channels)
	f.engine.SetAudioOutputChannels(f.channels)
	f.engine.SetOutputLatency(0)
	return nil
}

// Run processes silent chunks at the real-time rate until Stop is called.
func (f *DummyFrontend) Run() error {
	defer close(f.done)

	in := audio.NewBuffer(f.channels)
	out := audio.NewBuffer(f.channels)
	var cvIn, cvOut audio.ControlBuffer

	sampleRate := f.engine.SampleRate()
	chunkTime := time.Duration(float64(audio.ChunkSize) / sampleRate * float64(time.Second))
	ticker := time.NewTicker(chunkTime)
	defer ticker.Stop()

	start := time.Now()
	var samples int64
	for {
		select {
		case <-ticker.C:
			f.engine.UpdateTime(time.Since(start), samples)
			f.engine.ProcessChunk(in, out, &cvIn, &cvOut)
			samples += audio.ChunkSize
		case <-f.stop:
			return nil
		}
	}
}

// Stop halts the processing loop.
func (f *DummyFrontend) Stop() {
	close(f.stop)
	<-f.done
}

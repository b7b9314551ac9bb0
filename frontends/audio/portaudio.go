package audiofrontend

import (
	"fmt"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/engine"
	"github.com/duanchangstar/sushi/internal/logging"
)

// PortAudioFrontend drives the engine from a duplex portaudio stream. The
// portaudio callback is the realtime thread; buffers are pre-allocated and
// the callback only converts and forwards.
type PortAudioFrontend struct {
	base
	inputChannels  int
	outputChannels int

	stream *pa.Stream
	in     *audio.SampleBuffer
	out    *audio.SampleBuffer
	cvIn   audio.ControlBuffer
	cvOut  audio.ControlBuffer

	samples int64
	start   time.Time
	stop    chan struct{}
}

// NewPortAudioFrontend returns a portaudio frontend with the given duplex
// channel counts.
func NewPortAudioFrontend(e *engine.Engine, inputChannels, outputChannels int) *PortAudioFrontend {
	return &PortAudioFrontend{
		base:           base{engine: e},
		inputChannels:  inputChannels,
		outputChannels: outputChannels,
		stop:           make(chan struct{}),
	}
}

// Init initialises portaudio, opens the default duplex stream and
// configures the engine.
func (f *PortAudioFrontend) Init() error {
	if err := pa.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}

	f.engine.SetAudioInputChannels(f.inputChannels)
	f.engine.SetAudioOutputChannels(f.outputChannels)
	f.in = audio.NewBuffer(f.inputChannels)
	f.out = audio.NewBuffer(f.outputChannels)

	stream, err := pa.OpenDefaultStream(f.inputChannels, f.outputChannels,
		f.engine.SampleRate(), audio.ChunkSize, f.callback)
	if err != nil {
		pa.Terminate()
		return fmt.Errorf("portaudio open stream: %w", err)
	}
	f.stream = stream

	latency := stream.Info().OutputLatency
	f.engine.SetOutputLatency(latency)
	logging.Log("audio", "portaudio stream open, %v output latency", latency)
	return nil
}

func (f *PortAudioFrontend) callback(in, out [][]float32) {
	for ch := 0; ch < f.inputChannels && ch < len(in); ch++ {
		dst := f.in.Channel(ch)
		for i, v := range in[ch] {
			dst[i] = float64(v)
		}
	}

	f.engine.UpdateTime(time.Since(f.start), f.samples)
	f.engine.ProcessChunk(f.in, f.out, &f.cvIn, &f.cvOut)
	f.samples += audio.ChunkSize

	for ch := 0; ch < f.outputChannels && ch < len(out); ch++ {
		src := f.out.Channel(ch)
		for i := range out[ch] {
			out[ch][i] = float32(src[i])
		}
	}
}

// Run starts the stream and blocks until Stop is called.
func (f *PortAudioFrontend) Run() error {
	f.start = time.Now()
	if err := f.stream.Start(); err != nil {
		return fmt.Errorf("portaudio start: %w", err)
	}
	<-f.stop
	return nil
}

// Stop stops the stream and terminates portaudio.
func (f *PortAudioFrontend) Stop() {
	if f.stream != nil {
		f.stream.Stop()
		f.stream.Close()
	}
	pa.Terminate()
	close(f.stop)
}

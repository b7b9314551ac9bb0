package audiofrontend

import (
	"fmt"
	"math"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/engine"
)

// OtoFrontend is a playback-only frontend built on oto's pull model: the
// player reads interleaved float32 samples from the frontend, which renders
// engine chunks with silent input on demand. No cgo required.
type OtoFrontend struct {
	base
	channels int

	ctx    *oto.Context
	player *oto.Player

	in      *audio.SampleBuffer
	out     *audio.SampleBuffer
	cvIn    audio.ControlBuffer
	cvOut   audio.ControlBuffer
	pending []byte

	samples int64
	start   time.Time
	stop    chan struct{}
}

// NewOtoFrontend returns an oto playback frontend with the given output
// channel count.
func NewOtoFrontend(e *engine.Engine, channels int) *OtoFrontend {
	return &OtoFrontend{
		base:     base{engine: e},
		channels: channels,
		stop:     make(chan struct{}),
	}
}

// Init creates the oto context and configures the engine.
func (f *OtoFrontend) Init() error {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(f.engine.SampleRate()),
		ChannelCount: f.channels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		return fmt.Errorf("oto context: %w", err)
	}
	<-ready

	f.ctx = ctx
	f.engine.SetAudioInputChannels(0)
	f.engine.SetAudioOutputChannels(f.channels)
	f.engine.SetOutputLatency(0)
	f.in = audio.NewBuffer(0)
	f.out = audio.NewBuffer(f.channels)
	return nil
}

// Read renders engine chunks into p as interleaved float32 little-endian
// samples. Called by oto's playback goroutine.
func (f *OtoFrontend) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(f.pending) == 0 {
			f.renderChunk()
		}
		copied := copy(p[n:], f.pending)
		f.pending = f.pending[copied:]
		n += copied
	}
	return n, nil
}

func (f *OtoFrontend) renderChunk() {
	f.engine.UpdateTime(time.Since(f.start), f.samples)
	f.engine.ProcessChunk(f.in, f.out, &f.cvIn, &f.cvOut)
	f.samples += audio.ChunkSize

	frameBytes := 4 * f.channels
	if cap(f.pending) < audio.ChunkSize*frameBytes {
		f.pending = make([]byte, 0, audio.ChunkSize*frameBytes)
	}
	buf := f.pending[:audio.ChunkSize*frameBytes]
	for i := 0; i < audio.ChunkSize; i++ {
		for ch := 0; ch < f.channels; ch++ {
			bits := math.Float32bits(float32(f.out.Channel(ch)[i]))
			off := (i*f.channels + ch) * 4
			buf[off] = byte(bits)
			buf[off+1] = byte(bits >> 8)
			buf[off+2] = byte(bits >> 16)
			buf[off+3] = byte(bits >> 24)
		}
	}
	f.pending = buf
}

// Run starts playback and blocks until Stop is called.
func (f *OtoFrontend) Run() error {
	f.start = time.Now()
	f.player = f.ctx.NewPlayer(f)
	f.player.Play()
	<-f.stop
	return nil
}

// Stop halts playback.
func (f *OtoFrontend) Stop() {
	if f.player != nil {
		f.player.Close()
	}
	close(f.stop)
}

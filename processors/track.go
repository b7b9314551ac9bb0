package processors

import (
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/rt"
)

// maxProcessorsPerTrack bounds a track's chain so realtime insertion never
// grows the backing array.
const maxProcessorsPerTrack = 32

// Track is a processor that owns an ordered chain of child processors and
// mixes the chain output into its output buffer with gain and pan applied.
// Channel count is fixed at creation.
type Track struct {
	Base

	processors []Processor

	inputBuffer  *audio.SampleBuffer
	outputBuffer *audio.SampleBuffer
	scratchA     *audio.SampleBuffer
	scratchB     *audio.SampleBuffer

	inBusses  int
	outBusses int

	gain *Parameter
	pan  *Parameter
	mute *Parameter
}

// NewTrack returns a track with the given channel count on both sides.
func NewTrack(channelCount int) *Track {
	return newTrack(channelCount, channelCount, 1, 1)
}

// NewMultibusTrack returns a track with one stereo pair per bus: bus 0
// covers channels 0-1, bus 1 channels 2-3 and so on.
func NewMultibusTrack(inBusses, outBusses int) *Track {
	return newTrack(inBusses*2, outBusses*2, inBusses, outBusses)
}

func newTrack(inChannels, outChannels, inBusses, outBusses int) *Track {
	scratch := inChannels
	if outChannels > scratch {
		scratch = outChannels
	}
	t := &Track{
		Base:         NewBase("Track"),
		processors:   make([]Processor, 0, maxProcessorsPerTrack),
		inputBuffer:  audio.NewBuffer(inChannels),
		outputBuffer: audio.NewBuffer(outChannels),
		scratchA:     audio.NewBuffer(scratch),
		scratchB:     audio.NewBuffer(scratch),
		inBusses:     inBusses,
		outBusses:    outBusses,
	}
	t.SetInputChannels(inChannels)
	t.SetOutputChannels(outChannels)
	t.gain = t.RegisterParameter(NewParameter("gain", FloatParameter, 0, 10, 1))
	t.pan = t.RegisterParameter(NewParameter("pan", FloatParameter, -1, 1, 0))
	t.mute = t.RegisterParameter(NewParameter("mute", BoolParameter, 0, 1, 0))
	return t
}

// InputBuffer returns the buffer the engine fills before rendering.
func (t *Track) InputBuffer() *audio.SampleBuffer {
	return t.inputBuffer
}

// OutputBuffer returns the buffer holding the rendered chunk.
func (t *Track) OutputBuffer() *audio.SampleBuffer {
	return t.outputBuffer
}

// InputBusses returns the number of input stereo pairs.
func (t *Track) InputBusses() int {
	return t.inBusses
}

// OutputBusses returns the number of output stereo pairs.
func (t *Track) OutputBusses() int {
	return t.outBusses
}

// Processors returns the chain in processing order.
func (t *Track) Processors() []Processor {
	return t.processors
}

// AddProcessor appends a processor to the chain. Safe on the audio thread:
// the chain is pre-sized and a full chain rejects the add.
func (t *Track) AddProcessor(p Processor) bool {
	if len(t.processors) == cap(t.processors) {
		return false
	}
	t.processors = append(t.processors, p)
	return true
}

// RemoveProcessor detaches the processor with the given id from the chain.
// Safe on the audio thread; preserves the order of the remaining chain.
func (t *Track) RemoveProcessor(id uint32) bool {
	for i, p := range t.processors {
		if p.ID() == id {
			copy(t.processors[i:], t.processors[i+1:])
			t.processors = t.processors[:len(t.processors)-1]
			return true
		}
	}
	return false
}

// Render processes the track's own input buffer into its output buffer.
func (t *Track) Render() {
	t.ProcessAudio(t.inputBuffer, t.outputBuffer)
}

// ProcessAudio runs the chain, feeding each processor's output into the
// next through double-buffered scratch regions, then mixes into out with
// gain and pan. Channel counts of adjacent processors need not match: the
// track zero-fills missing channels and drops surplus ones.
func (t *Track) ProcessAudio(in, out *audio.SampleBuffer) {
	cur := t.scratchA
	cur.Clear()
	cur.CopyFrom(in)

	next := t.scratchB
	for _, p := range t.processors {
		if p.Bypassed() {
			continue
		}
		inChannels := clampChannels(p.InputChannels(), cur.ChannelCount())
		outChannels := clampChannels(p.OutputChannels(), next.ChannelCount())
		next.Clear()
		p.ProcessAudio(audio.ViewOf(cur, 0, inChannels), audio.ViewOf(next, 0, outChannels))
		cur, next = next, cur
	}

	for _, p := range t.processors {
		p.DrainOutputEvents(func(e rt.Event) { t.OutputEvent(e) })
	}

	out.Clear()
	if t.mute.BoolValue() {
		return
	}
	t.mixDown(cur, out)
}

func (t *Track) mixDown(src, out *audio.SampleBuffer) {
	gain := t.gain.Value()
	pan := t.pan.Value()
	channels := clampChannels(src.ChannelCount(), out.ChannelCount())

	if channels == 2 && pan != 0 {
		left, right := panGains(gain, pan)
		vecmath.ScaleBlock(out.Channel(0), src.Channel(0), left)
		vecmath.ScaleBlock(out.Channel(1), src.Channel(1), right)
		return
	}
	for ch := 0; ch < channels; ch++ {
		vecmath.ScaleBlock(out.Channel(ch), src.Channel(ch), gain)
	}
}

// panGains returns the per-side gains for an equal-power pan law. Pan 0
// leaves both sides at unity.
func panGains(gain, pan float64) (left, right float64) {
	left = gain * math.Sqrt((1-pan)/2) * math.Sqrt2
	right = gain * math.Sqrt((1+pan)/2) * math.Sqrt2
	return left, right
}

func clampChannels(n, limit int) int {
	if n > limit {
		return limit
	}
	return n
}

// ProcessEvent handles track parameter changes and forwards keyboard events
// to every child processor, matching the behaviour of sending MIDI to the
// track as a unit.
func (t *Track) ProcessEvent(e rt.Event) {
	if e.KeyboardEvent() {
		for _, p := range t.processors {
			p.ProcessEvent(e)
		}
		return
	}
	t.Base.ProcessEvent(e)
}

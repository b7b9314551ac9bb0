// Package processors defines the polymorphic audio node the engine renders:
// the Processor interface, the embeddable Base implementation, parameters,
// tracks and the internal-plugin factory registry.
package processors

import (
	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/rt"
)

// maxOutputEvents bounds the number of events a processor can emit during
// one chunk. The backing slice is pre-sized so emitting never allocates on
// the audio thread.
const maxOutputEvents = 32

// Processor is an audio node in the engine graph. Processors are created on
// non-realtime threads; once handed to the realtime table, ProcessEvent and
// ProcessAudio are called only from the audio thread.
type Processor interface {
	// ID returns the process-wide unique id assigned at creation.
	ID() uint32

	// Name returns the unique user-facing name.
	Name() string

	// SetName sets the unique name. Called once during registration.
	SetName(name string)

	// Label returns a human-readable description of the processor kind.
	Label() string

	InputChannels() int
	OutputChannels() int
	SetInputChannels(n int)
	SetOutputChannels(n int)

	Bypassed() bool
	SetBypassed(bypassed bool)

	// Parameters returns the processor's parameters in id order.
	Parameters() []*Parameter
	ParameterByName(name string) *Parameter
	ParameterByID(id uint32) *Parameter

	// Configure prepares the processor for a sample rate. Non-realtime.
	Configure(sampleRate float64) error

	// ProcessEvent delivers a realtime event addressed to this processor.
	// Events arrive in enqueue order, before ProcessAudio in the same chunk.
	ProcessEvent(e rt.Event)

	// ProcessAudio renders one chunk. Audio thread only; must not allocate.
	ProcessAudio(in, out *audio.SampleBuffer)

	// DrainOutputEvents hands every event emitted during the current chunk
	// to sink and clears the output queue. Audio thread only.
	DrainOutputEvents(sink func(rt.Event))
}

// Base carries the bookkeeping shared by all processors. Concrete plugins
// embed it and override ProcessAudio, Configure and (optionally)
// ProcessEvent.
type Base struct {
	id    uint32
	name  string
	label string

	inputChannels  int
	outputChannels int
	bypassed       bool

	params       []*Parameter
	paramsByName map[string]*Parameter

	outputEvents []rt.Event
}

// NewBase returns a Base with a freshly minted id.
func NewBase(label string) Base {
	return Base{
		id:           rt.NewProcessorID(),
		label:        label,
		paramsByName: make(map[string]*Parameter),
		outputEvents: make([]rt.Event, 0, maxOutputEvents),
	}
}

// ID returns the processor id.
func (b *Base) ID() uint32 {
	return b.id
}

// Name returns the unique processor name.
func (b *Base) Name() string {
	return b.name
}

// SetName sets the unique processor name.
func (b *Base) SetName(name string) {
	b.name = name
}

// Label returns the processor kind description.
func (b *Base) Label() string {
	return b.label
}

// InputChannels returns the number of input channels.
func (b *Base) InputChannels() int {
	return b.inputChannels
}

// OutputChannels returns the number of output channels.
func (b *Base) OutputChannels() int {
	return b.outputChannels
}

// SetInputChannels sets the number of input channels.
func (b *Base) SetInputChannels(n int) {
	b.inputChannels = n
}

// SetOutputChannels sets the number of output channels.
func (b *Base) SetOutputChannels(n int) {
	b.outputChannels = n
}

// Bypassed reports whether the processor is bypassed.
func (b *Base) Bypassed() bool {
	return b.bypassed
}

// SetBypassed sets the bypass flag.
func (b *Base) SetBypassed(bypassed bool) {
	b.bypassed = bypassed
}

// RegisterParameter adds a parameter, assigning it the next id within this
// processor. Non-realtime, called during construction.
func (b *Base) RegisterParameter(p *Parameter) *Parameter {
	p.id = uint32(len(b.params))
	b.params = append(b.params, p)
	b.paramsByName[p.name] = p
	return p
}

// Parameters returns the parameters in id order.
func (b *Base) Parameters() []*Parameter {
	return b.params
}

// ParameterByName returns the named parameter, or nil.
func (b *Base) ParameterByName(name string) *Parameter {
	return b.paramsByName[name]
}

// ParameterByID returns the parameter with the given id, or nil.
func (b *Base) ParameterByID(id uint32) *Parameter {
	if int(id) >= len(b.params) {
		return nil
	}
	return b.params[id]
}

// Configure is a no-op for processors without rate-dependent state.
func (b *Base) Configure(float64) error {
	return nil
}

// ProcessEvent applies parameter changes and bypass events. Plugins that
// handle keyboard or property events override this and fall back to it for
// the common cases.
func (b *Base) ProcessEvent(e rt.Event) {
	switch e.Type {
	case rt.TypeFloatParameterChange, rt.TypeIntParameterChange, rt.TypeBoolParameterChange:
		if p := b.ParameterByID(e.ParameterID); p != nil {
			p.SetValue(e.Value)
		}
	case rt.TypeSetBypass:
		b.bypassed = e.BoolValue
	}
}

// OutputEvent queues an event for collection at the end of the chunk.
// Realtime-safe: the queue is pre-sized and overflow drops the event.
func (b *Base) OutputEvent(e rt.Event) bool {
	if len(b.outputEvents) == cap(b.outputEvents) {
		return false
	}
	b.outputEvents = append(b.outputEvents, e)
	return true
}

// DrainOutputEvents hands queued events to sink and clears the queue.
func (b *Base) DrainOutputEvents(sink func(rt.Event)) {
	for i := range b.outputEvents {
		sink(b.outputEvents[i])
	}
	b.outputEvents = b.outputEvents[:0]
}

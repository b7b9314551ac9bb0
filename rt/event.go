// Package rt defines the fixed-size realtime events exchanged between the
// non-realtime and audio contexts, and the wait-free fifos that carry them.
package rt

import (
	"github.com/duanchangstar/sushi/transport"
)

// Type discriminates the payload of an Event.
type Type int

const (
	TypeNone Type = iota

	// Keyboard events routed to a processor.
	TypeNoteOn
	TypeNoteOff
	TypeNoteAftertouch
	TypeAftertouch
	TypePitchBend
	TypeModulation
	TypeWrappedMidi

	// Parameter and property changes routed to a processor.
	TypeBoolParameterChange
	TypeIntParameterChange
	TypeFloatParameterChange
	TypeStringPropertyChange
	TypeDataPropertyChange
	TypeSetBypass

	// Transport updates applied by the engine at chunk boundaries.
	TypeTempo
	TypeTimeSignature
	TypePlayingMode
	TypeSyncMode

	// Engine-internal returnable events. Every type from TypeStopEngine on
	// carries an event id and reports completion on the outbound ring.
	TypeStopEngine
	TypeInsertProcessor
	TypeRemoveProcessor
	TypeAddProcessorToTrack
	TypeRemoveProcessorFromTrack
	TypeAddTrack
	TypeRemoveTrack
	TypeAsyncWork

	// Notifications and completions travelling audio -> control.
	TypeAsyncWorkCompletion
	TypeClipNotification
)

// Completion status codes carried by returnable events back to the
// non-realtime side.
const (
	HandledOK = iota
	HandledError
	Unhandled
)

// Clip notification channel kinds.
const (
	ClipChannelInput = iota
	ClipChannelOutput
)

// WorkCallback is the function an async-work event hands to the background
// worker. It runs on a non-realtime thread and returns a completion status.
type WorkCallback func(data any, eventID uint32) int

// Event is a small, fixed-layout event safe to copy through a wait-free
// fifo. One struct covers all event types; Type selects which fields are
// meaningful. String and blob payloads are carried by reference; no
// completion event hands them back to the non-realtime side.
type Event struct {
	Type         Type
	SampleOffset int

	ProcessorID uint32
	ParameterID uint32

	Channel int
	Note    int

	// Value holds velocity for keyboard events, the parameter value for
	// parameter changes and the CV level for quantised CV routings.
	Value     float64
	IntValue  int
	BoolValue bool

	Midi    [4]byte
	MidiLen int

	Tempo         float64
	TimeSignature transport.TimeSignature
	PlayingMode   transport.PlayingMode
	SyncMode      transport.SyncMode

	// EventID correlates a returnable event with its completion.
	EventID uint32
	Status  int

	StringValue *string
	BlobValue   []byte

	// Payload carries the processor or track object for insert events.
	// Ownership transfers to the engine when the event is handled.
	Payload any

	WorkCallback WorkCallback
	WorkData     any
}

// Returnable reports whether the event carries an event id whose completion
// the producer awaits on the outbound ring.
func (e *Event) Returnable() bool {
	return e.Type >= TypeStopEngine && e.Type <= TypeAsyncWork
}

// KeyboardEvent reports whether the event is a keyboard event addressed to
// a processor.
func (e *Event) KeyboardEvent() bool {
	return e.Type >= TypeNoteOn && e.Type <= TypeWrappedMidi
}

// NewNoteOnEvent returns a note-on addressed to a processor.
func NewNoteOnEvent(processorID uint32, offset, channel, note int, velocity float64) Event {
	return Event{Type: TypeNoteOn, SampleOffset: offset, ProcessorID: processorID,
		Channel: channel, Note: note, Value: velocity}
}

// NewNoteOffEvent returns a note-off addressed to a processor.
func NewNoteOffEvent(processorID uint32, offset, channel, note int, velocity float64) Event {
	return Event{Type: TypeNoteOff, SampleOffset: offset, ProcessorID: processorID,
		Channel: channel, Note: note, Value: velocity}
}

// NewNoteAftertouchEvent returns a polyphonic aftertouch event.
func NewNoteAftertouchEvent(processorID uint32, offset, channel, note int, value float64) Event {
	return Event{Type: TypeNoteAftertouch, SampleOffset: offset, ProcessorID: processorID,
		Channel: channel, Note: note, Value: value}
}

// NewKeyboardCommonEvent returns a channel-wide keyboard event: aftertouch,
// pitch bend or modulation.
func NewKeyboardCommonEvent(t Type, processorID uint32, offset, channel int, value float64) Event {
	return Event{Type: t, SampleOffset: offset, ProcessorID: processorID,
		Channel: channel, Value: value}
}

// NewWrappedMidiEvent returns a raw MIDI message wrapped for delivery to a
// processor.
func NewWrappedMidiEvent(processorID uint32, offset int, data []byte) Event {
	e := Event{Type: TypeWrappedMidi, SampleOffset: offset, ProcessorID: processorID}
	e.MidiLen = copy(e.Midi[:], data)
	return e
}

// NewParameterChangeEvent returns a float parameter change.
func NewParameterChangeEvent(processorID, parameterID uint32, offset int, value float64) Event {
	return Event{Type: TypeFloatParameterChange, SampleOffset: offset,
		ProcessorID: processorID, ParameterID: parameterID, Value: value}
}

// NewSetBypassEvent returns a bypass state change for a processor.
func NewSetBypassEvent(processorID uint32, bypassed bool) Event {
	return Event{Type: TypeSetBypass, ProcessorID: processorID, BoolValue: bypassed}
}

// NewTempoEvent returns a tempo change applied at the next chunk boundary.
func NewTempoEvent(tempo float64) Event {
	return Event{Type: TypeTempo, Tempo: tempo}
}

// NewTimeSignatureEvent returns a time signature change.
func NewTimeSignatureEvent(signature transport.TimeSignature) Event {
	return Event{Type: TypeTimeSignature, TimeSignature: signature}
}

// NewPlayingModeEvent returns a play state change.
func NewPlayingModeEvent(mode transport.PlayingMode) Event {
	return Event{Type: TypePlayingMode, PlayingMode: mode}
}

// NewSyncModeEvent returns a tempo sync mode change.
func NewSyncModeEvent(mode transport.SyncMode) Event {
	return Event{Type: TypeSyncMode, SyncMode: mode}
}

// NewInsertProcessorEvent returns a returnable event transferring a
// processor into the realtime table.
func NewInsertProcessorEvent(processor any) Event {
	return Event{Type: TypeInsertProcessor, EventID: NewEventID(), Payload: processor}
}

// NewRemoveProcessorEvent returns a returnable event clearing a realtime
// table slot.
func NewRemoveProcessorEvent(processorID uint32) Event {
	return Event{Type: TypeRemoveProcessor, EventID: NewEventID(), ProcessorID: processorID}
}

// NewAddProcessorToTrackEvent returns a returnable event appending a
// registered processor to a track's chain.
func NewAddProcessorToTrackEvent(processorID, trackID uint32) Event {
	return Event{Type: TypeAddProcessorToTrack, EventID: NewEventID(),
		ProcessorID: processorID, ParameterID: trackID}
}

// NewRemoveProcessorFromTrackEvent returns a returnable event detaching a
// processor from a track's chain.
func NewRemoveProcessorFromTrackEvent(processorID, trackID uint32) Event {
	return Event{Type: TypeRemoveProcessorFromTrack, EventID: NewEventID(),
		ProcessorID: processorID, ParameterID: trackID}
}

// NewAddTrackEvent returns a returnable event inserting a track into the
// audio graph.
func NewAddTrackEvent(track any) Event {
	return Event{Type: TypeAddTrack, EventID: NewEventID(), Payload: track}
}

// NewRemoveTrackEvent returns a returnable event removing a track from the
// audio graph.
func NewRemoveTrackEvent(trackID uint32) Event {
	return Event{Type: TypeRemoveTrack, EventID: NewEventID(), ProcessorID: trackID}
}

// NewStopEngineEvent returns a returnable event that halts realtime
// processing after the current chunk.
func NewStopEngineEvent() Event {
	return Event{Type: TypeStopEngine, EventID: NewEventID()}
}

// NewAsyncWorkEvent returns a returnable event requesting non-realtime work
// on behalf of a processor.
func NewAsyncWorkEvent(processorID uint32, callback WorkCallback, data any) Event {
	return Event{Type: TypeAsyncWork, EventID: NewEventID(), ProcessorID: processorID,
		WorkCallback: callback, WorkData: data}
}

// NewAsyncWorkCompletionEvent returns the completion notification for an
// async work request.
func NewAsyncWorkCompletionEvent(processorID, eventID uint32, status int) Event {
	return Event{Type: TypeAsyncWorkCompletion, ProcessorID: processorID,
		EventID: eventID, Status: status}
}

// NewClipNotificationEvent returns a clipping notification for an engine
// channel. kind is ClipChannelInput or ClipChannelOutput.
func NewClipNotificationEvent(channel, kind int) Event {
	return Event{Type: TypeClipNotification, Channel: channel, IntValue: kind}
}

// CompletionOf returns the completion event acknowledging a returnable
// event with the given status.
func CompletionOf(e *Event, status int) Event {
	return Event{Type: e.Type, EventID: e.EventID, ProcessorID: e.ProcessorID, Status: status}
}

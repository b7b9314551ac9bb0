// Package event carries typed events between the non-realtime subsystems
// and bridges them onto the realtime event rings.
package event

import (
	"sync/atomic"
	"time"

	"github.com/duanchangstar/sushi/rt"
	"github.com/duanchangstar/sushi/transport"
)

// Completion statuses reported through completion callbacks.
const (
	HandledOK = iota
	HandledError
	NotHandled
	QueuedHandling
	UnrecognizedReceiver
	UnrecognizedEvent
)

// CompletionCallback is invoked after an event has been handled, with the
// final status.
type CompletionCallback func(e Event, status int)

// Event is a typed non-realtime event. Every event carries a process-wide
// unique id and a timestamp at which it should take effect.
type Event interface {
	ID() uint32
	Time() time.Duration
	CompletionCallback() CompletionCallback
}

// RtConvertible is implemented by events that translate directly to a
// realtime event for the audio thread.
type RtConvertible interface {
	Event
	ToRtEvent(sampleOffset int) rt.Event
}

// EngineCommand is implemented by engine-mutation events; Execute runs on
// the dispatcher goroutine against the engine's non-realtime API.
type EngineCommand interface {
	Event
	Execute(engine Engine) error
}

// AsyncWork is implemented by events whose handling runs on the background
// worker. Run returns a follow-up event to post, or nil.
type AsyncWork interface {
	Event
	Run() Event
}

// Notification marks fire-and-forget events delivered to subscribers.
type Notification interface {
	Event
	notification()
}

// Engine is the mutation surface the dispatcher drives. The audio engine
// implements it.
type Engine interface {
	CreateTrack(name string, channelCount int) error
	DeleteTrack(name string) error
	AddPlugin(trackName, uid, name string) error
	RemovePlugin(trackName, name string) error
}

var eventIDCounter atomic.Uint32

type base struct {
	id         uint32
	timestamp  time.Duration
	completion CompletionCallback
}

func newBase(timestamp time.Duration) base {
	return base{id: eventIDCounter.Add(1), timestamp: timestamp}
}

// ID returns the unique event id.
func (b *base) ID() uint32 { return b.id }

// Time returns the timestamp at which the event takes effect.
func (b *base) Time() time.Duration { return b.timestamp }

// CompletionCallback returns the completion callback, or nil.
func (b *base) CompletionCallback() CompletionCallback { return b.completion }

// SetCompletionCallback registers a function called once the event has been
// handled.
func (b *base) SetCompletionCallback(cb CompletionCallback) { b.completion = cb }

// KeyboardSubtype discriminates keyboard events.
type KeyboardSubtype int

const (
	NoteOn KeyboardSubtype = iota
	NoteOff
	NoteAftertouch
	Aftertouch
	PitchBend
	Modulation
	WrappedMidi
)

// KeyboardEvent is a note or performance-controller event addressed to a
// processor (usually a track).
type KeyboardEvent struct {
	base
	Subtype     KeyboardSubtype
	ProcessorID uint32
	Channel     int
	Note        int
	Value       float64
	MidiData    [4]byte
	MidiLen     int
}

// NewKeyboardEvent returns a note on/off/aftertouch keyboard event.
func NewKeyboardEvent(subtype KeyboardSubtype, processorID uint32, channel, note int, value float64, timestamp time.Duration) *KeyboardEvent {
	return &KeyboardEvent{base: newBase(timestamp), Subtype: subtype,
		ProcessorID: processorID, Channel: channel, Note: note, Value: value}
}

// NewKeyboardCommonEvent returns a channel-wide keyboard event: aftertouch,
// pitch bend or modulation.
func NewKeyboardCommonEvent(subtype KeyboardSubtype, processorID uint32, channel int, value float64, timestamp time.Duration) *KeyboardEvent {
	return &KeyboardEvent{base: newBase(timestamp), Subtype: subtype,
		ProcessorID: processorID, Channel: channel, Value: value}
}

// NewWrappedMidiEvent returns a raw MIDI message wrapped for a processor.
func NewWrappedMidiEvent(processorID uint32, data []byte, timestamp time.Duration) *KeyboardEvent {
	e := &KeyboardEvent{base: newBase(timestamp), Subtype: WrappedMidi, ProcessorID: processorID}
	e.MidiLen = copy(e.MidiData[:], data)
	return e
}

// ToRtEvent converts the keyboard event for the audio thread.
func (e *KeyboardEvent) ToRtEvent(sampleOffset int) rt.Event {
	switch e.Subtype {
	case NoteOn:
		return rt.NewNoteOnEvent(e.ProcessorID, sampleOffset, e.Channel, e.Note, e.Value)
	case NoteOff:
		return rt.NewNoteOffEvent(e.ProcessorID, sampleOffset, e.Channel, e.Note, e.Value)
	case NoteAftertouch:
		return rt.NewNoteAftertouchEvent(e.ProcessorID, sampleOffset, e.Channel, e.Note, e.Value)
	case Aftertouch:
		return rt.NewKeyboardCommonEvent(rt.TypeAftertouch, e.ProcessorID, sampleOffset, e.Channel, e.Value)
	case PitchBend:
		return rt.NewKeyboardCommonEvent(rt.TypePitchBend, e.ProcessorID, sampleOffset, e.Channel, e.Value)
	case Modulation:
		return rt.NewKeyboardCommonEvent(rt.TypeModulation, e.ProcessorID, sampleOffset, e.Channel, e.Value)
	default:
		return rt.NewWrappedMidiEvent(e.ProcessorID, sampleOffset, e.MidiData[:e.MidiLen])
	}
}

// ParameterChangeEvent sets a parameter value on a processor.
type ParameterChangeEvent struct {
	base
	ProcessorID uint32
	ParameterID uint32
	Value       float64
}

// NewParameterChangeEvent returns a float parameter change.
func NewParameterChangeEvent(processorID, parameterID uint32, value float64, timestamp time.Duration) *ParameterChangeEvent {
	return &ParameterChangeEvent{base: newBase(timestamp),
		ProcessorID: processorID, ParameterID: parameterID, Value: value}
}

// ToRtEvent converts the parameter change for the audio thread.
func (e *ParameterChangeEvent) ToRtEvent(sampleOffset int) rt.Event {
	return rt.NewParameterChangeEvent(e.ProcessorID, e.ParameterID, sampleOffset, e.Value)
}

// StringPropertyChangeEvent sets a string property on a processor. The
// string is carried by pointer in the realtime event; no completion is sent
// back to the non-realtime side for it.
type StringPropertyChangeEvent struct {
	base
	ProcessorID uint32
	PropertyID  uint32
	Value       string
}

// NewStringPropertyChangeEvent returns a string property change.
func NewStringPropertyChangeEvent(processorID, propertyID uint32, value string, timestamp time.Duration) *StringPropertyChangeEvent {
	return &StringPropertyChangeEvent{base: newBase(timestamp),
		ProcessorID: processorID, PropertyID: propertyID, Value: value}
}

// ToRtEvent converts the property change for the audio thread.
func (e *StringPropertyChangeEvent) ToRtEvent(sampleOffset int) rt.Event {
	value := e.Value
	return rt.Event{Type: rt.TypeStringPropertyChange, SampleOffset: sampleOffset,
		ProcessorID: e.ProcessorID, ParameterID: e.PropertyID, StringValue: &value}
}

// DataPropertyChangeEvent sets a binary blob property on a processor.
type DataPropertyChangeEvent struct {
	base
	ProcessorID uint32
	PropertyID  uint32
	Value       []byte
}

// NewDataPropertyChangeEvent returns a blob property change.
func NewDataPropertyChangeEvent(processorID, propertyID uint32, value []byte, timestamp time.Duration) *DataPropertyChangeEvent {
	return &DataPropertyChangeEvent{base: newBase(timestamp),
		ProcessorID: processorID, PropertyID: propertyID, Value: value}
}

// ToRtEvent converts the property change for the audio thread.
func (e *DataPropertyChangeEvent) ToRtEvent(sampleOffset int) rt.Event {
	return rt.Event{Type: rt.TypeDataPropertyChange, SampleOffset: sampleOffset,
		ProcessorID: e.ProcessorID, ParameterID: e.PropertyID, BlobValue: e.Value}
}

// SetProcessorBypassEvent toggles a processor's bypass flag.
type SetProcessorBypassEvent struct {
	base
	ProcessorID uint32
	Bypassed    bool
}

// NewSetProcessorBypassEvent returns a bypass change.
func NewSetProcessorBypassEvent(processorID uint32, bypassed bool, timestamp time.Duration) *SetProcessorBypassEvent {
	return &SetProcessorBypassEvent{base: newBase(timestamp), ProcessorID: processorID, Bypassed: bypassed}
}

// ToRtEvent converts the bypass change for the audio thread.
func (e *SetProcessorBypassEvent) ToRtEvent(int) rt.Event {
	return rt.NewSetBypassEvent(e.ProcessorID, e.Bypassed)
}

// SetEngineTempoEvent changes the transport tempo at the next chunk.
type SetEngineTempoEvent struct {
	base
	Tempo float64
}

// NewSetEngineTempoEvent returns a tempo change.
func NewSetEngineTempoEvent(tempo float64, timestamp time.Duration) *SetEngineTempoEvent {
	return &SetEngineTempoEvent{base: newBase(timestamp), Tempo: tempo}
}

// ToRtEvent converts the tempo change for the audio thread.
func (e *SetEngineTempoEvent) ToRtEvent(int) rt.Event {
	return rt.NewTempoEvent(e.Tempo)
}

// SetEngineTimeSignatureEvent changes the transport time signature.
type SetEngineTimeSignatureEvent struct {
	base
	Signature transport.TimeSignature
}

// NewSetEngineTimeSignatureEvent returns a time signature change.
func NewSetEngineTimeSignatureEvent(signature transport.TimeSignature, timestamp time.Duration) *SetEngineTimeSignatureEvent {
	return &SetEngineTimeSignatureEvent{base: newBase(timestamp), Signature: signature}
}

// ToRtEvent converts the signature change for the audio thread.
func (e *SetEngineTimeSignatureEvent) ToRtEvent(int) rt.Event {
	return rt.NewTimeSignatureEvent(e.Signature)
}

// SetEnginePlayingModeEvent changes the transport play state.
type SetEnginePlayingModeEvent struct {
	base
	Mode transport.PlayingMode
}

// NewSetEnginePlayingModeEvent returns a play state change.
func NewSetEnginePlayingModeEvent(mode transport.PlayingMode, timestamp time.Duration) *SetEnginePlayingModeEvent {
	return &SetEnginePlayingModeEvent{base: newBase(timestamp), Mode: mode}
}

// ToRtEvent converts the play state change for the audio thread.
func (e *SetEnginePlayingModeEvent) ToRtEvent(int) rt.Event {
	return rt.NewPlayingModeEvent(e.Mode)
}

// SetEngineSyncModeEvent changes the tempo synchronisation mode.
type SetEngineSyncModeEvent struct {
	base
	Mode transport.SyncMode
}

// NewSetEngineSyncModeEvent returns a sync mode change.
func NewSetEngineSyncModeEvent(mode transport.SyncMode, timestamp time.Duration) *SetEngineSyncModeEvent {
	return &SetEngineSyncModeEvent{base: newBase(timestamp), Mode: mode}
}

// ToRtEvent converts the sync mode change for the audio thread.
func (e *SetEngineSyncModeEvent) ToRtEvent(int) rt.Event {
	return rt.NewSyncModeEvent(e.Mode)
}

// ProgramChangeEvent selects a program on a processor.
type ProgramChangeEvent struct {
	base
	ProcessorID uint32
	Program     int
}

// NewProgramChangeEvent returns a program change.
func NewProgramChangeEvent(processorID uint32, program int, timestamp time.Duration) *ProgramChangeEvent {
	return &ProgramChangeEvent{base: newBase(timestamp), ProcessorID: processorID, Program: program}
}

// ToRtEvent converts the program change for the audio thread.
func (e *ProgramChangeEvent) ToRtEvent(sampleOffset int) rt.Event {
	return rt.Event{Type: rt.TypeIntParameterChange, SampleOffset: sampleOffset,
		ProcessorID: e.ProcessorID, IntValue: e.Program, Value: float64(e.Program)}
}

// AddTrackEvent creates a new track in the engine.
type AddTrackEvent struct {
	base
	Name     string
	Channels int
}

// NewAddTrackEvent returns an add-track command.
func NewAddTrackEvent(name string, channels int, timestamp time.Duration) *AddTrackEvent {
	return &AddTrackEvent{base: newBase(timestamp), Name: name, Channels: channels}
}

// Execute creates the track.
func (e *AddTrackEvent) Execute(engine Engine) error {
	return engine.CreateTrack(e.Name, e.Channels)
}

// RemoveTrackEvent deletes a track from the engine.
type RemoveTrackEvent struct {
	base
	Name string
}

// NewRemoveTrackEvent returns a remove-track command.
func NewRemoveTrackEvent(name string, timestamp time.Duration) *RemoveTrackEvent {
	return &RemoveTrackEvent{base: newBase(timestamp), Name: name}
}

// Execute deletes the track.
func (e *RemoveTrackEvent) Execute(engine Engine) error {
	return engine.DeleteTrack(e.Name)
}

// AddProcessorEvent instantiates an internal plugin on a track.
type AddProcessorEvent struct {
	base
	TrackName string
	UID       string
	Name      string
}

// NewAddProcessorEvent returns an add-processor command.
func NewAddProcessorEvent(trackName, uid, name string, timestamp time.Duration) *AddProcessorEvent {
	return &AddProcessorEvent{base: newBase(timestamp), TrackName: trackName, UID: uid, Name: name}
}

// Execute creates the plugin and appends it to the track.
func (e *AddProcessorEvent) Execute(engine Engine) error {
	return engine.AddPlugin(e.TrackName, e.UID, e.Name)
}

// RemoveProcessorEvent removes a plugin from a track and deletes it.
type RemoveProcessorEvent struct {
	base
	TrackName string
	Name      string
}

// NewRemoveProcessorEvent returns a remove-processor command.
func NewRemoveProcessorEvent(trackName, name string, timestamp time.Duration) *RemoveProcessorEvent {
	return &RemoveProcessorEvent{base: newBase(timestamp), TrackName: trackName, Name: name}
}

// Execute removes the plugin.
func (e *RemoveProcessorEvent) Execute(engine Engine) error {
	return engine.RemovePlugin(e.TrackName, e.Name)
}

// ClippingNotificationEvent reports samples above full scale on an engine
// channel. Fire-and-forget.
type ClippingNotificationEvent struct {
	base
	Channel int
	Kind    int // rt.ClipChannelInput or rt.ClipChannelOutput
}

// NewClippingNotificationEvent returns a clipping notification.
func NewClippingNotificationEvent(channel, kind int, timestamp time.Duration) *ClippingNotificationEvent {
	return &ClippingNotificationEvent{base: newBase(timestamp), Channel: channel, Kind: kind}
}

func (e *ClippingNotificationEvent) notification() {}

// ParameterChangeNotificationEvent reports a parameter value observed on
// the audio thread. Fire-and-forget.
type ParameterChangeNotificationEvent struct {
	base
	ProcessorID uint32
	ParameterID uint32
	Value       float64
}

// NewParameterChangeNotificationEvent returns a parameter notification.
func NewParameterChangeNotificationEvent(processorID, parameterID uint32, value float64, timestamp time.Duration) *ParameterChangeNotificationEvent {
	return &ParameterChangeNotificationEvent{base: newBase(timestamp),
		ProcessorID: processorID, ParameterID: parameterID, Value: value}
}

func (e *ParameterChangeNotificationEvent) notification() {}

// AsyncWorkEvent runs a processor-supplied callback on the background
// worker; the completion is posted back to the audio thread.
type AsyncWorkEvent struct {
	base
	ProcessorID uint32
	RtEventID   uint32
	Callback    rt.WorkCallback
	Data        any
}

// NewAsyncWorkEvent returns an async work request originating from the
// audio thread.
func NewAsyncWorkEvent(processorID, rtEventID uint32, callback rt.WorkCallback, data any, timestamp time.Duration) *AsyncWorkEvent {
	return &AsyncWorkEvent{base: newBase(timestamp), ProcessorID: processorID,
		RtEventID: rtEventID, Callback: callback, Data: data}
}

// Run executes the callback and returns the completion event.
func (e *AsyncWorkEvent) Run() Event {
	status := rt.HandledOK
	if e.Callback != nil {
		status = e.Callback(e.Data, e.RtEventID)
	}
	return NewAsyncCompletionEvent(e.ProcessorID, e.RtEventID, status, e.Time())
}

// AsyncCompletionEvent notifies the audio thread that async work finished.
type AsyncCompletionEvent struct {
	base
	ProcessorID uint32
	RtEventID   uint32
	Status      int
}

// NewAsyncCompletionEvent returns an async work completion.
func NewAsyncCompletionEvent(processorID, rtEventID uint32, status int, timestamp time.Duration) *AsyncCompletionEvent {
	return &AsyncCompletionEvent{base: newBase(timestamp), ProcessorID: processorID,
		RtEventID: rtEventID, Status: status}
}

// ToRtEvent converts the completion for the audio thread.
func (e *AsyncCompletionEvent) ToRtEvent(int) rt.Event {
	return rt.NewAsyncWorkCompletionEvent(e.ProcessorID, e.RtEventID, e.Status)
}

// FromRtEvent builds the typed counterpart of a realtime event popped from
// the outbound ring, or nil if the event has no non-realtime counterpart.
func FromRtEvent(e rt.Event, timestamp time.Duration) Event {
	switch e.Type {
	case rt.TypeClipNotification:
		return NewClippingNotificationEvent(e.Channel, e.IntValue, timestamp)
	case rt.TypeFloatParameterChange, rt.TypeIntParameterChange, rt.TypeBoolParameterChange:
		return NewParameterChangeNotificationEvent(e.ProcessorID, e.ParameterID, e.Value, timestamp)
	case rt.TypeAsyncWork:
		return NewAsyncWorkEvent(e.ProcessorID, e.EventID, e.WorkCallback, e.WorkData, timestamp)
	case rt.TypeNoteOn:
		return NewKeyboardEvent(NoteOn, e.ProcessorID, e.Channel, e.Note, e.Value, timestamp)
	case rt.TypeNoteOff:
		return NewKeyboardEvent(NoteOff, e.ProcessorID, e.Channel, e.Note, e.Value, timestamp)
	case rt.TypeNoteAftertouch:
		return NewKeyboardEvent(NoteAftertouch, e.ProcessorID, e.Channel, e.Note, e.Value, timestamp)
	case rt.TypeAftertouch:
		return NewKeyboardCommonEvent(Aftertouch, e.ProcessorID, e.Channel, e.Value, timestamp)
	case rt.TypePitchBend:
		return NewKeyboardCommonEvent(PitchBend, e.ProcessorID, e.Channel, e.Value, timestamp)
	case rt.TypeModulation:
		return NewKeyboardCommonEvent(Modulation, e.ProcessorID, e.Channel, e.Value, timestamp)
	case rt.TypeWrappedMidi:
		return NewWrappedMidiEvent(e.ProcessorID, e.Midi[:e.MidiLen], timestamp)
	}
	return nil
}

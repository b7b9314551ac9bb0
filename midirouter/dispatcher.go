// Package midirouter translates raw MIDI byte streams into typed engine
// events using configurable routing tables, and routes outbound keyboard
// events back to raw MIDI.
package midirouter

import (
	"errors"
	"sync"
	"time"

	"github.com/duanchangstar/sushi/event"
	"github.com/duanchangstar/sushi/midi"
)

// Status errors returned by the connection methods.
var (
	ErrInvalidMidiInput  = errors.New("invalid midi input port")
	ErrInvalidMidiOutput = errors.New("invalid midi output port")
	ErrInvalidChannel    = errors.New("invalid midi channel")
)

// channelSlots is one routing slot per specific channel plus one for omni.
const channelSlots = midi.NumChannels + 1

// Engine is the lookup surface the dispatcher needs from the audio engine.
type Engine interface {
	ProcessorIDFromName(name string) (uint32, error)
	ParameterIDFromName(processorName, parameterName string) (uint32, error)
}

// EventPoster accepts the typed events the dispatcher produces.
type EventPoster interface {
	PostEvent(e event.Event)
}

// Frontend delivers raw MIDI bytes to the OS layer.
type Frontend interface {
	SendMidi(port int, data []byte, timestamp time.Duration)
}

// inputConnection is one routing entry: the target processor (and, for CC
// routes, parameter plus scaling). In relative mode the connection keeps a
// virtual absolute value that CC deltas are applied to.
type inputConnection struct {
	target       uint32
	parameter    uint32
	minRange     float64
	maxRange     float64
	relative     bool
	virtualValue uint8
}

type outputConnection struct {
	port    int
	channel int
}

// Dispatcher routes MIDI between ports and the engine. All connection
// methods are safe from non-realtime threads; SendMidi is called from the
// MIDI frontend thread.
type Dispatcher struct {
	engine Engine
	poster EventPoster

	mu          sync.Mutex
	frontend    Frontend
	midiInputs  int
	midiOutputs int

	kbRoutesIn  map[int]*[channelSlots][]inputConnection
	kbRoutesOut map[uint32][]outputConnection
	ccRoutesIn  map[int]*[midi.MaxValue + 1][channelSlots][]inputConnection
	pcRoutesIn  map[int]*[channelSlots][]inputConnection
	rawRoutesIn map[int]*[channelSlots][]inputConnection
}

// NewDispatcher returns a dispatcher posting events for the given engine.
func NewDispatcher(engine Engine, poster EventPoster) *Dispatcher {
	return &Dispatcher{
		engine:      engine,
		poster:      poster,
		kbRoutesIn:  make(map[int]*[channelSlots][]inputConnection),
		kbRoutesOut: make(map[uint32][]outputConnection),
		ccRoutesIn:  make(map[int]*[midi.MaxValue + 1][channelSlots][]inputConnection),
		pcRoutesIn:  make(map[int]*[channelSlots][]inputConnection),
		rawRoutesIn: make(map[int]*[channelSlots][]inputConnection),
	}
}

// SetFrontend attaches the MIDI frontend used for outbound messages.
func (d *Dispatcher) SetFrontend(frontend Frontend) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frontend = frontend
}

// SetMidiInputs sets the number of MIDI input ports.
func (d *Dispatcher) SetMidiInputs(inputs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.midiInputs = inputs
}

// SetMidiOutputs sets the number of MIDI output ports.
func (d *Dispatcher) SetMidiOutputs(outputs int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.midiOutputs = outputs
}

// ConnectCCToParameter maps a control change number on an input port to a
// processor parameter. In absolute mode the CC value is scaled linearly
// into [minRange, maxRange]; in relative mode the CC carries a
// two's-complement 7-bit delta applied to a virtual absolute value.
func (d *Dispatcher) ConnectCCToParameter(midiInput int, processorName, parameterName string,
	ccNumber int, minRange, maxRange float64, relative bool, channel midi.Channel) error {
	if err := d.checkInput(midiInput); err != nil {
		return err
	}
	if ccNumber < 0 || ccNumber > midi.MaxValue {
		return ErrInvalidChannel
	}
	if !channel.Valid() {
		return ErrInvalidChannel
	}
	processorID, err := d.engine.ProcessorIDFromName(processorName)
	if err != nil {
		return err
	}
	parameterID, err := d.engine.ParameterIDFromName(processorName, parameterName)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	routes := d.ccRoutesIn[midiInput]
	if routes == nil {
		routes = &[midi.MaxValue + 1][channelSlots][]inputConnection{}
		d.ccRoutesIn[midiInput] = routes
	}
	routes[ccNumber][channel.Index()] = append(routes[ccNumber][channel.Index()], inputConnection{
		target:       processorID,
		parameter:    parameterID,
		minRange:     minRange,
		maxRange:     maxRange,
		relative:     relative,
		virtualValue: 64,
	})
	return nil
}

// ConnectPCToProcessor maps program change messages on an input port to a
// processor.
func (d *Dispatcher) ConnectPCToProcessor(midiInput int, processorName string, channel midi.Channel) error {
	return d.connectSimple(midiInput, processorName, channel, d.pcRoutesIn)
}

// ConnectKbToTrack routes keyboard data from an input port to a track.
func (d *Dispatcher) ConnectKbToTrack(midiInput int, trackName string, channel midi.Channel) error {
	return d.connectSimple(midiInput, trackName, channel, d.kbRoutesIn)
}

// ConnectRawMidiToTrack routes unprocessed MIDI from an input port to a
// track as wrapped messages.
func (d *Dispatcher) ConnectRawMidiToTrack(midiInput int, trackName string, channel midi.Channel) error {
	return d.connectSimple(midiInput, trackName, channel, d.rawRoutesIn)
}

func (d *Dispatcher) connectSimple(midiInput int, name string, channel midi.Channel,
	table map[int]*[channelSlots][]inputConnection) error {
	if err := d.checkInput(midiInput); err != nil {
		return err
	}
	if !channel.Valid() {
		return ErrInvalidChannel
	}
	id, err := d.engine.ProcessorIDFromName(name)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	routes := table[midiInput]
	if routes == nil {
		routes = &[channelSlots][]inputConnection{}
		table[midiInput] = routes
	}
	routes[channel.Index()] = append(routes[channel.Index()], inputConnection{target: id})
	return nil
}

// ConnectTrackToOutput routes keyboard events originating from a track to
// a MIDI output port on a specific channel.
func (d *Dispatcher) ConnectTrackToOutput(midiOutput int, trackName string, channel int) error {
	d.mu.Lock()
	outputs := d.midiOutputs
	d.mu.Unlock()
	if midiOutput < 0 || midiOutput >= outputs {
		return ErrInvalidMidiOutput
	}
	if channel < 0 || channel >= midi.NumChannels {
		return ErrInvalidChannel
	}
	id, err := d.engine.ProcessorIDFromName(trackName)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.kbRoutesOut[id] = append(d.kbRoutesOut[id], outputConnection{port: midiOutput, channel: channel})
	return nil
}

// ClearConnections drops every routing entry.
func (d *Dispatcher) ClearConnections() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.kbRoutesIn = make(map[int]*[channelSlots][]inputConnection)
	d.kbRoutesOut = make(map[uint32][]outputConnection)
	d.ccRoutesIn = make(map[int]*[midi.MaxValue + 1][channelSlots][]inputConnection)
	d.pcRoutesIn = make(map[int]*[channelSlots][]inputConnection)
	d.rawRoutesIn = make(map[int]*[channelSlots][]inputConnection)
}

func (d *Dispatcher) checkInput(midiInput int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if midiInput < 0 || midiInput >= d.midiInputs {
		return ErrInvalidMidiInput
	}
	return nil
}

// SendMidi decodes a raw MIDI message arriving on a port and posts typed
// events according to the routing tables. Called from the MIDI frontend
// thread.
func (d *Dispatcher) SendMidi(port int, data []byte, timestamp time.Duration) {
	switch midi.DecodeMessageType(data) {
	case midi.NoteOn:
		msg := midi.DecodeNoteOn(data)
		subtype := event.NoteOn
		if msg.Velocity == 0 {
			// A zero-velocity note-on is semantically a note-off.
			subtype = event.NoteOff
		}
		d.forEachKbTarget(port, int(msg.Channel), func(target uint32) {
			d.poster.PostEvent(event.NewKeyboardEvent(subtype, target,
				int(msg.Channel), int(msg.Note), float64(msg.Velocity)/midi.MaxValue, timestamp))
		})
	case midi.NoteOff:
		msg := midi.DecodeNoteOff(data)
		d.forEachKbTarget(port, int(msg.Channel), func(target uint32) {
			d.poster.PostEvent(event.NewKeyboardEvent(event.NoteOff, target,
				int(msg.Channel), int(msg.Note), float64(msg.Velocity)/midi.MaxValue, timestamp))
		})
	case midi.PolyKeyPressure:
		msg := midi.DecodePolyKeyPressure(data)
		d.forEachKbTarget(port, int(msg.Channel), func(target uint32) {
			d.poster.PostEvent(event.NewKeyboardEvent(event.NoteAftertouch, target,
				int(msg.Channel), int(msg.Note), float64(msg.Pressure)/midi.MaxValue, timestamp))
		})
	case midi.ChannelPressure:
		msg := midi.DecodeChannelPressure(data)
		d.forEachKbTarget(port, int(msg.Channel), func(target uint32) {
			d.poster.PostEvent(event.NewKeyboardCommonEvent(event.Aftertouch, target,
				int(msg.Channel), float64(msg.Pressure)/midi.MaxValue, timestamp))
		})
	case midi.PitchBend:
		msg := midi.DecodePitchBend(data)
		value := (float64(msg.Value) - midi.PitchBendMiddle) / midi.PitchBendMiddle
		d.forEachKbTarget(port, int(msg.Channel), func(target uint32) {
			d.poster.PostEvent(event.NewKeyboardCommonEvent(event.PitchBend, target,
				int(msg.Channel), value, timestamp))
		})
	case midi.ControlChange:
		d.handleControlChange(port, midi.DecodeControlChange(data), timestamp)
	case midi.ProgramChange:
		msg := midi.DecodeProgramChange(data)
		d.forEachTarget(d.pcRoutesIn, port, int(msg.Channel), func(c *inputConnection) {
			d.poster.PostEvent(event.NewProgramChangeEvent(c.target, int(msg.Program), timestamp))
		})
		d.forwardRaw(port, int(msg.Channel), data, timestamp)
		return
	default:
		// Unclassified channel data can still reach raw routes.
		if len(data) > 0 && data[0] >= 0x80 && data[0] < 0xF0 {
			d.forwardRaw(port, int(midi.DecodeChannel(data[0])), data, timestamp)
		}
		return
	}
	if len(data) > 0 && data[0] < 0xF0 {
		d.forwardRaw(port, int(midi.DecodeChannel(data[0])), data, timestamp)
	}
}

func (d *Dispatcher) handleControlChange(port int, msg midi.ControlChangeMessage, timestamp time.Duration) {
	d.mu.Lock()
	routes := d.ccRoutesIn[port]
	d.mu.Unlock()
	if routes == nil {
		return
	}

	apply := func(connections []inputConnection) {
		for i := range connections {
			c := &connections[i]
			var value float64
			if c.relative {
				c.virtualValue = applyRelative(c.virtualValue, msg.Value)
				value = c.minRange + (c.maxRange-c.minRange)*float64(c.virtualValue)/midi.MaxValue
			} else {
				value = c.minRange + (c.maxRange-c.minRange)*float64(msg.Value)/midi.MaxValue
			}
			d.poster.PostEvent(event.NewParameterChangeEvent(c.target, c.parameter, value, timestamp))
		}
	}

	apply(routes[msg.Controller][msg.Channel])
	apply(routes[msg.Controller][midi.Omni().Index()])
}

// applyRelative applies a two's-complement 7-bit delta to the virtual
// absolute value, clamped to the controller range.
func applyRelative(current uint8, ccValue uint8) uint8 {
	delta := int(ccValue)
	if delta >= 64 {
		delta -= 128
	}
	v := int(current) + delta
	if v < 0 {
		v = 0
	}
	if v > midi.MaxValue {
		v = midi.MaxValue
	}
	return uint8(v)
}

func (d *Dispatcher) forEachKbTarget(port, channel int, fn func(target uint32)) {
	d.forEachTarget(d.kbRoutesIn, port, channel, func(c *inputConnection) { fn(c.target) })
}

func (d *Dispatcher) forEachTarget(table map[int]*[channelSlots][]inputConnection,
	port, channel int, fn func(c *inputConnection)) {
	d.mu.Lock()
	routes := table[port]
	d.mu.Unlock()
	if routes == nil {
		return
	}
	for i := range routes[channel] {
		fn(&routes[channel][i])
	}
	omni := midi.Omni().Index()
	for i := range routes[omni] {
		fn(&routes[omni][i])
	}
}

func (d *Dispatcher) forwardRaw(port, channel int, data []byte, timestamp time.Duration) {
	d.forEachTarget(d.rawRoutesIn, port, channel, func(c *inputConnection) {
		d.poster.PostEvent(event.NewWrappedMidiEvent(c.target, data, timestamp))
	})
}

// ProcessKeyboardEvent converts an outbound keyboard event from the engine
// into raw MIDI and hands it to the frontend on every configured output.
// Wire it up with Dispatcher.SubscribeToKeyboardEvents.
func (d *Dispatcher) ProcessKeyboardEvent(e *event.KeyboardEvent) {
	d.mu.Lock()
	connections := d.kbRoutesOut[e.ProcessorID]
	frontend := d.frontend
	d.mu.Unlock()
	if frontend == nil {
		return
	}

	for _, c := range connections {
		var data []byte
		switch e.Subtype {
		case event.NoteOn:
			data = midi.EncodeNoteOn(midi.NoteOnMessage{
				Channel: uint8(c.channel), Note: uint8(e.Note),
				Velocity: uint8(e.Value*midi.MaxValue + 0.5)})
		case event.NoteOff:
			data = midi.EncodeNoteOff(midi.NoteOffMessage{
				Channel: uint8(c.channel), Note: uint8(e.Note),
				Velocity: uint8(e.Value*midi.MaxValue + 0.5)})
		case event.NoteAftertouch:
			data = midi.EncodePolyKeyPressure(midi.PolyKeyPressureMessage{
				Channel: uint8(c.channel), Note: uint8(e.Note),
				Pressure: uint8(e.Value*midi.MaxValue + 0.5)})
		case event.Aftertouch:
			data = midi.EncodeChannelPressure(midi.ChannelPressureMessage{
				Channel: uint8(c.channel), Pressure: uint8(e.Value*midi.MaxValue + 0.5)})
		case event.PitchBend:
			data = midi.EncodePitchBend(midi.PitchBendMessage{
				Channel: uint8(c.channel),
				Value:   uint16(e.Value*midi.PitchBendMiddle + midi.PitchBendMiddle)})
		case event.WrappedMidi:
			data = e.MidiData[:e.MidiLen]
		default:
			continue
		}
		frontend.SendMidi(c.port, data, e.Time())
	}
}

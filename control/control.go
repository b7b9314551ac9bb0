// Package control exposes the remote-control facade over the engine. All
// queries read the engine's non-realtime state; all mutations route through
// the event dispatcher so they are serialised with the realtime plane.
package control

import (
	"fmt"

	"github.com/duanchangstar/sushi/engine"
	"github.com/duanchangstar/sushi/event"
	"github.com/duanchangstar/sushi/transport"
)

// TrackInfo describes one track for remote clients.
type TrackInfo struct {
	ID             uint32
	Name           string
	InputChannels  int
	OutputChannels int
	Processors     []ProcessorInfo
}

// ProcessorInfo describes one processor for remote clients.
type ProcessorInfo struct {
	ID         uint32
	Name       string
	Label      string
	Bypassed   bool
	Parameters []ParameterInfo
}

// ParameterInfo describes one parameter for remote clients.
type ParameterInfo struct {
	ID    uint32
	Name  string
	Min   float64
	Max   float64
	Value float64
}

// SushiControl is the public query and command surface of a running host.
type SushiControl struct {
	engine *engine.Engine
}

// New returns a control facade over the engine.
func New(e *engine.Engine) *SushiControl {
	return &SushiControl{engine: e}
}

// Tracks returns a snapshot of the audio graph.
func (c *SushiControl) Tracks() []TrackInfo {
	tracks := c.engine.AllTracks()
	out := make([]TrackInfo, 0, len(tracks))
	for _, t := range tracks {
		info := TrackInfo{
			ID:             t.ID(),
			Name:           t.Name(),
			InputChannels:  t.InputChannels(),
			OutputChannels: t.OutputChannels(),
		}
		for _, p := range t.Processors() {
			info.Processors = append(info.Processors, processorInfo(p.ID(), c.engine))
		}
		out = append(out, info)
	}
	return out
}

func processorInfo(id uint32, e *engine.Engine) ProcessorInfo {
	p := e.Processor(id)
	if p == nil {
		return ProcessorInfo{ID: id}
	}
	info := ProcessorInfo{ID: p.ID(), Name: p.Name(), Label: p.Label(), Bypassed: p.Bypassed()}
	for _, param := range p.Parameters() {
		info.Parameters = append(info.Parameters, ParameterInfo{
			ID: param.ID(), Name: param.Name(),
			Min: param.Min(), Max: param.Max(), Value: param.Value(),
		})
	}
	return info
}

// ParameterValue returns the current value of a named parameter.
func (c *SushiControl) ParameterValue(processorName, parameterName string) (float64, error) {
	id, err := c.engine.ProcessorIDFromName(processorName)
	if err != nil {
		return 0, err
	}
	p := c.engine.Processor(id)
	param := p.ParameterByName(parameterName)
	if param == nil {
		return 0, fmt.Errorf("%w: %q", engine.ErrInvalidName, parameterName)
	}
	return param.Value(), nil
}

// Tempo returns the current transport tempo.
func (c *SushiControl) Tempo() float64 {
	return c.engine.Transport().CurrentTempo()
}

// PlayingMode returns the current transport play state.
func (c *SushiControl) PlayingMode() transport.PlayingMode {
	return c.engine.Transport().PlayingMode()
}

// SetTempo posts a tempo change through the event plane.
func (c *SushiControl) SetTempo(tempo float64) {
	c.engine.Dispatcher().PostEvent(event.NewSetEngineTempoEvent(tempo, 0))
}

// SetTimeSignature posts a time signature change.
func (c *SushiControl) SetTimeSignature(signature transport.TimeSignature) {
	c.engine.Dispatcher().PostEvent(event.NewSetEngineTimeSignatureEvent(signature, 0))
}

// SetPlayingMode posts a play state change.
func (c *SushiControl) SetPlayingMode(mode transport.PlayingMode) {
	c.engine.Dispatcher().PostEvent(event.NewSetEnginePlayingModeEvent(mode, 0))
}

// SetParameter posts a parameter change on a named processor.
func (c *SushiControl) SetParameter(processorName, parameterName string, value float64) error {
	processorID, err := c.engine.ProcessorIDFromName(processorName)
	if err != nil {
		return err
	}
	parameterID, err := c.engine.ParameterIDFromName(processorName, parameterName)
	if err != nil {
		return err
	}
	c.engine.Dispatcher().PostEvent(event.NewParameterChangeEvent(processorID, parameterID, value, 0))
	return nil
}

// SetProcessorBypass posts a bypass change on a named processor.
func (c *SushiControl) SetProcessorBypass(processorName string, bypassed bool) error {
	id, err := c.engine.ProcessorIDFromName(processorName)
	if err != nil {
		return err
	}
	c.engine.Dispatcher().PostEvent(event.NewSetProcessorBypassEvent(id, bypassed, 0))
	return nil
}

// NoteOn posts a note-on to a named track.
func (c *SushiControl) NoteOn(trackName string, channel, note int, velocity float64) error {
	id, err := c.engine.ProcessorIDFromName(trackName)
	if err != nil {
		return err
	}
	c.engine.Dispatcher().PostEvent(event.NewKeyboardEvent(event.NoteOn, id, channel, note, velocity, 0))
	return nil
}

// NoteOff posts a note-off to a named track.
func (c *SushiControl) NoteOff(trackName string, channel, note int, velocity float64) error {
	id, err := c.engine.ProcessorIDFromName(trackName)
	if err != nil {
		return err
	}
	c.engine.Dispatcher().PostEvent(event.NewKeyboardEvent(event.NoteOff, id, channel, note, velocity, 0))
	return nil
}

// CreateTrack posts an add-track command.
func (c *SushiControl) CreateTrack(name string, channels int) {
	c.engine.Dispatcher().PostEvent(event.NewAddTrackEvent(name, channels, 0))
}

// DeleteTrack posts a remove-track command.
func (c *SushiControl) DeleteTrack(name string) {
	c.engine.Dispatcher().PostEvent(event.NewRemoveTrackEvent(name, 0))
}

// AddProcessor posts an add-processor command.
func (c *SushiControl) AddProcessor(trackName, uid, name string) {
	c.engine.Dispatcher().PostEvent(event.NewAddProcessorEvent(trackName, uid, name, 0))
}

// RemoveProcessor posts a remove-processor command.
func (c *SushiControl) RemoveProcessor(trackName, name string) {
	c.engine.Dispatcher().PostEvent(event.NewRemoveProcessorEvent(trackName, name, 0))
}

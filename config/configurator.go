// Package config loads a JSON host configuration and applies it through
// the engine's and MIDI dispatcher's public APIs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/duanchangstar/sushi/engine"
	"github.com/duanchangstar/sushi/event"
	"github.com/duanchangstar/sushi/internal/logging"
	"github.com/duanchangstar/sushi/midi"
	"github.com/duanchangstar/sushi/midirouter"
	"github.com/duanchangstar/sushi/transport"
)

// Status errors returned by the loader.
var (
	ErrInvalidFile          = errors.New("cannot read configuration file")
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrInvalidTrackName     = errors.New("invalid track name")
	ErrInvalidPluginName    = errors.New("invalid plugin name")
	ErrInvalidPluginPath    = errors.New("invalid plugin path")
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrInvalidMidiPort      = errors.New("invalid midi port")
	ErrNoDefinitions        = errors.New("section has no definitions")
)

// channel accepts either a number or the string "omni" in JSON.
type channel struct {
	midi.Channel
}

func (c *channel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "omni" {
			return fmt.Errorf("%w: channel %q", ErrInvalidConfiguration, s)
		}
		c.Channel = midi.Omni()
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: channel: %v", ErrInvalidConfiguration, err)
	}
	c.Channel = midi.ChannelOf(n)
	if !c.Valid() {
		return fmt.Errorf("%w: channel %d", ErrInvalidConfiguration, n)
	}
	return nil
}

type hostConfig struct {
	SampleRate    float64 `json:"samplerate"`
	Tempo         float64 `json:"tempo"`
	TimeSignature *struct {
		Numerator   int `json:"numerator"`
		Denominator int `json:"denominator"`
	} `json:"time_signature"`
	PlayingMode string `json:"playing_mode"`
	TempoSync   string `json:"tempo_sync"`
}

type connectionDef struct {
	EngineChannel int `json:"engine_channel"`
	TrackChannel  int `json:"track_channel"`
}

type pluginDef struct {
	UID  string `json:"uid"`
	Name string `json:"name"`
	Type string `json:"type"`
	Path string `json:"path"`
}

type trackDef struct {
	Name         string          `json:"name"`
	Mode         string          `json:"mode"`
	Channels     int             `json:"channels"`
	InputBusses  int             `json:"input_busses"`
	OutputBusses int             `json:"output_busses"`
	Inputs       []connectionDef `json:"inputs"`
	Outputs      []connectionDef `json:"outputs"`
	Plugins      []pluginDef     `json:"plugins"`
}

type midiConfig struct {
	Inputs           int `json:"inputs"`
	Outputs          int `json:"outputs"`
	TrackConnections []struct {
		Port    int     `json:"port"`
		Channel channel `json:"channel"`
		Track   string  `json:"track"`
		RawMidi bool    `json:"raw_midi"`
	} `json:"track_connections"`
	TrackOutConnections []struct {
		Port    int    `json:"port"`
		Channel int    `json:"channel"`
		Track   string `json:"track"`
	} `json:"track_out_connections"`
	CCMappings []struct {
		Port          int     `json:"port"`
		Channel       channel `json:"channel"`
		CCNumber      int     `json:"cc_number"`
		PluginName    string  `json:"plugin_name"`
		ParameterName string  `json:"parameter_name"`
		MinRange      float64 `json:"min_range"`
		MaxRange      float64 `json:"max_range"`
		Mode          string  `json:"mode"`
	} `json:"cc_mappings"`
	ProgramChangeConnections []struct {
		Port       int     `json:"port"`
		Channel    channel `json:"channel"`
		PluginName string  `json:"plugin_name"`
	} `json:"program_change_connections"`
}

type cvGateConfig struct {
	CVInputs []struct {
		Processor string `json:"processor"`
		Parameter string `json:"parameter"`
		CVPort    int    `json:"cv_port"`
	} `json:"cv_inputs"`
	CVOutputs []struct {
		Processor string `json:"processor"`
		Parameter string `json:"parameter"`
		CVPort    int    `json:"cv_port"`
	} `json:"cv_outputs"`
	GateInputs []struct {
		Processor string `json:"processor"`
		GatePort  int    `json:"gate_port"`
		Note      int    `json:"note"`
		Channel   int    `json:"channel"`
	} `json:"gate_inputs"`
	GateOutputs []struct {
		Processor string `json:"processor"`
		GatePort  int    `json:"gate_port"`
		Note      int    `json:"note"`
		Channel   int    `json:"channel"`
	} `json:"gate_outputs"`
}

type eventDef struct {
	Time float64         `json:"time"`
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type document struct {
	HostConfig *hostConfig     `json:"host_config"`
	Tracks     []trackDef      `json:"tracks"`
	Midi       *midiConfig     `json:"midi"`
	CvGate     *cvGateConfig   `json:"cv_gate"`
	Events     []eventDef      `json:"events"`
}

// Configurator applies a parsed configuration document to an engine and a
// MIDI dispatcher.
type Configurator struct {
	engine *engine.Engine
	midi   *midirouter.Dispatcher
	doc    document
}

// NewConfigurator parses the JSON file at path.
func NewConfigurator(e *engine.Engine, md *midirouter.Dispatcher, path string) (*Configurator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}
	return newFromBytes(e, md, data)
}

func newFromBytes(e *engine.Engine, md *midirouter.Dispatcher, data []byte) (*Configurator, error) {
	c := &Configurator{engine: e, midi: md}
	if err := json.Unmarshal(data, &c.doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
	}
	return c, nil
}

// LoadAll applies every section that is present, in dependency order.
func (c *Configurator) LoadAll() error {
	if err := c.LoadHostConfig(); err != nil && !errors.Is(err, ErrNoDefinitions) {
		return err
	}
	if err := c.LoadTracks(); err != nil && !errors.Is(err, ErrNoDefinitions) {
		return err
	}
	if err := c.LoadMidi(); err != nil && !errors.Is(err, ErrNoDefinitions) {
		return err
	}
	if err := c.LoadCvGate(); err != nil && !errors.Is(err, ErrNoDefinitions) {
		return err
	}
	return nil
}

// LoadHostConfig applies the host_config section.
func (c *Configurator) LoadHostConfig() error {
	cfg := c.doc.HostConfig
	if cfg == nil {
		return fmt.Errorf("%w: host_config", ErrNoDefinitions)
	}
	if cfg.SampleRate > 0 {
		c.engine.SetSampleRate(cfg.SampleRate)
	}
	if cfg.Tempo > 0 {
		c.engine.SetTempo(cfg.Tempo)
	}
	if sig := cfg.TimeSignature; sig != nil {
		c.engine.SetTimeSignature(transport.TimeSignature{
			Numerator: sig.Numerator, Denominator: sig.Denominator})
	}
	switch cfg.PlayingMode {
	case "":
	case "stopped":
		c.engine.SetTransportMode(transport.Stopped)
	case "playing":
		c.engine.SetTransportMode(transport.Playing)
	case "recording":
		c.engine.SetTransportMode(transport.Recording)
	default:
		return fmt.Errorf("%w: playing_mode %q", ErrInvalidConfiguration, cfg.PlayingMode)
	}
	switch cfg.TempoSync {
	case "":
	case "internal":
		c.engine.SetTempoSyncMode(transport.Internal)
	case "midi":
		c.engine.SetTempoSyncMode(transport.MidiSlave)
	case "link":
		c.engine.SetTempoSyncMode(transport.AbletonLink)
	default:
		return fmt.Errorf("%w: tempo_sync %q", ErrInvalidConfiguration, cfg.TempoSync)
	}
	return nil
}

// LoadTracks creates every track with its plugins and audio connections.
func (c *Configurator) LoadTracks() error {
	if len(c.doc.Tracks) == 0 {
		return fmt.Errorf("%w: tracks", ErrNoDefinitions)
	}
	for _, def := range c.doc.Tracks {
		if err := c.makeTrack(def); err != nil {
			return err
		}
	}
	return nil
}

func (c *Configurator) makeTrack(def trackDef) error {
	if def.Name == "" {
		return ErrInvalidTrackName
	}

	var err error
	switch def.Mode {
	case "mono":
		err = c.engine.CreateTrack(def.Name, 1)
	case "", "stereo":
		err = c.engine.CreateTrack(def.Name, 2)
	case "multibus":
		err = c.engine.CreateMultibusTrack(def.Name, def.InputBusses, def.OutputBusses)
	case "custom":
		err = c.engine.CreateTrack(def.Name, def.Channels)
	default:
		return fmt.Errorf("%w: track mode %q", ErrInvalidConfiguration, def.Mode)
	}
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidTrackName, def.Name, err)
	}

	for _, in := range def.Inputs {
		if err := c.engine.ConnectAudioInputChannel(in.EngineChannel, in.TrackChannel, def.Name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}
	for _, out := range def.Outputs {
		if err := c.engine.ConnectAudioOutputChannel(out.EngineChannel, out.TrackChannel, def.Name); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
	}

	for _, plugin := range def.Plugins {
		if plugin.Type != "" && plugin.Type != "internal" {
			return fmt.Errorf("%w: plugin type %q", ErrInvalidPluginPath, plugin.Type)
		}
		if plugin.Name == "" {
			return ErrInvalidPluginName
		}
		if err := c.engine.AddPlugin(def.Name, plugin.UID, plugin.Name); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPluginName, plugin.Name, err)
		}
	}

	logging.Log("config", "created track %q with %d plugins", def.Name, len(def.Plugins))
	return nil
}

// LoadMidi applies the midi section to the MIDI dispatcher.
func (c *Configurator) LoadMidi() error {
	cfg := c.doc.Midi
	if cfg == nil {
		return fmt.Errorf("%w: midi", ErrNoDefinitions)
	}
	if cfg.Inputs < 0 || cfg.Outputs < 0 {
		return fmt.Errorf("%w: negative port count", ErrInvalidMidiPort)
	}
	c.midi.SetMidiInputs(cfg.Inputs)
	c.midi.SetMidiOutputs(cfg.Outputs)

	for _, def := range cfg.TrackConnections {
		var err error
		if def.RawMidi {
			err = c.midi.ConnectRawMidiToTrack(def.Port, def.Track, def.Channel.Channel)
		} else {
			err = c.midi.ConnectKbToTrack(def.Port, def.Track, def.Channel.Channel)
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMidiPort, err)
		}
	}
	for _, def := range cfg.TrackOutConnections {
		if err := c.midi.ConnectTrackToOutput(def.Port, def.Track, def.Channel); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMidiPort, err)
		}
	}
	for _, def := range cfg.CCMappings {
		relative := def.Mode == "relative"
		err := c.midi.ConnectCCToParameter(def.Port, def.PluginName, def.ParameterName,
			def.CCNumber, def.MinRange, def.MaxRange, relative, def.Channel.Channel)
		if err != nil {
			return fmt.Errorf("%w: cc %d: %v", ErrInvalidParameter, def.CCNumber, err)
		}
	}
	for _, def := range cfg.ProgramChangeConnections {
		if err := c.midi.ConnectPCToProcessor(def.Port, def.PluginName, def.Channel.Channel); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidMidiPort, err)
		}
	}
	return nil
}

// LoadCvGate applies the cv_gate section.
func (c *Configurator) LoadCvGate() error {
	cfg := c.doc.CvGate
	if cfg == nil {
		return fmt.Errorf("%w: cv_gate", ErrNoDefinitions)
	}
	for _, def := range cfg.CVInputs {
		if err := c.engine.ConnectCvToParameter(def.Processor, def.Parameter, def.CVPort); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}
	for _, def := range cfg.CVOutputs {
		if err := c.engine.ConnectCvFromParameter(def.Processor, def.Parameter, def.CVPort); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}
	for _, def := range cfg.GateInputs {
		if err := c.engine.ConnectGateToProcessor(def.Processor, def.GatePort, def.Note, def.Channel); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}
	for _, def := range cfg.GateOutputs {
		if err := c.engine.ConnectGateFromProcessor(def.Processor, def.GatePort, def.Note, def.Channel); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidParameter, err)
		}
	}
	return nil
}

// LoadEventList builds the typed events of the events section, ordered as
// written.
func (c *Configurator) LoadEventList() ([]event.Event, error) {
	if len(c.doc.Events) == 0 {
		return nil, fmt.Errorf("%w: events", ErrNoDefinitions)
	}

	events := make([]event.Event, 0, len(c.doc.Events))
	for _, def := range c.doc.Events {
		timestamp := time.Duration(def.Time * float64(time.Second))
		e, err := c.makeEvent(def, timestamp)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (c *Configurator) makeEvent(def eventDef, timestamp time.Duration) (event.Event, error) {
	switch def.Type {
	case "parameter_change":
		var data struct {
			Processor string  `json:"processor"`
			Parameter string  `json:"parameter"`
			Value     float64 `json:"value"`
		}
		if err := json.Unmarshal(def.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		processorID, err := c.engine.ProcessorIDFromName(data.Processor)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPluginName, data.Processor)
		}
		parameterID, err := c.engine.ParameterIDFromName(data.Processor, data.Parameter)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidParameter, data.Parameter)
		}
		return event.NewParameterChangeEvent(processorID, parameterID, data.Value, timestamp), nil
	case "note_on", "note_off":
		var data struct {
			Track    string  `json:"track"`
			Channel  int     `json:"channel"`
			Note     int     `json:"note"`
			Velocity float64 `json:"velocity"`
		}
		if err := json.Unmarshal(def.Data, &data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfiguration, err)
		}
		trackID, err := c.engine.ProcessorIDFromName(data.Track)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTrackName, data.Track)
		}
		subtype := event.NoteOn
		if def.Type == "note_off" {
			subtype = event.NoteOff
		}
		return event.NewKeyboardEvent(subtype, trackID, data.Channel, data.Note, data.Velocity, timestamp), nil
	default:
		return nil, fmt.Errorf("%w: event type %q", ErrInvalidConfiguration, def.Type)
	}
}

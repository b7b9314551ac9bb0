// Package engine contains the realtime audio engine: the per-chunk
// processing pipeline, the event rings connecting it to the non-realtime
// world and the control surface for building the track graph.
package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/event"
	"github.com/duanchangstar/sushi/internal/logging"
	"github.com/duanchangstar/sushi/perf"
	"github.com/duanchangstar/sushi/processors"
	"github.com/duanchangstar/sushi/rt"
	"github.com/duanchangstar/sushi/transport"
)

// maxRtProcessors is the size of the sparse id-indexed realtime processor
// table. Processor ids above this cannot enter the realtime part.
const maxRtProcessors = 1000

// maxTracks bounds the audio graph so realtime insertion never grows it.
const maxTracks = 32

// engineTimingNode is the performance-timer node id for the engine itself.
// Processor ids start at 1, so 0 is free.
const engineTimingNode = 0

// eventTimeout is how long control operations wait for the audio thread to
// acknowledge a returnable event.
const eventTimeout = time.Second

// AudioConnection routes one engine channel to one track channel.
type AudioConnection struct {
	EngineChannel int
	TrackChannel  int
	Track         *processors.Track
}

// CvConnection routes a CV port to a processor parameter.
type CvConnection struct {
	Processor processors.Processor
	Parameter *processors.Parameter
	CVPort    int
}

// GateConnection routes a gate port to note on/off events on a processor.
type GateConnection struct {
	Processor processors.Processor
	GatePort  int
	Note      int
	Channel   int
}

// Engine renders a graph of tracks in fixed-size chunks, driven by an
// audio frontend's callback, while applying mutations that arrive through
// the realtime event rings. Multiple engines may coexist in one process.
type Engine struct {
	sampleRate float64
	rtCores    int

	realtime atomic.Bool

	inputChannels    int
	outputChannels   int
	cvInputChannels  int
	cvOutputChannels int

	// Audio-thread state. Only ProcessChunk and the realtime event
	// handlers touch these.
	audioGraph []*processors.Track
	rtTable    []processors.Processor

	inConnections  []AudioConnection
	outConnections []AudioConnection
	cvInRoutes     []CvConnection
	cvOutRoutes    []CvConnection
	gateInRoutes   []GateConnection
	gateOutRoutes  []GateConnection

	prevGateValues     audio.GateSet
	outgoingGateValues audio.GateSet

	// Non-realtime registry, guarded by mu.
	mu               sync.Mutex
	processorsByName map[string]processors.Processor
	processorsByID   map[uint32]processors.Processor

	// queueMu serialises non-realtime producers of the inbound rings.
	queueMu              sync.Mutex
	internalControlQueue *rt.Fifo
	mainInQueue          *rt.Fifo
	mainOutQueue         *rt.Fifo
	controlOutQueue      *rt.SharedFifo

	receiver   *event.Receiver
	dispatcher *event.Dispatcher
	transport  *transport.Transport
	timer      *perf.Timer
	registry   *processors.Registry
	host       *HostControl

	clipDetector        *ClipDetector
	inputClipDetection  bool
	outputClipDetection bool

	pool *workerPool
}

// New returns an engine at the given sample rate. rtCores is the maximum
// number of cores used for audio processing; 1 renders every track on the
// callback thread, values above 1 spread tracks over a worker pool.
func New(sampleRate float64, rtCores int) *Engine {
	e := &Engine{
		sampleRate:           sampleRate,
		rtCores:              rtCores,
		audioGraph:           make([]*processors.Track, 0, maxTracks),
		rtTable:              make([]processors.Processor, maxRtProcessors),
		processorsByName:     make(map[string]processors.Processor),
		processorsByID:       make(map[uint32]processors.Processor),
		internalControlQueue: rt.NewFifo(),
		mainInQueue:          rt.NewFifo(),
		mainOutQueue:         rt.NewFifo(),
		controlOutQueue:      rt.NewSharedFifo(),
		transport:            transport.New(sampleRate, audio.ChunkSize),
		timer:                perf.NewTimer(),
		registry:             processors.NewRegistry(),
		clipDetector:         NewClipDetector(sampleRate),
	}
	e.receiver = event.NewReceiver(e.controlOutQueue)
	e.dispatcher = event.NewDispatcher(e, e, e.mainOutQueue)
	e.host = &HostControl{dispatcher: e.dispatcher, transport: e.transport}
	e.timer.SetTimingPeriod(sampleRate, audio.ChunkSize)
	registerInternalPlugins(e.registry)
	if rtCores > 1 {
		e.pool = newWorkerPool(rtCores, e.timer)
	}
	return e
}

// Close releases the worker pool and stops background services.
func (e *Engine) Close() {
	if e.pool != nil {
		e.pool.close()
	}
	e.timer.Enable(false)
}

// SampleRate returns the configured sample rate.
func (e *Engine) SampleRate() float64 {
	return e.sampleRate
}

// SetSampleRate reconfigures the engine and every registered processor.
func (e *Engine) SetSampleRate(sampleRate float64) {
	e.sampleRate = sampleRate
	e.transport.SetSampleRate(sampleRate)
	e.timer.SetTimingPeriod(sampleRate, audio.ChunkSize)
	e.clipDetector.SetSampleRate(sampleRate)
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.processorsByName {
		if err := p.Configure(sampleRate); err != nil {
			logging.Log("engine", "reconfigure %s: %v", p.Name(), err)
		}
	}
}

// SetAudioInputChannels sets the number of engine input channels. Called by
// the audio frontend before processing starts.
func (e *Engine) SetAudioInputChannels(channels int) {
	e.inputChannels = channels
	e.clipDetector.SetInputChannels(channels)
}

// SetAudioOutputChannels sets the number of engine output channels.
func (e *Engine) SetAudioOutputChannels(channels int) {
	e.outputChannels = channels
	e.clipDetector.SetOutputChannels(channels)
}

// SetCvInputChannels sets the number of CV input ports.
func (e *Engine) SetCvInputChannels(channels int) error {
	if channels < 0 || channels > audio.MaxCVPorts {
		return fmt.Errorf("%w: %d cv inputs", ErrInvalidChannel, channels)
	}
	e.cvInputChannels = channels
	return nil
}

// SetCvOutputChannels sets the number of CV output ports.
func (e *Engine) SetCvOutputChannels(channels int) error {
	if channels < 0 || channels > audio.MaxCVPorts {
		return fmt.Errorf("%w: %d cv outputs", ErrInvalidChannel, channels)
	}
	e.cvOutputChannels = channels
	return nil
}

// Realtime reports whether the engine is in realtime mode, i.e. whether
// ProcessChunk is assumed to be called from a realtime thread.
func (e *Engine) Realtime() bool {
	return e.realtime.Load()
}

// EnableRealtime switches realtime mode. With realtime enabled, graph
// mutations are serialised through the event rings instead of touching
// audio-thread state directly.
func (e *Engine) EnableRealtime(enabled bool) {
	e.realtime.Store(enabled)
}

// EnableInputClipDetection toggles clip detection on engine inputs.
func (e *Engine) EnableInputClipDetection(enabled bool) {
	e.inputClipDetection = enabled
}

// EnableOutputClipDetection toggles clip detection on engine outputs.
func (e *Engine) EnableOutputClipDetection(enabled bool) {
	e.outputClipDetection = enabled
}

// Dispatcher returns the engine's event dispatcher.
func (e *Engine) Dispatcher() *event.Dispatcher {
	return e.dispatcher
}

// Transport returns the engine transport.
func (e *Engine) Transport() *transport.Transport {
	return e.transport
}

// PerformanceTimer returns the engine's performance timer.
func (e *Engine) PerformanceTimer() *perf.Timer {
	return e.timer
}

// HostControl returns the context object handed to processors.
func (e *Engine) HostControl() *HostControl {
	return e.host
}

// Registry returns the internal plugin registry.
func (e *Engine) Registry() *processors.Registry {
	return e.registry
}

// UpdateTime sets the wall-clock time and sample count for the chunk about
// to be processed. Called by the audio frontend at the head of each chunk.
func (e *Engine) UpdateTime(timestamp time.Duration, samples int64) {
	e.transport.SetTime(timestamp, samples)
}

// SetOutputLatency informs the transport of the driver stack latency.
func (e *Engine) SetOutputLatency(latency time.Duration) {
	e.transport.SetLatency(latency)
}

// SendRtEvent processes an event directly on the realtime thread. In a
// realtime setup this must be called from the audio callback thread.
func (e *Engine) SendRtEvent(ev rt.Event) {
	e.handleRtEvent(ev)
}

// SendAsyncEvent queues an event for the realtime thread from a
// non-realtime context. Returns ErrQueueFull if the ring rejects it; the
// caller may retry at the next tick.
func (e *Engine) SendAsyncEvent(ev rt.Event) error {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()
	if !e.mainInQueue.Push(ev) {
		return ErrQueueFull
	}
	return nil
}

// sendControlEvent queues an engine-internal returnable event and waits for
// the audio thread to acknowledge it.
func (e *Engine) sendControlEvent(ev rt.Event) error {
	e.queueMu.Lock()
	ok := e.internalControlQueue.Push(ev)
	e.queueMu.Unlock()
	if !ok {
		return ErrQueueFull
	}
	if !e.receiver.WaitForResponse(ev.EventID, eventTimeout) {
		return ErrTimeout
	}
	return nil
}

// ProcessorIDFromName returns the unique id of a named processor.
func (e *Engine) ProcessorIDFromName(name string) (uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processorsByName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return p.ID(), nil
}

// ProcessorNameFromID returns the unique name of a processor id.
func (e *Engine) ProcessorNameFromID(id uint32) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processorsByID[id]
	if !ok {
		return "", fmt.Errorf("%w: id %d", ErrInvalidName, id)
	}
	return p.Name(), nil
}

// ParameterIDFromName returns the id of a parameter on a named processor.
func (e *Engine) ParameterIDFromName(processorName, parameterName string) (uint32, error) {
	p, err := e.processor(processorName)
	if err != nil {
		return 0, err
	}
	param := p.ParameterByName(parameterName)
	if param == nil {
		return 0, fmt.Errorf("%w: parameter %q", ErrInvalidName, parameterName)
	}
	return param.ID(), nil
}

// Processor returns the processor with the given id for querying.
func (e *Engine) Processor(id uint32) processors.Processor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.processorsByID[id]
}

// AllProcessors returns a snapshot of every registered processor by name.
func (e *Engine) AllProcessors() map[string]processors.Processor {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]processors.Processor, len(e.processorsByName))
	for name, p := range e.processorsByName {
		out[name] = p
	}
	return out
}

// AllTracks returns the audio graph in processing order.
func (e *Engine) AllTracks() []*processors.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*processors.Track, len(e.audioGraph))
	copy(out, e.audioGraph)
	return out
}

// RtProcessorCount returns the number of occupied realtime table slots.
func (e *Engine) RtProcessorCount() int {
	n := 0
	for _, p := range e.rtTable {
		if p != nil {
			n++
		}
	}
	return n
}

func (e *Engine) processor(name string) (processors.Processor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.processorsByName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return p, nil
}

func (e *Engine) track(name string) (*processors.Track, error) {
	p, err := e.processor(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTrack, name)
	}
	track, ok := p.(*processors.Track)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a track", ErrInvalidTrack, name)
	}
	return track, nil
}

func (e *Engine) registerProcessor(p processors.Processor, name string) error {
	if name == "" {
		return ErrInvalidName
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.processorsByName[name]; exists {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	p.SetName(name)
	e.processorsByName[name] = p
	e.processorsByID[p.ID()] = p
	return nil
}

func (e *Engine) deregisterProcessor(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.processorsByName[name]; ok {
		delete(e.processorsByID, p.ID())
		delete(e.processorsByName, name)
	}
}

// CreateTrack creates an empty track with the given channel count on both
// sides and inserts it into the audio graph.
func (e *Engine) CreateTrack(name string, channelCount int) error {
	return e.addTrack(name, processors.NewTrack(channelCount))
}

// CreateMultibusTrack creates an empty track with the given number of
// input and output stereo pairs.
func (e *Engine) CreateMultibusTrack(name string, inputBusses, outputBusses int) error {
	return e.addTrack(name, processors.NewMultibusTrack(inputBusses, outputBusses))
}

func (e *Engine) addTrack(name string, track *processors.Track) error {
	if err := e.registerProcessor(track, name); err != nil {
		return err
	}
	if err := track.Configure(e.sampleRate); err != nil {
		e.deregisterProcessor(name)
		return fmt.Errorf("%w: %v", ErrInvalidTrack, err)
	}

	if e.Realtime() {
		if err := e.sendControlEvent(rt.NewAddTrackEvent(track)); err != nil {
			e.deregisterProcessor(name)
			return err
		}
		return nil
	}

	if !e.insertTrackRt(track) {
		e.deregisterProcessor(name)
		return ErrInvalidTrack
	}
	return nil
}

// DeleteTrack removes an empty track from the engine.
func (e *Engine) DeleteTrack(name string) error {
	track, err := e.track(name)
	if err != nil {
		return err
	}
	if len(track.Processors()) > 0 {
		return fmt.Errorf("%w: %q is not empty", ErrInvalidTrack, name)
	}

	if e.Realtime() {
		if err := e.sendControlEvent(rt.NewRemoveTrackEvent(track.ID())); err != nil {
			return err
		}
	} else if !e.removeTrackRt(track.ID()) {
		return fmt.Errorf("%w: %q not in graph", ErrInvalidTrack, name)
	}

	e.deregisterProcessor(name)
	return nil
}

// AddPlugin instantiates an internal plugin by uid, names it and appends it
// to the named track's chain.
func (e *Engine) AddPlugin(trackName, uid, name string) error {
	track, err := e.track(trackName)
	if err != nil {
		return err
	}

	plugin, err := e.registry.New(uid)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPluginUID, uid)
	}
	plugin.SetInputChannels(track.InputChannels())
	plugin.SetOutputChannels(track.OutputChannels())
	if err := plugin.Configure(e.sampleRate); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPlugin, err)
	}
	if aware, ok := plugin.(HostAware); ok {
		aware.SetHostControl(e.host)
	}

	if err := e.registerProcessor(plugin, name); err != nil {
		return err
	}

	if e.Realtime() {
		if err := e.sendControlEvent(rt.NewInsertProcessorEvent(plugin)); err != nil {
			e.deregisterProcessor(name)
			return err
		}
		if err := e.sendControlEvent(rt.NewAddProcessorToTrackEvent(plugin.ID(), track.ID())); err != nil {
			e.sendControlEvent(rt.NewRemoveProcessorEvent(plugin.ID()))
			e.deregisterProcessor(name)
			return err
		}
		return nil
	}

	if !e.insertProcessorRt(plugin) || !track.AddProcessor(plugin) {
		e.deregisterProcessor(name)
		return ErrInvalidPlugin
	}
	return nil
}

// RemovePlugin removes a named plugin from a track and deletes it.
func (e *Engine) RemovePlugin(trackName, name string) error {
	track, err := e.track(trackName)
	if err != nil {
		return err
	}
	plugin, err := e.processor(name)
	if err != nil {
		return err
	}

	if e.Realtime() {
		if err := e.sendControlEvent(rt.NewRemoveProcessorFromTrackEvent(plugin.ID(), track.ID())); err != nil {
			return err
		}
		if err := e.sendControlEvent(rt.NewRemoveProcessorEvent(plugin.ID())); err != nil {
			return err
		}
	} else {
		if !track.RemoveProcessor(plugin.ID()) {
			return fmt.Errorf("%w: %q not on track %q", ErrInvalidPlugin, name, trackName)
		}
		e.rtTable[plugin.ID()] = nil
	}

	e.deregisterProcessor(name)
	return nil
}

// ConnectAudioInputChannel routes an engine input channel to a track input
// channel. Not safe to call while the engine is processing.
func (e *Engine) ConnectAudioInputChannel(inputChannel, trackChannel int, trackName string) error {
	track, err := e.track(trackName)
	if err != nil {
		return err
	}
	if inputChannel < 0 || inputChannel >= e.inputChannels {
		return fmt.Errorf("%w: engine input %d", ErrInvalidChannel, inputChannel)
	}
	if trackChannel < 0 || trackChannel >= track.InputChannels() {
		return fmt.Errorf("%w: track channel %d", ErrInvalidChannel, trackChannel)
	}
	e.inConnections = append(e.inConnections,
		AudioConnection{EngineChannel: inputChannel, TrackChannel: trackChannel, Track: track})
	return nil
}

// ConnectAudioOutputChannel routes a track output channel to an engine
// output channel. Multiple tracks may feed one engine channel; their
// outputs are summed.
func (e *Engine) ConnectAudioOutputChannel(outputChannel, trackChannel int, trackName string) error {
	track, err := e.track(trackName)
	if err != nil {
		return err
	}
	if outputChannel < 0 || outputChannel >= e.outputChannels {
		return fmt.Errorf("%w: engine output %d", ErrInvalidChannel, outputChannel)
	}
	if trackChannel < 0 || trackChannel >= track.OutputChannels() {
		return fmt.Errorf("%w: track channel %d", ErrInvalidChannel, trackChannel)
	}
	e.outConnections = append(e.outConnections,
		AudioConnection{EngineChannel: outputChannel, TrackChannel: trackChannel, Track: track})
	return nil
}

// ConnectAudioInputBus routes an engine input stereo pair to a track input
// bus: bus 0 covers channels 0-1, bus 1 channels 2-3 and so on.
func (e *Engine) ConnectAudioInputBus(inputBus, trackBus int, trackName string) error {
	for side := 0; side < 2; side++ {
		err := e.ConnectAudioInputChannel(inputBus*2+side, trackBus*2+side, trackName)
		if err != nil {
			return err
		}
	}
	return nil
}

// ConnectAudioOutputBus routes a track output bus to an engine output
// stereo pair.
func (e *Engine) ConnectAudioOutputBus(outputBus, trackBus int, trackName string) error {
	for side := 0; side < 2; side++ {
		err := e.ConnectAudioOutputChannel(outputBus*2+side, trackBus*2+side, trackName)
		if err != nil {
			return err
		}
	}
	return nil
}

// ConnectCvToParameter routes a CV input port to a processor parameter.
// Each chunk the CV sample is quantised to the parameter range and sent as
// a parameter change.
func (e *Engine) ConnectCvToParameter(processorName, parameterName string, cvInputID int) error {
	if cvInputID < 0 || cvInputID >= e.cvInputChannels {
		return fmt.Errorf("%w: cv input %d", ErrInvalidChannel, cvInputID)
	}
	p, err := e.processor(processorName)
	if err != nil {
		return err
	}
	param := p.ParameterByName(parameterName)
	if param == nil {
		return fmt.Errorf("%w: parameter %q", ErrInvalidName, parameterName)
	}
	e.cvInRoutes = append(e.cvInRoutes, CvConnection{Processor: p, Parameter: param, CVPort: cvInputID})
	return nil
}

// ConnectCvFromParameter routes a processor parameter to a CV output port,
// sampled once per chunk.
func (e *Engine) ConnectCvFromParameter(processorName, parameterName string, cvOutputID int) error {
	if cvOutputID < 0 || cvOutputID >= e.cvOutputChannels {
		return fmt.Errorf("%w: cv output %d", ErrInvalidChannel, cvOutputID)
	}
	p, err := e.processor(processorName)
	if err != nil {
		return err
	}
	param := p.ParameterByName(parameterName)
	if param == nil {
		return fmt.Errorf("%w: parameter %q", ErrInvalidName, parameterName)
	}
	e.cvOutRoutes = append(e.cvOutRoutes, CvConnection{Processor: p, Parameter: param, CVPort: cvOutputID})
	return nil
}

// ConnectGateToProcessor routes a gate input port to note on/off events on
// a processor with the given note number and channel.
func (e *Engine) ConnectGateToProcessor(processorName string, gateInputID, note, channel int) error {
	if gateInputID < 0 || gateInputID >= 32 {
		return fmt.Errorf("%w: gate input %d", ErrInvalidChannel, gateInputID)
	}
	p, err := e.processor(processorName)
	if err != nil {
		return err
	}
	e.gateInRoutes = append(e.gateInRoutes,
		GateConnection{Processor: p, GatePort: gateInputID, Note: note, Channel: channel})
	return nil
}

// ConnectGateFromProcessor converts note on/off events emitted by a
// processor on the given note and channel into a gate output.
func (e *Engine) ConnectGateFromProcessor(processorName string, gateOutputID, note, channel int) error {
	if gateOutputID < 0 || gateOutputID >= 32 {
		return fmt.Errorf("%w: gate output %d", ErrInvalidChannel, gateOutputID)
	}
	p, err := e.processor(processorName)
	if err != nil {
		return err
	}
	e.gateOutRoutes = append(e.gateOutRoutes,
		GateConnection{Processor: p, GatePort: gateOutputID, Note: note, Channel: channel})
	return nil
}

// ConnectGateToSync uses a gate input as transport sync. Not implemented.
func (e *Engine) ConnectGateToSync(gateInputID, ppqTicks int) error {
	return ErrNotSupported
}

// ConnectSyncToGate sends transport sync pulses on a gate output. Not
// implemented.
func (e *Engine) ConnectSyncToGate(gateOutputID, ppqTicks int) error {
	return ErrNotSupported
}

// SetTempo sets the engine tempo. Non-realtime; takes effect at the next
// chunk boundary.
func (e *Engine) SetTempo(tempo float64) {
	if e.Realtime() {
		e.queueMu.Lock()
		e.internalControlQueue.Push(rt.NewTempoEvent(tempo))
		e.queueMu.Unlock()
		return
	}
	e.transport.SetTempo(tempo)
}

// SetTimeSignature sets the engine time signature. Non-realtime.
func (e *Engine) SetTimeSignature(signature transport.TimeSignature) {
	if e.Realtime() {
		e.queueMu.Lock()
		e.internalControlQueue.Push(rt.NewTimeSignatureEvent(signature))
		e.queueMu.Unlock()
		return
	}
	e.transport.SetTimeSignature(signature)
}

// SetTransportMode sets the play state. Non-realtime.
func (e *Engine) SetTransportMode(mode transport.PlayingMode) {
	if e.Realtime() {
		e.queueMu.Lock()
		e.internalControlQueue.Push(rt.NewPlayingModeEvent(mode))
		e.queueMu.Unlock()
		return
	}
	e.transport.SetPlayingMode(mode)
}

// SetTempoSyncMode sets the tempo synchronisation mode. Non-realtime.
func (e *Engine) SetTempoSyncMode(mode transport.SyncMode) {
	if e.Realtime() {
		e.queueMu.Lock()
		e.internalControlQueue.Push(rt.NewSyncModeEvent(mode))
		e.queueMu.Unlock()
		return
	}
	e.transport.SetSyncMode(mode)
}

// ProcessChunk renders one chunk from in to out, routing CV and gate data
// through the control buffers. Called from the audio callback; never
// allocates, locks a non-realtime mutex or blocks.
func (e *Engine) ProcessChunk(in, out *audio.SampleBuffer, cvIn, cvOut *audio.ControlBuffer) {
	engineStart := e.timer.Start()

	// 1-2: drain the inbound rings. Engine-internal events mutate engine
	// and transport state; the rest is routed to the addressed processor.
	for {
		ev, ok := e.internalControlQueue.Pop()
		if !ok {
			break
		}
		e.handleRtEvent(ev)
	}
	for {
		ev, ok := e.mainInQueue.Pop()
		if !ok {
			break
		}
		e.handleRtEvent(ev)
	}

	// 3: CV in.
	for i := range e.cvInRoutes {
		route := &e.cvInRoutes[i]
		value := route.Parameter.FromCV(cvIn.CV[route.CVPort])
		route.Processor.ProcessEvent(rt.NewParameterChangeEvent(
			route.Processor.ID(), route.Parameter.ID(), 0, value))
	}

	// 4: gate in. Only lines that changed since the previous chunk fire.
	changed := cvIn.Gates.Changed(e.prevGateValues)
	if changed != 0 {
		for i := range e.gateInRoutes {
			route := &e.gateInRoutes[i]
			if !changed.Get(route.GatePort) {
				continue
			}
			if cvIn.Gates.Get(route.GatePort) {
				route.Processor.ProcessEvent(rt.NewNoteOnEvent(
					route.Processor.ID(), 0, route.Channel, route.Note, 1.0))
			} else {
				route.Processor.ProcessEvent(rt.NewNoteOffEvent(
					route.Processor.ID(), 0, route.Channel, route.Note, 0.0))
			}
		}
	}
	e.prevGateValues = cvIn.Gates

	// 5: input clip detection.
	if e.inputClipDetection {
		e.clipDetector.Detect(in, e.mainOutQueue, true)
	}

	// 6: copy engine inputs into track input buffers.
	for i := range e.audioGraph {
		e.audioGraph[i].InputBuffer().Clear()
	}
	for i := range e.inConnections {
		c := &e.inConnections[i]
		copy(c.Track.InputBuffer().Channel(c.TrackChannel), in.Channel(c.EngineChannel))
	}

	// 7: process the audio graph.
	if e.pool != nil && len(e.audioGraph) > 1 {
		e.pool.process(e.audioGraph)
	} else {
		for _, track := range e.audioGraph {
			start := e.timer.Start()
			track.Render()
			e.timer.StopFor(start, int(track.ID()))
		}
	}

	// 8: mix track outputs into engine outputs, summing shared channels.
	out.Clear()
	for i := range e.outConnections {
		c := &e.outConnections[i]
		vecmath.AddBlockInPlace(out.Channel(c.EngineChannel), c.Track.OutputBuffer().Channel(c.TrackChannel))
	}

	// 9 & 11: CV out, gate out and forwarding of processor out-queues.
	for i := range e.cvOutRoutes {
		route := &e.cvOutRoutes[i]
		cvOut.CV[route.CVPort] = route.Parameter.ToCV()
	}
	for _, track := range e.audioGraph {
		track.DrainOutputEvents(e.routeOutgoingEvent)
	}
	cvOut.Gates = e.outgoingGateValues

	// 10: output clip detection.
	if e.outputClipDetection {
		e.clipDetector.Detect(out, e.mainOutQueue, false)
	}

	// 12: advance the transport to the start of the next chunk. A frontend
	// calling UpdateTime at the next chunk head overrides this with its
	// authoritative clock.
	chunkTime := time.Duration(float64(audio.ChunkSize) / e.sampleRate * float64(time.Second))
	e.transport.SetTime(e.transport.CurrentProcessTime()-e.transport.Latency()+chunkTime,
		e.transport.CurrentSamples()+audio.ChunkSize)

	e.timer.StopFor(engineStart, engineTimingNode)
}

// routeOutgoingEvent sends a processor-emitted event to the gate outputs if
// a matching route exists, otherwise to the main-out ring.
func (e *Engine) routeOutgoingEvent(ev rt.Event) {
	if ev.Type == rt.TypeNoteOn || ev.Type == rt.TypeNoteOff {
		for i := range e.gateOutRoutes {
			route := &e.gateOutRoutes[i]
			if route.Processor.ID() == ev.ProcessorID &&
				route.Note == ev.Note && route.Channel == ev.Channel {
				e.outgoingGateValues = e.outgoingGateValues.Set(route.GatePort, ev.Type == rt.TypeNoteOn)
				return
			}
		}
	}
	e.mainOutQueue.Push(ev)
}

// handleRtEvent applies an engine-internal event or routes it to the
// addressed processor. Audio thread only.
func (e *Engine) handleRtEvent(ev rt.Event) {
	switch ev.Type {
	case rt.TypeTempo:
		e.transport.SetTempo(ev.Tempo)
	case rt.TypeTimeSignature:
		e.transport.SetTimeSignature(ev.TimeSignature)
	case rt.TypePlayingMode:
		e.transport.SetPlayingMode(ev.PlayingMode)
	case rt.TypeSyncMode:
		e.transport.SetSyncMode(ev.SyncMode)
	case rt.TypeStopEngine:
		e.realtime.Store(false)
		e.controlOutQueue.Push(rt.CompletionOf(&ev, rt.HandledOK))
	case rt.TypeInsertProcessor:
		status := rt.HandledError
		if p, ok := ev.Payload.(processors.Processor); ok && e.insertProcessorRt(p) {
			status = rt.HandledOK
		}
		e.controlOutQueue.Push(rt.CompletionOf(&ev, status))
	case rt.TypeRemoveProcessor:
		status := rt.HandledError
		if ev.ProcessorID < maxRtProcessors && e.rtTable[ev.ProcessorID] != nil {
			e.rtTable[ev.ProcessorID] = nil
			status = rt.HandledOK
		}
		e.controlOutQueue.Push(rt.CompletionOf(&ev, status))
	case rt.TypeAddTrack:
		status := rt.HandledError
		if track, ok := ev.Payload.(*processors.Track); ok && e.insertTrackRt(track) {
			status = rt.HandledOK
		}
		e.controlOutQueue.Push(rt.CompletionOf(&ev, status))
	case rt.TypeRemoveTrack:
		status := rt.HandledError
		if e.removeTrackRt(ev.ProcessorID) {
			status = rt.HandledOK
		}
		e.controlOutQueue.Push(rt.CompletionOf(&ev, status))
	case rt.TypeAddProcessorToTrack:
		e.controlOutQueue.Push(rt.CompletionOf(&ev, e.addToTrackRt(ev.ProcessorID, ev.ParameterID)))
	case rt.TypeRemoveProcessorFromTrack:
		e.controlOutQueue.Push(rt.CompletionOf(&ev, e.removeFromTrackRt(ev.ProcessorID, ev.ParameterID)))
	case rt.TypeAsyncWork:
		// Forward the request to the background worker via the main-out
		// ring; the completion returns as TypeAsyncWorkCompletion.
		e.mainOutQueue.Push(ev)
	default:
		if ev.ProcessorID < maxRtProcessors {
			if p := e.rtTable[ev.ProcessorID]; p != nil {
				p.ProcessEvent(ev)
			}
		}
	}
}

func (e *Engine) insertProcessorRt(p processors.Processor) bool {
	id := p.ID()
	if id >= maxRtProcessors || e.rtTable[id] != nil {
		return false
	}
	e.rtTable[id] = p
	return true
}

func (e *Engine) insertTrackRt(track *processors.Track) bool {
	if len(e.audioGraph) == cap(e.audioGraph) {
		return false
	}
	if !e.insertProcessorRt(track) {
		return false
	}
	e.audioGraph = append(e.audioGraph, track)
	return true
}

func (e *Engine) removeTrackRt(id uint32) bool {
	for i, track := range e.audioGraph {
		if track.ID() == id {
			copy(e.audioGraph[i:], e.audioGraph[i+1:])
			e.audioGraph = e.audioGraph[:len(e.audioGraph)-1]
			e.rtTable[id] = nil
			return true
		}
	}
	return false
}

func (e *Engine) addToTrackRt(processorID, trackID uint32) int {
	if processorID >= maxRtProcessors || trackID >= maxRtProcessors {
		return rt.HandledError
	}
	track, ok := e.rtTable[trackID].(*processors.Track)
	if !ok {
		return rt.HandledError
	}
	p := e.rtTable[processorID]
	if p == nil || !track.AddProcessor(p) {
		return rt.HandledError
	}
	return rt.HandledOK
}

func (e *Engine) removeFromTrackRt(processorID, trackID uint32) int {
	if processorID >= maxRtProcessors || trackID >= maxRtProcessors {
		return rt.HandledError
	}
	track, ok := e.rtTable[trackID].(*processors.Track)
	if !ok || !track.RemoveProcessor(processorID) {
		return rt.HandledError
	}
	return rt.HandledOK
}

// PrintTimingsToLog writes the aggregated per-node timings through the
// logging package.
func (e *Engine) PrintTimingsToLog() {
	timings := e.timer.AllTimings()
	for id, t := range timings {
		name := "engine"
		if id != engineTimingNode {
			if n, err := e.ProcessorNameFromID(uint32(id)); err == nil {
				name = n
			} else {
				name = fmt.Sprintf("node %d", id)
			}
		}
		logging.Log("timings", "%-20s avg: %.3f%% min: %.3f%% max: %.3f%%",
			name, t.Avg*100, t.Min*100, t.Max*100)
	}
}

// Package transport keeps musical time for the engine: sample position,
// tempo, time signature, play state and the derived beat counters that
// processors query during a chunk.
package transport

import "time"

// DefaultTempo is the tempo in beats per minute a new Transport starts with.
const DefaultTempo = 120.0

// PlayingMode describes the play state of the transport.
type PlayingMode int

const (
	Stopped PlayingMode = iota
	Playing
	Recording
)

func (m PlayingMode) String() string {
	switch m {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Recording:
		return "recording"
	}
	return "unknown"
}

// SyncMode describes how tempo and beat position are synchronised.
type SyncMode int

const (
	Internal SyncMode = iota
	MidiSlave
	AbletonLink
)

func (m SyncMode) String() string {
	switch m {
	case Internal:
		return "internal"
	case MidiSlave:
		return "midi"
	case AbletonLink:
		return "link"
	}
	return "unknown"
}

// TimeSignature is a musical time signature, e.g. 4/4 or 6/8.
type TimeSignature struct {
	Numerator   int
	Denominator int
}

// Transport tracks time, tempo and start/stop inside the engine.
//
// SetTime is called from the audio thread at the head of every chunk; the
// tempo, signature and mode setters are likewise only correct to call from
// the audio thread (non-realtime callers route through the event plane).
// The query methods are safe from any thread but return approximate values
// when called outside the audio thread.
type Transport struct {
	sampleCount       int64
	time              time.Duration
	latency           time.Duration
	tempo             float64
	currentBarBeats   float64
	beatCount         float64
	barStartBeatCount float64
	beatsPerChunk     float64
	beatsPerBar       float64
	sampleRate        float64
	chunkSize         int
	syncMode          SyncMode
	signature         TimeSignature
	mode              PlayingMode
}

// New returns a Transport at the given sample rate and chunk size, with
// default tempo, 4/4 time and the playing mode engaged.
func New(sampleRate float64, chunkSize int) *Transport {
	t := &Transport{
		tempo:      DefaultTempo,
		sampleRate: sampleRate,
		chunkSize:  chunkSize,
		signature:  TimeSignature{4, 4},
		mode:       Playing,
	}
	t.updateInternals()
	return t
}

// SetTime sets the current time and sample count for the start of the chunk
// about to be processed and advances the beat counters accordingly. The
// advance is derived from the sample-count delta, so the engine's own
// end-of-chunk advance and a frontend's authoritative update compose
// without counting a chunk twice.
func (t *Transport) SetTime(timestamp time.Duration, samples int64) {
	t.time = timestamp + t.latency
	delta := samples - t.sampleCount
	t.sampleCount = samples

	if delta <= 0 || t.sampleRate <= 0 {
		return
	}
	beats := t.tempo / 60.0 * float64(delta) / t.sampleRate
	t.beatCount += beats
	t.currentBarBeats += beats
	if t.currentBarBeats >= t.beatsPerBar {
		for t.currentBarBeats >= t.beatsPerBar {
			t.currentBarBeats -= t.beatsPerBar
		}
		t.barStartBeatCount = t.beatCount - t.currentBarBeats
	}
}

// SetLatency sets the output latency, i.e. the time it takes for audio to
// travel through the driver stack to a physical output. Called by the audio
// frontend.
func (t *Transport) SetLatency(outputLatency time.Duration) {
	t.latency = outputLatency
}

// Latency returns the configured output latency.
func (t *Transport) Latency() time.Duration {
	return t.latency
}

// SetSampleRate sets the sample rate the engine is running at.
func (t *Transport) SetSampleRate(sampleRate float64) {
	t.sampleRate = sampleRate
	t.updateInternals()
}

// SetTempo sets the tempo in beats (quarter notes) per minute.
func (t *Transport) SetTempo(tempo float64) {
	t.tempo = tempo
	t.updateInternals()
}

// SetTimeSignature sets the time signature used by the engine.
func (t *Transport) SetTimeSignature(signature TimeSignature) {
	t.signature = signature
	t.updateInternals()
}

// SetPlayingMode sets the play state, i.e. playing, stopped or recording.
func (t *Transport) SetPlayingMode(mode PlayingMode) {
	t.mode = mode
}

// SetSyncMode sets the mode of synchronising tempo and beats.
func (t *Transport) SetSyncMode(mode SyncMode) {
	t.syncMode = mode
}

// CurrentProcessTime returns the time at which sample 0 of the current chunk
// will appear on an output.
func (t *Transport) CurrentProcessTime() time.Duration {
	return t.time
}

// CurrentSamples returns the total number of samples passed before sample 0
// of the current chunk. Monotonic non-decreasing.
func (t *Transport) CurrentSamples() int64 {
	return t.sampleCount
}

// CurrentTempo returns the tempo in beats per minute.
func (t *Transport) CurrentTempo() float64 {
	return t.tempo
}

// CurrentTimeSignature returns the time signature in use.
func (t *Transport) CurrentTimeSignature() TimeSignature {
	return t.signature
}

// PlayingMode returns the current play state.
func (t *Transport) PlayingMode() PlayingMode {
	return t.mode
}

// SyncMode returns the current synchronisation mode.
func (t *Transport) SyncMode() SyncMode {
	return t.syncMode
}

// Playing reports whether the transport is running. Stopped here means that
// audio still flows but sequencers and similar should hold their position.
func (t *Transport) Playing() bool {
	return t.mode != Stopped
}

// CurrentBarBeats returns the position in quarter notes within the current
// bar at the given sample offset from the start of the chunk. For 4/4 time
// the value is in [0, 4), for 6/8 time in [0, 3).
func (t *Transport) CurrentBarBeats(sampleOffset int) float64 {
	offset := t.beatsPerChunk * float64(sampleOffset) / float64(t.chunkSize)
	beats := t.currentBarBeats + offset
	if beats >= t.beatsPerBar {
		beats -= t.beatsPerBar
	}
	return beats
}

// CurrentBeats returns the continuous, monotonically increasing position in
// quarter notes at the given sample offset from the start of the chunk.
func (t *Transport) CurrentBeats(sampleOffset int) float64 {
	return t.beatCount + t.beatsPerChunk*float64(sampleOffset)/float64(t.chunkSize)
}

// CurrentBarStartBeats returns the position, in quarter notes, of the start
// of the current bar.
func (t *Transport) CurrentBarStartBeats() float64 {
	return t.barStartBeatCount
}

func (t *Transport) updateInternals() {
	if t.sampleRate > 0 {
		t.beatsPerChunk = t.tempo / 60.0 * float64(t.chunkSize) / t.sampleRate
	}
	// Quarter notes per bar, e.g. 4 in 4/4, 3 in 6/8.
	t.beatsPerBar = 4.0 * float64(t.signature.Numerator) / float64(t.signature.Denominator)
}

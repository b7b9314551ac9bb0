package engine

import (
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/rt"
)

// ClipDetector scans engine input and output buffers for samples above full
// scale and pushes clipping notifications to the outbound ring. To avoid
// flooding the ring it fires at most once per interval (one second of
// samples) per channel.
type ClipDetector struct {
	interval        int64
	inputCountdown  []int64
	outputCountdown []int64
}

// NewClipDetector returns a detector for the given sample rate.
func NewClipDetector(sampleRate float64) *ClipDetector {
	d := &ClipDetector{}
	d.SetSampleRate(sampleRate)
	return d
}

// SetSampleRate updates the notification interval to one second of samples.
func (d *ClipDetector) SetSampleRate(sampleRate float64) {
	d.interval = int64(sampleRate)
}

// SetInputChannels sizes the per-channel state for engine inputs.
func (d *ClipDetector) SetInputChannels(channels int) {
	d.inputCountdown = make([]int64, channels)
}

// SetOutputChannels sizes the per-channel state for engine outputs.
func (d *ClipDetector) SetOutputChannels(channels int) {
	d.outputCountdown = make([]int64, channels)
}

// Detect scans buffer for clipped samples and pushes one notification per
// clipping channel, rate-limited per channel. audioInput selects whether
// the buffer holds engine input or output. Realtime-safe.
func (d *ClipDetector) Detect(buffer *audio.SampleBuffer, queue *rt.Fifo, audioInput bool) {
	countdown := d.outputCountdown
	kind := rt.ClipChannelOutput
	if audioInput {
		countdown = d.inputCountdown
		kind = rt.ClipChannelInput
	}

	channels := buffer.ChannelCount()
	if channels > len(countdown) {
		channels = len(countdown)
	}
	for ch := 0; ch < channels; ch++ {
		if countdown[ch] > 0 {
			countdown[ch] -= audio.ChunkSize
			continue
		}
		if vecmath.MaxAbs(buffer.Channel(ch)) > 1.0 {
			queue.Push(rt.NewClipNotificationEvent(ch, kind))
			countdown[ch] = d.interval
		}
	}
}

// Package bitcrusher provides a lo-fi internal plugin combining bit-depth
// quantisation with sample-and-hold downsampling.
package bitcrusher

import (
	"math"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/processors"
)

// UID identifies the plugin in the internal registry.
const UID = "sushi.bitcrusher"

const maxChannels = 8

// Plugin reduces bit depth and effective sample rate. Quantisation snaps
// samples to a grid of 2^(bits-1) levels; downsampling holds each quantised
// value for N consecutive samples. With bit depth 32 and factor 1 the
// plugin is transparent.
type Plugin struct {
	processors.Base

	bitDepth   *processors.Parameter
	downsample *processors.Parameter
	mix        *processors.Parameter

	holdCounter [maxChannels]int
	holdValue   [maxChannels]float64
}

// New returns a bit crusher at 8-bit depth with no downsampling and a fully
// wet mix.
func New() (processors.Processor, error) {
	p := &Plugin{Base: processors.NewBase("Bit Crusher")}
	p.bitDepth = p.RegisterParameter(processors.NewParameter("bit_depth", processors.FloatParameter, 1, 32, 8))
	p.downsample = p.RegisterParameter(processors.NewParameter("downsample", processors.IntParameter, 1, 256, 1))
	p.mix = p.RegisterParameter(processors.NewParameter("mix", processors.FloatParameter, 0, 1, 1))
	return p, nil
}

// ProcessAudio crushes each channel independently with per-channel hold
// state.
func (p *Plugin) ProcessAudio(in, out *audio.SampleBuffer) {
	quantLevels := math.Exp2(p.bitDepth.Value() - 1)
	downsample := p.downsample.IntValue()
	mix := p.mix.Value()

	channels := in.ChannelCount()
	if out.ChannelCount() < channels {
		channels = out.ChannelCount()
	}
	if channels > maxChannels {
		channels = maxChannels
	}

	for ch := 0; ch < channels; ch++ {
		src := in.Channel(ch)
		dst := out.Channel(ch)
		counter := p.holdCounter[ch]
		held := p.holdValue[ch]
		for i := range src {
			counter++
			if counter >= downsample {
				counter = 0
				held = math.Round(src[i]*quantLevels) / quantLevels
			}
			dst[i] = src[i]*(1-mix) + held*mix
		}
		p.holdCounter[ch] = counter
		p.holdValue[ch] = held
	}
}

// Configure resets the sample-and-hold state.
func (p *Plugin) Configure(float64) error {
	for ch := range p.holdCounter {
		p.holdCounter[ch] = 0
		p.holdValue[ch] = 0
	}
	return nil
}

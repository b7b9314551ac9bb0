// Package gain provides an internal plugin applying a single smooth-free
// gain factor to every channel.
package gain

import (
	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/processors"
)

// UID identifies the plugin in the internal registry.
const UID = "sushi.gain"

// Plugin scales every channel by its gain parameter.
type Plugin struct {
	processors.Base
	gain *processors.Parameter
}

// New returns a gain plugin with unity default gain.
func New() (processors.Processor, error) {
	p := &Plugin{Base: processors.NewBase("Gain")}
	p.gain = p.RegisterParameter(processors.NewParameter("gain", processors.FloatParameter, 0, 10, 1))
	return p, nil
}

// ProcessAudio scales in into out channel by channel.
func (p *Plugin) ProcessAudio(in, out *audio.SampleBuffer) {
	gain := p.gain.Value()
	channels := in.ChannelCount()
	if out.ChannelCount() < channels {
		channels = out.ChannelCount()
	}
	for ch := 0; ch < channels; ch++ {
		vecmath.ScaleBlock(out.Channel(ch), in.Channel(ch), gain)
	}
}

// Package passthrough provides the trivial internal plugin that copies its
// input to its output unchanged. Useful for routing and as a smoke test.
package passthrough

import (
	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/processors"
)

// UID identifies the plugin in the internal registry.
const UID = "sushi.passthrough"

// Plugin copies input to output.
type Plugin struct {
	processors.Base
}

// New returns a passthrough plugin.
func New() (processors.Processor, error) {
	return &Plugin{Base: processors.NewBase("Passthrough")}, nil
}

// ProcessAudio copies in to out.
func (p *Plugin) ProcessAudio(in, out *audio.SampleBuffer) {
	out.CopyFrom(in)
}

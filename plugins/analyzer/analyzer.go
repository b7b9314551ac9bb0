// Package analyzer provides an internal plugin that measures the spectral
// energy of the signal passing through it. Audio is passed through
// unchanged; band levels are exposed as parameters and reported as
// parameter-change notifications at a limited rate.
package analyzer

import (
	"fmt"
	"math/cmplx"

	algofft "github.com/MeKo-Christian/algo-fft"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/processors"
	"github.com/duanchangstar/sushi/rt"
)

// UID identifies the plugin in the internal registry.
const UID = "sushi.analyzer"

// reportIntervalChunks limits notifications to roughly 10 Hz at 48 kHz.
const reportIntervalChunks = 75

// Plugin computes low/mid/high band energy over the first channel of each
// chunk using an FFT sized to the chunk.
type Plugin struct {
	processors.Base

	low  *processors.Parameter
	mid  *processors.Parameter
	high *processors.Parameter

	plan       *algofft.Plan[complex128]
	fftIn      []complex128
	fftOut     []complex128
	chunkCount int
}

// New returns an analyzer plugin.
func New() (processors.Processor, error) {
	plan, err := algofft.NewPlan64(audio.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("analyzer: fft plan: %w", err)
	}
	p := &Plugin{
		Base:   processors.NewBase("Spectrum Analyzer"),
		plan:   plan,
		fftIn:  make([]complex128, audio.ChunkSize),
		fftOut: make([]complex128, audio.ChunkSize),
	}
	p.low = p.RegisterParameter(processors.NewParameter("low_energy", processors.FloatParameter, 0, 1e9, 0))
	p.mid = p.RegisterParameter(processors.NewParameter("mid_energy", processors.FloatParameter, 0, 1e9, 0))
	p.high = p.RegisterParameter(processors.NewParameter("high_energy", processors.FloatParameter, 0, 1e9, 0))
	return p, nil
}

// ProcessAudio passes the signal through and updates the band energies.
func (p *Plugin) ProcessAudio(in, out *audio.SampleBuffer) {
	out.CopyFrom(in)
	if in.ChannelCount() == 0 {
		return
	}

	src := in.Channel(0)
	for i := range p.fftIn {
		p.fftIn[i] = complex(src[i], 0)
	}
	if err := p.plan.Forward(p.fftOut, p.fftIn); err != nil {
		return
	}

	// Non-negative-frequency bins only; split into three octave-ish bands.
	half := audio.ChunkSize / 2
	lowEnd := half / 8
	midEnd := half / 2
	var low, mid, high float64
	for i := 1; i <= half; i++ {
		e := real(p.fftOut[i] * cmplx.Conj(p.fftOut[i]))
		switch {
		case i <= lowEnd:
			low += e
		case i <= midEnd:
			mid += e
		default:
			high += e
		}
	}
	p.low.SetValue(low)
	p.mid.SetValue(mid)
	p.high.SetValue(high)

	p.chunkCount++
	if p.chunkCount >= reportIntervalChunks {
		p.chunkCount = 0
		p.OutputEvent(rt.NewParameterChangeEvent(p.ID(), p.low.ID(), 0, low))
		p.OutputEvent(rt.NewParameterChangeEvent(p.ID(), p.mid.ID(), 0, mid))
		p.OutputEvent(rt.NewParameterChangeEvent(p.ID(), p.high.ID(), 0, high))
	}
}

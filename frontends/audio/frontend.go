// Package audiofrontend contains the audio frontends that drive the engine
// callback: offline and dummy frontends for testing and file rendering,
// and portaudio/oto frontends for live output.
//
// Every frontend fulfils the same contract: configure the engine channel
// counts before the first chunk, then per block call UpdateTime followed by
// ProcessChunk, and report the output latency once on init.
package audiofrontend

import (
	"github.com/duanchangstar/sushi/engine"
)

// Frontend drives the engine's audio callback.
type Frontend interface {
	// Init prepares the frontend and configures the engine channels.
	Init() error

	// Run processes audio until Stop is called. Blocking.
	Run() error

	// Stop halts processing and releases driver resources.
	Stop()
}

// base carries the engine handle shared by all frontends.
type base struct {
	engine *engine.Engine
}

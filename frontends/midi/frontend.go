// Package midifrontend contains the MIDI frontends that feed the MIDI
// dispatcher with raw bytes from the OS and deliver outbound messages.
package midifrontend

import (
	"time"
)

// Receiver is where a frontend delivers inbound raw MIDI. The MIDI
// dispatcher implements it.
type Receiver interface {
	SendMidi(port int, data []byte, timestamp time.Duration)
}

// Frontend reads MIDI from the OS and delivers outbound messages to it.
type Frontend interface {
	Init() error

	// Run listens for inbound MIDI until Stop is called. Blocking.
	Run() error

	Stop()

	// SendMidi delivers an outbound message on the given port.
	SendMidi(port int, data []byte, timestamp time.Duration)
}

// NullFrontend produces no inbound MIDI and records outbound messages in
// SentMessages instead of delivering them. Used in tests and headless setups
// without MIDI hardware.
type NullFrontend struct {
	SentMessages [][]byte
}

// Init is a no-op.
func (f *NullFrontend) Init() error { return nil }

// Run is a no-op.
func (f *NullFrontend) Run() error { return nil }

// Stop is a no-op.
func (f *NullFrontend) Stop() {}

// SendMidi records the message and drops it.
func (f *NullFrontend) SendMidi(_ int, data []byte, _ time.Duration) {
	f.SentMessages = append(f.SentMessages, append([]byte(nil), data...))
}

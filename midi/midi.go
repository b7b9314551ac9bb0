// Package midi decodes and encodes raw MIDI byte messages. To decode, first
// call DecodeMessageType, which classifies the message and validates its
// length; the per-type decode functions can then be called safely.
package midi

// Value limits of the MIDI wire format.
const (
	MaxValue        = 127   // velocity, pressure, controller value etc.
	MaxPitchBend    = 16383 // 14-bit pitch bend
	PitchBendMiddle = 8192

	// NumChannels is the number of addressable MIDI channels.
	NumChannels = 16
)

// Channel filters MIDI messages by channel. The zero value matches channel
// 0; Omni matches every channel. Using a distinct constructor pair instead
// of a sentinel index keeps wildcard matching explicit at call sites.
type Channel struct {
	omni  bool
	index int
}

// ChannelOf returns a filter matching only channel n (0-15).
func ChannelOf(n int) Channel {
	return Channel{index: n}
}

// Omni returns a filter matching every channel.
func Omni() Channel {
	return Channel{omni: true}
}

// IsOmni reports whether the filter matches every channel.
func (c Channel) IsOmni() bool {
	return c.omni
}

// Index returns the slot this filter occupies in a routing table: the
// channel number for specific filters, NumChannels for omni.
func (c Channel) Index() int {
	if c.omni {
		return NumChannels
	}
	return c.index
}

// Matches reports whether a message on channel n passes the filter.
func (c Channel) Matches(n int) bool {
	return c.omni || c.index == n
}

// Valid reports whether the filter denotes omni or a real channel.
func (c Channel) Valid() bool {
	return c.omni || (c.index >= 0 && c.index < NumChannels)
}

package rt

import "sync/atomic"

// Process-wide id generators. Ids increase monotonically and are never
// reused within a process lifetime.
var (
	processorIDCounter atomic.Uint32
	eventIDCounter     atomic.Uint32
)

// NewProcessorID mints the next processor id.
func NewProcessorID() uint32 {
	return processorIDCounter.Add(1)
}

// NewEventID mints the next returnable-event correlation id.
func NewEventID() uint32 {
	return eventIDCounter.Add(1)
}

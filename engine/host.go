package engine

import (
	"github.com/duanchangstar/sushi/event"
	"github.com/duanchangstar/sushi/transport"
)

// HostControl is the thin context handed to processors that need to talk
// back to the host: query the transport or post non-realtime events.
type HostControl struct {
	dispatcher *event.Dispatcher
	transport  *transport.Transport
}

// Transport returns the engine transport.
func (h *HostControl) Transport() *transport.Transport {
	return h.transport
}

// PostEvent hands an event to the engine's event dispatcher.
func (h *HostControl) PostEvent(e event.Event) {
	h.dispatcher.PostEvent(e)
}

// HostAware is implemented by processors that want a HostControl injected
// when they are added to the engine.
type HostAware interface {
	SetHostControl(h *HostControl)
}

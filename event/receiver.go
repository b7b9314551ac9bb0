package event

import (
	"sync"
	"time"

	"github.com/duanchangstar/sushi/rt"
)

// maxRetries is the number of polls WaitForResponse makes before giving up.
const maxRetries = 100

type completionNode struct {
	id     uint32
	status bool
}

// Receiver correlates returnable realtime events with their completions.
// Completions that arrive before their caller are stashed so a caller
// arriving late still observes them. A completion whose caller has already
// timed out is stashed the same way and is never removed.
type Receiver struct {
	queue *rt.SharedFifo

	mu       sync.Mutex
	received []completionNode
}

// NewReceiver returns a receiver draining the given completion ring.
func NewReceiver(queue *rt.SharedFifo) *Receiver {
	return &Receiver{queue: queue}
}

// WaitForResponse blocks until the realtime thread acknowledges the event
// with the given id, polling the completion ring up to maxRetries times
// with timeout/maxRetries pauses. Returns true iff the event was reported
// handled ok within the timeout.
func (r *Receiver) WaitForResponse(id uint32, timeout time.Duration) bool {
	for retry := 0; retry < maxRetries; retry++ {
		for {
			e, ok := r.queue.Pop()
			if !ok {
				break
			}
			if !e.Returnable() {
				continue
			}
			ok = e.Status == rt.HandledOK
			if e.EventID == id {
				return ok
			}
			r.mu.Lock()
			r.received = append(r.received, completionNode{id: e.EventID, status: ok})
			r.mu.Unlock()
		}

		if status, found := r.takeReceived(id); found {
			return status
		}

		time.Sleep(timeout / maxRetries)
	}
	return false
}

func (r *Receiver) takeReceived(id uint32) (status, found bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, node := range r.received {
		if node.id == id {
			r.received = append(r.received[:i], r.received[i+1:]...)
			return node.status, true
		}
	}
	return false, false
}

package event

import (
	"sync"
	"time"

	"github.com/duanchangstar/sushi/rt"
)

// tickInterval is how often the dispatcher polls the outbound realtime
// ring between posted events.
const tickInterval = time.Millisecond

// inQueueCapacity bounds the number of typed events waiting for the
// dispatcher goroutine.
const inQueueCapacity = 512

// RtEventSink accepts realtime events from non-realtime threads, typically
// by pushing them onto the engine's main-in ring.
type RtEventSink interface {
	SendAsyncEvent(e rt.Event) error
}

// Dispatcher accepts typed events from any non-realtime source, converts
// them for the realtime plane or executes them against the engine, and
// drains the outbound realtime ring into typed notifications.
type Dispatcher struct {
	engine Engine
	sink   RtEventSink
	out    *rt.Fifo

	in   chan Event
	stop chan struct{}
	done chan struct{}

	mu                    sync.Mutex
	keyboardListeners     []func(*KeyboardEvent)
	notificationListeners []func(Notification)

	workerWG sync.WaitGroup
}

// NewDispatcher returns a dispatcher bridging the given engine and rings.
// out is the engine's main-out ring.
func NewDispatcher(engine Engine, sink RtEventSink, out *rt.Fifo) *Dispatcher {
	return &Dispatcher{
		engine: engine,
		sink:   sink,
		out:    out,
		in:     make(chan Event, inQueueCapacity),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run starts the dispatcher goroutine.
func (d *Dispatcher) Run() {
	go d.loop()
}

// Stop halts the dispatcher after the current iteration and waits for
// in-flight async work to finish.
func (d *Dispatcher) Stop() {
	close(d.stop)
	<-d.done
	d.workerWG.Wait()
}

// PostEvent hands a typed event to the dispatcher. Safe from any
// non-realtime goroutine; blocks briefly if the dispatcher is saturated.
func (d *Dispatcher) PostEvent(e Event) {
	d.in <- e
}

// SubscribeToKeyboardEvents registers a listener for keyboard events
// emitted by the audio thread (e.g. for MIDI output routing).
func (d *Dispatcher) SubscribeToKeyboardEvents(fn func(*KeyboardEvent)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keyboardListeners = append(d.keyboardListeners, fn)
}

// SubscribeToNotifications registers a listener for fire-and-forget
// notifications such as clipping warnings.
func (d *Dispatcher) SubscribeToNotifications(fn func(Notification)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notificationListeners = append(d.notificationListeners, fn)
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case e := <-d.in:
			d.handle(e)
		case <-ticker.C:
			d.drainOutQueue()
		case <-d.stop:
			// Final sweep so no posted event or completion is lost.
			for {
				select {
				case e := <-d.in:
					d.handle(e)
				default:
					d.drainOutQueue()
					return
				}
			}
		}
	}
}

func (d *Dispatcher) handle(e Event) {
	switch typed := e.(type) {
	case AsyncWork:
		d.workerWG.Add(1)
		go func() {
			defer d.workerWG.Done()
			if followUp := typed.Run(); followUp != nil {
				d.PostEvent(followUp)
			}
		}()
		return
	case EngineCommand:
		err := typed.Execute(d.engine)
		d.complete(e, statusOf(err))
		return
	case Notification:
		d.notify(typed)
		return
	}

	if convertible, ok := e.(RtConvertible); ok {
		err := d.sink.SendAsyncEvent(convertible.ToRtEvent(0))
		d.complete(e, statusOf(err))
		return
	}

	d.complete(e, UnrecognizedEvent)
}

func (d *Dispatcher) complete(e Event, status int) {
	if cb := e.CompletionCallback(); cb != nil {
		cb(e, status)
	}
}

func statusOf(err error) int {
	if err != nil {
		return HandledError
	}
	return HandledOK
}

func (d *Dispatcher) drainOutQueue() {
	for {
		rtEvent, ok := d.out.Pop()
		if !ok {
			return
		}
		e := FromRtEvent(rtEvent, 0)
		if e == nil {
			continue
		}
		switch typed := e.(type) {
		case *KeyboardEvent:
			d.mu.Lock()
			listeners := d.keyboardListeners
			d.mu.Unlock()
			for _, fn := range listeners {
				fn(typed)
			}
		case Notification:
			d.notify(typed)
		default:
			// Async work requests from the audio thread re-enter the
			// normal handling path.
			d.handle(e)
		}
	}
}

func (d *Dispatcher) notify(n Notification) {
	d.mu.Lock()
	listeners := d.notificationListeners
	d.mu.Unlock()
	for _, fn := range listeners {
		fn(n)
	}
}

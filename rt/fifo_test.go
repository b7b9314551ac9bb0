package rt

import (
	"sync"
	"testing"
)

func TestPushPopOrder(t *testing.T) {
	f := NewFifo()

	for i := 0; i < 10; i++ {
		if !f.Push(NewNoteOnEvent(1, 0, 0, i, 1.0)) {
			t.Fatalf("push %d failed on non-full fifo", i)
		}
	}

	for i := 0; i < 10; i++ {
		e, ok := f.Pop()
		if !ok {
			t.Fatalf("pop %d failed on non-empty fifo", i)
		}
		if e.Note != i {
			t.Fatalf("pop %d returned note %d, events out of order", i, e.Note)
		}
	}

	if _, ok := f.Pop(); ok {
		t.Fatal("pop succeeded on empty fifo")
	}
}

func TestFullFifoRejectsPush(t *testing.T) {
	f := NewFifo()

	for i := 0; i < FifoCapacity; i++ {
		if !f.Push(NewTempoEvent(120)) {
			t.Fatalf("push %d failed before capacity reached", i)
		}
	}

	if f.Push(NewTempoEvent(120)) {
		t.Fatal("push succeeded on full fifo")
	}

	// Draining one slot makes the next push succeed again.
	if _, ok := f.Pop(); !ok {
		t.Fatal("pop failed on full fifo")
	}
	if !f.Push(NewTempoEvent(140)) {
		t.Fatal("push failed after drain")
	}
}

func TestEmpty(t *testing.T) {
	f := NewFifo()
	if !f.Empty() {
		t.Fatal("new fifo not empty")
	}
	f.Push(NewTempoEvent(120))
	if f.Empty() {
		t.Fatal("fifo with one event reports empty")
	}
}

func TestSpscConcurrent(t *testing.T) {
	f := NewFifoWithCapacity(64)
	const count = 100000

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		for i := 0; i < count; {
			if f.Push(NewNoteOnEvent(1, 0, 0, i&0x7f, float64(i))) {
				i++
			}
		}
	}()

	received := 0
	var prev float64 = -1
	for received < count {
		e, ok := f.Pop()
		if !ok {
			continue
		}
		if e.Value <= prev {
			t.Fatalf("event %v received after %v, ordering broken", e.Value, prev)
		}
		prev = e.Value
		received++
	}

	wg.Wait()
}

func TestReturnableRange(t *testing.T) {
	cases := []struct {
		event      Event
		returnable bool
	}{
		{NewNoteOnEvent(1, 0, 0, 60, 1.0), false},
		{NewTempoEvent(120), false},
		{NewStopEngineEvent(), true},
		{NewRemoveProcessorEvent(1), true},
		{NewAddTrackEvent(nil), true},
		{NewAsyncWorkEvent(1, nil, nil), true},
		{NewAsyncWorkCompletionEvent(1, 1, HandledOK), false},
		{NewClipNotificationEvent(0, ClipChannelInput), false},
	}

	for _, c := range cases {
		if got := c.event.Returnable(); got != c.returnable {
			t.Fatalf("type %v: returnable = %v, want %v", c.event.Type, got, c.returnable)
		}
	}
}

func TestEventIDsUnique(t *testing.T) {
	seen := make(map[uint32]bool)
	for i := 0; i < 1000; i++ {
		id := NewEventID()
		if seen[id] {
			t.Fatalf("event id %d repeated", id)
		}
		seen[id] = true
	}
}

func TestCompletionOf(t *testing.T) {
	e := NewRemoveProcessorEvent(42)
	c := CompletionOf(&e, HandledOK)

	if c.EventID != e.EventID {
		t.Fatal("completion must carry the originating event id")
	}
	if c.Status != HandledOK {
		t.Fatalf("status = %d, want HandledOK", c.Status)
	}
}

func TestSharedFifoConcurrentConsumers(t *testing.T) {
	f := NewSharedFifo()
	const count = 1000

	go func() {
		for i := 0; i < count; {
			if f.Push(NewClipNotificationEvent(i%2, ClipChannelOutput)) {
				i++
			}
		}
	}()

	var mu sync.Mutex
	received := 0
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				done := received >= count
				mu.Unlock()
				if done {
					return
				}
				if _, ok := f.Pop(); ok {
					mu.Lock()
					received++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if received != count {
		t.Fatalf("received %d events, want %d", received, count)
	}
}

package event

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/duanchangstar/sushi/rt"
)

// fakeEngine records executed commands.
type fakeEngine struct {
	mu      sync.Mutex
	tracks  []string
	plugins []string
	fail    bool
}

func (f *fakeEngine) CreateTrack(name string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("boom")
	}
	f.tracks = append(f.tracks, name)
	return nil
}

func (f *fakeEngine) DeleteTrack(string) error { return nil }

func (f *fakeEngine) AddPlugin(_, _, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plugins = append(f.plugins, name)
	return nil
}

func (f *fakeEngine) RemovePlugin(string, string) error { return nil }

// fakeSink records rt events pushed toward the audio thread.
type fakeSink struct {
	mu     sync.Mutex
	events []rt.Event
	err    error
}

func (f *fakeSink) SendAsyncEvent(e rt.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newRunningDispatcher(t *testing.T) (*Dispatcher, *fakeEngine, *fakeSink, *rt.Fifo) {
	t.Helper()
	eng := &fakeEngine{}
	sink := &fakeSink{}
	out := rt.NewFifo()
	d := NewDispatcher(eng, sink, out)
	d.Run()
	t.Cleanup(d.Stop)
	return d, eng, sink, out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRtConvertibleForwarded(t *testing.T) {
	d, _, sink, _ := newRunningDispatcher(t)

	d.PostEvent(NewSetEngineTempoEvent(140, 0))

	waitFor(t, func() bool { return sink.count() == 1 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[0].Type != rt.TypeTempo || sink.events[0].Tempo != 140 {
		t.Fatalf("forwarded event = %+v", sink.events[0])
	}
}

func TestEngineCommandExecuted(t *testing.T) {
	d, eng, _, _ := newRunningDispatcher(t)

	var status int
	var wg sync.WaitGroup
	wg.Add(1)
	e := NewAddTrackEvent("drums", 2, 0)
	e.SetCompletionCallback(func(_ Event, s int) {
		status = s
		wg.Done()
	})
	d.PostEvent(e)
	wg.Wait()

	if status != HandledOK {
		t.Fatalf("completion status = %d, want HandledOK", status)
	}
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.tracks) != 1 || eng.tracks[0] != "drums" {
		t.Fatalf("tracks = %v", eng.tracks)
	}
}

func TestFailedCommandReportsError(t *testing.T) {
	d, eng, _, _ := newRunningDispatcher(t)
	eng.fail = true

	var status int
	var wg sync.WaitGroup
	wg.Add(1)
	e := NewAddTrackEvent("drums", 2, 0)
	e.SetCompletionCallback(func(_ Event, s int) {
		status = s
		wg.Done()
	})
	d.PostEvent(e)
	wg.Wait()

	if status != HandledError {
		t.Fatalf("completion status = %d, want HandledError", status)
	}
}

func TestNotificationsFannedOut(t *testing.T) {
	d, _, _, out := newRunningDispatcher(t)

	var mu sync.Mutex
	var got []Notification
	d.SubscribeToNotifications(func(n Notification) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, n)
	})

	out.Push(rt.NewClipNotificationEvent(1, rt.ClipChannelOutput))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})

	clip, ok := got[0].(*ClippingNotificationEvent)
	if !ok || clip.Channel != 1 || clip.Kind != rt.ClipChannelOutput {
		t.Fatalf("notification = %#v", got[0])
	}
}

func TestKeyboardEventsReachListeners(t *testing.T) {
	d, _, _, out := newRunningDispatcher(t)

	var mu sync.Mutex
	var notes []int
	d.SubscribeToKeyboardEvents(func(e *KeyboardEvent) {
		mu.Lock()
		defer mu.Unlock()
		notes = append(notes, e.Note)
	})

	out.Push(rt.NewNoteOnEvent(5, 0, 0, 64, 1.0))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(notes) == 1 && notes[0] == 64
	})
}

func TestAsyncWorkRunsAndCompletes(t *testing.T) {
	_, _, sink, out := newRunningDispatcher(t)

	var ran sync.WaitGroup
	ran.Add(1)
	callback := func(_ any, _ uint32) int {
		ran.Done()
		return rt.HandledOK
	}

	// The audio thread requests async work through the out ring.
	out.Push(rt.NewAsyncWorkEvent(7, callback, nil))

	ran.Wait()
	// The completion must be pushed back toward the audio thread.
	waitFor(t, func() bool { return sink.count() == 1 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	e := sink.events[0]
	if e.Type != rt.TypeAsyncWorkCompletion || e.ProcessorID != 7 || e.Status != rt.HandledOK {
		t.Fatalf("completion = %+v", e)
	}
}

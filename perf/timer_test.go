package perf

import (
	"math"
	"testing"
	"time"
)

func TestTimingsUnknownNode(t *testing.T) {
	timer := NewTimer()
	if _, ok := timer.TimingsForNode(7); ok {
		t.Fatal("timings returned for node with no samples")
	}
}

func TestCalculateTimings(t *testing.T) {
	timer := NewTimer()
	timer.SetTimingPeriod(48000, 64) // period = 64/48000 s

	period := 64.0 / 48000.0 * float64(time.Second)
	points := []logPoint{
		{id: 1, delta: time.Duration(period * 0.25)},
		{id: 1, delta: time.Duration(period * 0.50)},
		{id: 1, delta: time.Duration(period * 0.75)},
	}

	timings := timer.calculateTimings(points)

	if math.Abs(timings.Avg-0.5) > 1e-6 {
		t.Fatalf("avg = %v, want 0.5", timings.Avg)
	}
	if math.Abs(timings.Min-0.25) > 1e-6 {
		t.Fatalf("min = %v, want 0.25", timings.Min)
	}
	if math.Abs(timings.Max-0.75) > 1e-6 {
		t.Fatalf("max = %v, want 0.75", timings.Max)
	}
}

func TestMergeSmoothsAverage(t *testing.T) {
	prev := Timings{Avg: 1.0, Min: 0.5, Max: 1.5}
	fresh := Timings{Avg: 2.0, Min: 0.8, Max: 1.0}

	merged := mergeTimings(prev, fresh)

	want := 0.7*1.0 + 0.3*2.0
	if math.Abs(merged.Avg-want) > 1e-9 {
		t.Fatalf("avg = %v, want %v", merged.Avg, want)
	}
	if merged.Min != 0.5 {
		t.Fatalf("min = %v, running minimum must be kept", merged.Min)
	}
	if merged.Max != 1.5 {
		t.Fatalf("max = %v, running maximum must be kept", merged.Max)
	}
}

func TestMergeFirstInterval(t *testing.T) {
	merged := mergeTimings(Timings{}, Timings{Avg: 0.4, Min: 0.2, Max: 0.6})
	if merged.Avg != 0.4 {
		t.Fatalf("first interval avg = %v, want 0.4 unsmoothed", merged.Avg)
	}
}

func TestEnableDisableDrains(t *testing.T) {
	timer := NewTimer()
	timer.SetTimingPeriod(48000, 64)
	timer.Enable(true)

	start := timer.Start()
	time.Sleep(time.Millisecond)
	timer.StopFor(start, 3)

	// Disabling must drain the ring so the recorded point is visible.
	timer.Enable(false)

	timings, ok := timer.TimingsForNode(3)
	if !ok {
		t.Fatal("no timings recorded for node 3 after disable")
	}
	if timings.Max <= 0 {
		t.Fatalf("max = %v, want > 0", timings.Max)
	}
}

func TestStopForWhenDisabledIsNoop(t *testing.T) {
	timer := NewTimer()
	timer.SetTimingPeriod(48000, 64)

	timer.StopFor(timer.Start(), 9)
	timer.updateTimings()

	if _, ok := timer.TimingsForNode(9); ok {
		t.Fatal("disabled timer must not record points")
	}
}

func TestClearTimings(t *testing.T) {
	timer := NewTimer()
	timer.SetTimingPeriod(48000, 64)
	timer.enabled.Store(true)
	timer.StopFor(timer.Start(), 1)
	timer.StopFor(timer.Start(), 2)
	timer.enabled.Store(false)
	timer.updateTimings()

	if !timer.ClearTimingsForNode(1) {
		t.Fatal("clearing an existing node must return true")
	}
	if timer.ClearTimingsForNode(42) {
		t.Fatal("clearing an unknown node must return false")
	}

	timings, _ := timer.TimingsForNode(1)
	if timings.Max != 0 {
		t.Fatal("cleared node still has timings")
	}

	timer.ClearAllTimings()
	timings, _ = timer.TimingsForNode(2)
	if timings.Max != 0 {
		t.Fatal("ClearAllTimings left timings behind")
	}
}

func TestRingOverflowDropsInsteadOfBlocking(t *testing.T) {
	timer := NewTimer()
	timer.SetTimingPeriod(48000, 64)
	timer.enabled.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < logPointCapacity*2; i++ {
			timer.StopFor(time.Now(), 1)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("StopFor blocked on a full ring")
	}
}

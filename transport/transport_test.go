package transport

import (
	"math"
	"testing"
	"time"
)

const (
	testSampleRate = 48000.0
	testChunkSize  = 64
)

func TestDefaults(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)

	if tr.CurrentTempo() != DefaultTempo {
		t.Fatalf("tempo = %v, want %v", tr.CurrentTempo(), DefaultTempo)
	}
	if sig := tr.CurrentTimeSignature(); sig.Numerator != 4 || sig.Denominator != 4 {
		t.Fatalf("signature = %d/%d, want 4/4", sig.Numerator, sig.Denominator)
	}
	if !tr.Playing() {
		t.Fatal("new transport should be playing")
	}
	if tr.SyncMode() != Internal {
		t.Fatalf("sync mode = %v, want internal", tr.SyncMode())
	}
}

func TestSampleCountMonotonic(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)

	var prev int64 = -1
	for i := 0; i < 100; i++ {
		tr.SetTime(time.Duration(i)*time.Millisecond, int64(i*testChunkSize))
		if tr.CurrentSamples() < prev {
			t.Fatalf("sample count decreased: %d after %d", tr.CurrentSamples(), prev)
		}
		prev = tr.CurrentSamples()
	}
}

func TestBeatsPerChunk(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)
	tr.SetTempo(120)
	tr.SetTime(0, 0)

	want := 120.0 / 60.0 * testChunkSize / testSampleRate
	got := tr.CurrentBeats(testChunkSize) - tr.CurrentBeats(0)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("beats per chunk = %v, want %v", got, want)
	}
}

func TestBeatCountAdvances(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)
	tr.SetTempo(120)

	beatsPerChunk := 120.0 / 60.0 * testChunkSize / testSampleRate
	chunks := 200
	for i := 0; i <= chunks; i++ {
		tr.SetTime(0, int64(i*testChunkSize))
	}

	want := beatsPerChunk * float64(chunks)
	if math.Abs(tr.CurrentBeats(0)-want) > 1e-9 {
		t.Fatalf("beat count = %v, want %v", tr.CurrentBeats(0), want)
	}
}

func TestBarBeatsWrapIn44(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)
	tr.SetTempo(240) // 4 beats per second, one bar per second in 4/4

	// Run two seconds worth of chunks and verify the bar position never
	// reaches a full bar.
	chunks := int(2 * testSampleRate / testChunkSize)
	for i := 0; i < chunks; i++ {
		tr.SetTime(0, int64(i*testChunkSize))
		if bb := tr.CurrentBarBeats(0); bb < 0 || bb >= 4.0 {
			t.Fatalf("bar beats %v out of range [0, 4) at chunk %d", bb, i)
		}
	}

	if tr.CurrentBarStartBeats() <= 0 {
		t.Fatal("bar start should have advanced after two seconds at 240 bpm")
	}
}

func TestBarLengthIn68(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)
	tr.SetTimeSignature(TimeSignature{6, 8})
	tr.SetTempo(240)

	chunks := int(2 * testSampleRate / testChunkSize)
	for i := 0; i < chunks; i++ {
		tr.SetTime(0, int64(i*testChunkSize))
		if bb := tr.CurrentBarBeats(0); bb < 0 || bb >= 3.0 {
			t.Fatalf("bar beats %v out of range [0, 3) in 6/8 time", bb)
		}
	}
}

func TestInterpolationWithinChunk(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)
	tr.SetTime(0, 0)

	half := tr.CurrentBeats(testChunkSize / 2)
	full := tr.CurrentBeats(testChunkSize)
	zero := tr.CurrentBeats(0)

	if math.Abs((half-zero)*2-(full-zero)) > 1e-12 {
		t.Fatalf("interpolation not linear: zero=%v half=%v full=%v", zero, half, full)
	}
}

func TestPlayingModes(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)

	tr.SetPlayingMode(Stopped)
	if tr.Playing() {
		t.Fatal("stopped transport reports playing")
	}

	tr.SetPlayingMode(Recording)
	if !tr.Playing() {
		t.Fatal("recording transport should report playing")
	}
}

func TestLatencyAddedToProcessTime(t *testing.T) {
	tr := New(testSampleRate, testChunkSize)
	tr.SetLatency(5 * time.Millisecond)
	tr.SetTime(100*time.Millisecond, 0)

	if tr.CurrentProcessTime() != 105*time.Millisecond {
		t.Fatalf("process time = %v, want 105ms", tr.CurrentProcessTime())
	}
}

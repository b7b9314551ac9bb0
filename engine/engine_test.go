package engine

import (
	"math"
	"testing"
	"time"

	"github.com/duanchangstar/sushi/audio"
	"github.com/duanchangstar/sushi/event"
	"github.com/duanchangstar/sushi/plugins/gain"
	"github.com/duanchangstar/sushi/plugins/passthrough"
	"github.com/duanchangstar/sushi/processors"
	"github.com/duanchangstar/sushi/rt"
	"github.com/duanchangstar/sushi/transport"
)

const testSampleRate = 48000.0

func newTestEngine(t *testing.T, cores int) *Engine {
	t.Helper()
	e := New(testSampleRate, cores)
	t.Cleanup(e.Close)
	e.SetAudioInputChannels(2)
	e.SetAudioOutputChannels(2)
	if err := e.SetCvInputChannels(2); err != nil {
		t.Fatal(err)
	}
	if err := e.SetCvOutputChannels(2); err != nil {
		t.Fatal(err)
	}
	return e
}

func fill(buf *audio.SampleBuffer, ch int, v float64) {
	s := buf.Channel(ch)
	for i := range s {
		s[i] = v
	}
}

func processOnce(e *Engine, in, out *audio.SampleBuffer) {
	var cvIn, cvOut audio.ControlBuffer
	e.ProcessChunk(in, out, &cvIn, &cvOut)
}

func TestStereoPassthrough(t *testing.T) {
	e := newTestEngine(t, 1)

	if err := e.CreateTrack("t", 2); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectAudioInputChannel(0, 0, "t"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectAudioInputChannel(1, 1, "t"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectAudioOutputChannel(0, 0, "t"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectAudioOutputChannel(1, 1, "t"); err != nil {
		t.Fatal(err)
	}

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	fill(in, 0, 0.5)
	fill(in, 1, -0.5)

	processOnce(e, in, out)

	for i := 0; i < audio.ChunkSize; i++ {
		if out.Channel(0)[i] != 0.5 || out.Channel(1)[i] != -0.5 {
			t.Fatalf("sample %d = (%v, %v), want (0.5, -0.5)",
				i, out.Channel(0)[i], out.Channel(1)[i])
		}
	}
}

func TestOutputSummingAcrossTracks(t *testing.T) {
	e := newTestEngine(t, 1)

	for _, name := range []string{"a", "b"} {
		if err := e.CreateTrack(name, 1); err != nil {
			t.Fatal(err)
		}
		if err := e.ConnectAudioInputChannel(0, 0, name); err != nil {
			t.Fatal(err)
		}
		if err := e.ConnectAudioOutputChannel(0, 0, name); err != nil {
			t.Fatal(err)
		}
	}

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	fill(in, 0, 0.25)

	processOnce(e, in, out)

	if got := out.Channel(0)[0]; math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("two tracks on one output summed to %v, want 0.5", got)
	}
}

func TestProcessorNameIDRoundTrip(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 2); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPlugin("t", gain.UID, "g"); err != nil {
		t.Fatal(err)
	}

	id, err := e.ProcessorIDFromName("g")
	if err != nil {
		t.Fatal(err)
	}
	name, err := e.ProcessorNameFromID(id)
	if err != nil {
		t.Fatal(err)
	}
	if name != "g" {
		t.Fatalf("round trip returned %q", name)
	}

	if err := e.RemovePlugin("t", "g"); err != nil {
		t.Fatal(err)
	}
	if _, err := e.ProcessorNameFromID(id); err == nil {
		t.Fatal("removed processor still resolvable")
	}
}

func TestRegistryMatchesRtTable(t *testing.T) {
	e := newTestEngine(t, 1)

	check := func(context string) {
		t.Helper()
		if len(e.AllProcessors()) != e.RtProcessorCount() {
			t.Fatalf("%s: registry has %d processors, rt table %d",
				context, len(e.AllProcessors()), e.RtProcessorCount())
		}
	}

	check("empty")
	if err := e.CreateTrack("t", 2); err != nil {
		t.Fatal(err)
	}
	check("one track")
	if err := e.AddPlugin("t", passthrough.UID, "p1"); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPlugin("t", gain.UID, "p2"); err != nil {
		t.Fatal(err)
	}
	check("two plugins")
	if err := e.RemovePlugin("t", "p1"); err != nil {
		t.Fatal(err)
	}
	check("one plugin removed")
	if err := e.RemovePlugin("t", "p2"); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteTrack("t"); err != nil {
		t.Fatal(err)
	}
	check("deleted")
}

func TestDuplicateNamesRejected(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 2); err != nil {
		t.Fatal(err)
	}
	if err := e.CreateTrack("t", 2); err == nil {
		t.Fatal("duplicate track name accepted")
	}
	if err := e.AddPlugin("t", gain.UID, "t"); err == nil {
		t.Fatal("plugin name clashing with track accepted")
	}
}

func TestDeleteNonEmptyTrackRejected(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 2); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPlugin("t", gain.UID, "g"); err != nil {
		t.Fatal(err)
	}
	if err := e.DeleteTrack("t"); err == nil {
		t.Fatal("deleting a non-empty track must fail")
	}
}

func TestInvalidConnections(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 2); err != nil {
		t.Fatal(err)
	}

	if err := e.ConnectAudioInputChannel(7, 0, "t"); err == nil {
		t.Fatal("engine channel out of range accepted")
	}
	if err := e.ConnectAudioInputChannel(0, 7, "t"); err == nil {
		t.Fatal("track channel out of range accepted")
	}
	if err := e.ConnectAudioInputChannel(0, 0, "absent"); err == nil {
		t.Fatal("unknown track accepted")
	}
}

func TestSetTempoViaTypedEvent(t *testing.T) {
	e := newTestEngine(t, 1)
	e.EnableRealtime(true)
	e.Dispatcher().Run()
	defer e.Dispatcher().Stop()

	e.Dispatcher().PostEvent(event.NewSetEngineTempoEvent(140, 0))

	// Give the dispatcher a moment to push the rt event, then process one
	// chunk to apply it.
	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	deadline := time.Now().Add(time.Second)
	for e.Transport().CurrentTempo() != 140 {
		if time.Now().After(deadline) {
			t.Fatalf("tempo = %v after deadline, want 140", e.Transport().CurrentTempo())
		}
		time.Sleep(2 * time.Millisecond)
		processOnce(e, in, out)
	}
}

func TestQueueFullBackpressure(t *testing.T) {
	e := newTestEngine(t, 1)

	ev := rt.NewParameterChangeEvent(1, 0, 0, 0.5)
	for i := 0; i < rt.FifoCapacity; i++ {
		if err := e.SendAsyncEvent(ev); err != nil {
			t.Fatalf("push %d failed early: %v", i, err)
		}
	}
	if err := e.SendAsyncEvent(ev); err != ErrQueueFull {
		t.Fatalf("push on full ring returned %v, want ErrQueueFull", err)
	}

	// The realtime side drains the ring; the next push succeeds.
	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	processOnce(e, in, out)

	if err := e.SendAsyncEvent(ev); err != nil {
		t.Fatalf("push after drain failed: %v", err)
	}
}

func TestRealtimeTrackCreation(t *testing.T) {
	e := newTestEngine(t, 1)
	e.EnableRealtime(true)

	// Pump the audio callback while the control operation waits for its
	// acknowledgment.
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		in := audio.NewBuffer(2)
		out := audio.NewBuffer(2)
		for {
			select {
			case <-stop:
				return
			default:
				processOnce(e, in, out)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	if err := e.CreateTrack("rt-track", 2); err != nil {
		t.Fatalf("create track in realtime mode: %v", err)
	}
	if err := e.AddPlugin("rt-track", gain.UID, "g"); err != nil {
		t.Fatalf("add plugin in realtime mode: %v", err)
	}
	if len(e.AllProcessors()) != e.RtProcessorCount() {
		t.Fatal("registry and rt table diverged after realtime mutation")
	}
	if err := e.RemovePlugin("rt-track", "g"); err != nil {
		t.Fatalf("remove plugin in realtime mode: %v", err)
	}
	if err := e.DeleteTrack("rt-track"); err != nil {
		t.Fatalf("delete track in realtime mode: %v", err)
	}

	close(stop)
	<-done
}

func TestSampleCountMonotonic(t *testing.T) {
	e := newTestEngine(t, 1)
	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)

	var prev int64 = -1
	for i := 0; i < 50; i++ {
		processOnce(e, in, out)
		if got := e.Transport().CurrentSamples(); got < prev {
			t.Fatalf("sample count went backwards: %d after %d", got, prev)
		}
		prev = e.Transport().CurrentSamples()
	}
	if prev != 50*audio.ChunkSize {
		t.Fatalf("sample count = %d after 50 chunks, want %d", prev, 50*audio.ChunkSize)
	}
}

func TestEventDeliveredBeforeProcessing(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 1); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPlugin("t", gain.UID, "g"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectAudioInputChannel(0, 0, "t"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectAudioOutputChannel(0, 0, "t"); err != nil {
		t.Fatal(err)
	}

	id, _ := e.ProcessorIDFromName("g")
	paramID, _ := e.ParameterIDFromName("g", "gain")
	if err := e.SendAsyncEvent(rt.NewParameterChangeEvent(id, paramID, 0, 0.5)); err != nil {
		t.Fatal(err)
	}

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	fill(in, 0, 1.0)
	processOnce(e, in, out)

	// The gain change was queued before the chunk, so it must apply to it.
	if got := out.Channel(0)[0]; math.Abs(got-0.5) > 1e-12 {
		t.Fatalf("output = %v, parameter change not applied before processing", got)
	}
}

func TestCvInputRouting(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 1); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPlugin("t", gain.UID, "g"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectCvToParameter("g", "gain", 1); err != nil {
		t.Fatal(err)
	}

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	var cvIn, cvOut audio.ControlBuffer
	cvIn.CV[1] = 0.5 // gain range is [0, 10] so this maps to 5.0
	e.ProcessChunk(in, out, &cvIn, &cvOut)

	p, _ := e.processor("g")
	if got := p.ParameterByName("gain").Value(); math.Abs(got-5.0) > 1e-12 {
		t.Fatalf("cv-routed gain = %v, want 5.0", got)
	}
}

func TestCvOutputRouting(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 1); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPlugin("t", gain.UID, "g"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectCvFromParameter("g", "gain", 0); err != nil {
		t.Fatal(err)
	}

	p, _ := e.processor("g")
	p.ParameterByName("gain").SetValue(2.5) // range [0, 10] -> cv 0.25

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	var cvIn, cvOut audio.ControlBuffer
	e.ProcessChunk(in, out, &cvIn, &cvOut)

	if math.Abs(cvOut.CV[0]-0.25) > 1e-12 {
		t.Fatalf("cv out = %v, want 0.25", cvOut.CV[0])
	}
}

// noteProbe records keyboard events delivered to it.
type noteProbe struct {
	processors.Base
	noteOns  []int
	noteOffs []int
}

func (p *noteProbe) ProcessEvent(e rt.Event) {
	switch e.Type {
	case rt.TypeNoteOn:
		p.noteOns = append(p.noteOns, e.Note)
	case rt.TypeNoteOff:
		p.noteOffs = append(p.noteOffs, e.Note)
	default:
		p.Base.ProcessEvent(e)
	}
}

func (p *noteProbe) ProcessAudio(in, out *audio.SampleBuffer) {
	out.CopyFrom(in)
}

func TestGateInputRouting(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 1); err != nil {
		t.Fatal(err)
	}
	probe := &noteProbe{Base: processors.NewBase("probe")}
	e.registry.MustRegister("test.probe", func() (processors.Processor, error) { return probe, nil })
	if err := e.AddPlugin("t", "test.probe", "probe"); err != nil {
		t.Fatal(err)
	}
	if err := e.ConnectGateToProcessor("probe", 3, 60, 0); err != nil {
		t.Fatal(err)
	}

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	var cvIn, cvOut audio.ControlBuffer

	cvIn.Gates = cvIn.Gates.Set(3, true)
	e.ProcessChunk(in, out, &cvIn, &cvOut)
	if len(probe.noteOns) != 1 || probe.noteOns[0] != 60 {
		t.Fatalf("note ons after gate high: %v, want [60]", probe.noteOns)
	}

	// Unchanged gate: no retrigger.
	e.ProcessChunk(in, out, &cvIn, &cvOut)
	if len(probe.noteOns) != 1 {
		t.Fatalf("gate retriggered without a change: %v", probe.noteOns)
	}

	cvIn.Gates = cvIn.Gates.Set(3, false)
	e.ProcessChunk(in, out, &cvIn, &cvOut)
	if len(probe.noteOffs) != 1 || probe.noteOffs[0] != 60 {
		t.Fatalf("note offs after gate low: %v, want [60]", probe.noteOffs)
	}
}

func TestClipDetection(t *testing.T) {
	e := newTestEngine(t, 1)
	e.EnableInputClipDetection(true)

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	fill(in, 1, 1.5)

	processOnce(e, in, out)

	ev, ok := e.mainOutQueue.Pop()
	if !ok {
		t.Fatal("no clipping notification pushed")
	}
	if ev.Type != rt.TypeClipNotification || ev.Channel != 1 || ev.IntValue != rt.ClipChannelInput {
		t.Fatalf("unexpected notification %+v", ev)
	}

	// Rate limited: the immediately following chunk must not fire again.
	processOnce(e, in, out)
	if _, ok := e.mainOutQueue.Pop(); ok {
		t.Fatal("clip notification not rate-limited")
	}
}

func TestClipDetectionThresholdExclusive(t *testing.T) {
	e := newTestEngine(t, 1)
	e.EnableInputClipDetection(true)

	in := audio.NewBuffer(2)
	out := audio.NewBuffer(2)
	fill(in, 0, 1.0) // exactly full scale must not fire

	processOnce(e, in, out)

	if _, ok := e.mainOutQueue.Pop(); ok {
		t.Fatal("clip detector fired at exactly 1.0")
	}
}

func TestMulticoreMatchesSingleCore(t *testing.T) {
	build := func(cores int) (*Engine, *audio.SampleBuffer, *audio.SampleBuffer) {
		e := New(testSampleRate, cores)
		t.Cleanup(e.Close)
		e.SetAudioInputChannels(2)
		e.SetAudioOutputChannels(2)
		for i, name := range []string{"a", "b"} {
			if err := e.CreateTrack(name, 1); err != nil {
				t.Fatal(err)
			}
			if err := e.ConnectAudioInputChannel(i, 0, name); err != nil {
				t.Fatal(err)
			}
			if err := e.ConnectAudioOutputChannel(i, 0, name); err != nil {
				t.Fatal(err)
			}
			if err := e.AddPlugin(name, gain.UID, "g-"+name); err != nil {
				t.Fatal(err)
			}
		}
		return e, audio.NewBuffer(2), audio.NewBuffer(2)
	}

	single, in1, out1 := build(1)
	multi, in2, out2 := build(2)

	for ch := 0; ch < 2; ch++ {
		for i := 0; i < audio.ChunkSize; i++ {
			v := float64(ch+1) * float64(i) / audio.ChunkSize
			in1.Channel(ch)[i] = v
			in2.Channel(ch)[i] = v
		}
	}

	processOnce(single, in1, out1)
	processOnce(multi, in2, out2)

	for ch := 0; ch < 2; ch++ {
		for i := 0; i < audio.ChunkSize; i++ {
			if out1.Channel(ch)[i] != out2.Channel(ch)[i] {
				t.Fatalf("multicore output diverges at ch %d sample %d: %v vs %v",
					ch, i, out1.Channel(ch)[i], out2.Channel(ch)[i])
			}
		}
	}
}

func TestTransportModesWhenNotRealtime(t *testing.T) {
	e := newTestEngine(t, 1)

	e.SetTempo(133)
	if e.Transport().CurrentTempo() != 133 {
		t.Fatalf("tempo = %v", e.Transport().CurrentTempo())
	}
	e.SetTimeSignature(transport.TimeSignature{Numerator: 6, Denominator: 8})
	if sig := e.Transport().CurrentTimeSignature(); sig.Numerator != 6 {
		t.Fatalf("signature = %+v", sig)
	}
	e.SetTransportMode(transport.Stopped)
	if e.Transport().Playing() {
		t.Fatal("transport still playing after stop")
	}
	e.SetTempoSyncMode(transport.MidiSlave)
	if e.Transport().SyncMode() != transport.MidiSlave {
		t.Fatalf("sync mode = %v", e.Transport().SyncMode())
	}
}

func TestGateSyncNotSupported(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.ConnectGateToSync(0, 24); err != ErrNotSupported {
		t.Fatalf("gate sync returned %v", err)
	}
	if err := e.ConnectSyncToGate(0, 24); err != ErrNotSupported {
		t.Fatalf("sync gate returned %v", err)
	}
}

func TestUnknownPluginUID(t *testing.T) {
	e := newTestEngine(t, 1)
	if err := e.CreateTrack("t", 2); err != nil {
		t.Fatal(err)
	}
	if err := e.AddPlugin("t", "sushi.absent", "x"); err == nil {
		t.Fatal("unknown plugin uid accepted")
	}
}

package midifrontend

import (
	"fmt"
	"sync"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // register MIDI driver

	"github.com/duanchangstar/sushi/internal/logging"
)

// GoMidiFrontend bridges OS MIDI ports to the dispatcher using gomidi.
// Port indices follow the order the OS reports the ports in.
type GoMidiFrontend struct {
	receiver Receiver

	mu       sync.Mutex
	inPorts  []drivers.In
	outPorts []drivers.Out
	senders  map[int]func(msg gomidi.Message) error
	stops    []func()
	stop     chan struct{}
}

// NewGoMidiFrontend returns a frontend delivering inbound messages to the
// given receiver.
func NewGoMidiFrontend(receiver Receiver) *GoMidiFrontend {
	return &GoMidiFrontend{
		receiver: receiver,
		senders:  make(map[int]func(msg gomidi.Message) error),
		stop:     make(chan struct{}),
	}
}

// Init scans the available ports.
func (f *GoMidiFrontend) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inPorts = gomidi.GetInPorts()
	f.outPorts = gomidi.GetOutPorts()
	for i, p := range f.inPorts {
		logging.Log("midi", "input %d: %s", i, p.String())
	}
	for i, p := range f.outPorts {
		logging.Log("midi", "output %d: %s", i, p.String())
	}
	return nil
}

// InputPorts returns the number of available input ports.
func (f *GoMidiFrontend) InputPorts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inPorts)
}

// OutputPorts returns the number of available output ports.
func (f *GoMidiFrontend) OutputPorts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outPorts)
}

// Run listens on every input port until Stop is called. Blocking.
func (f *GoMidiFrontend) Run() error {
	start := time.Now()
	f.mu.Lock()
	for i, inPort := range f.inPorts {
		port := i
		stopFn, err := gomidi.ListenTo(inPort, func(msg gomidi.Message, _ int32) {
			f.receiver.SendMidi(port, msg.Bytes(), time.Since(start))
		})
		if err != nil {
			f.mu.Unlock()
			return fmt.Errorf("midi listen on port %d: %w", i, err)
		}
		f.stops = append(f.stops, stopFn)
	}
	f.mu.Unlock()

	<-f.stop
	return nil
}

// Stop closes every listener and sender.
func (f *GoMidiFrontend) Stop() {
	f.mu.Lock()
	for _, stopFn := range f.stops {
		stopFn()
	}
	f.stops = nil
	f.mu.Unlock()
	close(f.stop)
	gomidi.CloseDriver()
}

// SendMidi delivers an outbound raw message on the given output port.
func (f *GoMidiFrontend) SendMidi(port int, data []byte, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if port < 0 || port >= len(f.outPorts) {
		return
	}
	send, ok := f.senders[port]
	if !ok {
		var err error
		send, err = gomidi.SendTo(f.outPorts[port])
		if err != nil {
			logging.Log("midi", "open output %d: %v", port, err)
			return
		}
		f.senders[port] = send
	}
	if err := send(gomidi.Message(data)); err != nil {
		logging.Log("midi", "send on output %d: %v", port, err)
	}
}

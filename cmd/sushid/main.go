// Command sushid runs a headless realtime audio host.
//
// Usage:
//
//	sushid -config rig.json
//	sushid -config rig.json -frontend portaudio -cores 2
//	sushid -frontend dummy -timings
//
// The configuration file describes tracks, plugins, MIDI routing and
// CV/gate connections; see the config package for the schema.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/duanchangstar/sushi/config"
	"github.com/duanchangstar/sushi/control"
	"github.com/duanchangstar/sushi/engine"
	audiofrontend "github.com/duanchangstar/sushi/frontends/audio"
	midifrontend "github.com/duanchangstar/sushi/frontends/midi"
	"github.com/duanchangstar/sushi/internal/logging"
	"github.com/duanchangstar/sushi/midirouter"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to the JSON configuration file")
		frontendName = flag.String("frontend", "portaudio", "audio frontend: portaudio, oto, dummy")
		midiName     = flag.String("midi", "gomidi", "midi frontend: gomidi, null")
		sampleRate   = flag.Float64("sample-rate", 48000, "sample rate in Hz")
		cores        = flag.Int("cores", 1, "cpu cores for audio processing")
		channels     = flag.Int("channels", 2, "audio channel count")
		timings      = flag.Bool("timings", false, "collect and print processor timings on exit")
		logFile      = flag.String("log", "", "also write the log to this file")
	)
	flag.Parse()

	if *logFile != "" {
		if err := logging.EnableFile(*logFile); err != nil {
			fmt.Fprintf(os.Stderr, "cannot open log file: %v\n", err)
			os.Exit(1)
		}
	}

	if err := run(*configPath, *frontendName, *midiName, *sampleRate, *cores, *channels, *timings); err != nil {
		fmt.Fprintf(os.Stderr, "sushid: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, frontendName, midiName string, sampleRate float64, cores, channels int, timings bool) error {
	eng := engine.New(sampleRate, cores)
	defer eng.Close()

	midiDispatcher := midirouter.NewDispatcher(eng, eng.Dispatcher())
	eng.Dispatcher().SubscribeToKeyboardEvents(midiDispatcher.ProcessKeyboardEvent)

	var midiFe midifrontend.Frontend
	switch midiName {
	case "gomidi":
		fe := midifrontend.NewGoMidiFrontend(midiDispatcher)
		if err := fe.Init(); err != nil {
			return err
		}
		midiDispatcher.SetMidiInputs(fe.InputPorts())
		midiDispatcher.SetMidiOutputs(fe.OutputPorts())
		midiFe = fe
	case "null":
		midiFe = &midifrontend.NullFrontend{}
	default:
		return fmt.Errorf("unknown midi frontend %q", midiName)
	}
	midiDispatcher.SetFrontend(midiFe)

	var audioFe audiofrontend.Frontend
	switch frontendName {
	case "portaudio":
		audioFe = audiofrontend.NewPortAudioFrontend(eng, channels, channels)
	case "oto":
		audioFe = audiofrontend.NewOtoFrontend(eng, channels)
	case "dummy":
		audioFe = audiofrontend.NewDummyFrontend(eng, channels)
	default:
		return fmt.Errorf("unknown audio frontend %q", frontendName)
	}
	if err := audioFe.Init(); err != nil {
		return err
	}

	if configPath != "" {
		configurator, err := config.NewConfigurator(eng, midiDispatcher, configPath)
		if err != nil {
			return err
		}
		if err := configurator.LoadAll(); err != nil {
			return err
		}
	}

	if timings {
		eng.PerformanceTimer().Enable(true)
	}

	eng.Dispatcher().Run()
	defer eng.Dispatcher().Stop()
	eng.EnableRealtime(true)

	// The control facade is where remote frontends would attach.
	_ = control.New(eng)

	go func() {
		if err := midiFe.Run(); err != nil {
			logging.Log("midi", "frontend stopped: %v", err)
		}
	}()

	errs := make(chan error, 1)
	go func() { errs <- audioFe.Run() }()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logging.Log("main", "received %v, shutting down", sig)
	case err := <-errs:
		if err != nil {
			return err
		}
	}

	audioFe.Stop()
	midiFe.Stop()
	if timings {
		eng.PrintTimingsToLog()
		eng.PerformanceTimer().Enable(false)
	}
	return nil
}

package engine

import (
	"sync"

	"github.com/duanchangstar/sushi/perf"
	"github.com/duanchangstar/sushi/processors"
)

// workerPool renders tracks in parallel during a chunk. Each chunk assigns
// one track per worker task and the audio thread joins on the barrier
// before mixing outputs, so track processing order never observably
// changes. Tracks must not share processors.
type workerPool struct {
	tasks chan *processors.Track
	wg    sync.WaitGroup
	timer *perf.Timer
	stop  chan struct{}
}

func newWorkerPool(workers int, timer *perf.Timer) *workerPool {
	p := &workerPool{
		tasks: make(chan *processors.Track, workers),
		timer: timer,
		stop:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *workerPool) worker() {
	for {
		select {
		case track := <-p.tasks:
			start := p.timer.Start()
			track.Render()
			p.timer.StopFor(start, int(track.ID()))
			p.wg.Done()
		case <-p.stop:
			return
		}
	}
}

// process renders every track and blocks until all are done.
func (p *workerPool) process(tracks []*processors.Track) {
	p.wg.Add(len(tracks))
	for _, track := range tracks {
		p.tasks <- track
	}
	p.wg.Wait()
}

func (p *workerPool) close() {
	close(p.stop)
}

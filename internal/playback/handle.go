package playback

import (
	"context"
	"sync"
	"sync/atomic"
)

// Playback is one waveform being played in the background.
type Playback struct {
	cancel  context.CancelCauseFunc
	done    chan struct{}
	total   int
	written atomic.Int64

	mu  sync.Mutex
	err error
}

// Done is closed once the device was released.
func (p *Playback) Done() <-chan struct{} { return p.done }

// Err returns the playback result after Done is closed.
func (p *Playback) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Frames returns the number of frames handed to the device so far.
func (p *Playback) Frames() int { return int(p.written.Load()) }

// Total returns the number of frames in the waveform.
func (p *Playback) Total() int { return p.total }

func (p *Playback) finish(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	close(p.done)
}

// stop cancels the playback and waits for its device release.
func (p *Playback) stop() {
	p.cancel(ErrStopped)
	<-p.done
}

package capture

import (
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Recorder reads an audio frame channel and emits the bytes it collected once
// per interval as one fragment. A stopped Recorder hands back whatever it had
// read but not yet emitted; frames it never read stay queued in the channel
// for the next Recorder.
type Recorder struct {
	frames   <-chan audio.AudioFrame
	interval time.Duration
	onFrame  func([]byte)

	out  chan []byte
	stop chan struct{}
	done chan struct{}
	once sync.Once

	// written by run before done is closed
	leftover []byte
}

// NewRecorder starts a recorder over frames. onFrame, if non-nil, is called
// from the recorder goroutine with every frame's data before it is buffered.
func NewRecorder(frames <-chan audio.AudioFrame, interval time.Duration, onFrame func([]byte)) *Recorder {
	r := &Recorder{
		frames:   frames,
		interval: interval,
		onFrame:  onFrame,
		out:      make(chan []byte),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Fragments returns the fragment channel. It is closed only when the
// underlying frame channel closes (the device went away), after the final
// fragment has been delivered. Stopping the recorder does not close it.
func (r *Recorder) Fragments() <-chan []byte { return r.out }

// Stop halts the recorder and returns the bytes it had read but not emitted.
// Calling Stop more than once is safe; later calls return nil.
func (r *Recorder) Stop() []byte {
	var left []byte
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		left = r.leftover
	})
	return left
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	var pending []byte

	// emit delivers pending as one fragment. It reports false if the
	// recorder was stopped while waiting for the consumer.
	emit := func() bool {
		if len(pending) == 0 {
			return true
		}
		select {
		case r.out <- pending:
			pending = nil
			return true
		case <-r.stop:
			r.leftover = pending
			return false
		}
	}

	for {
		select {
		case <-r.stop:
			r.leftover = pending
			return

		case f, ok := <-r.frames:
			if !ok {
				if emit() {
					close(r.out)
				}
				return
			}
			if r.onFrame != nil {
				r.onFrame(f.Data)
			}
			pending = append(pending, f.Data...)

		case <-ticker.C:
			if !emit() {
				return
			}
		}
	}
}

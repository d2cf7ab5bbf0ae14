// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Stream] for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that tests
// can assert on call counts, and they expose exported fields that the test can
// set to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(audio.Format{ContentType: audio.ContentTypePCM, SampleRate: 16000, Channels: 1}, 64)
//	src := &mock.Source{Stream: stream}
//	got, err := src.Open(ctx)
//	stream.Push([]byte{0x01, 0x02})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// ─── Stream ───────────────────────────────────────────────────────────────────

// Stream is a mock implementation of [audio.Stream]. Tests feed frames with
// [Stream.Push] and simulate device loss with [Stream.End].
type Stream struct {
	mu     sync.Mutex
	sendMu sync.RWMutex
	format audio.Format
	frames chan audio.AudioFrame
	done   chan struct{}
	start  time.Time
	endMu  sync.Once

	// CloseError is returned by [Stream.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewStream returns a Stream with the given format and frame channel capacity.
func NewStream(format audio.Format, buffer int) *Stream {
	return &Stream{
		format: format,
		frames: make(chan audio.AudioFrame, buffer),
		done:   make(chan struct{}),
		start:  time.Now(),
	}
}

// Frames implements [audio.Stream].
func (s *Stream) Frames() <-chan audio.AudioFrame { return s.frames }

// Format implements [audio.Stream].
func (s *Stream) Format() audio.Format { return s.format }

// Push enqueues one frame. It blocks while the channel is full and reports
// false if the stream has ended.
func (s *Stream) Push(data []byte) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.frames <- audio.AudioFrame{Data: data, Timestamp: time.Since(s.start)}:
		return true
	case <-s.done:
		return false
	}
}

// End closes the frame channel, simulating the device going away. Frames
// already queued stay readable. Calling End more than once is safe.
func (s *Stream) End() {
	s.endMu.Do(func() {
		close(s.done)
		s.sendMu.Lock()
		close(s.frames)
		s.sendMu.Unlock()
	})
}

// Close implements [audio.Stream]. It ends the stream and returns CloseError.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CallCountClose++
	err := s.CloseError
	s.mu.Unlock()
	s.End()
	return err
}

// Closed reports whether Close has been called at least once.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Stream is returned by [Source.Open] when OpenError is nil. When nil, Open
	// returns a fresh 16 kHz mono PCM stream.
	Stream *Stream

	// OpenError is returned by [Source.Open] when non-nil.
	OpenError error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.Source].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountOpen++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	if s.Stream == nil {
		s.Stream = NewStream(audio.Format{ContentType: audio.ContentTypePCM, SampleRate: 16000, Channels: 1}, 256)
	}
	return s.Stream, nil
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ audio.Stream = (*Stream)(nil)
)

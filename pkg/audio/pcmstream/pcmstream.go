// Package pcmstream implements an [audio.Source] that reads raw 16-bit PCM
// from an [io.Reader] such as stdin or a file, pacing delivery to real time.
//
// It lets the command-line tool transcribe `arecord -f S16_LE -r 16000 -c 1 -`
// style pipelines without a browser client.
package pcmstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

const (
	defaultChunk  = 100 * time.Millisecond
	defaultBuffer = 64
)

// OpenFunc returns the reader a stream consumes. It is called once per
// [Source.Open].
type OpenFunc func() (io.ReadCloser, error)

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithChunkDuration sets how much audio each frame carries. Defaults to 100 ms.
func WithChunkDuration(d time.Duration) Option {
	return func(s *Source) { s.chunk = d }
}

// WithRealtime toggles pacing. When false, frames are emitted as fast as the
// reader produces them. Defaults to true.
func WithRealtime(on bool) Option {
	return func(s *Source) { s.realtime = on }
}

// Source reads PCM from a reader produced by an [OpenFunc].
type Source struct {
	open     OpenFunc
	format   audio.Format
	chunk    time.Duration
	realtime bool

	// path is the file behind the source, empty for custom readers.
	path string
}

var _ audio.Source = (*Source)(nil)

// New creates a Source. format must describe PCM; SampleRate and Channels
// default to 16000 and 1.
func New(open OpenFunc, format audio.Format, opts ...Option) *Source {
	if format.ContentType == "" {
		format.ContentType = audio.ContentTypePCM
	}
	if format.SampleRate <= 0 {
		format.SampleRate = 16000
	}
	if format.Channels <= 0 {
		format.Channels = 1
	}
	s := &Source{open: open, format: format, chunk: defaultChunk, realtime: true}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFile creates a Source that reads the file at path on every Open. The
// path "-" reads stdin once; later Opens report the device as unavailable.
func NewFile(path string, format audio.Format, opts ...Option) *Source {
	if path == "-" {
		var once sync.Once
		return New(func() (io.ReadCloser, error) {
			var rc io.ReadCloser
			once.Do(func() { rc = io.NopCloser(os.Stdin) })
			if rc == nil {
				return nil, errors.New("stdin already consumed")
			}
			return rc, nil
		}, format, opts...)
	}
	s := New(func() (io.ReadCloser, error) { return os.Open(path) }, format, opts...)
	s.path = path
	return s
}

// Available reports whether the next Open can succeed. For file sources it
// checks that the file exists and is readable; other sources always report
// true.
func (s *Source) Available() bool {
	if s.path == "" {
		return true
	}
	f, err := os.Open(s.path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Open starts reading. Open errors are classified: permission failures wrap
// [audio.ErrPermissionDenied], everything else wraps [audio.ErrDeviceUnavailable].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("pcmstream: %w", errors.Join(audio.ErrDeviceUnavailable, err))
	}
	rc, err := s.open()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("pcmstream: open: %w", errors.Join(audio.ErrPermissionDenied, err))
		}
		return nil, fmt.Errorf("pcmstream: open: %w", errors.Join(audio.ErrDeviceUnavailable, err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	st := &stream{
		rc:     rc,
		format: s.format,
		frames: make(chan audio.AudioFrame, defaultBuffer),
		cancel: cancel,
	}
	go st.readLoop(loopCtx, s.chunkBytes(), s.chunk, s.realtime)
	return st, nil
}

// chunkBytes returns the frame size in bytes, aligned to whole samples.
func (s *Source) chunkBytes() int {
	frameBytes := 2 * s.format.Channels
	n := int(int64(s.format.SampleRate) * int64(s.chunk) / int64(time.Second))
	if n <= 0 {
		n = 1
	}
	return n * frameBytes
}

type stream struct {
	rc     io.ReadCloser
	format audio.Format
	frames chan audio.AudioFrame
	cancel context.CancelFunc
	once   sync.Once
}

func (st *stream) Frames() <-chan audio.AudioFrame { return st.frames }
func (st *stream) Format() audio.Format            { return st.format }

func (st *stream) Close() error {
	var err error
	st.once.Do(func() {
		st.cancel()
		err = st.rc.Close()
	})
	return err
}

func (st *stream) readLoop(ctx context.Context, size int, every time.Duration, realtime bool) {
	defer close(st.frames)

	start := time.Now()
	var sent time.Duration
	for {
		buf := make([]byte, size)
		n, err := io.ReadFull(st.rc, buf)
		if n > 0 {
			n -= n % (2 * st.format.Channels)
			if n > 0 {
				select {
				case st.frames <- audio.AudioFrame{Data: buf[:n], Timestamp: sent}:
				case <-ctx.Done():
					return
				}
				sent += every
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
				slog.Warn("pcmstream: read failed", "err", err)
			}
			return
		}
		if realtime {
			wait := time.Until(start.Add(sent))
			if wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

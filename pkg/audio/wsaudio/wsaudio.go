// Package wsaudio implements an [audio.Source] fed by a browser client over a
// WebSocket.
//
// The client connects to the handler returned by the Source (mounted at
// /v1/audio by the API server), sends a JSON [Hello] text message describing
// the capture format, and then streams binary messages, one per recorded
// chunk. A client that could not acquire its microphone sends a Hello with
// Error set instead, which surfaces from [Source.Open] as
// [audio.ErrPermissionDenied] or [audio.ErrDeviceUnavailable].
//
// Only one client may be attached at a time. Connections arriving while a
// stream is active are rejected with a policy-violation close.
package wsaudio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Hello error codes sent by clients that could not open their microphone.
const (
	ErrorPermissionDenied  = "permission_denied"
	ErrorDeviceUnavailable = "device_unavailable"
)

const (
	defaultHelloTimeout   = 10 * time.Second
	defaultHandoffTimeout = 30 * time.Second
	defaultFrameBuffer    = 256
	defaultReadLimit      = 4 << 20
	defaultSampleRate     = 16000
)

// Hello is the first message a client sends after connecting.
type Hello struct {
	ContentType string `json:"content_type,omitempty"`
	SampleRate  int    `json:"sample_rate,omitempty"`
	Channels    int    `json:"channels,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Format converts the hello into an [audio.Format], applying defaults for PCM
// clients that omit the sample layout.
func (h Hello) Format() audio.Format {
	f := audio.Format{ContentType: h.ContentType, SampleRate: h.SampleRate, Channels: h.Channels}
	if f.ContentType == "" {
		f.ContentType = audio.ContentTypePCM
	}
	if f.IsPCM() {
		if f.SampleRate <= 0 {
			f.SampleRate = defaultSampleRate
		}
		if f.Channels <= 0 {
			f.Channels = 1
		}
	}
	return f
}

// helloError maps a client-reported error code to a sentinel error.
func helloError(code string) error {
	switch code {
	case ErrorPermissionDenied:
		return fmt.Errorf("wsaudio: client reported %q: %w", code, audio.ErrPermissionDenied)
	default:
		return fmt.Errorf("wsaudio: client reported %q: %w", code, audio.ErrDeviceUnavailable)
	}
}

// Option is a functional option for configuring a [Source].
type Option func(*Source)

// WithHelloTimeout bounds how long a freshly connected client may take to send
// its Hello. Defaults to 10 s.
func WithHelloTimeout(d time.Duration) Option {
	return func(s *Source) { s.helloTimeout = d }
}

// WithHandoffTimeout bounds how long a connected client waits for a session to
// call [Source.Open] before it is disconnected. Defaults to 30 s.
func WithHandoffTimeout(d time.Duration) Option {
	return func(s *Source) { s.handoffTimeout = d }
}

// WithFrameBuffer sets the capacity of the frame channel. Defaults to 256.
func WithFrameBuffer(n int) Option {
	return func(s *Source) { s.frameBuffer = n }
}

// WithOriginPatterns sets the origins accepted for cross-origin WebSocket
// upgrades (see [websocket.AcceptOptions.OriginPatterns]).
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Source) { s.originPatterns = patterns }
}

// offer is handed from a connected client to a waiting Open call.
type offer struct {
	stream *stream
	err    error
	taken  chan bool
}

// Source accepts browser audio connections and hands them to sessions. It is
// both an [audio.Source] and an [http.Handler].
type Source struct {
	helloTimeout   time.Duration
	handoffTimeout time.Duration
	frameBuffer    int
	originPatterns []string

	offers chan offer

	mu     sync.Mutex
	active *stream
}

// Compile-time interface assertions.
var (
	_ audio.Source = (*Source)(nil)
	_ http.Handler = (*Source)(nil)
	_ audio.Stream = (*stream)(nil)
)

// New creates a Source with the given options.
func New(opts ...Option) *Source {
	s := &Source{
		helloTimeout:   defaultHelloTimeout,
		handoffTimeout: defaultHandoffTimeout,
		frameBuffer:    defaultFrameBuffer,
		offers:         make(chan offer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open waits for a client to connect and returns its stream. If no client
// arrives before ctx is done, Open returns an error wrapping
// [audio.ErrDeviceUnavailable].
func (s *Source) Open(ctx context.Context) (audio.Stream, error) {
	select {
	case o := <-s.offers:
		if o.err != nil {
			o.taken <- true
			return nil, o.err
		}
		s.mu.Lock()
		if s.active != nil && !s.active.isClosed() {
			s.mu.Unlock()
			o.taken <- false
			return nil, fmt.Errorf("wsaudio: stream already attached: %w", audio.ErrDeviceUnavailable)
		}
		s.active = o.stream
		s.mu.Unlock()
		o.taken <- true
		return o.stream, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("wsaudio: no client connected: %w", errors.Join(audio.ErrDeviceUnavailable, ctx.Err()))
	}
}

// Attached reports whether a client stream is currently attached to a session.
func (s *Source) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil && !s.active.isClosed()
}

// ServeHTTP upgrades the request to a WebSocket, reads the client's Hello and
// waits for a session to claim the connection. It returns when the stream is
// closed or the client disconnects.
func (s *Source) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Attached() {
		http.Error(w, "audio stream already attached", http.StatusConflict)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		slog.Warn("wsaudio: accept failed", "err", err)
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	hello, err := s.readHello(r.Context(), conn)
	if err != nil {
		slog.Warn("wsaudio: invalid hello", "remote", r.RemoteAddr, "err", err)
		conn.Close(websocket.StatusPolicyViolation, "expected hello message")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := offer{taken: make(chan bool, 1)}
	if hello.Error != "" {
		o.err = helloError(hello.Error)
	} else {
		o.stream = newStream(conn, hello.Format(), s.frameBuffer, cancel)
	}

	handoff := time.NewTimer(s.handoffTimeout)
	defer handoff.Stop()
	select {
	case s.offers <- o:
	case <-handoff.C:
		conn.Close(websocket.StatusTryAgainLater, "no capture session waiting")
		return
	case <-r.Context().Done():
		conn.CloseNow()
		return
	}

	if !<-o.taken || o.err != nil {
		conn.Close(websocket.StatusPolicyViolation, "capture not started")
		return
	}

	slog.Info("wsaudio: client attached",
		"remote", r.RemoteAddr,
		"content_type", o.stream.format.ContentType,
		"sample_rate", o.stream.format.SampleRate,
		"channels", o.stream.format.Channels,
	)
	o.stream.readLoop(ctx)
	conn.Close(websocket.StatusNormalClosure, "capture stopped")
}

func (s *Source) readHello(ctx context.Context, conn *websocket.Conn) (Hello, error) {
	ctx, cancel := context.WithTimeout(ctx, s.helloTimeout)
	defer cancel()

	typ, data, err := conn.Read(ctx)
	if err != nil {
		return Hello{}, fmt.Errorf("read hello: %w", err)
	}
	if typ != websocket.MessageText {
		return Hello{}, errors.New("hello must be a text message")
	}
	var h Hello
	if err := json.Unmarshal(data, &h); err != nil {
		return Hello{}, fmt.Errorf("decode hello: %w", err)
	}
	return h, nil
}

// ─── stream ───────────────────────────────────────────────────────────────────

// stream is one attached client connection.
type stream struct {
	conn   *websocket.Conn // read only by readLoop
	format audio.Format
	frames chan audio.AudioFrame
	cancel context.CancelFunc
	start  time.Time

	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

func newStream(conn *websocket.Conn, format audio.Format, buffer int, cancel context.CancelFunc) *stream {
	return &stream{
		conn:   conn,
		format: format,
		frames: make(chan audio.AudioFrame, buffer),
		cancel: cancel,
		start:  time.Now(),
	}
}

func (st *stream) Frames() <-chan audio.AudioFrame { return st.frames }
func (st *stream) Format() audio.Format            { return st.format }

// Close disconnects the client. Frames already queued stay readable until the
// channel is closed by the read loop.
func (st *stream) Close() error {
	st.closeOnce.Do(func() {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
		st.cancel()
	})
	return nil
}

func (st *stream) isClosed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.closed
}

// readLoop forwards binary messages to the frame channel until the client
// disconnects or the stream is closed. It is the only sender on frames.
func (st *stream) readLoop(ctx context.Context) {
	defer close(st.frames)
	defer func() {
		st.mu.Lock()
		st.closed = true
		st.mu.Unlock()
	}()

	for {
		typ, data, err := st.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slog.Warn("wsaudio: client stream ended", "err", err)
			}
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}
		select {
		case st.frames <- audio.AudioFrame{Data: data, Timestamp: time.Since(st.start)}:
		case <-ctx.Done():
			return
		}
	}
}

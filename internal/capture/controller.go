package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
)

// Defaults applied to a zero [Config].
const (
	DefaultOpenTimeout      = 10 * time.Second
	DefaultFragmentInterval = time.Second
	defaultDrainTimeout     = 2 * time.Second
)

// Config tunes a [Controller]. Zero values select defaults.
type Config struct {
	// OpenTimeout bounds [audio.Source.Open]. Default: 10s.
	OpenTimeout time.Duration

	// FragmentInterval is how often the recorder emits a fragment. Default: 1s.
	FragmentInterval time.Duration

	// TargetSampleRate, when positive, normalises PCM streams to mono at this
	// rate before recording.
	TargetSampleRate int

	// DrainTimeout bounds how long Stop waits for the released stream to hand
	// over frames it had already queued. Default: 2s.
	DrainTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = DefaultOpenTimeout
	}
	if c.FragmentInterval <= 0 {
		c.FragmentInterval = DefaultFragmentInterval
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
}

// Controller owns the audio stream handle, the active [Recorder] and the open
// [Buffer] for one recording session.
//
// Controller is not safe for concurrent use: the session loop is its only
// caller. The recorder goroutine only ever hands fragments to the loop over a
// channel.
type Controller struct {
	source audio.Source
	cfg    Config

	stream audio.Stream
	format audio.Format
	rec    *Recorder
	open   *Buffer

	// header is the container initialisation data collected from the first
	// frames into headBuf. Both are written only by the running recorder and
	// read only between recorders, after the previous one has stopped.
	header     []byte
	headBuf    []byte
	headerDone bool

	headerSent bool
	emitted    int
}

// NewController creates a controller for src.
func NewController(src audio.Source, cfg Config) *Controller {
	cfg.applyDefaults()
	return &Controller{source: src, cfg: cfg}
}

// Start opens the source and starts recording into a fresh buffer. Open
// failures wrap [audio.ErrPermissionDenied] or [audio.ErrDeviceUnavailable];
// errors that carry neither are classified as device unavailable.
func (c *Controller) Start(ctx context.Context) error {
	if c.stream != nil {
		return errors.New("capture: already started")
	}

	openCtx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout)
	defer cancel()

	stream, err := c.source.Open(openCtx)
	if err != nil {
		if errors.Is(err, audio.ErrPermissionDenied) || errors.Is(err, audio.ErrDeviceUnavailable) {
			return fmt.Errorf("capture: open source: %w", err)
		}
		return fmt.Errorf("capture: open source: %w", errors.Join(audio.ErrDeviceUnavailable, err))
	}

	if c.cfg.TargetSampleRate > 0 {
		stream = audio.NormalizeStream(stream, c.cfg.TargetSampleRate)
	}
	c.stream = stream
	c.format = stream.Format()
	c.open = NewBuffer()

	c.headerDone = c.format.IsPCM()
	c.rec = NewRecorder(stream.Frames(), c.cfg.FragmentInterval, c.frameHook())

	slog.Debug("capture started",
		"content_type", c.format.ContentType,
		"sample_rate", c.format.SampleRate,
		"channels", c.format.Channels,
	)
	return nil
}

// frameHook returns the recorder callback that collects the container header,
// or nil once the header is known.
func (c *Controller) frameHook() func([]byte) {
	if c.headerDone {
		return nil
	}
	return c.captureHeader
}

// captureHeader accumulates the leading stream bytes until the container
// header is complete.
func (c *Controller) captureHeader(data []byte) {
	if c.headerDone {
		return
	}
	c.headBuf = append(c.headBuf, data...)
	header, complete := audio.ContainerHeader(c.format.ContentType, c.headBuf)
	if !complete {
		return
	}
	if header == nil && len(c.headBuf) >= audio.MaxContainerHeader {
		slog.Warn("capture: no container header found, later segments are sent without one",
			"content_type", c.format.ContentType,
			"searched_bytes", len(c.headBuf),
		)
	}
	c.header, c.headBuf, c.headerDone = header, nil, true
}

// ContentType returns the content type to declare for detached segments.
func (c *Controller) ContentType() string { return c.format.MIMEType() }

// Fragments returns the active recorder's fragment channel, or nil when not
// recording. The channel changes on every restart, so callers must fetch it
// again each time they wait on it. A closed channel means the device is gone.
func (c *Controller) Fragments() <-chan []byte {
	if c.rec == nil {
		return nil
	}
	return c.rec.Fragments()
}

// Append adds a fragment received from [Controller.Fragments] to the open
// buffer.
func (c *Controller) Append(frag []byte) {
	if c.open == nil || len(frag) == 0 {
		return
	}
	c.open.Append(frag)
	c.emitted++
}

// OpenBuffer returns a read-only view of the open buffer's counters.
func (c *Controller) OpenBuffer() (fragments, bytes int) {
	if c.open == nil {
		return 0, 0
	}
	return c.open.FragmentCount(), c.open.TotalBytes()
}

// Emitted returns how many fragments have been appended since Start,
// including leftovers collected on restart.
func (c *Controller) Emitted() int { return c.emitted }

// RestartSegment stops the current recorder, moves its unemitted bytes into
// the open buffer, detaches that buffer, installs a new empty one and starts a
// new recorder on the same stream. The returned buffer is owned by the caller.
// Returns nil if not recording.
func (c *Controller) RestartSegment() *Buffer {
	if c.rec == nil {
		return nil
	}
	c.Append(c.rec.Stop())
	seg := c.detach()
	c.rec = NewRecorder(c.stream.Frames(), c.cfg.FragmentInterval, c.frameHook())
	return seg
}

// Stop performs the final detach and releases the stream. Frames the stream
// had already queued are drained into the final buffer. Returns nil if not
// recording. The controller cannot be restarted.
func (c *Controller) Stop() *Buffer {
	if c.rec == nil {
		return nil
	}
	c.Append(c.rec.Stop())
	c.rec = nil

	if err := c.stream.Close(); err != nil {
		slog.Warn("capture: close stream", "err", err)
	}
	c.Append(c.drain())

	return c.detach()
}

// drain collects frames left in the released stream's channel.
func (c *Controller) drain() []byte {
	var tail []byte
	timeout := time.NewTimer(c.cfg.DrainTimeout)
	defer timeout.Stop()
	for {
		select {
		case f, ok := <-c.stream.Frames():
			if !ok {
				return tail
			}
			tail = append(tail, f.Data...)
		case <-timeout.C:
			slog.Warn("capture: stream did not close after release", "drained_bytes", len(tail))
			return tail
		}
	}
}

// detach hands the open buffer over and installs a new one in the same step.
func (c *Controller) detach() *Buffer {
	seg := c.open
	c.open = NewBuffer()
	if seg.Empty() {
		return seg
	}
	// The first non-empty segment already starts with the header.
	if c.headerSent && c.header != nil {
		seg.setPrefix(c.header)
	}
	c.headerSent = true
	return seg
}

// Package session runs one live recording session: it freezes captured audio
// into segments on a fixed cadence, sends them one at a time to a transcriber,
// appends the results to a running transcript and tracks transcription
// health.
//
// A [Session] owns a single event-loop goroutine. The loop is the only code
// that touches the capture controller and the session's mutable state; HTTP
// and MCP readers see snapshots published under a read lock.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/livescribe/internal/capture"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

// Option configures a [Session].
type Option func(*Session)

// WithEventSink sets the receiver of session events.
func WithEventSink(sink EventSink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// Snapshot is a consistent read-only view of a session.
type Snapshot struct {
	ID          string        `json:"id"`
	State       State         `json:"state"`
	Quality     Quality       `json:"quality"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	EndedAt     time.Time     `json:"ended_at,omitzero"`
	Elapsed     time.Duration `json:"elapsed_ns"`
	MaxDuration time.Duration `json:"max_duration_ns"`
	Stats       Stats         `json:"stats"`
	EndReason   EndReason     `json:"end_reason,omitempty"`
	EndMessage  string        `json:"end_message,omitempty"`
}

// Session is one recording session. Create it with [New], then call
// [Session.Start] once. A stopped session cannot be restarted.
type Session struct {
	id         string
	cfg        Config
	capture    *capture.Controller
	dispatcher *Dispatcher
	transcript *transcript.Accumulator
	sink       EventSink
	metrics    *observe.Metrics
	log        *slog.Logger

	stopCh  chan EndReason
	results chan Result
	done    chan struct{}

	startMu sync.Mutex

	// Published state. Written only by Start and the loop.
	mu        sync.RWMutex
	state     State
	quality   Quality
	stats     Stats
	startedAt time.Time
	endedAt   time.Time
	endReason EndReason

	// Loop-owned state.
	runCtx        context.Context
	inflight      bool
	lastFreezeAt  time.Time
	lastSuccessAt time.Time
	alerted       bool
	seq           int
}

// New creates an idle session recording from src and transcribing with tr.
func New(src audio.Source, tr transcriber.Provider, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		capture:    capture.NewController(src, cfg.Capture),
		transcript: &transcript.Accumulator{},
		sink:       discardSink{},
		stopCh:     make(chan EndReason, 1),
		results:    make(chan Result, 1),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.dispatcher = NewDispatcher(tr, cfg.AttemptTimeout, cfg.RetryBaseDelay, s.metrics)
	s.log = observe.Logger(observe.WithSession(context.Background(), s.id))
	s.dispatcher.log = s.log
	return s
}

// Start opens the audio source and begins capturing. If the source cannot be
// opened the session stays idle and the error wraps
// [audio.ErrDeviceUnavailable] or [audio.ErrPermissionDenied]. An invalid
// [Config] is rejected before the source is opened.
//
// ctx bounds the session: cancelling it stops the session with reason
// [EndShutdown]. In-flight transcription attempts are not aborted.
func (s *Session) Start(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	ctx = observe.WithSession(ctx, s.id)
	if err := s.begin(ctx); err != nil {
		return err
	}
	go s.run(ctx)
	return nil
}

// begin opens the source and moves the session to StateCapturing without
// starting the loop.
func (s *Session) begin(ctx context.Context) error {
	if st := s.State(); st != StateIdle {
		return fmt.Errorf("session %s: start in state %s: %w", s.id, st, ErrSessionActive)
	}
	if err := s.cfg.Validate(); err != nil {
		return fmt.Errorf("session %s: invalid config: %w", s.id, err)
	}
	if err := s.capture.Start(ctx); err != nil {
		return fmt.Errorf("session %s: %w", s.id, err)
	}

	now := time.Now()
	s.mu.Lock()
	s.state = StateCapturing
	s.startedAt = now
	s.mu.Unlock()

	s.runCtx = ctx
	s.lastFreezeAt = now
	s.lastSuccessAt = now

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("session started",
		"content_type", s.capture.ContentType(),
		"max_duration", s.cfg.MaxDuration,
	)
	s.publish(Event{Type: EventSessionStarted})
	return nil
}

// Stop asks the session to stop with reason [EndUserStop]. It does not wait;
// use [Session.Done] or [Session.Wait]. Stopping a session that is not
// capturing is a no-op.
func (s *Session) Stop() {
	if s.State() != StateCapturing {
		return
	}
	select {
	case s.stopCh <- EndUserStop:
	default:
	}
}

// Done is closed once the session reached [StateStopped]. It is never closed
// for a session that failed to start.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until the session stopped or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Quality returns the current quality state.
func (s *Session) Quality() Quality {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.quality
}

// Stats returns a copy of the session counters.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Transcript returns the accumulated transcript text.
func (s *Session) Transcript() string { return s.transcript.Text() }

// Entries returns the transcribed segments in arrival order.
func (s *Session) Entries() []transcript.Entry { return s.transcript.Entries() }

// Elapsed returns the capture time so far, never more than the configured
// maximum duration.
func (s *Session) Elapsed() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.elapsedLocked(time.Now())
}

func (s *Session) elapsedLocked(now time.Time) time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	end := now
	if !s.endedAt.IsZero() {
		end = s.endedAt
	}
	return min(end.Sub(s.startedAt), s.cfg.MaxDuration)
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		ID:          s.id,
		State:       s.state,
		Quality:     s.quality,
		StartedAt:   s.startedAt,
		EndedAt:     s.endedAt,
		Elapsed:     s.elapsedLocked(time.Now()),
		MaxDuration: s.cfg.MaxDuration,
		Stats:       s.stats,
		EndReason:   s.endReason,
	}
	if s.endReason != "" {
		snap.EndMessage = s.endReason.message()
	}
	return snap
}

func (s *Session) publish(e Event) {
	e.SessionID = s.id
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.sink.Publish(e)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) updateStats(fn func(*Stats)) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.stats)
	return s.stats
}

// run is the session event loop.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)

	sched := time.NewTicker(s.cfg.TickInterval)
	monitor := time.NewTicker(s.cfg.QualityInterval)
	capTimer := time.NewTimer(s.cfg.MaxDuration)
	stopTimers := func() {
		sched.Stop()
		monitor.Stop()
		capTimer.Stop()
	}

	for {
		var reason EndReason
		select {
		case frag, ok := <-s.capture.Fragments():
			if ok {
				s.capture.Append(frag)
				continue
			}
			reason = EndDeviceError
		case now := <-sched.C:
			s.scheduleTick(now)
			continue
		case now := <-monitor.C:
			s.checkQuality(now)
			continue
		case res := <-s.results:
			s.handleResult(res)
			continue
		case <-capTimer.C:
			reason = EndDurationCap
		case reason = <-s.stopCh:
		case <-ctx.Done():
			reason = EndShutdown
		}

		stopTimers()
		s.shutdown(reason)
		return
	}
}

// shutdown runs the Stopping sequence and ends in StateStopped.
func (s *Session) shutdown(reason EndReason) {
	s.setState(StateStopping)
	s.log.Info("session stopping", "reason", reason)

	s.awaitInflight()

	final := s.capture.Stop()
	if seg, ok := s.freeze(final, time.Now(), true); ok {
		s.dispatch(seg, s.cfg.FinalMaxRetries)
		s.awaitInflight()
	}

	now := time.Now()
	s.mu.Lock()
	s.state = StateStopped
	s.endedAt = now
	s.endReason = reason
	stats := s.stats
	s.mu.Unlock()

	ctx := context.WithoutCancel(s.runCtx)
	s.metrics.ActiveSessions.Add(ctx, -1)
	s.metrics.RecordSessionEnded(ctx, string(reason))
	s.log.Info("session ended",
		"reason", reason,
		"segments_sent", stats.SegmentsSent,
		"segments_ignored", stats.SegmentsIgnored,
		"successes", stats.Successes,
		"failures", stats.Failures,
		"words", stats.WordsTranscribed,
	)
	s.publish(Event{
		Type:    EventSessionEnded,
		At:      now,
		Stats:   &stats,
		Message: reason.message(),
		Reason:  reason,
	})
}

// awaitInflight blocks until the outstanding dispatch, if any, has been
// assembled. Fragments keep flowing into the open buffer meanwhile.
func (s *Session) awaitInflight() {
	frags := s.capture.Fragments()
	for s.inflight {
		select {
		case frag, ok := <-frags:
			if !ok {
				frags = nil
				continue
			}
			s.capture.Append(frag)
		case res := <-s.results:
			s.handleResult(res)
		}
	}
}

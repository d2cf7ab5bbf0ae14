package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/livescribe/internal/capture"
	"github.com/MrWong99/livescribe/internal/config"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

// SessionManager manages the lifecycle of recording sessions.
// Only one session can be active at a time. The most recent session stays
// readable after it stopped so its transcript can still be fetched.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	current  *session.Session
	starting bool
	closed   bool

	// Applied to the next session.
	cfg         session.Config
	transcriber transcriber.Provider

	source  audio.Source
	sink    session.EventSink
	metrics *observe.Metrics

	// ctx is the lifetime of every session started by this manager. It is
	// detached from request contexts and cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Source      audio.Source
	Transcriber transcriber.Provider
	Session     session.Config

	// Events receives every session event. May be nil.
	Events session.EventSink

	// Metrics may be nil, in which case [observe.DefaultMetrics] is used.
	Metrics *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	ctx, cancel := context.WithCancel(context.Background())
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		cfg:         cfg.Session,
		transcriber: cfg.Transcriber,
		source:      cfg.Source,
		sink:        cfg.Events,
		metrics:     m,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start creates and starts a new session. It returns
// [session.ErrSessionActive] if a session is already capturing or stopping.
//
// ctx only bounds the call itself: the session keeps running after the
// caller's request completes, until [SessionManager.Stop], its duration cap,
// device loss or [SessionManager.Shutdown].
func (sm *SessionManager) Start(ctx context.Context) (session.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return session.Snapshot{}, err
	}

	sm.mu.Lock()
	switch {
	case sm.closed:
		sm.mu.Unlock()
		return session.Snapshot{}, session.ErrShuttingDown
	case sm.starting, sm.current != nil && sm.current.State().Active():
		sm.mu.Unlock()
		return session.Snapshot{}, session.ErrSessionActive
	}
	sm.starting = true
	cfg, tr := sm.cfg, sm.transcriber
	sm.mu.Unlock()

	opts := []session.Option{session.WithMetrics(sm.metrics)}
	if sm.sink != nil {
		opts = append(opts, session.WithEventSink(sm.sink))
	}
	s := session.New(sm.source, tr, cfg, opts...)
	err := s.Start(sm.ctx)

	sm.mu.Lock()
	sm.starting = false
	if err == nil {
		sm.current = s
	}
	sm.mu.Unlock()

	if err != nil {
		return session.Snapshot{}, fmt.Errorf("app: start session: %w", err)
	}
	observe.Logger(ctx).Info("session started", "session_id", s.ID())
	return s.Snapshot(), nil
}

// Stop ends the active session and waits until its final segment has been
// transcribed or ctx expires. It returns [session.ErrNoSession] if no session
// is active. When ctx expires first the returned snapshot is still in the
// stopping state and the session finishes in the background.
func (sm *SessionManager) Stop(ctx context.Context) (session.Snapshot, error) {
	sm.mu.Lock()
	s := sm.current
	sm.mu.Unlock()

	if s == nil || !s.State().Active() {
		return session.Snapshot{}, session.ErrNoSession
	}
	s.Stop()
	if err := s.Wait(ctx); err != nil {
		return s.Snapshot(), fmt.Errorf("app: wait for session %s: %w", s.ID(), err)
	}
	observe.Logger(ctx).Info("session stopped", "session_id", s.ID())
	return s.Snapshot(), nil
}

// Current returns the most recent session, or nil if none was ever started.
func (sm *SessionManager) Current() *session.Session {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.current
}

// IsActive reports whether a session is currently capturing or stopping.
func (sm *SessionManager) IsActive() bool {
	s := sm.Current()
	return s != nil && s.State().Active()
}

// State returns the state of the most recent session, or
// [session.StateIdle] if none was ever started.
func (sm *SessionManager) State() session.State {
	s := sm.Current()
	if s == nil {
		return session.StateIdle
	}
	return s.State()
}

// Snapshot returns a view of the most recent session.
func (sm *SessionManager) Snapshot() (session.Snapshot, error) {
	s := sm.Current()
	if s == nil {
		return session.Snapshot{}, session.ErrNoSession
	}
	return s.Snapshot(), nil
}

// Transcript returns the transcript of the most recent session together with
// its entries.
func (sm *SessionManager) Transcript() (string, []transcript.Entry, error) {
	s := sm.Current()
	if s == nil {
		return "", nil, session.ErrNoSession
	}
	return s.Transcript(), s.Entries(), nil
}

// Stats returns the counters of the most recent session.
func (sm *SessionManager) Stats() (session.Stats, error) {
	s := sm.Current()
	if s == nil {
		return session.Stats{}, session.ErrNoSession
	}
	return s.Stats(), nil
}

// Quality returns the quality state of the most recent session.
func (sm *SessionManager) Quality() (session.Quality, error) {
	s := sm.Current()
	if s == nil {
		return session.QualityGood, session.ErrNoSession
	}
	return s.Quality(), nil
}

// UpdateConfig replaces the settings used for the next session. A nil tr
// keeps the current transcriber. The active session, if any, is unaffected.
func (sm *SessionManager) UpdateConfig(cfg session.Config, tr transcriber.Provider) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.cfg = cfg
	if tr != nil {
		sm.transcriber = tr
	}
	slog.Info("session config updated; applies to the next session",
		"min_interval", cfg.MinInterval,
		"max_duration", cfg.MaxDuration,
		"max_retries", cfg.MaxRetries,
	)
}

// Shutdown ends the active session with reason [session.EndShutdown] and
// waits for its final flush or until ctx expires. Further calls to Start
// fail with [session.ErrShuttingDown].
func (sm *SessionManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	s := sm.current
	sm.mu.Unlock()

	sm.cancel()
	if s == nil {
		return nil
	}
	if err := s.Wait(ctx); err != nil {
		return fmt.Errorf("app: session %s did not finish: %w", s.ID(), err)
	}
	return nil
}

// SessionConfig maps the YAML configuration onto the per-session tuning.
func SessionConfig(cfg *config.Config) session.Config {
	sc := session.DefaultConfig()
	sc.TickInterval = cfg.Segment.TickInterval
	sc.MinInterval = cfg.Segment.MinInterval
	sc.MinFragments = cfg.Segment.MinFragments
	sc.MinBytes = cfg.Segment.MinBytes
	sc.MaxBytes = cfg.Segment.MaxBytes
	if r := cfg.Dispatch.MaxRetries; r != nil {
		sc.MaxRetries = *r
	}
	if r := cfg.Dispatch.FinalMaxRetries; r != nil {
		sc.FinalMaxRetries = *r
	}
	sc.RetryBaseDelay = cfg.Dispatch.RetryBaseDelay
	sc.AttemptTimeout = cfg.Transcriber.Timeout
	sc.QualityInterval = cfg.Quality.Interval
	sc.WarnAfter = cfg.Quality.WarnAfter
	sc.ErrorAfter = cfg.Quality.ErrorAfter
	sc.MaxDuration = cfg.Session.MaxDuration
	sc.Capture = capture.Config{
		OpenTimeout:      cfg.Audio.OpenTimeout,
		FragmentInterval: cfg.Audio.FragmentInterval,
		TargetSampleRate: cfg.Audio.TargetSampleRate,
	}
	return sc
}

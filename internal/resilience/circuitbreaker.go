// Package resilience provides circuit breaker and transcriber failover
// primitives.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a transcription backend that keeps failing. [FallbackGroup]
// composes several backends with per-entry breakers, and [TranscriberFallback]
// applies it to [transcriber.Provider] so that a dead primary is bypassed in
// favour of the next healthy backend.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// open and its reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successful probes close the breaker; any failing probe re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker defaults applied by [NewCircuitBreaker].
const (
	DefaultMaxFailures  = 5
	DefaultResetTimeout = 30 * time.Second
	DefaultHalfOpenMax  = 3
)

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels the protected backend in logs and state-change callbacks.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting probes.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls admitted in the half-open state,
	// and the number of successes needed to close again. Default: 3.
	HalfOpenMax int

	// IsFailure reports whether an error returned by the protected call counts
	// against the breaker. Default: every error except [context.Canceled],
	// which means the caller gave up rather than the backend failing.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the mutex
	// released.
	OnStateChange func(name string, from, to State)

	// Now overrides the clock. Default: time.Now.
	Now func() time.Time
}

func defaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// transition is a state change recorded under the lock and reported after it
// is released.
type transition struct {
	from, to State
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probes   int
	probeOK  int
}

// NewCircuitBreaker creates a [CircuitBreaker]. Zero-value config fields are
// replaced with the package defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultMaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = DefaultHalfOpenMax
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = defaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn if the breaker admits the call and records its outcome.
// Open breakers return [ErrCircuitOpen] without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	probe, changed, err := cb.admit()
	cb.notify(changed)
	if err != nil {
		return err
	}

	err = fn()

	cb.notify(cb.record(probe, err))
	return err
}

// admit decides whether a call may proceed and whether it is a half-open
// probe.
func (cb *CircuitBreaker) admit() (probe bool, changed []transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			return false, nil, ErrCircuitOpen
		}
		changed = append(changed, cb.setLocked(StateHalfOpen))
	}
	if cb.state == StateHalfOpen {
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, changed, ErrCircuitOpen
		}
		cb.probes++
		return true, changed, nil
	}
	return false, changed, nil
}

// record accounts for the outcome of an admitted call.
func (cb *CircuitBreaker) record(probe bool, err error) []transition {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// A probe admitted before a concurrent transition no longer counts.
	if probe && cb.state != StateHalfOpen {
		return nil
	}

	switch {
	case err == nil && probe:
		cb.probeOK++
		if cb.probeOK >= cb.cfg.HalfOpenMax {
			return []transition{cb.setLocked(StateClosed)}
		}
	case err == nil:
		cb.failures = 0
	case !cb.cfg.IsFailure(err):
		if probe {
			cb.probes--
		}
	case probe:
		return []transition{cb.setLocked(StateOpen)}
	default:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures && cb.state == StateClosed {
			return []transition{cb.setLocked(StateOpen)}
		}
	}
	return nil
}

// setLocked moves the breaker to state and resets the counters that belong to
// it. Must be called with cb.mu held.
func (cb *CircuitBreaker) setLocked(state State) transition {
	t := transition{from: cb.state, to: state}
	cb.state = state
	cb.probes, cb.probeOK = 0, 0
	switch state {
	case StateOpen:
		cb.openedAt = cb.cfg.Now()
	case StateClosed:
		cb.failures = 0
	}
	return t
}

// notify logs transitions and forwards them to OnStateChange.
func (cb *CircuitBreaker) notify(changed []transition) {
	for _, t := range changed {
		if t.from == t.to {
			continue
		}
		level := slog.LevelInfo
		if t.to == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "circuit breaker state changed",
			"backend", cb.cfg.Name, "from", t.from, "to", t.to)
		if cb.cfg.OnStateChange != nil {
			cb.cfg.OnStateChange(cb.cfg.Name, t.from, t.to)
		}
	}
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	t := cb.setLocked(StateClosed)
	cb.mu.Unlock()
	cb.notify([]transition{t})
}

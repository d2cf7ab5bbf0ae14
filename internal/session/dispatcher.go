package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

// suspiciousLength is the result length below which a success is logged as
// suspicious. Such results are still accepted.
const suspiciousLength = 3

// errBusy is returned by [Dispatcher.Dispatch] when a dispatch is in flight.
var errBusy = errors.New("session: dispatch already in flight")

// Segment is a frozen buffer handed to the dispatcher. Its audio is never
// touched by the capture side again.
type Segment struct {
	ID          string
	Audio       []byte
	ContentType string
	Fragments   int
	FrozenAt    time.Time
	Final       bool
}

// AttemptOutcome is the result of one [Attempt].
type AttemptOutcome int

const (
	AttemptPending AttemptOutcome = iota
	AttemptSuccess
	AttemptFailure
)

// String returns the lower-case name of the outcome.
func (o AttemptOutcome) String() string {
	switch o {
	case AttemptPending:
		return "pending"
	case AttemptSuccess:
		return "success"
	case AttemptFailure:
		return "failure"
	default:
		return fmt.Sprintf("AttemptOutcome(%d)", int(o))
	}
}

// Attempt records one call to the transcriber for a segment.
type Attempt struct {
	SegmentID    string
	Number       int
	DispatchedAt time.Time
	Duration     time.Duration
	Outcome      AttemptOutcome
	Text         string
	Words        int
	Err          error
}

// Result is the terminal outcome of a dispatched segment.
type Result struct {
	Segment  Segment
	Attempts []Attempt

	// Text and Words are set on success.
	Text  string
	Words int

	// Err is the last attempt's error when every attempt failed.
	Err error
}

// OK reports whether the segment was transcribed.
func (r Result) OK() bool { return r.Err == nil }

// Dispatcher sends frozen segments to a transcriber with bounded retries.
//
// A weight-1 semaphore is reserved before the dispatch goroutine starts and
// released when the last attempt has returned, so at most one segment is ever
// being transcribed. The result is delivered after the release; callers that
// wait for it before dispatching again never see errBusy.
type Dispatcher struct {
	tr        transcriber.Provider
	sem       *semaphore.Weighted
	timeout   time.Duration
	baseDelay time.Duration
	metrics   *observe.Metrics
	log       *slog.Logger
}

// NewDispatcher creates a dispatcher for tr. A nil metrics uses
// [observe.DefaultMetrics].
func NewDispatcher(tr transcriber.Provider, attemptTimeout, retryBaseDelay time.Duration, metrics *observe.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if attemptTimeout <= 0 {
		attemptTimeout = DefaultAttemptTimeout
	}
	return &Dispatcher{
		tr:        tr,
		sem:       semaphore.NewWeighted(1),
		timeout:   attemptTimeout,
		baseDelay: retryBaseDelay,
		metrics:   metrics,
		log:       slog.Default(),
	}
}

// Dispatch starts transcribing seg in a new goroutine and delivers the
// [Result] on out. It returns errBusy without starting anything when another
// dispatch is still outstanding.
func (d *Dispatcher) Dispatch(ctx context.Context, seg Segment, maxRetries int, out chan<- Result) error {
	if !d.sem.TryAcquire(1) {
		return errBusy
	}
	go func() {
		res := d.Transcribe(ctx, seg, maxRetries)
		d.sem.Release(1)
		out <- res
	}()
	return nil
}

// Transcribe runs up to maxRetries+1 attempts for seg and returns on the first
// success. The delay before attempt n is (n-1) times the base delay.
// Cancelling ctx aborts the remaining attempts.
func (d *Dispatcher) Transcribe(ctx context.Context, seg Segment, maxRetries int) Result {
	ctx, span := observe.StartSpan(ctx, "session.dispatch",
		trace.WithAttributes(
			attribute.String("segment.id", seg.ID),
			attribute.Int("segment.bytes", len(seg.Audio)),
			attribute.Bool("segment.final", seg.Final),
		),
	)
	defer span.End()

	log := d.log.With("segment_id", seg.ID)
	res := Result{Segment: seg}

	for n := 1; n <= maxRetries+1; n++ {
		if n > 1 {
			if err := sleepCtx(ctx, time.Duration(n-1)*d.baseDelay); err != nil {
				res.Err = fmt.Errorf("%w: %w", ErrRemoteFailure, err)
				break
			}
		}

		a := d.attempt(ctx, seg, n)
		res.Attempts = append(res.Attempts, a)
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("attempt", n),
			attribute.String("outcome", a.Outcome.String()),
		))

		if a.Outcome == AttemptSuccess {
			res.Text, res.Words, res.Err = a.Text, a.Words, nil
			if len(a.Text) < suspiciousLength {
				log.Warn("suspiciously short transcription", "attempt", n, "text", a.Text)
			}
			return res
		}

		res.Err = a.Err
		log.Warn("transcription attempt failed", "attempt", n, "max_attempts", maxRetries+1, "err", a.Err)
		if ctx.Err() != nil {
			break
		}
	}

	span.RecordError(res.Err)
	span.SetStatus(codes.Error, res.Err.Error())
	return res
}

func (d *Dispatcher) attempt(ctx context.Context, seg Segment, n int) Attempt {
	a := Attempt{SegmentID: seg.ID, Number: n, DispatchedAt: time.Now()}

	actx, cancel := context.WithTimeout(ctx, d.timeout)
	out, err := d.tr.Transcribe(actx, seg.Audio, seg.ContentType)
	cancel()
	a.Duration = time.Since(a.DispatchedAt)

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		a.Err = fmt.Errorf("%w after %s: %w", ErrTimeout, d.timeout, err)
	case err != nil:
		a.Err = fmt.Errorf("%w: %w", ErrRemoteFailure, err)
	case strings.TrimSpace(out.Text) == "":
		a.Err = ErrEmptyResult
	}

	if a.Err != nil {
		a.Outcome = AttemptFailure
		d.metrics.RecordAttempt(ctx, failureReason(a.Err), a.Duration)
		return a
	}

	a.Outcome = AttemptSuccess
	a.Text = strings.TrimSpace(out.Text)
	a.Words = transcript.WordCount(a.Text)
	d.metrics.RecordAttempt(ctx, "success", a.Duration)
	return a
}

// failureReason maps an attempt error to a short metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrEmptyResult):
		return "empty"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "remote"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

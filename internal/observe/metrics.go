// Package observe provides application-wide observability primitives for
// livescribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livescribe metrics.
const meterName = "github.com/MrWong99/livescribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscribeDuration tracks the latency of one transcription attempt. Use
	// with attribute.String("status", ...).
	TranscribeDuration metric.Float64Histogram

	// SegmentBytes tracks the payload size of dispatched segments.
	SegmentBytes metric.Int64Histogram

	// --- Counters ---

	// SegmentsSent counts segments handed to the dispatcher. Use with
	// attribute.Bool("final", ...).
	SegmentsSent metric.Int64Counter

	// SegmentsIgnored counts frozen segments that were never dispatched. Use
	// with attribute.String("reason", ...).
	SegmentsIgnored metric.Int64Counter

	// TranscribeAttempts counts individual attempts. Use with
	// attribute.String("status", ...): success, empty, error, timeout.
	TranscribeAttempts metric.Int64Counter

	// TranscribeFailures counts segments that exhausted their retries. Use
	// with attribute.String("reason", ...).
	TranscribeFailures metric.Int64Counter

	// Words counts transcribed words appended to transcripts.
	Words metric.Int64Counter

	// QualityTransitions counts quality state changes. Use with
	// attribute.String("state", ...).
	QualityTransitions metric.Int64Counter

	// SessionsEnded counts finished sessions. Use with
	// attribute.String("reason", ...).
	SessionsEnded metric.Int64Counter

	// BreakerTransitions counts transcriber circuit breaker state changes. Use
	// with attribute.String("backend", ...) and attribute.String("state", ...).
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of sessions currently capturing.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// batch transcription of segments up to a few minutes long.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60,
}

// sizeBuckets defines segment size bucket boundaries in bytes.
var sizeBuckets = []float64{
	10_000, 50_000, 100_000, 250_000, 500_000, 1 << 20, 4 << 20, 16 << 20, 24 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("livescribe.transcribe.duration",
		metric.WithDescription("Latency of one transcription attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentBytes, err = m.Int64Histogram("livescribe.segment.size",
		metric.WithDescription("Payload size of dispatched segments."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(sizeBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsSent, err = m.Int64Counter("livescribe.segments.sent",
		metric.WithDescription("Total segments dispatched for transcription."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsIgnored, err = m.Int64Counter("livescribe.segments.ignored",
		metric.WithDescription("Total frozen segments dropped without dispatch, by reason."),
	); err != nil {
		return nil, err
	}
	if met.TranscribeAttempts, err = m.Int64Counter("livescribe.transcribe.attempts",
		metric.WithDescription("Total transcription attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.TranscribeFailures, err = m.Int64Counter("livescribe.transcribe.failures",
		metric.WithDescription("Total segments that failed after exhausting retries, by reason."),
	); err != nil {
		return nil, err
	}
	if met.Words, err = m.Int64Counter("livescribe.words",
		metric.WithDescription("Total words appended to transcripts."),
	); err != nil {
		return nil, err
	}
	if met.QualityTransitions, err = m.Int64Counter("livescribe.quality.transitions",
		metric.WithDescription("Total quality state changes by new state."),
	); err != nil {
		return nil, err
	}
	if met.SessionsEnded, err = m.Int64Counter("livescribe.sessions.ended",
		metric.WithDescription("Total finished sessions by end reason."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("livescribe.transcriber.breaker.transitions",
		metric.WithDescription("Total transcriber circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livescribe.active_sessions",
		metric.WithDescription("Number of sessions currently capturing."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livescribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAttempt records one transcription attempt's latency and outcome.
func (m *Metrics) RecordAttempt(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.TranscribeAttempts.Add(ctx, 1, attrs)
	m.TranscribeDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSegmentSent records a dispatched segment and its size.
func (m *Metrics) RecordSegmentSent(ctx context.Context, bytes int, final bool) {
	m.SegmentsSent.Add(ctx, 1, metric.WithAttributes(attribute.Bool("final", final)))
	m.SegmentBytes.Record(ctx, int64(bytes))
}

// RecordSegmentIgnored records a segment dropped before dispatch.
func (m *Metrics) RecordSegmentIgnored(ctx context.Context, reason string) {
	m.SegmentsIgnored.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordFailure records a segment that exhausted its retries.
func (m *Metrics) RecordFailure(ctx context.Context, reason string) {
	m.TranscribeFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordQuality records a quality state transition.
func (m *Metrics) RecordQuality(ctx context.Context, state string) {
	m.QualityTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordSessionEnded records a finished session.
func (m *Metrics) RecordSessionEnded(ctx context.Context, reason string) {
	m.SessionsEnded.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordBreakerTransition records a circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, state string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("state", state),
	))
}

package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	// Metrics.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Tracing.
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// serveMux routes path through a ServeMux wrapped in the middleware and
// returns the recorder and the trace ID seen by the handler.
func serveMux(t *testing.T, m *Metrics, pattern string, status int, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var traceID string
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			traceID = sc.TraceID().String()
		}
		w.WriteHeader(status)
	})
	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)
	return rec, traceID
}

func TestMiddleware_SetsCorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	rec, traceID := serveMux(t, m, "POST /v1/session/start", http.StatusCreated,
		httptest.NewRequest(http.MethodPost, "/v1/session/start", nil))

	if len(traceID) != 32 {
		t.Fatalf("trace ID = %q, want 32 hex chars", traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_PropagatesW3CTraceContext(t *testing.T) {
	m, _, _ := testSetup(t)
	const incoming = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest(http.MethodGet, "/v1/session", nil)
	req.Header.Set("traceparent", "00-"+incoming+"-00f067aa0ba902b7-01")
	rec, traceID := serveMux(t, m, "GET /v1/session", http.StatusOK, req)

	if traceID != incoming {
		t.Errorf("trace ID = %q, want %q", traceID, incoming)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != incoming {
		t.Errorf("X-Correlation-ID = %q, want %q", got, incoming)
	}
}

func TestMiddleware_SpanNamedAfterRoute(t *testing.T) {
	tests := []struct {
		name       string
		pattern    string
		path       string
		status     int
		wantName   string
		wantErrSts bool
	}{
		{"matched route", "GET /v1/session/transcript", "/v1/session/transcript", http.StatusOK, "HTTP GET /v1/session/transcript", false},
		{"server error", "POST /v1/session/stop", "/v1/session/stop", http.StatusInternalServerError, "HTTP POST /v1/session/stop", true},
		{"unmatched", "GET /v1/session", "/nope", http.StatusNotFound, "HTTP unmatched", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _, exp := testSetup(t)
			method, _, _ := strings.Cut(tt.pattern, " ")
			serveMux(t, m, tt.pattern, tt.status, httptest.NewRequest(method, tt.path, nil))

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("recorded %d spans, want 1", len(spans))
			}
			sp := spans[0]
			if sp.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", sp.Name, tt.wantName)
			}
			if (sp.Status.Code == codes.Error) != tt.wantErrSts {
				t.Errorf("span status = %v, want error=%v", sp.Status.Code, tt.wantErrSts)
			}
		})
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	m, reader, _ := testSetup(t)

	for _, id := range []string{"a", "b"} {
		serveMux(t, m, "GET /v1/items/{id}", http.StatusOK,
			httptest.NewRequest(http.MethodGet, "/v1/items/"+id, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "livescribe.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("metric is not a histogram")
	}
	if len(hist.DataPoints) != 1 {
		t.Fatalf("data points = %d, want 1: both paths share a route", len(hist.DataPoints))
	}
	dp := hist.DataPoints[0]
	if dp.Count != 2 {
		t.Errorf("sample count = %d, want 2", dp.Count)
	}
	want := map[string]string{"method": "GET", "path": "GET /v1/items/{id}", "status": "2xx"}
	for k, v := range want {
		if got, ok := dp.Attributes.Value(attribute.Key(k)); !ok || got.AsString() != v {
			t.Errorf("attribute %s = %v, want %s", k, got.Emit(), v)
		}
	}
}

func TestMiddleware_QuietProbes(t *testing.T) {
	m, _, _ := testSetup(t)
	buf := captureLogs(t)

	serveMux(t, m, "GET /healthz", http.StatusOK, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if buf.Len() != 0 {
		t.Errorf("health probe logged at info: %s", buf.String())
	}

	serveMux(t, m, "POST /v1/session/start", http.StatusCreated, httptest.NewRequest(http.MethodPost, "/v1/session/start", nil))
	if !strings.Contains(buf.String(), "route=\"POST /v1/session/start\"") {
		t.Errorf("session request not logged with route: %s", buf.String())
	}
}

func TestMiddleware_AllowsWebSocketUpgrade(t *testing.T) {
	m, _, _ := testSetup(t)
	mw := Middleware(m)

	srv := httptest.NewServer(mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("Accept through middleware: %v", err)
			return
		}
		defer conn.CloseNow()
		_ = conn.Write(r.Context(), websocket.MessageText, []byte("hi"))
		conn.Close(websocket.StatusNormalClosure, "")
	})))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hi" {
		t.Errorf("message = %q, want hi", data)
	}
}

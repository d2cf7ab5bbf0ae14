package observe

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// restoreGlobals puts the global OTel providers back after the test.
func restoreGlobals(t *testing.T) {
	t.Helper()
	origMP, origTP := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(origMP)
		otel.SetTracerProvider(origTP)
	})
}

// TestInitProvider_CommandLineConfig uses the config the livescribe binary
// starts with, including the default Prometheus registry.
func TestInitProvider_CommandLineConfig(t *testing.T) {
	restoreGlobals(t)

	shutdown, err := InitProvider(t.Context(), ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource(ProviderConfig{ServiceName: "livescribe", ServiceVersion: "1.2.3"})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	if res.SchemaURL() != semconv.SchemaURL {
		t.Errorf("schema = %q, want %q", res.SchemaURL(), semconv.SchemaURL)
	}
	attrs := map[string]string{}
	for _, kv := range res.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "livescribe" || attrs["service.version"] != "1.2.3" {
		t.Errorf("service attributes = %q/%q", attrs["service.name"], attrs["service.version"])
	}
	if attrs["telemetry.sdk.language"] != "go" {
		t.Errorf("SDK default attributes missing: %v", attrs)
	}
}

func TestInitProvider_ExportsToRegisterer(t *testing.T) {
	restoreGlobals(t)

	reg := prometheus.NewRegistry()
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := InitProvider(t.Context(), ProviderConfig{
		ServiceVersion: "test",
		TraceExporter:  exp,
		Registerer:     reg,
	})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}

	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordSessionEnded(context.Background(), "user_stop")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "livescribe_sessions_ended") {
			found = true
		}
	}
	if !found {
		t.Errorf("livescribe_sessions_ended not exported to the registry")
	}

	_, span := StartSpan(WithSession(context.Background(), "sess-1"), "session.dispatch")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if spans := exp.GetSpans(); len(spans) != 1 || spans[0].Name != "session.dispatch" {
		t.Errorf("exported spans = %v, want one session.dispatch span", spans)
	}
}

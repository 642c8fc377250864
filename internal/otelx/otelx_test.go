package otelx

import (
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Sample: 99.9})
	if err != nil {
		t.Fatalf("disabled should never error, got: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	if !span.IsRecording() {
		t.Fatal("disabled tracing should still record spans locally")
	}
	if !span.SpanContext().TraceID().IsValid() {
		t.Fatal("disabled tracing should still mint trace ids")
	}
}

func TestInit_InstallsPropagator(t *testing.T) {
	if _, err := Init(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	for _, want := range []string{"traceparent", "tracestate", "baggage"} {
		if !fields[want] {
			t.Errorf("propagator missing %s", want)
		}
	}
}

func TestInit_InvalidOptions(t *testing.T) {
	cases := []struct {
		opts Options
		want string
	}{
		{Options{Enabled: true, Sample: 1.5, Endpoint: "localhost:4317"}, "outside [0,1]"},
		{Options{Enabled: true, Sample: -0.1, Endpoint: "localhost:4317"}, "outside [0,1]"},
		{Options{Enabled: true, Sample: 1}, "endpoint is required"},
	}
	for _, tc := range cases {
		_, err := Init(context.Background(), tc.opts)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("Init(%+v) = %v, want %q", tc.opts, err, tc.want)
		}
	}
}

func TestInit_ExportsSpansWithResource(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	shutdown, err := Init(context.Background(), Options{
		Enabled:     true,
		Sample:      1,
		Service:     "natours",
		Component:   "api",
		Version:     "v1.2.3",
		Environment: "production",
		Exporter:    exp,
	})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _, _ = Init(context.Background(), Options{}) })

	_, span := otel.Tracer("test").Start(context.Background(), "GET /api/v1/tours")
	span.End()

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	if !ok {
		t.Fatalf("provider = %T", otel.GetTracerProvider())
	}
	if err := tp.ForceFlush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	spans := exp.GetSpans()
	for i := 0; i < 2; i++ {
		if err := shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown #%d: %v", i+1, err)
		}
	}

	if len(spans) != 1 {
		t.Fatalf("exported %d spans, want 1", len(spans))
	}
	got := map[attribute.Key]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	want := map[attribute.Key]string{
		"service.name":           "natours.api",
		"service.version":        "v1.2.3",
		"deployment.environment": "production",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("resource %s = %q, want %q", k, got[k], v)
		}
	}
}

func TestServiceName(t *testing.T) {
	cases := []struct {
		o    Options
		want string
	}{
		{Options{Service: "natours", Component: "api"}, "natours.api"},
		{Options{Service: "natours"}, "natours"},
		{Options{Component: "api"}, "api"},
	}
	for _, tc := range cases {
		if got := serviceName(tc.o); got != tc.want {
			t.Errorf("serviceName(%+v) = %q, want %q", tc.o, got, tc.want)
		}
	}
}

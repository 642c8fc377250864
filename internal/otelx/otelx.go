// Package otelx installs the global OpenTelemetry tracer provider and the
// W3C trace-context and baggage propagators.
package otelx

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/keithlinneman/natours-api/internal/xerrors"
)

type Options struct {
	Enabled     bool
	Endpoint    string
	Insecure    bool
	Sample      float64
	Service     string
	Component   string
	Version     string
	Environment string
	// Exporter replaces the OTLP exporter; Endpoint and Insecure are ignored.
	Exporter sdktrace.SpanExporter
}

func propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	)
}

// Init installs the global provider and returns its shutdown, which flushes
// queued spans. Shutdown is idempotent.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagator())

	if !o.Enabled {
		// spans are still recorded so trace ids reach logs and response headers
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if o.Sample < 0 || o.Sample > 1 {
		return nil, xerrors.Newf("trace sample ratio %v outside [0,1]", o.Sample)
	}

	exp := o.Exporter
	if exp == nil {
		if o.Endpoint == "" {
			return nil, xerrors.New("otlp endpoint is required when tracing is enabled")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(o.Endpoint)}
		if o.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		// the local collector forwards upstream; do not block startup on it
		dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		var err error
		if exp, err = otlptracegrpc.New(dialCtx, opts...); err != nil {
			return nil, xerrors.Wrap(err, "otlp exporter")
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(o.Sample))),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(newResource(ctx, o)),
	)
	otel.SetTracerProvider(tp)

	var (
		once sync.Once
		err  error
	)
	return func(sctx context.Context) error {
		once.Do(func() { err = tp.Shutdown(sctx) })
		return err
	}, nil
}

func serviceName(o Options) string {
	switch {
	case o.Service == "":
		return o.Component
	case o.Component == "":
		return o.Service
	}
	return o.Service + "." + o.Component
}

func newResource(ctx context.Context, o Options) *resource.Resource {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(serviceName(o)),
		semconv.ServiceVersionKey.String(o.Version),
	}
	if o.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", o.Environment))
	}
	// detector errors are partial; keep whatever was detected
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(attrs...),
	)
	return res
}

// Package telemetry sets up OpenTelemetry tracing for the HTTP surface.
// Spans are created per request and their trace ids are attached to request
// logs; incoming W3C traceparent headers are honored.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls tracing.
type Config struct {
	ServiceName string
	// SampleRatio is the fraction of root spans sampled; child spans follow
	// their parent.
	SampleRatio float64
}

// InitTracerProvider builds a tracer provider, installs it and the W3C
// propagators globally and returns it so the caller can Shutdown. Extra
// options such as span processors are appended.
//
// TODO: add an OTLP exporter option once a collector endpoint is deployed.
func InitTracerProvider(
	ctx context.Context,
	cfg Config,
	opts ...sdktrace.TracerProviderOption,
) (*sdktrace.TracerProvider, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("service name is required")
	}
	if cfg.SampleRatio < 0 || cfg.SampleRatio > 1 {
		return nil, fmt.Errorf("sample ratio must be within [0, 1], got %v", cfg.SampleRatio)
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}, opts...)...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(Propagator())
	return tp, nil
}

// Propagator is the composite W3C trace-context and baggage propagator.
func Propagator() propagation.TextMapPropagator {
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// Middleware starts a server span per request, named "METHOD /path". With
// no options it uses the global provider and propagator, which are no-ops
// until InitTracerProvider runs.
func Middleware(opts ...otelhttp.Option) func(http.Handler) http.Handler {
	opts = append([]otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	}, opts...)
	return func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "http.server", opts...)
	}
}

// TraceID returns the hex trace id of the span in ctx, or "".
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

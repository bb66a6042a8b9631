package agent

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds a minimal SDK tracer provider wired to the given
// span processor (a batching or simple exporter processor supplied by the
// caller — this package never picks an exporter itself) and installs it as
// the global provider, mirroring the constructor-injection discipline the
// rest of the harness follows: the Scheduler only ever receives a
// oteltrace.Tracer through WithTracer, never reaches for the global.
func NewTracerProvider(processors ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	opts := make([]sdktrace.TracerProviderOption, 0, len(processors))
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp
}

// Tracer returns a named tracer off the given provider, ready to pass to
// Scheduler.WithTracer.
func Tracer(tp *sdktrace.TracerProvider, name string) oteltrace.Tracer {
	return tp.Tracer(name)
}

// ShutdownTracerProvider flushes and closes tp, for use in a defer at
// process exit.
func ShutdownTracerProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	return tp.Shutdown(ctx)
}

// Package observability wires the reply loop, task pool, and HTTP front
// door into Prometheus metrics and OpenTelemetry traces, the way the
// teacher's own pkg/observability backs its agent/tool/HTTP call sites
// (see pkg/agent/instrumentation.go and pkg/observability/middleware.go
// in the reference tree this was adapted from).
package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig controls whether tracing is active and where spans land.
// Unlike the teacher's OTLP-over-gRPC exporter (which assumes a
// collector is reachable), this build writes spans as newline-delimited
// JSON to Output — the right default for a standalone reference binary
// with no external collector to talk to.
type TracerConfig struct {
	Enabled     bool
	ServiceName string
	Output      io.Writer
}

// Tracer wraps an otel TracerProvider plus the shutdown hook its
// exporter needs flushed on process exit.
type Tracer struct {
	provider trace.TracerProvider
	shutdown func(context.Context) error
}

// NewTracer builds a Tracer per cfg, installing it as the process-wide
// default via otel.SetTracerProvider so GetTracer(name) anywhere in the
// process picks it up (§9 "global mutable state initialized once").
func NewTracer(cfg TracerConfig) (*Tracer, error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return &Tracer{provider: tp, shutdown: func(context.Context) error { return nil }}, nil
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(cfg.Output), stdouttrace.WithoutTimestamps())
	if err != nil {
		return nil, err
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Tracer{provider: tp, shutdown: tp.Shutdown}, nil
}

// Shutdown flushes and releases the underlying exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.shutdown == nil {
		return nil
	}
	return t.shutdown(ctx)
}

// GetTracer returns a named tracer off the process-wide provider,
// mirroring the teacher's observability.GetTracer helper.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

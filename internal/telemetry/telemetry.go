// Package telemetry builds the otel TracerProvider cmd/intellirouter
// installs once per process, plus a StartSpan helper for annotating work
// with spans; internal/router and internal/chain do not call StartSpan.
// The teacher's go.mod carries go.opentelemetry.io/otel/sdk without an
// in-pack call site; this package wires it with a stdout exporter.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config governs tracer construction. Exporting to stdout (rather than
// an OTLP collector) keeps the role binary dependency-free of any
// specific tracing backend, matching spec §1's exclusion of a bundled
// observability stack while still emitting real otel spans.
type Config struct {
	ServiceName string
	Enabled     bool
}

// Provider wraps an sdktrace.TracerProvider plus the one Tracer every
// role pulls spans from.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// New builds a Provider. When cfg.Enabled is false it still returns a
// usable Provider backed by otel's no-op implementation, so callers
// never need a nil check before calling StartSpan.
func New(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: otel.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceNameKey.String(cfg.ServiceName),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// StartSpan starts a span named name, recording attrs as otel attributes.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// Shutdown flushes and stops the underlying TracerProvider. A no-op
// Provider (tracing disabled) returns nil.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Package tracing wires OpenTelemetry spans through the API and
// coordinator layers so a slow schedule recompute or a stuck job
// transition can be traced end to end. It is opt-in: printassist runs
// perfectly well with an empty (no-op) provider when the operator
// hasn't enabled an OTLP collector.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/printassist/internal/logging"
)

// Config controls how the tracer provider is constructed.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4318"
	Enabled        bool
}

// Provider wraps the OpenTelemetry SDK's trace provider with the one
// tracer printassist actually names ("printassist").
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// InitTracer builds a Provider. When cfg.Enabled is false it returns a
// Provider backed by a no-op SDK provider, so callers never need to
// special-case "tracing off".
func InitTracer(cfg Config, log *logging.Logger) (*Provider, error) {
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider()
		return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
	}

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource descriptor: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if log != nil {
		log.Info("OTLP tracing initialized", map[string]interface{}{"endpoint": cfg.OTLPEndpoint})
	}

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// Shutdown flushes and stops the underlying SDK provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns the printassist tracer, handed to the coordinator and
// the HTTP middleware. The coordinator's refresh spans start from a
// background context, so they form their own traces rather than
// joining the trace of an HTTP request.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// SetError marks the span in ctx as failed and records err on it. A
// no-op if ctx carries no active span.
func SetError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

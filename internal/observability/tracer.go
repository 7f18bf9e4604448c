// Package observability sets up OpenTelemetry tracing (a stdout exporter by
// default, OTLP/gRPC when configured) with span helpers for the wave pump,
// runner iterations, and search calls, and defines Prometheus
// CounterVec/HistogramVec/Gauge metrics on a private prometheus.Registry.
// The span helpers are not called from the coordinator, runner, or search
// packages.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	stdouttrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig controls span export.
type TracerConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter_type"` // "stdout" (default) or "otlp"
	EndpointURL  string  `yaml:"endpoint_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// InitGlobalTracer installs a global TracerProvider per cfg and returns it
// so callers can Shutdown it on exit. A disabled config installs a no-op
// provider so instrumented call sites never need a nil check.
func InitGlobalTracer(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, nil
	}

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.ExporterType {
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.EndpointURL), otlptracegrpc.WithInsecure())
	default:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create span exporter: %w", err)
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "nexus"
	}
	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns a named tracer off the current global provider.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }

// StartWaveSpan starts a span covering one wave-pump tick.
func StartWaveSpan(ctx context.Context, waveID int) (context.Context, trace.Span) {
	return Tracer("nexus/coordinator").Start(ctx, "wave.pump", trace.WithAttributes(attribute.Int("wave_id", waveID)))
}

// StartRunnerSpan starts a span covering one AgentRunner iteration.
func StartRunnerSpan(ctx context.Context, taskID string, iteration int) (context.Context, trace.Span) {
	return Tracer("nexus/runner").Start(ctx, "runner.iteration",
		trace.WithAttributes(attribute.String("task_id", taskID), attribute.Int("iteration", iteration)))
}

// StartSearchSpan starts a span covering one semantic search call.
func StartSearchSpan(ctx context.Context, projectID, query string) (context.Context, trace.Span) {
	return Tracer("nexus/search").Start(ctx, "search.query",
		trace.WithAttributes(attribute.String("project_id", projectID), attribute.String("query", query)))
}

package telemetry

import (
	"context"
	"fmt"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

/*
LEARNING: JAEGER INTEGRATION FOR DISTRIBUTED TRACING

Architecture:
  room-panel server → OpenTelemetry SDK → Jaeger Exporter → Jaeger Collector → Jaeger UI

Without an endpoint the global provider stays the otel no-op, so the
middleware spans cost nothing.
*/

// Version is reported as service.version on every span.
var Version = "1.0.0"

// InitJaeger initializes Jaeger tracing exporter
// Returns a cleanup function that should be called on shutdown. An empty
// endpoint disables tracing and returns a no-op cleanup.
func InitJaeger(serviceName, jaegerEndpoint string, sampleRatio float64) (func(context.Context) error, error) {
	if jaegerEndpoint == "" {
		log.Println("  Tracing disabled (JAEGER_ENDPOINT not set)")
		return func(context.Context) error { return nil }, nil
	}

	exp, err := jaeger.New(
		jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	// Learning: Resource identifies your service in Jaeger UI.
	// Not merged with resource.Default(): the sdk's default schema URL is
	// older than semconv v1.24.0 and Merge refuses mismatched schemas.
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(Version),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp), // Batch spans for efficiency
		sdktrace.WithResource(res),
		sdktrace.WithSampler(Sampler(sampleRatio)),
	)

	// Set global tracer provider
	// Learning: This makes the tracer available throughout your app
	otel.SetTracerProvider(tp)

	log.Printf("✓ Jaeger tracing initialized: %s (sampling %.0f%%)", jaegerEndpoint, clampRatio(sampleRatio)*100)

	// Learning: Always flush traces on shutdown!
	return tp.Shutdown, nil
}

// Sampler follows the parent's decision and samples new traces at ratio.
func Sampler(ratio float64) sdktrace.Sampler {
	ratio = clampRatio(ratio)
	if ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func clampRatio(ratio float64) float64 {
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	}
	return ratio
}

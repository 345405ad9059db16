// Package otel wires optional OpenTelemetry tracing for service entrypoints.
package otel

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Setup configures the global tracer provider for serviceName and returns a
// hook that flushes pending spans; callers defer it for the process lifetime.
//
// Tracing stays off (no-op hook, no global provider) unless
// PARTY_MODE_OTEL_ENDPOINT is set and PARTY_MODE_OTEL_ENABLED is not "false".
func Setup(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	shutdown := func(context.Context) error { return nil }

	endpoint := strings.TrimSpace(os.Getenv("PARTY_MODE_OTEL_ENDPOINT"))
	if endpoint == "" || strings.EqualFold(os.Getenv("PARTY_MODE_OTEL_ENABLED"), "false") {
		return shutdown, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return shutdown, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return shutdown, fmt.Errorf("describe service resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return provider.Shutdown, nil
}

package main

import (
	"context"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// setupTracing installs a process-wide TracerProvider sampling every span
// (sampling isn't configurable here since there's no exporter wired yet;
// a host that wants OTLP export can swap the sampler/exporter in once it
// picks a collector). Returns a shutdown func the caller should defer.
func setupTracing() (trace.TracerProvider, func()) {
	provider := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(provider)
	return provider, func() {
		_ = provider.Shutdown(context.Background())
	}
}

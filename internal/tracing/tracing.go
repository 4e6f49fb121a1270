// Package tracing installs the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/opensource-finance/heron/internal/domain"
)

// Shutdown flushes pending spans and releases the provider.
type Shutdown func(context.Context) error

func noop(context.Context) error { return nil }

// Init sets the global tracer provider when tracing is enabled.
// With an endpoint, spans are exported over OTLP/gRPC. Without one, spans
// still carry real trace IDs for log correlation but are not exported.
func Init(ctx context.Context, cfg domain.TracingConfig, version string, logger *slog.Logger) (Shutdown, error) {
	if !cfg.Enabled {
		logger.Info("tracing disabled")
		return noop, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "heron"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Endpoint != "" {
		exporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "service", name, "endpoint", cfg.Endpoint)
	return tp.Shutdown, nil
}

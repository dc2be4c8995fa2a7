// Package tracing installs the OpenTelemetry TracerProvider the services'
// otel.Tracer spans report to.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/MikeSquared-Agency/Tailgate/internal/config"
)

const ServiceName = "tailgate"

// Shutdown flushes buffered spans and stops the exporter.
type Shutdown func(context.Context) error

// Setup builds a provider for cfg.Exporter and makes it the global one.
// Exporter "none" installs nothing and returns a no-op Shutdown.
func Setup(ctx context.Context, cfg config.TracingConfig, logger *slog.Logger) (Shutdown, error) {
	exp, err := newExporter(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return func(context.Context) error { return nil }, nil
	}

	tp := NewProvider(exp, cfg)
	otel.SetTracerProvider(tp)
	logger.Info("tracing enabled", "exporter", cfg.Exporter, "sample_rate", cfg.SampleRate)
	return tp.Shutdown, nil
}

// NewProvider batches spans into exp, sampling root spans at cfg.SampleRate.
func NewProvider(exp sdktrace.SpanExporter, cfg config.TracingConfig) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(
		attribute.String("service.name", ServiceName),
		attribute.String("deployment.environment", cfg.Environment),
	)
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
}

func newExporter(ctx context.Context, cfg config.TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("stdout exporter: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown tracing exporter %q", cfg.Exporter)
	}
}

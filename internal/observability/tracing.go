package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/config"
)

const tracerName = "github.com/spec-kit/helpdesk-service"

// InitTracing installs the global tracer provider. With TRACING_EXPORTER=none
// spans are still created and propagated but never leave the process.
// The returned func flushes and stops the exporter.
func InitTracing(ctx context.Context, service string, cfg config.TracingConfig, logger *zap.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := newSpanExporter(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	logger.Info("tracing initialized",
		zap.String("service", service),
		zap.String("exporter", exporterName(cfg)),
		zap.String("endpoint", cfg.OTLPEndpoint))
	return tp.Shutdown, nil
}

// newSpanExporter returns nil for "none". stdout writes one JSON span per
// line to w; otlp ships spans over gRPC.
func newSpanExporter(ctx context.Context, cfg config.TracingConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch exporterName(cfg) {
	case "none":
		return nil, nil
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case "otlp":
		opts := []otlptracegrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	}
	return nil, fmt.Errorf("unknown TRACING_EXPORTER %q: want none, stdout or otlp", cfg.Exporter)
}

func exporterName(cfg config.TracingConfig) string {
	name := strings.ToLower(strings.TrimSpace(cfg.Exporter))
	if name == "" {
		return "none"
	}
	return name
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

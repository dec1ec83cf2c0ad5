// Package observability provides OpenTelemetry integration for distributed
// tracing.
//
// Traces export over OTLP HTTP to a local collector (default
// localhost:4318). The exporter is optional: when it cannot be created the
// application runs with tracing disabled rather than failing startup.
//
// Configuration (~/.daybook/config.yaml):
//
//	tracing:
//	  enabled: true
//	  endpoint: "localhost:4318"
//	  environment: "dev"
//	  service_name: "daybook"
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// DefaultEndpoint is the default OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Config for trace export.
type Config struct {
	// Endpoint is the OTLP HTTP collector endpoint (default: localhost:4318)
	Endpoint string
	// Environment is the deployment environment (dev, staging, prod)
	Environment string
	// ServiceName is the service name attached to exported spans
	ServiceName string

	Logger *slog.Logger
}

// Setup installs a global tracer provider exporting to the configured OTLP
// collector. Returns a shutdown function that flushes pending spans. When
// the exporter cannot be created, tracing stays disabled and the returned
// shutdown is a no-op.
func Setup(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "daybook"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create trace exporter, tracing disabled", "error", err)
		return func(context.Context) error { return nil }, nil
	}

	attrs := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(newResource(serviceName, cfg.Environment)),
	}
	tp := sdktrace.NewTracerProvider(attrs...)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled",
		"endpoint", endpoint,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return tp.Shutdown, nil
}

func newResource(serviceName, environment string) *resource.Resource {
	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	}
	if environment != "" {
		attrs = append(attrs, resource.WithAttributes(
			semconv.DeploymentEnvironment(environment),
		))
	}
	r, err := resource.New(context.Background(), attrs...)
	if err != nil {
		// Attribute construction cannot realistically fail for static
		// strings; fall back to the default resource if it does.
		slog.Warn(fmt.Sprintf("building trace resource: %v", err))
		return resource.Default()
	}
	return r
}

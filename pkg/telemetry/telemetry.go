// Package telemetry wires OpenTelemetry tracing for subagent invocations.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"github.com/cexll/subagentsdk/pkg/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const defaultServiceName = "subagents"

// Config selects the OTLP/HTTP collector. An empty Endpoint disables export.
type Config struct {
	// Endpoint is either host:port or a full URL such as http://localhost:4318.
	Endpoint    string
	Insecure    bool
	ServiceName string
	// SampleRatio in (0,1]; zero samples everything.
	SampleRatio float64
	// Global also installs the provider as the otel global.
	Global bool
}

// ShutdownFunc flushes pending spans and releases the exporter.
type ShutdownFunc func(context.Context) error

// Setup builds a tracer provider. Callers must invoke the returned shutdown.
func Setup(ctx context.Context, cfg Config) (trace.TracerProvider, ShutdownFunc, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	var clientOpts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		clientOpts = append(clientOpts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		clientOpts = append(clientOpts, otlptracehttp.WithEndpoint(endpoint))
	}
	if cfg.Insecure {
		clientOpts = append(clientOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(clientOpts...))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(attribute.String("service.name", name)),
	)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(clampRatio(cfg.SampleRatio)))),
	)
	if cfg.Global {
		otel.SetTracerProvider(tp)
	}
	logging.With("telemetry").Info().Str("endpoint", endpoint).Str("service", name).Msg("trace export enabled")
	return tp, tp.Shutdown, nil
}

func clampRatio(r float64) float64 {
	switch {
	case r <= 0:
		return 1
	case r > 1:
		return 1
	default:
		return r
	}
}

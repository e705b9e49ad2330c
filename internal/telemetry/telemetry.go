package telemetry

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "soporte_wa"

// Init installs an OTLP trace exporter when ENABLE_TELEMETRY and
// OTEL_EXPORTER_OTLP_ENDPOINT are set. Without them spans are no-ops.
func Init(ctx context.Context) (shutdown func(context.Context) error, enabled bool, err error) {
	noop := func(context.Context) error { return nil }

	flag := strings.ToLower(os.Getenv("ENABLE_TELEMETRY"))
	if flag != "true" && flag != "1" {
		return noop, false, nil
	}
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		return noop, false, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, false, err
	}

	name := os.Getenv("OTEL_SERVICE_NAME")
	if name == "" {
		name = instrumentation
	}
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return noop, false, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, true, nil
}

// Tracer returns the named tracer of a component
func Tracer(component string) trace.Tracer {
	return otel.Tracer(instrumentation + "/" + component)
}

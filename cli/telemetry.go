package cli

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	ptotel "github.com/petal-labs/petaltask/otel"
	"github.com/petal-labs/petaltask/runtime"
)

const instrumentationName = "github.com/petal-labs/petaltask"

// telemetry bundles the event handlers fed by a run and the shutdown hook
// for any exporter created for it.
type telemetry struct {
	tracing  *ptotel.TracingHandler
	metrics  *ptotel.MetricsHandler
	shutdown func(context.Context) error
}

// setupTelemetry exports traces over OTLP/HTTP when an endpoint is
// configured. Metrics always go to the global meter provider.
func setupTelemetry(ctx context.Context, endpoint string) (*telemetry, error) {
	t := &telemetry{shutdown: func(context.Context) error { return nil }}

	metrics, err := ptotel.NewMetricsHandler(otel.GetMeterProvider().Meter(instrumentationName))
	if err != nil {
		return nil, err
	}
	t.metrics = metrics

	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if strings.TrimSpace(endpoint) == "" {
		return t, nil
	}

	var exporterOpt otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		exporterOpt = otlptracehttp.WithEndpointURL(endpoint)
	} else {
		exporterOpt = otlptracehttp.WithEndpoint(endpoint)
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpt)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", "petaltask"),
		)),
	)
	t.tracing = ptotel.NewTracingHandler(provider.Tracer(instrumentationName))
	t.shutdown = provider.Shutdown
	return t, nil
}

// handlers returns the event handlers to attach to a run, with extra
// handlers called first.
func (t *telemetry) handlers(extra ...runtime.EventHandler) runtime.EventHandler {
	handlers := append([]runtime.EventHandler(nil), extra...)
	if t.tracing != nil {
		handlers = append(handlers, t.tracing.Handle)
	}
	if t.metrics != nil {
		handlers = append(handlers, t.metrics.Handle)
	}
	return runtime.MultiEventHandler(handlers...)
}

func (t *telemetry) decorator() runtime.EventEmitterDecorator {
	if t.tracing == nil {
		return nil
	}
	return ptotel.Decorator(t.tracing)
}

// close flushes exporters, giving them a few seconds at most.
func (t *telemetry) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

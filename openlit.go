package openlit

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	otelsemconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/openlit/openlit-go/config"
	"github.com/openlit/openlit-go/diag"
)

// Init configures the global OpenTelemetry tracer and meter providers for
// telemetry export. It is an easy way of getting up and running if you are
// new to OpenTelemetry; applications that already manage their own
// providers can skip it and the integrations will use whatever providers
// are registered.
//
// Configuration comes from the environment (see [config.FromEnv]); opts
// take precedence. Init returns a teardown function that should be called
// before your program exits so buffered telemetry is flushed.
func Init(opts ...config.Option) (teardown func(), err error) {
	cfg := config.FromEnv(opts...)

	diag.Debugf("initializing providers: %s", cfg)

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		otelsemconv.SchemaURL,
		otelsemconv.ServiceName(cfg.ApplicationName),
		otelsemconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, err
	}

	tp, err := newTracerProvider(cfg, res)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)

	var mp *sdkmetric.MeterProvider
	if !cfg.DisableMetrics {
		mp, err = newMeterProvider(cfg, res)
		if err != nil {
			// Roll back the tracer provider so a failed Init leaves the
			// globals untouched.
			_ = tp.Shutdown(context.Background())
			return nil, err
		}
		otel.SetMeterProvider(mp)
	}

	teardown = func() {
		ctx := context.Background()
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				diag.Warnf("error shutting down meter provider: %v", err)
			}
		}
		if err := tp.Shutdown(ctx); err != nil {
			diag.Warnf("error shutting down tracer provider: %v", err)
		}
	}

	return teardown, nil
}

func newTracerProvider(cfg *config.Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	if cfg.ConsoleExport {
		exporter, err := stdouttrace.New(
			stdouttrace.WithWriter(os.Stdout),
			stdouttrace.WithPrettyPrint(),
		)
		if err != nil {
			return nil, err
		}
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		), nil
	}

	var clientOpts []otlptracehttp.Option
	if cfg.OTLPEndpoint != "" {
		clientOpts = append(clientOpts, otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint))
	}
	if len(cfg.OTLPHeaders) > 0 {
		clientOpts = append(clientOpts, otlptracehttp.WithHeaders(cfg.OTLPHeaders))
	}
	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(clientOpts...))
	if err != nil {
		return nil, err
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

func newMeterProvider(cfg *config.Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	if cfg.ConsoleExport {
		exporter, err := stdoutmetric.New()
		if err != nil {
			return nil, err
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
			sdkmetric.WithResource(res),
		), nil
	}

	var clientOpts []otlpmetrichttp.Option
	if cfg.OTLPEndpoint != "" {
		clientOpts = append(clientOpts, otlpmetrichttp.WithEndpointURL(cfg.OTLPEndpoint))
	}
	if len(cfg.OTLPHeaders) > 0 {
		clientOpts = append(clientOpts, otlpmetrichttp.WithHeaders(cfg.OTLPHeaders))
	}
	exporter, err := otlpmetrichttp.New(context.Background(), clientOpts...)
	if err != nil {
		return nil, err
	}
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	), nil
}

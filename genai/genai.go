// Package genai implements the provider-independent telemetry core of the
// OpenLIT SDK.
//
// Provider integrations (see the contrib packages) intercept calls to a GenAI
// client library and hand what they see to this package: a [Recorder] built
// from a [RequestContext] accumulates streamed chunks, measures time to first
// token and time between tokens, resolves token usage (authoritative when the
// provider reports it, estimated otherwise) and cost, and finalizes exactly
// once into a span and a fixed metric set. Streaming and non-streaming calls
// converge on the same [AggregatedTelemetry] record, so both emit identical
// attributes.
package genai

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/openlit/openlit-go/config"
	"github.com/openlit/openlit-go/diag"
	"github.com/openlit/openlit-go/pricing"
	"github.com/openlit/openlit-go/tokens"
)

const scopeName = "github.com/openlit/openlit-go"

// Settings bundles the collaborators every recorder needs: configuration,
// tracer, token estimator, pricing table and metric instruments. Create one
// per process and pass it by reference into the provider integrations.
type Settings struct {
	cfg       *config.Config
	tracer    trace.Tracer
	estimator tokens.Estimator
	pricing   pricing.Table
	metrics   *MetricsRecorder
	now       func() time.Time
}

// SettingsOption overrides a default collaborator.
type SettingsOption func(*Settings)

// WithTracer overrides the tracer (the global tracer provider by default).
func WithTracer(tracer trace.Tracer) SettingsOption {
	return func(s *Settings) { s.tracer = tracer }
}

// WithEstimator overrides the token estimator.
func WithEstimator(estimator tokens.Estimator) SettingsOption {
	return func(s *Settings) { s.estimator = estimator }
}

// WithPricing overrides the pricing table.
func WithPricing(table pricing.Table) SettingsOption {
	return func(s *Settings) { s.pricing = table }
}

// WithMetricsRecorder overrides the metric instruments.
func WithMetricsRecorder(metrics *MetricsRecorder) SettingsOption {
	return func(s *Settings) { s.metrics = metrics }
}

// WithClock overrides the wall clock (for tests).
func WithClock(now func() time.Time) SettingsOption {
	return func(s *Settings) { s.now = now }
}

// NewSettings creates the telemetry settings for a process.
func NewSettings(cfg *config.Config, opts ...SettingsOption) *Settings {
	if cfg == nil {
		cfg = config.FromEnv()
	}
	s := &Settings{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.GetTracerProvider().Tracer(scopeName)
	}
	if s.estimator == nil {
		s.estimator = tokens.NewTiktokenEstimator()
	}
	if s.pricing == nil && cfg.PricingFile != "" {
		table, err := pricing.LoadFile(cfg.PricingFile)
		if err != nil {
			diag.Warnf("Error loading pricing table from %s: %v", cfg.PricingFile, err)
		} else {
			s.pricing = table
		}
	}
	if s.metrics == nil && !cfg.DisableMetrics {
		s.metrics = NewMetricsRecorder(otel.GetMeterProvider().Meter(scopeName))
	}
	return s
}

// Config returns the configuration the settings were built from.
func (s *Settings) Config() *config.Config {
	return s.cfg
}

// Tracer returns the tracer the settings record through, for integrations
// that also emit plain spans around the instrumented calls.
func (s *Settings) Tracer() trace.Tracer {
	return s.tracer
}

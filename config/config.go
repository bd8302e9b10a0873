// Package config provides configuration management for the OpenLIT SDK.
package config

import (
	"fmt"
	"os"
	"strings"
)

// SDKVersion is reported on every span as gen_ai.sdk.version.
const SDKVersion = "0.1.0"

// Config holds immutable configuration for the OpenLIT SDK.
//
// It is created once at process start and passed by reference into the
// instrumentation; there is no mutable global configuration.
type Config struct {
	// Environment is the deployment environment reported on telemetry
	// (e.g. "production", "staging").
	Environment string

	// ApplicationName identifies the host application on telemetry.
	ApplicationName string

	// OTLPEndpoint is the host:port of the OTLP collector.
	OTLPEndpoint string

	// OTLPHeaders are extra headers sent with every OTLP export.
	OTLPHeaders map[string]string

	// CaptureMessageContent controls whether prompt and completion text is
	// attached to spans. Content may contain sensitive data, so this is off
	// unless explicitly enabled.
	CaptureMessageContent bool

	// DisableMetrics turns off the metric instruments while leaving traces on.
	DisableMetrics bool

	// ConsoleExport writes telemetry to stdout instead of OTLP
	// (primarily for local development and testing).
	ConsoleExport bool

	// PricingFile is a path to a local pricing-table JSON file. Empty means
	// every model is unpriced and cost is reported as zero.
	PricingFile string
}

// Option is used to configure the OpenLIT SDK.
type Option func(*Config)

// WithEnvironment sets the deployment environment reported on telemetry.
func WithEnvironment(environment string) Option {
	return func(c *Config) {
		c.Environment = environment
	}
}

// WithApplicationName sets the application name reported on telemetry.
func WithApplicationName(name string) Option {
	return func(c *Config) {
		c.ApplicationName = name
	}
}

// WithOTLPEndpoint sets the OTLP collector endpoint.
func WithOTLPEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.OTLPEndpoint = endpoint
	}
}

// WithCaptureMessageContent enables recording prompt and completion text
// on spans.
func WithCaptureMessageContent() Option {
	return func(c *Config) {
		c.CaptureMessageContent = true
	}
}

// WithoutMetrics disables the metric instruments.
func WithoutMetrics() Option {
	return func(c *Config) {
		c.DisableMetrics = true
	}
}

// WithConsoleExport writes telemetry to stdout instead of OTLP.
func WithConsoleExport() Option {
	return func(c *Config) {
		c.ConsoleExport = true
	}
}

// WithPricingFile sets the path of the pricing-table JSON file.
func WithPricingFile(path string) Option {
	return func(c *Config) {
		c.PricingFile = path
	}
}

// FromEnv loads configuration from environment variables and options.
// Options take precedence over environment variables.
//
// Supported environment variables:
//   - OPENLIT_ENVIRONMENT: deployment environment (default: "default")
//   - OPENLIT_APPLICATION_NAME: application name (default: "default")
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP collector endpoint
//   - OTEL_EXPORTER_OTLP_HEADERS: comma-separated key=value header pairs
//   - OPENLIT_CAPTURE_MESSAGE_CONTENT: record prompt/completion text (default: false)
//   - OPENLIT_DISABLE_METRICS: disable metric instruments (default: false)
//   - OPENLIT_CONSOLE_EXPORT: export to stdout instead of OTLP (default: false)
//   - OPENLIT_PRICING_JSON: path to a pricing-table JSON file
func FromEnv(opts ...Option) *Config {
	config := &Config{
		Environment:           getEnvString("OPENLIT_ENVIRONMENT", "default"),
		ApplicationName:       getEnvString("OPENLIT_APPLICATION_NAME", "default"),
		OTLPEndpoint:          getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTLPHeaders:           getEnvHeaders("OTEL_EXPORTER_OTLP_HEADERS"),
		CaptureMessageContent: getEnvBool("OPENLIT_CAPTURE_MESSAGE_CONTENT", false),
		DisableMetrics:        getEnvBool("OPENLIT_DISABLE_METRICS", false),
		ConsoleExport:         getEnvBool("OPENLIT_CONSOLE_EXPORT", false),
		PricingFile:           getEnvString("OPENLIT_PRICING_JSON", ""),
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// String returns a pretty-printed representation of the config.
func (c *Config) String() string {
	return fmt.Sprintf(`OpenLIT Config:
  Environment: %s
  ApplicationName: %s
  OTLPEndpoint: %s
  CaptureMessageContent: %t
  DisableMetrics: %t
  ConsoleExport: %t
  PricingFile: %s`,
		c.Environment,
		c.ApplicationName,
		c.OTLPEndpoint,
		c.CaptureMessageContent,
		c.DisableMetrics,
		c.ConsoleExport,
		c.PricingFile,
	)
}

// getEnvString returns the trimmed environment variable value or the default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

// getEnvBool returns the environment variable as a bool or the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(strings.TrimSpace(value)) == "true"
	}
	return defaultValue
}

// getEnvHeaders parses comma-separated key=value pairs.
func getEnvHeaders(key string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

// Package anthropic instruments Anthropic API calls made through the
// official Go client.
//
// Add the middleware to your Anthropic client:
//
//	client := sdk.NewClient(
//		option.WithMiddleware(anthropic.NewMiddleware()),
//	)
//
// Messages calls made with that client, streaming or not, produce gen_ai
// spans and metrics.
package anthropic

import (
	"net/http"
	"strings"

	"github.com/openlit/openlit-go/genai"
	"github.com/openlit/openlit-go/genai/internal"
)

// NextMiddleware represents the next middleware in the Anthropic client
// middleware chain.
type NextMiddleware = internal.NextMiddleware

type middlewareConfig struct {
	settings *genai.Settings
}

// MiddlewareOption configures the middleware.
type MiddlewareOption func(*middlewareConfig)

// WithSettings sets the telemetry settings the middleware records through.
// If not provided, settings are built from the environment and the global
// OpenTelemetry providers.
func WithSettings(settings *genai.Settings) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.settings = settings
	}
}

// NewMiddleware creates a tracing middleware for Anthropic client requests.
func NewMiddleware(opts ...MiddlewareOption) func(*http.Request, NextMiddleware) (*http.Response, error) {
	cfg := &middlewareConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.settings == nil {
		cfg.settings = genai.NewSettings(nil)
	}

	router := func(path string) internal.RouteTracer {
		if strings.HasSuffix(path, "/v1/messages") {
			return newMessagesTracer(cfg.settings)
		}
		return nil
	}

	return internal.Middleware(router) //nolint:bodyclose // returns a middleware func, body closed by the SDK
}

var _ internal.RouteTracer = &messagesTracer{}

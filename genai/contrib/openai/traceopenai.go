// Package openai instruments OpenAI API calls made through the official Go
// client.
//
// First, initialize the SDK:
//
//	teardown, err := openlit.Init()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer teardown()
//
// Then add the middleware to your OpenAI client:
//
//	client := oai.NewClient(
//		option.WithMiddleware(openai.NewMiddleware()),
//	)
//
// Chat completion calls made with that client, streaming or not, produce
// gen_ai spans and metrics. For tests or custom wiring, pass explicit
// settings:
//
//	middleware := openai.NewMiddleware(openai.WithSettings(settings))
package openai

import (
	"net/http"
	"strings"

	"github.com/openlit/openlit-go/genai"
	"github.com/openlit/openlit-go/genai/internal"
)

// NextMiddleware represents the next middleware in the OpenAI client
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

// NewMiddleware creates a tracing middleware for OpenAI client requests.
//
//	client := oai.NewClient(option.WithMiddleware(openai.NewMiddleware()))
func NewMiddleware(opts ...MiddlewareOption) func(*http.Request, NextMiddleware) (*http.Response, error) {
	cfg := &middlewareConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.settings == nil {
		cfg.settings = genai.NewSettings(nil)
	}

	// Suffix match because OpenAI-compatible providers mount the same
	// endpoints under different base paths.
	router := func(path string) internal.RouteTracer {
		if strings.HasSuffix(path, "/chat/completions") {
			return newChatCompletionsTracer(cfg.settings)
		}
		return nil
	}

	return internal.Middleware(router) //nolint:bodyclose // returns a middleware func, body closed by the SDK
}

var _ internal.RouteTracer = &chatCompletionsTracer{}

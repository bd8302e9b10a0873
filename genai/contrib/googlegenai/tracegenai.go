// Package googlegenai instruments Google Gemini API calls made through the
// official Go client.
//
// Create your Gemini client with a wrapped HTTP client:
//
//	client, err := genai.NewClient(ctx, &genai.ClientConfig{
//		HTTPClient: googlegenai.Client(),
//		APIKey:     apiKey,
//		Backend:    genai.BackendGeminiAPI,
//	})
//
// generateContent and streamGenerateContent calls made with that client
// produce gen_ai spans and metrics.
package googlegenai

import (
	"net/http"
	"strings"

	"github.com/openlit/openlit-go/genai"
	"github.com/openlit/openlit-go/genai/internal"
)

type wrapperConfig struct {
	settings *genai.Settings
}

// Option configures the HTTP client wrapper.
type Option func(*wrapperConfig)

// WithSettings sets the telemetry settings the wrapper records through. If
// not provided, settings are built from the environment and the global
// OpenTelemetry providers.
func WithSettings(settings *genai.Settings) Option {
	return func(c *wrapperConfig) {
		c.settings = settings
	}
}

// Client returns a new http.Client configured with tracing middleware.
// Equivalent to WrapClient(nil).
func Client(opts ...Option) *http.Client {
	return WrapClient(nil, opts...)
}

// WrapClient wraps an existing http.Client with tracing middleware. If
// client is nil, a new client with the default transport is created.
func WrapClient(client *http.Client, opts ...Option) *http.Client {
	cfg := &wrapperConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.settings == nil {
		cfg.settings = genai.NewSettings(nil)
	}

	if client == nil {
		client = &http.Client{}
	}
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, settings: cfg.settings}
	return client
}

// roundTripper intercepts Gemini API requests. The genai SDK takes an
// http.Client rather than middleware, so the interception point is the
// transport.
type roundTripper struct {
	base     http.RoundTripper
	settings *genai.Settings
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	router := func(path string) internal.RouteTracer {
		return geminiRouter(rt.settings, path)
	}
	middleware := internal.Middleware(router) //nolint:bodyclose // returns a middleware func, body closed by caller

	next := func(r *http.Request) (*http.Response, error) {
		return rt.base.RoundTrip(r)
	}
	return middleware(req, next)
}

// geminiRouter maps Gemini API paths to tracers. Both the Gemini API and
// Vertex AI mount the endpoints under different prefixes:
//
//	Gemini API: /v1beta/models/{model}:generateContent
//	Vertex AI:  /v1/projects/{p}/locations/{l}/publishers/google/models/{model}:generateContent
func geminiRouter(settings *genai.Settings, path string) internal.RouteTracer {
	switch {
	case strings.Contains(path, ":streamGenerateContent"), strings.Contains(path, "/streamGenerateContent"):
		return newGenerateContentTracer(settings, modelFromPath(path), true)
	case strings.Contains(path, ":generateContent"), strings.Contains(path, "/generateContent"):
		return newGenerateContentTracer(settings, modelFromPath(path), false)
	default:
		return nil
	}
}

// modelFromPath extracts the model name from the URL path.
func modelFromPath(path string) string {
	parts := strings.Split(path, "/models/")
	if len(parts) < 2 {
		return ""
	}
	model := parts[1]
	if i := strings.IndexByte(model, ':'); i >= 0 {
		model = model[:i]
	}
	model = strings.TrimSuffix(model, "/streamGenerateContent")
	model = strings.TrimSuffix(model, "/generateContent")
	return model
}

var _ internal.RouteTracer = &generateContentTracer{}

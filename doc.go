// Package openlit provides OpenTelemetry-native observability for GenAI
// applications in Go.
//
// The SDK produces gen_ai spans and metrics for LLM calls, with identical
// telemetry for streaming and non-streaming requests: token usage, cost,
// time to first token and time between tokens.
//
// # Main Packages
//
// Provider integrations live under genai/contrib: openai, anthropic,
// googlegenai and langchaingo. Each attaches to its provider's client and
// needs no changes to the calling code.
//
// The genai package holds the shared recording pipeline the integrations
// are built on; use it to instrument a provider the SDK does not cover.
//
// # Getting Started
//
// Call [Init] once at startup to configure the global OpenTelemetry
// providers, then hand each client its integration:
//
//	teardown, err := openlit.Init()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer teardown()
//
//	client := oai.NewClient(
//		option.WithMiddleware(openai.NewMiddleware()),
//	)
//
// # Configuration
//
// The SDK reads configuration from environment variables.
// See [github.com/openlit/openlit-go/config.FromEnv] for the complete list.
package openlit

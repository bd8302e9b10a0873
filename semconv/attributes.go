// Package semconv defines the GenAI semantic convention attribute keys and
// metric names emitted by the SDK.
//
// Names follow the OpenTelemetry GenAI SIG conventions
// (https://opentelemetry.io/docs/specs/semconv/gen-ai/) so that streaming and
// non-streaming calls, and every instrumented provider, produce the same
// attribute surface.
package semconv

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys.
const (
	GenAIOperationName = attribute.Key("gen_ai.operation.name")
	GenAISystem        = attribute.Key("gen_ai.system")
	GenAISDKVersion    = attribute.Key("gen_ai.sdk.version")

	GenAIEnvironment     = attribute.Key("gen_ai.environment")
	GenAIApplicationName = attribute.Key("gen_ai.application_name")

	GenAIRequestModel            = attribute.Key("gen_ai.request.model")
	GenAIRequestIsStream         = attribute.Key("gen_ai.request.is_stream")
	GenAIRequestTemperature      = attribute.Key("gen_ai.request.temperature")
	GenAIRequestTopP             = attribute.Key("gen_ai.request.top_p")
	GenAIRequestTopK             = attribute.Key("gen_ai.request.top_k")
	GenAIRequestMaxTokens        = attribute.Key("gen_ai.request.max_tokens")
	GenAIRequestFrequencyPenalty = attribute.Key("gen_ai.request.frequency_penalty")
	GenAIRequestPresencePenalty  = attribute.Key("gen_ai.request.presence_penalty")
	GenAIRequestSeed             = attribute.Key("gen_ai.request.seed")
	GenAIRequestUser             = attribute.Key("gen_ai.request.user")
	GenAIRequestServiceTier      = attribute.Key("gen_ai.request.service_tier")

	GenAIResponseID                = attribute.Key("gen_ai.response.id")
	GenAIResponseModel             = attribute.Key("gen_ai.response.model")
	GenAIResponseFinishReason      = attribute.Key("gen_ai.response.finish_reason")
	GenAIResponseSystemFingerprint = attribute.Key("gen_ai.response.system_fingerprint")

	GenAIUsageInputTokens  = attribute.Key("gen_ai.usage.input_tokens")
	GenAIUsageOutputTokens = attribute.Key("gen_ai.usage.output_tokens")
	GenAIUsageTotalTokens  = attribute.Key("gen_ai.usage.total_tokens")
	GenAIUsageCost         = attribute.Key("gen_ai.usage.cost")

	// GenAIUsageIsEstimated marks token counts derived from a local token
	// estimator rather than reported by the provider. Estimated counts do
	// not carry the same precision as authoritative ones.
	GenAIUsageIsEstimated = attribute.Key("gen_ai.usage.is_estimated")

	GenAIServerTTFT = attribute.Key("gen_ai.server.time_to_first_token")
	GenAIServerTBT  = attribute.Key("gen_ai.server.time_between_tokens")

	GenAIContentPrompt     = attribute.Key("gen_ai.content.prompt")
	GenAIContentCompletion = attribute.Key("gen_ai.content.completion")
	GenAIContentToolCalls  = attribute.Key("gen_ai.content.tool_calls")

	ServerAddress = attribute.Key("server.address")
	ServerPort    = attribute.Key("server.port")
)

// Well-known values for GenAIOperationName.
const (
	OperationChat       = "chat"
	OperationEmbeddings = "embeddings"
)

// Well-known values for GenAISystem.
const (
	SystemOpenAI    = "openai"
	SystemAnthropic = "anthropic"
	SystemGemini    = "gemini"
	SystemLangChain = "langchain"
)

// Metric instrument names.
const (
	MetricRequests     = "gen_ai.total.requests"
	MetricInputTokens  = "gen_ai.usage.input_tokens"
	MetricOutputTokens = "gen_ai.usage.output_tokens"
	MetricTotalTokens  = "gen_ai.usage.total_tokens"
	MetricCost         = "gen_ai.usage.cost"
	MetricDuration     = "gen_ai.client.operation.duration"
	MetricTTFT         = "gen_ai.server.time_to_first_token"
	MetricTBT          = "gen_ai.server.time_between_tokens"
)

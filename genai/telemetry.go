package genai

import (
	"encoding/json"
	"time"

	"golang.org/x/exp/constraints"
)

// RequestContext is the read-only description of one instrumented call,
// created when the call is intercepted and never mutated afterwards.
type RequestContext struct {
	// Operation is the gen_ai operation name, e.g. "chat".
	Operation string
	// System is the provider, e.g. "openai".
	System string
	// Model is the requested model identifier.
	Model string
	// PromptText is the prompt reconstructed from the request, used for
	// content capture and for token estimation fallback.
	PromptText string
	// Stream reports whether the caller requested a streaming response.
	Stream bool

	ServerAddress string
	ServerPort    int

	// Optional request parameters; nil means the caller did not set them.
	Temperature      *float64
	TopP             *float64
	TopK             *float64
	MaxTokens        *int64
	FrequencyPenalty *float64
	PresencePenalty  *float64
	Seed             *int64
	User             string
	ServiceTier      string

	// Process metadata, filled in from the settings at span start.
	Environment     string
	ApplicationName string
	SDKVersion      string
}

// Usage holds provider-reported token counts. A nil field means the provider
// did not report that side; some providers split usage across chunks (input
// counts on the first, output counts on the last), so each side updates
// independently.
type Usage struct {
	InputTokens  *int
	OutputTokens *int
}

// NewUsage builds a Usage with both sides reported.
func NewUsage(input, output int) Usage {
	return Usage{InputTokens: Int(input), OutputTokens: Int(output)}
}

// Int returns a pointer to v, for building partial Usage values.
func Int(v int) *int {
	return &v
}

// ResponseMeta carries response identity fields. Providers often repeat
// these across chunks or only send them on the last one; empty strings mean
// the field was absent.
type ResponseMeta struct {
	ID                string
	Model             string
	FinishReason      string
	SystemFingerprint string
}

// ChunkAdapter extracts telemetry from one provider-specific stream chunk.
// Implementations answer only for what a chunk actually carries: absent
// usage reports ok=false rather than zero values.
type ChunkAdapter[T any] interface {
	// ContentDelta returns the incremental text carried by the chunk,
	// or "" if it carries none.
	ContentDelta(chunk T) string
	// Usage returns token counts if the chunk carries usage data.
	Usage(chunk T) (Usage, bool)
	// Meta returns the response identity fields present on the chunk.
	Meta(chunk T) ResponseMeta
	// ToolCalls returns raw tool-call data if the chunk carries any.
	// The data is forwarded into telemetry verbatim.
	ToolCalls(chunk T) (json.RawMessage, bool)
}

// ResponseAdapter extracts telemetry from a complete non-streaming response.
type ResponseAdapter[T any] interface {
	// CompletionText returns the full completion text.
	CompletionText(resp T) string
	// Usage returns token counts if the response carries usage data.
	Usage(resp T) (Usage, bool)
	// Meta returns the response identity fields.
	Meta(resp T) ResponseMeta
	// ToolCalls returns raw tool-call data if the response carries any.
	ToolCalls(resp T) (json.RawMessage, bool)
}

// ChunkInfo is the normalized form of one stream chunk, as extracted by a
// ChunkAdapter. A nil Usage means the chunk carried no usage data.
type ChunkInfo struct {
	ContentDelta string
	Usage        *Usage
	Meta         ResponseMeta
	ToolCalls    json.RawMessage
}

// extract normalizes a chunk through its adapter.
func extract[T any](a ChunkAdapter[T], chunk T) ChunkInfo {
	info := ChunkInfo{
		ContentDelta: a.ContentDelta(chunk),
		Meta:         a.Meta(chunk),
	}
	if usage, ok := a.Usage(chunk); ok {
		info.Usage = &usage
	}
	if toolCalls, ok := a.ToolCalls(chunk); ok {
		info.ToolCalls = toolCalls
	}
	return info
}

// ResponseInfo is the normalized form of a complete non-streaming response.
type ResponseInfo struct {
	CompletionText string
	Usage          *Usage
	Meta           ResponseMeta
	ToolCalls      json.RawMessage
}

// ExtractResponse normalizes a response through its adapter.
func ExtractResponse[T any](a ResponseAdapter[T], resp T) ResponseInfo {
	info := ResponseInfo{
		CompletionText: a.CompletionText(resp),
		Meta:           a.Meta(resp),
	}
	if usage, ok := a.Usage(resp); ok {
		info.Usage = &usage
	}
	if toolCalls, ok := a.ToolCalls(resp); ok {
		info.ToolCalls = toolCalls
	}
	return info
}

// AggregatedTelemetry is the single record computed at finalization and
// handed to both the span attribute table and the metric instruments, so the
// two can never disagree.
type AggregatedTelemetry struct {
	PromptText     string
	CompletionText string

	InputTokens  int
	OutputTokens int
	TotalTokens  int
	// UsageEstimated is true when the token counts came from the local
	// estimator instead of provider-reported usage data.
	UsageEstimated bool

	Cost float64

	TTFT     time.Duration
	TBT      time.Duration
	Duration time.Duration

	ResponseID        string
	ResponseModel     string
	FinishReason      string
	SystemFingerprint string
	ToolCalls         json.RawMessage
}

// clampNonNegative keeps derived values inside their invariants; a provider
// bug must not produce a negative cost or token count.
func clampNonNegative[T constraints.Integer | constraints.Float](v T) T {
	if v < 0 {
		return 0
	}
	return v
}

package genai

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openlit/openlit-go/diag"
	"github.com/openlit/openlit-go/semconv"
)

// attrMapping declares how one span attribute derives from the aggregated
// state. The same table runs for every provider and for streaming and
// non-streaming calls alike, so attribute semantics cannot drift between
// call sites.
type attrMapping struct {
	key   attribute.Key
	value func(rc *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool)
}

func stringAttr(v string) (attribute.Value, bool) {
	return attribute.StringValue(v), v != ""
}

var spanAttrTable = []attrMapping{
	{semconv.GenAIOperationName, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.Operation)
	}},
	{semconv.GenAISystem, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.System)
	}},
	{semconv.GenAISDKVersion, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.SDKVersion)
	}},
	{semconv.GenAIEnvironment, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.Environment)
	}},
	{semconv.GenAIApplicationName, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.ApplicationName)
	}},
	{semconv.GenAIRequestModel, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.Model)
	}},
	{semconv.GenAIRequestIsStream, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return attribute.BoolValue(rc.Stream), true
	}},
	{semconv.GenAIRequestTemperature, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return floatParam(rc.Temperature)
	}},
	{semconv.GenAIRequestTopP, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return floatParam(rc.TopP)
	}},
	{semconv.GenAIRequestTopK, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return floatParam(rc.TopK)
	}},
	{semconv.GenAIRequestMaxTokens, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return intParam(rc.MaxTokens)
	}},
	{semconv.GenAIRequestFrequencyPenalty, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return floatParam(rc.FrequencyPenalty)
	}},
	{semconv.GenAIRequestPresencePenalty, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return floatParam(rc.PresencePenalty)
	}},
	{semconv.GenAIRequestSeed, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return intParam(rc.Seed)
	}},
	{semconv.GenAIRequestUser, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.User)
	}},
	{semconv.GenAIRequestServiceTier, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.ServiceTier)
	}},
	{semconv.ServerAddress, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(rc.ServerAddress)
	}},
	{semconv.ServerPort, func(rc *RequestContext, _ *AggregatedTelemetry) (attribute.Value, bool) {
		return attribute.IntValue(rc.ServerPort), rc.ServerPort > 0
	}},
	{semconv.GenAIResponseID, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(at.ResponseID)
	}},
	{semconv.GenAIResponseModel, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(at.ResponseModel)
	}},
	{semconv.GenAIResponseFinishReason, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(at.FinishReason)
	}},
	{semconv.GenAIResponseSystemFingerprint, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(at.SystemFingerprint)
	}},
	{semconv.GenAIUsageInputTokens, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return attribute.IntValue(at.InputTokens), true
	}},
	{semconv.GenAIUsageOutputTokens, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return attribute.IntValue(at.OutputTokens), true
	}},
	{semconv.GenAIUsageTotalTokens, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return attribute.IntValue(at.TotalTokens), true
	}},
	{semconv.GenAIUsageIsEstimated, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return attribute.BoolValue(true), at.UsageEstimated
	}},
	{semconv.GenAIUsageCost, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return attribute.Float64Value(at.Cost), true
	}},
	{semconv.GenAIServerTTFT, func(rc *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		if !rc.Stream {
			return attribute.Value{}, false
		}
		return attribute.Float64Value(at.TTFT.Seconds()), true
	}},
	{semconv.GenAIServerTBT, func(rc *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		if !rc.Stream {
			return attribute.Value{}, false
		}
		return attribute.Float64Value(at.TBT.Seconds()), true
	}},
}

// contentAttrTable holds the attributes gated by CaptureMessageContent.
var contentAttrTable = []attrMapping{
	{semconv.GenAIContentPrompt, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(at.PromptText)
	}},
	{semconv.GenAIContentCompletion, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(at.CompletionText)
	}},
	{semconv.GenAIContentToolCalls, func(_ *RequestContext, at *AggregatedTelemetry) (attribute.Value, bool) {
		return stringAttr(string(at.ToolCalls))
	}},
}

// recordSpanAttributes applies the attribute tables to the span. It never
// returns an error or panics; attribute failures are logged and must not
// affect the instrumented call.
func recordSpanAttributes(span trace.Span, rc *RequestContext, at *AggregatedTelemetry, captureContent bool) {
	defer func() {
		if p := recover(); p != nil {
			diag.Warnf("panic while recording span attributes: %v", p)
		}
	}()

	tables := [][]attrMapping{spanAttrTable}
	if captureContent {
		tables = append(tables, contentAttrTable)
	}
	for _, table := range tables {
		for _, m := range table {
			if value, ok := m.value(rc, at); ok {
				span.SetAttributes(attribute.KeyValue{Key: m.key, Value: value})
			}
		}
	}
}

func floatParam(p *float64) (attribute.Value, bool) {
	if p == nil {
		return attribute.Value{}, false
	}
	return attribute.Float64Value(*p), true
}

func intParam(p *int64) (attribute.Value, bool) {
	if p == nil {
		return attribute.Value{}, false
	}
	return attribute.Int64Value(*p), true
}

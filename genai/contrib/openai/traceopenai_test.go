package openai

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/openlit/openlit-go/config"
	"github.com/openlit/openlit-go/genai"
	"github.com/openlit/openlit-go/internal/oteltest"
	"github.com/openlit/openlit-go/pricing"
	"github.com/openlit/openlit-go/tokens"
)

const testModel = "gpt-4o"

func newTestSettings(t *testing.T) (*genai.Settings, *oteltest.Exporter) {
	t.Helper()
	_, exporter := oteltest.Setup(t)

	cfg := config.FromEnv(
		config.WithEnvironment("test"),
		config.WithApplicationName("openlit-tests"),
		config.WithCaptureMessageContent(),
		config.WithoutMetrics(),
	)
	settings := genai.NewSettings(cfg,
		genai.WithEstimator(tokens.HeuristicEstimator{}),
		genai.WithPricing(pricing.Table{
			"gpt-4o": {PromptPrice: 0.0025, CompletionPrice: 0.01},
		}),
	)
	return settings, exporter
}

// serveCanned replaces the transport with a fixed response, so tests never
// reach the network.
func serveCanned(contentType, body string) func(*http.Request, NextMiddleware) (*http.Response, error) {
	return func(req *http.Request, _ NextMiddleware) (*http.Response, error) {
		if req.Body != nil {
			_, _ = io.Copy(io.Discard, req.Body)
			_ = req.Body.Close()
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{contentType}},
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}, nil
	}
}

func newTestClient(t *testing.T, settings *genai.Settings, canned func(*http.Request, NextMiddleware) (*http.Response, error)) oai.Client {
	t.Helper()
	return oai.NewClient(
		option.WithAPIKey("test-api-key"),
		option.WithMaxRetries(0),
		option.WithMiddleware(NewMiddleware(WithSettings(settings))),
		option.WithMiddleware(canned),
	)
}

func chatParams() oai.ChatCompletionNewParams {
	return oai.ChatCompletionNewParams{
		Model: testModel,
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.UserMessage("What is 2+2?"),
		},
	}
}

func TestChatCompletion(t *testing.T) {
	settings, exporter := newTestSettings(t)

	response := `{
		"id": "chatcmpl-123",
		"object": "chat.completion",
		"model": "gpt-4o-2024-08-06",
		"system_fingerprint": "fp_test",
		"choices": [{
			"index": 0,
			"message": {"role": "assistant", "content": "4"},
			"finish_reason": "stop"
		}],
		"usage": {"prompt_tokens": 12, "completion_tokens": 1, "total_tokens": 13}
	}`
	client := newTestClient(t, settings, serveCanned("application/json", response))

	resp, err := client.Chat.Completions.New(context.Background(), chatParams())
	require.NoError(t, err)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "4", resp.Choices[0].Message.Content)

	span := exporter.FlushOne()
	span.AssertNameIs("openai.chat.completions.create")
	assert.Equal(t, codes.Unset, span.Status().Code)

	span.AssertAttrEquals("gen_ai.operation.name", "chat")
	span.AssertAttrEquals("gen_ai.system", "openai")
	span.AssertAttrEquals("gen_ai.request.model", testModel)
	span.AssertAttrEquals("gen_ai.request.is_stream", false)
	span.AssertAttrEquals("gen_ai.response.id", "chatcmpl-123")
	span.AssertAttrEquals("gen_ai.response.model", "gpt-4o-2024-08-06")
	span.AssertAttrEquals("gen_ai.response.finish_reason", "stop")
	span.AssertAttrEquals("gen_ai.response.system_fingerprint", "fp_test")
	span.AssertAttrEquals("gen_ai.usage.input_tokens", int64(12))
	span.AssertAttrEquals("gen_ai.usage.output_tokens", int64(1))
	span.AssertAttrEquals("gen_ai.usage.total_tokens", int64(13))
	assert.InDelta(t, 12.0/1000*0.0025+1.0/1000*0.01, span.Attr("gen_ai.usage.cost").Float64(), 1e-9)
	assert.False(t, span.HasAttr("gen_ai.usage.is_estimated"))
	assert.False(t, span.HasAttr("gen_ai.server.time_to_first_token"))

	assert.Contains(t, span.Attr("gen_ai.content.prompt").String(), "2+2")
	assert.Equal(t, "4", span.Attr("gen_ai.content.completion").String())
}

func TestChatCompletionStreaming(t *testing.T) {
	settings, exporter := newTestSettings(t)

	events := strings.Join([]string{
		`data: {"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"role":"assistant","content":"The answer"},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"content":" is 4"},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		``,
		`data: {"id":"chatcmpl-123","object":"chat.completion.chunk","model":"gpt-4o-2024-08-06","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	client := newTestClient(t, settings, serveCanned("text/event-stream", events))

	params := chatParams()
	params.StreamOptions = oai.ChatCompletionStreamOptionsParam{IncludeUsage: oai.Bool(true)}
	stream := client.Chat.Completions.NewStreaming(context.Background(), params)

	var text strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) > 0 {
			text.WriteString(chunk.Choices[0].Delta.Content)
		}
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())
	assert.Equal(t, "The answer is 4", text.String())

	span := exporter.FlushOne()
	span.AssertNameIs("openai.chat.completions.create")
	assert.Equal(t, codes.Unset, span.Status().Code)

	span.AssertAttrEquals("gen_ai.request.is_stream", true)
	span.AssertAttrEquals("gen_ai.response.finish_reason", "stop")
	span.AssertAttrEquals("gen_ai.usage.input_tokens", int64(12))
	span.AssertAttrEquals("gen_ai.usage.output_tokens", int64(3))
	assert.False(t, span.HasAttr("gen_ai.usage.is_estimated"))
	assert.True(t, span.HasAttr("gen_ai.server.time_to_first_token"))
	assert.True(t, span.HasAttr("gen_ai.server.time_between_tokens"))
	assert.Equal(t, "The answer is 4", span.Attr("gen_ai.content.completion").String())
}

func TestStreamingWithoutUsageFallsBackToEstimation(t *testing.T) {
	settings, exporter := newTestSettings(t)

	events := strings.Join([]string{
		`data: {"id":"chatcmpl-123","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"role":"assistant","content":"four"},"finish_reason":"stop"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	client := newTestClient(t, settings, serveCanned("text/event-stream", events))

	stream := client.Chat.Completions.NewStreaming(context.Background(), chatParams())
	for stream.Next() { //nolint:revive
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())

	span := exporter.FlushOne()
	span.AssertAttrEquals("gen_ai.usage.is_estimated", true)
	assert.Greater(t, span.Attr("gen_ai.usage.input_tokens").Int64(), int64(0))
	assert.Greater(t, span.Attr("gen_ai.usage.output_tokens").Int64(), int64(0))
}

func TestStreamingToolCalls(t *testing.T) {
	settings, exporter := newTestSettings(t)

	events := strings.Join([]string{
		`data: {"id":"chatcmpl-123","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"role":"assistant","tool_calls":[{"index":0,"id":"call_abc","type":"function","function":{"name":"get_weather","arguments":""}}]},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-123","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]},"finish_reason":null}]}`,
		``,
		`data: {"id":"chatcmpl-123","model":"gpt-4o-2024-08-06","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Paris\"}"}}]},"finish_reason":"tool_calls"}]}`,
		``,
		`data: [DONE]`,
		``,
	}, "\n")
	client := newTestClient(t, settings, serveCanned("text/event-stream", events))

	stream := client.Chat.Completions.NewStreaming(context.Background(), chatParams())
	for stream.Next() { //nolint:revive
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())

	span := exporter.FlushOne()
	span.AssertAttrEquals("gen_ai.response.finish_reason", "tool_calls")

	toolCalls := span.Attr("gen_ai.content.tool_calls").String()
	assert.Contains(t, toolCalls, "call_abc")
	assert.Contains(t, toolCalls, "get_weather")
	assert.Contains(t, toolCalls, `{\"city\":\"Paris\"}`)
}

func TestAbandonedStreamStillFinalizes(t *testing.T) {
	settings, exporter := newTestSettings(t)

	events := "data: {\"id\":\"chatcmpl-123\",\"model\":\"gpt-4o\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"four\"},\"finish_reason\":null}]}\n\ndata: [DONE]\n\n"
	client := newTestClient(t, settings, serveCanned("text/event-stream", events))

	stream := client.Chat.Completions.NewStreaming(context.Background(), chatParams())
	require.NoError(t, stream.Close())

	span := exporter.FlushOne()
	span.AssertNameIs("openai.chat.completions.create")
	assert.Equal(t, codes.Unset, span.Status().Code)
}

func TestTransportError(t *testing.T) {
	settings, exporter := newTestSettings(t)

	transportErr := errors.New("ye-olde-test-error")
	errorware := func(_ *http.Request, _ NextMiddleware) (*http.Response, error) {
		return nil, transportErr
	}
	client := oai.NewClient(
		option.WithAPIKey("test-api-key"),
		option.WithMaxRetries(0),
		option.WithMiddleware(NewMiddleware(WithSettings(settings))),
		option.WithMiddleware(errorware),
	)

	_, err := client.Chat.Completions.New(context.Background(), chatParams())
	require.Error(t, err)

	span := exporter.FlushOne()
	span.AssertNameIs("openai.chat.completions.create")
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Status().Description, "ye-olde-test-error")

	events := span.Events()
	require.Len(t, events, 1)
	var errMsg string
	for _, attr := range events[0].Attributes {
		if attr.Key == "exception.message" {
			errMsg = attr.Value.AsString()
			break
		}
	}
	assert.Contains(t, errMsg, "ye-olde-test-error")
}

func TestPromptFromMessages(t *testing.T) {
	messages := []any{
		map[string]any{"role": "system", "content": "Be terse."},
		map[string]any{"role": "user", "content": []any{
			map[string]any{"type": "text", "text": "What is 2+2?"},
			map[string]any{"type": "image_url", "image_url": map[string]any{"url": "https://example.com/x.png"}},
		}},
	}

	prompt := promptFromMessages(messages)
	assert.Equal(t, "system: Be terse.\nuser: What is 2+2?", prompt)
}

package anthropic

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/openlit/openlit-go/config"
	"github.com/openlit/openlit-go/genai"
	"github.com/openlit/openlit-go/internal/oteltest"
	"github.com/openlit/openlit-go/tokens"
)

const testModel = "claude-3-5-haiku-20241022"

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
	)
	return settings, exporter
}

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

func newTestClient(t *testing.T, settings *genai.Settings, canned func(*http.Request, NextMiddleware) (*http.Response, error)) sdk.Client {
	t.Helper()
	return sdk.NewClient(
		option.WithAPIKey("test-api-key"),
		option.WithMaxRetries(0),
		option.WithMiddleware(NewMiddleware(WithSettings(settings))),
		option.WithMiddleware(canned),
	)
}

func messageParams() sdk.MessageNewParams {
	return sdk.MessageNewParams{
		Model:     testModel,
		MaxTokens: 1024,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock("Hello, Claude!")),
		},
	}
}

func TestMessages(t *testing.T) {
	settings, exporter := newTestSettings(t)

	response := `{
		"id": "msg_01Aq9w938a90dw8q",
		"type": "message",
		"role": "assistant",
		"content": [{"type": "text", "text": "Hello! How can I help you today?"}],
		"model": "claude-3-5-haiku-20241022",
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 12, "output_tokens": 9}
	}`
	client := newTestClient(t, settings, serveCanned("application/json", response))

	msg, err := client.Messages.New(context.Background(), messageParams())
	require.NoError(t, err)
	require.Len(t, msg.Content, 1)

	span := exporter.FlushOne()
	span.AssertNameIs("anthropic.messages.create")
	assert.Equal(t, codes.Unset, span.Status().Code)

	span.AssertAttrEquals("gen_ai.operation.name", "chat")
	span.AssertAttrEquals("gen_ai.system", "anthropic")
	span.AssertAttrEquals("gen_ai.request.model", testModel)
	span.AssertAttrEquals("gen_ai.request.is_stream", false)
	span.AssertAttrEquals("gen_ai.request.max_tokens", int64(1024))
	span.AssertAttrEquals("gen_ai.response.id", "msg_01Aq9w938a90dw8q")
	span.AssertAttrEquals("gen_ai.response.finish_reason", "end_turn")
	span.AssertAttrEquals("gen_ai.usage.input_tokens", int64(12))
	span.AssertAttrEquals("gen_ai.usage.output_tokens", int64(9))
	span.AssertAttrEquals("gen_ai.usage.total_tokens", int64(21))
	assert.False(t, span.HasAttr("gen_ai.usage.is_estimated"))

	assert.Contains(t, span.Attr("gen_ai.content.prompt").String(), "Hello, Claude!")
	assert.Equal(t, "Hello! How can I help you today?", span.Attr("gen_ai.content.completion").String())
}

// TestMessagesStreaming checks that split usage reporting merges: input
// tokens arrive on message_start, output tokens on message_delta.
func TestMessagesStreaming(t *testing.T) {
	settings, exporter := newTestSettings(t)

	events := strings.Join([]string{
		`event: message_start`,
		`data: {"type":"message_start","message":{"id":"msg_stream1","type":"message","role":"assistant","model":"claude-3-5-haiku-20241022","content":[],"usage":{"input_tokens":25,"output_tokens":1}}}`,
		``,
		`event: content_block_start`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		``,
		`event: content_block_delta`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there!"}}`,
		``,
		`event: content_block_stop`,
		`data: {"type":"content_block_stop","index":0}`,
		``,
		`event: message_delta`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":6}}`,
		``,
		`event: message_stop`,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")
	client := newTestClient(t, settings, serveCanned("text/event-stream", events))

	params := messageParams()
	stream := client.Messages.NewStreaming(context.Background(), params)
	for stream.Next() { //nolint:revive
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())

	span := exporter.FlushOne()
	span.AssertNameIs("anthropic.messages.create")
	assert.Equal(t, codes.Unset, span.Status().Code)

	span.AssertAttrEquals("gen_ai.request.is_stream", true)
	span.AssertAttrEquals("gen_ai.response.id", "msg_stream1")
	span.AssertAttrEquals("gen_ai.response.finish_reason", "end_turn")
	span.AssertAttrEquals("gen_ai.usage.input_tokens", int64(25))
	span.AssertAttrEquals("gen_ai.usage.output_tokens", int64(6))
	assert.False(t, span.HasAttr("gen_ai.usage.is_estimated"))
	assert.True(t, span.HasAttr("gen_ai.server.time_to_first_token"))
	assert.Equal(t, "Hello there!", span.Attr("gen_ai.content.completion").String())
}

func TestStreamingToolUse(t *testing.T) {
	settings, exporter := newTestSettings(t)

	events := strings.Join([]string{
		`data: {"type":"message_start","message":{"id":"msg_tool1","model":"claude-3-5-haiku-20241022","usage":{"input_tokens":40,"output_tokens":1}}}`,
		``,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_abc","name":"get_weather","input":{}}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
		``,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}`,
		``,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":15}}`,
		``,
		`data: {"type":"message_stop"}`,
		``,
	}, "\n")
	client := newTestClient(t, settings, serveCanned("text/event-stream", events))

	stream := client.Messages.NewStreaming(context.Background(), messageParams())
	for stream.Next() { //nolint:revive
	}
	require.NoError(t, stream.Close())

	span := exporter.FlushOne()
	span.AssertAttrEquals("gen_ai.response.finish_reason", "tool_use")

	toolCalls := span.Attr("gen_ai.content.tool_calls").String()
	assert.Contains(t, toolCalls, "toolu_abc")
	assert.Contains(t, toolCalls, "get_weather")
	assert.Contains(t, toolCalls, `{\"city\":\"Paris\"}`)
}

func TestPromptFromRequest(t *testing.T) {
	raw := map[string]any{
		"system": "Be terse.",
		"messages": []any{
			map[string]any{"role": "user", "content": "What is 2+2?"},
			map[string]any{"role": "assistant", "content": []any{
				map[string]any{"type": "text", "text": "4"},
			}},
		},
	}

	prompt := promptFromRequest(raw)
	assert.Equal(t, "system: Be terse.\nuser: What is 2+2?\nassistant: 4", prompt)
}

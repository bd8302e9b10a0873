package anthropic

// this file parses the messages API.
// See docs here: https://docs.anthropic.com/en/api/messages

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/openlit/openlit-go/diag"
	"github.com/openlit/openlit-go/genai"
	"github.com/openlit/openlit-go/genai/internal"
	"github.com/openlit/openlit-go/semconv"
)

// messagesTracer instruments the v1/messages POST endpoint. One instance
// handles one request.
type messagesTracer struct {
	settings  *genai.Settings
	streaming bool
	rec       *genai.Recorder
	tools     toolUseAccumulator
}

func newMessagesTracer(settings *genai.Settings) *messagesTracer {
	return &messagesTracer{settings: settings}
}

func (mt *messagesTracer) StartSpan(req *http.Request, body io.Reader) (*http.Request, error) {
	var raw map[string]any
	decodeErr := json.NewDecoder(body).Decode(&raw)

	rc := messagesRequestContext(req, raw)
	mt.streaming = rc.Stream

	ctx, rec := mt.settings.Start(req.Context(), "anthropic.messages.create", rc)
	mt.rec = rec
	return req.WithContext(ctx), decodeErr
}

func (mt *messagesTracer) WrapResponse(body io.ReadCloser) io.ReadCloser {
	if mt.rec == nil {
		return body
	}
	if mt.streaming {
		return internal.NewSSEBody(body, mt.onEvent, mt.onDone)
	}
	return internal.NewBufferedBody(body, mt.onResponse)
}

func (mt *messagesTracer) Fail(err error) {
	if mt.rec != nil {
		mt.rec.Fail(err)
	}
}

func (mt *messagesTracer) onEvent(data []byte) {
	var event map[string]any
	if err := json.Unmarshal(data, &event); err != nil {
		diag.Warnf("error parsing stream event: %v", err)
		return
	}
	genai.Observe(mt.rec, messageEventAdapter{}, event)
	mt.tools.observe(event)
}

func (mt *messagesTracer) onDone(err error) {
	if calls := mt.tools.marshal(); calls != nil {
		mt.rec.SetToolCalls(calls)
	}
	if err != nil {
		mt.rec.Fail(err)
		return
	}
	mt.rec.Finish()
}

func (mt *messagesTracer) onResponse(body io.Reader, err error) {
	if err != nil {
		mt.rec.Fail(err)
		return
	}
	var raw map[string]any
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		diag.Warnf("error parsing message response: %v", err)
		mt.rec.Finish()
		return
	}
	genai.RecordResponse(mt.rec, messageResponseAdapter{}, raw)
}

func messagesRequestContext(req *http.Request, raw map[string]any) genai.RequestContext {
	rc := genai.RequestContext{
		Operation:   semconv.OperationChat,
		System:      semconv.SystemAnthropic,
		Model:       internal.GetString(raw, "model"),
		Stream:      internal.GetBool(raw, "stream"),
		PromptText:  promptFromRequest(raw),
		Temperature: internal.FloatField(raw, "temperature"),
		TopP:        internal.FloatField(raw, "top_p"),
		TopK:        internal.FloatField(raw, "top_k"),
		MaxTokens:   int64Field(raw, "max_tokens"),
		ServiceTier: internal.GetString(raw, "service_tier"),
	}
	if metadata := internal.GetMap(raw, "metadata"); metadata != nil {
		rc.User = internal.GetString(metadata, "user_id")
	}
	rc.ServerAddress, rc.ServerPort = internal.ServerEndpoint(req.URL)
	return rc
}

// promptFromRequest flattens the system prompt and messages into
// "role: content" lines.
func promptFromRequest(raw map[string]any) string {
	var b strings.Builder
	if system := blockText(raw["system"]); system != "" {
		b.WriteString("system: ")
		b.WriteString(system)
	}
	for _, m := range internal.GetSlice(raw, "messages") {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if role := internal.GetString(msg, "role"); role != "" {
			b.WriteString(role)
			b.WriteString(": ")
		}
		b.WriteString(blockText(msg["content"]))
	}
	return b.String()
}

// blockText extracts text from a string or an array of content blocks.
func blockText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, p := range c {
			block, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if t := internal.GetString(block, "text"); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, "\n")
	default:
		return ""
	}
}

func int64Field(m map[string]any, key string) *int64 {
	if i, ok := internal.ToInt(m[key]); ok {
		v := int64(i)
		return &v
	}
	return nil
}

// messageEventAdapter reads the streaming event shapes. Usage arrives split
// across events: message_start carries input tokens inside the message
// object, message_delta carries cumulative output tokens at the top level.
type messageEventAdapter struct{}

func (messageEventAdapter) ContentDelta(event map[string]any) string {
	if internal.GetString(event, "type") != "content_block_delta" {
		return ""
	}
	return internal.GetString(internal.GetMap(event, "delta"), "text")
}

func (messageEventAdapter) Usage(event map[string]any) (genai.Usage, bool) {
	switch internal.GetString(event, "type") {
	case "message_start":
		usage := internal.GetMap(internal.GetMap(event, "message"), "usage")
		if usage == nil {
			return genai.Usage{}, false
		}
		return genai.Usage{
			InputTokens:  internal.IntField(usage, "input_tokens"),
			OutputTokens: internal.IntField(usage, "output_tokens"),
		}, true
	case "message_delta":
		usage := internal.GetMap(event, "usage")
		if usage == nil {
			return genai.Usage{}, false
		}
		return genai.Usage{
			OutputTokens: internal.IntField(usage, "output_tokens"),
		}, true
	default:
		return genai.Usage{}, false
	}
}

func (messageEventAdapter) Meta(event map[string]any) genai.ResponseMeta {
	switch internal.GetString(event, "type") {
	case "message_start":
		message := internal.GetMap(event, "message")
		return genai.ResponseMeta{
			ID:    internal.GetString(message, "id"),
			Model: internal.GetString(message, "model"),
		}
	case "message_delta":
		return genai.ResponseMeta{
			FinishReason: internal.GetString(internal.GetMap(event, "delta"), "stop_reason"),
		}
	default:
		return genai.ResponseMeta{}
	}
}

func (messageEventAdapter) ToolCalls(map[string]any) (json.RawMessage, bool) {
	return nil, false
}

// messageResponseAdapter reads complete non-streaming response shapes.
type messageResponseAdapter struct{}

func (messageResponseAdapter) CompletionText(resp map[string]any) string {
	return blockText(resp["content"])
}

func (messageResponseAdapter) Usage(resp map[string]any) (genai.Usage, bool) {
	usage := internal.GetMap(resp, "usage")
	if usage == nil {
		return genai.Usage{}, false
	}
	return genai.Usage{
		InputTokens:  internal.IntField(usage, "input_tokens"),
		OutputTokens: internal.IntField(usage, "output_tokens"),
	}, true
}

func (messageResponseAdapter) Meta(resp map[string]any) genai.ResponseMeta {
	return genai.ResponseMeta{
		ID:           internal.GetString(resp, "id"),
		Model:        internal.GetString(resp, "model"),
		FinishReason: internal.GetString(resp, "stop_reason"),
	}
}

func (messageResponseAdapter) ToolCalls(resp map[string]any) (json.RawMessage, bool) {
	var calls []any
	for _, c := range internal.GetSlice(resp, "content") {
		block, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if internal.GetString(block, "type") == "tool_use" {
			calls = append(calls, block)
		}
	}
	if len(calls) == 0 {
		return nil, false
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// toolUseAccumulator stitches streamed tool_use blocks back together. A
// content_block_start with a tool_use block opens a call; input_json_delta
// events append to its input JSON.
type toolUseAccumulator struct {
	calls []map[string]any
}

func (a *toolUseAccumulator) observe(event map[string]any) {
	switch internal.GetString(event, "type") {
	case "content_block_start":
		block := internal.GetMap(event, "content_block")
		if internal.GetString(block, "type") != "tool_use" {
			return
		}
		a.calls = append(a.calls, map[string]any{
			"type":  "tool_use",
			"id":    block["id"],
			"name":  block["name"],
			"input": "",
		})
	case "content_block_delta":
		delta := internal.GetMap(event, "delta")
		if internal.GetString(delta, "type") != "input_json_delta" || len(a.calls) == 0 {
			return
		}
		last := a.calls[len(a.calls)-1]
		last["input"] = internal.GetString(last, "input") +
			internal.GetString(delta, "partial_json")
	}
}

func (a *toolUseAccumulator) marshal() json.RawMessage {
	if len(a.calls) == 0 {
		return nil
	}
	raw, err := json.Marshal(a.calls)
	if err != nil {
		return nil
	}
	return raw
}

package openai

// this file parses the chat completions API.
// See docs here: https://platform.openai.com/docs/api-reference/chat/create

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

// chatCompletionsTracer instruments the v1/chat/completions POST endpoint.
// One instance handles one request.
type chatCompletionsTracer struct {
	settings  *genai.Settings
	streaming bool
	rec       *genai.Recorder
	tools     toolCallAccumulator
}

func newChatCompletionsTracer(settings *genai.Settings) *chatCompletionsTracer {
	return &chatCompletionsTracer{settings: settings}
}

func (ct *chatCompletionsTracer) StartSpan(req *http.Request, body io.Reader) (*http.Request, error) {
	var raw map[string]any
	decodeErr := json.NewDecoder(body).Decode(&raw)

	rc := chatRequestContext(req, raw)
	ct.streaming = rc.Stream

	ctx, rec := ct.settings.Start(req.Context(), "openai.chat.completions.create", rc)
	ct.rec = rec
	return req.WithContext(ctx), decodeErr
}

func (ct *chatCompletionsTracer) WrapResponse(body io.ReadCloser) io.ReadCloser {
	if ct.rec == nil {
		return body
	}
	if ct.streaming {
		return internal.NewSSEBody(body, ct.onEvent, ct.onDone)
	}
	return internal.NewBufferedBody(body, ct.onResponse)
}

func (ct *chatCompletionsTracer) Fail(err error) {
	if ct.rec != nil {
		ct.rec.Fail(err)
	}
}

// onEvent handles one SSE data payload at its real arrival time.
func (ct *chatCompletionsTracer) onEvent(data []byte) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		diag.Warnf("error parsing stream chunk: %v", err)
		return
	}
	genai.Observe(ct.rec, chatChunkAdapter{}, chunk)
	ct.tools.observe(chunk)
}

func (ct *chatCompletionsTracer) onDone(err error) {
	if calls := ct.tools.marshal(); calls != nil {
		ct.rec.SetToolCalls(calls)
	}
	if err != nil {
		ct.rec.Fail(err)
		return
	}
	ct.rec.Finish()
}

func (ct *chatCompletionsTracer) onResponse(body io.Reader, err error) {
	if err != nil {
		ct.rec.Fail(err)
		return
	}
	var raw map[string]any
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		diag.Warnf("error parsing chat completion response: %v", err)
		ct.rec.Finish()
		return
	}
	genai.RecordResponse(ct.rec, chatResponseAdapter{}, raw)
}

// chatRequestContext maps the request body onto the telemetry request
// description. Missing fields stay unset.
func chatRequestContext(req *http.Request, raw map[string]any) genai.RequestContext {
	rc := genai.RequestContext{
		Operation:        semconv.OperationChat,
		System:           semconv.SystemOpenAI,
		Model:            internal.GetString(raw, "model"),
		Stream:           internal.GetBool(raw, "stream"),
		PromptText:       promptFromMessages(internal.GetSlice(raw, "messages")),
		Temperature:      internal.FloatField(raw, "temperature"),
		TopP:             internal.FloatField(raw, "top_p"),
		MaxTokens:        int64Field(raw, "max_tokens"),
		FrequencyPenalty: internal.FloatField(raw, "frequency_penalty"),
		PresencePenalty:  internal.FloatField(raw, "presence_penalty"),
		Seed:             int64Field(raw, "seed"),
		User:             internal.GetString(raw, "user"),
		ServiceTier:      internal.GetString(raw, "service_tier"),
	}
	if rc.MaxTokens == nil {
		rc.MaxTokens = int64Field(raw, "max_completion_tokens")
	}
	rc.ServerAddress, rc.ServerPort = internal.ServerEndpoint(req.URL)
	return rc
}

// promptFromMessages flattens the messages array into "role: content" lines.
// Multi-part content keeps only the text parts.
func promptFromMessages(messages []any) string {
	var b strings.Builder
	for _, m := range messages {
		msg, ok := m.(map[string]any)
		if !ok {
			continue
		}
		text := messageText(msg["content"])
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if role := internal.GetString(msg, "role"); role != "" {
			b.WriteString(role)
			b.WriteString(": ")
		}
		b.WriteString(text)
	}
	return b.String()
}

func messageText(content any) string {
	switch c := content.(type) {
	case string:
		return c
	case []any:
		var parts []string
		for _, p := range c {
			part, ok := p.(map[string]any)
			if !ok {
				continue
			}
			if t := internal.GetString(part, "text"); t != "" {
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

// chatChunkAdapter reads streaming chunk shapes. Tool calls arrive as
// fragments and are assembled by toolCallAccumulator instead.
type chatChunkAdapter struct{}

func (chatChunkAdapter) ContentDelta(chunk map[string]any) string {
	delta := internal.GetMap(firstChoice(chunk), "delta")
	return internal.GetString(delta, "content")
}

func (chatChunkAdapter) Usage(chunk map[string]any) (genai.Usage, bool) {
	return usageTokens(internal.GetMap(chunk, "usage"))
}

func (chatChunkAdapter) Meta(chunk map[string]any) genai.ResponseMeta {
	return genai.ResponseMeta{
		ID:                internal.GetString(chunk, "id"),
		Model:             internal.GetString(chunk, "model"),
		FinishReason:      internal.GetString(firstChoice(chunk), "finish_reason"),
		SystemFingerprint: internal.GetString(chunk, "system_fingerprint"),
	}
}

func (chatChunkAdapter) ToolCalls(map[string]any) (json.RawMessage, bool) {
	return nil, false
}

// chatResponseAdapter reads complete non-streaming response shapes.
type chatResponseAdapter struct{}

func (chatResponseAdapter) CompletionText(resp map[string]any) string {
	message := internal.GetMap(firstChoice(resp), "message")
	return internal.GetString(message, "content")
}

func (chatResponseAdapter) Usage(resp map[string]any) (genai.Usage, bool) {
	return usageTokens(internal.GetMap(resp, "usage"))
}

func (chatResponseAdapter) Meta(resp map[string]any) genai.ResponseMeta {
	return genai.ResponseMeta{
		ID:                internal.GetString(resp, "id"),
		Model:             internal.GetString(resp, "model"),
		FinishReason:      internal.GetString(firstChoice(resp), "finish_reason"),
		SystemFingerprint: internal.GetString(resp, "system_fingerprint"),
	}
}

func (chatResponseAdapter) ToolCalls(resp map[string]any) (json.RawMessage, bool) {
	message := internal.GetMap(firstChoice(resp), "message")
	calls, ok := message["tool_calls"].([]any)
	if !ok || len(calls) == 0 {
		return nil, false
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func firstChoice(m map[string]any) map[string]any {
	choices := internal.GetSlice(m, "choices")
	if len(choices) == 0 {
		return nil
	}
	choice, _ := choices[0].(map[string]any)
	return choice
}

func usageTokens(usage map[string]any) (genai.Usage, bool) {
	if usage == nil {
		return genai.Usage{}, false
	}
	return genai.Usage{
		InputTokens:  internal.IntField(usage, "prompt_tokens"),
		OutputTokens: internal.IntField(usage, "completion_tokens"),
	}, true
}

// toolCallAccumulator stitches streamed tool-call fragments back into whole
// calls. A fragment with an id starts a new call; fragments without one
// append argument text to the last call.
type toolCallAccumulator struct {
	calls []map[string]any
}

func (a *toolCallAccumulator) observe(chunk map[string]any) {
	delta := internal.GetMap(firstChoice(chunk), "delta")
	fragments := internal.GetSlice(delta, "tool_calls")
	for _, f := range fragments {
		fragment, ok := f.(map[string]any)
		if !ok {
			continue
		}
		if id := internal.GetString(fragment, "id"); id != "" {
			call := map[string]any{
				"id":   id,
				"type": fragment["type"],
			}
			if function := internal.GetMap(fragment, "function"); function != nil {
				call["function"] = map[string]any{
					"name":      function["name"],
					"arguments": internal.GetString(function, "arguments"),
				}
			}
			a.calls = append(a.calls, call)
			continue
		}
		if len(a.calls) == 0 {
			continue
		}
		last := a.calls[len(a.calls)-1]
		function, ok := last["function"].(map[string]any)
		if !ok {
			continue
		}
		fragFn := internal.GetMap(fragment, "function")
		function["arguments"] = internal.GetString(function, "arguments") +
			internal.GetString(fragFn, "arguments")
	}
}

func (a *toolCallAccumulator) marshal() json.RawMessage {
	if len(a.calls) == 0 {
		return nil
	}
	raw, err := json.Marshal(a.calls)
	if err != nil {
		return nil
	}
	return raw
}

package googlegenai

// this file parses the generateContent API.
// See docs here: https://ai.google.dev/api/generate-content

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

// generateContentTracer instruments the generateContent and
// streamGenerateContent endpoints. One instance handles one request.
type generateContentTracer struct {
	settings  *genai.Settings
	model     string
	streaming bool
	rec       *genai.Recorder
}

func newGenerateContentTracer(settings *genai.Settings, model string, streaming bool) *generateContentTracer {
	return &generateContentTracer{
		settings:  settings,
		model:     model,
		streaming: streaming,
	}
}

func (gt *generateContentTracer) StartSpan(req *http.Request, body io.Reader) (*http.Request, error) {
	var raw map[string]any
	decodeErr := json.NewDecoder(body).Decode(&raw)

	rc := gt.requestContext(req, raw)
	ctx, rec := gt.settings.Start(req.Context(), "genai.models.generateContent", rc)
	gt.rec = rec
	return req.WithContext(ctx), decodeErr
}

func (gt *generateContentTracer) WrapResponse(body io.ReadCloser) io.ReadCloser {
	if gt.rec == nil {
		return body
	}
	if gt.streaming {
		return internal.NewSSEBody(body, gt.onEvent, gt.onDone)
	}
	return internal.NewBufferedBody(body, gt.onResponse)
}

func (gt *generateContentTracer) Fail(err error) {
	if gt.rec != nil {
		gt.rec.Fail(err)
	}
}

// onEvent handles one streamed GenerateContentResponse. Usage counts are
// cumulative across chunks, so last-wins merging yields the final totals.
func (gt *generateContentTracer) onEvent(data []byte) {
	var chunk map[string]any
	if err := json.Unmarshal(data, &chunk); err != nil {
		diag.Warnf("error parsing stream chunk: %v", err)
		return
	}
	genai.Observe(gt.rec, responseAdapter{}, chunk)
}

func (gt *generateContentTracer) onDone(err error) {
	if err != nil {
		gt.rec.Fail(err)
		return
	}
	gt.rec.Finish()
}

func (gt *generateContentTracer) onResponse(body io.Reader, err error) {
	if err != nil {
		gt.rec.Fail(err)
		return
	}
	var raw map[string]any
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		diag.Warnf("error parsing generateContent response: %v", err)
		gt.rec.Finish()
		return
	}
	genai.RecordResponse(gt.rec, responseAdapter{}, raw)
}

func (gt *generateContentTracer) requestContext(req *http.Request, raw map[string]any) genai.RequestContext {
	rc := genai.RequestContext{
		Operation:  semconv.OperationChat,
		System:     semconv.SystemGemini,
		Model:      gt.model,
		Stream:     gt.streaming,
		PromptText: promptFromContents(raw),
	}
	if model := internal.GetString(raw, "model"); model != "" {
		rc.Model = model
	}
	if gc := internal.GetMap(raw, "generationConfig"); gc != nil {
		rc.Temperature = internal.FloatField(gc, "temperature")
		rc.TopP = internal.FloatField(gc, "topP")
		rc.TopK = internal.FloatField(gc, "topK")
		if i, ok := internal.GetInt(gc, "maxOutputTokens"); ok {
			v := int64(i)
			rc.MaxTokens = &v
		}
	}
	rc.ServerAddress, rc.ServerPort = internal.ServerEndpoint(req.URL)
	return rc
}

// promptFromContents flattens systemInstruction and contents into
// "role: text" lines.
func promptFromContents(raw map[string]any) string {
	var b strings.Builder
	if si := internal.GetMap(raw, "systemInstruction"); si != nil {
		if text := partsText(si); text != "" {
			b.WriteString("system: ")
			b.WriteString(text)
		}
	}
	for _, c := range internal.GetSlice(raw, "contents") {
		content, ok := c.(map[string]any)
		if !ok {
			continue
		}
		text := partsText(content)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if role := internal.GetString(content, "role"); role != "" {
			b.WriteString(role)
			b.WriteString(": ")
		}
		b.WriteString(text)
	}
	return b.String()
}

func partsText(content map[string]any) string {
	var parts []string
	for _, p := range internal.GetSlice(content, "parts") {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if t := internal.GetString(part, "text"); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// responseAdapter reads GenerateContentResponse shapes. Streamed chunks and
// whole responses share the same schema, so one adapter serves both paths.
type responseAdapter struct{}

func (responseAdapter) ContentDelta(chunk map[string]any) string {
	return candidateText(chunk)
}

func (responseAdapter) CompletionText(resp map[string]any) string {
	return candidateText(resp)
}

func (responseAdapter) Usage(m map[string]any) (genai.Usage, bool) {
	usage := internal.GetMap(m, "usageMetadata")
	if usage == nil {
		return genai.Usage{}, false
	}
	return genai.Usage{
		InputTokens:  internal.IntField(usage, "promptTokenCount"),
		OutputTokens: internal.IntField(usage, "candidatesTokenCount"),
	}, true
}

func (responseAdapter) Meta(m map[string]any) genai.ResponseMeta {
	return genai.ResponseMeta{
		ID:           internal.GetString(m, "responseId"),
		Model:        internal.GetString(m, "modelVersion"),
		FinishReason: internal.GetString(firstCandidate(m), "finishReason"),
	}
}

func (responseAdapter) ToolCalls(m map[string]any) (json.RawMessage, bool) {
	var calls []any
	candidate := firstCandidate(m)
	content := internal.GetMap(candidate, "content")
	for _, p := range internal.GetSlice(content, "parts") {
		part, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if fc := internal.GetMap(part, "functionCall"); fc != nil {
			calls = append(calls, fc)
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

func firstCandidate(m map[string]any) map[string]any {
	candidates := internal.GetSlice(m, "candidates")
	if len(candidates) == 0 {
		return nil
	}
	candidate, _ := candidates[0].(map[string]any)
	return candidate
}

func candidateText(m map[string]any) string {
	content := internal.GetMap(firstCandidate(m), "content")
	if content == nil {
		return ""
	}
	return partsText(content)
}

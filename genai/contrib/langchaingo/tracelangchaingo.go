// Package langchaingo instruments LangChainGo applications through the
// callbacks.Handler interface.
//
// Create a handler and add it to your LLM. Providing model and provider
// information gives richer telemetry:
//
//	handler := langchaingo.NewHandlerWithOptions(langchaingo.HandlerOptions{
//		Model:    "gpt-4o-mini",
//		Provider: "openai",
//	})
//	llm, err := openai.New(openai.WithCallback(handler))
//
// LLM calls produce gen_ai spans and metrics through the shared recorder;
// chain, tool and retriever callbacks produce plain nested spans around
// them.
package langchaingo

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openlit/openlit-go/genai"
	"github.com/openlit/openlit-go/genai/internal"
	"github.com/openlit/openlit-go/semconv"
)

// spanEntry is one open span on a context's stack. LLM entries carry the
// state holding the recorder that will finalize them; other kinds end
// their span directly.
type spanEntry struct {
	kind     string
	span     trace.Span
	state    *llmState
	childCtx context.Context
}

// llmState tracks streaming observed for an open LLM recorder, keyed by
// span ID since HandleStreamingFunc only has the span context to go by.
type llmState struct {
	rec      *genai.Recorder
	streamed bool
}

// Handler implements the LangChainGo callbacks.Handler interface.
//
// Callbacks cannot return a modified context, so the handler tracks open
// spans in a stack per incoming context: Start callbacks push, End and
// Error callbacks pop the most recent entry of their kind. The pushed
// child context parents any spans started beneath it.
type Handler struct {
	settings *genai.Settings

	mu    sync.Mutex
	spans map[context.Context][]spanEntry
	llms  map[string]*llmState
	opts  HandlerOptions
}

// HandlerOptions configures the handler with call metadata LangChainGo does
// not expose through its callbacks.
type HandlerOptions struct {
	// Model is the model identifier requests are made with.
	Model string
	// Provider names the backing LLM provider. Defaults to "langchain"
	// when not set and not discoverable from generation info.
	Provider string
	// Settings overrides the telemetry settings. If nil, settings are
	// built from the environment and the global OpenTelemetry providers.
	Settings *genai.Settings
}

// NewHandler creates a handler with default options.
func NewHandler() *Handler {
	return NewHandlerWithOptions(HandlerOptions{})
}

// NewHandlerWithOptions creates a handler with the given options.
func NewHandlerWithOptions(opts HandlerOptions) *Handler {
	settings := opts.Settings
	if settings == nil {
		settings = genai.NewSettings(nil)
	}
	return &Handler{
		settings: settings,
		spans:    make(map[context.Context][]spanEntry),
		llms:     make(map[string]*llmState),
		opts:     opts,
	}
}

func (h *Handler) pushSpan(ctx, childCtx context.Context, kind string, span trace.Span, state *llmState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spans[ctx] = append(h.spans[ctx], spanEntry{
		kind:     kind,
		span:     span,
		state:    state,
		childCtx: childCtx,
	})
	if state != nil {
		h.llms[span.SpanContext().SpanID().String()] = state
	}
}

// parentContext returns the context new spans should start under: the most
// recent child context on the stack, or ctx itself.
func (h *Handler) parentContext(ctx context.Context) context.Context {
	h.mu.Lock()
	defer h.mu.Unlock()
	stack := h.spans[ctx]
	if len(stack) == 0 {
		return ctx
	}
	return stack[len(stack)-1].childCtx
}

// popSpan removes and returns the most recent entry of the given kind, or
// a zero entry when none is open.
func (h *Handler) popSpan(ctx context.Context, kind string) (spanEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stack := h.spans[ctx]
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].kind != kind {
			continue
		}
		entry := stack[i]
		h.spans[ctx] = append(stack[:i], stack[i+1:]...)
		if len(h.spans[ctx]) == 0 {
			delete(h.spans, ctx)
		}
		if entry.state != nil {
			delete(h.llms, entry.span.SpanContext().SpanID().String())
		}
		return entry, true
	}
	return spanEntry{}, false
}

func (h *Handler) llmStateFor(ctx context.Context) *llmState {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.llms[span.SpanContext().SpanID().String()]
}

func (h *Handler) startLLM(ctx context.Context, spanName, promptText string) {
	system := h.opts.Provider
	if system == "" {
		system = semconv.SystemLangChain
	}
	rc := genai.RequestContext{
		Operation:  semconv.OperationChat,
		System:     system,
		Model:      h.opts.Model,
		PromptText: promptText,
	}
	childCtx, rec := h.settings.Start(h.parentContext(ctx), spanName, rc)
	h.pushSpan(ctx, childCtx, "llm", rec.Span(), &llmState{rec: rec})
}

// HandleLLMStart is called at the start of an LLM call with plain string
// prompts.
func (h *Handler) HandleLLMStart(ctx context.Context, prompts []string) {
	h.startLLM(ctx, "langchain.llm.call", joinPrompts(prompts))
}

// HandleLLMGenerateContentStart is called at the start of a GenerateContent
// call.
func (h *Handler) HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent) {
	h.startLLM(ctx, "langchain.llm.generate_content", promptFromMessages(ms))
}

// HandleLLMGenerateContentEnd is called when a GenerateContent call
// completes.
func (h *Handler) HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse) {
	entry, ok := h.popSpan(ctx, "llm")
	if !ok || entry.state == nil {
		return
	}

	info := genai.ResponseInfo{}
	if res != nil && len(res.Choices) > 0 {
		choice := res.Choices[0]
		info.CompletionText = choice.Content
		info.Meta.FinishReason = choice.StopReason
		if usage, ok := usageFromGenerationInfo(choice.GenerationInfo); ok {
			info.Usage = &usage
		}
		info.Meta.Model = modelFromGenerationInfo(choice.GenerationInfo)
		if choice.GenerationInfo != nil {
			if id, ok := choice.GenerationInfo["id"].(string); ok {
				info.Meta.ID = id
			}
			if fp, ok := choice.GenerationInfo["system_fingerprint"].(string); ok {
				info.Meta.SystemFingerprint = fp
			}
		}
		if len(choice.ToolCalls) > 0 {
			if raw, err := json.Marshal(choice.ToolCalls); err == nil {
				info.ToolCalls = raw
			}
		}
	}

	// When content streamed through HandleStreamingFunc, the recorder
	// already accumulated it chunk by chunk.
	if entry.state.streamed {
		info.CompletionText = ""
	}
	entry.state.rec.RecordResponse(info)
}

// HandleLLMError is called when an LLM call results in an error.
func (h *Handler) HandleLLMError(ctx context.Context, err error) {
	entry, ok := h.popSpan(ctx, "llm")
	if !ok || entry.state == nil {
		return
	}
	entry.state.rec.Fail(err)
}

// HandleStreamingFunc is called with each streamed content chunk. Feeding
// chunks into the recorder at arrival time is what makes TTFT and TBT
// measurable for LangChainGo streaming.
func (h *Handler) HandleStreamingFunc(ctx context.Context, chunk []byte) {
	state := h.llmStateFor(ctx)
	if state == nil {
		return
	}
	if !state.streamed {
		state.streamed = true
		state.rec.MarkStreaming()
	}
	state.rec.Observe(genai.ChunkInfo{ContentDelta: string(chunk)})
}

// Chain callbacks

// HandleChainStart is called at the start of a chain execution.
func (h *Handler) HandleChainStart(ctx context.Context, inputs map[string]any) {
	childCtx, span := h.settings.Tracer().Start(h.parentContext(ctx), "langchain.chain")
	h.setJSONAttr(span, "langchain.inputs", inputs)
	h.pushSpan(ctx, childCtx, "chain", span, nil)
}

// HandleChainEnd is called when a chain execution completes.
func (h *Handler) HandleChainEnd(ctx context.Context, outputs map[string]any) {
	entry, ok := h.popSpan(ctx, "chain")
	if !ok {
		return
	}
	h.setJSONAttr(entry.span, "langchain.outputs", outputs)
	entry.span.End()
}

// HandleChainError is called when a chain execution results in an error.
func (h *Handler) HandleChainError(ctx context.Context, err error) {
	h.failSpan(ctx, "chain", err)
}

// Tool callbacks

// HandleToolStart is called at the start of a tool execution.
func (h *Handler) HandleToolStart(ctx context.Context, input string) {
	childCtx, span := h.settings.Tracer().Start(h.parentContext(ctx), "langchain.tool")
	h.setStringAttr(span, "langchain.tool.input", input)
	h.pushSpan(ctx, childCtx, "tool", span, nil)
}

// HandleToolEnd is called when a tool execution completes.
func (h *Handler) HandleToolEnd(ctx context.Context, output string) {
	entry, ok := h.popSpan(ctx, "tool")
	if !ok {
		return
	}
	h.setStringAttr(entry.span, "langchain.tool.output", output)
	entry.span.End()
}

// HandleToolError is called when a tool execution results in an error.
func (h *Handler) HandleToolError(ctx context.Context, err error) {
	h.failSpan(ctx, "tool", err)
}

// Agent callbacks

// HandleAgentAction is called when an agent performs an action. Agent
// actions are instantaneous events.
func (h *Handler) HandleAgentAction(ctx context.Context, action schema.AgentAction) {
	_, span := h.settings.Tracer().Start(h.parentContext(ctx), "langchain.agent.action")
	span.SetAttributes(attribute.String("langchain.agent.tool", action.Tool))
	h.setStringAttr(span, "langchain.agent.tool_input", action.ToolInput)
	span.End()
}

// HandleAgentFinish is called when an agent finishes.
func (h *Handler) HandleAgentFinish(ctx context.Context, finish schema.AgentFinish) {
	_, span := h.settings.Tracer().Start(h.parentContext(ctx), "langchain.agent.finish")
	h.setJSONAttr(span, "langchain.agent.return_values", finish.ReturnValues)
	span.End()
}

// Retriever callbacks

// HandleRetrieverStart is called at the start of a retrieval operation.
func (h *Handler) HandleRetrieverStart(ctx context.Context, query string) {
	childCtx, span := h.settings.Tracer().Start(h.parentContext(ctx), "langchain.retriever")
	h.setStringAttr(span, "langchain.retriever.query", query)
	h.pushSpan(ctx, childCtx, "retriever", span, nil)
}

// HandleRetrieverEnd is called when a retrieval operation completes.
func (h *Handler) HandleRetrieverEnd(ctx context.Context, _ string, documents []schema.Document) {
	entry, ok := h.popSpan(ctx, "retriever")
	if !ok {
		return
	}
	entry.span.SetAttributes(attribute.Int("langchain.retriever.documents", len(documents)))
	entry.span.End()
}

// HandleRetrieverError is called when a retrieval operation results in an
// error.
func (h *Handler) HandleRetrieverError(ctx context.Context, err error) {
	h.failSpan(ctx, "retriever", err)
}

// HandleText is called for text events. They are instantaneous.
func (h *Handler) HandleText(ctx context.Context, text string) {
	_, span := h.settings.Tracer().Start(h.parentContext(ctx), "langchain.text")
	h.setStringAttr(span, "langchain.text", text)
	span.End()
}

func (h *Handler) failSpan(ctx context.Context, kind string, err error) {
	entry, ok := h.popSpan(ctx, kind)
	if !ok {
		return
	}
	entry.span.RecordError(err)
	entry.span.SetStatus(codes.Error, err.Error())
	entry.span.End()
}

// setStringAttr records content-bearing text, honoring the content capture
// setting.
func (h *Handler) setStringAttr(span trace.Span, key, value string) {
	if !h.settings.Config().CaptureMessageContent || value == "" {
		return
	}
	span.SetAttributes(attribute.String(key, value))
}

func (h *Handler) setJSONAttr(span trace.Span, key string, value any) {
	if !h.settings.Config().CaptureMessageContent || value == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return
	}
	span.SetAttributes(attribute.String(key, string(raw)))
}

func joinPrompts(prompts []string) string {
	switch len(prompts) {
	case 0:
		return ""
	case 1:
		return prompts[0]
	}
	joined := prompts[0]
	for _, p := range prompts[1:] {
		joined += "\n" + p
	}
	return joined
}

// promptFromMessages flattens message contents into "role: text" lines.
func promptFromMessages(ms []llms.MessageContent) string {
	var b []byte
	for _, m := range ms {
		var text string
		for _, part := range m.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				if text != "" {
					text += "\n"
				}
				text += tc.Text
			}
		}
		if len(b) > 0 {
			b = append(b, '\n')
		}
		b = append(b, string(m.Role)...)
		b = append(b, ": "...)
		b = append(b, text...)
	}
	return string(b)
}

// usageFromGenerationInfo digs token counts out of generation info.
// Providers disagree on field names: OpenAI reports PascalCase top-level
// fields, Anthropic reports input/output tokens, some wrap them in a usage
// object.
func usageFromGenerationInfo(genInfo map[string]any) (genai.Usage, bool) {
	if genInfo == nil {
		return genai.Usage{}, false
	}

	var usage genai.Usage
	lookup := func(m map[string]any, names ...string) *int {
		for _, name := range names {
			if v, ok := internal.ToInt(m[name]); ok && v > 0 {
				return &v
			}
		}
		return nil
	}

	sources := []map[string]any{genInfo}
	if nested := internal.GetMap(genInfo, "usage"); nested != nil {
		sources = append(sources, nested)
	}
	if nested := internal.GetMap(genInfo, "token_usage"); nested != nil {
		sources = append(sources, nested)
	}

	for _, src := range sources {
		if usage.InputTokens == nil {
			usage.InputTokens = lookup(src, "PromptTokens", "InputTokens", "prompt_tokens", "input_tokens")
		}
		if usage.OutputTokens == nil {
			usage.OutputTokens = lookup(src, "CompletionTokens", "OutputTokens", "completion_tokens", "output_tokens", "generated_tokens")
		}
	}

	if usage.InputTokens == nil && usage.OutputTokens == nil {
		return genai.Usage{}, false
	}
	return usage, true
}

func modelFromGenerationInfo(genInfo map[string]any) string {
	for _, name := range []string{"model", "model_name", "model_id"} {
		if v, ok := genInfo[name].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// Ensure Handler implements callbacks.Handler.
var _ interface {
	HandleText(ctx context.Context, text string)
	HandleLLMStart(ctx context.Context, prompts []string)
	HandleLLMGenerateContentStart(ctx context.Context, ms []llms.MessageContent)
	HandleLLMGenerateContentEnd(ctx context.Context, res *llms.ContentResponse)
	HandleLLMError(ctx context.Context, err error)
	HandleChainStart(ctx context.Context, inputs map[string]any)
	HandleChainEnd(ctx context.Context, outputs map[string]any)
	HandleChainError(ctx context.Context, err error)
	HandleToolStart(ctx context.Context, input string)
	HandleToolEnd(ctx context.Context, output string)
	HandleToolError(ctx context.Context, err error)
	HandleAgentAction(ctx context.Context, action schema.AgentAction)
	HandleAgentFinish(ctx context.Context, finish schema.AgentFinish)
	HandleRetrieverStart(ctx context.Context, query string)
	HandleRetrieverEnd(ctx context.Context, query string, documents []schema.Document)
	HandleRetrieverError(ctx context.Context, err error)
	HandleStreamingFunc(ctx context.Context, chunk []byte)
} = (*Handler)(nil)

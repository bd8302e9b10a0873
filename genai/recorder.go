package genai

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/openlit/openlit-go/config"
	"github.com/openlit/openlit-go/diag"
)

// Recorder accumulates telemetry for one instrumented call and finalizes it
// exactly once, whether the call completes normally, fails, or its stream is
// abandoned early.
//
// A Recorder is owned by the goroutine driving the call; its methods are not
// safe for concurrent use. The span and metric instruments it writes to are
// shared and safe.
type Recorder struct {
	settings *Settings
	span     trace.Span
	req      RequestContext

	start        time.Time
	timestamps   []time.Time
	content      []byte
	inputTokens  *int
	outputTokens *int
	meta         ResponseMeta
	toolCalls    json.RawMessage

	once sync.Once
	agg  *AggregatedTelemetry
}

// Start begins a span for an instrumented call and returns the recorder that
// will finalize it. The returned context carries the span.
func (s *Settings) Start(ctx context.Context, spanName string, req RequestContext) (context.Context, *Recorder) {
	req.Environment = s.cfg.Environment
	req.ApplicationName = s.cfg.ApplicationName
	req.SDKVersion = config.SDKVersion

	start := s.now()
	ctx, span := s.tracer.Start(ctx, spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(start),
	)
	return ctx, &Recorder{
		settings: s,
		span:     span,
		req:      req,
		start:    start,
	}
}

// Span returns the span being recorded.
func (r *Recorder) Span() trace.Span {
	return r.span
}

// Observe feeds one normalized chunk into the recorder. The chunk's arrival
// time is taken as now; content deltas append, identity fields are
// last-seen-wins, usage sides update independently as the provider reports
// them. Observe never alters the chunk the caller sees.
func (r *Recorder) Observe(info ChunkInfo) {
	r.timestamps = append(r.timestamps, r.settings.now())
	r.content = append(r.content, info.ContentDelta...)
	r.mergeUsage(info.Usage)
	r.mergeMeta(info.Meta)
	if info.ToolCalls != nil {
		r.toolCalls = info.ToolCalls
	}
}

// Observe extracts a provider chunk through its adapter and feeds it into
// the recorder.
func Observe[T any](r *Recorder, a ChunkAdapter[T], chunk T) {
	r.Observe(extract(a, chunk))
}

// RecordResponse finalizes the recorder from a complete non-streaming
// response. It produces the same telemetry a streamed call would, with TTFT
// and TBT zero.
func (r *Recorder) RecordResponse(info ResponseInfo) {
	r.content = append(r.content, info.CompletionText...)
	r.mergeUsage(info.Usage)
	r.mergeMeta(info.Meta)
	if info.ToolCalls != nil {
		r.toolCalls = info.ToolCalls
	}
	r.Finish()
}

// RecordResponse extracts a provider response through its adapter and
// finalizes the recorder with it.
func RecordResponse[T any](r *Recorder, a ResponseAdapter[T], resp T) {
	r.RecordResponse(ExtractResponse(a, resp))
}

// Finish finalizes telemetry for a call that ended normally. Calling it
// again, or after Fail, is a no-op.
func (r *Recorder) Finish() {
	r.finalize(nil)
}

// Fail finalizes telemetry for a call that ended with err. The span status
// carries the error; the caller still propagates err unchanged.
func (r *Recorder) Fail(err error) {
	r.finalize(err)
}

// Telemetry returns the finalized record, or nil if the recorder has not
// finalized yet.
func (r *Recorder) Telemetry() *AggregatedTelemetry {
	return r.agg
}

// MarkStreaming flags the call as streamed when that is only discovered
// mid-call, for integrations that cannot tell up front.
func (r *Recorder) MarkStreaming() {
	r.req.Stream = true
}

// SetToolCalls attaches tool-call data assembled outside chunk extraction,
// for providers that deliver tool calls as fragments the integration has to
// stitch together itself.
func (r *Recorder) SetToolCalls(raw json.RawMessage) {
	if raw != nil {
		r.toolCalls = raw
	}
}

func (r *Recorder) mergeUsage(u *Usage) {
	if u == nil {
		return
	}
	if u.InputTokens != nil {
		v := *u.InputTokens
		r.inputTokens = &v
	}
	if u.OutputTokens != nil {
		v := *u.OutputTokens
		r.outputTokens = &v
	}
}

func (r *Recorder) mergeMeta(meta ResponseMeta) {
	if meta.ID != "" {
		r.meta.ID = meta.ID
	}
	if meta.Model != "" {
		r.meta.Model = meta.Model
	}
	if meta.FinishReason != "" {
		r.meta.FinishReason = meta.FinishReason
	}
	if meta.SystemFingerprint != "" {
		r.meta.SystemFingerprint = meta.SystemFingerprint
	}
}

func (r *Recorder) finalize(callErr error) {
	r.once.Do(func() {
		end := r.settings.now()
		agg := r.aggregate(end)
		r.agg = agg

		recordSpanAttributes(r.span, &r.req, agg, r.settings.cfg.CaptureMessageContent)
		if r.settings.metrics != nil && !r.settings.cfg.DisableMetrics {
			r.settings.metrics.Record(context.Background(), &r.req, agg)
		}

		if callErr != nil {
			r.span.RecordError(callErr)
			r.span.SetStatus(codes.Error, callErr.Error())
		}
		r.span.End(trace.WithTimestamp(end))
	})
}

// aggregate derives the final telemetry record from the accumulated state.
func (r *Recorder) aggregate(end time.Time) *AggregatedTelemetry {
	agg := &AggregatedTelemetry{
		PromptText:        r.req.PromptText,
		CompletionText:    string(r.content),
		Duration:          clampNonNegative(end.Sub(r.start)),
		ResponseID:        r.meta.ID,
		ResponseModel:     r.meta.Model,
		FinishReason:      r.meta.FinishReason,
		SystemFingerprint: r.meta.SystemFingerprint,
		ToolCalls:         r.toolCalls,
	}

	if len(r.timestamps) > 0 {
		agg.TTFT = clampNonNegative(r.timestamps[0].Sub(r.start))
	}
	if n := len(r.timestamps); n > 1 {
		agg.TBT = r.timestamps[n-1].Sub(r.timestamps[0]) / time.Duration(n-1)
	}

	model := r.meta.Model
	if model == "" {
		model = r.req.Model
	}

	switch {
	case r.inputTokens != nil:
		agg.InputTokens = clampNonNegative(*r.inputTokens)
	case r.settings.estimator != nil:
		agg.InputTokens = clampNonNegative(r.settings.estimator.CountTokens(agg.PromptText, model))
		agg.UsageEstimated = true
	}
	switch {
	case r.outputTokens != nil:
		agg.OutputTokens = clampNonNegative(*r.outputTokens)
	case r.settings.estimator != nil:
		agg.OutputTokens = clampNonNegative(r.settings.estimator.CountTokens(agg.CompletionText, model))
		agg.UsageEstimated = true
	}
	agg.TotalTokens = agg.InputTokens + agg.OutputTokens

	if r.settings.pricing != nil {
		agg.Cost = clampNonNegative(r.settings.pricing.Cost(model, agg.InputTokens, agg.OutputTokens))
	}

	if agg.TTFT > agg.Duration {
		// Clocks only misbehave here if the caller injected one; keep the
		// invariant anyway.
		diag.Warnf("TTFT %v exceeds duration %v, clamping", agg.TTFT, agg.Duration)
		agg.TTFT = agg.Duration
	}

	return agg
}

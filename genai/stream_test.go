package genai

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/openlit/openlit-go/config"
	"github.com/openlit/openlit-go/internal/oteltest"
	"github.com/openlit/openlit-go/pricing"
)

// testChunk is a minimal provider chunk shape for driving the stream proxy.
type testChunk struct {
	Delta     string
	Usage     *Usage
	Meta      ResponseMeta
	ToolCalls json.RawMessage
}

// testAdapter adapts testChunk for the aggregator.
type testAdapter struct{}

func (testAdapter) ContentDelta(c testChunk) string { return c.Delta }

func (testAdapter) Usage(c testChunk) (Usage, bool) {
	if c.Usage == nil {
		return Usage{}, false
	}
	return *c.Usage, true
}

func (testAdapter) Meta(c testChunk) ResponseMeta { return c.Meta }

func (testAdapter) ToolCalls(c testChunk) (json.RawMessage, bool) {
	return c.ToolCalls, c.ToolCalls != nil
}

func usagePtr(input, output int) *Usage {
	u := NewUsage(input, output)
	return &u
}

// sliceSource yields chunks from a slice, then reports err (if any).
type sliceSource struct {
	chunks []testChunk
	err    error

	i      int
	cur    testChunk
	closed bool
}

func (s *sliceSource) Next() bool {
	if s.i >= len(s.chunks) {
		return false
	}
	s.cur = s.chunks[s.i]
	s.i++
	return true
}

func (s *sliceSource) Current() testChunk { return s.cur }
func (s *sliceSource) Err() error         { return s.err }
func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

// fakeClock returns queued times, repeating the last one when exhausted.
type fakeClock struct {
	times []time.Time
	i     int
}

func (c *fakeClock) Now() time.Time {
	if c.i < len(c.times) {
		t := c.times[c.i]
		c.i++
		return t
	}
	return c.times[len(c.times)-1]
}

// wordCountEstimator is a deterministic stand-in for the token estimator.
type wordCountEstimator struct{}

func (wordCountEstimator) CountTokens(text, _ string) int {
	return len(strings.Fields(text))
}

var testPricing = pricing.Table{
	"demo-model": {PromptPrice: 1.0, CompletionPrice: 2.0},
}

func testConfig() *config.Config {
	return &config.Config{
		Environment:     "test",
		ApplicationName: "openlit-test",
	}
}

// newTestSettings builds settings wired to the in-memory tracer. clock may
// be nil for wall-clock time.
func newTestSettings(t *testing.T, cfg *config.Config, clock *fakeClock) (*Settings, *oteltest.Exporter) {
	t.Helper()
	tracer, exporter := oteltest.Setup(t)

	opts := []SettingsOption{
		WithTracer(tracer),
		WithEstimator(wordCountEstimator{}),
		WithPricing(testPricing),
	}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	return NewSettings(cfg, opts...), exporter
}

func chatRequest(stream bool) RequestContext {
	return RequestContext{
		Operation:  "chat",
		System:     "openai",
		Model:      "demo-model",
		PromptText: "2+2?",
		Stream:     stream,
	}
}

func TestStreamTransparency(t *testing.T) {
	settings, exporter := newTestSettings(t, testConfig(), nil)

	chunks := []testChunk{
		{Delta: "a"},
		{Delta: "b", Meta: ResponseMeta{ID: "id-1"}},
		{Delta: "", Usage: usagePtr(3, 2)},
	}
	src := &sliceSource{chunks: chunks}

	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)

	var seen []testChunk
	for stream.Next() {
		seen = append(seen, stream.Current())
	}
	require.NoError(t, stream.Err())
	require.NoError(t, stream.Close())

	// Every chunk comes through unmodified and in order.
	assert.Equal(t, chunks, seen)
	assert.True(t, src.closed)

	exporter.FlushOne()
}

func TestStreamAggregation(t *testing.T) {
	// The canonical scenario: three chunks at t+0.1s, t+0.3s, t+0.3s with
	// usage and finish reason arriving on the last one.
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{times: []time.Time{
		t0,                                   // span start
		t0.Add(100 * time.Millisecond),       // chunk 1
		t0.Add(300 * time.Millisecond),       // chunk 2
		t0.Add(300 * time.Millisecond),       // chunk 3
		t0.Add(400 * time.Millisecond),       // stream end
	}}
	settings, exporter := newTestSettings(t, testConfig(), clock)

	src := &sliceSource{chunks: []testChunk{
		{Delta: "4", Meta: ResponseMeta{ID: "resp-1", Model: "demo-model-v2"}},
		{Delta: ""},
		{
			Delta: "",
			Usage: usagePtr(5, 1),
			Meta:  ResponseMeta{FinishReason: "stop", SystemFingerprint: "fp_abc"},
		},
	}}

	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)
	for stream.Next() { //nolint:revive // draining the stream
	}
	require.NoError(t, stream.Err())

	agg := rec.Telemetry()
	require.NotNil(t, agg)
	assert.Equal(t, "4", agg.CompletionText)
	assert.Equal(t, 5, agg.InputTokens)
	assert.Equal(t, 1, agg.OutputTokens)
	assert.Equal(t, 6, agg.TotalTokens)
	assert.False(t, agg.UsageEstimated)
	assert.Equal(t, 100*time.Millisecond, agg.TTFT)
	assert.Equal(t, 100*time.Millisecond, agg.TBT) // mean of 0.2 and 0.0
	assert.Equal(t, 400*time.Millisecond, agg.Duration)
	assert.Equal(t, "stop", agg.FinishReason)
	assert.Equal(t, "resp-1", agg.ResponseID)
	assert.Equal(t, "demo-model-v2", agg.ResponseModel)
	assert.InDelta(t, 5.0/1000*1.0+1.0/1000*2.0, agg.Cost, 1e-9)

	ts := exporter.FlushOne()
	ts.AssertNameIs("chat demo-model")
	ts.AssertAttrEquals("gen_ai.operation.name", "chat")
	ts.AssertAttrEquals("gen_ai.system", "openai")
	ts.AssertAttrEquals("gen_ai.request.model", "demo-model")
	ts.AssertAttrEquals("gen_ai.request.is_stream", true)
	ts.AssertAttrEquals("gen_ai.response.id", "resp-1")
	ts.AssertAttrEquals("gen_ai.response.model", "demo-model-v2")
	ts.AssertAttrEquals("gen_ai.response.finish_reason", "stop")
	ts.AssertAttrEquals("gen_ai.response.system_fingerprint", "fp_abc")
	ts.AssertAttrEquals("gen_ai.usage.input_tokens", 5)
	ts.AssertAttrEquals("gen_ai.usage.output_tokens", 1)
	ts.AssertAttrEquals("gen_ai.usage.total_tokens", 6)
	ts.AssertAttrEquals("gen_ai.server.time_to_first_token", 0.1)
	ts.AssertAttrEquals("gen_ai.server.time_between_tokens", 0.1)
	assert.False(t, ts.HasAttr("gen_ai.usage.is_estimated"))
	// Content capture is off by default.
	assert.False(t, ts.HasAttr("gen_ai.content.prompt"))
	assert.False(t, ts.HasAttr("gen_ai.content.completion"))
}

func TestAtMostOnceFinalization(t *testing.T) {
	settings, exporter := newTestSettings(t, testConfig(), nil)

	src := &sliceSource{chunks: []testChunk{{Delta: "hi"}}}
	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)

	for stream.Next() { //nolint:revive
	}
	// Exhaustion already finalized; none of these may emit again.
	assert.False(t, stream.Next())
	require.NoError(t, stream.Close())
	rec.Finish()
	rec.Fail(errors.New("too late"))

	spans := exporter.Flush()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestCloseWithoutExhaustionFinalizes(t *testing.T) {
	settings, exporter := newTestSettings(t, testConfig(), nil)

	src := &sliceSource{chunks: []testChunk{
		{Delta: "partial"},
		{Delta: " never read"},
	}}
	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)

	require.True(t, stream.Next())
	// Consumer abandons the stream; Close must still finalize telemetry.
	require.NoError(t, stream.Close())

	agg := rec.Telemetry()
	require.NotNil(t, agg)
	assert.Equal(t, "partial", agg.CompletionText)

	exporter.FlushOne()
	assert.False(t, stream.Next(), "closed stream must not yield")
}

func TestEstimationFallback(t *testing.T) {
	settings, exporter := newTestSettings(t, testConfig(), nil)

	// No chunk ever carries usage data.
	src := &sliceSource{chunks: []testChunk{
		{Delta: "the answer "},
		{Delta: "is four"},
	}}
	req := chatRequest(true)
	req.PromptText = "what is two plus two"

	_, rec := settings.Start(t.Context(), "chat demo-model", req)
	stream := NewStream[testChunk](src, testAdapter{}, rec)
	for stream.Next() { //nolint:revive
	}

	agg := rec.Telemetry()
	require.NotNil(t, agg)
	assert.True(t, agg.UsageEstimated)
	assert.Equal(t, 5, agg.InputTokens)  // words in the prompt
	assert.Equal(t, 4, agg.OutputTokens) // words in "the answer is four"
	assert.Equal(t, 9, agg.TotalTokens)

	ts := exporter.FlushOne()
	ts.AssertAttrEquals("gen_ai.usage.is_estimated", true)
	ts.AssertAttrEquals("gen_ai.usage.input_tokens", 5)
	ts.AssertAttrEquals("gen_ai.usage.output_tokens", 4)
}

func TestErrorPropagation(t *testing.T) {
	tracer, exporter := oteltest.Setup(t)
	settings := NewSettings(testConfig(),
		WithTracer(tracer),
		WithEstimator(wordCountEstimator{}),
	)

	streamErr := errors.New("connection reset mid-stream")
	src := &sliceSource{
		chunks: []testChunk{{Delta: "par"}},
		err:    streamErr,
	}
	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)

	require.True(t, stream.Next())
	require.False(t, stream.Next())
	assert.Same(t, streamErr, stream.Err())

	ts := exporter.FlushOne()
	assert.Equal(t, codes.Error, ts.Status().Code)
	assert.Contains(t, ts.Status().Description, "connection reset")

	events := ts.Events()
	require.Len(t, events, 1)
	var errMsg string
	for _, attr := range events[0].Attributes {
		if attr.Key == "exception.message" {
			errMsg = attr.Value.AsString()
		}
	}
	assert.Contains(t, errMsg, "connection reset")

	// Partial telemetry still finalized.
	require.NotNil(t, rec.Telemetry())
	assert.Equal(t, "par", rec.Telemetry().CompletionText)
}

func TestEmptyStream(t *testing.T) {
	settings, exporter := newTestSettings(t, testConfig(), nil)

	src := &sliceSource{}
	req := chatRequest(true)
	req.PromptText = ""

	_, rec := settings.Start(t.Context(), "chat demo-model", req)
	stream := NewStream[testChunk](src, testAdapter{}, rec)
	assert.False(t, stream.Next())

	agg := rec.Telemetry()
	require.NotNil(t, agg)
	assert.Zero(t, agg.TTFT)
	assert.Zero(t, agg.TBT)
	assert.Empty(t, agg.CompletionText)

	ts := exporter.FlushOne()
	ts.AssertAttrEquals("gen_ai.server.time_to_first_token", 0.0)
	ts.AssertAttrEquals("gen_ai.server.time_between_tokens", 0.0)
}

func TestSingleChunkTBTIsZero(t *testing.T) {
	settings, exporter := newTestSettings(t, testConfig(), nil)

	src := &sliceSource{chunks: []testChunk{{Delta: "only"}}}
	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)
	for stream.Next() { //nolint:revive
	}

	agg := rec.Telemetry()
	require.NotNil(t, agg)
	assert.Zero(t, agg.TBT)
	assert.Positive(t, agg.TTFT)
	exporter.FlushOne()
}

func TestToolCallsForwardedVerbatim(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureMessageContent = true
	settings, exporter := newTestSettings(t, cfg, nil)

	raw := json.RawMessage(`[{"id":"call_1","function":{"name":"get_weather","arguments":"{\"city\":\"SF\"}"}}]`)
	src := &sliceSource{chunks: []testChunk{
		{Delta: "", ToolCalls: raw, Usage: usagePtr(10, 4)},
	}}
	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)
	for stream.Next() { //nolint:revive
	}

	ts := exporter.FlushOne()
	assert.JSONEq(t, string(raw), ts.Attr("gen_ai.content.tool_calls").String())
}

func TestContentCaptureEnabled(t *testing.T) {
	cfg := testConfig()
	cfg.CaptureMessageContent = true
	settings, exporter := newTestSettings(t, cfg, nil)

	src := &sliceSource{chunks: []testChunk{{Delta: "four"}}}
	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)
	for stream.Next() { //nolint:revive
	}

	ts := exporter.FlushOne()
	ts.AssertAttrEquals("gen_ai.content.prompt", "2+2?")
	ts.AssertAttrEquals("gen_ai.content.completion", "four")
}

func TestStreamAll(t *testing.T) {
	settings, exporter := newTestSettings(t, testConfig(), nil)

	src := &sliceSource{chunks: []testChunk{{Delta: "a"}, {Delta: "b"}}}
	_, rec := settings.Start(t.Context(), "chat demo-model", chatRequest(true))
	stream := NewStream[testChunk](src, testAdapter{}, rec)

	var got string
	for chunk := range stream.All() {
		got += chunk.Delta
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, "ab", got)
	exporter.FlushOne()
}

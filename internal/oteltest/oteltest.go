// Package oteltest provides OpenTelemetry test helpers: a fully synchronous
// in-memory trace setup and a manual-reader metric setup, with assertion
// helpers over the captured data.
package oteltest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/openlit/openlit-go/diag"
)

// Setup sets up otel tracing for testing (no sampling, sync, stores spans in
// memory) and returns a Tracer and an Exporter that can be used to flush the
// spans.
func Setup(t *testing.T, opts ...sdktrace.TracerProviderOption) (oteltrace.Tracer, *Exporter) {
	t.Helper()
	FailTestsOnWarnings(t)

	// setup otel to be fully synchronous
	exporter := tracetest.NewInMemoryExporter()
	processor := sdktrace.NewSimpleSpanProcessor(exporter)

	opts = append(opts,
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithSpanProcessor(processor), // flushes immediately
	)

	tp := sdktrace.NewTracerProvider(opts...)

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer := otel.GetTracerProvider().Tracer(t.Name())

	t.Cleanup(func() {
		diag.ClearLogger()
		ctx := context.WithoutCancel(t.Context())
		if err := tp.Shutdown(ctx); err != nil {
			t.Errorf("Error shutting down tracer provider: %v", err)
		}
		otel.SetTracerProvider(original)
	})

	return tracer, &Exporter{exporter: exporter, t: t}
}

// SetupMetrics installs a manual-reader meter provider as the global one and
// returns a Metrics handle for collecting the recorded data.
func SetupMetrics(t *testing.T) *Metrics {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	original := otel.GetMeterProvider()
	otel.SetMeterProvider(mp)

	t.Cleanup(func() {
		ctx := context.WithoutCancel(t.Context())
		if err := mp.Shutdown(ctx); err != nil {
			t.Errorf("Error shutting down meter provider: %v", err)
		}
		otel.SetMeterProvider(original)
	})

	return &Metrics{reader: reader, t: t}
}

// FailTestsOnWarnings routes diag warnings to t.Errorf so accidental
// telemetry failures show up as test failures.
func FailTestsOnWarnings(t *testing.T) {
	t.Helper()
	diag.SetLogger(&testDiagLogger{t: t})
	t.Cleanup(diag.ClearLogger)
}

type testDiagLogger struct {
	t *testing.T
}

func (l *testDiagLogger) Debugf(format string, args ...any) {
	l.t.Logf("DEBUG "+format, args...)
}

func (l *testDiagLogger) Warnf(format string, args ...any) {
	l.t.Errorf("unexpected warning: "+format, args...)
}

// Exporter is a wrapper around the OTel InMemoryExporter that provides some
// helper functions for testing.
type Exporter struct {
	exporter *tracetest.InMemoryExporter
	t        *testing.T
}

// Flush returns the spans buffered in memory.
func (e *Exporter) Flush() []Span {
	stubs := e.exporter.GetSpans()
	e.exporter.Reset()

	spans := make([]Span, len(stubs))
	for i, span := range stubs {
		spans[i] = Span{t: e.t, Stub: span}
	}
	return spans
}

// FlushOne returns the first span buffered in memory and fails if there is
// not exactly one span.
func (e *Exporter) FlushOne() Span {
	e.t.Helper()
	spans := e.Flush()
	if len(spans) != 1 {
		e.t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	return spans[0]
}

// Span is a wrapper around the OTel SpanStub with some helpful testing
// functions.
type Span struct {
	t    *testing.T
	Stub tracetest.SpanStub
}

// Name returns the span's name.
func (s *Span) Name() string {
	return s.Stub.Name
}

// Status returns the span's status.
func (s *Span) Status() sdktrace.Status {
	return s.Stub.Status
}

// Events returns the span's events.
func (s *Span) Events() []sdktrace.Event {
	return s.Stub.Events
}

// AssertNameIs asserts that the span's name equals the expected name.
func (s *Span) AssertNameIs(expected string) {
	s.t.Helper()
	assert.Equal(s.t, expected, s.Stub.Name)
}

// AssertInTimeRange asserts the span started and ended inside tr.
func (s *Span) AssertInTimeRange(tr TimeRange) {
	s.t.Helper()
	stub := s.Stub
	assert.NotZero(s.t, tr.Start)
	assert.NotZero(s.t, tr.End)
	assert.False(s.t, stub.StartTime.Before(tr.Start))
	assert.False(s.t, stub.EndTime.After(tr.End))
	assert.False(s.t, stub.EndTime.Before(stub.StartTime))
}

// AssertAttrEquals asserts that the attribute is equal to the expected value.
func (s *Span) AssertAttrEquals(key string, expected any) {
	s.t.Helper()
	attr := s.Attr(key)
	attr.AssertEquals(expected)
}

// Attrs returns all the span's attributes matching the key.
func (s *Span) Attrs(key string) []Attr {
	attrs := []Attr{}
	for _, kv := range s.Stub.Attributes {
		if string(kv.Key) == key {
			attrs = append(attrs, Attr{t: s.t, Key: string(kv.Key), Value: kv.Value})
		}
	}
	return attrs
}

// Attr returns the attribute matching the key and fails if there isn't
// exactly one.
func (s *Span) Attr(key string) Attr {
	s.t.Helper()
	attrs := s.Attrs(key)
	require.Len(s.t, attrs, 1)
	return attrs[0]
}

// HasAttr returns true if the span has at least one attribute with the
// given key.
func (s *Span) HasAttr(key string) bool {
	return len(s.Attrs(key)) > 0
}

// AttrMap returns the span's attributes as a map keyed by attribute name.
func (s *Span) AttrMap() map[string]attribute.Value {
	m := make(map[string]attribute.Value, len(s.Stub.Attributes))
	for _, kv := range s.Stub.Attributes {
		m[string(kv.Key)] = kv.Value
	}
	return m
}

// Attr is a single span attribute with assertion helpers.
type Attr struct {
	t     *testing.T
	Key   string
	Value attribute.Value
}

// String returns the attribute value as a string.
func (a Attr) String() string {
	return a.Value.AsString()
}

// Float64 returns the attribute value as a float64.
func (a Attr) Float64() float64 {
	return a.Value.AsFloat64()
}

// Int64 returns the attribute value as an int64.
func (a Attr) Int64() int64 {
	return a.Value.AsInt64()
}

// Bool returns the attribute value as a bool.
func (a Attr) Bool() bool {
	return a.Value.AsBool()
}

// AssertEquals asserts the attribute equals the expected value.
func (a Attr) AssertEquals(expected any) {
	a.t.Helper()
	switch want := expected.(type) {
	case string:
		assert.Equal(a.t, want, a.Value.AsString())
	case bool:
		assert.Equal(a.t, want, a.Value.AsBool())
	case int:
		assert.Equal(a.t, int64(want), a.Value.AsInt64())
	case int64:
		assert.Equal(a.t, want, a.Value.AsInt64())
	case float64:
		assert.InDelta(a.t, want, a.Value.AsFloat64(), 1e-9)
	default:
		a.t.Fatalf("unsupported attribute assertion type %T", expected)
	}
}

// Metrics collects data recorded through the manual reader.
type Metrics struct {
	reader *sdkmetric.ManualReader
	t      *testing.T
}

// Collect returns everything recorded so far.
func (m *Metrics) Collect() metricdata.ResourceMetrics {
	m.t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(m.t, m.reader.Collect(context.Background(), &rm))
	return rm
}

// SumInt64 returns the summed value of an Int64 counter, or 0 if nothing
// was recorded for it.
func (m *Metrics) SumInt64(name string) int64 {
	m.t.Helper()
	var total int64
	agg, ok := m.find(name)
	if !ok {
		return 0
	}
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(m.t, ok, "%s is not an int64 sum", name)
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

// HistogramCount returns the number of recordings in a float64 histogram.
func (m *Metrics) HistogramCount(name string) uint64 {
	m.t.Helper()
	agg, ok := m.find(name)
	if !ok {
		return 0
	}
	hist, ok := agg.(metricdata.Histogram[float64])
	require.True(m.t, ok, "%s is not a float64 histogram", name)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	return count
}

// HistogramSum returns the summed recorded values of a float64 histogram.
func (m *Metrics) HistogramSum(name string) float64 {
	m.t.Helper()
	agg, ok := m.find(name)
	if !ok {
		return 0
	}
	hist, ok := agg.(metricdata.Histogram[float64])
	require.True(m.t, ok, "%s is not a float64 histogram", name)
	var sum float64
	for _, dp := range hist.DataPoints {
		sum += dp.Sum
	}
	return sum
}

func (m *Metrics) find(name string) (metricdata.Aggregation, bool) {
	rm := m.Collect()
	for _, scope := range rm.ScopeMetrics {
		for _, metr := range scope.Metrics {
			if metr.Name == name {
				return metr.Data, true
			}
		}
	}
	return nil, false
}

// Timer tracks time ranges for span assertions.
type Timer struct {
	start time.Time
}

// NewTimer creates a timer anchored at now.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Tick returns the range from the timer's start until now and resets the
// start for the next range.
func (tm *Timer) Tick() TimeRange {
	now := time.Now()
	tr := TimeRange{Start: tm.start, End: now}
	tm.start = now
	return tr
}

// TimeRange is a start/end pair.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

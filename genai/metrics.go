package genai

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/openlit/openlit-go/diag"
	"github.com/openlit/openlit-go/semconv"
)

// MetricsRecorder updates the fixed GenAI instrument set from an
// AggregatedTelemetry record. An instrument that failed to register is
// skipped at record time rather than failing the call, so a partially
// populated registry degrades instead of breaking.
type MetricsRecorder struct {
	requests     metric.Int64Counter
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
	totalTokens  metric.Int64Counter
	cost         metric.Float64Histogram
	duration     metric.Float64Histogram
	ttft         metric.Float64Histogram
	tbt          metric.Float64Histogram
}

// NewMetricsRecorder registers the GenAI instruments on the meter.
// Registration failures are logged and leave the individual instrument
// disabled.
func NewMetricsRecorder(meter metric.Meter) *MetricsRecorder {
	m := &MetricsRecorder{}
	var err error

	if m.requests, err = meter.Int64Counter(semconv.MetricRequests,
		metric.WithDescription("Number of GenAI requests"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricRequests, err)
	}
	if m.inputTokens, err = meter.Int64Counter(semconv.MetricInputTokens,
		metric.WithDescription("Input tokens consumed"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricInputTokens, err)
	}
	if m.outputTokens, err = meter.Int64Counter(semconv.MetricOutputTokens,
		metric.WithDescription("Output tokens generated"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricOutputTokens, err)
	}
	if m.totalTokens, err = meter.Int64Counter(semconv.MetricTotalTokens,
		metric.WithDescription("Total tokens consumed"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricTotalTokens, err)
	}
	if m.cost, err = meter.Float64Histogram(semconv.MetricCost,
		metric.WithDescription("Cost in USD per request"),
		metric.WithUnit("usd"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricCost, err)
	}
	if m.duration, err = meter.Float64Histogram(semconv.MetricDuration,
		metric.WithDescription("GenAI operation duration"),
		metric.WithUnit("s"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricDuration, err)
	}
	if m.ttft, err = meter.Float64Histogram(semconv.MetricTTFT,
		metric.WithDescription("Time to first streamed token"),
		metric.WithUnit("s"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricTTFT, err)
	}
	if m.tbt, err = meter.Float64Histogram(semconv.MetricTBT,
		metric.WithDescription("Mean time between streamed tokens"),
		metric.WithUnit("s"),
	); err != nil {
		diag.Warnf("Error creating instrument %s: %v", semconv.MetricTBT, err)
	}

	return m
}

// Record updates every registered instrument from the telemetry record.
func (m *MetricsRecorder) Record(ctx context.Context, rc *RequestContext, at *AggregatedTelemetry) {
	responseModel := at.ResponseModel
	if responseModel == "" {
		responseModel = rc.Model
	}
	attrs := metric.WithAttributes(
		semconv.GenAIOperationName.String(rc.Operation),
		semconv.GenAISystem.String(rc.System),
		semconv.GenAIRequestModel.String(rc.Model),
		semconv.GenAIResponseModel.String(responseModel),
		semconv.GenAIEnvironment.String(rc.Environment),
		semconv.GenAIApplicationName.String(rc.ApplicationName),
	)

	if m.requests != nil {
		m.requests.Add(ctx, 1, attrs)
	}
	if m.inputTokens != nil {
		m.inputTokens.Add(ctx, int64(at.InputTokens), attrs)
	}
	if m.outputTokens != nil {
		m.outputTokens.Add(ctx, int64(at.OutputTokens), attrs)
	}
	if m.totalTokens != nil {
		m.totalTokens.Add(ctx, int64(at.TotalTokens), attrs)
	}
	if m.cost != nil {
		m.cost.Record(ctx, at.Cost, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, at.Duration.Seconds(), attrs)
	}
	if rc.Stream {
		if m.ttft != nil {
			m.ttft.Record(ctx, at.TTFT.Seconds(), attrs)
		}
		if m.tbt != nil {
			m.tbt.Record(ctx, at.TBT.Seconds(), attrs)
		}
	}
}

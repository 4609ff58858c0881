package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const usageMeterName = "github.com/dativo-io/teller/internal/llm"

var (
	usageInputHistogram  metric.Int64Histogram
	usageOutputHistogram metric.Int64Histogram
	usageMetricsOnce     sync.Once
	usageMetricsReady    bool
)

func initUsageMetrics() {
	meter := otel.Meter(usageMeterName)
	var err error
	usageInputHistogram, err = meter.Int64Histogram(
		"teller.llm.input_tokens",
		metric.WithDescription("Input tokens per generation request"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return
	}
	usageOutputHistogram, err = meter.Int64Histogram(
		"teller.llm.output_tokens",
		metric.WithDescription("Output tokens per generation request"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return
	}
	usageMetricsReady = true
}

// RecordUsageMetrics records token usage after a generation call.
func RecordUsageMetrics(ctx context.Context, model string, inputTokens, outputTokens int) {
	usageMetricsOnce.Do(initUsageMetrics)
	if !usageMetricsReady {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model", model))
	usageInputHistogram.Record(ctx, int64(inputTokens), attrs)
	usageOutputHistogram.Record(ctx, int64(outputTokens), attrs)
}

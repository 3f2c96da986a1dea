package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// toolCallCounter mirrors the Prometheus tool_calls_total series through
// the otel/metric API, so a process that does configure an otel metric
// pipeline (a Collector behind the default global MeterProvider) gets
// the same signal without this package depending on which exporter is
// wired in (§2 ambient stack: "metric" alongside "trace"/"sdk").
var (
	toolCallCounterOnce sync.Once
	toolCallCounter     metric.Int64Counter
)

// RecordToolCallMeter increments the otel/metric-backed counter for one
// tool dispatch.
func RecordToolCallMeter(ctx context.Context, tool string, isError bool) {
	toolCallCounterOnce.Do(func() {
		toolCallCounter, _ = otel.Meter("agentcore.reply").Int64Counter(
			"agentcore.tool.calls",
			metric.WithDescription("Tool dispatch count, mirrored from the Prometheus series of the same name."),
		)
	})
	if toolCallCounter == nil {
		return
	}
	status := "ok"
	if isError {
		status = "error"
	}
	toolCallCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrToolName, tool),
		attribute.String("status", status),
	))
}

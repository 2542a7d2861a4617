package runner

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/agentd/internal/runner"

// runnerMetrics holds queue and execution metrics. Instrument creation
// failures degrade to nil instruments and are logged once at startup.
type runnerMetrics struct {
	meter      metric.Meter
	queued     metric.Int64Counter
	blocked    metric.Int64Counter
	finished   metric.Int64Counter
	queueDepth metric.Int64UpDownCounter
}

func newRunnerMetrics(logger *zap.Logger) *runnerMetrics {
	m := &runnerMetrics{meter: otel.Meter(instrumentationName)}
	var err error

	m.queued, err = m.meter.Int64Counter(
		"agentd.runner.tasks_queued_total",
		metric.WithDescription("Tasks accepted into the pending queue"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		logger.Warn("failed to create queued counter", zap.Error(err))
	}

	m.blocked, err = m.meter.Int64Counter(
		"agentd.runner.tasks_blocked_total",
		metric.WithDescription("Task specs rejected at the admission gate"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		logger.Warn("failed to create blocked counter", zap.Error(err))
	}

	m.finished, err = m.meter.Int64Counter(
		"agentd.runner.tasks_finished_total",
		metric.WithDescription("Tasks that reached a terminal state"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		logger.Warn("failed to create finished counter", zap.Error(err))
	}

	m.queueDepth, err = m.meter.Int64UpDownCounter(
		"agentd.runner.queue_depth",
		metric.WithDescription("Tasks currently pending"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		logger.Warn("failed to create queue depth gauge", zap.Error(err))
	}

	return m
}

func (m *runnerMetrics) recordQueued(ctx context.Context) {
	if m.queued != nil {
		m.queued.Add(ctx, 1)
	}
	if m.queueDepth != nil {
		m.queueDepth.Add(ctx, 1)
	}
}

func (m *runnerMetrics) recordDequeued(ctx context.Context, n int64) {
	if m.queueDepth != nil {
		m.queueDepth.Add(ctx, -n)
	}
}

func (m *runnerMetrics) recordBlocked(ctx context.Context, reason string) {
	if m.blocked != nil {
		m.blocked.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
}

func (m *runnerMetrics) recordFinished(ctx context.Context, outcome Status) {
	if m.finished != nil {
		m.finished.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	}
}

package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/agentd/internal/orchestrator"

// orchestratorMetrics counts classifications, execution outcomes and plan
// steps. Instrument creation failures degrade to nil instruments and are
// logged once at startup.
type orchestratorMetrics struct {
	meter      metric.Meter
	classified metric.Int64Counter
	outcomes   metric.Int64Counter
	steps      metric.Int64Counter
}

func newOrchestratorMetrics(logger *zap.Logger) *orchestratorMetrics {
	m := &orchestratorMetrics{meter: otel.Meter(instrumentationName)}
	var err error

	m.classified, err = m.meter.Int64Counter(
		"agentd.orchestrator.classified_total",
		metric.WithDescription("Requests classified, by classification"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		logger.Warn("failed to create classified counter", zap.Error(err))
	}

	m.outcomes, err = m.meter.Int64Counter(
		"agentd.orchestrator.executions_total",
		metric.WithDescription("Execution outcomes, including escalations and timeouts"),
		metric.WithUnit("{execution}"),
	)
	if err != nil {
		logger.Warn("failed to create outcomes counter", zap.Error(err))
	}

	m.steps, err = m.meter.Int64Counter(
		"agentd.orchestrator.plan_steps_total",
		metric.WithDescription("Plan steps executed, by terminal status"),
		metric.WithUnit("{step}"),
	)
	if err != nil {
		logger.Warn("failed to create steps counter", zap.Error(err))
	}

	return m
}

func (m *orchestratorMetrics) recordClassified(ctx context.Context, class Classification) {
	if m.classified != nil {
		m.classified.Add(ctx, 1, metric.WithAttributes(attribute.String("classification", string(class))))
	}
}

func (m *orchestratorMetrics) recordOutcome(ctx context.Context, outcome string) {
	if m.outcomes != nil {
		m.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m *orchestratorMetrics) recordStep(ctx context.Context, status StepStatus) {
	if m.steps != nil {
		m.steps.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
	}
}

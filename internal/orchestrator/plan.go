package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultPlanTimeout bounds a plan when the caller supplies no deadline.
const DefaultPlanTimeout = 2 * time.Minute

// ExecutePlan runs steps strictly in order under a single shared deadline.
//
// On a step failure the step's on_error policy decides: halt aborts
// immediately and returns the failure with its index and cause; continue
// records the failure and proceeds. The timeout bounds the sum of all step
// executions; exceeding it aborts the remaining steps and reports a timeout
// distinct from a step-level failure. The returned PlanResult always holds
// whatever the plan managed to do, even alongside an error.
func (o *Orchestrator) ExecutePlan(ctx context.Context, steps []Step, timeout time.Duration) (PlanResult, error) {
	if len(steps) == 0 {
		return PlanResult{}, fmt.Errorf("plan has no steps")
	}
	for i, step := range steps {
		if step.Tool == "" {
			return PlanResult{}, fmt.Errorf("step %d is missing a tool name", i)
		}
		switch step.OnError {
		case "", PolicyHalt, PolicyContinue:
		default:
			return PlanResult{}, fmt.Errorf("step %d has unknown on_error policy %q", i, step.OnError)
		}
	}
	if timeout <= 0 {
		timeout = DefaultPlanTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	o.mu.Lock()
	o.stats.PlansRun++
	o.mu.Unlock()

	result := PlanResult{Steps: make([]StepResult, 0, len(steps))}
	var failures []StepResult

	for i, step := range steps {
		if ctx.Err() != nil {
			o.markSkipped(&result, steps, i)
			o.metrics.recordOutcome(ctx, "timeout")
			return result, &PlanTimeoutError{
				Timeout:   timeout,
				Completed: result.Completed,
				Remaining: len(steps) - i,
			}
		}

		sr := StepResult{Index: i, Tool: step.Tool, Operation: step.Operation}
		out, err := o.tools.Invoke(ctx, step.invocation())
		if err != nil {
			// The deadline expiring mid-step is a timeout, not a step
			// failure. The interrupted step ran, so it does not count as
			// remaining.
			if ctx.Err() != nil {
				sr.Status = StepFailed
				sr.Error = ctx.Err().Error()
				result.Steps = append(result.Steps, sr)
				o.markSkipped(&result, steps, i+1)
				o.metrics.recordOutcome(ctx, "timeout")
				return result, &PlanTimeoutError{
					Timeout:   timeout,
					Completed: result.Completed,
					Remaining: len(steps) - i - 1,
				}
			}

			sr.Status = StepFailed
			sr.Error = err.Error()
			result.Steps = append(result.Steps, sr)
			result.Failed++
			o.metrics.recordStep(ctx, StepFailed)
			o.logger.Warn("plan step failed",
				zap.Int("step", i),
				zap.String("tool", step.Tool),
				zap.String("operation", step.Operation),
				zap.String("policy", string(step.OnError)),
				zap.Error(err))

			if step.OnError == PolicyContinue {
				failures = append(failures, sr)
				continue
			}
			o.markSkipped(&result, steps, i+1)
			return result, &StepError{Index: i, Step: step, Cause: err}
		}

		sr.Status = StepCompleted
		sr.Output = out.Output
		result.Steps = append(result.Steps, sr)
		result.Completed++
		o.metrics.recordStep(ctx, StepCompleted)
	}

	if len(failures) > 0 {
		return result, &PlanFailuresError{Failures: failures}
	}
	return result, nil
}

// markSkipped records the steps a halt or timeout prevented from running.
func (o *Orchestrator) markSkipped(result *PlanResult, steps []Step, from int) {
	for i := from; i < len(steps); i++ {
		result.Steps = append(result.Steps, StepResult{
			Index:     i,
			Tool:      steps[i].Tool,
			Operation: steps[i].Operation,
			Status:    StepSkipped,
		})
	}
}

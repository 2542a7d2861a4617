// Package orchestrator classifies ad-hoc task requests and executes single
// tasks or explicit ordered plans of tool steps.
//
// Classification is deterministic: a request either matches a published
// procedure, decomposes into a known routine of tool steps, or needs
// reasoning. In the last case Execute escalates rather than acts —
// escalation is a first-class outcome, not an error; it means the engine
// declines to guess and hands control back with context.
package orchestrator

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/tool"
)

// Classification buckets a request by how the engine can act on it.
type Classification string

const (
	// ClassProcedure means the request matches a published procedure.
	ClassProcedure Classification = "procedure"

	// ClassOrchestrated means the request decomposes into a known
	// deterministic tool-step sequence.
	ClassOrchestrated Classification = "orchestrated"

	// ClassNeedsReasoning means judgment beyond deterministic rules is
	// required.
	ClassNeedsReasoning Classification = "needs_reasoning"
)

// Decision is the outcome of classification.
type Decision struct {
	Classification Classification `json:"classification"`
	Reason         string         `json:"reason"`

	// Procedure is set when Classification is ClassProcedure.
	Procedure string `json:"procedure,omitempty"`

	// Routine is set when Classification is ClassOrchestrated.
	Routine string `json:"routine,omitempty"`
}

// Request is a single ad-hoc execution request.
type Request struct {
	Description string         `json:"description"`
	Context     map[string]any `json:"context,omitempty"`
	Timeout     time.Duration  `json:"-"`
}

// Outcome is the result of Execute. An escalated outcome carries a reason
// and enough context for a higher-level reasoner to proceed manually; it is
// never reported as an error.
type Outcome struct {
	Classification Classification `json:"classification"`
	Result         any            `json:"result,omitempty"`
	Escalated      bool           `json:"escalated,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// ErrorPolicy says what a plan does when a step fails.
type ErrorPolicy string

const (
	// PolicyHalt aborts the plan at the first failure. The default.
	PolicyHalt ErrorPolicy = "halt"

	// PolicyContinue records the failure and proceeds to the next step.
	PolicyContinue ErrorPolicy = "continue"
)

// Step is one tool invocation in a plan. Steps are addressed by position.
type Step struct {
	Tool      string         `koanf:"tool" json:"tool"`
	Operation string         `koanf:"operation" json:"operation"`
	Args      map[string]any `koanf:"args" json:"args,omitempty"`
	OnError   ErrorPolicy    `koanf:"on_error" json:"on_error,omitempty"`
}

func (s Step) invocation() tool.Invocation {
	return tool.Invocation{Tool: s.Tool, Operation: s.Operation, Args: s.Args}
}

// StepStatus is a plan step's terminal state.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one step's outcome.
type StepResult struct {
	Index     int        `json:"index"`
	Tool      string     `json:"tool"`
	Operation string     `json:"operation"`
	Status    StepStatus `json:"status"`
	Output    any        `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// PlanResult aggregates per-step outcomes in execution order.
type PlanResult struct {
	Steps     []StepResult `json:"steps"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
}

// Routine is a named deterministic decomposition: when every keyword appears
// in a request description, the request is orchestrated as these steps.
type Routine struct {
	Name     string   `koanf:"name" json:"name"`
	Keywords []string `koanf:"keywords" json:"keywords"`
	Steps    []Step   `koanf:"steps" json:"steps"`
}

// StepError reports a halting step failure with its position and cause.
type StepError struct {
	Index int
	Step  Step
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("plan halted at step %d (%s.%s): %v",
		e.Index, e.Step.Tool, e.Step.Operation, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// PlanTimeoutError reports that the plan's shared deadline elapsed before
// all steps ran. It is distinct from a step-level failure.
type PlanTimeoutError struct {
	Timeout   time.Duration
	Completed int
	Remaining int
}

func (e *PlanTimeoutError) Error() string {
	return fmt.Sprintf("plan timed out after %s with %d steps remaining",
		e.Timeout, e.Remaining)
}

// PlanFailuresError aggregates failures from continue-policy steps: the plan
// ran to its end, some steps failed. The PlanResult alongside it still holds
// every successful step's output.
type PlanFailuresError struct {
	Failures []StepResult
}

func (e *PlanFailuresError) Error() string {
	return fmt.Sprintf("plan completed with %d failed steps", len(e.Failures))
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/procedure"
	"github.com/fyrsmithlabs/agentd/internal/runner"
	"github.com/fyrsmithlabs/agentd/internal/safety"
)

// addTool registers a typed tool with invocation metrics wrapped around the
// handler.
func addTool[In, Out any](s *Server, name, description string, fn func(ctx context.Context, args In) (Out, error)) {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		out, err := fn(ctx, args)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Debug("tool call failed",
				zap.String("tool", name),
				zap.Error(err))
		}
		return nil, out, err
	})
}

// registerTools registers the full engine operation surface.
func (s *Server) registerTools() {
	s.registerTaskTools()
	s.registerSafetyTools()
	s.registerOrchestratorTools()
	s.registerProcedureTools()
}

// ===== TASK RUNNER TOOLS =====

type taskQueueInput struct {
	Type        string `json:"type,omitempty" jsonschema:"Free-form task category (default: general)"`
	Description string `json:"description" jsonschema:"required,Human-readable task intent"`
	Command     string `json:"command,omitempty" jsonschema:"Optional shell command payload"`
	Path        string `json:"path,omitempty" jsonschema:"Optional filesystem target"`
	Query       string `json:"query,omitempty" jsonschema:"Optional free-form query payload"`
}

type taskQueueOutput struct {
	TaskID string `json:"task_id" jsonschema:"Identifier of the accepted task"`
}

type taskGetInput struct {
	TaskID string `json:"task_id" jsonschema:"required,Task identifier"`
}

type ackOutput struct {
	Status string `json:"status"`
}

type clearQueueOutput struct {
	Dropped int `json:"dropped" jsonschema:"Number of pending tasks removed"`
}

type queuedTask struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	HintsCount  int       `json:"hints_count"`
}

type listQueueOutput struct {
	Tasks []queuedTask `json:"tasks"`
}

func (s *Server) registerTaskTools() {
	addTool(s, "task_queue",
		"Queue an autonomous task for execution. The task is gated through the safety policy before admission.",
		func(ctx context.Context, args taskQueueInput) (taskQueueOutput, error) {
			id, err := s.runner.Queue(ctx, runner.TaskSpec{
				Type:        args.Type,
				Description: args.Description,
				Command:     args.Command,
				Path:        args.Path,
				Query:       args.Query,
			})
			if err != nil {
				return taskQueueOutput{}, err
			}
			return taskQueueOutput{TaskID: id}, nil
		})

	addTool(s, "task_status",
		"Get a point-in-time snapshot of the task runner, including circuit breaker state.",
		func(ctx context.Context, args struct{}) (runner.Snapshot, error) {
			return s.runner.Status(), nil
		})

	addTool(s, "task_get",
		"Look up a task by id across the pending queue, in-flight slot and retained history.",
		func(ctx context.Context, args taskGetInput) (runner.Task, error) {
			task, ok := s.runner.Task(args.TaskID)
			if !ok {
				return runner.Task{}, fmt.Errorf("task not found: %s", args.TaskID)
			}
			return task, nil
		})

	addTool(s, "task_pause",
		"Pause the task runner. In-flight work finishes; nothing new is dequeued. Idempotent.",
		func(ctx context.Context, args struct{}) (ackOutput, error) {
			s.runner.Pause()
			return ackOutput{Status: "paused"}, nil
		})

	addTool(s, "task_resume",
		"Resume the task runner. Idempotent.",
		func(ctx context.Context, args struct{}) (ackOutput, error) {
			s.runner.Resume()
			return ackOutput{Status: "running"}, nil
		})

	addTool(s, "task_reset_circuit",
		"Operator override: force the circuit breaker closed and zero the failure count.",
		func(ctx context.Context, args struct{}) (ackOutput, error) {
			s.runner.ResetCircuit()
			return ackOutput{Status: "circuit_reset"}, nil
		})

	addTool(s, "task_list_queue",
		"List pending tasks in queue order. Non-destructive.",
		func(ctx context.Context, args struct{}) (listQueueOutput, error) {
			pending := s.runner.ListQueue()
			out := listQueueOutput{Tasks: make([]queuedTask, 0, len(pending))}
			for _, t := range pending {
				out.Tasks = append(out.Tasks, queuedTask{
					ID:          t.ID,
					Type:        t.Spec.Type,
					Description: t.Spec.Description,
					CreatedAt:   t.CreatedAt,
					HintsCount:  len(t.Hints),
				})
			}
			return out, nil
		})

	addTool(s, "task_clear_queue",
		"Remove all pending tasks. The in-flight task, if any, still runs to completion.",
		func(ctx context.Context, args struct{}) (clearQueueOutput, error) {
			return clearQueueOutput{Dropped: s.runner.ClearQueue(ctx)}, nil
		})
}

// ===== SAFETY TOOLS =====

type safetyCheckInput struct {
	Description string `json:"description,omitempty" jsonschema:"Task intent to check"`
	Command     string `json:"command,omitempty" jsonschema:"Shell command to check"`
	Path        string `json:"path,omitempty" jsonschema:"Filesystem target to check"`
}

type safetyCheckOutput struct {
	Safe        bool   `json:"safe"`
	Reason      string `json:"reason,omitempty" jsonschema:"Stable machine-readable denial reason"`
	Explanation string `json:"explanation,omitempty" jsonschema:"Human-readable guidance"`
}

func (s *Server) registerSafetyTools() {
	addTool(s, "safety_check",
		"Dry-run the safety policy against a task spec. Never mutates runner state.",
		func(ctx context.Context, args safetyCheckInput) (safetyCheckOutput, error) {
			verdict := s.runner.CheckSafety(runner.TaskSpec{
				Description: args.Description,
				Command:     args.Command,
				Path:        args.Path,
			})
			if verdict.Allowed {
				return safetyCheckOutput{Safe: true}, nil
			}
			return safetyCheckOutput{
				Safe:        false,
				Reason:      string(verdict.Reason),
				Explanation: safety.Explain(verdict.Reason),
			}, nil
		})
}

// ===== ORCHESTRATOR TOOLS =====

type classifyInput struct {
	Description string `json:"description" jsonschema:"required,Task description to classify"`
}

type executeInput struct {
	Description string         `json:"description" jsonschema:"required,Task description"`
	Context     map[string]any `json:"context,omitempty" jsonschema:"Caller-supplied key/value payload"`
	TimeoutMS   int            `json:"timeout_ms,omitempty" jsonschema:"Overall execution deadline in milliseconds"`
}

type planStepInput struct {
	Tool      string         `json:"tool" jsonschema:"required,Tool name"`
	Operation string         `json:"operation" jsonschema:"Tool operation"`
	Args      map[string]any `json:"args,omitempty" jsonschema:"Operation arguments"`
	OnError   string         `json:"on_error,omitempty" jsonschema:"Failure policy: halt (default) or continue"`
}

type executePlanInput struct {
	Steps     []planStepInput `json:"steps" jsonschema:"required,Ordered plan steps"`
	TimeoutMS int             `json:"timeout_ms,omitempty" jsonschema:"Shared deadline for all steps in milliseconds"`
}

func (s *Server) registerOrchestratorTools() {
	addTool(s, "orchestrate_classify",
		"Classify a task description as procedure, orchestrated, or needs_reasoning. No side effects.",
		func(ctx context.Context, args classifyInput) (orchestrator.Decision, error) {
			return s.orch.Classify(ctx, args.Description)
		})

	addTool(s, "orchestrate_execute",
		"Execute a single ad-hoc task. Returns an escalated outcome, not an error, when judgment is required.",
		func(ctx context.Context, args executeInput) (orchestrator.Outcome, error) {
			return s.orch.Execute(ctx, orchestrator.Request{
				Description: args.Description,
				Context:     args.Context,
				Timeout:     time.Duration(args.TimeoutMS) * time.Millisecond,
			})
		})

	addTool(s, "orchestrate_plan",
		"Execute an explicit ordered plan of tool steps with per-step halt/continue failure policy.",
		func(ctx context.Context, args executePlanInput) (orchestrator.PlanResult, error) {
			steps := make([]orchestrator.Step, 0, len(args.Steps))
			for _, in := range args.Steps {
				steps = append(steps, orchestrator.Step{
					Tool:      in.Tool,
					Operation: in.Operation,
					Args:      in.Args,
					OnError:   orchestrator.ErrorPolicy(in.OnError),
				})
			}
			result, err := s.orch.ExecutePlan(ctx, steps,
				time.Duration(args.TimeoutMS)*time.Millisecond)
			// Continue-policy failures are part of the result, not an error:
			// the caller gets every step outcome, failed ones included.
			var failures *orchestrator.PlanFailuresError
			if errors.As(err, &failures) {
				return result, nil
			}
			return result, err
		})
}

// ===== PROCEDURE TOOLS =====

type runProcedureInput struct {
	Name      string         `json:"name" jsonschema:"required,Procedure name"`
	Version   string         `json:"version,omitempty" jsonschema:"Procedure version, or latest"`
	Context   map[string]any `json:"context,omitempty" jsonschema:"Execution context payload"`
	Async     bool           `json:"async,omitempty" jsonschema:"Return an execution_id immediately instead of blocking"`
	TimeoutMS int            `json:"timeout_ms,omitempty" jsonschema:"Per-call timeout override in milliseconds"`
}

type runProcedureOutput struct {
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Result      any    `json:"result,omitempty"`
}

type executionStatusInput struct {
	ExecutionID string `json:"execution_id" jsonschema:"required,Execution identifier"`
}

type procedureSummary struct {
	Name        string `json:"name"`
	Version     int    `json:"version"`
	Description string `json:"description"`
	TimeoutMS   int    `json:"timeout_ms"`
	MaxRetries  int    `json:"max_retries"`
}

type listProceduresOutput struct {
	Procedures []procedureSummary `json:"procedures"`
}

func (s *Server) registerProcedureTools() {
	addTool(s, "procedure_run",
		"Run a named, versioned procedure. Synchronous by default; async returns a pollable execution_id.",
		func(ctx context.Context, args runProcedureInput) (runProcedureOutput, error) {
			if args.Async {
				id, err := s.procs.Start(ctx, args.Name, args.Version, args.Context)
				if err != nil {
					return runProcedureOutput{}, err
				}
				return runProcedureOutput{
					ExecutionID: id,
					Status:      string(procedure.ExecRunning),
				}, nil
			}

			record, err := s.procs.RunSync(ctx, args.Name, args.Version, args.Context,
				time.Duration(args.TimeoutMS)*time.Millisecond)
			if err != nil {
				return runProcedureOutput{}, err
			}
			return runProcedureOutput{
				ExecutionID: record.ID,
				Status:      string(record.Status),
				Result:      record.Result,
			}, nil
		})

	addTool(s, "procedure_status",
		"Look up an execution record by id.",
		func(ctx context.Context, args executionStatusInput) (procedure.Execution, error) {
			record, ok := s.procs.Get(args.ExecutionID)
			if !ok {
				return procedure.Execution{}, fmt.Errorf("execution not found: %s", args.ExecutionID)
			}
			return record, nil
		})

	addTool(s, "procedure_list",
		"List the active procedures published to the catalog.",
		func(ctx context.Context, args struct{}) (listProceduresOutput, error) {
			procs, err := s.procs.List(ctx)
			if err != nil {
				return listProceduresOutput{}, err
			}
			out := listProceduresOutput{Procedures: make([]procedureSummary, 0, len(procs))}
			for _, p := range procs {
				out.Procedures = append(out.Procedures, procedureSummary{
					Name:        p.Name,
					Version:     p.Version,
					Description: p.Description,
					TimeoutMS:   p.TimeoutMS,
					MaxRetries:  p.MaxRetries,
				})
			}
			return out, nil
		})
}

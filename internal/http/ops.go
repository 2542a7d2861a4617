package http

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/procedure"
	"github.com/fyrsmithlabs/agentd/internal/runner"
	"github.com/fyrsmithlabs/agentd/internal/safety"
)

// Operation is the closed set of engine operations the HTTP dispatch layer
// accepts. Unknown operation strings are rejected at parse time, before any
// engine code runs.
type Operation string

const (
	OpQueue          Operation = "queue"
	OpStatus         Operation = "status"
	OpPause          Operation = "pause"
	OpResume         Operation = "resume"
	OpResetCircuit   Operation = "reset_circuit"
	OpListQueue      Operation = "list_queue"
	OpClearQueue     Operation = "clear_queue"
	OpCheckSafety    Operation = "check_safety"
	OpExecute        Operation = "execute"
	OpExecutePlan    Operation = "execute_plan"
	OpClassify       Operation = "classify"
	OpRunProcedure   Operation = "run_procedure"
	OpListProcedures Operation = "list_procedures"
)

// ParseOperation validates an operation name against the closed set.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	switch op {
	case OpQueue, OpStatus, OpPause, OpResume, OpResetCircuit,
		OpListQueue, OpClearQueue, OpCheckSafety, OpExecute,
		OpExecutePlan, OpClassify, OpRunProcedure, OpListProcedures:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation: %q", s)
}

// OpRequest is the union of operation arguments. Each operation reads only
// the fields it documents; extra fields are ignored.
type OpRequest struct {
	Type        string              `json:"type,omitempty"`
	Description string              `json:"description,omitempty"`
	Command     string              `json:"command,omitempty"`
	Path        string              `json:"path,omitempty"`
	Query       string              `json:"query,omitempty"`
	Context     map[string]any      `json:"context,omitempty"`
	TimeoutMS   int                 `json:"timeout_ms,omitempty"`
	Steps       []orchestrator.Step `json:"steps,omitempty"`
	Name        string              `json:"name,omitempty"`
	Version     string              `json:"version,omitempty"`
	Async       bool                `json:"async,omitempty"`
}

func (r OpRequest) timeout() time.Duration {
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

// dispatch routes a parsed operation to the engine. The switch is
// exhaustive over the Operation constants.
func (s *Server) dispatch(ctx context.Context, op Operation, req OpRequest) (any, error) {
	switch op {
	case OpQueue:
		id, err := s.runner.Queue(ctx, runner.TaskSpec{
			Type:        req.Type,
			Description: req.Description,
			Command:     req.Command,
			Path:        req.Path,
			Query:       req.Query,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": id}, nil

	case OpStatus:
		return s.runner.Status(), nil

	case OpPause:
		s.runner.Pause()
		return map[string]any{"status": "paused"}, nil

	case OpResume:
		s.runner.Resume()
		return map[string]any{"status": "running"}, nil

	case OpResetCircuit:
		s.runner.ResetCircuit()
		return map[string]any{"status": "circuit_reset"}, nil

	case OpListQueue:
		pending := s.runner.ListQueue()
		tasks := make([]map[string]any, 0, len(pending))
		for _, t := range pending {
			tasks = append(tasks, map[string]any{
				"id":          t.ID,
				"type":        t.Spec.Type,
				"description": t.Spec.Description,
				"created_at":  t.CreatedAt,
				"hints_count": len(t.Hints),
			})
		}
		return map[string]any{"tasks": tasks}, nil

	case OpClearQueue:
		return map[string]any{"dropped": s.runner.ClearQueue(ctx)}, nil

	case OpCheckSafety:
		verdict := s.runner.CheckSafety(runner.TaskSpec{
			Description: req.Description,
			Command:     req.Command,
			Path:        req.Path,
		})
		if verdict.Allowed {
			return map[string]any{"safe": true}, nil
		}
		return map[string]any{
			"safe":        false,
			"reason":      string(verdict.Reason),
			"explanation": safety.Explain(verdict.Reason),
		}, nil

	case OpExecute:
		return s.orch.Execute(ctx, orchestrator.Request{
			Description: req.Description,
			Context:     req.Context,
			Timeout:     req.timeout(),
		})

	case OpExecutePlan:
		result, err := s.orch.ExecutePlan(ctx, req.Steps, req.timeout())
		// Continue-policy failures stay in the result; the caller sees
		// every step outcome rather than a bare error.
		var failures *orchestrator.PlanFailuresError
		if errors.As(err, &failures) {
			return result, nil
		}
		return result, err

	case OpClassify:
		return s.orch.Classify(ctx, req.Description)

	case OpRunProcedure:
		if req.Async {
			id, err := s.procs.Start(ctx, req.Name, req.Version, req.Context)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"execution_id": id,
				"status":       string(procedure.ExecRunning),
			}, nil
		}
		record, err := s.procs.RunSync(ctx, req.Name, req.Version, req.Context, req.timeout())
		if err != nil {
			return nil, err
		}
		return record, nil

	case OpListProcedures:
		procs, err := s.procs.List(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(procs))
		for _, p := range procs {
			out = append(out, map[string]any{
				"name":        p.Name,
				"version":     p.Version,
				"description": p.Description,
				"timeout_ms":  p.TimeoutMS,
				"max_retries": p.MaxRetries,
			})
		}
		return map[string]any{"procedures": out}, nil
	}

	return nil, fmt.Errorf("unknown operation: %q", op)
}

// Package runner owns the autonomous task queue and its lifecycle.
//
// A Runner holds the pending FIFO queue, the pause flag and the circuit
// breaker. It is the only component that mutates task state: tasks are
// admitted through the safety guard, consumed by a single worker goroutine,
// and retained in a bounded completed/failed history. Concurrency is
// intentionally serialized to one worker so the breaker's consecutive
// failure count reflects a coherent causal sequence.
package runner

import (
	"time"
)

// Status is the task lifecycle state. Transitions are strictly forward:
// queued → running → completed | failed. A task never re-enters queued.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// TaskSpec is the caller-supplied task specification. It is immutable once
// accepted.
type TaskSpec struct {
	// Type is a free-form category. Defaults to "general".
	Type string `json:"type"`

	// Description is the required human-readable intent.
	Description string `json:"description"`

	// Command is an optional shell command payload.
	Command string `json:"command,omitempty"`

	// Path is an optional filesystem target.
	Path string `json:"path,omitempty"`

	// Query is an optional free-form query payload.
	Query string `json:"query,omitempty"`
}

// Task is the runtime record for an accepted spec.
type Task struct {
	ID        string    `json:"id"`
	Spec      TaskSpec  `json:"spec"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`

	// Hints are advisory annotations attached at admission time, e.g. from
	// a planner. They never influence admission itself.
	Hints []string `json:"hints,omitempty"`

	// Result and Error describe the terminal outcome; exactly one is set
	// once the task leaves running.
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// clone returns a copy safe to hand to callers; hints are copied so later
// mutation of the live record cannot race a reader.
func (t *Task) clone() Task {
	out := *t
	if len(t.Hints) > 0 {
		out.Hints = append([]string(nil), t.Hints...)
	}
	return out
}

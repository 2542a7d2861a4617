// Package procedure executes named, versioned units of work published to an
// external catalog. The engine only reads the catalog; authoring and storage
// live elsewhere.
package procedure

import "time"

// VersionLatest resolves to the highest published version of a procedure.
const VersionLatest = "latest"

// State is a single node in a procedure's state graph. A state optionally
// performs a tool invocation, then either transitions to Next or ends the
// procedure.
type State struct {
	Action *Action `koanf:"action" json:"action,omitempty"`
	Next   string  `koanf:"next" json:"next,omitempty"`
	End    bool    `koanf:"end" json:"end,omitempty"`
}

// Action names a tool invocation performed by a state.
type Action struct {
	Tool      string         `koanf:"tool" json:"tool"`
	Operation string         `koanf:"operation" json:"operation"`
	Args      map[string]any `koanf:"args" json:"args,omitempty"`
}

// Definition is the procedure's state graph: a start state and named states.
type Definition struct {
	Start  string           `koanf:"start" json:"start"`
	States map[string]State `koanf:"states" json:"states"`
}

// Procedure is a catalog entry. Immutable after publication.
type Procedure struct {
	Name        string     `koanf:"name" json:"name"`
	Version     int        `koanf:"version" json:"version"`
	Description string     `koanf:"description" json:"description"`
	TimeoutMS   int        `koanf:"timeout_ms" json:"timeout_ms"`
	MaxRetries  int        `koanf:"max_retries" json:"max_retries"`
	Definition  Definition `koanf:"definition" json:"definition"`
}

// Timeout returns the procedure's declared timeout, or zero when unset.
func (p Procedure) Timeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// ExecStatus is the lifecycle state of an execution.
type ExecStatus string

const (
	ExecRunning   ExecStatus = "running"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
	ExecTimedOut  ExecStatus = "timed_out"
	ExecCanceled  ExecStatus = "canceled"
)

// Terminal reports whether the status is final.
func (s ExecStatus) Terminal() bool {
	return s == ExecCompleted || s == ExecFailed || s == ExecTimedOut || s == ExecCanceled
}

// Execution is a running or completed instance of a procedure.
type Execution struct {
	ID            string         `json:"execution_id"`
	ProcedureName string         `json:"procedure_name"`
	Version       int            `json:"version"`
	Context       map[string]any `json:"context,omitempty"`
	Status        ExecStatus     `json:"status"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at,omitzero"`
	Result        any            `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
}

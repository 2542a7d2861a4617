// Package tool defines the invocation surface plan steps execute against.
//
// The engine treats tools as opaque: a step names a tool, an operation and
// an argument map, and gets back an ok/error result. Concrete tool
// implementations (file operations, web fetch, code search, knowledge graph)
// live outside this core and are registered at wiring time.
package tool

import (
	"context"
	"fmt"
	"sync"
)

// Invocation is a single tool call requested by a plan step.
type Invocation struct {
	Tool      string         `json:"tool"`
	Operation string         `json:"operation"`
	Args      map[string]any `json:"args,omitempty"`
}

// Result is the outcome of a successful invocation.
type Result struct {
	Output any `json:"output,omitempty"`
}

// Invoker executes tool invocations.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, inv Invocation) (Result, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// UnknownToolError reports an invocation naming a tool nobody registered.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Tool)
}

// Registry routes invocations to registered invokers by tool name.
// It implements Invoker itself so the orchestrator can hold a single handle.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		invokers: make(map[string]Invoker),
	}
}

// Register binds a tool name to an invoker. Later registrations replace
// earlier ones.
func (r *Registry) Register(name string, inv Invoker) {
	if name == "" || inv == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invokers[name] = inv
}

// Names returns the registered tool names, unordered.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	return names
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.invokers[name]
	return ok
}

// Invoke implements Invoker by dispatching on the invocation's tool name.
func (r *Registry) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	r.mu.RLock()
	invoker, ok := r.invokers[inv.Tool]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &UnknownToolError{Tool: inv.Tool}
	}
	return invoker.Invoke(ctx, inv)
}

package procedure

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/notify"
	"github.com/fyrsmithlabs/agentd/internal/tool"
)

// Config controls executor behavior.
type Config struct {
	// DefaultTimeout bounds synchronous runs when the procedure declares no
	// timeout and the caller supplies no override.
	DefaultTimeout time.Duration

	// RetentionTTL is how long terminal execution records stay pollable
	// before eviction.
	RetentionTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout: 30 * time.Second,
		RetentionTTL:   10 * time.Minute,
	}
}

// Executor runs procedures as supervised units of work. Each execution gets
// its own cancellable context; the synchronous path force-terminates the
// unit when its deadline elapses so nothing keeps running after the caller
// has given up.
type Executor struct {
	cfg      Config
	store    Store
	tools    tool.Invoker
	notifier notify.Publisher
	logger   *zap.Logger

	mu         sync.Mutex
	executions map[string]*execState
	closed     bool
}

type execState struct {
	record Execution
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor creates an executor over a catalog and a tool surface.
func NewExecutor(cfg Config, store Store, tools tool.Invoker, notifier notify.Publisher, logger *zap.Logger) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("procedure store is required")
	}
	if tools == nil {
		return nil, fmt.Errorf("tool invoker is required")
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.RetentionTTL <= 0 {
		cfg.RetentionTTL = def.RetentionTTL
	}
	return &Executor{
		cfg:        cfg,
		store:      store,
		tools:      tools,
		notifier:   notifier,
		logger:     logger.Named("procedure"),
		executions: make(map[string]*execState),
	}, nil
}

// Start looks up the procedure and launches it as an independent unit of
// work, returning the execution id immediately. The unit runs under its own
// context, detached from the caller's, so asynchronous executions survive
// the request that started them.
func (e *Executor) Start(ctx context.Context, name, version string, payload map[string]any) (string, error) {
	if name == "" {
		return "", &InvalidRequestError{Reason: "procedure name is required"}
	}
	proc, err := e.store.Get(ctx, name, version)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st := &execState{
		record: Execution{
			ID:            uuid.New().String(),
			ProcedureName: proc.Name,
			Version:       proc.Version,
			Context:       payload,
			Status:        ExecRunning,
			StartedAt:     time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		cancel()
		return "", fmt.Errorf("executor is shut down")
	}
	e.executions[st.record.ID] = st
	e.mu.Unlock()

	e.logger.Info("procedure execution started",
		zap.String("execution_id", st.record.ID),
		zap.String("procedure", proc.Name),
		zap.Int("version", proc.Version))
	e.publish(st.record, "started")

	go e.run(runCtx, st, proc, payload)
	return st.record.ID, nil
}

// RunSync starts a procedure and blocks until completion, timeout, or caller
// cancellation. Precedence for the deadline: per-call override, then the
// procedure's declared timeout_ms, then the executor default. On timeout the
// unit of work is force-terminated before the error is returned.
func (e *Executor) RunSync(ctx context.Context, name, version string, payload map[string]any, override time.Duration) (Execution, error) {
	if name == "" {
		return Execution{}, &InvalidRequestError{Reason: "procedure name is required"}
	}
	proc, err := e.store.Get(ctx, name, version)
	if err != nil {
		return Execution{}, err
	}
	timeout := override
	if timeout <= 0 {
		timeout = proc.Timeout()
	}
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}

	id, err := e.Start(ctx, name, version, payload)
	if err != nil {
		return Execution{}, err
	}
	st := e.state(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-st.done:
		record, _ := e.Get(id)
		if record.Status == ExecFailed {
			return record, &ExecutionError{
				ExecutionID: id,
				Cause:       fmt.Errorf("%s", record.Error),
			}
		}
		return record, nil
	case <-timer.C:
		e.kill(id, ExecTimedOut, fmt.Sprintf("timed out after %s", timeout))
		record, _ := e.Get(id)
		return record, &TimeoutError{ExecutionID: id, Timeout: timeout}
	case <-ctx.Done():
		e.kill(id, ExecCanceled, "caller canceled")
		record, _ := e.Get(id)
		return record, ctx.Err()
	}
}

// Get returns a point-in-time copy of an execution record.
func (e *Executor) Get(id string) (Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.executions[id]
	if !ok {
		return Execution{}, false
	}
	return st.record, true
}

// List returns the catalog's active procedures.
func (e *Executor) List(ctx context.Context) ([]Procedure, error) {
	return e.store.List(ctx)
}

// Close force-terminates every running execution. Records stay readable
// until their retention TTL fires.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	ids := make([]string, 0, len(e.executions))
	for id, st := range e.executions {
		if !st.record.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	for _, id := range ids {
		e.kill(id, ExecCanceled, "executor shutting down")
	}
}

func (e *Executor) state(id string) *execState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.executions[id]
}

// run walks the procedure's state graph. Each action is retried up to the
// procedure's max_retries before the state counts as failed. The transition
// budget equals the state count, so a miswired graph cannot loop forever.
func (e *Executor) run(ctx context.Context, st *execState, proc Procedure, payload map[string]any) {
	outputs := make(map[string]any)
	current := proc.Definition.Start

	for steps := 0; steps < len(proc.Definition.States); steps++ {
		if ctx.Err() != nil {
			e.finish(st, ExecCanceled, nil, "canceled")
			return
		}
		state, ok := proc.Definition.States[current]
		if !ok {
			e.finish(st, ExecFailed, nil, fmt.Sprintf("undefined state %q", current))
			return
		}

		if state.Action != nil {
			out, err := e.invoke(ctx, st.record.ID, proc, payload, current, *state.Action)
			if err != nil {
				if ctx.Err() != nil {
					e.finish(st, ExecCanceled, nil, "canceled")
					return
				}
				e.finish(st, ExecFailed, nil,
					(&ExecutionError{ExecutionID: st.record.ID, State: current, Cause: err}).Error())
				return
			}
			outputs[current] = out
		}

		if state.End {
			e.finish(st, ExecCompleted, outputs, "")
			return
		}
		current = state.Next
	}

	e.finish(st, ExecFailed, nil, "state graph exhausted its transition budget")
}

// invoke runs one state's action with retries.
func (e *Executor) invoke(ctx context.Context, id string, proc Procedure, payload map[string]any, state string, action Action) (any, error) {
	args := make(map[string]any, len(action.Args)+len(payload))
	for k, v := range payload {
		args[k] = v
	}
	for k, v := range action.Args {
		args[k] = v
	}

	var lastErr error
	for attempt := 0; attempt <= proc.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		res, err := e.tools.Invoke(ctx, tool.Invocation{
			Tool:      action.Tool,
			Operation: action.Operation,
			Args:      args,
		})
		if err == nil {
			return res.Output, nil
		}
		lastErr = err
		e.logger.Debug("state action failed",
			zap.String("execution_id", id),
			zap.String("state", state),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

// kill force-terminates a running execution. The record is stamped terminal
// before the context is canceled, so a poll immediately after a timeout can
// never observe it still running.
func (e *Executor) kill(id string, status ExecStatus, reason string) {
	e.mu.Lock()
	st, ok := e.executions[id]
	if !ok || st.record.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	st.record.Status = status
	st.record.Error = reason
	st.record.FinishedAt = time.Now().UTC()
	record := st.record
	e.mu.Unlock()

	st.cancel()
	e.scheduleEviction(id)
	e.logger.Warn("procedure execution terminated",
		zap.String("execution_id", id),
		zap.String("status", string(status)),
		zap.String("reason", reason))
	e.publish(record, string(status))
}

// finish records a terminal outcome reached by the unit of work itself.
// A record already stamped by kill is left untouched.
func (e *Executor) finish(st *execState, status ExecStatus, result any, errMsg string) {
	defer close(st.done)

	e.mu.Lock()
	if st.record.Status.Terminal() {
		e.mu.Unlock()
		return
	}
	st.record.Status = status
	st.record.Result = result
	st.record.Error = errMsg
	st.record.FinishedAt = time.Now().UTC()
	record := st.record
	e.mu.Unlock()

	st.cancel()
	e.scheduleEviction(record.ID)

	if status == ExecCompleted {
		e.logger.Info("procedure execution completed",
			zap.String("execution_id", record.ID),
			zap.String("procedure", record.ProcedureName),
			zap.Duration("duration", record.FinishedAt.Sub(record.StartedAt)))
	} else {
		e.logger.Warn("procedure execution failed",
			zap.String("execution_id", record.ID),
			zap.String("procedure", record.ProcedureName),
			zap.String("error", errMsg))
	}
	e.publish(record, string(status))
}

// scheduleEviction drops the record after the retention TTL.
func (e *Executor) scheduleEviction(id string) {
	time.AfterFunc(e.cfg.RetentionTTL, func() {
		e.mu.Lock()
		delete(e.executions, id)
		e.mu.Unlock()
	})
}

// publish emits a best-effort lifecycle event.
func (e *Executor) publish(record Execution, kind string) {
	e.notifier.Publish(notify.Event{
		Kind:    kind,
		Subject: "executions." + record.ID,
		Fields: map[string]any{
			"procedure": record.ProcedureName,
			"version":   record.Version,
			"status":    string(record.Status),
		},
	})
}

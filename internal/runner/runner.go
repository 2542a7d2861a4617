package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/breaker"
	"github.com/fyrsmithlabs/agentd/internal/safety"
)

// Executor runs a single admitted task. The runner wires this to the
// orchestrator; tests substitute doubles.
type Executor interface {
	ExecuteTask(ctx context.Context, task Task) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task Task) (any, error)

// ExecuteTask implements Executor.
func (f ExecutorFunc) ExecuteTask(ctx context.Context, task Task) (any, error) {
	return f(ctx, task)
}

// Config controls runner behavior.
type Config struct {
	// HistoryLimit bounds the retained completed/failed records. Oldest
	// records are evicted first.
	HistoryLimit int

	// IdleInterval is how often the consumer re-checks the queue while
	// paused or while the breaker denies attempts.
	IdleInterval time.Duration

	// Breaker configures the circuit breaker owned by this runner.
	Breaker breaker.Config
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit: 200,
		IdleInterval: 250 * time.Millisecond,
		Breaker:      breaker.DefaultConfig(),
	}
}

// Snapshot is a point-in-time view of the runner. It is assembled without
// touching the consumer loop and never blocks on in-flight work.
type Snapshot struct {
	Status       string          `json:"status"`
	Paused       bool            `json:"paused"`
	Queued       int             `json:"queued"`
	Running      int             `json:"running"`
	Completed    int             `json:"completed"`
	Failed       int             `json:"failed"`
	CircuitState breaker.State   `json:"circuit_state"`
	Circuit      breaker.Details `json:"circuit_details"`
}

// Runner owns the pending queue, the pause flag and the circuit breaker.
// All task lifecycle mutation happens here.
type Runner struct {
	cfg      Config
	guard    *safety.Guard
	executor Executor
	advisor  Advisor
	cb       *breaker.Breaker
	logger   *zap.Logger
	metrics  *runnerMetrics

	mu        sync.Mutex
	pending   []*Task
	running   *Task
	history   []*Task
	completed int
	failed    int
	paused    bool

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithAdvisor replaces the default heuristic advisor.
func WithAdvisor(a Advisor) Option {
	return func(r *Runner) {
		r.advisor = a
	}
}

// New creates a runner. The executor is required; guard and breaker are
// constructed internally so no other component can reach them.
func New(cfg Config, executor Executor, logger *zap.Logger, opts ...Option) (*Runner, error) {
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = def.IdleInterval
	}

	r := &Runner{
		cfg:      cfg,
		guard:    safety.NewGuard(),
		executor: executor,
		advisor:  HeuristicAdvisor{},
		cb:       breaker.New(cfg.Breaker),
		logger:   logger.Named("runner"),
		metrics:  newRunnerMetrics(logger),
		wake:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Start launches the consumer loop. It returns immediately.
func (r *Runner) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.consume(ctx)
	}()
}

// Stop cancels the consumer loop and waits for the in-flight task, if any,
// to finish. Pending tasks stay queued.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Queue admits a task spec. The safety guard runs first: a denial returns
// the guard's reason untouched, never enters the queue and never counts
// against the circuit breaker.
func (r *Runner) Queue(ctx context.Context, spec TaskSpec) (string, error) {
	if spec.Type == "" {
		spec.Type = "general"
	}

	verdict := r.guard.Check(safety.Spec{
		Description: spec.Description,
		Command:     spec.Command,
		Path:        spec.Path,
	})
	if !verdict.Allowed {
		r.metrics.recordBlocked(ctx, string(verdict.Reason))
		r.logger.Debug("task rejected at admission",
			zap.String("reason", string(verdict.Reason)))
		return "", denialError(verdict.Reason)
	}

	task := &Task{
		ID:        uuid.New().String(),
		Spec:      spec,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
		Hints:     r.advisor.Advise(spec),
	}

	r.mu.Lock()
	r.pending = append(r.pending, task)
	depth := len(r.pending)
	r.mu.Unlock()

	r.metrics.recordQueued(ctx)
	r.logger.Info("task queued",
		zap.String("task_id", task.ID),
		zap.String("type", spec.Type),
		zap.Int("queue_depth", depth))

	r.signal()
	return task.ID, nil
}

// CheckSafety is the dry-run admission check. It never mutates runner state.
func (r *Runner) CheckSafety(spec TaskSpec) safety.Verdict {
	return r.guard.Check(safety.Spec{
		Description: spec.Description,
		Command:     spec.Command,
		Path:        spec.Path,
	})
}

// Pause stops future dequeues. In-flight work is unaffected. Idempotent.
func (r *Runner) Pause() {
	r.mu.Lock()
	r.paused = true
	r.mu.Unlock()
	r.logger.Info("runner paused")
}

// Resume re-enables dequeues. Idempotent.
func (r *Runner) Resume() {
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	r.logger.Info("runner resumed")
	r.signal()
}

// ResetCircuit is the operator override for the circuit breaker.
func (r *Runner) ResetCircuit() {
	r.cb.Reset()
	r.logger.Warn("circuit breaker manually reset")
	r.signal()
}

// Status returns a point-in-time snapshot.
func (r *Runner) Status() Snapshot {
	r.mu.Lock()
	queued := len(r.pending)
	running := 0
	if r.running != nil {
		running = 1
	}
	completed := r.completed
	failed := r.failed
	paused := r.paused
	r.mu.Unlock()

	details := r.cb.Details()
	status := "running"
	if paused {
		status = "paused"
	}
	return Snapshot{
		Status:       status,
		Paused:       paused,
		Queued:       queued,
		Running:      running,
		Completed:    completed,
		Failed:       failed,
		CircuitState: details.State,
		Circuit:      details,
	}
}

// ListQueue returns pending tasks in queue order. Non-destructive.
func (r *Runner) ListQueue() []Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Task, 0, len(r.pending))
	for _, t := range r.pending {
		out = append(out, t.clone())
	}
	return out
}

// Task looks up a task by id across the pending queue, the in-flight slot
// and the retained history.
func (r *Runner) Task(id string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running != nil && r.running.ID == id {
		return r.running.clone(), true
	}
	for _, t := range r.pending {
		if t.ID == id {
			return t.clone(), true
		}
	}
	for _, t := range r.history {
		if t.ID == id {
			return t.clone(), true
		}
	}
	return Task{}, false
}

// ClearQueue removes all pending tasks and returns how many were dropped.
// The in-flight task, if any, still runs to completion.
func (r *Runner) ClearQueue(ctx context.Context) int {
	r.mu.Lock()
	n := len(r.pending)
	r.pending = nil
	r.mu.Unlock()

	r.metrics.recordDequeued(ctx, int64(n))
	r.logger.Info("queue cleared", zap.Int("dropped", n))
	return n
}

// signal nudges the consumer without blocking.
func (r *Runner) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// consume is the single consumer loop. It dequeues in FIFO order while not
// paused and while the breaker admits attempts, and otherwise idles until
// woken or until the idle interval elapses.
func (r *Runner) consume(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.IdleInterval)
	defer ticker.Stop()

	for {
		task := r.next()
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
			case <-ticker.C:
			}
			continue
		}

		result, err := r.execute(ctx, task)
		r.finish(ctx, task, result, err)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// next dequeues the oldest pending task if the runner may start one.
// Dequeue-or-decline happens under one critical section: the breaker is
// consulted only when a task is actually going to start, so half-open probes
// are never burned on an empty or paused queue.
func (r *Runner) next() *Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.paused || len(r.pending) == 0 {
		return nil
	}
	if !r.cb.Allow() {
		return nil
	}
	task := r.pending[0]
	r.pending = r.pending[1:]
	task.Status = StatusRunning
	task.StartedAt = time.Now().UTC()
	r.running = task
	return task
}

// execute runs a task, converting panics into failures so a misbehaving
// executor cannot kill the consumer loop.
func (r *Runner) execute(ctx context.Context, task *Task) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task panicked: %v", rec)
		}
	}()
	return r.executor.ExecuteTask(ctx, task.clone())
}

// finish records the outcome on the task, the breaker and the history.
func (r *Runner) finish(ctx context.Context, task *Task, result any, err error) {
	r.metrics.recordDequeued(ctx, 1)

	r.mu.Lock()
	task.FinishedAt = time.Now().UTC()
	if err != nil {
		task.Status = StatusFailed
		task.Error = err.Error()
		r.failed++
	} else {
		task.Status = StatusCompleted
		task.Result = result
		r.completed++
	}
	r.running = nil
	r.history = append(r.history, task)
	if len(r.history) > r.cfg.HistoryLimit {
		r.history = r.history[len(r.history)-r.cfg.HistoryLimit:]
	}
	r.mu.Unlock()

	if err != nil {
		r.cb.RecordFailure()
		r.metrics.recordFinished(ctx, StatusFailed)
		r.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.Error(err),
			zap.String("circuit_state", string(r.cb.State())))
		return
	}
	r.cb.RecordSuccess()
	r.metrics.recordFinished(ctx, StatusCompleted)
	r.logger.Info("task completed",
		zap.String("task_id", task.ID),
		zap.Duration("duration", task.FinishedAt.Sub(task.StartedAt)))
}

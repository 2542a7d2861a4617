package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/breaker"
)

func testConfig() Config {
	return Config{
		HistoryLimit: 10,
		IdleInterval: 5 * time.Millisecond,
		Breaker: breaker.Config{
			FailureThreshold: 3,
			Cooldown:         time.Minute,
			ProbeBudget:      1,
		},
	}
}

func newTestRunner(t *testing.T, exec Executor) *Runner {
	t.Helper()
	r, err := New(testConfig(), exec, zap.NewNop())
	require.NoError(t, err)
	return r
}

func succeedingExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, task Task) (any, error) {
		return "done", nil
	})
}

func failingExecutor() Executor {
	return ExecutorFunc(func(ctx context.Context, task Task) (any, error) {
		return nil, errors.New("boom")
	})
}

func waitForSnapshot(t *testing.T, r *Runner, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(r.Status())
	}, 2*time.Second, 5*time.Millisecond)
}

// The runner is deliberately not started here; next is driven directly so
// the dequeue decision can be observed against the breaker's probe count.
func TestNextSpendsProbesOnlyOnRealAttempts(t *testing.T) {
	cfg := testConfig()
	cfg.Breaker.FailureThreshold = 1
	cfg.Breaker.Cooldown = time.Millisecond
	r, err := New(cfg, succeedingExecutor(), zap.NewNop())
	require.NoError(t, err)

	r.cb.RecordFailure()
	require.Equal(t, breaker.StateOpen, r.cb.State())
	time.Sleep(5 * time.Millisecond) // let the cooldown elapse

	_, err = r.Queue(context.Background(), TaskSpec{Description: "held"})
	require.NoError(t, err)
	r.Pause()

	// Declining while paused must not consult the breaker: no probe is
	// spent and the cooled-down circuit has not even moved to half-open.
	require.Nil(t, r.next())
	details := r.cb.Details()
	assert.Equal(t, breaker.StateOpen, details.State)
	assert.Zero(t, details.ProbesUsed)

	r.Resume()
	task := r.next()
	require.NotNil(t, task)
	details = r.cb.Details()
	assert.Equal(t, breaker.StateHalfOpen, details.State)
	assert.Equal(t, 1, details.ProbesUsed)
}

func TestNewRequiresExecutor(t *testing.T) {
	_, err := New(testConfig(), nil, zap.NewNop())
	assert.Error(t, err)
}

func TestQueueAssignsUniqueIDs(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())
	r.Pause() // keep tasks queued so nothing completes underneath us

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id, err := r.Queue(context.Background(), TaskSpec{Description: "work item"})
		require.NoError(t, err)
		require.False(t, seen[id], "duplicate task id issued: %s", id)
		seen[id] = true
	}
	assert.Equal(t, 50, r.Status().Queued)
}

func TestQueueDefaultsType(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())
	r.Pause()

	id, err := r.Queue(context.Background(), TaskSpec{Description: "work"})
	require.NoError(t, err)

	task, ok := r.Task(id)
	require.True(t, ok)
	assert.Equal(t, "general", task.Spec.Type)
	assert.Equal(t, StatusQueued, task.Status)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestQueueDenialNeverTouchesBreaker(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())

	_, err := r.Queue(context.Background(), TaskSpec{
		Description: "clean everything",
		Command:     "rm -rf /",
	})
	require.Error(t, err)
	assert.True(t, IsBlocked(err))

	snap := r.Status()
	assert.Equal(t, 0, snap.Queued)
	assert.Equal(t, 0, snap.Circuit.FailureCount)
	assert.Equal(t, breaker.StateClosed, snap.CircuitState)
}

func TestQueueMissingDescriptionIsInvalidRequest(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())

	_, err := r.Queue(context.Background(), TaskSpec{})
	require.Error(t, err)
	assert.True(t, IsInvalidRequest(err))
	assert.False(t, IsBlocked(err))
}

func TestConsumerRunsTasksInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	exec := ExecutorFunc(func(ctx context.Context, task Task) (any, error) {
		mu.Lock()
		order = append(order, task.Spec.Description)
		mu.Unlock()
		return nil, nil
	})

	r := newTestRunner(t, exec)
	r.Pause()
	for _, desc := range []string{"first", "second", "third"} {
		_, err := r.Queue(context.Background(), TaskSpec{Description: desc})
		require.NoError(t, err)
	}

	r.Start(context.Background())
	defer r.Stop()
	r.Resume()

	waitForSnapshot(t, r, func(s Snapshot) bool { return s.Completed == 3 })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPauseHoldsTasksQueued(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())
	r.Start(context.Background())
	defer r.Stop()

	r.Pause()
	id, err := r.Queue(context.Background(), TaskSpec{Description: "held"})
	require.NoError(t, err)

	// Give the consumer a chance to misbehave.
	time.Sleep(30 * time.Millisecond)

	task, ok := r.Task(id)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, task.Status)
	assert.Equal(t, 1, r.Status().Queued)

	r.Resume()
	waitForSnapshot(t, r, func(s Snapshot) bool { return s.Completed == 1 })
}

func TestPauseAndResumeAreIdempotent(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())

	r.Pause()
	first := r.Status()
	r.Pause()
	assert.Equal(t, first.Paused, r.Status().Paused)

	r.Resume()
	second := r.Status()
	r.Resume()
	assert.Equal(t, second.Paused, r.Status().Paused)
}

func TestPauseDoesNotAbortInFlightTask(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, task Task) (any, error) {
		close(started)
		<-release
		return "ok", nil
	})

	r := newTestRunner(t, exec)
	r.Start(context.Background())
	defer r.Stop()

	_, err := r.Queue(context.Background(), TaskSpec{Description: "slow"})
	require.NoError(t, err)
	<-started

	r.Pause()
	close(release)

	waitForSnapshot(t, r, func(s Snapshot) bool { return s.Completed == 1 })
}

func TestClearQueueLeavesRunningUntouched(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, task Task) (any, error) {
		close(started)
		<-release
		return "ok", nil
	})

	r := newTestRunner(t, exec)
	r.Start(context.Background())
	defer r.Stop()

	_, err := r.Queue(context.Background(), TaskSpec{Description: "in flight"})
	require.NoError(t, err)
	<-started

	_, err = r.Queue(context.Background(), TaskSpec{Description: "pending one"})
	require.NoError(t, err)
	_, err = r.Queue(context.Background(), TaskSpec{Description: "pending two"})
	require.NoError(t, err)

	dropped := r.ClearQueue(context.Background())
	assert.Equal(t, 2, dropped)
	assert.Empty(t, r.ListQueue())

	close(release)
	waitForSnapshot(t, r, func(s Snapshot) bool { return s.Completed == 1 })
}

func TestExecutionFailuresOpenCircuit(t *testing.T) {
	r := newTestRunner(t, failingExecutor())
	r.Start(context.Background())
	defer r.Stop()

	for i := 0; i < 3; i++ {
		_, err := r.Queue(context.Background(), TaskSpec{Description: "doomed"})
		require.NoError(t, err)
	}

	waitForSnapshot(t, r, func(s Snapshot) bool { return s.Failed == 3 })
	waitForSnapshot(t, r, func(s Snapshot) bool { return s.CircuitState == breaker.StateOpen })

	// Further tasks stay queued while the circuit is open.
	id, err := r.Queue(context.Background(), TaskSpec{Description: "stuck"})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	task, ok := r.Task(id)
	require.True(t, ok)
	assert.Equal(t, StatusQueued, task.Status)
}

func TestResetCircuitUnblocksConsumer(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	exec := ExecutorFunc(func(ctx context.Context, task Task) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls <= 3 {
			return nil, errors.New("flaky dependency")
		}
		return "recovered", nil
	})

	r := newTestRunner(t, exec)
	r.Start(context.Background())
	defer r.Stop()

	for i := 0; i < 3; i++ {
		_, err := r.Queue(context.Background(), TaskSpec{Description: "warm up failure"})
		require.NoError(t, err)
	}
	waitForSnapshot(t, r, func(s Snapshot) bool { return s.CircuitState == breaker.StateOpen })

	_, err := r.Queue(context.Background(), TaskSpec{Description: "after recovery"})
	require.NoError(t, err)

	r.ResetCircuit()

	waitForSnapshot(t, r, func(s Snapshot) bool {
		return s.Completed == 1 && s.CircuitState == breaker.StateClosed
	})
}

func TestPanicIsRecordedAsFailure(t *testing.T) {
	exec := ExecutorFunc(func(ctx context.Context, task Task) (any, error) {
		panic("executor bug")
	})

	r := newTestRunner(t, exec)
	r.Start(context.Background())
	defer r.Stop()

	id, err := r.Queue(context.Background(), TaskSpec{Description: "explodes"})
	require.NoError(t, err)

	waitForSnapshot(t, r, func(s Snapshot) bool { return s.Failed == 1 })

	task, ok := r.Task(id)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Contains(t, task.Error, "task panicked")
}

func TestHistoryEvictionKeepsCountersAccurate(t *testing.T) {
	cfg := testConfig()
	cfg.HistoryLimit = 3
	r, err := New(cfg, succeedingExecutor(), zap.NewNop())
	require.NoError(t, err)

	r.Start(context.Background())
	defer r.Stop()

	for i := 0; i < 8; i++ {
		_, err := r.Queue(context.Background(), TaskSpec{Description: "churn"})
		require.NoError(t, err)
	}

	waitForSnapshot(t, r, func(s Snapshot) bool { return s.Completed == 8 })

	r.mu.Lock()
	retained := len(r.history)
	r.mu.Unlock()
	assert.Equal(t, 3, retained)
}

func TestListQueueReturnsCopies(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())
	r.Pause()

	_, err := r.Queue(context.Background(), TaskSpec{Description: "a", Command: "ls"})
	require.NoError(t, err)

	list := r.ListQueue()
	require.Len(t, list, 1)
	list[0].Spec.Description = "mutated"

	again := r.ListQueue()
	assert.Equal(t, "a", again[0].Spec.Description)
}

func TestAdvisorHintsAttached(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())
	r.Pause()

	id, err := r.Queue(context.Background(), TaskSpec{
		Type:        "maintenance",
		Description: "tidy workspace",
		Command:     "ls",
		Path:        "workspace/",
	})
	require.NoError(t, err)

	task, ok := r.Task(id)
	require.True(t, ok)
	assert.Contains(t, task.Hints, "tool:shell")
	assert.Contains(t, task.Hints, "tool:fileops")
	assert.Contains(t, task.Hints, "category:maintenance")
}

func TestCheckSafetyIsDryRun(t *testing.T) {
	r := newTestRunner(t, succeedingExecutor())

	verdict := r.CheckSafety(TaskSpec{Description: "nuke it", Command: "mkfs.ext4 /dev/sda1"})
	assert.False(t, verdict.Allowed)

	snap := r.Status()
	assert.Equal(t, 0, snap.Queued)
	assert.Equal(t, 0, snap.Completed+snap.Failed)
}

package procedure

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/tool"
)

func twoStateProcedure(name string, timeoutMS, maxRetries int) Procedure {
	return Procedure{
		Name:        name,
		Version:     1,
		Description: "test procedure",
		TimeoutMS:   timeoutMS,
		MaxRetries:  maxRetries,
		Definition: Definition{
			Start: "prepare",
			States: map[string]State{
				"prepare": {
					Action: &Action{Tool: "fake", Operation: "prepare"},
					Next:   "finish",
				},
				"finish": {
					Action: &Action{Tool: "fake", Operation: "finish"},
					End:    true,
				},
			},
		},
	}
}

func newTestExecutor(t *testing.T, procs []Procedure, invoker tool.Invoker) *Executor {
	t.Helper()
	store, err := NewCatalog(procs)
	require.NoError(t, err)
	exec, err := NewExecutor(Config{
		DefaultTimeout: time.Second,
		RetentionTTL:   time.Minute,
	}, store, invoker, nil, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(exec.Close)
	return exec
}

func echoInvoker() tool.Invoker {
	return tool.InvokerFunc(func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		return tool.Result{Output: inv.Operation + " ok"}, nil
	})
}

// blockingInvoker never returns until its context is canceled.
func blockingInvoker() tool.Invoker {
	return tool.InvokerFunc(func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		<-ctx.Done()
		return tool.Result{}, ctx.Err()
	})
}

func TestRunSyncCompletes(t *testing.T) {
	exec := newTestExecutor(t, []Procedure{twoStateProcedure("greet", 0, 0)}, echoInvoker())

	record, err := exec.RunSync(context.Background(), "greet", VersionLatest,
		map[string]any{"who": "world"}, 0)
	require.NoError(t, err)

	assert.Equal(t, ExecCompleted, record.Status)
	assert.Equal(t, "greet", record.ProcedureName)
	outputs, ok := record.Result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "prepare ok", outputs["prepare"])
	assert.Equal(t, "finish ok", outputs["finish"])
	assert.False(t, record.FinishedAt.IsZero())
}

func TestRunSyncGhostProcedureIsNotFound(t *testing.T) {
	exec := newTestExecutor(t, nil, echoInvoker())

	start := time.Now()
	_, err := exec.RunSync(context.Background(), "ghost", VersionLatest, nil, 100*time.Millisecond)

	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTimeout(err))
	// A catalog miss resolves immediately, it never waits out the timeout.
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRunSyncTimeoutTerminatesExecution(t *testing.T) {
	exec := newTestExecutor(t, []Procedure{twoStateProcedure("stuck", 60000, 0)}, blockingInvoker())

	start := time.Now()
	record, err := exec.RunSync(context.Background(), "stuck", VersionLatest, nil, 100*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, ExecTimedOut, record.Status)

	// Nothing is left running afterward.
	polled, ok := exec.Get(record.ID)
	require.True(t, ok)
	assert.NotEqual(t, ExecRunning, polled.Status)
}

func TestRunSyncOverrideBeatsProcedureTimeout(t *testing.T) {
	// The procedure declares a generous timeout; the per-call override wins.
	exec := newTestExecutor(t, []Procedure{twoStateProcedure("stuck", 60000, 0)}, blockingInvoker())

	start := time.Now()
	_, err := exec.RunSync(context.Background(), "stuck", "1", nil, 50*time.Millisecond)

	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRunSyncFailureIsNotTimeout(t *testing.T) {
	invoker := tool.InvokerFunc(func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		return tool.Result{}, errors.New("backend exploded")
	})
	exec := newTestExecutor(t, []Procedure{twoStateProcedure("doomed", 0, 0)}, invoker)

	record, err := exec.RunSync(context.Background(), "doomed", VersionLatest, nil, time.Second)

	require.Error(t, err)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.False(t, IsTimeout(err))
	assert.Equal(t, ExecFailed, record.Status)
	assert.Contains(t, record.Error, "prepare")
}

func TestRunSyncRetriesUpToBudget(t *testing.T) {
	var calls atomic.Int32
	invoker := tool.InvokerFunc(func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		if inv.Operation == "prepare" && calls.Add(1) < 3 {
			return tool.Result{}, errors.New("transient")
		}
		return tool.Result{Output: "ok"}, nil
	})
	exec := newTestExecutor(t, []Procedure{twoStateProcedure("flaky", 0, 2)}, invoker)

	record, err := exec.RunSync(context.Background(), "flaky", VersionLatest, nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, ExecCompleted, record.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStartAsyncIsPollable(t *testing.T) {
	exec := newTestExecutor(t, []Procedure{twoStateProcedure("greet", 0, 0)}, echoInvoker())

	id, err := exec.Start(context.Background(), "greet", VersionLatest, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		record, ok := exec.Get(id)
		return ok && record.Status == ExecCompleted
	}, 2*time.Second, 5*time.Millisecond)
}

func TestEmptyNameIsInvalidRequest(t *testing.T) {
	exec := newTestExecutor(t, nil, echoInvoker())

	_, err := exec.Start(context.Background(), "", VersionLatest, nil)
	require.Error(t, err)
	assert.True(t, IsInvalidRequest(err))
	assert.False(t, IsNotFound(err))

	_, err = exec.RunSync(context.Background(), "", VersionLatest, nil, 0)
	require.Error(t, err)
	assert.True(t, IsInvalidRequest(err))
	assert.False(t, IsNotFound(err))
}

func TestCloseTerminatesRunningExecutions(t *testing.T) {
	store, err := NewCatalog([]Procedure{twoStateProcedure("stuck", 60000, 0)})
	require.NoError(t, err)
	exec, err := NewExecutor(Config{RetentionTTL: time.Minute}, store, blockingInvoker(), nil, zap.NewNop())
	require.NoError(t, err)

	id, err := exec.Start(context.Background(), "stuck", VersionLatest, nil)
	require.NoError(t, err)

	exec.Close()

	record, ok := exec.Get(id)
	require.True(t, ok)
	assert.Equal(t, ExecCanceled, record.Status)

	_, err = exec.Start(context.Background(), "stuck", VersionLatest, nil)
	assert.Error(t, err)
}

package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/procedure"
	"github.com/fyrsmithlabs/agentd/internal/tool"
)

type mockProcedureRunner struct {
	mock.Mock
}

func (m *mockProcedureRunner) RunSync(ctx context.Context, name, version string, payload map[string]any, override time.Duration) (procedure.Execution, error) {
	args := m.Called(ctx, name, version, payload, override)
	return args.Get(0).(procedure.Execution), args.Error(1)
}

func testCatalog(t *testing.T) procedure.Store {
	t.Helper()
	trivial := procedure.Definition{
		Start:  "only",
		States: map[string]procedure.State{"only": {End: true}},
	}
	store, err := procedure.NewCatalog([]procedure.Procedure{
		{Name: "index_repository", Version: 1, Description: "Scan and index a repository", Definition: trivial},
		{Name: "fetch_docs", Version: 2, Description: "Pull documentation", Definition: trivial},
	})
	require.NoError(t, err)
	return store
}

func testRoutines() []Routine {
	return []Routine{
		{
			Name:     "tidy_workspace",
			Keywords: []string{"tidy", "workspace"},
			Steps: []Step{
				{Tool: "fileops", Operation: "list"},
				{Tool: "fileops", Operation: "prune"},
			},
		},
	}
}

func newTestOrchestrator(t *testing.T, procs ProcedureRunner, tools tool.Invoker) *Orchestrator {
	t.Helper()
	if tools == nil {
		tools = tool.InvokerFunc(func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
			return tool.Result{Output: inv.Operation + " ok"}, nil
		})
	}
	o, err := New(testCatalog(t), procs, tools, testRoutines(), zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestClassifyExactProcedureMatch(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)

	d, err := o.Classify(context.Background(), "index repository")
	require.NoError(t, err)
	assert.Equal(t, ClassProcedure, d.Classification)
	assert.Equal(t, "index_repository", d.Procedure)
}

func TestClassifyFuzzyProcedureMatch(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)

	d, err := o.Classify(context.Background(), "please index the main repository tonight")
	require.NoError(t, err)
	assert.Equal(t, ClassProcedure, d.Classification)
	assert.Equal(t, "index_repository", d.Procedure)
}

func TestClassifyRoutineMatch(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)

	d, err := o.Classify(context.Background(), "tidy up the workspace directory")
	require.NoError(t, err)
	assert.Equal(t, ClassOrchestrated, d.Classification)
	assert.Equal(t, "tidy_workspace", d.Routine)
}

func TestClassifyFallsThroughToReasoning(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)

	d, err := o.Classify(context.Background(), "figure out why deploys are slow lately")
	require.NoError(t, err)
	assert.Equal(t, ClassNeedsReasoning, d.Classification)
	assert.NotEmpty(t, d.Reason)
}

func TestClassifyRequiresDescription(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)

	_, err := o.Classify(context.Background(), "   ")
	assert.Error(t, err)
}

func TestExecuteEscalatesInsteadOfGuessing(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)

	out, err := o.Execute(context.Background(), Request{
		Description: "figure out why deploys are slow lately",
		Context:     map[string]any{"env": "staging"},
	})

	// Escalation is a first-class outcome, never an error.
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.Equal(t, ClassNeedsReasoning, out.Classification)
	assert.Equal(t, "figure out why deploys are slow lately", out.Context["description"])
	assert.NotEmpty(t, out.Reason)
}

func TestExecuteDispatchesToProcedure(t *testing.T) {
	procs := &mockProcedureRunner{}
	procs.On("RunSync", mock.Anything, "index_repository", procedure.VersionLatest,
		mock.Anything, time.Duration(0)).
		Return(procedure.Execution{Status: procedure.ExecCompleted, Result: "indexed"}, nil)

	o := newTestOrchestrator(t, procs, nil)

	out, err := o.Execute(context.Background(), Request{Description: "index repository"})
	require.NoError(t, err)
	assert.False(t, out.Escalated)
	assert.Equal(t, ClassProcedure, out.Classification)
	assert.Equal(t, "indexed", out.Result)
	procs.AssertExpectations(t)
}

func TestExecuteProcedureErrorPropagates(t *testing.T) {
	procs := &mockProcedureRunner{}
	procs.On("RunSync", mock.Anything, "fetch_docs", procedure.VersionLatest,
		mock.Anything, mock.Anything).
		Return(procedure.Execution{}, errors.New("upstream down"))

	o := newTestOrchestrator(t, procs, nil)

	out, err := o.Execute(context.Background(), Request{Description: "fetch docs"})
	require.Error(t, err)
	assert.False(t, out.Escalated)
}

func TestExecuteRunsRoutineAsPlan(t *testing.T) {
	var ops []string
	tools := tool.InvokerFunc(func(ctx context.Context, inv tool.Invocation) (tool.Result, error) {
		ops = append(ops, inv.Operation)
		return tool.Result{Output: "ok"}, nil
	})
	o := newTestOrchestrator(t, nil, tools)

	out, err := o.Execute(context.Background(), Request{Description: "tidy the workspace"})
	require.NoError(t, err)
	assert.Equal(t, ClassOrchestrated, out.Classification)
	assert.Equal(t, []string{"list", "prune"}, ops)

	result, ok := out.Result.(PlanResult)
	require.True(t, ok)
	assert.Equal(t, 2, result.Completed)
}

func TestStatusCountsClassifications(t *testing.T) {
	o := newTestOrchestrator(t, nil, nil)

	_, _ = o.Classify(context.Background(), "index repository")
	_, _ = o.Classify(context.Background(), "something inscrutable entirely")
	_, err := o.Execute(context.Background(), Request{Description: "another inscrutable thing"})
	require.NoError(t, err)

	stats := o.Status()
	assert.Equal(t, 1, stats.Classified[ClassProcedure])
	assert.Equal(t, 2, stats.Classified[ClassNeedsReasoning])
	assert.Equal(t, 1, stats.Escalated)
}

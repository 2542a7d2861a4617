package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryDispatchesByToolName(t *testing.T) {
	reg := NewRegistry()
	reg.Register("echo", InvokerFunc(func(ctx context.Context, inv Invocation) (Result, error) {
		return Result{Output: inv.Args["text"]}, nil
	}))

	res, err := reg.Invoke(context.Background(), Invocation{
		Tool:      "echo",
		Operation: "say",
		Args:      map[string]any{"text": "hello"},
	})

	require.NoError(t, err)
	assert.Equal(t, "hello", res.Output)
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Invoke(context.Background(), Invocation{Tool: "ghost"})

	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "ghost", unknown.Tool)
}

func TestRegistryPropagatesInvokerErrors(t *testing.T) {
	reg := NewRegistry()
	sentinel := errors.New("backend down")
	reg.Register("flaky", InvokerFunc(func(ctx context.Context, inv Invocation) (Result, error) {
		return Result{}, sentinel
	}))

	_, err := reg.Invoke(context.Background(), Invocation{Tool: "flaky"})
	assert.ErrorIs(t, err, sentinel)
}

func TestRegistryIgnoresEmptyRegistrations(t *testing.T) {
	reg := NewRegistry()
	reg.Register("", InvokerFunc(func(ctx context.Context, inv Invocation) (Result, error) {
		return Result{}, nil
	}))
	reg.Register("nil", nil)

	assert.Empty(t, reg.Names())
	assert.False(t, reg.Has("nil"))
}

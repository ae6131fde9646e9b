package invoker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/colloquylab/colloquy/internal/retry"
)

// scriptedInvoker replays a fixed sequence of results, recording each request.
type scriptedInvoker struct {
	results []Result
	errs    []error
	calls   []Request
}

func (s *scriptedInvoker) Invoke(_ context.Context, req Request) (Result, error) {
	i := len(s.calls)
	s.calls = append(s.calls, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return Result{}, s.errs[i]
	}
	if i >= len(s.results) {
		return Result{}, errors.New("script exhausted")
	}
	return s.results[i], nil
}

func TestRunToCompletionDirectAnswer(t *testing.T) {
	inv := &scriptedInvoker{results: []Result{{Text: "done", TokensUsed: 10}}}
	res, err := RunToCompletion(context.Background(), inv, nil, Request{Prompt: "q"}, 5, retry.DefaultPolicy, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "done", res.Text)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 10, res.TokensUsed)
}

func TestRunToCompletionToolLoop(t *testing.T) {
	inv := &scriptedInvoker{results: []Result{
		{Text: "need data", ToolCalls: []ToolCall{{Name: "web_search", Arguments: map[string]interface{}{"q": "dams"}}}, TokensUsed: 5},
		{Text: "final answer", TokensUsed: 7},
	}}
	tools := ToolRunnerFunc(func(_ context.Context, call ToolCall) ToolResult {
		return ToolResult{Success: true, Output: "search results"}
	})

	res, err := RunToCompletion(context.Background(), inv, tools, Request{Prompt: "q"}, 5, retry.DefaultPolicy, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "final answer", res.Text)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 12, res.TokensUsed)
	assert.Equal(t, []string{"web_search"}, res.ToolsUsed)
	assert.Empty(t, res.Warnings)

	// Second call sees the accumulated tool results; the first does not.
	require.Len(t, inv.calls, 2)
	assert.NotContains(t, inv.calls[0].Context, "tool_results")
	assert.Contains(t, inv.calls[1].Context, "tool_results")
}

func TestRunToCompletionToolFailureIsRecoverable(t *testing.T) {
	inv := &scriptedInvoker{results: []Result{
		{ToolCalls: []ToolCall{{Name: "flaky"}}},
		{Text: "answer despite tool failure"},
	}}
	tools := ToolRunnerFunc(func(context.Context, ToolCall) ToolResult {
		return ToolResult{Success: false, Error: "tool exploded"}
	})

	res, err := RunToCompletion(context.Background(), inv, tools, Request{}, 5, retry.Policy{MaxAttempts: 2}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, "answer despite tool failure", res.Text)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "tool flaky failed")

	// The failure is fed back to the specialist as a structured result.
	toolResults, ok := inv.calls[1].Context["tool_results"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, toolResults, 1)
	assert.Equal(t, false, toolResults[0]["success"])
}

func TestRunToCompletionIterationBudget(t *testing.T) {
	looping := Result{Text: "partial", ToolCalls: []ToolCall{{Name: "again"}}}
	inv := &scriptedInvoker{results: []Result{looping, looping, looping}}
	tools := ToolRunnerFunc(func(context.Context, ToolCall) ToolResult {
		return ToolResult{Success: true, Output: "more"}
	})

	res, err := RunToCompletion(context.Background(), inv, tools, Request{}, 3, retry.Policy{MaxAttempts: 1}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrIterationBudget)
	assert.Equal(t, "partial", res.Text)
	assert.Equal(t, 3, res.Iterations)
}

func TestRunToCompletionNoToolRunner(t *testing.T) {
	inv := &scriptedInvoker{results: []Result{
		{Text: "wanted a tool", ToolCalls: []ToolCall{{Name: "web_search"}}},
	}}
	res, err := RunToCompletion(context.Background(), inv, nil, Request{}, 5, retry.DefaultPolicy, nil)
	require.NoError(t, err)
	assert.Equal(t, "wanted a tool", res.Text)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "no tool runner")
}

func TestRunToCompletionInvocationFailure(t *testing.T) {
	inv := &scriptedInvoker{errs: []error{errors.New("boom"), errors.New("boom")}}
	_, err := RunToCompletion(context.Background(), inv, nil, Request{}, 5, retry.Policy{MaxAttempts: 2}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Len(t, inv.calls, 2)
}

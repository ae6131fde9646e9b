package invoker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/retry"
)

// LoopResult is the outcome of driving one specialist to completion.
type LoopResult struct {
	Text       string
	TokensUsed int
	ModelUsed  string
	Iterations int
	ToolsUsed  []string
	// Warnings records tool failures the specialist proceeded without.
	Warnings []string
}

// ErrIterationBudget is returned when the specialist kept requesting tools
// past the iteration budget. The partial text accompanies it in LoopResult.
var ErrIterationBudget = errors.New("specialist iteration budget exhausted")

// RunToCompletion calls the invoker repeatedly until it returns a final
// answer (no tool calls) or the iteration budget is reached. Each tool call
// is executed through the runner under the bounded retry policy; a tool
// that still fails is surfaced to the specialist as a structured failure
// result, never as a fatal error.
func RunToCompletion(
	ctx context.Context,
	inv Invoker,
	tools ToolRunner,
	req Request,
	maxIterations int,
	policy retry.Policy,
	logger *zap.Logger,
) (LoopResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxIterations <= 0 {
		maxIterations = 5
	}

	res := LoopResult{}
	// Tool results accumulate in the context across iterations.
	toolResults := make([]map[string]interface{}, 0)

	for iter := 1; iter <= maxIterations; iter++ {
		res.Iterations = iter

		callReq := req
		if len(toolResults) > 0 {
			callReq.Context = cloneContext(req.Context)
			callReq.Context["tool_results"] = toolResults
		}

		var out Result
		err := policy.Do(ctx, func(ctx context.Context) error {
			var invokeErr error
			out, invokeErr = inv.Invoke(ctx, callReq)
			return invokeErr
		})
		if err != nil {
			return res, fmt.Errorf("specialist invocation: %w", err)
		}
		res.Text = out.Text
		res.TokensUsed += out.TokensUsed
		if out.ModelUsed != "" {
			res.ModelUsed = out.ModelUsed
		}

		if len(out.ToolCalls) == 0 {
			return res, nil
		}
		if tools == nil {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("specialist requested %d tool calls but no tool runner is configured", len(out.ToolCalls)))
			return res, nil
		}

		for _, call := range out.ToolCalls {
			res.ToolsUsed = append(res.ToolsUsed, call.Name)
			tr := runToolWithRetry(ctx, tools, call, policy)
			if !tr.Success {
				logger.Warn("tool call failed after retries",
					zap.String("tool", call.Name),
					zap.String("error", tr.Error),
				)
				res.Warnings = append(res.Warnings,
					fmt.Sprintf("tool %s failed: %s", call.Name, tr.Error))
			}
			toolResults = append(toolResults, map[string]interface{}{
				"tool":    call.Name,
				"success": tr.Success,
				"output":  tr.Output,
				"error":   tr.Error,
			})
		}
	}

	return res, ErrIterationBudget
}

// runToolWithRetry applies the bounded retry policy to a recoverable tool
// failure and returns the final structured result.
func runToolWithRetry(ctx context.Context, tools ToolRunner, call ToolCall, policy retry.Policy) ToolResult {
	var tr ToolResult
	_ = policy.Do(ctx, func(ctx context.Context) error {
		tr = tools.Run(ctx, call)
		if !tr.Success {
			return fmt.Errorf("tool %s: %s", call.Name, tr.Error)
		}
		return nil
	})
	return tr
}

func cloneContext(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

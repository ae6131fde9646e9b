package activities

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/invoker"
	"github.com/colloquylab/colloquy/internal/metrics"
	"github.com/colloquylab/colloquy/internal/retry"
)

// ExecuteSpecialist runs one specialist against one subtask, driving the
// tool loop to completion. Invocation failures are returned as errors; the
// workflow's bounded retry and degradation policy decides what happens next.
func (a *Activities) ExecuteSpecialist(ctx context.Context, in SpecialistInput) (SpecialistResult, error) {
	logger := a.logger.With(
		zap.String("activity", "ExecuteSpecialist"),
		zap.String("workflow_id", in.WorkflowID),
		zap.Int("subtask_id", in.SubtaskID),
		zap.String("specialist_id", in.SpecialistID),
	)

	desc, ok := a.team.Get(in.SpecialistID)
	if !ok {
		// Validation rejects plans with unknown specialists; reaching this
		// means the roster changed under a running workflow.
		return SpecialistResult{}, fmt.Errorf("specialist %q not in roster", in.SpecialistID)
	}

	req := invoker.Request{
		Role:         desc.Title,
		Prompt:       buildSpecialistPrompt(desc.RolePrompt(), in),
		Capabilities: desc.Capabilities,
		BackendID:    in.BackendID,
	}

	policy := retry.Policy{
		MaxAttempts: a.budgets.SubtaskRetries + 1,
		Backoff:     time.Second,
		OnRetry:     func(int, error) { metrics.InvocationRetries.Inc() },
	}
	start := time.Now()
	loop, err := invoker.RunToCompletion(ctx, a.inv, a.tools, req, a.budgets.MaxIterations, policy, logger)
	duration := time.Since(start)

	if err != nil && loop.Text == "" {
		metrics.SpecialistInvocations.WithLabelValues(in.BackendID, "error").Inc()
		logger.Warn("specialist invocation failed", zap.Error(err), zap.Duration("duration", duration))
		return SpecialistResult{}, err
	}

	res := SpecialistResult{
		SpecialistID: in.SpecialistID,
		Output:       loop.Text,
		TokensUsed:   loop.TokensUsed,
		ModelUsed:    loop.ModelUsed,
		Iterations:   loop.Iterations,
		Warnings:     loop.Warnings,
	}
	if err != nil {
		// Iteration budget exhausted with partial text: usable, but noted.
		res.Warnings = append(res.Warnings, err.Error())
	}

	metrics.SpecialistInvocations.WithLabelValues(in.BackendID, "ok").Inc()
	metrics.SubtaskDuration.Observe(duration.Seconds())
	logger.Info("specialist completed",
		zap.Int("iterations", loop.Iterations),
		zap.Int("tokens_used", loop.TokensUsed),
		zap.Duration("duration", duration),
	)
	return res, nil
}

// buildSpecialistPrompt assembles the invocation prompt. Section order is
// fixed: role, dependency context, dialogue turns, task, expected outputs.
func buildSpecialistPrompt(rolePrompt string, in SpecialistInput) string {
	var b strings.Builder
	b.WriteString(rolePrompt)
	b.WriteString("\n")

	if in.InputContext != "" {
		b.WriteString("\n## Findings from prerequisite subtasks\n")
		b.WriteString(in.InputContext)
		b.WriteString("\n")
	}
	if in.TurnContext != "" {
		b.WriteString("\n## Discussion so far\n")
		b.WriteString(in.TurnContext)
		b.WriteString("\n")
		b.WriteString("\nRefine or validate your position in light of the discussion. ")
		b.WriteString("Note agreements, correct mistakes, and state what remains open.\n")
	}

	fmt.Fprintf(&b, "\n## Task\n%s\n", in.Description)
	if len(in.ExpectedOutputs) > 0 {
		b.WriteString("\nProvide the following outputs:\n")
		for _, out := range in.ExpectedOutputs {
			fmt.Fprintf(&b, "- %s\n", out)
		}
	}
	return b.String()
}

package activities

import (
	"context"
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/invoker"
	"github.com/colloquylab/colloquy/internal/metrics"
	"github.com/colloquylab/colloquy/internal/plan"
	"github.com/colloquylab/colloquy/internal/retry"
)

// PlanValidationErrorType tags the non-retryable application error raised
// when plan generation keeps producing invalid plans.
const PlanValidationErrorType = "PlanValidationError"

// GeneratePlan asks the coordinator role to decompose the question into a
// dependency-ordered subtask plan and validates it. Structurally invalid
// output is regenerated up to the configured attempt budget; after that the
// activity fails non-retryably and no subtasks execute.
func (a *Activities) GeneratePlan(ctx context.Context, in PlanInput) (PlanResult, error) {
	logger := a.logger.With(
		zap.String("activity", "GeneratePlan"),
		zap.String("workflow_id", in.WorkflowID),
	)

	attempts := a.budgets.MaxPlanAttempts
	if attempts <= 0 {
		attempts = 2
	}
	metrics.PipelinesStarted.WithLabelValues(in.BackendID).Inc()

	res := PlanResult{}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res.Attempts = attempt
		metrics.PlanAttempts.Inc()

		req := invoker.Request{
			Role:      "coordinator",
			Prompt:    a.plannerPrompt(in.Question, lastErr),
			BackendID: in.BackendID,
		}
		var out invoker.Result
		err := retry.DefaultPolicy.Do(ctx, func(ctx context.Context) error {
			var invokeErr error
			out, invokeErr = a.inv.Invoke(ctx, req)
			return invokeErr
		})
		if err != nil {
			lastErr = fmt.Errorf("planner invocation: %w", err)
			logger.Warn("plan generation call failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		res.TokensUsed += out.TokensUsed

		p, err := plan.Parse(out.Text)
		if err != nil {
			metrics.PlanValidationFailures.Inc()
			lastErr = err
			logger.Warn("generated plan is unparseable", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		if err := p.Validate(a.team.IDs(), a.budgets.MaxSubtasks); err != nil {
			metrics.PlanValidationFailures.Inc()
			lastErr = err
			logger.Warn("generated plan failed validation", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}

		p.Question = in.Question
		// Dialogue turns iterate specialists in roster-registration order;
		// normalize here so the workflow never needs roster access.
		for i := range p.Subtasks {
			ordered := a.team.InRegistrationOrder(p.Subtasks[i].Specialists)
			ids := make([]string, len(ordered))
			for j, s := range ordered {
				ids[j] = s.ID
			}
			p.Subtasks[i].Specialists = ids
		}
		res.Plan = *p
		logger.Info("plan accepted",
			zap.Int("attempt", attempt),
			zap.Int("subtasks", len(p.Subtasks)),
		)
		return res, nil
	}

	return res, temporal.NewNonRetryableApplicationError(
		fmt.Sprintf("plan generation failed after %d attempts", attempts),
		PlanValidationErrorType,
		lastErr,
	)
}

// plannerPrompt renders the coordinator prompt from the roster and budgets.
// When a previous attempt was rejected, its reasons are included so the
// model can correct them.
func (a *Activities) plannerPrompt(question string, prevErr error) string {
	var b strings.Builder
	b.WriteString("Decompose the research question into a dependency-ordered plan of subtasks.\n\n")
	fmt.Fprintf(&b, "Research question: %s\n\n", question)

	b.WriteString("Team roster:\n")
	for _, s := range a.team.Specialists {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", s.ID, s.Title, s.Expertise)
	}

	fmt.Fprintf(&b, "\nRespond with JSON only: {\"subtasks\": [{\"id\", \"description\", \"specialists\", \"expected_outputs\", \"dependencies\"}]}.\n")
	fmt.Fprintf(&b, "Rules: at most %d subtasks; ids are consecutive positive integers; ", a.budgets.MaxSubtasks)
	b.WriteString("dependencies may only reference smaller ids; every specialists entry must be a roster id; ")
	b.WriteString("at least one subtask must have no dependencies. ")
	b.WriteString("Assign two specialists to a subtask only when it genuinely needs a discussion between roles.\n")

	if prevErr != nil {
		fmt.Fprintf(&b, "\nYour previous plan was rejected: %v\nProduce a corrected plan.\n", prevErr)
	}
	return b.String()
}

package workflows

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/colloquylab/colloquy/internal/activities"
	"github.com/colloquylab/colloquy/internal/config"
	"github.com/colloquylab/colloquy/internal/critique"
	"github.com/colloquylab/colloquy/internal/journal"
	"github.com/colloquylab/colloquy/internal/plan"
	"github.com/colloquylab/colloquy/internal/runstore"
)

var testBudgets = config.Budgets{
	MaxSubtasks:     8,
	MaxPlanAttempts: 2,
	MaxIterations:   5,
	SubtaskRetries:  1,
	MaxReviewCycles: 2,
}

// pipelineFixture wires a workflow test environment with scriptable activity
// stubs and records everything the workflow asked for.
type pipelineFixture struct {
	env *testsuite.TestWorkflowEnvironment

	mu              sync.Mutex
	specialistCalls []activities.SpecialistInput
	critiqueCalls   int
	eventTypes      []string
	recorded        []activities.RecordRunInput

	// Hooks; nil means default behavior.
	specialistErr func(in activities.SpecialistInput) error
	critiqueText  func(call int) string
	synthesize    func(in activities.SynthesisInput) string
}

func newPipelineFixture(t *testing.T, p plan.ResearchPlan) *pipelineFixture {
	suite := &testsuite.WorkflowTestSuite{}
	f := &pipelineFixture{env: suite.NewTestWorkflowEnvironment()}
	f.env.RegisterWorkflow(ResearchPipelineWorkflow)

	f.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PlanInput) (activities.PlanResult, error) {
			return activities.PlanResult{Plan: p, Attempts: 1, TokensUsed: 3}, nil
		},
		activity.RegisterOptions{Name: activities.GeneratePlanActivity},
	)
	f.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SpecialistInput) (activities.SpecialistResult, error) {
			f.mu.Lock()
			f.specialistCalls = append(f.specialistCalls, in)
			f.mu.Unlock()
			if f.specialistErr != nil {
				if err := f.specialistErr(in); err != nil {
					return activities.SpecialistResult{}, err
				}
			}
			return activities.SpecialistResult{
				SpecialistID: in.SpecialistID,
				Output:       specialistOutput(in),
				TokensUsed:   10,
				Iterations:   1,
			}, nil
		},
		activity.RegisterOptions{Name: activities.ExecuteSpecialistActivity},
	)
	f.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SynthesisInput) (activities.SynthesisResult, error) {
			if f.synthesize != nil {
				return activities.SynthesisResult{Answer: f.synthesize(in), TokensUsed: 5}, nil
			}
			var b strings.Builder
			b.WriteString("synthesized answer")
			for _, e := range in.Entries {
				fmt.Fprintf(&b, " [%d]", e.SubtaskID)
			}
			if len(in.Flags) > 0 {
				b.WriteString("\nRed Flag Resolution:")
				for _, fl := range in.Flags {
					fmt.Fprintf(&b, " %s addressed.", fl.FlagID)
				}
			}
			return activities.SynthesisResult{Answer: b.String(), TokensUsed: 5}, nil
		},
		activity.RegisterOptions{Name: activities.SynthesizeActivity},
	)
	f.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.CritiqueInput) (activities.CritiqueResult, error) {
			f.mu.Lock()
			f.critiqueCalls++
			call := f.critiqueCalls
			f.mu.Unlock()
			text := "No red flags."
			if f.critiqueText != nil {
				text = f.critiqueText(call)
			}
			extracted := critique.Extract(text)
			return activities.CritiqueResult{
				Text:          text,
				Flags:         extracted.Flags,
				ParseWarnings: extracted.Warnings,
				TokensUsed:    2,
			}, nil
		},
		activity.RegisterOptions{Name: activities.CritiqueActivity},
	)
	f.env.RegisterActivityWithOptions(
		func(ctx context.Context, evt journal.Event) error {
			f.mu.Lock()
			f.eventTypes = append(f.eventTypes, evt.Type)
			f.mu.Unlock()
			return nil
		},
		activity.RegisterOptions{Name: activities.EmitEventActivity},
	)
	f.env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.RecordRunInput) error {
			f.mu.Lock()
			f.recorded = append(f.recorded, in)
			f.mu.Unlock()
			return nil
		},
		activity.RegisterOptions{Name: activities.RecordRunActivity},
	)
	return f
}

func specialistOutput(in activities.SpecialistInput) string {
	if in.Turn > 0 {
		return fmt.Sprintf("output-%d-%s-t%d", in.SubtaskID, in.SpecialistID, in.Turn)
	}
	return fmt.Sprintf("output-%d-%s", in.SubtaskID, in.SpecialistID)
}

func (f *pipelineFixture) run(t *testing.T, in PipelineInput) PipelineResult {
	t.Helper()
	f.env.ExecuteWorkflow(ResearchPipelineWorkflow, in)
	require.True(t, f.env.IsWorkflowCompleted())
	require.NoError(t, f.env.GetWorkflowError())
	var res PipelineResult
	require.NoError(t, f.env.GetWorkflowResult(&res))
	return res
}

func (f *pipelineFixture) callsForSubtask(id int) []activities.SpecialistInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []activities.SpecialistInput
	for _, c := range f.specialistCalls {
		if c.SubtaskID == id {
			out = append(out, c)
		}
	}
	return out
}

func chainPlan() plan.ResearchPlan {
	return plan.ResearchPlan{
		Question: "q",
		Subtasks: []plan.Subtask{
			{ID: 1, Description: "gather sources", Specialists: []string{"domain_expert"}},
			{ID: 2, Description: "analyze data", Specialists: []string{"data_analyst"}, Dependencies: []int{1}},
			{ID: 3, Description: "check method", Specialists: []string{"methodologist"}, Dependencies: []int{1}},
		},
	}
}

func TestPipelineInputContextCarriesOnlyDeclaredDependencies(t *testing.T) {
	f := newPipelineFixture(t, chainPlan())
	res := f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})

	assert.False(t, res.Partial)
	require.Len(t, res.Outcomes, 3)

	first := f.callsForSubtask(1)
	require.Len(t, first, 1)
	assert.Empty(t, first[0].InputContext)

	second := f.callsForSubtask(2)
	require.Len(t, second, 1)
	assert.Contains(t, second[0].InputContext, "### Subtask 1: gather sources")
	assert.Contains(t, second[0].InputContext, "output-1-domain_expert")

	// Subtask 3 runs after subtask 2 completed but declares only subtask 1;
	// subtask 2's output must not leak into its context.
	third := f.callsForSubtask(3)
	require.Len(t, third, 1)
	assert.Contains(t, third[0].InputContext, "output-1-domain_expert")
	assert.NotContains(t, third[0].InputContext, "output-2-data_analyst")
	assert.NotContains(t, third[0].InputContext, "Subtask 2")
}

func TestPipelineExecutesInAscendingIDOrder(t *testing.T) {
	p := plan.ResearchPlan{
		Question: "q",
		Subtasks: []plan.Subtask{
			{ID: 3, Description: "third", Specialists: []string{"c"}, Dependencies: []int{1, 2}},
			{ID: 1, Description: "first", Specialists: []string{"a"}},
			{ID: 2, Description: "second", Specialists: []string{"b"}, Dependencies: []int{1}},
		},
	}
	f := newPipelineFixture(t, p)
	f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.specialistCalls, 3)
	assert.Equal(t, 1, f.specialistCalls[0].SubtaskID)
	assert.Equal(t, 2, f.specialistCalls[1].SubtaskID)
	assert.Equal(t, 3, f.specialistCalls[2].SubtaskID)

	// Dependencies are concatenated in ascending id order.
	ctx3 := f.specialistCalls[2].InputContext
	assert.Less(t,
		strings.Index(ctx3, "### Subtask 1"),
		strings.Index(ctx3, "### Subtask 2"),
	)
}

func TestPipelineDegradedSubtaskDoesNotAbortRun(t *testing.T) {
	f := newPipelineFixture(t, chainPlan())
	f.specialistErr = func(in activities.SpecialistInput) error {
		if in.SubtaskID == 2 {
			return temporal.NewNonRetryableApplicationError("backend down", "InvocationError", nil)
		}
		return nil
	}

	res := f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})

	require.Len(t, res.Outcomes, 3)
	assert.False(t, res.Outcomes[0].Degraded)
	assert.True(t, res.Outcomes[1].Degraded)
	assert.False(t, res.Outcomes[2].Degraded)
	assert.NotEmpty(t, res.FinalAnswer)

	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "subtask 2 degraded") {
			found = true
		}
	}
	assert.True(t, found, "warnings must surface the degraded subtask: %v", res.Warnings)

	f.mu.Lock()
	events := append([]string(nil), f.eventTypes...)
	f.mu.Unlock()
	assert.Contains(t, events, journal.EventSubtaskDegraded)
}

func TestPipelineDegradedDependencyFeedsPlaceholder(t *testing.T) {
	p := plan.ResearchPlan{
		Question: "q",
		Subtasks: []plan.Subtask{
			{ID: 1, Description: "a", Specialists: []string{"x"}},
			{ID: 2, Description: "b", Specialists: []string{"y"}, Dependencies: []int{1}},
		},
	}
	f := newPipelineFixture(t, p)
	f.specialistErr = func(in activities.SpecialistInput) error {
		if in.SubtaskID == 1 {
			return temporal.NewNonRetryableApplicationError("boom", "InvocationError", nil)
		}
		return nil
	}
	f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})

	second := f.callsForSubtask(2)
	require.Len(t, second, 1)
	assert.Contains(t, second[0].InputContext, "[degraded] subtask 1")
}

func TestPipelinePlanFailureIsFatal(t *testing.T) {
	suite := &testsuite.WorkflowTestSuite{}
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(ResearchPipelineWorkflow)

	specialistCalled := false
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.PlanInput) (activities.PlanResult, error) {
			return activities.PlanResult{}, temporal.NewNonRetryableApplicationError(
				"plan generation failed after 2 attempts", activities.PlanValidationErrorType, nil)
		},
		activity.RegisterOptions{Name: activities.GeneratePlanActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.SpecialistInput) (activities.SpecialistResult, error) {
			specialistCalled = true
			return activities.SpecialistResult{}, nil
		},
		activity.RegisterOptions{Name: activities.ExecuteSpecialistActivity},
	)
	env.RegisterActivityWithOptions(
		func(ctx context.Context, evt journal.Event) error { return nil },
		activity.RegisterOptions{Name: activities.EmitEventActivity},
	)

	env.ExecuteWorkflow(ResearchPipelineWorkflow, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan generation failed")
	assert.False(t, specialistCalled, "no subtask may execute when the plan is rejected")
}

func TestPipelineReviewLoopResolvesFlags(t *testing.T) {
	f := newPipelineFixture(t, chainPlan())
	f.critiqueText = func(call int) string {
		if call == 1 {
			return criticalFlagText("DA-1")
		}
		return "No red flags."
	}

	res := f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})

	require.Len(t, res.Flags, 1)
	assert.Equal(t, "DA-1", res.Flags[0].FlagID)
	assert.True(t, res.Flags[0].Resolved)
	assert.Contains(t, res.FinalAnswer, "DA-1")
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "remain unresolved")
	}

	f.mu.Lock()
	events := append([]string(nil), f.eventTypes...)
	f.mu.Unlock()
	assert.Contains(t, events, journal.EventFlagsRaised)
	assert.Contains(t, events, journal.EventFlagsResolved)
}

func TestPipelineUnresolvedCriticalIsSoftGate(t *testing.T) {
	f := newPipelineFixture(t, chainPlan())
	f.critiqueText = func(int) string { return criticalFlagText("ME-9") }
	// A synthesizer that never cites flag ids keeps the flag unresolved.
	f.synthesize = func(in activities.SynthesisInput) string { return "answer without citations" }

	res := f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})

	assert.NotEmpty(t, res.FinalAnswer, "unresolved criticals must not fail the run")
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "1 remain unresolved") {
			found = true
		}
	}
	assert.True(t, found, "caveat warning missing: %v", res.Warnings)

	f.mu.Lock()
	critiques := f.critiqueCalls
	f.mu.Unlock()
	assert.Equal(t, testBudgets.MaxReviewCycles, critiques, "review loop must stop at its budget")
}

func TestPipelineBudgetExhaustionSkipsRemainingSubtasks(t *testing.T) {
	f := newPipelineFixture(t, chainPlan())
	// Each specialist call advances the workflow clock by a minute, so the
	// 90-second budget expires after the second subtask.
	f.env.OnActivity(activities.ExecuteSpecialistActivity, mock.Anything, mock.Anything).
		After(time.Minute).
		Return(activities.SpecialistResult{SpecialistID: "stub", Output: "finding", TokensUsed: 1}, nil)

	budgets := testBudgets
	budgets.PipelineTimeout = 90 * time.Second
	res := f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: budgets})

	assert.True(t, res.Partial)
	require.Len(t, res.Outcomes, 3)
	assert.False(t, res.Outcomes[0].Skipped)
	assert.False(t, res.Outcomes[1].Skipped)
	assert.True(t, res.Outcomes[2].Skipped)
	assert.Equal(t, 3, res.Outcomes[2].SubtaskID)
	assert.Empty(t, res.Outcomes[2].Output)

	found := false
	for _, w := range res.Warnings {
		if w == "subtask 3 skipped: pipeline budget exhausted" {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", res.Warnings)

	// Synthesis sees only the subtasks that actually executed.
	assert.Contains(t, res.FinalAnswer, "[2]")
	assert.NotContains(t, res.FinalAnswer, "[3]")

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.recorded, 1)
	assert.Equal(t, runstore.RunStatusPartial, f.recorded[0].Run.Status)
}

func TestPipelineRecordsRun(t *testing.T) {
	f := newPipelineFixture(t, chainPlan())
	res := f.run(t, PipelineInput{Question: "q", BackendID: "openai", Budgets: testBudgets})

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.recorded, 1)
	rec := f.recorded[0]
	assert.Equal(t, runstore.RunStatusCompleted, rec.Run.Status)
	assert.Equal(t, "openai", rec.Run.BackendID)
	require.NotNil(t, rec.Run.FinalAnswer)
	assert.Equal(t, res.FinalAnswer, *rec.Run.FinalAnswer)
}

func criticalFlagText(id string) string {
	return fmt.Sprintf(`### CRITICAL - Data Analysis
Flag ID: %s
Issue: the core number is wrong
Location: summary
Required Fix: recompute it
`, id)
}

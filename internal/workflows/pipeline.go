package workflows

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/colloquylab/colloquy/internal/activities"
	"github.com/colloquylab/colloquy/internal/config"
	"github.com/colloquylab/colloquy/internal/consensus"
	"github.com/colloquylab/colloquy/internal/critique"
	"github.com/colloquylab/colloquy/internal/journal"
	"github.com/colloquylab/colloquy/internal/plan"
	"github.com/colloquylab/colloquy/internal/runstore"
)

// ResearchPipelineWorkflow runs one full research pipeline: plan, schedule
// subtasks in dependency order, synthesize, and close the critique loop.
// Execution inside the pipeline is strictly sequential; every activity
// future is awaited before the next subtask starts.
func ResearchPipelineWorkflow(ctx workflow.Context, in PipelineInput) (PipelineResult, error) {
	logger := workflow.GetLogger(ctx)
	wid := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger.Info("Research pipeline started",
		"question", in.Question,
		"backend", in.BackendID,
	)

	applyBudgetDefaults(&in.Budgets)

	// Activities handle their own bounded retries; Temporal-level retries
	// would double-count them.
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	start := workflow.Now(ctx)
	var deadline time.Time
	if in.Budgets.PipelineTimeout > 0 {
		deadline = start.Add(in.Budgets.PipelineTimeout)
	}

	result := PipelineResult{Question: in.Question, BackendID: in.BackendID}

	// Plan construction. Validation failure is fatal: no subtasks execute.
	var planRes activities.PlanResult
	if err := workflow.ExecuteActivity(ctx, activities.GeneratePlanActivity, activities.PlanInput{
		WorkflowID: wid,
		Question:   in.Question,
		BackendID:  in.BackendID,
	}).Get(ctx, &planRes); err != nil {
		logger.Error("Plan generation failed", "error", err)
		return result, err
	}
	result.TokensUsed += planRes.TokensUsed
	researchPlan := planRes.Plan

	emitEvent(ctx, journal.Event{
		WorkflowID: wid,
		Type:       journal.EventPlanBuilt,
		Message:    fmt.Sprintf("%d subtasks", len(researchPlan.Subtasks)),
	})

	// Scheduler: lowest-id-first is a valid topological order because
	// dependencies point strictly backward. The execution context grows by
	// exactly one entry per executed subtask, in completion order.
	execCtx := make(map[int]string, len(researchPlan.Subtasks))

	for _, id := range researchPlan.Order() {
		st := researchPlan.ByID(id)

		if !deadline.IsZero() && workflow.Now(ctx).After(deadline) {
			result.Partial = true
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("subtask %d skipped: pipeline budget exhausted", id))
			result.Outcomes = append(result.Outcomes, SubtaskOutcome{
				SubtaskID: id, Specialists: st.Specialists, Skipped: true,
			})
			continue
		}

		inputContext := buildInputContext(&researchPlan, st, execCtx)

		emitEvent(ctx, journal.Event{
			WorkflowID: wid,
			Type:       journal.EventSubtaskStarted,
			SubtaskID:  id,
		})

		var output string
		var degraded bool

		if len(st.Specialists) >= 2 {
			dlg := runDialogue(ctx, in, *st, inputContext)
			output = dlg.Combined
			degraded = dlg.Degraded
			result.TokensUsed += dlg.TokensUsed
			result.Warnings = append(result.Warnings, dlg.Warnings...)
			result.Transcript = append(result.Transcript, dlg.Transcript...)
		} else {
			var sr activities.SpecialistResult
			err := workflow.ExecuteActivity(ctx, activities.ExecuteSpecialistActivity, activities.SpecialistInput{
				WorkflowID:      wid,
				SubtaskID:       id,
				SpecialistID:    st.Specialists[0],
				Description:     st.Description,
				ExpectedOutputs: st.ExpectedOutputs,
				InputContext:    inputContext,
				BackendID:       in.BackendID,
			}).Get(ctx, &sr)
			if err != nil {
				// Bounded retries happened inside the activity. Degrade the
				// subtask and keep going; one failure must not abort the plan.
				logger.Warn("Subtask degraded after specialist failure",
					"subtask_id", id,
					"error", err,
				)
				degraded = true
				output = fmt.Sprintf("[degraded] subtask %d produced no output: %v", id, err)
				result.Warnings = append(result.Warnings,
					fmt.Sprintf("subtask %d degraded: specialist %s failed after retries", id, st.Specialists[0]))
				emitEvent(ctx, journal.Event{
					WorkflowID: wid,
					Type:       journal.EventSubtaskDegraded,
					SubtaskID:  id,
				})
			} else {
				output = sr.Output
				result.TokensUsed += sr.TokensUsed
				for _, w := range sr.Warnings {
					result.Warnings = append(result.Warnings, fmt.Sprintf("subtask %d: %s", id, w))
				}
				result.Transcript = append(result.Transcript, consensus.TranscriptEntry{
					Turn:         1,
					SpecialistID: sr.SpecialistID,
					Content:      sr.Output,
				})
			}
		}

		execCtx[id] = output
		result.Outcomes = append(result.Outcomes, SubtaskOutcome{
			SubtaskID:   id,
			Specialists: st.Specialists,
			Output:      output,
			Degraded:    degraded,
		})

		if !degraded {
			emitEvent(ctx, journal.Event{
				WorkflowID: wid,
				Type:       journal.EventSubtaskCompleted,
				SubtaskID:  id,
			})
		}
	}

	// Synthesis plus the critique/resolution loop.
	finalAnswer, reviewState := runReviewLoop(ctx, in, wid, &researchPlan, execCtx, &result)
	result.FinalAnswer = finalAnswer
	result.Flags = reviewState.Flags
	if caveat := reviewState.CriticalCaveat(); caveat != "" {
		result.Warnings = append(result.Warnings, caveat)
	}

	emitEvent(ctx, journal.Event{
		WorkflowID: wid,
		Type:       journal.EventPipelineCompleted,
	})
	recordRun(ctx, wid, in, &result, workflow.Now(ctx).Sub(start))

	logger.Info("Research pipeline completed",
		"subtasks", len(result.Outcomes),
		"warnings", len(result.Warnings),
		"partial", result.Partial,
		"tokens_used", result.TokensUsed,
	)
	return result, nil
}

// runReviewLoop synthesizes the final answer and closes the critique loop:
// critique, extract flags, re-synthesize with the flag list, verify by flag
// id containment. Bounded by MaxReviewCycles; resolution is a soft gate.
func runReviewLoop(
	ctx workflow.Context,
	in PipelineInput,
	wid string,
	researchPlan *plan.ResearchPlan,
	execCtx map[int]string,
	result *PipelineResult,
) (string, critique.VerifyResult) {
	logger := workflow.GetLogger(ctx)

	entries := contextEntries(researchPlan, execCtx)

	emitEvent(ctx, journal.Event{WorkflowID: wid, Type: journal.EventSynthesisStarted})

	var synth activities.SynthesisResult
	if err := workflow.ExecuteActivity(ctx, activities.SynthesizeActivity, activities.SynthesisInput{
		WorkflowID: wid,
		Question:   in.Question,
		Entries:    entries,
		BackendID:  in.BackendID,
	}).Get(ctx, &synth); err != nil {
		logger.Error("Synthesis failed", "error", err)
		result.Partial = true
		result.Warnings = append(result.Warnings, fmt.Sprintf("synthesis failed: %v", err))
		return "", critique.VerifyResult{}
	}
	answer := synth.Answer
	result.TokensUsed += synth.TokensUsed

	var lastVerify critique.VerifyResult
	for cycle := 1; cycle <= in.Budgets.MaxReviewCycles; cycle++ {
		var crit activities.CritiqueResult
		if err := workflow.ExecuteActivity(ctx, activities.CritiqueActivity, activities.CritiqueInput{
			WorkflowID: wid,
			Question:   in.Question,
			Answer:     answer,
			BackendID:  in.BackendID,
		}).Get(ctx, &crit); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("review cycle %d skipped: critique failed: %v", cycle, err))
			break
		}
		result.TokensUsed += crit.TokensUsed

		for _, w := range crit.ParseWarnings {
			result.Warnings = append(result.Warnings, "critique parse warning: "+w)
		}
		if len(crit.Flags) == 0 {
			logger.Info("Review cycle raised no flags", "cycle", cycle)
			break
		}

		emitEvent(ctx, journal.Event{
			WorkflowID: wid,
			Type:       journal.EventFlagsRaised,
			Message:    fmt.Sprintf("cycle %d: %d flags", cycle, len(crit.Flags)),
		})

		if err := workflow.ExecuteActivity(ctx, activities.SynthesizeActivity, activities.SynthesisInput{
			WorkflowID: wid,
			Question:   in.Question,
			Entries:    entries,
			Flags:      crit.Flags,
			BackendID:  in.BackendID,
		}).Get(ctx, &synth); err != nil {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("review cycle %d: re-synthesis failed: %v", cycle, err))
			lastVerify = critique.Verify(answer, crit.Flags)
			break
		}
		answer = synth.Answer
		result.TokensUsed += synth.TokensUsed

		lastVerify = critique.Verify(answer, crit.Flags)
		if lastVerify.AllResolved() {
			emitEvent(ctx, journal.Event{
				WorkflowID: wid,
				Type:       journal.EventFlagsResolved,
				Message:    fmt.Sprintf("cycle %d: all %d flags resolved", cycle, len(lastVerify.Flags)),
			})
			break
		}
		logger.Info("Review cycle left flags unresolved",
			"cycle", cycle,
			"resolved", lastVerify.ResolvedCount,
			"total", len(lastVerify.Flags),
		)
	}
	return answer, lastVerify
}

// buildInputContext concatenates, in ascending dependency-id order, the
// outputs of exactly the subtask's declared dependencies. Completed
// non-dependencies are never included: prompts stay bounded and free of
// cross-talk.
func buildInputContext(researchPlan *plan.ResearchPlan, st *plan.Subtask, execCtx map[int]string) string {
	if len(st.Dependencies) == 0 {
		return ""
	}
	var b strings.Builder
	for _, dep := range st.SortedDependencies() {
		out, ok := execCtx[dep]
		if !ok {
			// Dependency was skipped under the pipeline budget.
			continue
		}
		depTask := researchPlan.ByID(dep)
		desc := ""
		if depTask != nil {
			desc = depTask.Description
		}
		fmt.Fprintf(&b, "### Subtask %d: %s\n%s\n\n", dep, desc, out)
	}
	return strings.TrimRight(b.String(), "\n")
}

// contextEntries renders the accumulated execution context for synthesis in
// ascending subtask-id order.
func contextEntries(researchPlan *plan.ResearchPlan, execCtx map[int]string) []activities.ContextEntry {
	ids := make([]int, 0, len(execCtx))
	for id := range execCtx {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	entries := make([]activities.ContextEntry, 0, len(ids))
	for _, id := range ids {
		desc := ""
		if st := researchPlan.ByID(id); st != nil {
			desc = st.Description
		}
		entries = append(entries, activities.ContextEntry{
			SubtaskID:   id,
			Description: desc,
			Output:      execCtx[id],
		})
	}
	return entries
}

// emitEvent publishes a progress event, ignoring failures: progress
// reporting never blocks the pipeline.
func emitEvent(ctx workflow.Context, evt journal.Event) {
	evt.Timestamp = workflow.Now(ctx)
	evCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	_ = workflow.ExecuteActivity(evCtx, activities.EmitEventActivity, evt).Get(ctx, nil)
}

// recordRun persists the run record best-effort.
func recordRun(ctx workflow.Context, wid string, in PipelineInput, result *PipelineResult, elapsed time.Duration) {
	status := runstore.RunStatusCompleted
	if result.Partial {
		status = runstore.RunStatusPartial
	}
	answer := result.FinalAnswer
	completed := workflow.Now(ctx)
	flags := make([]runstore.RedFlagRecord, 0, len(result.Flags))
	for _, f := range result.Flags {
		flags = append(flags, runstore.RedFlagRecord{
			WorkflowID:  wid,
			FlagID:      f.FlagID,
			Severity:    string(f.Severity),
			Category:    f.Category,
			Issue:       f.Issue,
			Location:    f.Location,
			RequiredFix: f.RequiredFix,
			Resolved:    f.Resolved,
		})
	}

	recCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	})
	_ = workflow.ExecuteActivity(recCtx, activities.RecordRunActivity, activities.RecordRunInput{
		Run: runstore.RunRecord{
			WorkflowID:  wid,
			Question:    in.Question,
			BackendID:   in.BackendID,
			Status:      status,
			FinalAnswer: &answer,
			Warnings:    warningsPayload(result.Warnings),
			Metrics: runstore.JSONB{
				"tokens_used": result.TokensUsed,
				"subtasks":    len(result.Outcomes),
				"duration_ms": elapsed.Milliseconds(),
			},
			StartedAt:   completed.Add(-elapsed),
			CompletedAt: &completed,
		},
		Flags: flags,
	}).Get(ctx, nil)
}

func warningsPayload(warnings []string) runstore.JSONB {
	if len(warnings) == 0 {
		return nil
	}
	return runstore.JSONB{"warnings": warnings}
}

// applyBudgetDefaults fills zero-valued budgets so callers that construct
// PipelineInput by hand get the same bounds the config loader would apply.
func applyBudgetDefaults(b *config.Budgets) {
	if b.MaxSubtasks <= 0 {
		b.MaxSubtasks = 8
	}
	if b.MaxPlanAttempts <= 0 {
		b.MaxPlanAttempts = 2
	}
	if b.MaxIterations <= 0 {
		b.MaxIterations = 5
	}
	if b.MaxReviewCycles <= 0 {
		b.MaxReviewCycles = 2
	}
}

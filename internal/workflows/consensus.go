package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/colloquylab/colloquy/internal/activities"
	"github.com/colloquylab/colloquy/internal/consensus"
	"github.com/colloquylab/colloquy/internal/journal"
)

// ConsensusWorkflow fans the same question out to one independent child
// pipeline per backend, then joins the answers into an agreement report.
// Children run in parallel; each is a complete pipeline with its own plan.
// A failed or timed-out child contributes an empty partial run and a
// warning, never failing the whole workflow.
func ConsensusWorkflow(ctx workflow.Context, in ConsensusInput) (ConsensusResult, error) {
	logger := workflow.GetLogger(ctx)
	wid := workflow.GetInfo(ctx).WorkflowExecution.ID

	if len(in.Backends) < 2 {
		return ConsensusResult{}, fmt.Errorf("consensus requires at least 2 backends, got %d", len(in.Backends))
	}
	seen := make(map[string]bool, len(in.Backends))
	for _, b := range in.Backends {
		if seen[b] {
			return ConsensusResult{}, fmt.Errorf("consensus backends must be distinct: %q appears twice", b)
		}
		seen[b] = true
	}

	timeout := in.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Minute
	}

	logger.Info("Consensus started",
		"question", in.Question,
		"backends", in.Backends,
	)

	futures := make([]workflow.ChildWorkflowFuture, len(in.Backends))
	for i, backend := range in.Backends {
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID:         fmt.Sprintf("%s-%s", wid, backend),
			WorkflowRunTimeout: timeout,
		})
		futures[i] = workflow.ExecuteChildWorkflow(childCtx, ResearchPipelineWorkflow, PipelineInput{
			Question:  in.Question,
			BackendID: backend,
			Budgets:   in.Budgets,
		})
	}

	result := ConsensusResult{}
	answered := 0
	for i, f := range futures {
		backend := in.Backends[i]
		var pr PipelineResult
		if err := f.Get(ctx, &pr); err != nil {
			logger.Warn("Consensus child pipeline failed",
				"backend", backend,
				"error", err,
			)
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("pipeline on backend %s failed; an empty partial run stands in for it: %v", backend, err))
			result.Runs = append(result.Runs, consensus.Run{BackendID: backend, Partial: true})
			continue
		}
		answered++
		if pr.Partial {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("pipeline on backend %s completed partially; its answer is included", backend))
		}
		result.Warnings = append(result.Warnings, pr.Warnings...)
		result.Runs = append(result.Runs, consensus.Run{
			BackendID:   backend,
			FinalAnswer: pr.FinalAnswer,
			Transcript:  pr.Transcript,
			Partial:     pr.Partial,
		})
	}

	if answered == 0 {
		return result, fmt.Errorf("all %d consensus pipelines failed", len(in.Backends))
	}
	if answered == 1 {
		result.Warnings = append(result.Warnings,
			"only one pipeline produced an answer; the report reflects a single run, not a consensus")
	}

	aggCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
	})
	var agg activities.AggregateResult
	if err := workflow.ExecuteActivity(aggCtx, activities.AggregateConsensusActivity, activities.AggregateInput{
		WorkflowID: wid,
		Question:   in.Question,
		Runs:       result.Runs,
	}).Get(ctx, &agg); err != nil {
		return result, fmt.Errorf("aggregate consensus: %w", err)
	}
	result.Report = agg.Report

	emitEvent(ctx, journal.Event{
		WorkflowID: wid,
		Type:       journal.EventConsensusJoined,
		Message:    fmt.Sprintf("%d/%d runs answered", answered, len(in.Backends)),
	})

	logger.Info("Consensus completed",
		"runs", len(result.Runs),
		"pairs", len(result.Report.Pairwise),
	)
	return result, nil
}

package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/metrics"
)

// RecordRun persists the final state of a pipeline run and its red flags.
// A nil store makes this a no-op; persistence is observability, not part of
// the pipeline's result.
func (a *Activities) RecordRun(ctx context.Context, in RecordRunInput) error {
	duration := 0.0
	if in.Run.CompletedAt != nil {
		duration = in.Run.CompletedAt.Sub(in.Run.StartedAt).Seconds()
	}
	metrics.RecordPipeline(in.Run.BackendID, in.Run.Status, duration)
	unresolvedCritical := 0
	for _, f := range in.Flags {
		if f.Severity == "CRITICAL" && !f.Resolved {
			unresolvedCritical++
		}
	}
	if unresolvedCritical > 0 {
		metrics.UnresolvedCriticalFlags.Add(float64(unresolvedCritical))
	}

	if a.store == nil {
		return nil
	}
	if err := a.store.SaveRun(ctx, &in.Run); err != nil {
		a.logger.Error("failed to save run record",
			zap.String("workflow_id", in.Run.WorkflowID),
			zap.Error(err),
		)
		return err
	}
	if len(in.Flags) > 0 {
		if err := a.store.SaveRedFlags(ctx, in.Run.WorkflowID, in.Flags); err != nil {
			a.logger.Error("failed to save red flags",
				zap.String("workflow_id", in.Run.WorkflowID),
				zap.Error(err),
			)
			return err
		}
	}
	return nil
}

package activities

import (
	"context"

	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/consensus"
	"github.com/colloquylab/colloquy/internal/metrics"
)

// AggregateConsensus joins the surviving runs into an agreement report.
// The join itself is pure; running it as an activity keeps the scoring and
// its metrics out of workflow replay.
func (a *Activities) AggregateConsensus(ctx context.Context, in AggregateInput) (AggregateResult, error) {
	report := consensus.Aggregate(in.Question, in.Runs)

	for _, run := range in.Runs {
		status := "ok"
		if run.Partial {
			status = "partial"
		}
		metrics.ConsensusRuns.WithLabelValues(run.BackendID, status).Inc()
	}
	for _, p := range report.Pairwise {
		metrics.ConsensusAgreement.Observe(p.Score)
	}

	a.logger.Info("consensus aggregated",
		zap.String("workflow_id", in.WorkflowID),
		zap.Int("runs", len(in.Runs)),
		zap.Int("pairs", len(report.Pairwise)),
		zap.Int("disagreements", len(report.PointsOfDisagreement)),
	)
	return AggregateResult{Report: report}, nil
}

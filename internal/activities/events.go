package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/colloquylab/colloquy/internal/journal"
	"github.com/colloquylab/colloquy/internal/metrics"
)

// EmitEvent publishes a pipeline progress event to live subscribers and,
// when configured, to the durable Redis journal. Journal failures are
// logged and swallowed; progress reporting never fails a pipeline.
func (a *Activities) EmitEvent(ctx context.Context, evt journal.Event) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	a.events.Publish(evt)

	// Progress events double as the counting point for per-unit metrics;
	// activities run once per unit while workflow code replays.
	switch evt.Type {
	case journal.EventSubtaskCompleted:
		metrics.SubtasksExecuted.WithLabelValues("ok").Inc()
	case journal.EventSubtaskDegraded:
		metrics.SubtasksExecuted.WithLabelValues("degraded").Inc()
	case journal.EventDialogueTurn:
		metrics.DialogueTurns.Inc()
	}

	if a.durable != nil {
		if err := a.durable.Append(ctx, evt); err != nil {
			a.logger.Warn("durable journal append failed",
				zap.String("workflow_id", evt.WorkflowID),
				zap.String("type", evt.Type),
				zap.Error(err),
			)
		}
	}
	return nil
}

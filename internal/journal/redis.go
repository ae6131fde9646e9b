package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	streamPrefix     = "colloquy:events:"
	defaultMaxLen    = 1000
	defaultStreamTTL = 24 * time.Hour
)

// RedisWriter appends run events to a capped Redis stream per workflow id.
// Writes are best-effort observability; callers never fail a pipeline on a
// journal error.
type RedisWriter struct {
	client *redis.Client
	maxLen int64
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisWriter builds a writer over an existing client.
func NewRedisWriter(client *redis.Client, logger *zap.Logger) *RedisWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWriter{
		client: client,
		maxLen: defaultMaxLen,
		ttl:    defaultStreamTTL,
		logger: logger,
	}
}

func streamKey(workflowID string) string {
	return streamPrefix + workflowID
}

// Append writes one event to the workflow's stream, trimming to the cap.
func (w *RedisWriter) Append(ctx context.Context, evt Event) error {
	key := streamKey(evt.WorkflowID)
	values := map[string]interface{}{
		"type":    evt.Type,
		"payload": string(evt.Marshal()),
	}
	if err := w.client.XAdd(ctx, &redis.XAddArgs{
		Stream: key,
		MaxLen: w.maxLen,
		Approx: true,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("append journal event: %w", err)
	}
	// Refresh expiry so finished runs age out.
	if err := w.client.Expire(ctx, key, w.ttl).Err(); err != nil {
		w.logger.Warn("failed to set journal TTL",
			zap.String("workflow_id", evt.WorkflowID),
			zap.Error(err),
		)
	}
	return nil
}

// Read returns up to count journaled events for a workflow in append order.
func (w *RedisWriter) Read(ctx context.Context, workflowID string, count int64) ([]Event, error) {
	msgs, err := w.client.XRangeN(ctx, streamKey(workflowID), "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	out := make([]Event, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		var evt Event
		if err := unmarshalEvent([]byte(payload), &evt); err != nil {
			w.logger.Warn("skipping undecodable journal entry",
				zap.String("workflow_id", workflowID),
				zap.String("stream_id", msg.ID),
			)
			continue
		}
		out = append(out, evt)
	}
	return out, nil
}

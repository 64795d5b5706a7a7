package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskmesh.route/internal/core/domain"
	"taskmesh.route/internal/core/ports"
)

const (
	deadLetterKey        = "taskmesh:escalation:failed"
	deadLetterMetaPrefix = "taskmesh:escalation:failed:meta:"
)

// DeadLetterLog records tasks whose cloud escalation failed, newest first,
// for operator review.
type DeadLetterLog struct {
	client *redis.Client
}

func NewDeadLetterLog(client *redis.Client) *DeadLetterLog {
	return &DeadLetterLog{client: client}
}

var _ ports.EscalationLog = (*DeadLetterLog)(nil)

func (l *DeadLetterLog) Record(ctx context.Context, task *domain.Task, reason string) error {
	entry := ports.FailedEscalation{
		Task:        task,
		Reason:      reason,
		FailureTime: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead-letter entry: %w", err)
	}
	if err := l.client.ZAdd(ctx, deadLetterKey, redis.Z{
		Score:  float64(entry.FailureTime.Unix()),
		Member: task.ID,
	}).Err(); err != nil {
		return fmt.Errorf("add to dead-letter set: %w", err)
	}
	if err := l.client.Set(ctx, deadLetterMetaPrefix+task.ID, data, 0).Err(); err != nil {
		return fmt.Errorf("store dead-letter metadata: %w", err)
	}
	return nil
}

func (l *DeadLetterLog) List(ctx context.Context, offset, limit int64) ([]ports.FailedEscalation, error) {
	taskIDs, err := l.client.ZRevRange(ctx, deadLetterKey, offset, offset+limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	entries := make([]ports.FailedEscalation, 0, len(taskIDs))
	for _, taskID := range taskIDs {
		data, err := l.client.Get(ctx, deadLetterMetaPrefix+taskID).Bytes()
		if err != nil {
			// Metadata may lag the index; skip the orphan.
			continue
		}
		var entry ports.FailedEscalation
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *DeadLetterLog) Count(ctx context.Context) (int64, error) {
	count, err := l.client.ZCard(ctx, deadLetterKey).Result()
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return count, nil
}

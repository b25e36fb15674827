package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// AppliedActionsChannel is the pub/sub channel carrying committed side effects
const AppliedActionsChannel = "ai_actions.applied"

// Committer applies the side effect of a successful, non-gated action
type Committer interface {
	Commit(ctx context.Context, action models.ActionType, ec ExecutionContext, out *ExecutorOutput) error
}

// Publisher is the subset of the Redis client used by RedisCommitter
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// AppliedAction is the message published for every committed action
type AppliedAction struct {
	TenantID   string            `json:"tenant_id"`
	Action     models.ActionType `json:"action"`
	EntityType models.EntityType `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Confidence float64           `json:"confidence"`
	Payload    models.JSONB      `json:"payload,omitempty"`
	AppliedAt  time.Time         `json:"applied_at"`
}

// RedisCommitter hands side effects to CRM consumers over Redis pub/sub
type RedisCommitter struct {
	publisher Publisher
	channel   string
}

// NewRedisCommitter creates a committer publishing on AppliedActionsChannel
func NewRedisCommitter(publisher Publisher) *RedisCommitter {
	return &RedisCommitter{publisher: publisher, channel: AppliedActionsChannel}
}

// Commit publishes the applied action
func (c *RedisCommitter) Commit(ctx context.Context, action models.ActionType, ec ExecutionContext, out *ExecutorOutput) error {
	msg, err := json.Marshal(AppliedAction{
		TenantID:   ec.TenantID,
		Action:     action,
		EntityType: ec.EntityType,
		EntityID:   ec.EntityID,
		Confidence: out.Confidence,
		Payload:    out.Payload,
		AppliedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode applied action: %w", err)
	}
	if err := c.publisher.Publish(ctx, c.channel, msg); err != nil {
		return fmt.Errorf("failed to publish applied action: %w", err)
	}
	return nil
}

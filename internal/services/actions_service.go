package services

import (
	"context"
	"fmt"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

const deadLetterAuditTimeout = 5 * time.Second

// ActionsService ties the queue to the execution engine
type ActionsService struct {
	engine *engine.ExecutionEngine
	queue  *QueueService
	logger *logger.Logger
}

// NewActionsService creates an ActionsService
func NewActionsService(eng *engine.ExecutionEngine, queue *QueueService, log *logger.Logger) *ActionsService {
	return &ActionsService{
		engine: eng,
		queue:  queue,
		logger: log.Named("actions"),
	}
}

// Attach installs Process as the queue's processor and audits dead-lettered items.
// The returned func detaches the audit listener.
func (s *ActionsService) Attach() func() {
	s.queue.SetProcessor(s.Process)
	return s.queue.Subscribe(s.auditDeadLetter)
}

// QueueAction validates params and enqueues the action for background execution
func (s *ActionsService) QueueAction(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error) {
	if res := s.engine.ValidateAIActionParams(req.Action, req.Params); !res.Valid {
		return nil, &engine.ValidationError{Action: string(req.Action), Errors: res.Errors}
	}
	return s.queue.Enqueue(ctx, req)
}

// ExecuteNow runs the action immediately, bypassing the queue
func (s *ActionsService) ExecuteNow(ctx context.Context, action models.ActionType, ec engine.ExecutionContext, params models.JSONB) (*engine.ActionResult, error) {
	return s.engine.ExecuteAIAction(ctx, action, ec, params)
}

// Process executes a claimed queue item. A gated result counts as processed: the decision
// now belongs to the approval flow.
func (s *ActionsService) Process(ctx context.Context, item models.QueueItem) (bool, error) {
	itemID := item.ID
	ec := engine.ExecutionContext{
		TenantID:    item.TenantID,
		EntityType:  item.EntityType,
		EntityID:    item.EntityID,
		UserID:      item.UserID,
		WorkflowID:  item.WorkflowID,
		QueueItemID: &itemID,
	}

	result, err := s.engine.ExecuteAIAction(ctx, item.Action, ec, item.Params)
	if err != nil {
		return false, err
	}

	switch result.Status {
	case engine.ActionStatusSucceeded, engine.ActionStatusPendingApproval:
		return true, nil
	}
	if result.Err != nil {
		return false, result.Err
	}
	return false, fmt.Errorf("%w: action ended with status %s", engine.ErrExecutorFailure, result.Status)
}

func (s *ActionsService) auditDeadLetter(event models.QueueEvent) {
	if event.Type != models.QueueEventDeadLettered {
		return
	}

	item := event.Item
	reason := event.Error
	if reason == "" && item.Error != nil {
		reason = *item.Error
	}
	itemID := item.ID

	entry := &models.AuditEntry{
		TenantID:   item.TenantID,
		Action:     item.Action,
		EntityType: item.EntityType,
		EntityID:   item.EntityID,
		Outcome:    models.AuditOutcomeDeadLettered,
		Result:     fmt.Sprintf("dead-lettered after %d attempts: %s", item.Attempts, reason),
		Details: models.JSONB{
			"attempts":     item.Attempts,
			"max_attempts": item.MaxAttempts,
			"priority":     string(item.Priority),
		},
		Actor:       models.ActorSystem,
		QueueItemID: &itemID,
		WorkflowID:  item.WorkflowID,
	}
	if item.ScheduledActionID != nil {
		entry.Details["scheduled_action_id"] = *item.ScheduledActionID
	}

	ctx, cancel := context.WithTimeout(context.Background(), deadLetterAuditTimeout)
	defer cancel()
	if err := s.engine.LogAIWorkflowAction(ctx, entry); err != nil {
		s.logger.Error("Failed to audit dead-lettered item",
			logger.String("item_id", item.ID),
			logger.Err(err),
		)
	}
}

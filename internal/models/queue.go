package models

import (
	"sort"
	"time"
)

// QueueItemStatus is the lifecycle state of a queue item
type QueueItemStatus string

const (
	QueueItemStatusPending      QueueItemStatus = "pending"
	QueueItemStatusProcessing   QueueItemStatus = "processing"
	QueueItemStatusCompleted    QueueItemStatus = "completed"
	QueueItemStatusFailed       QueueItemStatus = "failed"
	QueueItemStatusDeadLettered QueueItemStatus = "dead_lettered"
)

// IsTerminal reports whether the item has left the pipeline
func (s QueueItemStatus) IsTerminal() bool {
	return s == QueueItemStatusCompleted || s == QueueItemStatusDeadLettered
}

// QueueItem is an action request waiting for, or going through, execution
type QueueItem struct {
	ID                  string          `json:"id" db:"id"`
	ScheduledActionID   *string         `json:"scheduled_action_id,omitempty" db:"scheduled_action_id"`
	Action              ActionType      `json:"action" db:"action"`
	EntityType          EntityType      `json:"entity_type" db:"entity_type"`
	EntityID            string          `json:"entity_id" db:"entity_id"`
	TenantID            string          `json:"tenant_id" db:"tenant_id"`
	UserID              *string         `json:"user_id,omitempty" db:"user_id"`
	WorkflowID          *string         `json:"workflow_id,omitempty" db:"workflow_id"`
	Params              JSONB           `json:"params" db:"params"`
	Priority            Priority        `json:"priority" db:"priority"`
	Status              QueueItemStatus `json:"status" db:"status"`
	Attempts            int             `json:"attempts" db:"attempts"`
	MaxAttempts         int             `json:"max_attempts" db:"max_attempts"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at" db:"updated_at"`
	AvailableAt         time.Time       `json:"available_at" db:"available_at"`
	LastAttemptAt       *time.Time      `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
	ProcessingStartedAt *time.Time      `json:"processing_started_at,omitempty" db:"processing_started_at"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ClaimID             *string         `json:"-" db:"claim_id"`
	Error               *string         `json:"error,omitempty" db:"error"`
}

// Clone returns a deep copy safe to hand across component boundaries
func (q *QueueItem) Clone() *QueueItem {
	out := *q
	out.Params = q.Params.Clone()
	out.ScheduledActionID = cloneString(q.ScheduledActionID)
	out.UserID = cloneString(q.UserID)
	out.WorkflowID = cloneString(q.WorkflowID)
	out.LastAttemptAt = cloneTime(q.LastAttemptAt)
	out.ProcessingStartedAt = cloneTime(q.ProcessingStartedAt)
	out.CompletedAt = cloneTime(q.CompletedAt)
	out.ClaimID = cloneString(q.ClaimID)
	out.Error = cloneString(q.Error)
	return &out
}

// Before reports whether q is dequeued ahead of other: higher priority first, then oldest
func (q *QueueItem) Before(other *QueueItem) bool {
	if q.Priority.Rank() != other.Priority.Rank() {
		return q.Priority.Rank() > other.Priority.Rank()
	}
	if !q.CreatedAt.Equal(other.CreatedAt) {
		return q.CreatedAt.Before(other.CreatedAt)
	}
	return q.ID < other.ID
}

// SortByDequeueOrder sorts items in the order they would be dequeued
func SortByDequeueOrder(items []*QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Before(items[j])
	})
}

// EnqueueRequest is the input for adding an item to the queue
type EnqueueRequest struct {
	ID                string     `json:"id,omitempty"`
	ScheduledActionID *string    `json:"scheduled_action_id,omitempty"`
	Action            ActionType `json:"action" validate:"required"`
	EntityType        EntityType `json:"entity_type" validate:"required,oneof=lead opportunity customer"`
	EntityID          string     `json:"entity_id" validate:"required"`
	TenantID          string     `json:"tenant_id" validate:"required"`
	UserID            *string    `json:"user_id,omitempty"`
	WorkflowID        *string    `json:"workflow_id,omitempty"`
	Params            JSONB      `json:"params,omitempty"`
	Priority          Priority   `json:"priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	MaxAttempts       int        `json:"max_attempts,omitempty" validate:"gte=0"`
}

// QueueFilter narrows queue repository listings
type QueueFilter struct {
	TenantID      *string
	Statuses      []QueueItemStatus
	EntityType    *EntityType
	EntityID      *string
	UpdatedBefore *time.Time
	StartedBefore *time.Time
	Limit         int
}

// Matches reports whether q passes the filter
func (f QueueFilter) Matches(q *QueueItem) bool {
	if f.TenantID != nil && q.TenantID != *f.TenantID {
		return false
	}
	if f.EntityType != nil && q.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && q.EntityID != *f.EntityID {
		return false
	}
	if f.UpdatedBefore != nil && !q.UpdatedAt.Before(*f.UpdatedBefore) {
		return false
	}
	if f.StartedBefore != nil && (q.ProcessingStartedAt == nil || !q.ProcessingStartedAt.Before(*f.StartedBefore)) {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if q.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

// QueueStats is a snapshot of queue depth and throughput
type QueueStats struct {
	PendingCount        int            `json:"pending_count"`
	ProcessingCount     int            `json:"processing_count"`
	CompletedCount      int            `json:"completed_count"`
	FailedCount         int            `json:"failed_count"`
	DLQCount            int            `json:"dlq_count"`
	ByPriority          map[string]int `json:"by_priority"`
	TotalEnqueued       int64          `json:"total_enqueued"`
	TotalProcessed      int64          `json:"total_processed"`
	TotalSucceeded      int64          `json:"total_succeeded"`
	TotalFailed         int64          `json:"total_failed"`
	TotalDeadLettered   int64          `json:"total_dead_lettered"`
	ThroughputPerMinute float64        `json:"throughput_per_minute"`
	AvgProcessingMs     float64        `json:"avg_processing_ms"`
	InFlight            int            `json:"in_flight"`
}

// QueueEventType names a queue item transition
type QueueEventType string

const (
	QueueEventEnqueued      QueueEventType = "enqueued"
	QueueEventProcessing    QueueEventType = "processing"
	QueueEventCompleted     QueueEventType = "completed"
	QueueEventFailed        QueueEventType = "failed"
	QueueEventRetrying      QueueEventType = "retrying"
	QueueEventDeadLettered  QueueEventType = "dead_lettered"
	QueueEventRequeued      QueueEventType = "requeued"
	QueueEventReprioritized QueueEventType = "reprioritized"
	QueueEventCancelled     QueueEventType = "cancelled"
	QueueEventReclaimed     QueueEventType = "reclaimed"
	QueueEventCleared       QueueEventType = "cleared"
)

// QueueEvent is delivered to queue subscribers
type QueueEvent struct {
	Type      QueueEventType `json:"type"`
	Item      QueueItem      `json:"item"`
	Timestamp time.Time      `json:"timestamp"`
	Error     string         `json:"error,omitempty"`
}

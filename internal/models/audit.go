package models

import "time"

// AuditOutcome classifies how an execution attempt ended
type AuditOutcome string

const (
	AuditOutcomeSucceeded        AuditOutcome = "succeeded"
	AuditOutcomeValidationFailed AuditOutcome = "validation_failed"
	AuditOutcomePendingApproval  AuditOutcome = "pending_approval"
	AuditOutcomeFailed           AuditOutcome = "failed"
	AuditOutcomeDeadLettered     AuditOutcome = "dead_lettered"
)

// AuditEntry is an append-only record of an executed or rejected action
type AuditEntry struct {
	ID               string       `json:"id" db:"id"`
	TenantID         string       `json:"tenant_id" db:"tenant_id"`
	Action           ActionType   `json:"action" db:"action"`
	EntityType       EntityType   `json:"entity_type" db:"entity_type"`
	EntityID         string       `json:"entity_id" db:"entity_id"`
	Confidence       *float64     `json:"confidence,omitempty" db:"confidence"`
	RequiresApproval bool         `json:"requires_approval" db:"requires_approval"`
	Approved         *bool        `json:"approved,omitempty" db:"approved"`
	Outcome          AuditOutcome `json:"outcome" db:"outcome"`
	Result           string       `json:"result" db:"result"`
	Details          JSONB        `json:"details,omitempty" db:"details"`
	Actor            string       `json:"actor" db:"actor"`
	QueueItemID      *string      `json:"queue_item_id,omitempty" db:"queue_item_id"`
	WorkflowID       *string      `json:"workflow_id,omitempty" db:"workflow_id"`
	Timestamp        time.Time    `json:"timestamp" db:"timestamp"`
}

// AuditFilter narrows audit log queries within a tenant
type AuditFilter struct {
	Action     *ActionType   `json:"action,omitempty"`
	EntityType *EntityType   `json:"entity_type,omitempty"`
	EntityID   *string       `json:"entity_id,omitempty"`
	Outcome    *AuditOutcome `json:"outcome,omitempty"`
	Actor      *string       `json:"actor,omitempty"`
	Since      *time.Time    `json:"since,omitempty"`
	Until      *time.Time    `json:"until,omitempty"`
	Limit      int           `json:"limit,omitempty"`
	Offset     int           `json:"offset,omitempty"`
}

// Matches reports whether e passes the filter. Limit and offset are applied by the caller.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if f.Action != nil && e.Action != *f.Action {
		return false
	}
	if f.EntityType != nil && e.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && e.EntityID != *f.EntityID {
		return false
	}
	if f.Outcome != nil && e.Outcome != *f.Outcome {
		return false
	}
	if f.Actor != nil && e.Actor != *f.Actor {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && e.Timestamp.After(*f.Until) {
		return false
	}
	return true
}

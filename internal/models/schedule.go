package models

import (
	"time"
)

// ScheduleStatus is the lifecycle state of a scheduled action
type ScheduleStatus string

const (
	ScheduleStatusActive    ScheduleStatus = "active"
	ScheduleStatusPaused    ScheduleStatus = "paused"
	ScheduleStatusCancelled ScheduleStatus = "cancelled"
	ScheduleStatusCompleted ScheduleStatus = "completed"
)

// IsTerminal reports whether no further transitions are possible
func (s ScheduleStatus) IsTerminal() bool {
	return s == ScheduleStatusCancelled || s == ScheduleStatusCompleted
}

// RecurrenceType selects how the next run of a recurring action is computed
type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
	RecurrenceCron    RecurrenceType = "cron"
)

// RecurringPattern describes when a recurring action fires
type RecurringPattern struct {
	Type           RecurrenceType `json:"type"`
	Interval       int            `json:"interval,omitempty"`
	DaysOfWeek     []int          `json:"days_of_week,omitempty"`
	DayOfMonth     int            `json:"day_of_month,omitempty"`
	CronExpression string         `json:"cron_expression,omitempty"`
}

// Clone returns a deep copy of the pattern
func (p *RecurringPattern) Clone() *RecurringPattern {
	if p == nil {
		return nil
	}
	out := *p
	if p.DaysOfWeek != nil {
		out.DaysOfWeek = append([]int(nil), p.DaysOfWeek...)
	}
	return &out
}

// ScheduledAction is a one-shot or recurring automated action against a CRM entity
type ScheduledAction struct {
	ID               string            `json:"id" db:"id"`
	TenantID         string            `json:"tenant_id" db:"tenant_id"`
	EntityType       EntityType        `json:"entity_type" db:"entity_type"`
	EntityID         string            `json:"entity_id" db:"entity_id"`
	UserID           *string           `json:"user_id,omitempty" db:"user_id"`
	WorkflowID       *string           `json:"workflow_id,omitempty" db:"workflow_id"`
	Action           ActionType        `json:"action" db:"action"`
	Params           JSONB             `json:"params" db:"params"`
	Priority         Priority          `json:"priority" db:"priority"`
	ScheduledAt      *time.Time        `json:"scheduled_at,omitempty" db:"scheduled_at"`
	RecurringPattern *RecurringPattern `json:"recurring_pattern,omitempty" db:"recurring_pattern"`
	Status           ScheduleStatus    `json:"status" db:"status"`
	ExecutionCount   int               `json:"execution_count" db:"execution_count"`
	MaxExecutions    *int              `json:"max_executions,omitempty" db:"max_executions"`
	LastExecutedAt   *time.Time        `json:"last_executed_at,omitempty" db:"last_executed_at"`
	NextRunAt        *time.Time        `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at" db:"updated_at"`
}

// IsRecurring reports whether the action has a recurring pattern
func (a *ScheduledAction) IsRecurring() bool {
	return a.RecurringPattern != nil
}

// Clone returns a deep copy safe to hand across component boundaries
func (a *ScheduledAction) Clone() *ScheduledAction {
	out := *a
	out.Params = a.Params.Clone()
	out.RecurringPattern = a.RecurringPattern.Clone()
	out.UserID = cloneString(a.UserID)
	out.WorkflowID = cloneString(a.WorkflowID)
	out.ScheduledAt = cloneTime(a.ScheduledAt)
	out.LastExecutedAt = cloneTime(a.LastExecutedAt)
	out.NextRunAt = cloneTime(a.NextRunAt)
	if a.MaxExecutions != nil {
		n := *a.MaxExecutions
		out.MaxExecutions = &n
	}
	return &out
}

// Timing is the mutually exclusive pair of one-shot and recurring timing fields.
// Patterns are checked by the scheduler, not by struct tags.
type Timing struct {
	ScheduledAt      *time.Time        `json:"scheduled_at,omitempty"`
	RecurringPattern *RecurringPattern `json:"recurring_pattern,omitempty" validate:"-"`
}

// ScheduleRequest is the input for scheduling a new action
type ScheduleRequest struct {
	TenantID      string     `json:"tenant_id" validate:"required"`
	EntityType    EntityType `json:"entity_type" validate:"required,oneof=lead opportunity customer"`
	EntityID      string     `json:"entity_id" validate:"required"`
	UserID        *string    `json:"user_id,omitempty"`
	WorkflowID    *string    `json:"workflow_id,omitempty"`
	Action        ActionType `json:"action" validate:"required"`
	Params        JSONB      `json:"params,omitempty"`
	Priority      Priority   `json:"priority,omitempty" validate:"omitempty,oneof=low normal high critical"`
	MaxExecutions *int       `json:"max_executions,omitempty" validate:"omitempty,gt=0"`
	Timing
}

// ScheduledActionFilter narrows GetScheduledActions results
type ScheduledActionFilter struct {
	Status     *ScheduleStatus `json:"status,omitempty"`
	Action     *ActionType     `json:"action,omitempty"`
	EntityType *EntityType     `json:"entity_type,omitempty"`
	EntityID   *string         `json:"entity_id,omitempty"`
}

// Matches reports whether a passes the filter
func (f ScheduledActionFilter) Matches(a *ScheduledAction) bool {
	if f.Status != nil && a.Status != *f.Status {
		return false
	}
	if f.Action != nil && a.Action != *f.Action {
		return false
	}
	if f.EntityType != nil && a.EntityType != *f.EntityType {
		return false
	}
	if f.EntityID != nil && a.EntityID != *f.EntityID {
		return false
	}
	return true
}

// SchedulerStats is a snapshot of the scheduler catalog and tick activity
type SchedulerStats struct {
	TotalScheduled int        `json:"total_scheduled"`
	ActiveCount    int        `json:"active_count"`
	PausedCount    int        `json:"paused_count"`
	CancelledCount int        `json:"cancelled_count"`
	CompletedCount int        `json:"completed_count"`
	RecurringCount int        `json:"recurring_count"`
	OneShotCount   int        `json:"one_shot_count"`
	TotalFired     int64      `json:"total_fired"`
	SkippedTicks   int64      `json:"skipped_ticks"`
	IsRunning      bool       `json:"is_running"`
	LastTickAt     *time.Time `json:"last_tick_at,omitempty"`
	NextDueAt      *time.Time `json:"next_due_at,omitempty"`
}

// SchedulerEventType names a scheduled action transition
type SchedulerEventType string

const (
	SchedulerEventScheduled   SchedulerEventType = "scheduled"
	SchedulerEventPaused      SchedulerEventType = "paused"
	SchedulerEventResumed     SchedulerEventType = "resumed"
	SchedulerEventCancelled   SchedulerEventType = "cancelled"
	SchedulerEventRescheduled SchedulerEventType = "rescheduled"
	SchedulerEventFired       SchedulerEventType = "fired"
	SchedulerEventCompleted   SchedulerEventType = "completed"
	SchedulerEventFailed      SchedulerEventType = "failed"
)

// SchedulerEvent is delivered to scheduler subscribers
type SchedulerEvent struct {
	Type      SchedulerEventType `json:"type"`
	Action    ScheduledAction    `json:"action"`
	Timestamp time.Time          `json:"timestamp"`
	Error     string             `json:"error,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

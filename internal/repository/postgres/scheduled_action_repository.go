package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
)

const scheduledActionColumns = `id, tenant_id, entity_type, entity_id, user_id, workflow_id, action, params,
	priority, scheduled_at, recurring_pattern, status, execution_count, max_executions,
	last_executed_at, next_run_at, created_at, updated_at`

// ScheduledActionRepository stores scheduled actions in the scheduled_actions table
type ScheduledActionRepository struct {
	db *database.PostgresDB
}

// NewScheduledActionRepository creates a new scheduled action repository
func NewScheduledActionRepository(db *database.PostgresDB) *ScheduledActionRepository {
	return &ScheduledActionRepository{db: db}
}

func patternValue(p *models.RecurringPattern) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

func scanScheduledAction(row rowScanner) (*models.ScheduledAction, error) {
	a := &models.ScheduledAction{}
	var pattern []byte
	err := row.Scan(
		&a.ID, &a.TenantID, &a.EntityType, &a.EntityID, &a.UserID, &a.WorkflowID, &a.Action,
		&a.Params, &a.Priority, &a.ScheduledAt, &pattern, &a.Status, &a.ExecutionCount,
		&a.MaxExecutions, &a.LastExecutedAt, &a.NextRunAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pattern != nil {
		a.RecurringPattern = &models.RecurringPattern{}
		if err := json.Unmarshal(pattern, a.RecurringPattern); err != nil {
			return nil, fmt.Errorf("failed to decode recurring pattern: %w", err)
		}
	}
	return a, nil
}

// Create creates a new scheduled action
func (r *ScheduledActionRepository) Create(ctx context.Context, action *models.ScheduledAction) error {
	pattern, err := patternValue(action.RecurringPattern)
	if err != nil {
		return fmt.Errorf("failed to encode recurring pattern: %w", err)
	}

	query := `
		INSERT INTO scheduled_actions (` + scheduledActionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err = r.db.ExecContext(ctx, query,
		action.ID, action.TenantID, action.EntityType, action.EntityID, action.UserID,
		action.WorkflowID, action.Action, action.Params, action.Priority, action.ScheduledAt,
		pattern, action.Status, action.ExecutionCount, action.MaxExecutions,
		action.LastExecutedAt, action.NextRunAt, action.CreatedAt, action.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduled action: %w", err)
	}
	return nil
}

// Get retrieves a scheduled action by ID
func (r *ScheduledActionRepository) Get(ctx context.Context, id string) (*models.ScheduledAction, error) {
	query := `SELECT ` + scheduledActionColumns + ` FROM scheduled_actions WHERE id = $1`

	action, err := scanScheduledAction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scheduled action %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scheduled action: %w", err)
	}
	return action, nil
}

// Update writes action while the stored row is still in status expected
func (r *ScheduledActionRepository) Update(ctx context.Context, action *models.ScheduledAction, expected models.ScheduleStatus) error {
	pattern, err := patternValue(action.RecurringPattern)
	if err != nil {
		return fmt.Errorf("failed to encode recurring pattern: %w", err)
	}

	query := `
		UPDATE scheduled_actions
		SET params = $2, priority = $3, scheduled_at = $4, recurring_pattern = $5, status = $6,
		    execution_count = $7, max_executions = $8, last_executed_at = $9, next_run_at = $10,
		    updated_at = $11
		WHERE id = $1 AND status = $12`

	result, err := r.db.ExecContext(ctx, query,
		action.ID, action.Params, action.Priority, action.ScheduledAt, pattern, action.Status,
		action.ExecutionCount, action.MaxExecutions, action.LastExecutedAt, action.NextRunAt,
		action.UpdatedAt, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to update scheduled action: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	if _, err := r.Get(ctx, action.ID); err != nil {
		return err
	}
	return fmt.Errorf("scheduled action %s is not %s: %w", action.ID, expected, models.ErrInvalidTransition)
}

// List returns a tenant's matching actions, oldest first. An empty tenantID matches every tenant.
func (r *ScheduledActionRepository) List(ctx context.Context, tenantID string, filter models.ScheduledActionFilter) ([]*models.ScheduledAction, error) {
	clauses := []string{"TRUE"}
	args := []interface{}{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if tenantID != "" {
		add("tenant_id = $%d", tenantID)
	}
	if filter.Status != nil {
		add("status = $%d", *filter.Status)
	}
	if filter.Action != nil {
		add("action = $%d", *filter.Action)
	}
	if filter.EntityType != nil {
		add("entity_type = $%d", *filter.EntityType)
	}
	if filter.EntityID != nil {
		add("entity_id = $%d", *filter.EntityID)
	}

	query := `SELECT ` + scheduledActionColumns + ` FROM scheduled_actions WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled actions: %w", err)
	}
	defer rows.Close()

	return collectScheduledActions(rows)
}

// ListDue returns active actions due at or before now, earliest first
func (r *ScheduledActionRepository) ListDue(ctx context.Context, now time.Time) ([]*models.ScheduledAction, error) {
	query := `
		SELECT ` + scheduledActionColumns + `
		FROM scheduled_actions
		WHERE status = 'active'
		  AND next_run_at IS NOT NULL
		  AND next_run_at <= $1
		ORDER BY next_run_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due scheduled actions: %w", err)
	}
	defer rows.Close()

	return collectScheduledActions(rows)
}

func collectScheduledActions(rows *sql.Rows) ([]*models.ScheduledAction, error) {
	actions := []*models.ScheduledAction{}
	for rows.Next() {
		action, err := scanScheduledAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scheduled action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate scheduled actions: %w", err)
	}
	return actions, nil
}

// Stats counts actions per status and kind
func (r *ScheduledActionRepository) Stats(ctx context.Context) (*models.SchedulerStats, error) {
	query := `
		SELECT status, recurring_pattern IS NOT NULL, COUNT(*), MIN(next_run_at)
		FROM scheduled_actions
		GROUP BY status, recurring_pattern IS NOT NULL`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduler stats: %w", err)
	}
	defer rows.Close()

	stats := &models.SchedulerStats{}
	for rows.Next() {
		var status models.ScheduleStatus
		var recurring bool
		var count int
		var nextRun sql.NullTime
		if err := rows.Scan(&status, &recurring, &count, &nextRun); err != nil {
			return nil, fmt.Errorf("failed to scan scheduler stats: %w", err)
		}

		stats.TotalScheduled += count
		if recurring {
			stats.RecurringCount += count
		} else {
			stats.OneShotCount += count
		}

		switch status {
		case models.ScheduleStatusActive:
			stats.ActiveCount += count
			if nextRun.Valid && (stats.NextDueAt == nil || nextRun.Time.Before(*stats.NextDueAt)) {
				t := nextRun.Time
				stats.NextDueAt = &t
			}
		case models.ScheduleStatusPaused:
			stats.PausedCount += count
		case models.ScheduleStatusCancelled:
			stats.CancelledCount += count
		case models.ScheduleStatusCompleted:
			stats.CompletedCount += count
		}
	}
	return stats, rows.Err()
}

// DeleteTerminalBefore removes cancelled and completed actions updated before cutoff
func (r *ScheduledActionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM scheduled_actions
		WHERE status IN ('cancelled', 'completed') AND updated_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete scheduled actions: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

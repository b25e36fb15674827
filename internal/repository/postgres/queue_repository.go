package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
)

const queueColumns = `id, scheduled_action_id, action, entity_type, entity_id, tenant_id, user_id, workflow_id,
	params, priority, status, attempts, max_attempts, created_at, updated_at, available_at,
	last_attempt_at, processing_started_at, completed_at, claim_id, error`

// QueueRepository stores queue items in the queue_items table
type QueueRepository struct {
	db *database.PostgresDB
}

// NewQueueRepository creates a new queue repository
func NewQueueRepository(db *database.PostgresDB) *QueueRepository {
	return &QueueRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQueueItem(row rowScanner) (*models.QueueItem, error) {
	item := &models.QueueItem{}
	err := row.Scan(
		&item.ID, &item.ScheduledActionID, &item.Action, &item.EntityType, &item.EntityID,
		&item.TenantID, &item.UserID, &item.WorkflowID, &item.Params, &item.Priority,
		&item.Status, &item.Attempts, &item.MaxAttempts, &item.CreatedAt, &item.UpdatedAt,
		&item.AvailableAt, &item.LastAttemptAt, &item.ProcessingStartedAt, &item.CompletedAt,
		&item.ClaimID, &item.Error,
	)
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Insert creates a new queue item
func (r *QueueRepository) Insert(ctx context.Context, item *models.QueueItem) error {
	query := `
		INSERT INTO queue_items (` + queueColumns + `, priority_rank)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)`

	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.ScheduledActionID, item.Action, item.EntityType, item.EntityID,
		item.TenantID, item.UserID, item.WorkflowID, item.Params, item.Priority,
		item.Status, item.Attempts, item.MaxAttempts, item.CreatedAt, item.UpdatedAt,
		item.AvailableAt, item.LastAttemptAt, item.ProcessingStartedAt, item.CompletedAt,
		item.ClaimID, item.Error, item.Priority.Rank(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

// Get retrieves a queue item by ID
func (r *QueueRepository) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items WHERE id = $1`

	item, err := scanQueueItem(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("queue item %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return item, nil
}

const queueUpdateSet = `
	SET priority = $2, priority_rank = $3, status = $4, attempts = $5, max_attempts = $6,
	    updated_at = $7, available_at = $8, last_attempt_at = $9, processing_started_at = $10,
	    completed_at = $11, claim_id = $12, error = $13, params = $14`

func queueUpdateArgs(item *models.QueueItem) []interface{} {
	return []interface{}{
		item.ID, item.Priority, item.Priority.Rank(), item.Status, item.Attempts, item.MaxAttempts,
		item.UpdatedAt, item.AvailableAt, item.LastAttemptAt, item.ProcessingStartedAt,
		item.CompletedAt, item.ClaimID, item.Error, item.Params,
	}
}

// Update writes item while the stored row is still in status expected
func (r *QueueRepository) Update(ctx context.Context, item *models.QueueItem, expected models.QueueItemStatus) error {
	query := `UPDATE queue_items` + queueUpdateSet + ` WHERE id = $1 AND status = $15`

	result, err := r.db.ExecContext(ctx, query, append(queueUpdateArgs(item), expected)...)
	if err != nil {
		return fmt.Errorf("failed to update queue item: %w", err)
	}
	return r.checkGuarded(ctx, result, item.ID, models.ErrInvalidTransition)
}

// UpdateClaimed writes item while the stored row is processing under claimID
func (r *QueueRepository) UpdateClaimed(ctx context.Context, item *models.QueueItem, claimID string) error {
	query := `UPDATE queue_items` + queueUpdateSet + ` WHERE id = $1 AND status = 'processing' AND claim_id = $15`

	result, err := r.db.ExecContext(ctx, query, append(queueUpdateArgs(item), claimID)...)
	if err != nil {
		return fmt.Errorf("failed to update claimed queue item: %w", err)
	}
	return r.checkGuarded(ctx, result, item.ID, models.ErrStaleClaim)
}

// checkGuarded turns a zero-row guarded update into ErrNotFound or guardErr
func (r *QueueRepository) checkGuarded(ctx context.Context, result sql.Result, id string, guardErr error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM queue_items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check queue item: %w", err)
	}
	if !exists {
		return fmt.Errorf("queue item %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("queue item %s: %w", id, guardErr)
}

// ClaimNext moves the highest priority, oldest eligible item to processing.
// Concurrent callers skip rows locked by each other.
func (r *QueueRepository) ClaimNext(ctx context.Context, now time.Time, claimID string) (*models.QueueItem, error) {
	query := `
		UPDATE queue_items
		SET status = 'processing', claim_id = $2, processing_started_at = $1,
		    last_attempt_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM queue_items
			WHERE status = 'pending' AND available_at <= $1
			ORDER BY priority_rank DESC, created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns

	var claimed *models.QueueItem
	err := r.db.WithTx(ctx, func(tx *sql.Tx) error {
		item, err := scanQueueItem(tx.QueryRowContext(ctx, query, now, claimID))
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		claimed = item
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue item: %w", err)
	}
	return claimed, nil
}

// queueWhere builds a WHERE clause for filter, numbering placeholders from 1
func queueWhere(filter models.QueueFilter) (string, []interface{}) {
	clauses := []string{}
	args := []interface{}{}
	argPos := 1

	if filter.TenantID != nil {
		clauses = append(clauses, fmt.Sprintf("tenant_id = $%d", argPos))
		args = append(args, *filter.TenantID)
		argPos++
	}
	if filter.EntityType != nil {
		clauses = append(clauses, fmt.Sprintf("entity_type = $%d", argPos))
		args = append(args, *filter.EntityType)
		argPos++
	}
	if filter.EntityID != nil {
		clauses = append(clauses, fmt.Sprintf("entity_id = $%d", argPos))
		args = append(args, *filter.EntityID)
		argPos++
	}
	if filter.UpdatedBefore != nil {
		clauses = append(clauses, fmt.Sprintf("updated_at < $%d", argPos))
		args = append(args, *filter.UpdatedBefore)
		argPos++
	}
	if filter.StartedBefore != nil {
		clauses = append(clauses, fmt.Sprintf("processing_started_at < $%d", argPos))
		args = append(args, *filter.StartedBefore)
		argPos++
	}
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			placeholders[i] = fmt.Sprintf("$%d", argPos)
			args = append(args, s)
			argPos++
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// List returns matching items in dequeue order
func (r *QueueRepository) List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error) {
	where, args := queueWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM queue_items %s ORDER BY priority_rank DESC, created_at ASC, id ASC`, queueColumns, where)
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue items: %w", err)
	}
	defer rows.Close()

	return collectQueueItems(rows)
}

// DeleteWhere removes matching items and returns them in dequeue order
func (r *QueueRepository) DeleteWhere(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error) {
	where, args := queueWhere(filter)
	query := fmt.Sprintf(`DELETE FROM queue_items %s RETURNING %s`, where, queueColumns)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to delete queue items: %w", err)
	}
	defer rows.Close()

	items, err := collectQueueItems(rows)
	if err != nil {
		return nil, err
	}
	models.SortByDequeueOrder(items)
	return items, nil
}

func collectQueueItems(rows *sql.Rows) ([]*models.QueueItem, error) {
	items := []*models.QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue items: %w", err)
	}
	return items, nil
}

// Stats counts items per status and pending items per priority
func (r *QueueRepository) Stats(ctx context.Context) (*models.QueueStats, error) {
	query := `SELECT status, priority, COUNT(*) FROM queue_items GROUP BY status, priority`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	defer rows.Close()

	stats := &models.QueueStats{ByPriority: make(map[string]int)}
	for rows.Next() {
		var status models.QueueItemStatus
		var priority string
		var count int
		if err := rows.Scan(&status, &priority, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue stats: %w", err)
		}
		switch status {
		case models.QueueItemStatusPending:
			stats.PendingCount += count
			stats.ByPriority[priority] += count
		case models.QueueItemStatusProcessing:
			stats.ProcessingCount += count
		case models.QueueItemStatusCompleted:
			stats.CompletedCount += count
		case models.QueueItemStatusFailed:
			stats.FailedCount += count
		case models.QueueItemStatusDeadLettered:
			stats.DLQCount += count
		}
	}
	return stats, rows.Err()
}

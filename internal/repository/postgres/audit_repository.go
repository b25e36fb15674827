package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
)

// AuditRepository handles AI audit log database operations
type AuditRepository struct {
	db *database.PostgresDB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *database.PostgresDB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create appends an audit entry
func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditEntry) error {
	query := `
		INSERT INTO ai_audit_log (
			id, tenant_id, action, entity_type, entity_id, confidence, requires_approval, approved,
			outcome, result, details, actor, queue_item_id, workflow_id, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.ExecContext(
		ctx, query,
		entry.ID, entry.TenantID, entry.Action, entry.EntityType, entry.EntityID,
		entry.Confidence, entry.RequiresApproval, entry.Approved, entry.Outcome, entry.Result,
		entry.Details, entry.Actor, entry.QueueItemID, entry.WorkflowID, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// List retrieves a tenant's audit entries, newest first
func (r *AuditRepository) List(ctx context.Context, tenantID string, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	whereClauses := []string{"tenant_id = $1"}
	args := []interface{}{tenantID}
	argPos := 2

	if filter.Action != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("action = $%d", argPos))
		args = append(args, *filter.Action)
		argPos++
	}
	if filter.EntityType != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("entity_type = $%d", argPos))
		args = append(args, *filter.EntityType)
		argPos++
	}
	if filter.EntityID != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("entity_id = $%d", argPos))
		args = append(args, *filter.EntityID)
		argPos++
	}
	if filter.Outcome != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("outcome = $%d", argPos))
		args = append(args, *filter.Outcome)
		argPos++
	}
	if filter.Actor != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("actor = $%d", argPos))
		args = append(args, *filter.Actor)
		argPos++
	}
	if filter.Since != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("timestamp >= $%d", argPos))
		args = append(args, *filter.Since)
		argPos++
	}
	if filter.Until != nil {
		whereClauses = append(whereClauses, fmt.Sprintf("timestamp <= $%d", argPos))
		args = append(args, *filter.Until)
		argPos++
	}

	query := fmt.Sprintf(`
		SELECT id, tenant_id, action, entity_type, entity_id, confidence, requires_approval, approved,
		       outcome, result, details, actor, queue_item_id, workflow_id, timestamp
		FROM ai_audit_log
		WHERE %s
		ORDER BY timestamp DESC, id ASC`, strings.Join(whereClauses, " AND "))

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argPos)
		args = append(args, filter.Limit)
		argPos++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argPos)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*models.AuditEntry{}
	for rows.Next() {
		e := &models.AuditEntry{}
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.Action, &e.EntityType, &e.EntityID, &e.Confidence,
			&e.RequiresApproval, &e.Approved, &e.Outcome, &e.Result, &e.Details, &e.Actor,
			&e.QueueItemID, &e.WorkflowID, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}

	return entries, nil
}

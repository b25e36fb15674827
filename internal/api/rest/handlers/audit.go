package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/api/rest/middleware"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditReader reads a tenant's audit log
type AuditReader interface {
	GetAIWorkflowAuditLog(ctx context.Context, tenantID string, filter models.AuditFilter) ([]*models.AuditEntry, error)
}

// AuditHandler handles audit log requests
type AuditHandler struct {
	logger *logger.Logger
	audit  AuditReader
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(log *logger.Logger, audit AuditReader) *AuditHandler {
	return &AuditHandler{logger: log, audit: audit}
}

// ListAuditLog handles GET /api/v1/audit
func (h *AuditHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAuditFilter(r)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.audit.GetAIWorkflowAuditLog(r.Context(), middleware.TenantID(r.Context()), filter)
	if err != nil {
		RespondServiceError(w, h.logger, "list audit log", err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func parseAuditFilter(r *http.Request) (models.AuditFilter, error) {
	filter := models.AuditFilter{}

	if v := queryString(r, "action"); v != nil {
		action := models.ActionType(*v)
		filter.Action = &action
	}
	if v := queryString(r, "entity_type"); v != nil {
		entityType := models.EntityType(*v)
		filter.EntityType = &entityType
	}
	if v := queryString(r, "outcome"); v != nil {
		outcome := models.AuditOutcome(*v)
		filter.Outcome = &outcome
	}
	filter.EntityID = queryString(r, "entity_id")
	filter.Actor = queryString(r, "actor")

	for name, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		if v := queryString(r, name); v != nil {
			t, err := time.Parse(time.RFC3339, *v)
			if err != nil {
				return filter, errInvalidQuery(name + " must be an RFC3339 timestamp")
			}
			*dst = &t
		}
	}

	limit, err := queryInt(r, "limit", defaultAuditLimit)
	if err != nil {
		return filter, err
	}
	if limit == 0 || limit > maxAuditLimit {
		limit = maxAuditLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	filter.Offset = offset

	return filter, nil
}

type errInvalidQuery string

func (e errInvalidQuery) Error() string { return string(e) }

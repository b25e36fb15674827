package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/davidmoltin/ai-action-queue/internal/api/rest/middleware"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/internal/services"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// ActionQueuer validates and enqueues actions
type ActionQueuer interface {
	QueueAction(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error)
}

// QueueService defines the queue operations the API exposes
type QueueService interface {
	EnqueueBatch(ctx context.Context, reqs []models.EnqueueRequest) ([]*models.QueueItem, error)
	GetQueueItem(ctx context.Context, id string) (*models.QueueItem, error)
	GetPendingItems(ctx context.Context, tenantID string) ([]*models.QueueItem, error)
	GetQueueItemsByTenant(ctx context.Context, tenantID string) ([]*models.QueueItem, error)
	GetDLQItems(ctx context.Context, tenantID string) ([]*models.QueueItem, error)
	RetryItem(ctx context.Context, id string) (bool, error)
	RequeueFromDLQ(ctx context.Context, id string) (bool, error)
	UpdateItemPriority(ctx context.Context, id string, priority models.Priority) (bool, error)
	PrioritizeItem(ctx context.Context, id string) (bool, error)
	CancelItemsForEntity(ctx context.Context, entityType models.EntityType, entityID, tenantID string) (int, error)
	MoveToDLQ(ctx context.Context, id, reason string) (bool, error)
	ClearQueue(ctx context.Context) (int, error)
	ClearDLQ(ctx context.Context) (int, error)
	ClearOldItems(ctx context.Context, retention time.Duration) (int, error)
	CleanupStaleItems(ctx context.Context, staleAfter time.Duration) (int, error)
	ProcessQueue(ctx context.Context) (*services.ProcessSummary, error)
	GetQueueStats(ctx context.Context) (*models.QueueStats, error)
	Configure(cfg services.QueueConfig) error
	Config() services.QueueConfig
}

// QueueHandler handles tenant-facing queue HTTP requests
type QueueHandler struct {
	logger  *logger.Logger
	actions ActionQueuer
	queue   QueueService
}

// NewQueueHandler creates a new queue handler
func NewQueueHandler(log *logger.Logger, actions ActionQueuer, queue QueueService) *QueueHandler {
	return &QueueHandler{logger: log, actions: actions, queue: queue}
}

// UpdatePriorityRequest changes a pending item's priority
type UpdatePriorityRequest struct {
	Priority models.Priority `json:"priority" validate:"required,oneof=low normal high critical"`
}

func (h *QueueHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.QueueItem, bool) {
	item, err := h.queue.GetQueueItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondServiceError(w, h.logger, "get queue item", err)
		return nil, false
	}
	if item.TenantID != middleware.TenantID(r.Context()) {
		RespondError(w, http.StatusNotFound, "Not found")
		return nil, false
	}
	return item, true
}

// applyEnqueueIdentity pins the request to the caller's tenant
func applyEnqueueIdentity(r *http.Request, req *models.EnqueueRequest) {
	req.TenantID = middleware.TenantID(r.Context())
	req.ID = ""
	if req.UserID == nil {
		if actor := middleware.Actor(r.Context()); actor != "" {
			req.UserID = &actor
		}
	}
}

// Enqueue handles POST /api/v1/queue
func (h *QueueHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req models.EnqueueRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	applyEnqueueIdentity(r, &req)

	item, err := h.actions.QueueAction(r.Context(), req)
	if err != nil {
		RespondServiceError(w, h.logger, "enqueue action", err)
		return
	}

	RespondJSON(w, http.StatusAccepted, item)
}

// EnqueueBatch handles POST /api/v1/queue/batch. Nothing is stored unless every item is valid.
func (h *QueueHandler) EnqueueBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []models.EnqueueRequest
	if !decodeJSON(w, r, &reqs) {
		return
	}
	if len(reqs) == 0 {
		RespondError(w, http.StatusBadRequest, "At least one item is required")
		return
	}
	for i := range reqs {
		applyEnqueueIdentity(r, &reqs[i])
	}

	items, err := h.queue.EnqueueBatch(r.Context(), reqs)
	if err != nil {
		RespondServiceError(w, h.logger, "enqueue batch", err)
		return
	}

	RespondJSON(w, http.StatusAccepted, map[string]interface{}{"items": items})
}

// ListItems handles GET /api/v1/queue?status=pending
func (h *QueueHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	tenantID := middleware.TenantID(r.Context())

	var items []*models.QueueItem
	var err error
	switch r.URL.Query().Get("status") {
	case "":
		items, err = h.queue.GetQueueItemsByTenant(r.Context(), tenantID)
	case string(models.QueueItemStatusPending):
		items, err = h.queue.GetPendingItems(r.Context(), tenantID)
	case string(models.QueueItemStatusDeadLettered):
		items, err = h.queue.GetDLQItems(r.Context(), tenantID)
	default:
		RespondError(w, http.StatusBadRequest, "status must be pending or dead_lettered")
		return
	}
	if err != nil {
		RespondServiceError(w, h.logger, "list queue items", err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// ListDLQ handles GET /api/v1/queue/dlq
func (h *QueueHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	items, err := h.queue.GetDLQItems(r.Context(), middleware.TenantID(r.Context()))
	if err != nil {
		RespondServiceError(w, h.logger, "list dead letter queue", err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"total": len(items),
	})
}

// GetItem handles GET /api/v1/queue/{id}
func (h *QueueHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, item)
}

// RetryItem handles POST /api/v1/queue/{id}/retry
func (h *QueueHandler) RetryItem(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "retry queue item", h.queue.RetryItem)
}

// RequeueItem handles POST /api/v1/queue/{id}/requeue
func (h *QueueHandler) RequeueItem(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "requeue queue item", h.queue.RequeueFromDLQ)
}

// PrioritizeItem handles POST /api/v1/queue/{id}/prioritize
func (h *QueueHandler) PrioritizeItem(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "prioritize queue item", h.queue.PrioritizeItem)
}

func (h *QueueHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (bool, error)) {
	item, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	changed, err := fn(r.Context(), item.ID)
	if err != nil {
		RespondServiceError(w, h.logger, op, err)
		return
	}

	RespondJSON(w, http.StatusOK, ChangedResponse{Changed: changed})
}

// UpdatePriority handles PUT /api/v1/queue/{id}/priority
func (h *QueueHandler) UpdatePriority(w http.ResponseWriter, r *http.Request) {
	item, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var req UpdatePriorityRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	changed, err := h.queue.UpdateItemPriority(r.Context(), item.ID, req.Priority)
	if err != nil {
		RespondServiceError(w, h.logger, "update queue item priority", err)
		return
	}

	RespondJSON(w, http.StatusOK, ChangedResponse{Changed: changed})
}

// CancelForEntity handles DELETE /api/v1/entities/{entityType}/{entityID}/queue
func (h *QueueHandler) CancelForEntity(w http.ResponseWriter, r *http.Request) {
	entityType := models.EntityType(chi.URLParam(r, "entityType"))
	if !entityType.Valid() {
		RespondError(w, http.StatusBadRequest, "Invalid entity type")
		return
	}

	n, err := h.queue.CancelItemsForEntity(r.Context(), entityType, chi.URLParam(r, "entityID"), middleware.TenantID(r.Context()))
	if err != nil {
		RespondServiceError(w, h.logger, "cancel queue items", err)
		return
	}

	RespondJSON(w, http.StatusOK, CountResponse{Count: n})
}

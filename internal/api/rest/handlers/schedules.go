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

const maxNextRuns = 50

// SchedulerService defines the scheduled action operations the API exposes
type SchedulerService interface {
	ScheduleAIAction(ctx context.Context, req models.ScheduleRequest) (*models.ScheduledAction, error)
	BulkScheduleActions(ctx context.Context, reqs []models.ScheduleRequest) ([]*models.ScheduledAction, []error)
	GetScheduledActions(ctx context.Context, tenantID string, filter models.ScheduledActionFilter) ([]*models.ScheduledAction, error)
	GetScheduledAction(ctx context.Context, id string) (*models.ScheduledAction, error)
	CancelScheduledAction(ctx context.Context, id string) (bool, error)
	PauseScheduledAction(ctx context.Context, id string) (bool, error)
	ResumeScheduledAction(ctx context.Context, id string) (bool, error)
	RescheduleAction(ctx context.Context, id string, timing models.Timing) (*models.ScheduledAction, error)
	CancelActionsForEntity(ctx context.Context, entityType models.EntityType, entityID, tenantID string) (int, error)
}

// ScheduleHandler handles scheduled action HTTP requests
type ScheduleHandler struct {
	logger    *logger.Logger
	scheduler SchedulerService
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(log *logger.Logger, scheduler SchedulerService) *ScheduleHandler {
	return &ScheduleHandler{logger: log, scheduler: scheduler}
}

// BulkScheduleResult is one index-aligned entry of a bulk schedule response
type BulkScheduleResult struct {
	Action *models.ScheduledAction `json:"action,omitempty"`
	Error  string                  `json:"error,omitempty"`
}

// NextRunsResponse lists upcoming fire times of a scheduled action
type NextRunsResponse struct {
	ScheduleID string      `json:"schedule_id"`
	NextRuns   []time.Time `json:"next_runs"`
}

// loadOwned fetches a schedule and hides other tenants' schedules behind a 404
func (h *ScheduleHandler) loadOwned(w http.ResponseWriter, r *http.Request) (*models.ScheduledAction, bool) {
	action, err := h.scheduler.GetScheduledAction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		RespondServiceError(w, h.logger, "get scheduled action", err)
		return nil, false
	}
	if action.TenantID != middleware.TenantID(r.Context()) {
		RespondError(w, http.StatusNotFound, "Not found")
		return nil, false
	}
	return action, true
}

// CreateSchedule handles POST /api/v1/schedules
func (h *ScheduleHandler) CreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	applyScheduleIdentity(r, &req)

	action, err := h.scheduler.ScheduleAIAction(r.Context(), req)
	if err != nil {
		RespondServiceError(w, h.logger, "schedule action", err)
		return
	}

	RespondJSON(w, http.StatusCreated, action)
}

// BulkSchedule handles POST /api/v1/schedules/bulk
func (h *ScheduleHandler) BulkSchedule(w http.ResponseWriter, r *http.Request) {
	var reqs []models.ScheduleRequest
	if !decodeJSON(w, r, &reqs) {
		return
	}
	if len(reqs) == 0 {
		RespondError(w, http.StatusBadRequest, "At least one schedule is required")
		return
	}
	for i := range reqs {
		applyScheduleIdentity(r, &reqs[i])
	}

	actions, errs := h.scheduler.BulkScheduleActions(r.Context(), reqs)
	results := make([]BulkScheduleResult, len(reqs))
	for i := range reqs {
		if errs[i] != nil {
			results[i].Error = errs[i].Error()
			continue
		}
		results[i].Action = actions[i]
	}

	RespondJSON(w, http.StatusMultiStatus, map[string]interface{}{"results": results})
}

// applyScheduleIdentity pins the request to the caller's tenant
func applyScheduleIdentity(r *http.Request, req *models.ScheduleRequest) {
	req.TenantID = middleware.TenantID(r.Context())
	if req.UserID == nil {
		if actor := middleware.Actor(r.Context()); actor != "" {
			req.UserID = &actor
		}
	}
}

// ListSchedules handles GET /api/v1/schedules
func (h *ScheduleHandler) ListSchedules(w http.ResponseWriter, r *http.Request) {
	filter := models.ScheduledActionFilter{}
	if v := queryString(r, "status"); v != nil {
		status := models.ScheduleStatus(*v)
		filter.Status = &status
	}
	if v := queryString(r, "action"); v != nil {
		action := models.ActionType(*v)
		filter.Action = &action
	}
	if v := queryString(r, "entity_type"); v != nil {
		entityType := models.EntityType(*v)
		filter.EntityType = &entityType
	}
	filter.EntityID = queryString(r, "entity_id")

	actions, err := h.scheduler.GetScheduledActions(r.Context(), middleware.TenantID(r.Context()), filter)
	if err != nil {
		RespondServiceError(w, h.logger, "list scheduled actions", err)
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"schedules": actions,
		"total":     len(actions),
	})
}

// GetSchedule handles GET /api/v1/schedules/{id}
func (h *ScheduleHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	action, ok := h.loadOwned(w, r)
	if !ok {
		return
	}
	RespondJSON(w, http.StatusOK, action)
}

// PauseSchedule handles POST /api/v1/schedules/{id}/pause
func (h *ScheduleHandler) PauseSchedule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause scheduled action", h.scheduler.PauseScheduledAction)
}

// ResumeSchedule handles POST /api/v1/schedules/{id}/resume
func (h *ScheduleHandler) ResumeSchedule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume scheduled action", h.scheduler.ResumeScheduledAction)
}

// CancelSchedule handles DELETE /api/v1/schedules/{id}
func (h *ScheduleHandler) CancelSchedule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel scheduled action", h.scheduler.CancelScheduledAction)
}

func (h *ScheduleHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, string) (bool, error)) {
	action, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	changed, err := fn(r.Context(), action.ID)
	if err != nil {
		RespondServiceError(w, h.logger, op, err)
		return
	}

	RespondJSON(w, http.StatusOK, ChangedResponse{Changed: changed})
}

// RescheduleSchedule handles PUT /api/v1/schedules/{id}/timing
func (h *ScheduleHandler) RescheduleSchedule(w http.ResponseWriter, r *http.Request) {
	action, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	var timing models.Timing
	if !decodeJSON(w, r, &timing) {
		return
	}

	updated, err := h.scheduler.RescheduleAction(r.Context(), action.ID, timing)
	if err != nil {
		RespondServiceError(w, h.logger, "reschedule action", err)
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

// CancelForEntity handles DELETE /api/v1/entities/{entityType}/{entityID}/schedules
func (h *ScheduleHandler) CancelForEntity(w http.ResponseWriter, r *http.Request) {
	entityType := models.EntityType(chi.URLParam(r, "entityType"))
	if !entityType.Valid() {
		RespondError(w, http.StatusBadRequest, "Invalid entity type")
		return
	}

	n, err := h.scheduler.CancelActionsForEntity(r.Context(), entityType, chi.URLParam(r, "entityID"), middleware.TenantID(r.Context()))
	if err != nil {
		RespondServiceError(w, h.logger, "cancel scheduled actions", err)
		return
	}

	RespondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// GetNextRuns handles GET /api/v1/schedules/{id}/next-runs
func (h *ScheduleHandler) GetNextRuns(w http.ResponseWriter, r *http.Request) {
	action, ok := h.loadOwned(w, r)
	if !ok {
		return
	}

	count, err := queryInt(r, "count", 5)
	if err != nil {
		RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if count < 1 || count > maxNextRuns {
		RespondError(w, http.StatusBadRequest, "count must be between 1 and 50")
		return
	}

	runs := []time.Time{}
	if action.Status == models.ScheduleStatusActive && action.NextRunAt != nil {
		next := *action.NextRunAt
		runs = append(runs, next)
		for action.IsRecurring() && len(runs) < count {
			next, err = services.ComputeNextRun(action.RecurringPattern, next)
			if err != nil {
				break
			}
			runs = append(runs, next)
		}
	}
	if action.MaxExecutions != nil {
		if remaining := *action.MaxExecutions - action.ExecutionCount; remaining < len(runs) {
			runs = runs[:max(remaining, 0)]
		}
	}

	RespondJSON(w, http.StatusOK, NextRunsResponse{ScheduleID: action.ID, NextRuns: runs})
}

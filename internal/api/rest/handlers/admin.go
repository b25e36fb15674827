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

// SchedulerControl defines the scheduler operations reserved for operators
type SchedulerControl interface {
	Tick(ctx context.Context) (*services.TickSummary, error)
	StartScheduler(ctx context.Context, interval time.Duration) bool
	StopScheduler() bool
	IsSchedulerRunning() bool
	CleanupOldActions(ctx context.Context, retention time.Duration) (int, error)
	GetSchedulerStats(ctx context.Context) (*models.SchedulerStats, error)
}

// AdminHandler handles cross-tenant queue and scheduler administration
type AdminHandler struct {
	logger       *logger.Logger
	queue        QueueService
	scheduler    SchedulerControl
	baseCtx      context.Context
	tickInterval time.Duration
}

// NewAdminHandler creates a new admin handler. baseCtx bounds the lifetime of a
// scheduler started over HTTP; tickInterval is used when a start request names none.
func NewAdminHandler(baseCtx context.Context, log *logger.Logger, queue QueueService, scheduler SchedulerControl, tickInterval time.Duration) *AdminHandler {
	return &AdminHandler{
		logger:       log,
		queue:        queue,
		scheduler:    scheduler,
		baseCtx:      baseCtx,
		tickInterval: tickInterval,
	}
}

// QueueConfigPayload is the wire form of the queue configuration
type QueueConfigPayload struct {
	MaxAttempts       int     `json:"max_attempts" validate:"gte=1"`
	BackoffStrategy   string  `json:"backoff_strategy" validate:"oneof=exponential linear fixed"`
	InitialBackoff    string  `json:"initial_backoff" validate:"required"`
	MaxBackoff        string  `json:"max_backoff" validate:"required"`
	BackoffMultiplier float64 `json:"backoff_multiplier" validate:"gte=1"`
	Concurrency       int     `json:"concurrency" validate:"gte=1,lte=1000"`
	StaleAfter        string  `json:"stale_after" validate:"required"`
}

func queueConfigPayload(cfg services.QueueConfig) QueueConfigPayload {
	return QueueConfigPayload{
		MaxAttempts:       cfg.MaxAttempts,
		BackoffStrategy:   cfg.Backoff.Strategy,
		InitialBackoff:    cfg.Backoff.InitialDelay.String(),
		MaxBackoff:        cfg.Backoff.MaxDelay.String(),
		BackoffMultiplier: cfg.Backoff.Multiplier,
		Concurrency:       cfg.Concurrency,
		StaleAfter:        cfg.StaleAfter.String(),
	}
}

func (p QueueConfigPayload) toConfig() (services.QueueConfig, []string) {
	var errs []string
	parse := func(name, v string) time.Duration {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, name+" must be a duration such as 30s or 5m")
		}
		return d
	}

	cfg := services.QueueConfig{
		MaxAttempts: p.MaxAttempts,
		Backoff: services.BackoffConfig{
			Strategy:     p.BackoffStrategy,
			InitialDelay: parse("initial_backoff", p.InitialBackoff),
			MaxDelay:     parse("max_backoff", p.MaxBackoff),
			Multiplier:   p.BackoffMultiplier,
		},
		Concurrency: p.Concurrency,
		StaleAfter:  parse("stale_after", p.StaleAfter),
	}
	return cfg, errs
}

// DurationRequest carries an optional duration such as "24h"
type DurationRequest struct {
	Duration string `json:"duration,omitempty"`
}

// MoveToDLQRequest dead-letters an item by hand
type MoveToDLQRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// SchedulerStatusResponse reports whether the scheduler loop is running
type SchedulerStatusResponse struct {
	Running bool `json:"running"`
	Changed bool `json:"changed"`
}

// durationParam decodes an optional {"duration": "..."} body, falling back to def
func durationParam(w http.ResponseWriter, r *http.Request, def time.Duration) (time.Duration, bool) {
	if r.ContentLength == 0 {
		return def, true
	}
	var req DurationRequest
	if !decodeJSON(w, r, &req) {
		return 0, false
	}
	if req.Duration == "" {
		return def, true
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil || d <= 0 {
		RespondError(w, http.StatusBadRequest, "duration must be a positive duration such as 30s or 24h")
		return 0, false
	}
	return d, true
}

// QueueStats handles GET /api/v1/admin/queue/stats
func (h *AdminHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.GetQueueStats(r.Context())
	if err != nil {
		RespondServiceError(w, h.logger, "get queue stats", err)
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

// ProcessQueue handles POST /api/v1/admin/queue/process
func (h *AdminHandler) ProcessQueue(w http.ResponseWriter, r *http.Request) {
	summary, err := h.queue.ProcessQueue(r.Context())
	if err != nil {
		RespondServiceError(w, h.logger, "process queue", err)
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

// ClearQueue handles DELETE /api/v1/admin/queue
func (h *AdminHandler) ClearQueue(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.ClearQueue(r.Context())
	if err != nil {
		RespondServiceError(w, h.logger, "clear queue", err)
		return
	}
	h.logger.Warn("Queue cleared", logger.String("actor", middleware.Actor(r.Context())), logger.Int("count", n))
	RespondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ClearDLQ handles DELETE /api/v1/admin/queue/dlq
func (h *AdminHandler) ClearDLQ(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.ClearDLQ(r.Context())
	if err != nil {
		RespondServiceError(w, h.logger, "clear dead letter queue", err)
		return
	}
	h.logger.Warn("Dead letter queue cleared", logger.String("actor", middleware.Actor(r.Context())), logger.Int("count", n))
	RespondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ClearOldItems handles POST /api/v1/admin/queue/cleanup
func (h *AdminHandler) ClearOldItems(w http.ResponseWriter, r *http.Request) {
	retention, ok := durationParam(w, r, 7*24*time.Hour)
	if !ok {
		return
	}
	n, err := h.queue.ClearOldItems(r.Context(), retention)
	if err != nil {
		RespondServiceError(w, h.logger, "clear old queue items", err)
		return
	}
	RespondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// ReclaimStale handles POST /api/v1/admin/queue/reclaim
func (h *AdminHandler) ReclaimStale(w http.ResponseWriter, r *http.Request) {
	staleAfter, ok := durationParam(w, r, h.queue.Config().StaleAfter)
	if !ok {
		return
	}
	n, err := h.queue.CleanupStaleItems(r.Context(), staleAfter)
	if err != nil {
		RespondServiceError(w, h.logger, "reclaim stale items", err)
		return
	}
	RespondJSON(w, http.StatusOK, CountResponse{Count: n})
}

// MoveToDLQ handles POST /api/v1/admin/queue/{id}/dlq
func (h *AdminHandler) MoveToDLQ(w http.ResponseWriter, r *http.Request) {
	var req MoveToDLQRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	changed, err := h.queue.MoveToDLQ(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		RespondServiceError(w, h.logger, "move item to dead letter queue", err)
		return
	}
	RespondJSON(w, http.StatusOK, ChangedResponse{Changed: changed})
}

// GetQueueConfig handles GET /api/v1/admin/queue/config
func (h *AdminHandler) GetQueueConfig(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, queueConfigPayload(h.queue.Config()))
}

// UpdateQueueConfig handles PUT /api/v1/admin/queue/config
func (h *AdminHandler) UpdateQueueConfig(w http.ResponseWriter, r *http.Request) {
	payload := queueConfigPayload(h.queue.Config())
	if !decodeAndValidate(w, r, &payload) {
		return
	}

	cfg, errs := payload.toConfig()
	if len(errs) > 0 {
		RespondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: errs})
		return
	}

	if err := h.queue.Configure(cfg); err != nil {
		RespondJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid queue configuration", Details: []string{err.Error()}})
		return
	}

	h.logger.Info("Queue configuration updated", logger.String("actor", middleware.Actor(r.Context())))
	RespondJSON(w, http.StatusOK, queueConfigPayload(h.queue.Config()))
}

// SchedulerStats handles GET /api/v1/admin/scheduler/stats
func (h *AdminHandler) SchedulerStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.scheduler.GetSchedulerStats(r.Context())
	if err != nil {
		RespondServiceError(w, h.logger, "get scheduler stats", err)
		return
	}
	RespondJSON(w, http.StatusOK, stats)
}

// StartScheduler handles POST /api/v1/admin/scheduler/start
func (h *AdminHandler) StartScheduler(w http.ResponseWriter, r *http.Request) {
	interval, ok := durationParam(w, r, h.tickInterval)
	if !ok {
		return
	}
	changed := h.scheduler.StartScheduler(h.baseCtx, interval)
	RespondJSON(w, http.StatusOK, SchedulerStatusResponse{Running: h.scheduler.IsSchedulerRunning(), Changed: changed})
}

// StopScheduler handles POST /api/v1/admin/scheduler/stop
func (h *AdminHandler) StopScheduler(w http.ResponseWriter, r *http.Request) {
	changed := h.scheduler.StopScheduler()
	RespondJSON(w, http.StatusOK, SchedulerStatusResponse{Running: h.scheduler.IsSchedulerRunning(), Changed: changed})
}

// Tick handles POST /api/v1/admin/scheduler/tick
func (h *AdminHandler) Tick(w http.ResponseWriter, r *http.Request) {
	summary, err := h.scheduler.Tick(r.Context())
	if err != nil {
		RespondServiceError(w, h.logger, "run scheduler tick", err)
		return
	}
	RespondJSON(w, http.StatusOK, summary)
}

// CleanupSchedules handles POST /api/v1/admin/scheduler/cleanup
func (h *AdminHandler) CleanupSchedules(w http.ResponseWriter, r *http.Request) {
	retention, ok := durationParam(w, r, 30*24*time.Hour)
	if !ok {
		return
	}
	n, err := h.scheduler.CleanupOldActions(r.Context(), retention)
	if err != nil {
		RespondServiceError(w, h.logger, "clean up scheduled actions", err)
		return
	}
	RespondJSON(w, http.StatusOK, CountResponse{Count: n})
}

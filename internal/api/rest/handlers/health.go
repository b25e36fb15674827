package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// HealthChecker defines the interface for health checking
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	logger            *logger.Logger
	checks            map[string]HealthChecker
	scheduler         interface{ IsSchedulerRunning() bool }
	schedulerRequired bool
	version           string
}

// NewHealthHandler creates a new health handler. Nil checkers are skipped, so an
// in-memory deployment without Redis reports only what it runs.
func NewHealthHandler(log *logger.Logger, checkers *HealthCheckers, version string) *HealthHandler {
	h := &HealthHandler{logger: log, checks: map[string]HealthChecker{}, version: version}
	if checkers != nil {
		h.scheduler = checkers.Scheduler
		h.schedulerRequired = checkers.SchedulerRequired
		if checkers.DB != nil {
			h.checks["database"] = checkers.DB
		}
		if checkers.Redis != nil {
			h.checks["redis"] = checkers.Redis
		}
	}
	return h
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// Health is a simple liveness endpoint
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: h.version})
}

// Ready checks if the service is ready to accept traffic
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.checks)+1)
	allHealthy := true

	if h.scheduler != nil {
		if h.scheduler.IsSchedulerRunning() {
			checks["scheduler"] = "running"
		} else {
			checks["scheduler"] = "stopped"
			allHealthy = allHealthy && !h.schedulerRequired
		}
	}

	for name, checker := range h.checks {
		if err := checker.HealthCheck(ctx); err != nil {
			h.logger.Errorf("%s health check failed: %v", name, err)
			checks[name] = "unhealthy"
			allHealthy = false
			continue
		}
		checks[name] = "healthy"
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	RespondJSON(w, statusCode, HealthResponse{Status: status, Version: h.version, Checks: checks})
}

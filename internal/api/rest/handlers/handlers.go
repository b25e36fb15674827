package handlers

import (
	"context"
	"time"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// Handlers aggregates all HTTP handlers
type Handlers struct {
	Health    *HealthHandler
	Schedules *ScheduleHandler
	Queue     *QueueHandler
	Admin     *AdminHandler
	Actions   *ActionHandler
	Audit     *AuditHandler
}

// HealthCheckers holds all health check dependencies. Any may be nil.
type HealthCheckers struct {
	DB    HealthChecker
	Redis HealthChecker

	// Scheduler is reported on /ready; a stopped scheduler fails readiness only when SchedulerRequired
	Scheduler         interface{ IsSchedulerRunning() bool }
	SchedulerRequired bool
}

// Dependencies are the services behind the HTTP handlers
type Dependencies struct {
	Scheduler interface {
		SchedulerService
		SchedulerControl
	}
	Queue        QueueService
	Actions      ActionQueuer
	Engine       ActionEngine
	Audit        AuditReader
	Health       *HealthCheckers
	Version      string
	TickInterval time.Duration
}

// NewHandlers creates a new handlers instance. ctx bounds background work started over HTTP.
func NewHandlers(ctx context.Context, log *logger.Logger, deps Dependencies) *Handlers {
	return &Handlers{
		Health:    NewHealthHandler(log, deps.Health, deps.Version),
		Schedules: NewScheduleHandler(log, deps.Scheduler),
		Queue:     NewQueueHandler(log, deps.Actions, deps.Queue),
		Admin:     NewAdminHandler(ctx, log, deps.Queue, deps.Scheduler, deps.TickInterval),
		Actions:   NewActionHandler(log, deps.Engine),
		Audit:     NewAuditHandler(log, deps.Audit),
	}
}

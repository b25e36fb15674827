package workers

import (
	"context"
	"time"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// QueueJanitor reclaims stuck items and drops old ones
type QueueJanitor interface {
	CleanupStaleItems(ctx context.Context, staleAfter time.Duration) (int, error)
	ClearOldItems(ctx context.Context, retention time.Duration) (int, error)
}

// ScheduleJanitor drops finished scheduled actions
type ScheduleJanitor interface {
	CleanupOldActions(ctx context.Context, retention time.Duration) (int, error)
}

// MaintenanceConfig controls how often each cleanup runs. A zero retention disables that cleanup.
type MaintenanceConfig struct {
	StaleCheckEvery   time.Duration
	StaleAfter        time.Duration
	RetentionEvery    time.Duration
	QueueRetention    time.Duration
	ScheduleRetention time.Duration
}

// MaintenanceWorker reclaims stale queue items and enforces retention
type MaintenanceWorker struct {
	queue     QueueJanitor
	schedules ScheduleJanitor
	cfg       MaintenanceConfig
	logger    *logger.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewMaintenanceWorker creates a new maintenance worker. schedules may be nil.
func NewMaintenanceWorker(queue QueueJanitor, schedules ScheduleJanitor, cfg MaintenanceConfig, log *logger.Logger) *MaintenanceWorker {
	if cfg.StaleCheckEvery == 0 {
		cfg.StaleCheckEvery = 1 * time.Minute
	}
	if cfg.RetentionEvery == 0 {
		cfg.RetentionEvery = 1 * time.Hour
	}

	return &MaintenanceWorker{
		queue:     queue,
		schedules: schedules,
		cfg:       cfg,
		logger:    log.Named("maintenance-worker"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start starts the worker in the background
func (w *MaintenanceWorker) Start(ctx context.Context) {
	w.logger.Info("Starting maintenance worker",
		logger.String("stale_check_every", w.cfg.StaleCheckEvery.String()),
		logger.String("retention_every", w.cfg.RetentionEvery.String()),
	)

	go w.run(ctx)
}

// Stop stops the worker gracefully
func (w *MaintenanceWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Maintenance worker stopped")
}

func (w *MaintenanceWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	staleTicker := time.NewTicker(w.cfg.StaleCheckEvery)
	defer staleTicker.Stop()
	retentionTicker := time.NewTicker(w.cfg.RetentionEvery)
	defer retentionTicker.Stop()

	// Run immediately on start
	w.reclaimStale(ctx)
	w.enforceRetention(ctx)

	for {
		select {
		case <-staleTicker.C:
			w.reclaimStale(ctx)
		case <-retentionTicker.C:
			w.enforceRetention(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *MaintenanceWorker) reclaimStale(ctx context.Context) {
	n, err := w.queue.CleanupStaleItems(ctx, w.cfg.StaleAfter)
	if err != nil {
		w.logger.Errorf("Failed to reclaim stale queue items: %v", err)
		return
	}
	if n > 0 {
		w.logger.Infof("Reclaimed %d stale queue items", n)
	}
}

func (w *MaintenanceWorker) enforceRetention(ctx context.Context) {
	if w.cfg.QueueRetention > 0 {
		if _, err := w.queue.ClearOldItems(ctx, w.cfg.QueueRetention); err != nil {
			w.logger.Errorf("Failed to clear old queue items: %v", err)
		}
	}

	if w.schedules != nil && w.cfg.ScheduleRetention > 0 {
		if _, err := w.schedules.CleanupOldActions(ctx, w.cfg.ScheduleRetention); err != nil {
			w.logger.Errorf("Failed to clean up old scheduled actions: %v", err)
		}
	}
}

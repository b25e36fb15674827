package workers

import (
	"context"
	"sync"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/services"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// Ticker runs one scheduler pass
type Ticker interface {
	Tick(ctx context.Context) (*services.TickSummary, error)
}

// SchedulerWorker drives the scheduler tick on a fixed interval.
// It implements services.Runner and can be stopped and started again.
type SchedulerWorker struct {
	ticker Ticker
	logger *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSchedulerWorker creates a new scheduler worker
func NewSchedulerWorker(ticker Ticker, log *logger.Logger) *SchedulerWorker {
	return &SchedulerWorker{
		ticker: ticker,
		logger: log.Named("scheduler-worker"),
	}
}

// Start launches the tick loop. It returns false if the loop is already running.
func (w *SchedulerWorker) Start(ctx context.Context, interval time.Duration) bool {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return false
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	w.logger.Info("Starting scheduler worker", logger.String("interval", interval.String()))
	go w.run(ctx, interval, w.stopCh, w.doneCh)
	return true
}

// Stop stops the loop and waits for the current tick to return.
// Stopping a stopped worker is a no-op that returns false.
func (w *SchedulerWorker) Stop() bool {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return false
	}
	w.running = false
	close(w.stopCh)
	done := w.doneCh
	w.mu.Unlock()

	<-done
	w.logger.Info("Scheduler worker stopped")
	return true
}

// IsRunning reports whether the loop is active
func (w *SchedulerWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *SchedulerWorker) run(ctx context.Context, interval time.Duration, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		w.mu.Lock()
		// a newer run may already own the worker
		if w.doneCh == doneCh {
			w.running = false
		}
		w.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on start
	w.tick(ctx)

	for {
		select {
		case <-ticker.C:
			w.tick(ctx)
		case <-stopCh:
			return
		case <-ctx.Done():
			w.logger.Info("Scheduler worker context cancelled")
			return
		}
	}
}

func (w *SchedulerWorker) tick(ctx context.Context) {
	summary, err := w.ticker.Tick(ctx)
	if err != nil {
		w.logger.Errorf("Scheduler tick failed: %v", err)
		return
	}
	if summary == nil || summary.Skipped || summary.Due == 0 {
		return
	}

	w.logger.Infof("Scheduler tick completed: due=%d, fired=%d, completed=%d, failed=%d",
		summary.Due, summary.Fired, summary.Completed, summary.Failed)
}

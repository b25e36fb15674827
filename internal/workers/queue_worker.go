package workers

import (
	"context"
	"time"

	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// Dispatcher hands queued items to its processor
type Dispatcher interface {
	Dispatch(ctx context.Context) int
	Wait()
}

// QueueWorker polls the queue and dispatches work up to the queue's concurrency limit
type QueueWorker struct {
	dispatcher   Dispatcher
	logger       *logger.Logger
	pollInterval time.Duration
	wakeCh       chan struct{}
	stopCh       chan struct{}
	doneCh       chan struct{}
}

// NewQueueWorker creates a new queue worker
func NewQueueWorker(dispatcher Dispatcher, log *logger.Logger, pollInterval time.Duration) *QueueWorker {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &QueueWorker{
		dispatcher:   dispatcher,
		logger:       log.Named("queue-worker"),
		pollInterval: pollInterval,
		wakeCh:       make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
}

// Start starts the worker in the background
func (w *QueueWorker) Start(ctx context.Context) {
	w.logger.Info("Starting queue worker",
		logger.String("poll_interval", w.pollInterval.String()),
	)

	go w.run(ctx)
}

// Stop stops polling and waits for in-flight items to finish
func (w *QueueWorker) Stop() {
	w.logger.Info("Stopping queue worker")
	close(w.stopCh)
	<-w.doneCh
	w.dispatcher.Wait()
	w.logger.Info("Queue worker stopped")
}

// Wake asks the worker to dispatch without waiting for the next poll. It never blocks.
func (w *QueueWorker) Wake() {
	select {
	case w.wakeCh <- struct{}{}:
	default:
	}
}

func (w *QueueWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.dispatch(ctx)

	for {
		select {
		case <-ticker.C:
			w.dispatch(ctx)
		case <-w.wakeCh:
			w.dispatch(ctx)
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *QueueWorker) dispatch(ctx context.Context) {
	if n := w.dispatcher.Dispatch(ctx); n > 0 {
		w.logger.Debugf("Dispatched %d queue items", n)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
	"github.com/davidmoltin/ai-action-queue/pkg/validator"
)

// ScheduledActionRepository stores scheduled actions
type ScheduledActionRepository interface {
	Create(ctx context.Context, action *models.ScheduledAction) error
	Get(ctx context.Context, id string) (*models.ScheduledAction, error)
	// Update writes action only while the stored action is in status expected
	Update(ctx context.Context, action *models.ScheduledAction, expected models.ScheduleStatus) error
	List(ctx context.Context, tenantID string, filter models.ScheduledActionFilter) ([]*models.ScheduledAction, error)
	// ListDue returns active actions with NextRunAt at or before now, earliest first
	ListDue(ctx context.Context, now time.Time) ([]*models.ScheduledAction, error)
	Stats(ctx context.Context) (*models.SchedulerStats, error)
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Enqueuer accepts work for the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error)
}

// TickLocker guards a tick across replicas
type TickLocker interface {
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
}

// Runner drives Tick periodically
type Runner interface {
	Start(ctx context.Context, interval time.Duration) bool
	Stop() bool
	IsRunning() bool
}

// TickSummary reports one scheduler tick
type TickSummary struct {
	Due       int           `json:"due"`
	Fired     int           `json:"fired"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}

// SchedulerOption configures a SchedulerService
type SchedulerOption func(*SchedulerService)

// WithSchedulerClock replaces time.Now
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *SchedulerService) { s.now = now }
}

// WithSchedulerMetrics records tick metrics
func WithSchedulerMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *SchedulerService) { s.metrics = m }
}

// WithScheduleValidator validates action params at schedule time
func WithScheduleValidator(v engine.ParamValidator) SchedulerOption {
	return func(s *SchedulerService) { s.validator = v }
}

// WithTickLock takes a shared lock around every tick so that only one replica fires
func WithTickLock(locker TickLocker, key string, ttl time.Duration) SchedulerOption {
	return func(s *SchedulerService) {
		s.locker = locker
		s.lockKey = key
		s.lockTTL = ttl
	}
}

// SchedulerService owns the catalog of scheduled actions and hands due ones to the queue
type SchedulerService struct {
	repo      ScheduledActionRepository
	queue     Enqueuer
	logger    *logger.Logger
	metrics   *metrics.Metrics
	validator engine.ParamValidator
	now       func() time.Time
	listeners *listenerSet[models.SchedulerEvent]

	locker     TickLocker
	lockKey    string
	lockTTL    time.Duration
	instanceID string

	tickMu       sync.Mutex
	totalFired   atomic.Int64
	skippedTicks atomic.Int64
	lastTick     atomic.Pointer[time.Time]

	runnerMu sync.RWMutex
	runner   Runner
}

// NewSchedulerService creates a scheduler that enqueues into queue
func NewSchedulerService(repo ScheduledActionRepository, queue Enqueuer, log *logger.Logger, opts ...SchedulerOption) *SchedulerService {
	log = log.Named("scheduler")
	s := &SchedulerService{
		repo:       repo,
		queue:      queue,
		logger:     log,
		now:        time.Now,
		listeners:  newListenerSet[models.SchedulerEvent](log),
		lockKey:    "scheduler:tick",
		lockTTL:    25 * time.Second,
		instanceID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRunner attaches the background loop controlled by StartScheduler and StopScheduler
func (s *SchedulerService) SetRunner(r Runner) {
	s.runnerMu.Lock()
	s.runner = r
	s.runnerMu.Unlock()
}

// Subscribe registers a listener for every scheduled action transition
func (s *SchedulerService) Subscribe(listener func(models.SchedulerEvent)) func() {
	return s.listeners.subscribe(listener)
}

// ScheduleAIAction validates and stores a new active scheduled action
func (s *SchedulerService) ScheduleAIAction(ctx context.Context, req models.ScheduleRequest) (*models.ScheduledAction, error) {
	action, err := s.newScheduledAction(req)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to store scheduled action: %w", err)
	}

	s.logger.Info("Action scheduled",
		logger.String("schedule_id", action.ID),
		logger.String("tenant_id", action.TenantID),
		logger.String("action", string(action.Action)),
		logger.Bool("recurring", action.IsRecurring()),
	)
	s.notify(models.SchedulerEventScheduled, action, "")
	return action.Clone(), nil
}

// BulkScheduleActions schedules each request independently. The returned slices are
// index-aligned with reqs; a failed request has a nil action and a non-nil error.
func (s *SchedulerService) BulkScheduleActions(ctx context.Context, reqs []models.ScheduleRequest) ([]*models.ScheduledAction, []error) {
	actions := make([]*models.ScheduledAction, len(reqs))
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		actions[i], errs[i] = s.ScheduleAIAction(ctx, req)
	}
	return actions, errs
}

func (s *SchedulerService) newScheduledAction(req models.ScheduleRequest) (*models.ScheduledAction, error) {
	if err := validator.Validate(req); err != nil {
		return nil, &engine.ValidationError{Action: string(req.Action), Errors: validator.Messages(err)}
	}

	now := s.now().UTC()
	nextRunAt, err := s.initialRun(req.Timing, now)
	if err != nil {
		return nil, err
	}

	if s.validator != nil {
		if ok, errs := s.validator.Validate(req.Action, req.Params); !ok {
			return nil, &engine.ValidationError{Action: string(req.Action), Errors: errs}
		}
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	action := &models.ScheduledAction{
		ID:               uuid.New().String(),
		TenantID:         req.TenantID,
		EntityType:       req.EntityType,
		EntityID:         req.EntityID,
		UserID:           req.UserID,
		WorkflowID:       req.WorkflowID,
		Action:           req.Action,
		Params:           req.Params.Clone(),
		Priority:         priority,
		RecurringPattern: req.RecurringPattern.Clone(),
		Status:           models.ScheduleStatusActive,
		MaxExecutions:    req.MaxExecutions,
		NextRunAt:        &nextRunAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		action.ScheduledAt = &at
	}
	return action.Clone(), nil
}

// initialRun checks that exactly one timing field is set and returns the first run
func (s *SchedulerService) initialRun(t models.Timing, now time.Time) (time.Time, error) {
	switch {
	case t.ScheduledAt != nil && t.RecurringPattern != nil:
		return time.Time{}, fmt.Errorf("%w: scheduled_at and recurring_pattern are mutually exclusive", models.ErrInvalidScheduleSpec)
	case t.ScheduledAt == nil && t.RecurringPattern == nil:
		return time.Time{}, fmt.Errorf("%w: one of scheduled_at or recurring_pattern is required", models.ErrInvalidScheduleSpec)
	case t.ScheduledAt != nil:
		return t.ScheduledAt.UTC(), nil
	}
	return FirstRun(t.RecurringPattern, now)
}

// GetScheduledActions lists a tenant's scheduled actions
func (s *SchedulerService) GetScheduledActions(ctx context.Context, tenantID string, filter models.ScheduledActionFilter) ([]*models.ScheduledAction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", engine.ErrValidation)
	}
	return s.repo.List(ctx, tenantID, filter)
}

// GetScheduledAction returns an action or models.ErrNotFound
func (s *SchedulerService) GetScheduledAction(ctx context.Context, id string) (*models.ScheduledAction, error) {
	return s.repo.Get(ctx, id)
}

// CancelScheduledAction cancels a non-terminal action. It returns false when the action is
// missing or already terminal.
func (s *SchedulerService) CancelScheduledAction(ctx context.Context, id string) (bool, error) {
	action, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAsFalse(err)
	}
	return s.cancel(ctx, action)
}

func (s *SchedulerService) cancel(ctx context.Context, action *models.ScheduledAction) (bool, error) {
	expected := action.Status
	if expected.IsTerminal() {
		return false, nil
	}

	action.Status = models.ScheduleStatusCancelled
	action.NextRunAt = nil
	action.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, action, expected); err != nil {
		return transitionAsFalse(err)
	}

	s.logger.Info("Scheduled action cancelled", logger.String("schedule_id", action.ID))
	s.notify(models.SchedulerEventCancelled, action, "")
	return true, nil
}

// PauseScheduledAction stops an active action from firing. Its next run is kept.
func (s *SchedulerService) PauseScheduledAction(ctx context.Context, id string) (bool, error) {
	action, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAsFalse(err)
	}
	if action.Status != models.ScheduleStatusActive {
		return false, nil
	}

	action.Status = models.ScheduleStatusPaused
	action.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, action, models.ScheduleStatusActive); err != nil {
		return transitionAsFalse(err)
	}
	s.notify(models.SchedulerEventPaused, action, "")
	return true, nil
}

// ResumeScheduledAction reactivates a paused action. Recurring occurrences missed while
// paused are skipped; a one-shot whose time has passed fires on the next tick.
func (s *SchedulerService) ResumeScheduledAction(ctx context.Context, id string) (bool, error) {
	action, err := s.repo.Get(ctx, id)
	if err != nil {
		return notFoundAsFalse(err)
	}
	if action.Status != models.ScheduleStatusPaused {
		return false, nil
	}

	now := s.now().UTC()
	if action.IsRecurring() && (action.NextRunAt == nil || !action.NextRunAt.After(now)) {
		from := now
		if action.NextRunAt != nil {
			from = *action.NextRunAt
		}
		next, err := advanceNextRun(action.RecurringPattern, from, now)
		if err != nil {
			return false, err
		}
		action.NextRunAt = &next
	}

	action.Status = models.ScheduleStatusActive
	action.UpdatedAt = now
	if err := s.repo.Update(ctx, action, models.ScheduleStatusPaused); err != nil {
		return transitionAsFalse(err)
	}
	s.notify(models.SchedulerEventResumed, action, "")
	return true, nil
}

// RescheduleAction replaces the timing of an active or paused action
func (s *SchedulerService) RescheduleAction(ctx context.Context, id string, timing models.Timing) (*models.ScheduledAction, error) {
	action, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	expected := action.Status
	if expected != models.ScheduleStatusActive && expected != models.ScheduleStatusPaused {
		return nil, fmt.Errorf("%w: cannot reschedule a %s action", models.ErrInvalidTransition, expected)
	}

	now := s.now().UTC()
	next, err := s.initialRun(timing, now)
	if err != nil {
		return nil, err
	}

	action.ScheduledAt = nil
	if timing.ScheduledAt != nil {
		at := timing.ScheduledAt.UTC()
		action.ScheduledAt = &at
	}
	action.RecurringPattern = timing.RecurringPattern.Clone()
	action.NextRunAt = &next
	action.UpdatedAt = now

	if err := s.repo.Update(ctx, action, expected); err != nil {
		return nil, err
	}
	s.notify(models.SchedulerEventRescheduled, action, "")
	return action.Clone(), nil
}

// CancelActionsForEntity cancels every non-terminal action of an entity
func (s *SchedulerService) CancelActionsForEntity(ctx context.Context, entityType models.EntityType, entityID, tenantID string) (int, error) {
	actions, err := s.repo.List(ctx, tenantID, models.ScheduledActionFilter{
		EntityType: &entityType,
		EntityID:   &entityID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list actions for entity: %w", err)
	}

	cancelled := 0
	for _, action := range actions {
		ok, err := s.cancel(ctx, action)
		if err != nil {
			return cancelled, err
		}
		if ok {
			cancelled++
		}
	}
	return cancelled, nil
}

// GetDueActions returns active actions whose next run is at or before now
func (s *SchedulerService) GetDueActions(ctx context.Context, now time.Time) ([]*models.ScheduledAction, error) {
	return s.repo.ListDue(ctx, now)
}

// ToQueueItem maps a scheduled action onto the queue item it produces
func ToQueueItem(action models.ScheduledAction) models.QueueItem {
	id := action.ID
	return models.QueueItem{
		ScheduledActionID: &id,
		Action:            action.Action,
		EntityType:        action.EntityType,
		EntityID:          action.EntityID,
		TenantID:          action.TenantID,
		UserID:            action.UserID,
		WorkflowID:        action.WorkflowID,
		Params:            action.Params.Clone(),
		Priority:          action.Priority,
		Status:            models.QueueItemStatusPending,
	}
}

func toEnqueueRequest(item models.QueueItem) models.EnqueueRequest {
	return models.EnqueueRequest{
		ID:                item.ID,
		ScheduledActionID: item.ScheduledActionID,
		Action:            item.Action,
		EntityType:        item.EntityType,
		EntityID:          item.EntityID,
		TenantID:          item.TenantID,
		UserID:            item.UserID,
		WorkflowID:        item.WorkflowID,
		Params:            item.Params,
		Priority:          item.Priority,
		MaxAttempts:       item.MaxAttempts,
	}
}

// Tick fires every due action once. Overlapping calls are skipped.
func (s *SchedulerService) Tick(ctx context.Context) (*TickSummary, error) {
	if !s.tickMu.TryLock() {
		s.skippedTicks.Add(1)
		s.metrics.RecordTick("skipped", 0)
		s.logger.Debug("Tick skipped, previous tick still running")
		return &TickSummary{Skipped: true}, nil
	}
	defer s.tickMu.Unlock()

	if s.locker != nil {
		acquired, err := s.locker.AcquireLock(ctx, s.lockKey, s.instanceID, s.lockTTL)
		if err != nil {
			s.metrics.RecordTick("error", 0)
			return nil, fmt.Errorf("failed to acquire tick lock: %w", err)
		}
		if !acquired {
			s.skippedTicks.Add(1)
			s.metrics.RecordTick("skipped", 0)
			return &TickSummary{Skipped: true}, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), s.lockKey, s.instanceID); err != nil {
				s.logger.Warn("Failed to release tick lock", logger.Err(err))
			}
		}()
	}

	start := s.now().UTC()
	due, err := s.repo.ListDue(ctx, start)
	if err != nil {
		s.metrics.RecordTick("error", 0)
		return nil, fmt.Errorf("failed to list due actions: %w", err)
	}

	summary := &TickSummary{Due: len(due)}
	for _, action := range due {
		s.fire(ctx, action, start, summary)
	}

	summary.Duration = s.now().Sub(start)
	s.lastTick.Store(&start)
	s.metrics.RecordTick("ok", summary.Duration)
	if summary.Due > 0 {
		s.logger.Info("Scheduler tick finished",
			logger.Int("due", summary.Due),
			logger.Int("fired", summary.Fired),
			logger.Int("completed", summary.Completed),
			logger.Int("failed", summary.Failed),
		)
	}
	return summary, nil
}

// fire advances one due action and enqueues its queue item. The action is updated first so
// that a concurrent cancel or pause wins over the firing.
func (s *SchedulerService) fire(ctx context.Context, action *models.ScheduledAction, now time.Time, summary *TickSummary) {
	log := s.logger.With(logger.String("schedule_id", action.ID), logger.String("action", string(action.Action)))

	previous := action.Clone()
	next := action.Clone()
	next.ExecutionCount++
	next.LastExecutedAt = &now
	next.UpdatedAt = now

	var nextErr error
	exhausted := next.MaxExecutions != nil && next.ExecutionCount >= *next.MaxExecutions
	switch {
	case !next.IsRecurring() || exhausted:
		next.Status = models.ScheduleStatusCompleted
		next.NextRunAt = nil
	default:
		from := now
		if previous.NextRunAt != nil {
			from = *previous.NextRunAt
		}
		runAt, err := advanceNextRun(next.RecurringPattern, from, now)
		if err != nil {
			nextErr = err
			next.Status = models.ScheduleStatusPaused
		} else {
			next.NextRunAt = &runAt
		}
	}

	if err := s.repo.Update(ctx, next, models.ScheduleStatusActive); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) || errors.Is(err, models.ErrNotFound) {
			log.Debug("Scheduled action changed before firing, skipped")
			return
		}
		summary.Failed++
		log.Error("Failed to advance scheduled action", logger.Err(err))
		return
	}

	item := ToQueueItem(*next)
	if _, err := s.queue.Enqueue(ctx, toEnqueueRequest(item)); err != nil {
		summary.Failed++
		log.Error("Failed to enqueue scheduled action", logger.Err(err))
		if rerr := s.repo.Update(ctx, previous, next.Status); rerr != nil {
			log.Error("Failed to restore scheduled action after enqueue failure", logger.Err(rerr))
		}
		s.notify(models.SchedulerEventFailed, previous, err.Error())
		return
	}

	summary.Fired++
	s.totalFired.Add(1)
	s.metrics.IncFired(string(next.Action))
	s.notify(models.SchedulerEventFired, next, "")

	switch {
	case nextErr != nil:
		summary.Failed++
		log.Error("Cannot compute next run, scheduled action paused", logger.Err(nextErr))
		s.notify(models.SchedulerEventFailed, next, nextErr.Error())
	case next.Status == models.ScheduleStatusCompleted:
		summary.Completed++
		s.notify(models.SchedulerEventCompleted, next, "")
	}
}

// StartScheduler starts the background tick loop. It returns false when the loop is already
// running or no runner is attached.
func (s *SchedulerService) StartScheduler(ctx context.Context, interval time.Duration) bool {
	s.runnerMu.RLock()
	r := s.runner
	s.runnerMu.RUnlock()
	if r == nil {
		s.logger.Warn("No scheduler runner attached")
		return false
	}
	return r.Start(ctx, interval)
}

// StopScheduler stops the background tick loop. Stopping a stopped loop is a no-op.
func (s *SchedulerService) StopScheduler() bool {
	s.runnerMu.RLock()
	r := s.runner
	s.runnerMu.RUnlock()
	if r == nil {
		return false
	}
	return r.Stop()
}

// IsSchedulerRunning reports whether the background tick loop is running
func (s *SchedulerService) IsSchedulerRunning() bool {
	s.runnerMu.RLock()
	r := s.runner
	s.runnerMu.RUnlock()
	return r != nil && r.IsRunning()
}

// CleanupOldActions deletes cancelled and completed actions last updated before the retention window
func (s *SchedulerService) CleanupOldActions(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-retention)
	n, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up scheduled actions: %w", err)
	}
	if n > 0 {
		s.logger.Info("Old scheduled actions removed", logger.Int("count", n), logger.Time("cutoff", cutoff))
	}
	return n, nil
}

// GetSchedulerStats returns catalog counts and tick activity
func (s *SchedulerService) GetSchedulerStats(ctx context.Context) (*models.SchedulerStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduler stats: %w", err)
	}
	stats.TotalFired = s.totalFired.Load()
	stats.SkippedTicks = s.skippedTicks.Load()
	stats.IsRunning = s.IsSchedulerRunning()
	if last := s.lastTick.Load(); last != nil {
		t := *last
		stats.LastTickAt = &t
	}
	return stats, nil
}

func (s *SchedulerService) notify(eventType models.SchedulerEventType, action *models.ScheduledAction, reason string) {
	if s.listeners.len() == 0 {
		return
	}
	s.listeners.emit(models.SchedulerEvent{
		Type:      eventType,
		Action:    *action.Clone(),
		Timestamp: s.now().UTC(),
		Error:     reason,
	})
}

package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/internal/repository/memory"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// mockEnqueuer records enqueue requests
type mockEnqueuer struct {
	enqueueFunc func(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error)
	mu          sync.Mutex
	requests    []models.EnqueueRequest
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	if m.enqueueFunc != nil {
		return m.enqueueFunc(ctx, req)
	}
	return &models.QueueItem{ID: "item-1"}, nil
}

// mockLocker hands out a fixed lock decision
type mockLocker struct {
	acquired bool
	err      error
	released int
}

func (m *mockLocker) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return m.acquired, m.err
}

func (m *mockLocker) ReleaseLock(ctx context.Context, key, owner string) error {
	m.released++
	return nil
}

// mockRunner tracks start and stop calls
type mockRunner struct {
	mu      sync.Mutex
	running bool
}

func (m *mockRunner) Start(ctx context.Context, interval time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return false
	}
	m.running = true
	return true
}

func (m *mockRunner) Stop() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	m.running = false
	return true
}

func (m *mockRunner) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

type schedulerFixture struct {
	scheduler *SchedulerService
	queue     *QueueService
	store     *memory.ScheduleStore
	clock     *testClock
}

func newSchedulerFixture(t *testing.T, opts ...SchedulerOption) *schedulerFixture {
	t.Helper()
	clock := newTestClock()
	q, err := NewQueueService(memory.NewQueueStore(), DefaultQueueConfig(), nil, logger.NewForTesting(), WithQueueClock(clock.Now))
	require.NoError(t, err)

	store := memory.NewScheduleStore()
	opts = append([]SchedulerOption{WithSchedulerClock(clock.Now)}, opts...)
	return &schedulerFixture{
		scheduler: NewSchedulerService(store, q, logger.NewForTesting(), opts...),
		queue:     q,
		store:     store,
		clock:     clock,
	}
}

func scheduleRequest(timing models.Timing) models.ScheduleRequest {
	return models.ScheduleRequest{
		TenantID:   "tenant-456",
		EntityType: models.EntityTypeLead,
		EntityID:   "lead-123",
		Action:     models.ActionScoreLead,
		Priority:   models.PriorityHigh,
		Timing:     timing,
	}
}

func TestScheduler_DailyActionFiresOncePerDay(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	start := f.clock.Now()

	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusActive, action.Status)
	assert.Equal(t, 0, action.ExecutionCount)
	require.NotNil(t, action.NextRunAt)
	assert.Equal(t, start.Add(24*time.Hour), *action.NextRunAt)

	summary, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fired)

	f.clock.Advance(24 * time.Hour)
	summary, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Due)
	assert.Equal(t, 1, summary.Fired)

	items, err := f.queue.GetPendingItems(ctx, "tenant-456")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.PriorityHigh, items[0].Priority)
	assert.Equal(t, "lead-123", items[0].EntityID)
	assert.Equal(t, models.ActionScoreLead, items[0].Action)
	require.NotNil(t, items[0].ScheduledActionID)
	assert.Equal(t, action.ID, *items[0].ScheduledActionID)

	got, err := f.scheduler.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ExecutionCount)
	assert.Equal(t, models.ScheduleStatusActive, got.Status)
	require.NotNil(t, got.LastExecutedAt)
	assert.Equal(t, f.clock.Now(), *got.LastExecutedAt)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, start.Add(48*time.Hour), *got.NextRunAt)

	summary, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fired, "a second tick at the same instant fires nothing")

	items, err = f.queue.GetPendingItems(ctx, "tenant-456")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestScheduler_WeeklyFiresOnCreationDay(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	start := f.clock.Now()

	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{
		RecurringPattern: &models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{int(start.Weekday())}},
	}))
	require.NoError(t, err)
	require.NotNil(t, action.NextRunAt)
	assert.Equal(t, start, *action.NextRunAt)

	summary, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fired)

	got, err := f.scheduler.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, start.AddDate(0, 0, 7), *got.NextRunAt)
}

func TestScheduler_MaxExecutionsCompletesExactly(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		f := newSchedulerFixture(t)
		ctx := context.Background()

		req := scheduleRequest(models.Timing{RecurringPattern: daily()})
		req.MaxExecutions = intPtr(n)
		action, err := f.scheduler.ScheduleAIAction(ctx, req)
		require.NoError(t, err)

		for day := 0; day < n+3; day++ {
			f.clock.Advance(24 * time.Hour)
			_, err := f.scheduler.Tick(ctx)
			require.NoError(t, err)

			got, err := f.scheduler.GetScheduledAction(ctx, action.ID)
			require.NoError(t, err)
			if day+1 < n {
				assert.Equal(t, models.ScheduleStatusActive, got.Status)
			} else {
				assert.Equal(t, models.ScheduleStatusCompleted, got.Status)
				assert.Equal(t, n, got.ExecutionCount)
				assert.Nil(t, got.NextRunAt)
			}
		}

		items, err := f.queue.GetPendingItems(ctx, "")
		require.NoError(t, err)
		assert.Len(t, items, n, "max executions %d", n)
	}
}

func TestScheduler_OneShot(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	at := f.clock.Now().Add(time.Hour)
	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{ScheduledAt: &at}))
	require.NoError(t, err)
	assert.Equal(t, at, *action.NextRunAt)

	due, err := f.scheduler.GetDueActions(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)

	f.clock.Advance(time.Hour)
	due, err = f.scheduler.GetDueActions(ctx, f.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)

	summary, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fired)
	assert.Equal(t, 1, summary.Completed)

	got, err := f.scheduler.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCompleted, got.Status)
	assert.Nil(t, got.NextRunAt)
}

func TestScheduler_CancelIsIdempotent(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)

	ok, err := f.scheduler.CancelScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.scheduler.CancelScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := f.scheduler.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusCancelled, got.Status)
	assert.Nil(t, got.NextRunAt)

	ok, err = f.scheduler.CancelScheduledAction(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	f.clock.Advance(72 * time.Hour)
	summary, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fired)
}

func TestScheduler_PauseAndResume(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()
	start := f.clock.Now()

	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)

	ok, err := f.scheduler.PauseScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.scheduler.PauseScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	paused, err := f.scheduler.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, *action.NextRunAt, *paused.NextRunAt, "paused actions keep their next run")

	f.clock.Advance(50 * time.Hour)
	summary, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fired)

	ok, err = f.scheduler.ResumeScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = f.scheduler.ResumeScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	resumed, err := f.scheduler.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, start.Add(72*time.Hour), *resumed.NextRunAt)

	summary, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Fired, "occurrences missed while paused are skipped")

	f.clock.Advance(22 * time.Hour)
	summary, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fired)
}

func TestScheduler_NextRunStrictlyIncreases(t *testing.T) {
	patterns := map[string]*models.RecurringPattern{
		"daily":   daily(),
		"weekly":  {Type: models.RecurrenceWeekly, DaysOfWeek: []int{1, 3, 5}},
		"monthly": {Type: models.RecurrenceMonthly, DayOfMonth: 31},
		"cron":    {Type: models.RecurrenceCron, CronExpression: "0 */6 * * *"},
	}

	for name, pattern := range patterns {
		t.Run(name, func(t *testing.T) {
			f := newSchedulerFixture(t)
			ctx := context.Background()

			action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: pattern}))
			require.NoError(t, err)

			previous := *action.NextRunAt
			for i := 0; i < 10; i++ {
				f.clock.Advance(previous.Sub(f.clock.Now()))
				summary, err := f.scheduler.Tick(ctx)
				require.NoError(t, err)
				require.Equal(t, 1, summary.Fired)

				got, err := f.scheduler.GetScheduledAction(ctx, action.ID)
				require.NoError(t, err)
				require.NotNil(t, got.NextRunAt)
				assert.True(t, got.NextRunAt.After(previous), "run %d: %s not after %s", i, got.NextRunAt, previous)
				assert.True(t, got.NextRunAt.After(f.clock.Now()))
				previous = *got.NextRunAt
			}
		})
	}
}

func TestScheduler_TickCatchesUpToTheFuture(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)

	f.clock.Advance(10*24*time.Hour + time.Hour)
	summary, err := f.scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Fired, "missed occurrences collapse into one firing")

	got, err := f.scheduler.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.True(t, got.NextRunAt.After(f.clock.Now()))
	assert.Equal(t, 1, got.ExecutionCount)
}

func TestToQueueItem(t *testing.T) {
	user := "user-1"
	workflow := "wf-9"
	action := models.ScheduledAction{
		ID:         "sched-1",
		TenantID:   "tenant-456",
		EntityType: models.EntityTypeOpportunity,
		EntityID:   "opp-7",
		UserID:     &user,
		WorkflowID: &workflow,
		Action:     models.ActionAutoStage,
		Params:     models.JSONB{"target_stage": "proposal"},
		Priority:   models.PriorityCritical,
	}

	item := ToQueueItem(action)

	assert.Equal(t, action.Action, item.Action)
	assert.Equal(t, action.EntityType, item.EntityType)
	assert.Equal(t, action.EntityID, item.EntityID)
	assert.Equal(t, action.TenantID, item.TenantID)
	assert.Equal(t, action.UserID, item.UserID)
	assert.Equal(t, action.WorkflowID, item.WorkflowID)
	assert.Equal(t, action.Params, item.Params)
	assert.Equal(t, action.Priority, item.Priority)
	require.NotNil(t, item.ScheduledActionID)
	assert.Equal(t, "sched-1", *item.ScheduledActionID)
	assert.Equal(t, models.QueueItemStatusPending, item.Status)

	item.Params["target_stage"] = "closed"
	assert.Equal(t, "proposal", action.Params["target_stage"], "params are copied")

	req := toEnqueueRequest(item)
	assert.Equal(t, item.Params, req.Params)
	assert.Equal(t, item.Priority, req.Priority)
	assert.Equal(t, item.ScheduledActionID, req.ScheduledActionID)
}

func TestScheduler_TenantIsolation(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	_, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)
	other := scheduleRequest(models.Timing{RecurringPattern: daily()})
	other.TenantID = "tenant-789"
	_, err = f.scheduler.ScheduleAIAction(ctx, other)
	require.NoError(t, err)

	actions, err := f.scheduler.GetScheduledActions(ctx, "tenant-456", models.ScheduledActionFilter{})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "tenant-456", actions[0].TenantID)

	n, err := f.scheduler.CancelActionsForEntity(ctx, models.EntityTypeLead, "lead-123", "tenant-789")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	actions, err = f.scheduler.GetScheduledActions(ctx, "tenant-456", models.ScheduledActionFilter{})
	require.NoError(t, err)
	assert.Equal(t, models.ScheduleStatusActive, actions[0].Status)

	_, err = f.scheduler.GetScheduledActions(ctx, "", models.ScheduledActionFilter{})
	assert.ErrorIs(t, err, engine.ErrValidation)
}

func TestScheduler_GetScheduledActionsFilter(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	first, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)
	req := scheduleRequest(models.Timing{RecurringPattern: daily()})
	req.Action = models.ActionDetectStale
	_, err = f.scheduler.ScheduleAIAction(ctx, req)
	require.NoError(t, err)

	_, err = f.scheduler.PauseScheduledAction(ctx, first.ID)
	require.NoError(t, err)

	paused := models.ScheduleStatusPaused
	actions, err := f.scheduler.GetScheduledActions(ctx, "tenant-456", models.ScheduledActionFilter{Status: &paused})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, first.ID, actions[0].ID)

	stale := models.ActionDetectStale
	actions, err = f.scheduler.GetScheduledActions(ctx, "tenant-456", models.ScheduledActionFilter{Action: &stale})
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, stale, actions[0].Action)
}

func TestScheduler_BulkScheduleIsIndependentPerItem(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	bad := scheduleRequest(models.Timing{})
	actions, errs := f.scheduler.BulkScheduleActions(ctx, []models.ScheduleRequest{
		scheduleRequest(models.Timing{RecurringPattern: daily()}),
		bad,
		scheduleRequest(models.Timing{RecurringPattern: daily()}),
	})

	require.Len(t, actions, 3)
	require.Len(t, errs, 3)
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], models.ErrInvalidScheduleSpec)
	assert.NoError(t, errs[2])
	assert.NotNil(t, actions[0])
	assert.Nil(t, actions[1])
	assert.NotNil(t, actions[2])

	stored, err := f.scheduler.GetScheduledActions(ctx, "tenant-456", models.ScheduledActionFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestScheduler_RejectsInvalidSpecs(t *testing.T) {
	f := newSchedulerFixture(t, WithScheduleValidator(engine.NewDefaultRegistry()))
	ctx := context.Background()
	at := f.clock.Now().Add(time.Hour)

	specErrors := map[string]models.Timing{
		"both timings":      {ScheduledAt: &at, RecurringPattern: daily()},
		"no timing":         {},
		"malformed cron":    {RecurringPattern: &models.RecurringPattern{Type: models.RecurrenceCron, CronExpression: "every tuesday"}},
		"weekly no days":    {RecurringPattern: &models.RecurringPattern{Type: models.RecurrenceWeekly}},
		"weekly bad day":    {RecurringPattern: &models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{7}}},
		"monthly no day":    {RecurringPattern: &models.RecurringPattern{Type: models.RecurrenceMonthly}},
		"unknown type":      {RecurringPattern: &models.RecurringPattern{Type: "hourly"}},
		"negative interval": {RecurringPattern: &models.RecurringPattern{Type: models.RecurrenceDaily, Interval: -1}},
	}
	for name, timing := range specErrors {
		t.Run(name, func(t *testing.T) {
			_, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(timing))
			assert.ErrorIs(t, err, models.ErrInvalidScheduleSpec)
		})
	}

	validationErrors := map[string]func(*models.ScheduleRequest){
		"missing tenant":   func(r *models.ScheduleRequest) { r.TenantID = "" },
		"bad entity type":  func(r *models.ScheduleRequest) { r.EntityType = "invoice" },
		"bad priority":     func(r *models.ScheduleRequest) { r.Priority = "urgent" },
		"zero max":         func(r *models.ScheduleRequest) { r.MaxExecutions = intPtr(0) },
		"unknown action":   func(r *models.ScheduleRequest) { r.Action = "ai_launch_rocket" },
		"bad action param": func(r *models.ScheduleRequest) { r.Params = models.JSONB{"confidence_threshold": 2.5} },
	}
	for name, mutate := range validationErrors {
		t.Run(name, func(t *testing.T) {
			req := scheduleRequest(models.Timing{RecurringPattern: daily()})
			mutate(&req)
			_, err := f.scheduler.ScheduleAIAction(ctx, req)
			assert.ErrorIs(t, err, engine.ErrValidation)
		})
	}

	stats, err := f.scheduler.GetSchedulerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalScheduled)
}

func TestScheduler_RescheduleAction(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)

	at := f.clock.Now().Add(3 * time.Hour)
	updated, err := f.scheduler.RescheduleAction(ctx, action.ID, models.Timing{ScheduledAt: &at})
	require.NoError(t, err)
	assert.Nil(t, updated.RecurringPattern)
	require.NotNil(t, updated.ScheduledAt)
	assert.Equal(t, at, *updated.NextRunAt)

	_, err = f.scheduler.RescheduleAction(ctx, action.ID, models.Timing{})
	assert.ErrorIs(t, err, models.ErrInvalidScheduleSpec)

	_, err = f.scheduler.CancelScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	_, err = f.scheduler.RescheduleAction(ctx, action.ID, models.Timing{RecurringPattern: daily()})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = f.scheduler.RescheduleAction(ctx, "missing", models.Timing{RecurringPattern: daily()})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestScheduler_CleanupOldActions(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	cancelled, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)
	_, err = f.scheduler.CancelScheduledAction(ctx, cancelled.ID)
	require.NoError(t, err)
	active, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)

	n, err := f.scheduler.CleanupOldActions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.scheduler.CleanupOldActions(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.scheduler.GetScheduledAction(ctx, cancelled.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.scheduler.GetScheduledAction(ctx, active.ID)
	assert.NoError(t, err)
}

func TestScheduler_EnqueueFailureRestoresAction(t *testing.T) {
	clock := newTestClock()
	enq := &mockEnqueuer{enqueueFunc: func(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error) {
		return nil, errors.New("queue unavailable")
	}}
	s := NewSchedulerService(memory.NewScheduleStore(), enq, logger.NewForTesting(), WithSchedulerClock(clock.Now))
	ctx := context.Background()

	action, err := s.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Fired)

	got, err := s.GetScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ExecutionCount)
	assert.Equal(t, *action.NextRunAt, *got.NextRunAt)
	assert.Equal(t, models.ScheduleStatusActive, got.Status)
}

func TestScheduler_OneFailingActionDoesNotBlockOthers(t *testing.T) {
	clock := newTestClock()
	enq := &mockEnqueuer{enqueueFunc: func(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error) {
		if req.EntityID == "lead-bad" {
			return nil, errors.New("rejected")
		}
		return &models.QueueItem{ID: "ok"}, nil
	}}
	s := NewSchedulerService(memory.NewScheduleStore(), enq, logger.NewForTesting(), WithSchedulerClock(clock.Now))
	ctx := context.Background()

	bad := scheduleRequest(models.Timing{RecurringPattern: daily()})
	bad.EntityID = "lead-bad"
	_, err := s.ScheduleAIAction(ctx, bad)
	require.NoError(t, err)
	_, err = s.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Due)
	assert.Equal(t, 1, summary.Fired)
	assert.Equal(t, 1, summary.Failed)
}

func TestScheduler_OverlappingTickIsSkipped(t *testing.T) {
	clock := newTestClock()
	entered := make(chan struct{})
	release := make(chan struct{})
	enq := &mockEnqueuer{enqueueFunc: func(ctx context.Context, req models.EnqueueRequest) (*models.QueueItem, error) {
		close(entered)
		<-release
		return &models.QueueItem{ID: "ok"}, nil
	}}
	s := NewSchedulerService(memory.NewScheduleStore(), enq, logger.NewForTesting(), WithSchedulerClock(clock.Now))
	ctx := context.Background()

	_, err := s.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)

	done := make(chan *TickSummary)
	go func() {
		summary, _ := s.Tick(ctx)
		done <- summary
	}()

	<-entered
	summary, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, summary.Skipped)

	close(release)
	first := <-done
	assert.Equal(t, 1, first.Fired)

	stats, err := s.GetSchedulerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.SkippedTicks)
	assert.Equal(t, int64(1), stats.TotalFired)
}

func TestScheduler_TickLock(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		locker := &mockLocker{acquired: false}
		f := newSchedulerFixture(t, WithTickLock(locker, "tick", time.Second))
		summary, err := f.scheduler.Tick(context.Background())
		require.NoError(t, err)
		assert.True(t, summary.Skipped)
		assert.Equal(t, 0, locker.released)
	})

	t.Run("acquired", func(t *testing.T) {
		locker := &mockLocker{acquired: true}
		f := newSchedulerFixture(t, WithTickLock(locker, "tick", time.Second))
		summary, err := f.scheduler.Tick(context.Background())
		require.NoError(t, err)
		assert.False(t, summary.Skipped)
		assert.Equal(t, 1, locker.released)
	})

	t.Run("lock error", func(t *testing.T) {
		locker := &mockLocker{err: errors.New("redis down")}
		f := newSchedulerFixture(t, WithTickLock(locker, "tick", time.Second))
		_, err := f.scheduler.Tick(context.Background())
		assert.Error(t, err)
	})
}

func TestScheduler_RunnerControl(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	assert.False(t, f.scheduler.StartScheduler(ctx, time.Second), "no runner attached")
	assert.False(t, f.scheduler.IsSchedulerRunning())

	f.scheduler.SetRunner(&mockRunner{})
	assert.True(t, f.scheduler.StartScheduler(ctx, time.Second))
	assert.False(t, f.scheduler.StartScheduler(ctx, time.Second))
	assert.True(t, f.scheduler.IsSchedulerRunning())

	stats, err := f.scheduler.GetSchedulerStats(ctx)
	require.NoError(t, err)
	assert.True(t, stats.IsRunning)

	assert.True(t, f.scheduler.StopScheduler())
	assert.False(t, f.scheduler.StopScheduler())
	assert.False(t, f.scheduler.IsSchedulerRunning())
}

func TestScheduler_Subscribe(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	rec := &eventRecorder[models.SchedulerEvent]{}
	f.scheduler.Subscribe(rec.record)

	at := f.clock.Now().Add(time.Minute)
	action, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{ScheduledAt: &at}))
	require.NoError(t, err)
	_, err = f.scheduler.PauseScheduledAction(ctx, action.ID)
	require.NoError(t, err)
	_, err = f.scheduler.ResumeScheduledAction(ctx, action.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	_, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)

	var types []models.SchedulerEventType
	for _, e := range rec.all() {
		types = append(types, e.Type)
		assert.Equal(t, action.ID, e.Action.ID)
	}
	assert.Equal(t, []models.SchedulerEventType{
		models.SchedulerEventScheduled,
		models.SchedulerEventPaused,
		models.SchedulerEventResumed,
		models.SchedulerEventFired,
		models.SchedulerEventCompleted,
	}, types)
}

func TestScheduler_Stats(t *testing.T) {
	f := newSchedulerFixture(t)
	ctx := context.Background()

	at := f.clock.Now().Add(time.Hour)
	_, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{ScheduledAt: &at}))
	require.NoError(t, err)
	recurring, err := f.scheduler.ScheduleAIAction(ctx, scheduleRequest(models.Timing{RecurringPattern: daily()}))
	require.NoError(t, err)
	_, err = f.scheduler.PauseScheduledAction(ctx, recurring.ID)
	require.NoError(t, err)

	stats, err := f.scheduler.GetSchedulerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalScheduled)
	assert.Equal(t, 1, stats.ActiveCount)
	assert.Equal(t, 1, stats.PausedCount)
	assert.Equal(t, 1, stats.RecurringCount)
	assert.Equal(t, 1, stats.OneShotCount)
	require.NotNil(t, stats.NextDueAt)
	assert.Equal(t, at, *stats.NextDueAt)
	assert.Nil(t, stats.LastTickAt)

	_, err = f.scheduler.Tick(ctx)
	require.NoError(t, err)
	stats, err = f.scheduler.GetSchedulerStats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.LastTickAt)
}

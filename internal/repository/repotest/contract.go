// Package repotest holds behaviour tests shared by every repository implementation.
package repotest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/internal/services"
)

// base is second-aligned so every store round-trips it exactly
var base = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func newItem(tenant string, priority models.Priority, created time.Time) *models.QueueItem {
	return &models.QueueItem{
		ID:          uuid.NewString(),
		Action:      models.ActionScoreLead,
		EntityType:  models.EntityTypeLead,
		EntityID:    "lead-" + uuid.NewString()[:8],
		TenantID:    tenant,
		Params:      models.JSONB{"source": "web"},
		Priority:    priority,
		Status:      models.QueueItemStatusPending,
		MaxAttempts: 3,
		CreatedAt:   created,
		UpdatedAt:   created,
		AvailableAt: created,
	}
}

func newAction(tenant string, next time.Time) *models.ScheduledAction {
	return &models.ScheduledAction{
		ID:               uuid.NewString(),
		TenantID:         tenant,
		EntityType:       models.EntityTypeLead,
		EntityID:         "lead-123",
		Action:           models.ActionScoreLead,
		Params:           models.JSONB{},
		Priority:         models.PriorityNormal,
		RecurringPattern: &models.RecurringPattern{Type: models.RecurrenceDaily, Interval: 1},
		Status:           models.ScheduleStatusActive,
		NextRunAt:        &next,
		CreatedAt:        base,
		UpdatedAt:        base,
	}
}

// QueueRepository runs the queue store contract against fresh stores from newRepo
func QueueRepository(t *testing.T, newRepo func(t *testing.T) services.QueueRepository) {
	ctx := context.Background()

	t.Run("claims by priority then age", func(t *testing.T) {
		repo := newRepo(t)
		low := newItem("tenant-a", models.PriorityLow, base)
		oldNormal := newItem("tenant-a", models.PriorityNormal, base.Add(time.Second))
		newNormal := newItem("tenant-a", models.PriorityNormal, base.Add(2*time.Second))
		critical := newItem("tenant-a", models.PriorityCritical, base.Add(3*time.Second))
		for _, it := range []*models.QueueItem{low, newNormal, critical, oldNormal} {
			require.NoError(t, repo.Insert(ctx, it))
		}

		var order []string
		for i := 0; i < 4; i++ {
			got, err := repo.ClaimNext(ctx, base.Add(time.Minute), fmt.Sprintf("claim-%d", i))
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, models.QueueItemStatusProcessing, got.Status)
			require.NotNil(t, got.ClaimID)
			assert.Equal(t, fmt.Sprintf("claim-%d", i), *got.ClaimID)
			require.NotNil(t, got.ProcessingStartedAt)
			order = append(order, got.ID)
		}
		assert.Equal(t, []string{critical.ID, oldNormal.ID, newNormal.ID, low.ID}, order)

		got, err := repo.ClaimNext(ctx, base.Add(time.Minute), "claim-empty")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("respects available_at", func(t *testing.T) {
		repo := newRepo(t)
		item := newItem("tenant-a", models.PriorityNormal, base)
		item.AvailableAt = base.Add(time.Minute)
		require.NoError(t, repo.Insert(ctx, item))

		got, err := repo.ClaimNext(ctx, base, "c1")
		require.NoError(t, err)
		assert.Nil(t, got)

		got, err = repo.ClaimNext(ctx, base.Add(time.Minute), "c1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, item.ID, got.ID)
	})

	t.Run("round trips fields", func(t *testing.T) {
		repo := newRepo(t)
		item := newItem("tenant-a", models.PriorityHigh, base)
		item.ScheduledActionID = strPtr("sched-1")
		item.UserID = strPtr("user-1")
		require.NoError(t, repo.Insert(ctx, item))

		got, err := repo.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.Action, got.Action)
		assert.Equal(t, item.Priority, got.Priority)
		assert.Equal(t, "web", got.Params["source"])
		require.NotNil(t, got.ScheduledActionID)
		assert.Equal(t, "sched-1", *got.ScheduledActionID)
		assert.WithinDuration(t, base, got.CreatedAt, 0)
		assert.Nil(t, got.ClaimID)

		_, err = repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("update is guarded by status", func(t *testing.T) {
		repo := newRepo(t)
		item := newItem("tenant-a", models.PriorityNormal, base)
		require.NoError(t, repo.Insert(ctx, item))

		item.Priority = models.PriorityCritical
		require.NoError(t, repo.Update(ctx, item, models.QueueItemStatusPending))

		err := repo.Update(ctx, item, models.QueueItemStatusFailed)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		missing := newItem("tenant-a", models.PriorityNormal, base)
		assert.ErrorIs(t, repo.Update(ctx, missing, models.QueueItemStatusPending), models.ErrNotFound)

		got, err := repo.Get(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PriorityCritical, got.Priority)
	})

	t.Run("update claimed is guarded by claim", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newItem("tenant-a", models.PriorityNormal, base)))

		claimed, err := repo.ClaimNext(ctx, base, "owner")
		require.NoError(t, err)
		require.NotNil(t, claimed)

		claimed.Status = models.QueueItemStatusCompleted
		assert.ErrorIs(t, repo.UpdateClaimed(ctx, claimed, "intruder"), models.ErrStaleClaim)
		require.NoError(t, repo.UpdateClaimed(ctx, claimed, "owner"))
		assert.ErrorIs(t, repo.UpdateClaimed(ctx, claimed, "owner"), models.ErrStaleClaim, "claim ends when the item leaves processing")
	})

	t.Run("concurrent claims never share an item", func(t *testing.T) {
		repo := newRepo(t)
		const n = 20
		for i := 0; i < n; i++ {
			require.NoError(t, repo.Insert(ctx, newItem("tenant-a", models.PriorityNormal, base.Add(time.Duration(i)*time.Second))))
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for w := 0; w < 5; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for {
					got, err := repo.ClaimNext(ctx, base.Add(time.Hour), fmt.Sprintf("worker-%d", w))
					if err != nil || got == nil {
						return
					}
					mu.Lock()
					seen[got.ID]++
					mu.Unlock()
				}
			}(w)
		}
		wg.Wait()

		assert.Len(t, seen, n)
		for id, count := range seen {
			assert.Equal(t, 1, count, "item %s claimed more than once", id)
		}
	})

	t.Run("list, delete and stats", func(t *testing.T) {
		repo := newRepo(t)
		a1 := newItem("tenant-a", models.PriorityNormal, base)
		a2 := newItem("tenant-a", models.PriorityHigh, base.Add(time.Second))
		b1 := newItem("tenant-b", models.PriorityNormal, base)
		done := newItem("tenant-b", models.PriorityLow, base)
		done.Status = models.QueueItemStatusCompleted
		for _, it := range []*models.QueueItem{a1, a2, b1, done} {
			require.NoError(t, repo.Insert(ctx, it))
		}

		items, err := repo.List(ctx, models.QueueFilter{TenantID: strPtr("tenant-a")})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, a2.ID, items[0].ID)

		items, err = repo.List(ctx, models.QueueFilter{Statuses: []models.QueueItemStatus{models.QueueItemStatusPending}, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, items, 1)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.PendingCount)
		assert.Equal(t, 1, stats.CompletedCount)
		assert.Equal(t, 2, stats.ByPriority[string(models.PriorityNormal)])

		cutoff := base.Add(time.Minute)
		removed, err := repo.DeleteWhere(ctx, models.QueueFilter{
			Statuses:      []models.QueueItemStatus{models.QueueItemStatusCompleted},
			UpdatedBefore: &cutoff,
		})
		require.NoError(t, err)
		require.Len(t, removed, 1)
		assert.Equal(t, done.ID, removed[0].ID)

		entity := models.EntityTypeLead
		removed, err = repo.DeleteWhere(ctx, models.QueueFilter{TenantID: strPtr("tenant-a"), EntityType: &entity, EntityID: &a1.EntityID})
		require.NoError(t, err)
		require.Len(t, removed, 1)

		_, err = repo.Get(ctx, a1.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("started before finds stale claims", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Insert(ctx, newItem("tenant-a", models.PriorityNormal, base)))
		_, err := repo.ClaimNext(ctx, base, "c1")
		require.NoError(t, err)

		cutoff := base.Add(time.Second)
		stale, err := repo.List(ctx, models.QueueFilter{
			Statuses:      []models.QueueItemStatus{models.QueueItemStatusProcessing},
			StartedBefore: &cutoff,
		})
		require.NoError(t, err)
		assert.Len(t, stale, 1)

		early := base.Add(-time.Second)
		stale, err = repo.List(ctx, models.QueueFilter{StartedBefore: &early})
		require.NoError(t, err)
		assert.Empty(t, stale)
	})
}

// ScheduledActionRepository runs the scheduled action store contract against fresh stores from newRepo
func ScheduledActionRepository(t *testing.T, newRepo func(t *testing.T) services.ScheduledActionRepository) {
	ctx := context.Background()

	t.Run("create, get and compare-and-set update", func(t *testing.T) {
		repo := newRepo(t)
		action := newAction("tenant-a", base.Add(time.Hour))
		action.MaxExecutions = func() *int { n := 5; return &n }()
		require.NoError(t, repo.Create(ctx, action))

		got, err := repo.Get(ctx, action.ID)
		require.NoError(t, err)
		require.NotNil(t, got.RecurringPattern)
		assert.Equal(t, models.RecurrenceDaily, got.RecurringPattern.Type)
		require.NotNil(t, got.MaxExecutions)
		assert.Equal(t, 5, *got.MaxExecutions)
		require.NotNil(t, got.NextRunAt)
		assert.WithinDuration(t, base.Add(time.Hour), *got.NextRunAt, 0)

		got.Status = models.ScheduleStatusPaused
		require.NoError(t, repo.Update(ctx, got, models.ScheduleStatusActive))
		assert.ErrorIs(t, repo.Update(ctx, got, models.ScheduleStatusActive), models.ErrInvalidTransition)

		_, err = repo.Get(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("list is tenant scoped", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, newAction("tenant-a", base)))
		require.NoError(t, repo.Create(ctx, newAction("tenant-a", base)))
		require.NoError(t, repo.Create(ctx, newAction("tenant-b", base)))

		got, err := repo.List(ctx, "tenant-a", models.ScheduledActionFilter{})
		require.NoError(t, err)
		assert.Len(t, got, 2)
		for _, a := range got {
			assert.Equal(t, "tenant-a", a.TenantID)
		}

		paused := models.ScheduleStatusPaused
		got, err = repo.List(ctx, "tenant-a", models.ScheduledActionFilter{Status: &paused})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("list due returns active actions earliest first", func(t *testing.T) {
		repo := newRepo(t)
		later := newAction("tenant-a", base.Add(-time.Minute))
		earlier := newAction("tenant-b", base.Add(-time.Hour))
		future := newAction("tenant-a", base.Add(time.Hour))
		paused := newAction("tenant-a", base.Add(-time.Hour))
		paused.Status = models.ScheduleStatusPaused
		for _, a := range []*models.ScheduledAction{later, earlier, future, paused} {
			require.NoError(t, repo.Create(ctx, a))
		}

		due, err := repo.ListDue(ctx, base)
		require.NoError(t, err)
		require.Len(t, due, 2)
		assert.Equal(t, earlier.ID, due[0].ID)
		assert.Equal(t, later.ID, due[1].ID)

		stats, err := repo.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, stats.ActiveCount)
		assert.Equal(t, 1, stats.PausedCount)
		require.NotNil(t, stats.NextDueAt)
		assert.WithinDuration(t, base.Add(-time.Hour), *stats.NextDueAt, 0)
	})

	t.Run("delete terminal before cutoff", func(t *testing.T) {
		repo := newRepo(t)
		old := newAction("tenant-a", base)
		old.Status = models.ScheduleStatusCompleted
		old.NextRunAt = nil
		recent := newAction("tenant-a", base)
		recent.Status = models.ScheduleStatusCancelled
		recent.UpdatedAt = base.Add(48 * time.Hour)
		active := newAction("tenant-a", base)
		for _, a := range []*models.ScheduledAction{old, recent, active} {
			require.NoError(t, repo.Create(ctx, a))
		}

		n, err := repo.DeleteTerminalBefore(ctx, base.Add(24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = repo.Get(ctx, old.ID)
		assert.ErrorIs(t, err, models.ErrNotFound)
		_, err = repo.Get(ctx, active.ID)
		assert.NoError(t, err)
	})
}

// AuditRepository runs the audit store contract against fresh stores from newRepo
func AuditRepository(t *testing.T, newRepo func(t *testing.T) engine.AuditRepository) {
	ctx := context.Background()

	entry := func(tenant string, outcome models.AuditOutcome, ts time.Time) *models.AuditEntry {
		conf := 0.8
		return &models.AuditEntry{
			ID:         uuid.NewString(),
			TenantID:   tenant,
			Action:     models.ActionScoreLead,
			EntityType: models.EntityTypeLead,
			EntityID:   "lead-123",
			Confidence: &conf,
			Outcome:    outcome,
			Result:     "ok",
			Details:    models.JSONB{"score": 72.0},
			Actor:      models.ActorSystem,
			Timestamp:  ts,
		}
	}

	t.Run("newest first and tenant scoped", func(t *testing.T) {
		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, entry("tenant-a", models.AuditOutcomeSucceeded, base)))
		require.NoError(t, repo.Create(ctx, entry("tenant-a", models.AuditOutcomeFailed, base.Add(time.Minute))))
		require.NoError(t, repo.Create(ctx, entry("tenant-b", models.AuditOutcomeSucceeded, base)))

		got, err := repo.List(ctx, "tenant-a", models.AuditFilter{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, models.AuditOutcomeFailed, got[0].Outcome)
		assert.Equal(t, 72.0, got[1].Details["score"])
		require.NotNil(t, got[1].Confidence)
		assert.InDelta(t, 0.8, *got[1].Confidence, 1e-9)
	})

	t.Run("filters and pagination", func(t *testing.T) {
		repo := newRepo(t)
		for i := 0; i < 5; i++ {
			require.NoError(t, repo.Create(ctx, entry("tenant-a", models.AuditOutcomeSucceeded, base.Add(time.Duration(i)*time.Minute))))
		}
		require.NoError(t, repo.Create(ctx, entry("tenant-a", models.AuditOutcomeDeadLettered, base)))

		outcome := models.AuditOutcomeDeadLettered
		got, err := repo.List(ctx, "tenant-a", models.AuditFilter{Outcome: &outcome})
		require.NoError(t, err)
		assert.Len(t, got, 1)

		since := base.Add(2 * time.Minute)
		got, err = repo.List(ctx, "tenant-a", models.AuditFilter{Since: &since})
		require.NoError(t, err)
		assert.Len(t, got, 3)

		got, err = repo.List(ctx, "tenant-a", models.AuditFilter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.WithinDuration(t, base.Add(3*time.Minute), got[0].Timestamp, 0)

		got, err = repo.List(ctx, "tenant-a", models.AuditFilter{Offset: 50})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

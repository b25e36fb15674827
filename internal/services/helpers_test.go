package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/internal/repository/memory"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// testClock is a manually advanced clock
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestQueue(t *testing.T, processor Processor, opts ...QueueOption) (*QueueService, *memory.QueueStore, *testClock) {
	t.Helper()
	clock := newTestClock()
	store := memory.NewQueueStore()
	opts = append([]QueueOption{WithQueueClock(clock.Now)}, opts...)
	q, err := NewQueueService(store, DefaultQueueConfig(), processor, logger.NewForTesting(), opts...)
	require.NoError(t, err)
	return q, store, clock
}

func leadRequest(priority models.Priority) models.EnqueueRequest {
	return models.EnqueueRequest{
		Action:     models.ActionScoreLead,
		EntityType: models.EntityTypeLead,
		EntityID:   "lead-123",
		TenantID:   "tenant-456",
		Priority:   priority,
	}
}

func daily() *models.RecurringPattern {
	return &models.RecurringPattern{Type: models.RecurrenceDaily, Interval: 1}
}

func intPtr(n int) *int { return &n }

// eventRecorder collects events delivered to a listener
type eventRecorder[E any] struct {
	mu     sync.Mutex
	events []E
}

func (r *eventRecorder[E]) record(e E) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder[E]) all() []E {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]E(nil), r.events...)
}

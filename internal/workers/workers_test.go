package workers

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/services"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// mockTicker counts ticks and optionally fails
type mockTicker struct {
	tickFunc func(ctx context.Context) (*services.TickSummary, error)
	calls    atomic.Int32
}

func (m *mockTicker) Tick(ctx context.Context) (*services.TickSummary, error) {
	m.calls.Add(1)
	if m.tickFunc != nil {
		return m.tickFunc(ctx)
	}
	return &services.TickSummary{}, nil
}

// mockDispatcher records dispatch calls
type mockDispatcher struct {
	dispatchFunc func(ctx context.Context) int
	calls        atomic.Int32
	waited       atomic.Bool
}

func (m *mockDispatcher) Dispatch(ctx context.Context) int {
	m.calls.Add(1)
	if m.dispatchFunc != nil {
		return m.dispatchFunc(ctx)
	}
	return 0
}

func (m *mockDispatcher) Wait() { m.waited.Store(true) }

// mockJanitor records the durations it was called with
type mockJanitor struct {
	mu         sync.Mutex
	staleErr   error
	staleArgs  []time.Duration
	queueArgs  []time.Duration
	actionArgs []time.Duration
}

func (m *mockJanitor) CleanupStaleItems(ctx context.Context, staleAfter time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleArgs = append(m.staleArgs, staleAfter)
	return 1, m.staleErr
}

func (m *mockJanitor) ClearOldItems(ctx context.Context, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueArgs = append(m.queueArgs, retention)
	return 0, nil
}

func (m *mockJanitor) CleanupOldActions(ctx context.Context, retention time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actionArgs = append(m.actionArgs, retention)
	return 0, nil
}

func (m *mockJanitor) snapshot() (stale, queue, actions []time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Duration(nil), m.staleArgs...),
		append([]time.Duration(nil), m.queueArgs...),
		append([]time.Duration(nil), m.actionArgs...)
}

func TestSchedulerWorker_Lifecycle(t *testing.T) {
	ticker := &mockTicker{}
	w := NewSchedulerWorker(ticker, logger.NewForTesting())
	ctx := context.Background()

	assert.False(t, w.IsRunning())
	assert.False(t, w.Stop(), "stopping a stopped worker is a no-op")

	require.True(t, w.Start(ctx, time.Hour))
	assert.True(t, w.IsRunning())
	assert.False(t, w.Start(ctx, time.Hour), "second start must not spawn another loop")

	// the first tick runs immediately
	assert.Eventually(t, func() bool { return ticker.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.True(t, w.Stop())
	assert.False(t, w.IsRunning())
	assert.False(t, w.Stop())

	// restartable
	require.True(t, w.Start(ctx, time.Hour))
	assert.Eventually(t, func() bool { return ticker.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, w.Stop())
}

func TestSchedulerWorker_TicksOnInterval(t *testing.T) {
	ticker := &mockTicker{}
	w := NewSchedulerWorker(ticker, logger.NewForTesting())

	require.True(t, w.Start(context.Background(), 10*time.Millisecond))
	defer w.Stop()

	assert.Eventually(t, func() bool { return ticker.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerWorker_TickErrorKeepsLoopAlive(t *testing.T) {
	ticker := &mockTicker{
		tickFunc: func(ctx context.Context) (*services.TickSummary, error) {
			return nil, errors.New("database unavailable")
		},
	}
	w := NewSchedulerWorker(ticker, logger.NewForTesting())

	require.True(t, w.Start(context.Background(), 10*time.Millisecond))
	defer w.Stop()

	assert.Eventually(t, func() bool { return ticker.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, w.IsRunning())
}

func TestSchedulerWorker_ContextCancellationStops(t *testing.T) {
	ticker := &mockTicker{}
	w := NewSchedulerWorker(ticker, logger.NewForTesting())
	ctx, cancel := context.WithCancel(context.Background())

	require.True(t, w.Start(ctx, time.Hour))
	cancel()

	assert.Eventually(t, func() bool { return !w.IsRunning() }, time.Second, 5*time.Millisecond)
	assert.False(t, w.Stop())

	require.True(t, w.Start(context.Background(), time.Hour), "worker can be started again after cancellation")
	assert.True(t, w.Stop())
}

func TestSchedulerWorker_DrivesSchedulerService(t *testing.T) {
	ticker := &mockTicker{}
	w := NewSchedulerWorker(ticker, logger.NewForTesting())

	var runner services.Runner = w
	assert.False(t, runner.IsRunning())
}

func TestQueueWorker_DispatchesOnStartAndPoll(t *testing.T) {
	d := &mockDispatcher{}
	w := NewQueueWorker(d, logger.NewForTesting(), 10*time.Millisecond)

	w.Start(context.Background())
	assert.Eventually(t, func() bool { return d.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	w.Stop()
	assert.True(t, d.waited.Load(), "stop drains in-flight items")
}

func TestQueueWorker_Wake(t *testing.T) {
	d := &mockDispatcher{}
	w := NewQueueWorker(d, logger.NewForTesting(), time.Hour)

	w.Start(context.Background())
	defer w.Stop()

	assert.Eventually(t, func() bool { return d.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	w.Wake()
	assert.Eventually(t, func() bool { return d.calls.Load() == 2 }, time.Second, 5*time.Millisecond)

	// repeated wakes never block
	for i := 0; i < 10; i++ {
		w.Wake()
	}
}

func TestMaintenanceWorker_RunsCleanupsWithConfiguredDurations(t *testing.T) {
	j := &mockJanitor{staleErr: errors.New("transient")}
	w := NewMaintenanceWorker(j, j, MaintenanceConfig{
		StaleCheckEvery:   10 * time.Millisecond,
		StaleAfter:        5 * time.Minute,
		RetentionEvery:    time.Hour,
		QueueRetention:    7 * 24 * time.Hour,
		ScheduleRetention: 30 * 24 * time.Hour,
	}, logger.NewForTesting())

	w.Start(context.Background())
	assert.Eventually(t, func() bool {
		stale, _, _ := j.snapshot()
		return len(stale) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	w.Stop()

	stale, queue, actions := j.snapshot()
	assert.Equal(t, 5*time.Minute, stale[0])
	require.Len(t, queue, 1)
	assert.Equal(t, 7*24*time.Hour, queue[0])
	require.Len(t, actions, 1)
	assert.Equal(t, 30*24*time.Hour, actions[0])
}

func TestMaintenanceWorker_ZeroRetentionDisablesCleanup(t *testing.T) {
	j := &mockJanitor{}
	w := NewMaintenanceWorker(j, nil, MaintenanceConfig{StaleAfter: time.Minute}, logger.NewForTesting())

	w.Start(context.Background())
	assert.Eventually(t, func() bool {
		stale, _, _ := j.snapshot()
		return len(stale) == 1
	}, time.Second, 5*time.Millisecond)
	w.Stop()

	_, queue, actions := j.snapshot()
	assert.Empty(t, queue)
	assert.Empty(t, actions)
}

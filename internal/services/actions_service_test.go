package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/internal/repository/memory"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// stubExecutor answers every action with a fixed confidence or error
type stubExecutor struct {
	confidence float64
	err        error
}

func (s *stubExecutor) Name() string { return "stub" }

func (s *stubExecutor) Execute(ctx context.Context, req engine.ExecutionRequest) (*engine.ExecutorOutput, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &engine.ExecutorOutput{Confidence: s.confidence, Summary: "done"}, nil
}

type actionsFixture struct {
	actions *ActionsService
	queue   *QueueService
	engine  *engine.ExecutionEngine
	audit   *memory.AuditStore
	clock   *testClock
}

func newActionsFixture(t *testing.T, exec engine.Executor) *actionsFixture {
	t.Helper()
	q, _, clock := newTestQueue(t, nil)
	audit := memory.NewAuditStore()
	eng := engine.NewExecutionEngine(engine.NewDefaultRegistry(), exec, audit, logger.NewForTesting(), engine.WithClock(clock.Now))

	svc := NewActionsService(eng, q, logger.NewForTesting())
	t.Cleanup(svc.Attach())
	return &actionsFixture{actions: svc, queue: q, engine: eng, audit: audit, clock: clock}
}

func (f *actionsFixture) auditLog(t *testing.T) []*models.AuditEntry {
	t.Helper()
	entries, err := f.engine.GetAIWorkflowAuditLog(context.Background(), "tenant-456", models.AuditFilter{})
	require.NoError(t, err)
	return entries
}

func TestActions_ProcessSucceeds(t *testing.T) {
	f := newActionsFixture(t, &stubExecutor{confidence: 0.9})
	ctx := context.Background()

	item, err := f.actions.QueueAction(ctx, leadRequest(models.PriorityNormal))
	require.NoError(t, err)

	summary, err := f.queue.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	got, err := f.queue.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusCompleted, got.Status)

	entries := f.auditLog(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditOutcomeSucceeded, entries[0].Outcome)
	require.NotNil(t, entries[0].QueueItemID)
	assert.Equal(t, item.ID, *entries[0].QueueItemID)
	assert.Equal(t, models.ActorSystem, entries[0].Actor)
}

func TestActions_PendingApprovalCompletesQueueItem(t *testing.T) {
	f := newActionsFixture(t, &stubExecutor{confidence: 0.95})
	ctx := context.Background()

	req := leadRequest(models.PriorityHigh)
	req.Action = models.ActionAutoAssign
	req.Params = models.JSONB{"strategy": "round_robin"}
	item, err := f.actions.QueueAction(ctx, req)
	require.NoError(t, err)

	_, err = f.queue.ProcessQueue(ctx)
	require.NoError(t, err)

	got, err := f.queue.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusCompleted, got.Status)

	entries := f.auditLog(t)
	require.Len(t, entries, 1)
	assert.Equal(t, models.AuditOutcomePendingApproval, entries[0].Outcome)
	assert.True(t, entries[0].RequiresApproval)
}

func TestActions_ExecutorFailureRetriesThenAuditsDeadLetter(t *testing.T) {
	f := newActionsFixture(t, &stubExecutor{err: errors.New("connection reset")})
	ctx := context.Background()

	item, err := f.actions.QueueAction(ctx, leadRequest(models.PriorityNormal))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.queue.ProcessQueue(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}

	got, err := f.queue.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusDeadLettered, got.Status)
	assert.Equal(t, 3, got.Attempts)

	entries := f.auditLog(t)
	require.Len(t, entries, 4)

	var failed, deadLettered int
	for _, e := range entries {
		switch e.Outcome {
		case models.AuditOutcomeFailed:
			failed++
		case models.AuditOutcomeDeadLettered:
			deadLettered++
			assert.Equal(t, models.ActorSystem, e.Actor)
			assert.Contains(t, e.Result, "dead-lettered after 3 attempts")
			require.NotNil(t, e.QueueItemID)
			assert.Equal(t, item.ID, *e.QueueItemID)
		}
	}
	assert.Equal(t, 3, failed)
	assert.Equal(t, 1, deadLettered)
}

func TestActions_TerminalExecutorErrorDeadLettersAtOnce(t *testing.T) {
	f := newActionsFixture(t, &stubExecutor{err: engine.NoRetry(errors.New("entity archived"))})
	ctx := context.Background()

	item, err := f.actions.QueueAction(ctx, leadRequest(models.PriorityNormal))
	require.NoError(t, err)

	_, err = f.queue.ProcessQueue(ctx)
	require.NoError(t, err)

	got, err := f.queue.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusDeadLettered, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestActions_InvalidItemIsDeadLetteredWithoutRetry(t *testing.T) {
	f := newActionsFixture(t, &stubExecutor{confidence: 0.9})
	ctx := context.Background()

	// bypass QueueAction validation to simulate an item stored before a registry change
	req := leadRequest(models.PriorityNormal)
	req.Params = models.JSONB{"confidence_threshold": 3}
	item, err := f.queue.Enqueue(ctx, req)
	require.NoError(t, err)

	_, err = f.queue.ProcessQueue(ctx)
	require.NoError(t, err)

	got, err := f.queue.GetQueueItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueItemStatusDeadLettered, got.Status)

	outcomes := map[models.AuditOutcome]int{}
	for _, e := range f.auditLog(t) {
		outcomes[e.Outcome]++
	}
	assert.Equal(t, 1, outcomes[models.AuditOutcomeValidationFailed])
	assert.Equal(t, 1, outcomes[models.AuditOutcomeDeadLettered])
}

func TestActions_QueueActionValidatesParams(t *testing.T) {
	f := newActionsFixture(t, &stubExecutor{confidence: 0.9})

	req := leadRequest(models.PriorityNormal)
	req.Action = models.ActionGenerateFollowUp
	req.Params = models.JSONB{"channel": "carrier_pigeon"}

	_, err := f.actions.QueueAction(context.Background(), req)
	assert.ErrorIs(t, err, engine.ErrValidation)

	pending, err := f.queue.GetPendingItems(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestActions_ExecuteNowBypassesQueue(t *testing.T) {
	f := newActionsFixture(t, &stubExecutor{confidence: 0.8})
	ctx := context.Background()

	user := "user-42"
	result, err := f.actions.ExecuteNow(ctx, models.ActionScoreLead, engine.ExecutionContext{
		TenantID:   "tenant-456",
		EntityType: models.EntityTypeLead,
		EntityID:   "lead-123",
		UserID:     &user,
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, engine.ActionStatusSucceeded, result.Status)

	pending, err := f.queue.GetPendingItems(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries := f.auditLog(t)
	require.Len(t, entries, 1)
	assert.Equal(t, "user-42", entries[0].Actor)
	assert.Nil(t, entries[0].QueueItemID)
}

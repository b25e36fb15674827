package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

var heuristicNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newHeuristic() *HeuristicExecutor {
	return &HeuristicExecutor{now: func() time.Time { return heuristicNow }}
}

func heuristicRequest(action models.ActionType, entity, params models.JSONB) ExecutionRequest {
	return ExecutionRequest{
		Action:  action,
		Context: leadContext(),
		Params:  params,
		Entity:  enrichEntity(entity, heuristicNow),
	}
}

func TestHeuristicExecutor_ScoreLead(t *testing.T) {
	h := newHeuristic()

	rich := models.JSONB{
		"email":            "ana@acme.io",
		"phone":            "+1 555 0100",
		"company":          "Acme",
		"title":            "CTO",
		"annual_revenue":   2000000.0,
		"source":           "referral",
		"last_activity_at": heuristicNow.Add(-48 * time.Hour).Format(time.RFC3339),
	}
	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionScoreLead, rich, nil))
	require.NoError(t, err)
	assert.Equal(t, 100.0, out.Payload["score"])
	assert.Equal(t, 0.95, out.Confidence)

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionScoreLead, models.JSONB{}, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.0, out.Payload["score"])
	assert.Equal(t, 0.4, out.Confidence)
}

func TestHeuristicExecutor_ClassifyLead(t *testing.T) {
	h := newHeuristic()

	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionClassifyLead, models.JSONB{}, nil))
	require.NoError(t, err)
	assert.Equal(t, "cold", out.Payload["category"])

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionClassifyLead, models.JSONB{},
		models.JSONB{"categories": []interface{}{"a", "b"}}))
	require.NoError(t, err)
	assert.Equal(t, "b", out.Payload["category"])
}

func TestHeuristicExecutor_DetectStale(t *testing.T) {
	h := newHeuristic()
	entity := models.JSONB{"last_activity_at": heuristicNow.AddDate(0, 0, -20).Format(time.RFC3339)}

	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionDetectStale, entity, nil))
	require.NoError(t, err)
	assert.Equal(t, false, out.Payload["stale"])
	assert.Equal(t, 20, out.Payload["days_inactive"])

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionDetectStale, entity, models.JSONB{"days_inactive": 14}))
	require.NoError(t, err)
	assert.Equal(t, true, out.Payload["stale"])
	assert.Equal(t, 0.95, out.Confidence)

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionDetectStale, models.JSONB{}, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.5, out.Confidence)
}

func TestHeuristicExecutor_Summarize(t *testing.T) {
	h := newHeuristic()
	entity := models.JSONB{"name": "Ana Lopez", "company": "Acme", "stage": "qualified"}

	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionSummarize, entity, nil))
	require.NoError(t, err)
	assert.Contains(t, out.Summary, "lead lead-123")
	assert.Contains(t, out.Summary, "name: Ana Lopez")

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionSummarize, entity, models.JSONB{"max_length": 10}))
	require.NoError(t, err)
	assert.Len(t, out.Summary, 10)
}

func TestHeuristicExecutor_EnrichLead(t *testing.T) {
	h := newHeuristic()

	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionEnrichLead, models.JSONB{"email": "ana@Acme.io"}, nil))
	require.NoError(t, err)
	fields := out.Payload["fields"].(models.JSONB)
	assert.Equal(t, "acme.io", fields["domain"])
	assert.Equal(t, "acme", fields["company"])
	assert.Equal(t, 0.8, out.Confidence)

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionEnrichLead, models.JSONB{}, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.4, out.Confidence)
}

func TestHeuristicExecutor_AutoAssign(t *testing.T) {
	h := newHeuristic()
	params := models.JSONB{"candidates": []interface{}{"alice", "bob", "carol"}}

	first, err := h.Execute(context.Background(), heuristicRequest(models.ActionAutoAssign, nil, params))
	require.NoError(t, err)
	second, err := h.Execute(context.Background(), heuristicRequest(models.ActionAutoAssign, nil, params))
	require.NoError(t, err)
	assert.Equal(t, first.Payload["assignee"], second.Payload["assignee"], "assignment is deterministic")
	assert.Contains(t, []interface{}{"alice", "bob", "carol"}, first.Payload["assignee"])

	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionAutoAssign, models.JSONB{"territory": "bob"},
		models.JSONB{"strategy": "territory", "candidates": []interface{}{"alice", "bob"}}))
	require.NoError(t, err)
	assert.Equal(t, "bob", out.Payload["assignee"])
	assert.Equal(t, 0.9, out.Confidence)

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionAutoAssign, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.2, out.Confidence)
}

func TestHeuristicExecutor_AutoStage(t *testing.T) {
	h := newHeuristic()

	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionAutoStage, models.JSONB{"score": 85.0}, nil))
	require.NoError(t, err)
	assert.Equal(t, "proposal", out.Payload["stage"])

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionAutoStage, models.JSONB{"score": 85.0},
		models.JSONB{"target_stage": "closed_won"}))
	require.NoError(t, err)
	assert.Equal(t, "closed_won", out.Payload["stage"])
	assert.Equal(t, "proposal", out.Payload["predicted_stage"])
}

func TestHeuristicExecutor_FollowUp(t *testing.T) {
	h := newHeuristic()

	out, err := h.Execute(context.Background(), heuristicRequest(models.ActionGenerateFollowUp, models.JSONB{"email": "a@b.co"},
		models.JSONB{"days": 5, "channel": "call"}))
	require.NoError(t, err)
	assert.Equal(t, "call", out.Payload["channel"])
	assert.Equal(t, "2026-03-15T09:00:00Z", out.Payload["due_at"])
	assert.Equal(t, 0.8, out.Confidence)

	out, err = h.Execute(context.Background(), heuristicRequest(models.ActionGenerateFollowUp, models.JSONB{}, nil))
	require.NoError(t, err)
	assert.Equal(t, 0.4, out.Confidence)
}

func TestHeuristicExecutor_UnknownAction(t *testing.T) {
	_, err := newHeuristic().Execute(context.Background(), heuristicRequest("ai_unknown", nil, nil))
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.True(t, IsNoRetry(err))
}

func TestHeuristicExecutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newHeuristic().Execute(ctx, heuristicRequest(models.ActionScoreLead, nil, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

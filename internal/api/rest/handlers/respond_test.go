package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/engine"
	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

func TestRespondServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"validation", &engine.ValidationError{Action: "ai_score_lead", Errors: []string{"model is too long"}}, http.StatusBadRequest},
		{"wrapped validation", fmt.Errorf("item 2: %w", &engine.ValidationError{Errors: []string{"x"}}), http.StatusBadRequest},
		{"unknown action", fmt.Errorf("%w: ai_teleport", engine.ErrUnknownAction), http.StatusBadRequest},
		{"schedule spec", fmt.Errorf("%w: bad cron", models.ErrInvalidScheduleSpec), http.StatusBadRequest},
		{"not found", fmt.Errorf("queue item q1: %w", models.ErrNotFound), http.StatusNotFound},
		{"transition", models.ErrInvalidTransition, http.StatusConflict},
		{"other", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondServiceError(rec, logger.NewNop(), "do thing", tt.err)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestRespondServiceError_HidesInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondServiceError(rec, logger.NewNop(), "list audit log", errors.New("pq: password authentication failed"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Contains(t, rec.Body.String(), "Failed to list audit log")
}

func TestParseAuditFilter(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/audit", nil)
		f, err := parseAuditFilter(r)
		require.NoError(t, err)
		assert.Equal(t, defaultAuditLimit, f.Limit)
		assert.Equal(t, 0, f.Offset)
		assert.Nil(t, f.Action)
	})

	t.Run("all filters", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet,
			"/api/v1/audit?action=ai_score_lead&entity_type=lead&entity_id=lead-1&outcome=failed&actor=user-1"+
				"&since=2026-03-01T00:00:00Z&until=2026-03-02T00:00:00Z&limit=10&offset=20", nil)
		f, err := parseAuditFilter(r)
		require.NoError(t, err)
		assert.Equal(t, models.ActionScoreLead, *f.Action)
		assert.Equal(t, models.EntityTypeLead, *f.EntityType)
		assert.Equal(t, "lead-1", *f.EntityID)
		assert.Equal(t, models.AuditOutcomeFailed, *f.Outcome)
		assert.Equal(t, "user-1", *f.Actor)
		assert.Equal(t, 1, f.Since.Day())
		assert.Equal(t, 2, f.Until.Day())
		assert.Equal(t, 10, f.Limit)
		assert.Equal(t, 20, f.Offset)
	})

	t.Run("limit is capped", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/v1/audit?limit=100000", nil)
		f, err := parseAuditFilter(r)
		require.NoError(t, err)
		assert.Equal(t, maxAuditLimit, f.Limit)
	})

	t.Run("bad values", func(t *testing.T) {
		for _, q := range []string{"limit=-1", "offset=abc", "since=2026-03-01", "until=tomorrow"} {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/audit?"+q, nil)
			_, err := parseAuditFilter(r)
			assert.Error(t, err, q)
		}
	})
}

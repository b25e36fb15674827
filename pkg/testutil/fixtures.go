package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// FixtureBuilder provides methods to create test fixtures
type FixtureBuilder struct {
	TenantID string
}

// NewFixtureBuilder creates a fixture builder for tenant-456
func NewFixtureBuilder() *FixtureBuilder {
	return &FixtureBuilder{TenantID: "tenant-456"}
}

// QueueItem creates a pending queue item
func (fb *FixtureBuilder) QueueItem(overrides ...func(*models.QueueItem)) *models.QueueItem {
	now := time.Now().UTC()
	item := &models.QueueItem{
		ID:          uuid.NewString(),
		Action:      models.ActionScoreLead,
		EntityType:  models.EntityTypeLead,
		EntityID:    "lead-123",
		TenantID:    fb.TenantID,
		Params:      models.JSONB{},
		Priority:    models.PriorityNormal,
		Status:      models.QueueItemStatusPending,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
		AvailableAt: now,
	}

	for _, override := range overrides {
		override(item)
	}

	return item
}

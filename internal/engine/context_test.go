package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

func TestStaticEntityLoader(t *testing.T) {
	loader := NewStaticEntityLoader()
	loader.Put("t1", models.EntityTypeLead, "lead-1", models.JSONB{"name": "Ana"})

	data, err := loader.LoadEntity(context.Background(), "t1", models.EntityTypeLead, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", data["name"])

	data["name"] = "changed"
	again, _ := loader.LoadEntity(context.Background(), "t1", models.EntityTypeLead, "lead-1")
	assert.Equal(t, "Ana", again["name"])

	_, err = loader.LoadEntity(context.Background(), "t2", models.EntityTypeLead, "lead-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCachedEntityLoader(t *testing.T) {
	source := NewStaticEntityLoader()
	source.Put("t1", models.EntityTypeLead, "lead-1", models.JSONB{"name": "Ana"})
	cache := newMapCache()
	loader := NewCachedEntityLoader(source, cache, time.Minute, logger.NewForTesting())
	ctx := context.Background()

	data, err := loader.LoadEntity(ctx, "t1", models.EntityTypeLead, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", data["name"])
	assert.Equal(t, 1, cache.sets)
	assert.Contains(t, cache.data, "entity:t1:lead:lead-1")

	source.Put("t1", models.EntityTypeLead, "lead-1", models.JSONB{"name": "Ana Lopez"})
	data, err = loader.LoadEntity(ctx, "t1", models.EntityTypeLead, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana", data["name"], "served from cache")
	assert.Equal(t, 1, cache.sets)

	require.NoError(t, loader.Invalidate(ctx, "t1", models.EntityTypeLead, "lead-1"))
	data, err = loader.LoadEntity(ctx, "t1", models.EntityTypeLead, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, "Ana Lopez", data["name"])

	_, err = loader.LoadEntity(ctx, "t1", models.EntityTypeLead, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCachedEntityLoader_BrokenCacheFallsBack(t *testing.T) {
	source := NewStaticEntityLoader()
	source.Put("t1", models.EntityTypeCustomer, "c-1", models.JSONB{"name": "Globex"})
	cache := newMapCache()
	cache.getErr = errors.New("connection refused")

	loader := NewCachedEntityLoader(source, cache, 0, logger.NewForTesting())
	data, err := loader.LoadEntity(context.Background(), "t1", models.EntityTypeCustomer, "c-1")
	require.NoError(t, err)
	assert.Equal(t, "Globex", data["name"])
}

func TestCachedEntityLoader_PrimeServesUnknownEntity(t *testing.T) {
	cache := newMapCache()
	loader := NewCachedEntityLoader(NewStaticEntityLoader(), cache, time.Minute, logger.NewForTesting())
	ctx := context.Background()

	require.NoError(t, loader.Prime(ctx, "t1", models.EntityTypeLead, "lead-9", models.JSONB{"status": "new"}, 0))

	data, err := loader.LoadEntity(ctx, "t1", models.EntityTypeLead, "lead-9")
	require.NoError(t, err)
	assert.Equal(t, "new", data["status"])
}

func TestEnrichEntity(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	entity := models.JSONB{
		"last_activity_at": now.AddDate(0, 0, -10).Format(time.RFC3339),
		"created_at":       now.AddDate(0, 0, -5).Format(time.RFC3339),
		"owner_id":         "user-1",
	}

	out := enrichEntity(entity, now)
	assert.NotContains(t, entity, "_computed", "input is not mutated")

	days, ok := computedInt(out, "days_since_activity")
	require.True(t, ok)
	assert.Equal(t, 10, days)
	assert.True(t, computedBool(out, "is_new"))
	assert.True(t, computedBool(out, "has_owner"))
	assert.False(t, computedBool(out, "is_scored"))

	empty := enrichEntity(nil, now)
	_, ok = computedInt(empty, "days_since_activity")
	assert.False(t, ok)
	assert.False(t, computedBool(empty, "has_owner"))
}

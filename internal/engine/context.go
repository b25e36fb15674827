package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// EntityLoader fetches a CRM record snapshot for an action
type EntityLoader interface {
	LoadEntity(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) (models.JSONB, error)
}

// StaticEntityLoader serves snapshots held in memory. Missing entities return models.ErrNotFound.
type StaticEntityLoader struct {
	mu       sync.RWMutex
	entities map[string]models.JSONB
}

// NewStaticEntityLoader creates an empty loader
func NewStaticEntityLoader() *StaticEntityLoader {
	return &StaticEntityLoader{entities: make(map[string]models.JSONB)}
}

// Put stores a snapshot
func (l *StaticEntityLoader) Put(tenantID string, entityType models.EntityType, entityID string, data models.JSONB) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entities[entityKey(tenantID, entityType, entityID)] = data.Clone()
}

// LoadEntity returns a copy of the stored snapshot
func (l *StaticEntityLoader) LoadEntity(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) (models.JSONB, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.entities[entityKey(tenantID, entityType, entityID)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return data.Clone(), nil
}

// EntityCache is the subset of the Redis client used for entity snapshots
type EntityCache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) error
	SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

var _ EntityCache = (*database.RedisClient)(nil)

// CachedEntityLoader reads through a cache in front of another loader
type CachedEntityLoader struct {
	source EntityLoader
	cache  EntityCache
	ttl    time.Duration
	logger *logger.Logger
}

// NewCachedEntityLoader creates a read-through loader
func NewCachedEntityLoader(source EntityLoader, cache EntityCache, ttl time.Duration, log *logger.Logger) *CachedEntityLoader {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedEntityLoader{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: log,
	}
}

// LoadEntity returns the cached snapshot or loads and caches it
func (c *CachedEntityLoader) LoadEntity(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) (models.JSONB, error) {
	key := cacheKey(tenantID, entityType, entityID)

	var cached models.JSONB
	err := c.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		c.logger.Debug("Entity cache hit", logger.String("key", key))
		return cached, nil
	}
	if !errors.Is(err, database.ErrCacheMiss) {
		// A broken cache degrades to the source
		c.logger.Warn("Entity cache read failed", logger.String("key", key), logger.Err(err))
	}

	data, err := c.source.LoadEntity(ctx, tenantID, entityType, entityID)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetJSON(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Entity cache write failed", logger.String("key", key), logger.Err(err))
	}
	return data, nil
}

// Invalidate drops the cached snapshot of one entity
func (c *CachedEntityLoader) Invalidate(ctx context.Context, tenantID string, entityType models.EntityType, entityID string) error {
	return c.cache.Delete(ctx, cacheKey(tenantID, entityType, entityID))
}

// Prime stores a snapshot pushed by the CRM. A ttl of zero uses the loader's TTL.
func (c *CachedEntityLoader) Prime(ctx context.Context, tenantID string, entityType models.EntityType, entityID string, data models.JSONB, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.cache.SetJSON(ctx, cacheKey(tenantID, entityType, entityID), data, ttl)
}

func entityKey(tenantID string, entityType models.EntityType, entityID string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, entityType, entityID)
}

func cacheKey(tenantID string, entityType models.EntityType, entityID string) string {
	return "entity:" + entityKey(tenantID, entityType, entityID)
}

// enrichEntity adds computed fields used by executors and suggestion rules
func enrichEntity(entity models.JSONB, now time.Time) models.JSONB {
	out := entity.Clone()
	if out == nil {
		out = models.JSONB{}
	}

	computed := map[string]interface{}{
		"current_date": now.Format("2006-01-02"),
	}

	if raw, ok := out.String("last_activity_at"); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			computed["days_since_activity"] = int(now.Sub(t).Hours() / 24)
		}
	}
	if raw, ok := out.String("created_at"); ok {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			age := int(now.Sub(t).Hours() / 24)
			computed["age_days"] = age
			computed["is_new"] = age < 30
		}
	}
	owner, _ := out.String("owner_id")
	computed["has_owner"] = owner != ""
	_, scored := out.Float("score")
	computed["is_scored"] = scored

	out["_computed"] = computed
	return out
}

// computedInt reads an integer computed by enrichEntity
func computedInt(entity models.JSONB, key string) (int, bool) {
	computed, ok := entity["_computed"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	v, ok := computed[key].(int)
	return v, ok
}

// computedBool reads a boolean computed by enrichEntity
func computedBool(entity models.JSONB, key string) bool {
	computed, ok := entity["_computed"].(map[string]interface{})
	if !ok {
		return false
	}
	v, _ := computed[key].(bool)
	return v
}

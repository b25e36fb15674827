// Package seeds loads demo data into a development deployment: entity
// snapshots for the engine's cache, scheduled actions, and credentials.
package seeds

import (
	"context"
	"fmt"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/auth"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
)

// EntitySnapshot is one CRM record as the engine sees it
type EntitySnapshot struct {
	EntityType models.EntityType `json:"entity_type" yaml:"entity_type"`
	EntityID   string            `json:"entity_id" yaml:"entity_id"`
	Data       models.JSONB      `json:"data" yaml:"data"`
}

// EntityPrimer writes snapshots where the engine's loader will find them
type EntityPrimer interface {
	Prime(ctx context.Context, tenantID string, entityType models.EntityType, entityID string, data models.JSONB, ttl time.Duration) error
}

// Scheduler creates scheduled actions
type Scheduler interface {
	BulkScheduleActions(ctx context.Context, reqs []models.ScheduleRequest) ([]*models.ScheduledAction, []error)
}

// Seeder loads demo data for one tenant
type Seeder struct {
	tenantID string
	logger   *logger.Logger
}

// NewSeeder creates a seeder for tenantID
func NewSeeder(tenantID string, log *logger.Logger) *Seeder {
	return &Seeder{tenantID: tenantID, logger: log.WithTenant(tenantID)}
}

// DemoEntities returns a small pipeline covering every suggestion rule
func DemoEntities(now time.Time) []EntitySnapshot {
	day := 24 * time.Hour
	ts := func(d time.Duration) string { return now.Add(-d).UTC().Format(time.RFC3339) }

	return []EntitySnapshot{
		{
			EntityType: models.EntityTypeLead,
			EntityID:   "lead-1001",
			Data: models.JSONB{
				"name":             "Ana Lopez",
				"company":          "Initech",
				"email":            "ana@initech.example",
				"source":           "webinar",
				"status":           "new",
				"created_at":       ts(2 * day),
				"last_activity_at": ts(1 * day),
			},
		},
		{
			EntityType: models.EntityTypeLead,
			EntityID:   "lead-1002",
			Data: models.JSONB{
				"name":             "Ravi Shah",
				"company":          "Globex",
				"status":           "contacted",
				"owner_id":         "user-7",
				"score":            72.0,
				"created_at":       ts(40 * day),
				"last_activity_at": ts(21 * day),
			},
		},
		{
			EntityType: models.EntityTypeOpportunity,
			EntityID:   "opp-2001",
			Data: models.JSONB{
				"name":             "Globex renewal",
				"stage":            "proposal",
				"amount":           48000.0,
				"owner_id":         "user-7",
				"created_at":       ts(60 * day),
				"last_activity_at": ts(3 * day),
			},
		},
		{
			EntityType: models.EntityTypeCustomer,
			EntityID:   "cust-3001",
			Data: models.JSONB{
				"name":             "Umbrella Corp",
				"tier":             "enterprise",
				"owner_id":         "user-3",
				"created_at":       ts(400 * day),
				"last_activity_at": ts(45 * day),
			},
		},
	}
}

// DemoSchedules returns recurring and one-shot actions over DemoEntities
func DemoSchedules(now time.Time) []models.ScheduleRequest {
	soon := now.Add(time.Minute).UTC()
	nextWeek := now.Add(7 * 24 * time.Hour).UTC()
	days := 3
	maxRuns := 4

	return []models.ScheduleRequest{
		{
			EntityType: models.EntityTypeLead,
			EntityID:   "lead-1001",
			Action:     models.ActionScoreLead,
			Priority:   models.PriorityHigh,
			Timing:     models.Timing{ScheduledAt: &soon},
		},
		{
			EntityType: models.EntityTypeLead,
			EntityID:   "lead-1002",
			Action:     models.ActionDetectStale,
			Params:     models.JSONB{"days_inactive": 14},
			Timing: models.Timing{RecurringPattern: &models.RecurringPattern{
				Type:     models.RecurrenceDaily,
				Interval: 1,
			}},
		},
		{
			EntityType:    models.EntityTypeOpportunity,
			EntityID:      "opp-2001",
			Action:        models.ActionGenerateFollowUp,
			Params:        models.JSONB{"days": days, "channel": "email"},
			MaxExecutions: &maxRuns,
			Timing: models.Timing{RecurringPattern: &models.RecurringPattern{
				Type:       models.RecurrenceWeekly,
				Interval:   1,
				DaysOfWeek: []int{1, 4},
			}},
		},
		{
			EntityType: models.EntityTypeCustomer,
			EntityID:   "cust-3001",
			Action:     models.ActionSummarize,
			Priority:   models.PriorityLow,
			Timing: models.Timing{RecurringPattern: &models.RecurringPattern{
				Type:           models.RecurrenceCron,
				CronExpression: "0 8 1 * *",
			}},
		},
		{
			EntityType: models.EntityTypeCustomer,
			EntityID:   "cust-3001",
			Action:     models.ActionAutoAssign,
			Params:     models.JSONB{"strategy": "round_robin", "candidates": []interface{}{"user-3", "user-7"}},
			Timing:     models.Timing{ScheduledAt: &nextWeek},
		},
	}
}

// SeedEntities primes every snapshot and returns how many were written
func (s *Seeder) SeedEntities(ctx context.Context, primer EntityPrimer, snapshots []EntitySnapshot, ttl time.Duration) (int, error) {
	for i, snap := range snapshots {
		if !snap.EntityType.Valid() || snap.EntityID == "" {
			return i, fmt.Errorf("snapshot %d: entity_type and entity_id are required", i)
		}
		if err := primer.Prime(ctx, s.tenantID, snap.EntityType, snap.EntityID, snap.Data, ttl); err != nil {
			return i, fmt.Errorf("failed to prime %s %s: %w", snap.EntityType, snap.EntityID, err)
		}
		s.logger.Debug("Entity primed",
			logger.String("entity_type", string(snap.EntityType)),
			logger.String("entity_id", snap.EntityID),
		)
	}
	s.logger.Info("Entity snapshots seeded", logger.Int("count", len(snapshots)))
	return len(snapshots), nil
}

// SeedSchedules creates the requests for this tenant. Failed requests are logged and skipped.
func (s *Seeder) SeedSchedules(ctx context.Context, scheduler Scheduler, reqs []models.ScheduleRequest) ([]*models.ScheduledAction, error) {
	pinned := make([]models.ScheduleRequest, len(reqs))
	for i, req := range reqs {
		req.TenantID = s.tenantID
		pinned[i] = req
	}

	actions, errs := scheduler.BulkScheduleActions(ctx, pinned)

	created := make([]*models.ScheduledAction, 0, len(actions))
	failed := 0
	for i, action := range actions {
		if errs[i] != nil {
			failed++
			s.logger.Warn("Failed to seed scheduled action",
				logger.String("action", string(pinned[i].Action)),
				logger.String("entity_id", pinned[i].EntityID),
				logger.Err(errs[i]),
			)
			continue
		}
		created = append(created, action)
	}

	s.logger.Info("Scheduled actions seeded", logger.Int("created", len(created)), logger.Int("failed", failed))
	if len(created) == 0 && failed > 0 {
		return nil, fmt.Errorf("all %d scheduled actions failed", failed)
	}
	return created, nil
}

// Credentials lets a developer call the API as the seeded tenant
type Credentials struct {
	TenantID    string   `json:"tenant_id"`
	AccessToken string   `json:"access_token"`
	Permissions []string `json:"permissions"`
	APIKey      string   `json:"api_key"`

	// APIKeyEntry is the tenant:hash pair for the API_KEYS setting
	APIKeyEntry string `json:"api_key_entry"`
}

// TokenIssuer mints access tokens
type TokenIssuer interface {
	GenerateAccessToken(tenantID, userID string, permissions []string) (string, error)
}

// MintCredentials issues a token with perms and a fresh API key for the tenant
func (s *Seeder) MintCredentials(issuer TokenIssuer, userID string, perms []string) (*Credentials, error) {
	token, err := issuer.GenerateAccessToken(s.tenantID, userID, perms)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	key, err := auth.GenerateAPIKey(s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate API key: %w", err)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to hash API key: %w", err)
	}

	return &Credentials{
		TenantID:    s.tenantID,
		AccessToken: token,
		Permissions: perms,
		APIKey:      key,
		APIKeyEntry: s.tenantID + ":" + hash,
	}, nil
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// ScheduleStore keeps scheduled actions in a map guarded by one mutex
type ScheduleStore struct {
	mu      sync.RWMutex
	actions map[string]*models.ScheduledAction
}

// NewScheduleStore creates an empty ScheduleStore
func NewScheduleStore() *ScheduleStore {
	return &ScheduleStore{actions: make(map[string]*models.ScheduledAction)}
}

// Create adds a new action
func (s *ScheduleStore) Create(ctx context.Context, action *models.ScheduledAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.actions[action.ID]; exists {
		return fmt.Errorf("scheduled action %s already exists", action.ID)
	}
	s.actions[action.ID] = action.Clone()
	return nil
}

// Get returns a copy of an action
func (s *ScheduleStore) Get(ctx context.Context, id string) (*models.ScheduledAction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	action, ok := s.actions[id]
	if !ok {
		return nil, fmt.Errorf("scheduled action %s: %w", id, models.ErrNotFound)
	}
	return action.Clone(), nil
}

// Update replaces an action while its stored status is expected
func (s *ScheduleStore) Update(ctx context.Context, action *models.ScheduledAction, expected models.ScheduleStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.actions[action.ID]
	if !ok {
		return fmt.Errorf("scheduled action %s: %w", action.ID, models.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("scheduled action %s is %s, expected %s: %w", action.ID, current.Status, expected, models.ErrInvalidTransition)
	}
	s.actions[action.ID] = action.Clone()
	return nil
}

// List returns a tenant's matching actions, oldest first. An empty tenantID matches every tenant.
func (s *ScheduleStore) List(ctx context.Context, tenantID string, filter models.ScheduledActionFilter) ([]*models.ScheduledAction, error) {
	s.mu.RLock()
	out := make([]*models.ScheduledAction, 0)
	for _, action := range s.actions {
		if tenantID != "" && action.TenantID != tenantID {
			continue
		}
		if filter.Matches(action) {
			out = append(out, action.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListDue returns active actions due at or before now, earliest first
func (s *ScheduleStore) ListDue(ctx context.Context, now time.Time) ([]*models.ScheduledAction, error) {
	s.mu.RLock()
	out := make([]*models.ScheduledAction, 0)
	for _, action := range s.actions {
		if action.Status == models.ScheduleStatusActive && action.NextRunAt != nil && !action.NextRunAt.After(now) {
			out = append(out, action.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].NextRunAt.Equal(*out[j].NextRunAt) {
			return out[i].NextRunAt.Before(*out[j].NextRunAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Stats counts actions per status and kind
func (s *ScheduleStore) Stats(ctx context.Context) (*models.SchedulerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &models.SchedulerStats{TotalScheduled: len(s.actions)}
	for _, action := range s.actions {
		switch action.Status {
		case models.ScheduleStatusActive:
			stats.ActiveCount++
			if action.NextRunAt != nil && (stats.NextDueAt == nil || action.NextRunAt.Before(*stats.NextDueAt)) {
				t := *action.NextRunAt
				stats.NextDueAt = &t
			}
		case models.ScheduleStatusPaused:
			stats.PausedCount++
		case models.ScheduleStatusCancelled:
			stats.CancelledCount++
		case models.ScheduleStatusCompleted:
			stats.CompletedCount++
		}
		if action.IsRecurring() {
			stats.RecurringCount++
		} else {
			stats.OneShotCount++
		}
	}
	return stats, nil
}

// DeleteTerminalBefore removes cancelled and completed actions updated before cutoff
func (s *ScheduleStore) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, action := range s.actions {
		if action.Status.IsTerminal() && action.UpdatedAt.Before(cutoff) {
			delete(s.actions, id)
			n++
		}
	}
	return n, nil
}

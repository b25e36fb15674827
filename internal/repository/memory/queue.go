// Package memory provides in-process repositories for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// QueueStore keeps queue items in a map guarded by one mutex
type QueueStore struct {
	mu    sync.Mutex
	items map[string]*models.QueueItem
}

// NewQueueStore creates an empty QueueStore
func NewQueueStore() *QueueStore {
	return &QueueStore{items: make(map[string]*models.QueueItem)}
}

// Insert adds a new item
func (s *QueueStore) Insert(ctx context.Context, item *models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("queue item %s already exists", item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// Get returns a copy of an item
func (s *QueueStore) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("queue item %s: %w", id, models.ErrNotFound)
	}
	return item.Clone(), nil
}

// Update replaces an item while its stored status is expected
func (s *QueueStore) Update(ctx context.Context, item *models.QueueItem, expected models.QueueItemStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("queue item %s: %w", item.ID, models.ErrNotFound)
	}
	if current.Status != expected {
		return fmt.Errorf("queue item %s is %s, expected %s: %w", item.ID, current.Status, expected, models.ErrInvalidTransition)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// UpdateClaimed replaces an item while it is processing under claimID
func (s *QueueStore) UpdateClaimed(ctx context.Context, item *models.QueueItem, claimID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.items[item.ID]
	if !ok {
		return fmt.Errorf("queue item %s: %w", item.ID, models.ErrNotFound)
	}
	if current.Status != models.QueueItemStatusProcessing || current.ClaimID == nil || *current.ClaimID != claimID {
		return fmt.Errorf("queue item %s: %w", item.ID, models.ErrStaleClaim)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

// ClaimNext moves the first eligible pending item to processing
func (s *QueueStore) ClaimNext(ctx context.Context, now time.Time, claimID string) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *models.QueueItem
	for _, item := range s.items {
		if item.Status != models.QueueItemStatusPending || item.AvailableAt.After(now) {
			continue
		}
		if next == nil || item.Before(next) {
			next = item
		}
	}
	if next == nil {
		return nil, nil
	}

	claim := claimID
	started := now
	next.Status = models.QueueItemStatusProcessing
	next.ClaimID = &claim
	next.ProcessingStartedAt = &started
	next.LastAttemptAt = &started
	next.UpdatedAt = now
	return next.Clone(), nil
}

// List returns matching items in dequeue order
func (s *QueueStore) List(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error) {
	s.mu.Lock()
	out := make([]*models.QueueItem, 0)
	for _, item := range s.items {
		if filter.Matches(item) {
			out = append(out, item.Clone())
		}
	}
	s.mu.Unlock()

	models.SortByDequeueOrder(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// DeleteWhere removes and returns matching items
func (s *QueueStore) DeleteWhere(ctx context.Context, filter models.QueueFilter) ([]*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []*models.QueueItem
	for id, item := range s.items {
		if filter.Matches(item) {
			removed = append(removed, item)
			delete(s.items, id)
		}
	}
	models.SortByDequeueOrder(removed)
	return removed, nil
}

// Stats counts items per status and pending items per priority
func (s *QueueStore) Stats(ctx context.Context) (*models.QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &models.QueueStats{ByPriority: make(map[string]int)}
	for _, item := range s.items {
		switch item.Status {
		case models.QueueItemStatusPending:
			stats.PendingCount++
			stats.ByPriority[string(item.Priority)]++
		case models.QueueItemStatusProcessing:
			stats.ProcessingCount++
		case models.QueueItemStatusCompleted:
			stats.CompletedCount++
		case models.QueueItemStatusFailed:
			stats.FailedCount++
		case models.QueueItemStatusDeadLettered:
			stats.DLQCount++
		}
	}
	return stats, nil
}

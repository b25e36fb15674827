package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// AuditStore is an append-only in-memory audit log
type AuditStore struct {
	mu      sync.RWMutex
	entries []*models.AuditEntry
}

// NewAuditStore creates an empty AuditStore
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

// Create appends an entry
func (s *AuditStore) Create(ctx context.Context, entry *models.AuditEntry) error {
	cp := *entry
	cp.Details = entry.Details.Clone()

	s.mu.Lock()
	s.entries = append(s.entries, &cp)
	s.mu.Unlock()
	return nil
}

// List returns a tenant's matching entries, newest first
func (s *AuditStore) List(ctx context.Context, tenantID string, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.RLock()
	out := make([]*models.AuditEntry, 0)
	for _, e := range s.entries {
		if e.TenantID != tenantID || !filter.Matches(e) {
			continue
		}
		cp := *e
		cp.Details = e.Details.Clone()
		out = append(out, &cp)
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*models.AuditEntry{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

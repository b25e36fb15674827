package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davidmoltin/ai-action-queue/internal/models"
	"github.com/davidmoltin/ai-action-queue/pkg/database"
	"github.com/davidmoltin/ai-action-queue/pkg/llm"
)

// mockExecutor returns a fixed output unless executeFunc is set
type mockExecutor struct {
	executeFunc func(ctx context.Context, req ExecutionRequest) (*ExecutorOutput, error)
	calls       int
	mu          sync.Mutex
}

func (m *mockExecutor) Name() string { return "mock" }

func (m *mockExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutorOutput, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.executeFunc != nil {
		return m.executeFunc(ctx, req)
	}
	return &ExecutorOutput{Confidence: 0.9, Summary: "ok"}, nil
}

func fixedConfidence(c float64) *mockExecutor {
	return &mockExecutor{
		executeFunc: func(ctx context.Context, req ExecutionRequest) (*ExecutorOutput, error) {
			return &ExecutorOutput{Confidence: c, Summary: "done", Payload: models.JSONB{"k": "v"}}, nil
		},
	}
}

// memoryAudit is an in-package audit store
type memoryAudit struct {
	mu        sync.Mutex
	entries   []*models.AuditEntry
	createErr error
}

func (m *memoryAudit) Create(ctx context.Context, entry *models.AuditEntry) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAudit) List(ctx context.Context, tenantID string, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.AuditEntry
	for _, e := range m.entries {
		if e.TenantID == tenantID && filter.Matches(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *memoryAudit) all() []*models.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditEntry(nil), m.entries...)
}

// mockCommitter records commits
type mockCommitter struct {
	commitFunc func(ctx context.Context, action models.ActionType, ec ExecutionContext, out *ExecutorOutput) error
	commits    []models.ActionType
}

func (m *mockCommitter) Commit(ctx context.Context, action models.ActionType, ec ExecutionContext, out *ExecutorOutput) error {
	if m.commitFunc != nil {
		if err := m.commitFunc(ctx, action, ec, out); err != nil {
			return err
		}
	}
	m.commits = append(m.commits, action)
	return nil
}

// mockLLMClient answers every chat with content or err
type mockLLMClient struct {
	content  string
	err      error
	requests []*llm.ChatRequest
}

func (m *mockLLMClient) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ChatResponse{Content: m.content, Provider: llm.ProviderAnthropic}, nil
}

func (m *mockLLMClient) GetProvider() llm.Provider { return llm.ProviderAnthropic }


// mapCache is an EntityCache backed by a map
type mapCache struct {
	data    map[string]models.JSONB
	getErr  error
	sets    int
	deletes int
}

func newMapCache() *mapCache {
	return &mapCache{data: make(map[string]models.JSONB)}
}

func (c *mapCache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	if c.getErr != nil {
		return c.getErr
	}
	v, ok := c.data[key]
	if !ok {
		return database.ErrCacheMiss
	}
	out, ok := dest.(*models.JSONB)
	if !ok {
		return fmt.Errorf("unexpected destination %T", dest)
	}
	*out = v.Clone()
	return nil
}

func (c *mapCache) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.sets++
	v, ok := value.(models.JSONB)
	if !ok {
		return fmt.Errorf("unexpected value %T", value)
	}
	c.data[key] = v.Clone()
	return nil
}

func (c *mapCache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		c.deletes++
		delete(c.data, k)
	}
	return nil
}

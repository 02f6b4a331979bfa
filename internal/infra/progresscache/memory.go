// Package progresscache provides the ProgressCache implementations: a
// Valkey-backed store for production and an in-memory fake for tests.
package progresscache

import (
	"context"
	"sync"
	"time"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// MemoryCache is an in-memory ProgressCache used by tests and local dev.
type MemoryCache struct {
	mu      sync.Mutex
	tasks   map[string]entry[ingest.TaskRecord]
	results map[string]entry[ingest.CachedResult]
	order   []string
}

// NewMemoryCache constructs an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		tasks:   make(map[string]entry[ingest.TaskRecord]),
		results: make(map[string]entry[ingest.CachedResult]),
	}
}

func (c *MemoryCache) WriteTask(_ context.Context, rec ingest.TaskRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.tasks[rec.TaskID]; !exists {
		c.order = append(c.order, rec.TaskID)
	}
	c.tasks[rec.TaskID] = entry[ingest.TaskRecord]{value: rec, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) ReadTask(_ context.Context, taskID string) (ingest.TaskRecord, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tasks[taskID]
	if !ok || time.Now().After(e.expiresAt) {
		return ingest.TaskRecord{}, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) WriteResult(_ context.Context, taskID string, result ingest.CachedResult, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[taskID] = entry[ingest.CachedResult]{value: result, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) ReadResult(_ context.Context, taskID string) (ingest.CachedResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.results[taskID]
	if !ok || time.Now().After(e.expiresAt) {
		return ingest.CachedResult{}, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) DeleteTask(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tasks, taskID)
	// all_tasks list is left stale on delete, per spec §9's open question.
	return nil
}

func (c *MemoryCache) ListTaskIDs(_ context.Context, offset, limit int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if offset >= len(c.order) {
		return nil, nil
	}
	end := len(c.order)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]string, end-offset)
	copy(out, c.order[offset:end])
	return out, nil
}

var _ ingest.ProgressCache = (*MemoryCache)(nil)

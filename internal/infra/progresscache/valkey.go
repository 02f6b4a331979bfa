package progresscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/ahmedafzal98/pdf-rag-api/internal/domain/ingest"
)

// ValkeyCache implements ProgressCache over a Valkey-compatible database,
// following the GET/SET-with-TTL pattern used for the FAQ answer cache.
type ValkeyCache struct {
	client valkey.Client
	prefix string
}

// NewValkeyCache constructs a ValkeyCache.
func NewValkeyCache(client valkey.Client, prefix string) *ValkeyCache {
	if prefix == "" {
		prefix = "pdfrag"
	}
	return &ValkeyCache{client: client, prefix: prefix}
}

func (c *ValkeyCache) WriteTask(ctx context.Context, rec ingest.TaskRecord, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.setString(ctx, c.taskKey(rec.TaskID), string(payload), ttl); err != nil {
		return err
	}
	return c.client.Do(ctx, c.client.B().Zadd().Key(c.allTasksKey()).
		ScoreMember().ScoreMember(float64(time.Now().Unix()), rec.TaskID).Build()).Error()
}

func (c *ValkeyCache) ReadTask(ctx context.Context, taskID string) (ingest.TaskRecord, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(c.taskKey(taskID)).Build())
	payload, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return ingest.TaskRecord{}, false, nil
		}
		return ingest.TaskRecord{}, false, err
	}
	var rec ingest.TaskRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return ingest.TaskRecord{}, false, err
	}
	return rec, true, nil
}

func (c *ValkeyCache) WriteResult(ctx context.Context, taskID string, result ingest.CachedResult, ttl time.Duration) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.setString(ctx, c.resultKey(taskID), string(payload), ttl)
}

func (c *ValkeyCache) ReadResult(ctx context.Context, taskID string) (ingest.CachedResult, bool, error) {
	resp := c.client.Do(ctx, c.client.B().Get().Key(c.resultKey(taskID)).Build())
	payload, err := resp.ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return ingest.CachedResult{}, false, nil
		}
		return ingest.CachedResult{}, false, err
	}
	var result ingest.CachedResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return ingest.CachedResult{}, false, err
	}
	return result, true, nil
}

func (c *ValkeyCache) DeleteTask(ctx context.Context, taskID string) error {
	// all_tasks is left stale on delete: advisory only, per spec §9.
	return c.client.Do(ctx, c.client.B().Del().Key(c.taskKey(taskID)).Build()).Error()
}

func (c *ValkeyCache) ListTaskIDs(ctx context.Context, offset, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	resp := c.client.Do(ctx, c.client.B().Zrevrange().Key(c.allTasksKey()).
		Start(int64(offset)).Stop(int64(offset+limit-1)).Build())
	return resp.AsStrSlice()
}

func (c *ValkeyCache) setString(ctx context.Context, key, value string, ttl time.Duration) error {
	builder := c.client.B().Set().Key(key).Value(value)
	var cmd valkey.Completed
	if ttl > 0 {
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return c.client.Do(ctx, cmd).Error()
}

func (c *ValkeyCache) taskKey(taskID string) string   { return c.prefix + ":task:" + taskID }
func (c *ValkeyCache) resultKey(taskID string) string { return c.prefix + ":result:" + taskID }
func (c *ValkeyCache) allTasksKey() string            { return c.prefix + ":all_tasks" }

var _ ingest.ProgressCache = (*ValkeyCache)(nil)

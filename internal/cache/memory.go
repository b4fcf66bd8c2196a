package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	value     string
	count     int64
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is a process-local Cache for single-binary runs.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]entry
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]entry), now: time.Now}
}

func (c *MemoryCache) Ping(ctx context.Context) error { return nil }

func (c *MemoryCache) SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: status}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.items[JobStatusKey(jobID)] = e
	return nil
}

func (c *MemoryCache) GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[JobStatusKey(jobID)]
	if !ok || e.expired(c.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	e, ok := c.items[key]
	if !ok || e.expired(now) {
		e = entry{}
	}
	e.count++
	e.expiresAt = now.Add(expiry)
	c.items[key] = e
	return e.count, nil
}

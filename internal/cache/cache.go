package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Entry is a cached payload together with the moment it was stored.
type Entry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"stored_at"`
}

type CatalogCache interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

func MachinesKey(branchID string) string {
	return "machines:" + branchID
}

const ServicesKey = "services"

type NoopCatalogCache struct{}

func (NoopCatalogCache) Get(_ context.Context, _ string) (*Entry, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error {
	return nil
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryCatalogCache is the process-local fallback used when Redis is not
// configured.
type MemoryCatalogCache struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

func NewMemoryCatalogCache() *MemoryCatalogCache {
	return &MemoryCatalogCache{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (c *MemoryCatalogCache) WithClock(now func() time.Time) *MemoryCatalogCache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

func (c *MemoryCatalogCache) Get(_ context.Context, key string) (*Entry, bool, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	now := c.now()
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !item.expiresAt.IsZero() && !now.Before(item.expiresAt) {
		c.mu.Lock()
		if current, still := c.items[key]; still && current.expiresAt.Equal(item.expiresAt) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	entry := item.entry
	entry.Data = append(json.RawMessage(nil), item.entry.Data...)
	return &entry, true, nil
}

func (c *MemoryCatalogCache) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	item := memoryItem{
		entry: Entry{Data: append(json.RawMessage(nil), data...), StoredAt: now},
	}
	if ttl > 0 {
		item.expiresAt = now.Add(ttl)
	}
	c.items[key] = item
	return nil
}

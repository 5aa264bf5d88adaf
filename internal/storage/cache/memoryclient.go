package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryClient is an in-process CacheClient used when Redis is not configured.
// Values are stored JSON-encoded so both backends round-trip identically.
type MemoryClient struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryClient) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok && !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		return ErrCacheMiss
	}
	return json.Unmarshal(entry.value, dest)
}

// Set stores value for ttl. A non-positive ttl keeps the entry until it is deleted.
func (c *MemoryClient) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	bytes, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := memoryEntry{value: bytes}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) Del(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *MemoryClient) Close() error {
	return nil
}

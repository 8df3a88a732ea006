package idempotency

import (
	"context"
	"sync"
	"time"
)

// Entry is what the guard remembers about a previously seen idempotency key.
type Entry struct {
	Hash      string `json:"hash"`
	MessageID string `json:"message_id,omitempty"`
}

// Cache is the short-TTL key store behind the guard. It is an optimization
// layer only: correctness still holds via the durable message lookup on a
// miss, which is what keeps multiple hub instances honest. Implementations
// are injected so a single-process map and a shared Redis satisfy the same
// contract.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Sweep evicts expired entries where the backend does not do it on its
	// own, and returns the approximate number of live entries.
	Sweep(ctx context.Context) (int, error)
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	me, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if c.now().After(me.expiresAt) {
		delete(c.entries, key)
		return nil, nil
	}

	entry := me.entry
	return &entry, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryEntry{entry: entry, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Sweep(_ context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, me := range c.entries {
		if now.After(me.expiresAt) {
			delete(c.entries, key)
		}
	}
	return len(c.entries), nil
}

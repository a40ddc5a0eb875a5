package tokenprice

import (
	"context"
	"sync"
	"time"
)

// Entry is a cached USD price.
type Entry struct {
	Symbol    string    `json:"symbol"`
	USDPrice  float64   `json:"usd_price"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Cache stores the last known price per symbol. Entries are never expired
// by the cache itself; the Service decides freshness.
type Cache interface {
	Get(ctx context.Context, symbol string) (Entry, bool, error)
	Set(ctx context.Context, e Entry) error
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(_ context.Context, symbol string) (Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[symbol]
	return e, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Symbol] = e
	return nil
}

// Len returns the number of cached symbols.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

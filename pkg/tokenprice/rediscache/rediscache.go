// Package rediscache provides a Redis-backed token price cache shared by
// several broker instances.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice"
)

// Cache stores token prices as JSON strings.
type Cache struct {
	client    goredis.Cmdable
	keyPrefix string
	retention time.Duration
}

var _ tokenprice.Cache = (*Cache)(nil)

// Option configures Cache.
type Option func(*Cache)

// WithKeyPrefix sets the Redis key prefix (default "gpb:tokenprice:").
func WithKeyPrefix(prefix string) Option {
	return func(c *Cache) { c.keyPrefix = prefix }
}

// WithRetention sets how long entries live in Redis (default 24h). It must
// exceed the service TTL so stale prices remain available as fallback.
func WithRetention(d time.Duration) Option {
	return func(c *Cache) { c.retention = d }
}

// New creates a Redis-backed cache.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Cache {
	c := &Cache{
		client:    client,
		keyPrefix: "gpb:tokenprice:",
		retention: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) key(symbol string) string {
	return c.keyPrefix + symbol
}

func (c *Cache) Get(ctx context.Context, symbol string) (tokenprice.Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(symbol)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return tokenprice.Entry{}, false, nil
	}
	if err != nil {
		return tokenprice.Entry{}, false, fmt.Errorf("redis get %s: %w", symbol, err)
	}

	var e tokenprice.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return tokenprice.Entry{}, false, fmt.Errorf("decode cached price %s: %w", symbol, err)
	}
	return e, true, nil
}

func (c *Cache) Set(ctx context.Context, e tokenprice.Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode price %s: %w", e.Symbol, err)
	}
	if err := c.client.Set(ctx, c.key(e.Symbol), raw, c.retention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", e.Symbol, err)
	}
	return nil
}

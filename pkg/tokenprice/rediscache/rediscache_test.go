//go:build integration

package rediscache_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice/rediscache"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestCache(t *testing.T, client *goredis.Client) *rediscache.Cache {
	t.Helper()
	prefix := "test:" + t.Name() + ":"
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return rediscache.New(client, rediscache.WithKeyPrefix(prefix), rediscache.WithRetention(time.Minute))
}

func TestCache_SetGet(t *testing.T) {
	c := newTestCache(t, newTestClient(t))
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "AKT")
	require.NoError(t, err)
	assert.False(t, ok)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, c.Set(ctx, tokenprice.Entry{Symbol: "AKT", USDPrice: 3.21, FetchedAt: at}))

	e, ok, err := c.Get(ctx, "AKT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3.21, e.USDPrice)
	assert.True(t, at.Equal(e.FetchedAt))
}

func TestCache_SharedBetweenServices(t *testing.T) {
	client := newTestClient(t)
	c := newTestCache(t, client)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, tokenprice.Entry{Symbol: "RNDR", USDPrice: 7, FetchedAt: time.Now()}))

	svc := tokenprice.New(failingSource{}, tokenprice.WithCache(c))
	p := svc.GetPrice(ctx, "RNDR")
	assert.Equal(t, tokenprice.SourceCached, p.Source)
	assert.Equal(t, 7.0, p.USDPrice)
}

type failingSource struct{}

func (failingSource) FetchPrices(context.Context, []string) (map[string]float64, error) {
	return nil, &tokenprice.Error{Code: tokenprice.CodeInvalidToken, Message: "unused"}
}

package tokenprice_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice"
)

// fakeClock advances itself whenever something waits on it.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

type fakeSource struct {
	mu     sync.Mutex
	calls  atomic.Int64
	prices map[string]float64
	errs   []error
	seen   [][]string
}

func (s *fakeSource) FetchPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	n := s.calls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, append([]string(nil), symbols...))
	if int(n) <= len(s.errs) && s.errs[n-1] != nil {
		return nil, s.errs[n-1]
	}
	out := make(map[string]float64)
	for _, sym := range symbols {
		if p, ok := s.prices[sym]; ok {
			out[sym] = p
		}
	}
	return out, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newService(src tokenprice.Source, clock *fakeClock, opts ...tokenprice.Option) *tokenprice.Service {
	base := []tokenprice.Option{tokenprice.WithClock(clock), tokenprice.WithLogger(quietLogger())}
	return tokenprice.New(src, append(base, opts...)...)
}

func TestGetPrice_CachedWithinTTL(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{prices: map[string]float64{"AKT": 3.5}}
	svc := newService(src, clock)
	ctx := context.Background()

	first := svc.GetPrice(ctx, "AKT")
	assert.Equal(t, tokenprice.SourceAPI, first.Source)
	assert.Equal(t, 3.5, first.USDPrice)

	clock.Advance(9 * time.Minute)
	second := svc.GetPrice(ctx, "akt")
	assert.Equal(t, tokenprice.SourceCached, second.Source)
	assert.Equal(t, 3.5, second.USDPrice)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestGetPrice_RefreshAfterTTL(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{prices: map[string]float64{"AKT": 3.5}}
	svc := newService(src, clock)
	ctx := context.Background()

	svc.GetPrice(ctx, "AKT")
	clock.Advance(11 * time.Minute)
	p := svc.GetPrice(ctx, "AKT")

	assert.Equal(t, tokenprice.SourceAPI, p.Source)
	assert.Equal(t, int64(2), src.calls.Load())
}

func TestGetPrice_FallbackWhenNoCache(t *testing.T) {
	clock := newFakeClock()
	netErr := &tokenprice.Error{Code: tokenprice.CodeNetwork, Message: "down"}
	src := &fakeSource{errs: []error{netErr, netErr, netErr}}
	svc := newService(src, clock)

	p := svc.GetPrice(context.Background(), "RNDR")
	assert.Equal(t, tokenprice.SourceFallback, p.Source)
	assert.Equal(t, 0.0, p.USDPrice)
	assert.Equal(t, int64(3), src.calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Waits())
}

func TestGetPrice_StaleCacheOnFailure(t *testing.T) {
	clock := newFakeClock()
	netErr := &tokenprice.Error{Code: tokenprice.CodeNetwork, Message: "down"}
	src := &fakeSource{prices: map[string]float64{"AKT": 2.0}, errs: []error{nil, netErr, netErr, netErr}}
	svc := newService(src, clock)
	ctx := context.Background()

	svc.GetPrice(ctx, "AKT")
	clock.Advance(time.Hour)
	p := svc.GetPrice(ctx, "AKT")

	assert.Equal(t, tokenprice.SourceCached, p.Source)
	assert.Equal(t, 2.0, p.USDPrice)
}

func TestGetPrice_InvalidTokenNotRetried(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{errs: []error{&tokenprice.Error{Code: tokenprice.CodeInvalidToken, Message: "bad id"}}}
	svc := newService(src, clock)

	p := svc.GetPrice(context.Background(), "NOPE")
	assert.Equal(t, tokenprice.SourceFallback, p.Source)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestGetPrice_MissingSymbolInResponse(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{prices: map[string]float64{}}
	svc := newService(src, clock)

	p := svc.GetPrice(context.Background(), "GHOST")
	assert.Equal(t, tokenprice.SourceFallback, p.Source)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestGetPrice_EmptySymbol(t *testing.T) {
	src := &fakeSource{}
	svc := newService(src, newFakeClock())

	p := svc.GetPrice(context.Background(), "  ")
	assert.Equal(t, tokenprice.SourceFallback, p.Source)
	assert.Equal(t, int64(0), src.calls.Load())
}

func TestGetPrice_RetryAfterHonoured(t *testing.T) {
	clock := newFakeClock()
	rl := &tokenprice.Error{Code: tokenprice.CodeRateLimit, Message: "slow down", RetryAfter: 5 * time.Second}
	src := &fakeSource{prices: map[string]float64{"TAO": 400}, errs: []error{rl}}
	svc := newService(src, clock)

	p := svc.GetPrice(context.Background(), "TAO")
	assert.Equal(t, tokenprice.SourceAPI, p.Source)
	assert.Equal(t, 400.0, p.USDPrice)
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Waits())
}

func TestGetPrice_ConcurrentCallersShareFetch(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{prices: map[string]float64{"AKT": 3.5}}
	svc := newService(src, clock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := svc.GetPrice(context.Background(), "AKT")
			assert.Equal(t, 3.5, p.USDPrice)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestGetPrices_Batch(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{prices: map[string]float64{"AKT": 3.5, "RNDR": 7, "TAO": 400}}
	svc := newService(src, clock)
	ctx := context.Background()

	svc.GetPrice(ctx, "AKT")
	got := svc.GetPrices(ctx, []string{"akt", "RNDR", "TAO", "RNDR", ""})

	require.Len(t, got, 3)
	assert.Equal(t, tokenprice.SourceCached, got["AKT"].Source)
	assert.Equal(t, tokenprice.SourceAPI, got["RNDR"].Source)
	assert.Equal(t, 400.0, got["TAO"].USDPrice)
	assert.Equal(t, int64(2), src.calls.Load())
	assert.Equal(t, []string{"RNDR", "TAO"}, src.seen[1])
}

func TestGetPrices_BatchFailureFallsBackPerSymbol(t *testing.T) {
	clock := newFakeClock()
	bad := &tokenprice.Error{Code: tokenprice.CodeInvalidToken, Message: "batch rejected"}
	src := &fakeSource{prices: map[string]float64{"AKT": 3.5, "GLM": 0.3}, errs: []error{bad}}
	svc := newService(src, clock)

	got := svc.GetPrices(context.Background(), []string{"AKT", "GLM"})
	assert.Equal(t, 3.5, got["AKT"].USDPrice)
	assert.Equal(t, 0.3, got["GLM"].USDPrice)
	assert.Equal(t, int64(3), src.calls.Load())
}

func TestGetPrices_AllFresh(t *testing.T) {
	src := &fakeSource{prices: map[string]float64{"AKT": 3.5}}
	svc := newService(src, newFakeClock())
	ctx := context.Background()

	svc.GetPrice(ctx, "AKT")
	got := svc.GetPrices(ctx, []string{"AKT"})
	assert.Equal(t, tokenprice.SourceCached, got["AKT"].Source)
	assert.Equal(t, int64(1), src.calls.Load())
}

func TestGetPrice_RateLimiterShared(t *testing.T) {
	clock := newFakeClock()
	src := &fakeSource{prices: map[string]float64{"A": 1, "B": 2, "C": 3}}
	svc := newService(src, clock, tokenprice.WithRateLimit(2, time.Minute))
	ctx := context.Background()

	svc.GetPrice(ctx, "A")
	svc.GetPrice(ctx, "B")
	assert.Equal(t, 2, svc.Limiter().Count())

	svc.GetPrice(ctx, "C")
	assert.Equal(t, []time.Duration{time.Minute}, clock.Waits())
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, tokenprice.IsRetryable(&tokenprice.Error{Code: tokenprice.CodeNetwork}))
	assert.True(t, tokenprice.IsRetryable(&tokenprice.Error{Code: tokenprice.CodeRateLimit}))
	assert.False(t, tokenprice.IsRetryable(&tokenprice.Error{Code: tokenprice.CodeInvalidToken}))
	assert.False(t, tokenprice.IsRetryable(errors.New("plain")))
}

// gatedSource blocks every fetch until release is closed.
type gatedSource struct {
	fakeSource
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSource) FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error) {
	s.once.Do(func() { close(s.started) })
	<-s.release
	return s.fakeSource.FetchPrices(ctx, symbols)
}

func TestGetPrice_JoinsInflightBatch(t *testing.T) {
	src := &gatedSource{
		fakeSource: fakeSource{prices: map[string]float64{"AKT": 3.5, "TAO": 400}},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	svc := newService(src, newFakeClock())
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		batch map[string]tokenprice.TokenPrice
		one   map[string]tokenprice.TokenPrice
		akt   tokenprice.TokenPrice
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		batch = svc.GetPrices(ctx, []string{"AKT", "TAO"})
	}()
	<-src.started

	wg.Add(2)
	go func() {
		defer wg.Done()
		akt = svc.GetPrice(ctx, "AKT")
	}()
	go func() {
		defer wg.Done()
		one = svc.GetPrices(ctx, []string{"akt"})
	}()
	time.Sleep(20 * time.Millisecond)
	close(src.release)
	wg.Wait()

	assert.Equal(t, int64(1), src.calls.Load())
	assert.Equal(t, 1, svc.Limiter().Count())
	assert.Equal(t, 3.5, akt.USDPrice)
	assert.Equal(t, 3.5, one["AKT"].USDPrice)
	assert.Equal(t, 400.0, batch["TAO"].USDPrice)
}

// Package tokenprice resolves USD prices for provider payment tokens with
// caching, rate limiting, request coalescing and retries.
package tokenprice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Defaults for the CoinGecko free tier.
const (
	DefaultCacheTTL    = 10 * time.Minute
	DefaultRateLimit   = 25
	DefaultRateWindow  = time.Minute
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = time.Second
)

// PriceSource tells where a price came from.
type PriceSource string

const (
	SourceAPI      PriceSource = "api"
	SourceCached   PriceSource = "cached"
	SourceFallback PriceSource = "fallback"
)

// TokenPrice is a resolved token rate.
type TokenPrice struct {
	Symbol      string      `json:"symbol"`
	USDPrice    float64     `json:"usd_price"`
	LastUpdated time.Time   `json:"last_updated"`
	Source      PriceSource `json:"source"`
}

// Source fetches USD prices for a batch of symbols. Missing symbols are
// simply absent from the result.
type Source interface {
	FetchPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Service serves token prices. It is safe for concurrent use.
type Service struct {
	source      Source
	cache       Cache
	limiter     *RateLimiter
	rateMax     int
	rateWindow  time.Duration
	clock       Clock
	logger      *slog.Logger
	ttl         time.Duration
	maxAttempts int
	baseBackoff time.Duration

	mu       sync.Mutex
	inflight map[string]*flight
}

// flight is one outstanding source fetch for a symbol. Batches register a
// flight per symbol they fetch, so single and batch callers join each other.
type flight struct {
	done   chan struct{}
	batch  int
	entry  Entry
	source PriceSource
	err    error
}

func (f *flight) wait(ctx context.Context) (TokenPrice, error) {
	select {
	case <-f.done:
	case <-ctx.Done():
		return TokenPrice{}, ctx.Err()
	}
	if f.err != nil {
		return TokenPrice{}, f.err
	}
	return TokenPrice{Symbol: f.entry.Symbol, USDPrice: f.entry.USDPrice, LastUpdated: f.entry.FetchedAt, Source: f.source}, nil
}

// Option configures a Service.
type Option func(*Service)

// WithCache replaces the in-memory cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithCacheTTL sets how long a cached price is served without a refresh.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// WithRateLimit sets the sliding window limit for source requests.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(s *Service) {
		s.rateMax = requests
		s.rateWindow = window
	}
}

// WithRetry sets the attempt count and base backoff.
func WithRetry(maxAttempts int, baseBackoff time.Duration) Option {
	return func(s *Service) {
		s.maxAttempts = maxAttempts
		s.baseBackoff = baseBackoff
	}
}

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a Service backed by source.
func New(source Source, opts ...Option) *Service {
	s := &Service{
		source:      source,
		clock:       SystemClock(),
		ttl:         DefaultCacheTTL,
		maxAttempts: DefaultMaxAttempts,
		baseBackoff: DefaultBaseBackoff,
		inflight:    make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = NewMemoryCache()
	}
	s.limiter = NewRateLimiter(s.rateMax, s.rateWindow, s.clock)
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	if s.baseBackoff <= 0 {
		s.baseBackoff = DefaultBaseBackoff
	}
	return s
}

// Limiter exposes the shared rate limiter.
func (s *Service) Limiter() *RateLimiter { return s.limiter }

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// GetPrice returns the USD price of symbol. It never fails: a stale cache
// entry is served when the source is unreachable, otherwise a zero price
// with source "fallback".
func (s *Service) GetPrice(ctx context.Context, symbol string) TokenPrice {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		s.logger.Warn("token price requested without symbol", "code", CodeInvalidToken)
		return s.fallback(symbol)
	}

	cached, hit := s.lookup(ctx, symbol)
	if hit && s.fresh(cached) {
		return TokenPrice{Symbol: symbol, USDPrice: cached.USDPrice, LastUpdated: cached.FetchedAt, Source: SourceCached}
	}

	tp, err := s.fetch(ctx, []string{symbol})[symbol].wait(ctx)
	if err == nil {
		return tp
	}

	return s.recover(symbol, cached, hit, err)
}

// GetPrices resolves several symbols with a single batched source call for
// every symbol not fresh in cache and not already being fetched. If a
// multi-symbol batch fails each symbol falls back to GetPrice.
func (s *Service) GetPrices(ctx context.Context, symbols []string) map[string]TokenPrice {
	out := make(map[string]TokenPrice, len(symbols))
	var missing []string
	seen := make(map[string]bool, len(symbols))

	for _, raw := range symbols {
		symbol := NormalizeSymbol(raw)
		if symbol == "" || seen[symbol] {
			continue
		}
		seen[symbol] = true
		if e, ok := s.lookup(ctx, symbol); ok && s.fresh(e) {
			out[symbol] = TokenPrice{Symbol: symbol, USDPrice: e.USDPrice, LastUpdated: e.FetchedAt, Source: SourceCached}
			continue
		}
		missing = append(missing, symbol)
	}
	if len(missing) == 0 {
		return out
	}
	sort.Strings(missing)

	flights := s.fetch(ctx, missing)
	for _, symbol := range missing {
		f := flights[symbol]
		tp, err := f.wait(ctx)
		switch {
		case err == nil:
			out[symbol] = tp
		case f.batch > 1:
			s.logger.Warn("batch token price fetch failed, falling back per symbol",
				"symbol", symbol,
				"error", err,
			)
			out[symbol] = s.GetPrice(ctx, symbol)
		default:
			cached, hit := s.lookup(ctx, symbol)
			out[symbol] = s.recover(symbol, cached, hit, err)
		}
	}
	return out
}

// fetch returns a flight for every symbol. Symbols already being fetched by
// another caller are joined; the rest are fetched here in one source call.
func (s *Service) fetch(ctx context.Context, symbols []string) map[string]*flight {
	flights := make(map[string]*flight, len(symbols))
	var lead []string

	s.mu.Lock()
	for _, symbol := range symbols {
		if f, ok := s.inflight[symbol]; ok {
			flights[symbol] = f
			continue
		}
		f := &flight{done: make(chan struct{})}
		s.inflight[symbol] = f
		flights[symbol] = f
		lead = append(lead, symbol)
	}
	for _, symbol := range lead {
		flights[symbol].batch = len(lead)
	}
	s.mu.Unlock()

	if len(lead) > 0 {
		s.lead(ctx, lead, flights)
	}
	return flights
}

func (s *Service) lead(ctx context.Context, symbols []string, flights map[string]*flight) {
	defer func() {
		s.mu.Lock()
		for _, symbol := range symbols {
			delete(s.inflight, symbol)
			close(flights[symbol].done)
		}
		s.mu.Unlock()
	}()

	// a flight may have finished between the caller's cache read and ours
	var need []string
	for _, symbol := range symbols {
		if e, ok := s.lookup(ctx, symbol); ok && s.fresh(e) {
			flights[symbol].entry = e
			flights[symbol].source = SourceCached
			continue
		}
		need = append(need, symbol)
	}
	if len(need) == 0 {
		return
	}

	prices, err := s.fetchWithRetry(ctx, need)
	now := s.clock.Now()
	for _, symbol := range need {
		f := flights[symbol]
		if err != nil {
			f.err = err
			continue
		}
		price, ok := prices[symbol]
		if !ok {
			f.err = &Error{Code: CodeInvalidToken, Symbol: symbol, Message: "symbol not returned by source"}
			continue
		}
		f.entry = Entry{Symbol: symbol, USDPrice: price, FetchedAt: now}
		f.source = SourceAPI
		s.store(ctx, f.entry)
	}
}

func (s *Service) fresh(e Entry) bool {
	return s.clock.Now().Sub(e.FetchedAt) < s.ttl
}

func (s *Service) lookup(ctx context.Context, symbol string) (Entry, bool) {
	e, ok, err := s.cache.Get(ctx, symbol)
	if err != nil {
		s.logger.Warn("token price cache read failed", "symbol", symbol, "error", err)
		return Entry{}, false
	}
	return e, ok
}

func (s *Service) store(ctx context.Context, e Entry) {
	if err := s.cache.Set(ctx, e); err != nil {
		s.logger.Warn("token price cache write failed", "symbol", e.Symbol, "error", err)
	}
}

func (s *Service) recover(symbol string, cached Entry, hit bool, err error) TokenPrice {
	if hit {
		stale := &Error{
			Code:    CodeCacheStale,
			Symbol:  symbol,
			Message: fmt.Sprintf("serving price from %s", cached.FetchedAt.Format(time.RFC3339)),
			Err:     err,
		}
		s.logger.Warn("token price fetch failed, using stale cache",
			"symbol", symbol,
			"code", stale.Code,
			"age", s.clock.Now().Sub(cached.FetchedAt).String(),
			"error", err,
		)
		return TokenPrice{Symbol: symbol, USDPrice: cached.USDPrice, LastUpdated: cached.FetchedAt, Source: SourceCached}
	}
	s.logger.Error("token price unavailable", "symbol", symbol, "error", err)
	return s.fallback(symbol)
}

func (s *Service) fallback(symbol string) TokenPrice {
	return TokenPrice{Symbol: symbol, USDPrice: 0, LastUpdated: s.clock.Now(), Source: SourceFallback}
}

// fetchWithRetry calls the source, retrying rate-limit and network failures
// with exponential backoff. A Retry-After hint longer than the backoff wins.
func (s *Service) fetchWithRetry(ctx context.Context, symbols []string) (map[string]float64, error) {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, &Error{Code: CodeNetwork, Message: "rate limiter wait aborted", Err: err}
		}

		prices, err := s.source.FetchPrices(ctx, symbols)
		if err == nil {
			return prices, nil
		}
		lastErr = err

		if !IsRetryable(err) || attempt == s.maxAttempts-1 {
			break
		}
		if ctx.Err() != nil {
			break
		}

		wait := s.baseBackoff << attempt
		if ra := retryAfter(err); ra > wait {
			wait = ra
		}
		s.logger.Debug("retrying token price fetch",
			"symbols", symbols,
			"attempt", attempt+1,
			"wait", wait.String(),
			"error", err,
		)
		select {
		case <-ctx.Done():
			return nil, errors.Join(lastErr, ctx.Err())
		case <-s.clock.After(wait):
		}
	}
	return nil, lastErr
}

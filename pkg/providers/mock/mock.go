// Package mock provides a configurable in-memory Adapter for tests.
package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
)

// Provider is a mock GPU provider.
type Provider struct {
	info        providers.ProviderInfo
	quotes      []model.PriceQuote
	latency     time.Duration
	latencyMs   int64
	ignoreCtx   bool
	unavailable bool
	staticErr   error
	callCount   atomic.Int64
	quoteFunc   func(providers.QuoteRequest) ([]model.PriceQuote, error)
}

var _ providers.Adapter = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		info: providers.ProviderInfo{
			ID:              "mock",
			Name:            "mock",
			PricingModels:   []model.PricingModel{model.PricingFixed},
			ReputationScore: 50,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.info.Name == "" {
		p.info.Name = p.info.ID
	}
	return p
}

// WithID sets the provider id.
func WithID(id string) Option {
	return func(p *Provider) {
		p.info.ID = id
		p.info.Name = id
	}
}

// WithInfo replaces the capability description. The id is kept if info.ID is empty.
func WithInfo(info providers.ProviderInfo) Option {
	return func(p *Provider) {
		if info.ID == "" {
			info.ID = p.info.ID
		}
		p.info = info
	}
}

// WithReputation sets the reputation score.
func WithReputation(score float64) Option {
	return func(p *Provider) { p.info.ReputationScore = score }
}

// WithQuotes sets the quotes returned on every call. GPU types and regions
// are added to Info when not already present.
func WithQuotes(quotes ...model.PriceQuote) Option {
	return func(p *Provider) {
		p.quotes = quotes
		for _, q := range quotes {
			p.info.GPUTypes = appendUnique(p.info.GPUTypes, q.GPUType)
			if q.Region != "" {
				p.info.Regions = appendUnique(p.info.Regions, q.Region)
			}
		}
	}
}

// WithLatency sleeps before answering. The context is honoured unless WithIgnoreContext is set.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithReportedLatency sets the LatencyMs reported in responses.
func WithReportedLatency(ms int64) Option {
	return func(p *Provider) { p.latencyMs = ms }
}

// WithIgnoreContext makes the simulated latency ignore cancellation.
func WithIgnoreContext() Option {
	return func(p *Provider) { p.ignoreCtx = true }
}

// WithUnavailable makes IsAvailable report false.
func WithUnavailable() Option {
	return func(p *Provider) { p.unavailable = true }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithQuoteFunc sets a custom quote function.
func WithQuoteFunc(fn func(providers.QuoteRequest) ([]model.PriceQuote, error)) Option {
	return func(p *Provider) { p.quoteFunc = fn }
}

func (p *Provider) ID() string { return p.info.ID }

func (p *Provider) Info() providers.ProviderInfo { return p.info }

func (p *Provider) IsAvailable(_ context.Context) bool { return !p.unavailable }

func (p *Provider) GetQuotes(ctx context.Context, req providers.QuoteRequest) (*providers.QuoteResponse, error) {
	p.callCount.Add(1)
	start := time.Now()

	if p.latency > 0 {
		if p.ignoreCtx {
			time.Sleep(p.latency)
		} else {
			select {
			case <-time.After(p.latency):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	if p.staticErr != nil {
		return nil, p.staticErr
	}

	quotes := p.quotes
	if p.quoteFunc != nil {
		var err error
		if quotes, err = p.quoteFunc(req); err != nil {
			return nil, err
		}
	}

	out := make([]model.PriceQuote, len(quotes))
	for i, q := range quotes {
		if q.ProviderID == "" {
			q.ProviderID = p.info.ID
		}
		if q.Currency == "" {
			q.Currency = model.CurrencyUSD
		}
		out[i] = q
	}

	latency := p.latencyMs
	if latency == 0 {
		latency = time.Since(start).Milliseconds()
	}
	return &providers.QuoteResponse{
		ProviderID: p.info.ID,
		Quotes:     out,
		LatencyMs:  latency,
		FetchedAt:  time.Now(),
	}, nil
}

// CallCount returns the number of GetQuotes calls made.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}

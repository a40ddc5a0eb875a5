// Package normalize converts heterogeneous provider quotes into a single
// comparable figure: effective USD per A100-equivalent GPU-hour.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/gpu"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/hiddencost"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice"
)

// Places is the rounding precision for every USD amount.
const Places = 6

// WarnZeroTokenPrice flags a token quote converted with a zero rate.
const WarnZeroTokenPrice = "zero token price"

var (
	ErrInvalidPrice    = errors.New("invalid price")
	ErrMissingSymbol   = errors.New("token quote without token symbol")
	ErrUnknownCurrency = errors.New("unknown currency")
)

// TokenPricer resolves token rates. *tokenprice.Service satisfies it.
type TokenPricer interface {
	GetPrice(ctx context.Context, symbol string) tokenprice.TokenPrice
}

// HiddenCostEstimator estimates per-GPU-hour overhead. *hiddencost.Estimator satisfies it.
type HiddenCostEstimator interface {
	Estimate(region string, gpuCount int, durationHours float64, workload model.Workload) model.HiddenCosts
}

// Normalizer applies the conversion pipeline to quotes.
type Normalizer struct {
	tokens TokenPricer
	hidden HiddenCostEstimator
	now    func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithHiddenCosts replaces the default estimator.
func WithHiddenCosts(h HiddenCostEstimator) Option {
	return func(n *Normalizer) { n.hidden = h }
}

// WithNow sets the clock used for ComputedAt.
func WithNow(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer. tokens may be nil when no token quotes are expected.
func New(tokens TokenPricer, opts ...Option) *Normalizer {
	n := &Normalizer{
		tokens: tokens,
		hidden: hiddencost.New(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// NormalizeQuote converts quote for job. It never returns an error: failures
// produce a record with HasError set and an infinite effective price.
func (n *Normalizer) NormalizeQuote(ctx context.Context, quote model.PriceQuote, job model.JobRequest) model.NormalizedPrice {
	out := model.NormalizedPrice{
		ProviderID:   quote.ProviderID,
		GPUType:      quote.GPUType,
		Region:       quote.Region,
		PricingModel: quote.PricingModel(),
		ComputedAt:   n.now(),
	}

	if err := n.normalize(ctx, quote, job, &out); err != nil {
		out.HasError = true
		out.Error = err.Error()
		out.USDPerGPUHour = 0
		out.EffectiveUSDPerA100Hour = math.Inf(1)
	}
	return out
}

func (n *Normalizer) normalize(ctx context.Context, quote model.PriceQuote, job model.JobRequest, out *model.NormalizedPrice) error {
	p := quote.PricePerHour
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return fmt.Errorf("%w: %v per hour", ErrInvalidPrice, p)
	}

	usd, err := n.toUSD(ctx, quote, out)
	if err != nil {
		return err
	}

	if quote.IsSpot {
		d := quote.SpotDiscountPercent
		if math.IsNaN(d) {
			return fmt.Errorf("%w: spot discount is NaN", ErrInvalidPrice)
		}
		clamped := math.Max(0, math.Min(100, d))
		if clamped != d {
			out.Warnings = append(out.Warnings, fmt.Sprintf("spot discount %.2f%% clamped to %.0f%%", d, clamped))
		}
		factor := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(clamped).Div(decimal.NewFromInt(100)))
		usd = usd.Mul(factor)
	}

	hc := n.hidden.Estimate(quote.Region, job.GPUCount, job.DurationHours, job.WorkloadOrDefault())
	out.HiddenCosts = hc
	if hc.RegionFallback {
		out.Warnings = append(out.Warnings, fmt.Sprintf("no hidden cost rates for region %q, using %s", quote.Region, hc.Region))
	}
	usd = usd.Add(decimal.NewFromFloat(hc.TotalPerHour)).Round(Places)
	out.USDPerGPUHour = usd.InexactFloat64()

	ratio, known := gpu.Ratio(quote.GPUType)
	if !known {
		out.Warnings = append(out.Warnings, fmt.Sprintf("unknown GPU type %q, assuming A100 equivalence", quote.GPUType))
	}
	out.A100Ratio = ratio
	out.EffectiveUSDPerA100Hour = usd.Div(decimal.NewFromFloat(ratio)).Round(Places).InexactFloat64()
	return nil
}

func (n *Normalizer) toUSD(ctx context.Context, quote model.PriceQuote, out *model.NormalizedPrice) (decimal.Decimal, error) {
	price := decimal.NewFromFloat(quote.PricePerHour)
	switch quote.Currency {
	case model.CurrencyUSD, "":
		return price, nil
	case model.CurrencyToken:
		symbol := tokenprice.NormalizeSymbol(quote.TokenSymbol)
		if symbol == "" {
			return decimal.Zero, ErrMissingSymbol
		}
		if n.tokens == nil {
			return decimal.Zero, fmt.Errorf("no token price service for %s", symbol)
		}
		tp := n.tokens.GetPrice(ctx, symbol)
		out.TokenRate = &model.TokenRate{Symbol: symbol, USDPrice: tp.USDPrice, Source: string(tp.Source)}
		if math.IsNaN(tp.USDPrice) || tp.USDPrice < 0 {
			return decimal.Zero, fmt.Errorf("%w: token rate %v for %s", ErrInvalidPrice, tp.USDPrice, symbol)
		}
		if tp.USDPrice == 0 {
			out.Warnings = append(out.Warnings, WarnZeroTokenPrice)
			return decimal.Zero, nil
		}
		return price.Mul(decimal.NewFromFloat(tp.USDPrice)), nil
	default:
		return decimal.Zero, fmt.Errorf("%w %q", ErrUnknownCurrency, quote.Currency)
	}
}

// NormalizeAll converts every quote in order.
func (n *Normalizer) NormalizeAll(ctx context.Context, quotes []model.PriceQuote, job model.JobRequest) []model.NormalizedPrice {
	out := make([]model.NormalizedPrice, len(quotes))
	for i, q := range quotes {
		out[i] = n.NormalizeQuote(ctx, q, job)
	}
	return out
}

// HasWarning reports whether np carries the given warning.
func HasWarning(np model.NormalizedPrice, warning string) bool {
	for _, w := range np.Warnings {
		if w == warning {
			return true
		}
	}
	return false
}

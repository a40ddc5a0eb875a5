package normalize

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// PriceComparison ranks one normalized price against its peers.
type PriceComparison struct {
	Rank                     int                   `json:"rank"`
	Price                    model.NormalizedPrice `json:"price"`
	SavingsPercent           float64               `json:"savings_percent"`
	SavingsVsPriciestPercent float64               `json:"savings_vs_priciest_percent"`
}

// ComparePrices orders valid prices from cheapest to most expensive.
// Errored records and token quotes without a rate are left out. SavingsPercent is how much more expensive a
// price is than the cheapest, relative to itself; it is 0 for rank 1.
func ComparePrices(prices []model.NormalizedPrice) []PriceComparison {
	valid := make([]model.NormalizedPrice, 0, len(prices))
	for _, p := range prices {
		if !p.HasError && !HasWarning(p, WarnZeroTokenPrice) {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].EffectiveUSDPerA100Hour != valid[j].EffectiveUSDPerA100Hour {
			return valid[i].EffectiveUSDPerA100Hour < valid[j].EffectiveUSDPerA100Hour
		}
		return valid[i].ProviderID < valid[j].ProviderID
	})

	cheapest := decimal.NewFromFloat(valid[0].EffectiveUSDPerA100Hour)
	priciest := decimal.NewFromFloat(valid[len(valid)-1].EffectiveUSDPerA100Hour)
	hundred := decimal.NewFromInt(100)

	out := make([]PriceComparison, len(valid))
	for i, p := range valid {
		price := decimal.NewFromFloat(p.EffectiveUSDPerA100Hour)
		c := PriceComparison{Rank: i + 1, Price: p}
		if i > 0 && price.IsPositive() {
			c.SavingsPercent = price.Sub(cheapest).Div(price).Mul(hundred).Round(2).InexactFloat64()
		}
		if priciest.IsPositive() {
			c.SavingsVsPriciestPercent = priciest.Sub(price).Div(priciest).Mul(hundred).Round(2).InexactFloat64()
		}
		out[i] = c
	}
	return out
}

// Package filter applies a job's hard constraints to providers and quotes.
// Every failed constraint yields one human readable reason.
package filter

import (
	"fmt"
	"strings"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/gpu"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
)

// CheckProvider tests capability-level constraints before any quote is fetched.
func CheckProvider(c model.Constraints, info providers.ProviderInfo) []string {
	var reasons []string

	if c.RequiredGPUType != "" && !info.OffersGPU(c.RequiredGPUType) {
		reasons = append(reasons, fmt.Sprintf("GPU type %s not offered", c.RequiredGPUType))
	}

	if len(c.PreferredRegions) > 0 && len(info.Regions) > 0 {
		match := false
		for _, r := range info.Regions {
			if c.PrefersRegion(r) >= 0 {
				match = true
				break
			}
		}
		if !match {
			reasons = append(reasons, fmt.Sprintf("no region in preferred list [%s]", strings.Join(c.PreferredRegions, ", ")))
		}
	}

	if len(info.PricingModels) > 0 {
		allExcluded := true
		for _, m := range info.PricingModels {
			if !c.Excludes(m) {
				allExcluded = false
				break
			}
		}
		if allExcluded {
			for _, m := range info.PricingModels {
				reasons = append(reasons, fmt.Sprintf("pricing model %s excluded", m))
			}
		}
	}

	if c.MinReputation > 0 && info.ReputationScore < c.MinReputation {
		reasons = append(reasons, fmt.Sprintf("reputation %s below minimum %s", num(info.ReputationScore), num(c.MinReputation)))
	}

	if !c.AllowsSpot() && info.SpotOnly() {
		reasons = append(reasons, "spot pricing disallowed and provider only offers spot")
	}

	return reasons
}

// CheckQuote tests a single quote and its normalized price.
func CheckQuote(c model.Constraints, quote model.PriceQuote, np model.NormalizedPrice) []string {
	var reasons []string

	if c.RequiredGPUType != "" && !gpu.Same(quote.GPUType, c.RequiredGPUType) {
		reasons = append(reasons, fmt.Sprintf("quoted GPU type %s does not match required GPU type %s", quote.GPUType, c.RequiredGPUType))
	}

	if len(c.PreferredRegions) > 0 && c.PrefersRegion(quote.Region) < 0 {
		reasons = append(reasons, fmt.Sprintf("quoted region %s not in preferred regions [%s]", quote.Region, strings.Join(c.PreferredRegions, ", ")))
	}

	for _, m := range quote.PricingModels() {
		if c.Excludes(m) {
			reasons = append(reasons, fmt.Sprintf("pricing model %s excluded", m))
		}
	}

	if quote.IsSpot && !c.AllowsSpot() {
		reasons = append(reasons, "spot quote rejected: spot pricing disallowed")
	}

	if np.HasError {
		reasons = append(reasons, fmt.Sprintf("normalization failed: %s", np.Error))
	} else if c.MaxPricePerHour > 0 && np.EffectiveUSDPerA100Hour > c.MaxPricePerHour {
		reasons = append(reasons, fmt.Sprintf("effective price $%.2f/A100-hr exceeds max $%.2f/hr", np.EffectiveUSDPerA100Hour, c.MaxPricePerHour))
	}

	return reasons
}

// Candidate pairs a quote with its normalized price.
type Candidate struct {
	Quote      model.PriceQuote
	Normalized model.NormalizedPrice
}

// Rejection is a quote that failed one or more constraints.
type Rejection struct {
	Candidate
	Reasons []string
}

// Apply splits candidates into survivors and rejections, keeping every reason.
func Apply(c model.Constraints, candidates []Candidate) (passed []Candidate, rejected []Rejection) {
	for _, cand := range candidates {
		if reasons := CheckQuote(c, cand.Quote, cand.Normalized); len(reasons) > 0 {
			rejected = append(rejected, Rejection{Candidate: cand, Reasons: reasons})
			continue
		}
		passed = append(passed, cand)
	}
	return passed, rejected
}

// num formats a score without trailing zeros.
func num(v float64) string {
	return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", v), "0"), ".")
}

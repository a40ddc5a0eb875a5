package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Currency is the denomination of a provider quote.
type Currency string

const (
	CurrencyUSD   Currency = "USD"
	CurrencyToken Currency = "TOKEN"
)

// PricingModel classifies how a quote is priced.
type PricingModel string

const (
	PricingFixed PricingModel = "fixed"
	PricingSpot  PricingModel = "spot"
	PricingToken PricingModel = "token"
)

// ParsePricingModel accepts the canonical names plus "auction" and "on-demand" aliases.
func ParsePricingModel(s string) (PricingModel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fixed", "on-demand", "ondemand":
		return PricingFixed, nil
	case "spot", "auction":
		return PricingSpot, nil
	case "token":
		return PricingToken, nil
	default:
		return "", fmt.Errorf("unknown pricing model %q", s)
	}
}

// Workload is the job class used for hidden cost assumptions.
type Workload string

const (
	WorkloadTraining  Workload = "training"
	WorkloadInference Workload = "inference"
)

// Constraints are the hard requirements a provider must satisfy.
type Constraints struct {
	RequiredGPUType       string         `json:"required_gpu_type,omitempty" yaml:"required_gpu_type"`
	PreferredRegions      []string       `json:"preferred_regions,omitempty" yaml:"preferred_regions"`
	MaxPricePerHour       float64        `json:"max_price_per_hour,omitempty" yaml:"max_price_per_hour"`
	ExcludedPricingModels []PricingModel `json:"excluded_pricing_models,omitempty" yaml:"excluded_pricing_models"`
	MinReputation         float64        `json:"min_reputation,omitempty" yaml:"min_reputation"`
	SpotAllowed           *bool          `json:"spot_allowed,omitempty" yaml:"spot_allowed"`
}

// AllowsSpot reports whether spot quotes are acceptable. Unset means allowed.
func (c Constraints) AllowsSpot() bool {
	return c.SpotAllowed == nil || *c.SpotAllowed
}

// Excludes reports whether the pricing model is explicitly excluded.
func (c Constraints) Excludes(m PricingModel) bool {
	for _, ex := range c.ExcludedPricingModels {
		if ex == m {
			return true
		}
	}
	return false
}

// PrefersRegion returns the position of region in the preferred list, or -1.
func (c Constraints) PrefersRegion(region string) int {
	for i, r := range c.PreferredRegions {
		if strings.EqualFold(r, region) {
			return i
		}
	}
	return -1
}

// JobRequest describes the compute job to be matched.
type JobRequest struct {
	GPUCount      int         `json:"gpu_count" yaml:"gpu_count"`
	DurationHours float64     `json:"duration_hours" yaml:"duration_hours"`
	Workload      Workload    `json:"workload,omitempty" yaml:"workload"`
	Constraints   Constraints `json:"constraints" yaml:"constraints"`
}

// Validate checks the request for malformed values.
func (j JobRequest) Validate() error {
	if j.GPUCount < 1 {
		return fmt.Errorf("gpu_count must be at least 1, got %d", j.GPUCount)
	}
	if j.DurationHours <= 0 || math.IsNaN(j.DurationHours) || math.IsInf(j.DurationHours, 0) {
		return fmt.Errorf("duration_hours must be positive, got %v", j.DurationHours)
	}
	switch j.Workload {
	case "", WorkloadTraining, WorkloadInference:
	default:
		return fmt.Errorf("unknown workload %q", j.Workload)
	}
	c := j.Constraints
	if c.MaxPricePerHour < 0 || math.IsNaN(c.MaxPricePerHour) {
		return fmt.Errorf("max_price_per_hour must not be negative, got %v", c.MaxPricePerHour)
	}
	if c.MinReputation < 0 || c.MinReputation > 100 {
		return fmt.Errorf("min_reputation must be within 0..100, got %v", c.MinReputation)
	}
	for _, m := range c.ExcludedPricingModels {
		if _, err := ParsePricingModel(string(m)); err != nil {
			return err
		}
	}
	return nil
}

// WorkloadOrDefault returns the workload, defaulting to training.
func (j JobRequest) WorkloadOrDefault() Workload {
	if j.Workload == "" {
		return WorkloadTraining
	}
	return j.Workload
}

// Clone returns a deep copy so the pipeline never shares slices with the caller.
func (j JobRequest) Clone() JobRequest {
	out := j
	out.Constraints.PreferredRegions = append([]string(nil), j.Constraints.PreferredRegions...)
	out.Constraints.ExcludedPricingModels = append([]PricingModel(nil), j.Constraints.ExcludedPricingModels...)
	if j.Constraints.SpotAllowed != nil {
		v := *j.Constraints.SpotAllowed
		out.Constraints.SpotAllowed = &v
	}
	return out
}

// PriceQuote is a single price offered by a provider.
type PriceQuote struct {
	ProviderID          string   `json:"provider_id"`
	GPUType             string   `json:"gpu_type"`
	PricePerHour        float64  `json:"price_per_hour"`
	Currency            Currency `json:"currency"`
	TokenSymbol         string   `json:"token_symbol,omitempty"`
	Region              string   `json:"region"`
	IsSpot              bool     `json:"is_spot"`
	SpotDiscountPercent float64  `json:"spot_discount_percent,omitempty"`
}

// PricingModel returns the quote's primary pricing model: token beats spot beats fixed.
func (q PriceQuote) PricingModel() PricingModel {
	switch {
	case q.Currency == CurrencyToken:
		return PricingToken
	case q.IsSpot:
		return PricingSpot
	default:
		return PricingFixed
	}
}

// PricingModels returns every pricing model the quote falls under.
func (q PriceQuote) PricingModels() []PricingModel {
	var out []PricingModel
	if q.Currency == CurrencyToken {
		out = append(out, PricingToken)
	}
	if q.IsSpot {
		out = append(out, PricingSpot)
	} else if q.Currency != CurrencyToken {
		out = append(out, PricingFixed)
	}
	return out
}

// HiddenCosts is the per-GPU-hour overhead not included in a headline rate.
type HiddenCosts struct {
	Bandwidth      float64 `json:"bandwidth"`
	Storage        float64 `json:"storage"`
	APICalls       float64 `json:"api_calls"`
	TotalPerHour   float64 `json:"total_per_hour"`
	Region         string  `json:"region"`
	RegionFallback bool    `json:"region_fallback,omitempty"`
}

// TokenRate records the token conversion applied to a quote.
type TokenRate struct {
	Symbol   string  `json:"symbol"`
	USDPrice float64 `json:"usd_price"`
	Source   string  `json:"source"`
}

// NormalizedPrice is a quote converted into the comparable A100-hour metric.
type NormalizedPrice struct {
	ProviderID              string       `json:"provider_id"`
	GPUType                 string       `json:"gpu_type"`
	Region                  string       `json:"region"`
	USDPerGPUHour           float64      `json:"usd_per_gpu_hour"`
	A100Ratio               float64      `json:"a100_ratio"`
	EffectiveUSDPerA100Hour float64      `json:"effective_usd_per_a100_hour"`
	HiddenCosts             HiddenCosts  `json:"hidden_costs"`
	PricingModel            PricingModel `json:"pricing_model"`
	TokenRate               *TokenRate   `json:"token_rate,omitempty"`
	Warnings                []string     `json:"warnings,omitempty"`
	ComputedAt              time.Time    `json:"computed_at"`
	HasError                bool         `json:"has_error,omitempty"`
	Error                   string       `json:"error,omitempty"`
}

// MarshalJSON encodes an infinite effective price as null.
func (n NormalizedPrice) MarshalJSON() ([]byte, error) {
	type plain NormalizedPrice
	out := struct {
		plain
		EffectiveUSDPerA100Hour *float64 `json:"effective_usd_per_a100_hour"`
	}{plain: plain(n)}
	if !math.IsInf(n.EffectiveUSDPerA100Hour, 0) && !math.IsNaN(n.EffectiveUSDPerA100Hour) {
		v := n.EffectiveUSDPerA100Hour
		out.EffectiveUSDPerA100Hour = &v
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a null effective price as +Inf.
func (n *NormalizedPrice) UnmarshalJSON(data []byte) error {
	type plain NormalizedPrice
	in := struct {
		*plain
		EffectiveUSDPerA100Hour *float64 `json:"effective_usd_per_a100_hour"`
	}{plain: (*plain)(n)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if in.EffectiveUSDPerA100Hour == nil {
		n.EffectiveUSDPerA100Hour = math.Inf(1)
	} else {
		n.EffectiveUSDPerA100Hour = *in.EffectiveUSDPerA100Hour
	}
	return nil
}

// FactorScores are the per-factor sub-scores, each within 0..100.
type FactorScores struct {
	Price      float64 `json:"price"`
	Latency    float64 `json:"latency"`
	Reputation float64 `json:"reputation"`
	Geography  float64 `json:"geography"`
}

// ScoredCandidate is a normalized price with its scoring breakdown.
type ScoredCandidate struct {
	Price      NormalizedPrice `json:"price"`
	LatencyMs  int64           `json:"latency_ms"`
	Reputation float64         `json:"reputation"`
	Scores     FactorScores    `json:"scores"`
	TotalScore float64         `json:"total_score"`
}

// ProviderID is a convenience accessor.
func (c ScoredCandidate) ProviderID() string { return c.Price.ProviderID }

// Recommendation is a ranked candidate returned to the caller.
type Recommendation struct {
	Rank           int             `json:"rank"`
	Candidate      ScoredCandidate `json:"candidate"`
	Tradeoffs      []string        `json:"tradeoffs"`
	SavingsPercent float64         `json:"savings_percent"`
}

// RejectionStage identifies where in the pipeline a provider was dropped.
type RejectionStage string

const (
	StageFetch     RejectionStage = "fetch"
	StageNormalize RejectionStage = "normalize"
	StageFilter    RejectionStage = "filter"
)

// RejectedProvider records why a provider did not make the ranking.
type RejectedProvider struct {
	ProviderID string         `json:"provider_id"`
	Stage      RejectionStage `json:"stage"`
	Code       string         `json:"code,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	Reason     string         `json:"reason"`
}

// Weights are the scoring factor weights.
type Weights struct {
	Price      float64 `json:"price" mapstructure:"price"`
	Latency    float64 `json:"latency" mapstructure:"latency"`
	Reputation float64 `json:"reputation" mapstructure:"reputation"`
	Geography  float64 `json:"geography" mapstructure:"geography"`
}

// DefaultWeights favours price.
func DefaultWeights() Weights {
	return Weights{Price: 0.60, Latency: 0.15, Reputation: 0.15, Geography: 0.10}
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.Price + w.Latency + w.Reputation + w.Geography
}

// IsZero reports whether no weight was set.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

// RankState is the ranker state machine position.
type RankState string

const (
	StateFetching    RankState = "fetching"
	StateNormalizing RankState = "normalizing"
	StateFiltering   RankState = "filtering"
	StateScoring     RankState = "scoring"
	StateRanked      RankState = "ranked"
	StateFailed      RankState = "failed"
)

// TraceVersion is bumped whenever the trace layout changes.
const TraceVersion = "1"

// ReasoningTrace is the auditable record of a ranking call.
type ReasoningTrace struct {
	Version         string             `json:"version"`
	RunID           string             `json:"run_id"`
	Job             JobRequest         `json:"job"`
	Weights         Weights            `json:"weights"`
	Candidates      []ScoredCandidate  `json:"candidates"`
	Rejected        []RejectedProvider `json:"rejected"`
	Recommendations []Recommendation   `json:"recommendations"`
	Partial         bool               `json:"partial"`
	State           RankState          `json:"state"`
	Timestamp       time.Time          `json:"timestamp"`
}

// TraceRecord is a stored trace entry summary.
type TraceRecord struct {
	Hash       string    `json:"hash"`
	RunID      string    `json:"run_id"`
	ProviderID string    `json:"provider_id,omitempty"`
	State      RankState `json:"state,omitempty"`
	Size       int       `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

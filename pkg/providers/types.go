package providers

import (
	"context"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/gpu"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// QuoteRequest is what the broker asks every adapter for.
type QuoteRequest struct {
	GPUType       string  `json:"gpu_type"`
	GPUCount      int     `json:"gpu_count"`
	DurationHours float64 `json:"duration_hours"`
	Region        string  `json:"region,omitempty"`
	UseSpot       bool    `json:"use_spot"`
}

// QuoteResponse carries one or more quotes from a single provider.
type QuoteResponse struct {
	ProviderID string             `json:"provider_id"`
	Quotes     []model.PriceQuote `json:"quotes"`
	LatencyMs  int64              `json:"latency_ms"`
	FetchedAt  time.Time          `json:"fetched_at"`
}

// ProviderInfo describes a provider's static capabilities.
type ProviderInfo struct {
	ID              string               `json:"id"`
	Name            string               `json:"name"`
	GPUTypes        []string             `json:"gpu_types"`
	Regions         []string             `json:"regions"`
	PricingModels   []model.PricingModel `json:"pricing_models"`
	ReputationScore float64              `json:"reputation_score"`
	TokenSymbol     string               `json:"token_symbol,omitempty"`
	Metadata        map[string]string    `json:"metadata,omitempty"`
}

// OffersGPU reports whether the provider lists a GPU type, comparing canonical names.
func (i ProviderInfo) OffersGPU(gpuType string) bool {
	for _, g := range i.GPUTypes {
		if gpu.Same(g, gpuType) {
			return true
		}
	}
	return false
}

// SpotOnly reports whether spot is the only pricing model offered.
func (i ProviderInfo) SpotOnly() bool {
	if len(i.PricingModels) == 0 {
		return false
	}
	for _, m := range i.PricingModels {
		if m != model.PricingSpot {
			return false
		}
	}
	return true
}

// Adapter is the contract every GPU provider integration implements.
type Adapter interface {
	// ID returns the unique provider identifier.
	ID() string

	// GetQuotes fetches current prices for the request.
	GetQuotes(ctx context.Context, req QuoteRequest) (*QuoteResponse, error)

	// Info returns the provider's capabilities.
	Info() ProviderInfo

	// IsAvailable reports whether the provider can currently be polled.
	IsAvailable(ctx context.Context) bool
}

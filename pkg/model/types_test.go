package model_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		job     model.JobRequest
		wantErr string
	}{
		{"valid", model.JobRequest{GPUCount: 1, DurationHours: 4}, ""},
		{"zero gpus", model.JobRequest{GPUCount: 0, DurationHours: 4}, "gpu_count"},
		{"zero duration", model.JobRequest{GPUCount: 1}, "duration_hours"},
		{"bad workload", model.JobRequest{GPUCount: 1, DurationHours: 1, Workload: "render"}, "workload"},
		{"negative max price", model.JobRequest{GPUCount: 1, DurationHours: 1, Constraints: model.Constraints{MaxPricePerHour: -1}}, "max_price_per_hour"},
		{"reputation range", model.JobRequest{GPUCount: 1, DurationHours: 1, Constraints: model.Constraints{MinReputation: 101}}, "min_reputation"},
		{"unknown pricing model", model.JobRequest{GPUCount: 1, DurationHours: 1, Constraints: model.Constraints{ExcludedPricingModels: []model.PricingModel{"barter"}}}, "pricing model"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.job.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConstraints_AllowsSpot(t *testing.T) {
	no := false
	assert.True(t, model.Constraints{}.AllowsSpot())
	assert.False(t, model.Constraints{SpotAllowed: &no}.AllowsSpot())
}

func TestJobRequest_Clone(t *testing.T) {
	allowed := true
	job := model.JobRequest{
		GPUCount:      2,
		DurationHours: 1,
		Constraints: model.Constraints{
			PreferredRegions: []string{"us-east"},
			SpotAllowed:      &allowed,
		},
	}
	clone := job.Clone()
	clone.Constraints.PreferredRegions[0] = "eu-west"
	*clone.Constraints.SpotAllowed = false

	assert.Equal(t, "us-east", job.Constraints.PreferredRegions[0])
	assert.True(t, *job.Constraints.SpotAllowed)
}

func TestParsePricingModel(t *testing.T) {
	m, err := model.ParsePricingModel("Auction")
	require.NoError(t, err)
	assert.Equal(t, model.PricingSpot, m)

	m, err = model.ParsePricingModel("on-demand")
	require.NoError(t, err)
	assert.Equal(t, model.PricingFixed, m)

	_, err = model.ParsePricingModel("barter")
	assert.Error(t, err)
}

func TestNormalizedPrice_InfiniteEncodesAsNull(t *testing.T) {
	np := model.NormalizedPrice{ProviderID: "p", EffectiveUSDPerA100Hour: math.Inf(1), HasError: true}
	data, err := json.Marshal(np)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"effective_usd_per_a100_hour":null`)

	var back model.NormalizedPrice
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, math.IsInf(back.EffectiveUSDPerA100Hour, 1))
	assert.Equal(t, "p", back.ProviderID)
}

func TestNormalizedPrice_FiniteRoundTrip(t *testing.T) {
	np := model.NormalizedPrice{ProviderID: "p", EffectiveUSDPerA100Hour: 1.25}
	data, err := json.Marshal(np)
	require.NoError(t, err)

	var back model.NormalizedPrice
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 1.25, back.EffectiveUSDPerA100Hour)
}

func TestDefaultWeights_SumToOne(t *testing.T) {
	assert.InDelta(t, 1.0, model.DefaultWeights().Sum(), 1e-9)
	assert.False(t, model.DefaultWeights().IsZero())
	assert.True(t, model.Weights{}.IsZero())
}

func TestPriceQuote_PricingModels(t *testing.T) {
	tests := []struct {
		name    string
		quote   model.PriceQuote
		primary model.PricingModel
		all     []model.PricingModel
	}{
		{"usd fixed", model.PriceQuote{Currency: model.CurrencyUSD}, model.PricingFixed, []model.PricingModel{model.PricingFixed}},
		{"usd spot", model.PriceQuote{Currency: model.CurrencyUSD, IsSpot: true}, model.PricingSpot, []model.PricingModel{model.PricingSpot}},
		{"token", model.PriceQuote{Currency: model.CurrencyToken}, model.PricingToken, []model.PricingModel{model.PricingToken}},
		{"token spot", model.PriceQuote{Currency: model.CurrencyToken, IsSpot: true}, model.PricingToken, []model.PricingModel{model.PricingToken, model.PricingSpot}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.primary, tt.quote.PricingModel())
			assert.Equal(t, tt.all, tt.quote.PricingModels())
		})
	}
}

package settlement_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/settlement"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleHandoff() settlement.Handoff {
	return settlement.Handoff{
		RunID:                   "run-1",
		ProviderID:              "lambda",
		GPUType:                 "A100-80GB",
		GPUCount:                1,
		DurationHours:           4,
		Region:                  "us-east",
		EffectiveUSDPerA100Hour: 1.543255,
		USDPerGPUHour:           1.543255,
		EstimatedTotalUSD:       6.17,
		TraceHash:               "abc123",
		CreatedAt:               now,
	}
}

func rankedResult() *ranker.Result {
	top := model.ScoredCandidate{Price: model.NormalizedPrice{
		ProviderID:              "lambda",
		GPUType:                 "A100-80GB",
		Region:                  "us-east",
		USDPerGPUHour:           1.55,
		EffectiveUSDPerA100Hour: 1.55,
	}}
	return &ranker.Result{
		RunID:           "run-1",
		State:           model.StateRanked,
		Recommendations: []model.Recommendation{{Rank: 1, Candidate: top}},
		Trace:           &model.ReasoningTrace{Job: model.JobRequest{GPUCount: 2, DurationHours: 3}},
		TraceHash:       "deadbeef",
	}
}

func TestFromResult(t *testing.T) {
	h, err := settlement.FromResult(rankedResult(), now.Add(123*time.Microsecond))
	require.NoError(t, err)

	assert.Equal(t, "run-1", h.RunID)
	assert.Equal(t, "lambda", h.ProviderID)
	assert.Equal(t, 2, h.GPUCount)
	assert.Equal(t, 9.3, h.EstimatedTotalUSD)
	assert.Equal(t, "deadbeef", h.TraceHash)
	assert.Equal(t, now, h.CreatedAt)
	assert.Empty(t, h.Signature)
}

func TestFromResult_NoSelection(t *testing.T) {
	_, err := settlement.FromResult(&ranker.Result{State: model.StateFailed}, now)
	assert.ErrorIs(t, err, settlement.ErrNoSelection)

	_, err = settlement.FromResult(nil, now)
	assert.ErrorIs(t, err, settlement.ErrNoSelection)
}

// Package settlement hands a ranking's selection to the external ledger.
// It signs and announces the choice; it never moves funds.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
)

// ErrNoSelection is returned when a result has nothing to settle.
var ErrNoSelection = errors.New("settlement: ranking produced no selection")

// Handoff is the selection the settlement layer consumes.
type Handoff struct {
	RunID                   string    `json:"run_id"`
	ProviderID              string    `json:"provider_id"`
	GPUType                 string    `json:"gpu_type"`
	GPUCount                int       `json:"gpu_count"`
	DurationHours           float64   `json:"duration_hours"`
	Region                  string    `json:"region"`
	EffectiveUSDPerA100Hour float64   `json:"effective_usd_per_a100_hour"`
	USDPerGPUHour           float64   `json:"usd_per_gpu_hour"`
	EstimatedTotalUSD       float64   `json:"estimated_total_usd"`
	TraceHash               string    `json:"trace_hash,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	PublicKey               string    `json:"public_key,omitempty"`
	Signature               string    `json:"signature,omitempty"`
}

// FromResult builds an unsigned handoff from the top recommendation.
func FromResult(res *ranker.Result, now time.Time) (*Handoff, error) {
	if res == nil || len(res.Recommendations) == 0 {
		return nil, ErrNoSelection
	}
	if res.Trace == nil {
		return nil, errors.New("settlement: result has no reasoning trace")
	}

	job := res.Trace.Job
	top := res.Recommendations[0].Candidate.Price
	total := decimal.NewFromFloat(top.USDPerGPUHour).
		Mul(decimal.NewFromInt(int64(job.GPUCount))).
		Mul(decimal.NewFromFloat(job.DurationHours)).
		Round(2)

	return &Handoff{
		RunID:                   res.RunID,
		ProviderID:              top.ProviderID,
		GPUType:                 top.GPUType,
		GPUCount:                job.GPUCount,
		DurationHours:           job.DurationHours,
		Region:                  top.Region,
		EffectiveUSDPerA100Hour: top.EffectiveUSDPerA100Hour,
		USDPerGPUHour:           top.USDPerGPUHour,
		EstimatedTotalUSD:       total.InexactFloat64(),
		TraceHash:               res.TraceHash,
		CreatedAt:               now.UTC().Truncate(time.Millisecond),
	}, nil
}

// Notifier delivers a handoff to an external system.
type Notifier interface {
	// Name returns the notifier identifier.
	Name() string

	// Send delivers a handoff. Implementations must be safe for concurrent use.
	Send(ctx context.Context, h Handoff) error
}

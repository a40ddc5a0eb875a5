package ranker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers/mock"
)

func TestCollect_RecordsBufferedOutcomesAfterDeadline(t *testing.T) {
	fast := mock.New(mock.WithID("fast"))
	denied := mock.New(mock.WithID("denied"))
	slow := mock.New(mock.WithID("slow"))
	never := mock.New(mock.WithID("never"))

	results := make(chan fetchOutcome, 3)
	results <- fetchOutcome{adapter: fast, resp: &providers.QuoteResponse{
		ProviderID: "fast",
		Quotes:     []model.PriceQuote{{ProviderID: "fast", GPUType: "A100", PricePerHour: 1}},
	}}
	results <- fetchOutcome{adapter: denied, err: providers.NewError("denied", providers.CodeAuth, "bad key", providers.ErrAuthFailed)}
	results <- fetchOutcome{adapter: slow, err: providers.Classify("slow", context.DeadlineExceeded)}

	aggCtx, cancel := context.WithCancel(context.Background())
	cancel()

	pending := map[string]providers.Adapter{"fast": fast, "denied": denied, "slow": slow, "never": never}
	rn := &run{id: "run-test"}
	New(providers.NewRegistry(), nil).collect(aggCtx, rn, results, pending)

	assert.Len(t, pending, 2)
	assert.Contains(t, pending, "slow")
	assert.Contains(t, pending, "never")

	require.Len(t, rn.fetched, 1)
	assert.Equal(t, "fast", rn.fetched[0].adapter.ID())

	require.Len(t, rn.rejected, 1)
	assert.Equal(t, "denied", rn.rejected[0].ProviderID)
	assert.Equal(t, string(providers.CodeAuth), rn.rejected[0].Code)
	assert.False(t, rn.rejected[0].Retryable)
}

func TestAccept_KeepsEarlyErrorCode(t *testing.T) {
	a := mock.New(mock.WithID("a"))
	aggCtx, cancel := context.WithCancel(context.Background())
	cancel()

	pending := map[string]providers.Adapter{"a": a}
	rn := &run{id: "run-test"}
	err := providers.Classify("a", errors.New("boom"))
	New(providers.NewRegistry(), nil).accept(aggCtx, rn, pending, fetchOutcome{adapter: a, err: err})

	assert.Empty(t, pending)
	require.Len(t, rn.rejected, 1)
	assert.Equal(t, string(providers.CodeUnknown), rn.rejected[0].Code)
}

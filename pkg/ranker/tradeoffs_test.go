package ranker_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
)

func candidate(id, region string, price float64, latency int64, rep float64) model.ScoredCandidate {
	return model.ScoredCandidate{
		Price:      model.NormalizedPrice{ProviderID: id, Region: region, EffectiveUSDPerA100Hour: price},
		LatencyMs:  latency,
		Reputation: rep,
	}
}

func TestTradeoffs(t *testing.T) {
	tests := []struct {
		name string
		cur  model.ScoredCandidate
		ref  model.ScoredCandidate
		rank int
		want []string
	}{
		{
			name: "cheaper and slower",
			cur:  candidate("a", "us-east", 1.40, 150, 80),
			ref:  candidate("b", "us-east", 1.60, 100, 80),
			rank: 2,
			want: []string{"12.5% cheaper, 50ms higher latency than rank 2"},
		},
		{
			name: "pricier with reputation and region",
			cur:  candidate("a", "eu-west", 2.00, 80, 70),
			ref:  candidate("b", "us-east", 1.60, 100, 90),
			rank: 1,
			want: []string{
				"25.0% more expensive, 20ms lower latency than rank 1",
				"reputation 70 vs 90 (-20)",
				"region eu-west vs us-east",
			},
		},
		{
			name: "identical",
			cur:  candidate("a", "", 1, 100, 50),
			ref:  candidate("b", "", 1, 100, 50),
			rank: 2,
			want: []string{"same price, same latency than rank 2"},
		},
		{
			name: "free reference",
			cur:  candidate("a", "us-east", 0.5, 10, 50),
			ref:  candidate("b", "us-east", 0, 10, 50),
			rank: 1,
			want: []string{"$0.50/A100-hr more expensive, same latency than rank 1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ranker.Tradeoffs(tt.cur, tt.ref, tt.rank))
		})
	}
}

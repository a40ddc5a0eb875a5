// Package scoring ranks filtered candidates with a weighted multi-factor score.
package scoring

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// WeightTolerance is the allowed deviation of the weight sum from 1.
const WeightTolerance = 1e-6

// ErrInvalidWeights is wrapped by every weight validation failure.
var ErrInvalidWeights = errors.New("invalid weights")

// ValidateWeights checks each weight is non-negative and they sum to 1.
func ValidateWeights(w model.Weights) error {
	for name, v := range map[string]float64{
		"price":      w.Price,
		"latency":    w.Latency,
		"reputation": w.Reputation,
		"geography":  w.Geography,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s weight %v must be a non-negative number", ErrInvalidWeights, name, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1) > WeightTolerance {
		return fmt.Errorf("%w: weights sum to %.6f, want 1.0", ErrInvalidWeights, sum)
	}
	return nil
}

// Input is one candidate to be scored.
type Input struct {
	Price      model.NormalizedPrice
	LatencyMs  int64
	Reputation float64
	// Unpriced marks a price that could not be established, such as a token
	// quote whose rate fell back to zero. It scores 0 on price and is left
	// out of the price range of the others.
	Unpriced bool
}

// GeographyScore is 100 for the first preferred region, 10 less per later
// position down to 50, 0 when not preferred, and 100 when there is no preference.
func GeographyScore(region string, preferred []string) float64 {
	if len(preferred) == 0 {
		return 100
	}
	c := model.Constraints{PreferredRegions: preferred}
	pos := c.PrefersRegion(region)
	if pos < 0 {
		return 0
	}
	return math.Max(50, 100-10*float64(pos))
}

// Score computes factor and total scores for inputs and returns them sorted
// by total desc, reputation desc, provider id asc. Factors are min-max scaled
// across the inputs, so scores are only comparable within one call.
func Score(inputs []Input, w model.Weights, preferred []string) ([]model.ScoredCandidate, error) {
	if err := ValidateWeights(w); err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	var prices []float64
	latencies := make([]float64, len(inputs))
	reputations := make([]float64, len(inputs))
	geos := make([]float64, len(inputs))
	for i, in := range inputs {
		if !in.Unpriced {
			prices = append(prices, in.Price.EffectiveUSDPerA100Hour)
		}
		latencies[i] = float64(in.LatencyMs)
		reputations[i] = in.Reputation
		geos[i] = GeographyScore(in.Price.Region, preferred)
	}

	priceScores := make([]float64, len(inputs))
	scaled := scale(prices, true)
	for i, in := range inputs {
		if !in.Unpriced {
			priceScores[i], scaled = scaled[0], scaled[1:]
		}
	}
	latencyScores := scale(latencies, true)
	repScores := scale(reputations, false)
	geoScores := scale(geos, false)

	out := make([]model.ScoredCandidate, len(inputs))
	for i, in := range inputs {
		s := model.FactorScores{
			Price:      round2(priceScores[i]),
			Latency:    round2(latencyScores[i]),
			Reputation: round2(repScores[i]),
			Geography:  round2(geoScores[i]),
		}
		total := w.Price*priceScores[i] + w.Latency*latencyScores[i] + w.Reputation*repScores[i] + w.Geography*geoScores[i]
		out[i] = model.ScoredCandidate{
			Price:      in.Price,
			LatencyMs:  in.LatencyMs,
			Reputation: in.Reputation,
			Scores:     s,
			TotalScore: round2(clamp(total)),
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalScore != out[j].TotalScore {
			return out[i].TotalScore > out[j].TotalScore
		}
		if out[i].Reputation != out[j].Reputation {
			return out[i].Reputation > out[j].Reputation
		}
		return out[i].ProviderID() < out[j].ProviderID()
	})
	return out, nil
}

// scale maps values onto 0..100. With lowerIsBetter the minimum scores 100.
// A zero range gives every value 100.
func scale(values []float64, lowerIsBetter bool) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	out := make([]float64, len(values))
	span := hi - lo
	for i, v := range values {
		switch {
		case span == 0 || math.IsInf(span, 0) || math.IsNaN(span):
			out[i] = 100
		case lowerIsBetter:
			out[i] = (hi - v) / span * 100
		default:
			out[i] = (v - lo) / span * 100
		}
	}
	return out
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

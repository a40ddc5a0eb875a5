package ranker

import (
	"fmt"
	"math"
	"strings"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// Tradeoffs describes cur relative to ref, the candidate at refRank.
func Tradeoffs(cur, ref model.ScoredCandidate, refRank int) []string {
	price := "price unknown"
	if !unpriced(cur.Price) && !unpriced(ref.Price) {
		price = priceDelta(cur.Price.EffectiveUSDPerA100Hour, ref.Price.EffectiveUSDPerA100Hour)
	}
	lines := []string{fmt.Sprintf("%s, %s than rank %d",
		price,
		latencyDelta(cur.LatencyMs, ref.LatencyMs),
		refRank,
	)}

	if cur.Reputation != ref.Reputation {
		lines = append(lines, fmt.Sprintf("reputation %s vs %s (%+.0f)",
			trimFloat(cur.Reputation), trimFloat(ref.Reputation), cur.Reputation-ref.Reputation))
	}
	if !strings.EqualFold(cur.Price.Region, ref.Price.Region) {
		lines = append(lines, fmt.Sprintf("region %s vs %s", orUnknown(cur.Price.Region), orUnknown(ref.Price.Region)))
	}
	return lines
}

func priceDelta(cur, ref float64) string {
	diff := cur - ref
	if math.Abs(diff) < 1e-9 {
		return "same price"
	}
	word := "cheaper"
	if diff > 0 {
		word = "more expensive"
	}
	if ref == 0 {
		return fmt.Sprintf("$%.2f/A100-hr %s", math.Abs(diff), word)
	}
	return fmt.Sprintf("%.1f%% %s", math.Abs(diff)/ref*100, word)
}

func latencyDelta(cur, ref int64) string {
	switch diff := cur - ref; {
	case diff > 0:
		return fmt.Sprintf("%dms higher latency", diff)
	case diff < 0:
		return fmt.Sprintf("%dms lower latency", -diff)
	default:
		return "same latency"
	}
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

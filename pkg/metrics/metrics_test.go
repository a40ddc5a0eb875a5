package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/metrics"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
)

func family(t *testing.T, m *metrics.Meter, name string) *dto.MetricFamily {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	t.Fatalf("metric %s not found", name)
	return nil
}

func label(metric *dto.Metric, name string) string {
	for _, l := range metric.GetLabel() {
		if l.GetName() == name {
			return l.GetValue()
		}
	}
	return ""
}

func TestMeter_OnFetch(t *testing.T) {
	m := metrics.New()
	m.OnFetch(ranker.FetchEvent{ProviderID: "lambda", Success: true, Quotes: 3, Duration: 20 * time.Millisecond})
	m.OnFetch(ranker.FetchEvent{ProviderID: "akash", Code: providers.CodeTimeout})

	got := map[string]float64{}
	for _, metric := range family(t, m, "gpb_provider_fetch_total").GetMetric() {
		got[label(metric, "provider")+"/"+label(metric, "code")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"lambda/OK": 1, "akash/TIMEOUT": 1}, got)

	quotes := family(t, m, "gpb_provider_quotes_total").GetMetric()
	require.Len(t, quotes, 1)
	assert.Equal(t, 3.0, quotes[0].GetCounter().GetValue())
}

func TestMeter_OnRank(t *testing.T) {
	m := metrics.New()
	m.OnRank(ranker.RankEvent{State: model.StateRanked, Partial: true, Rejected: 2, TopProvider: "a", TopPrice: 1.5, Duration: time.Second})
	m.OnRank(ranker.RankEvent{State: model.StateRanked, TopProvider: "b", TopPrice: 1.2})
	m.OnRank(ranker.RankEvent{State: model.StateFailed, Rejected: 3})

	states := map[string]float64{}
	for _, metric := range family(t, m, "gpb_rank_total").GetMetric() {
		states[label(metric, "state")] = metric.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{"ranked": 2, "failed": 1}, states)

	assert.Equal(t, 1.0, family(t, m, "gpb_rank_partial_total").GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, 5.0, family(t, m, "gpb_rank_rejected_providers_total").GetMetric()[0].GetCounter().GetValue())

	top := family(t, m, "gpb_top_effective_price_usd").GetMetric()
	require.Len(t, top, 1)
	assert.Equal(t, "b", label(top[0], "provider"))
	assert.Equal(t, 1.2, top[0].GetGauge().GetValue())
}

func TestMeter_Handler(t *testing.T) {
	m := metrics.New()
	m.OnRank(ranker.RankEvent{State: model.StateRanked})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `gpb_rank_total{state="ranked"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

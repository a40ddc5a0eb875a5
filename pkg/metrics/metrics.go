// Package metrics exports ranking activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
)

const namespace = "gpb"

// Meter records ranker events into its own Prometheus registry.
type Meter struct {
	registry *prometheus.Registry

	fetchTotal    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	fetchQuotes   *prometheus.CounterVec
	rankTotal     *prometheus.CounterVec
	rankPartial   prometheus.Counter
	rankDuration  prometheus.Histogram
	rejected      prometheus.Counter
	topPrice      *prometheus.GaugeVec
}

var _ ranker.Meter = (*Meter)(nil)

// New creates a Meter with a fresh registry that also carries the Go and
// process collectors.
func New() *Meter {
	m := &Meter{
		registry: prometheus.NewRegistry(),
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_fetch_total",
			Help:      "Provider quote polls by result code",
		}, []string{"provider", "code"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_fetch_duration_seconds",
			Help:      "Time taken by a provider to answer a quote poll",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"provider"}),
		fetchQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_quotes_total",
			Help:      "Quotes received per provider",
		}, []string{"provider"}),
		rankTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_total",
			Help:      "Ranking runs by terminal state",
		}, []string{"state"}),
		rankPartial: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_partial_total",
			Help:      "Ranking runs that hit the aggregate deadline",
		}),
		rankDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rank_duration_seconds",
			Help:      "End to end ranking latency",
			Buckets:   prometheus.DefBuckets,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_rejected_providers_total",
			Help:      "Providers rejected across all runs",
		}),
		topPrice: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "top_effective_price_usd",
			Help:      "Effective USD per A100-hour of the latest top recommendation",
		}, []string{"provider"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchTotal,
		m.fetchDuration,
		m.fetchQuotes,
		m.rankTotal,
		m.rankPartial,
		m.rankDuration,
		m.rejected,
		m.topPrice,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Meter) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Meter) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Meter) OnFetch(e ranker.FetchEvent) {
	code := "OK"
	if !e.Success {
		code = strings.ToUpper(string(e.Code))
		if code == "" {
			code = "UNKNOWN"
		}
	}
	m.fetchTotal.WithLabelValues(e.ProviderID, code).Inc()
	if e.Duration > 0 {
		m.fetchDuration.WithLabelValues(e.ProviderID).Observe(e.Duration.Seconds())
	}
	if e.Quotes > 0 {
		m.fetchQuotes.WithLabelValues(e.ProviderID).Add(float64(e.Quotes))
	}
}

func (m *Meter) OnRank(e ranker.RankEvent) {
	m.rankTotal.WithLabelValues(string(e.State)).Inc()
	if e.Partial {
		m.rankPartial.Inc()
	}
	m.rankDuration.Observe(e.Duration.Seconds())
	m.rejected.Add(float64(e.Rejected))
	if e.TopProvider != "" {
		m.topPrice.Reset()
		m.topPrice.WithLabelValues(e.TopProvider).Set(e.TopPrice)
	}
}

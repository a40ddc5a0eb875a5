package ranker

import (
	"log/slog"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
)

// Meter observes ranking events for monitoring and logging. Methods are
// called from the ranking goroutine, never concurrently for one run.
type Meter interface {
	// OnFetch is called once per polled provider.
	OnFetch(event FetchEvent)

	// OnRank is called when a ranking reaches a terminal state.
	OnRank(event RankEvent)
}

// FetchEvent describes the outcome of one provider poll.
type FetchEvent struct {
	RunID      string
	ProviderID string
	Success    bool
	Quotes     int
	Duration   time.Duration
	Code       providers.ErrorCode
	Error      error
}

// RankEvent summarizes a finished ranking.
type RankEvent struct {
	RunID       string
	State       model.RankState
	Partial     bool
	Providers   int
	Scored      int
	Rejected    int
	TopProvider string
	TopPrice    float64
	Duration    time.Duration
}

// NoopMeter discards all events.
type NoopMeter struct{}

var _ Meter = NoopMeter{}

func (NoopMeter) OnFetch(FetchEvent) {}
func (NoopMeter) OnRank(RankEvent)   {}

// LogMeter logs events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnFetch(e FetchEvent) {
	if e.Success {
		m.Logger.Info("fetch",
			"run_id", e.RunID,
			"provider", e.ProviderID,
			"quotes", e.Quotes,
			"duration_ms", e.Duration.Milliseconds(),
		)
		return
	}
	m.Logger.Warn("fetch_error",
		"run_id", e.RunID,
		"provider", e.ProviderID,
		"code", e.Code,
		"duration_ms", e.Duration.Milliseconds(),
		"error", e.Error,
	)
}

func (m *LogMeter) OnRank(e RankEvent) {
	m.Logger.Info("rank",
		"run_id", e.RunID,
		"state", e.State,
		"partial", e.Partial,
		"providers", e.Providers,
		"scored", e.Scored,
		"rejected", e.Rejected,
		"top_provider", e.TopProvider,
		"top_price", e.TopPrice,
		"duration_ms", e.Duration.Milliseconds(),
	)
}

// MultiMeter fans events out to several meters.
type MultiMeter []Meter

func (mm MultiMeter) OnFetch(e FetchEvent) {
	for _, m := range mm {
		m.OnFetch(e)
	}
}

func (mm MultiMeter) OnRank(e RankEvent) {
	for _, m := range mm {
		m.OnRank(e)
	}
}

// Package ranker orchestrates a ranking run: it polls every registered
// provider in parallel, then normalizes, filters and scores the quotes and
// records a reasoning trace.
package ranker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/filter"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/normalize"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/scoring"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/storage"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/tokenprice"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/trace"
)

// Defaults.
const (
	DefaultTopK            = 3
	DefaultConcurrency     = 8
	DefaultProviderTimeout = 5 * time.Second
)

// TokenPrefetcher warms token prices for a batch of symbols.
// *tokenprice.Service satisfies it.
type TokenPrefetcher interface {
	GetPrices(ctx context.Context, symbols []string) map[string]tokenprice.TokenPrice
}

// Result is the outcome of one ranking run.
type Result struct {
	RunID           string                   `json:"run_id"`
	State           model.RankState          `json:"state"`
	Partial         bool                     `json:"partial"`
	Recommendations []model.Recommendation   `json:"recommendations"`
	Rejected        []model.RejectedProvider `json:"rejected"`
	Scored          []model.ScoredCandidate  `json:"scored"`
	Trace           *model.ReasoningTrace    `json:"trace,omitempty"`
	TraceHash       string                   `json:"trace_hash,omitempty"`
}

// Comparison orders the eligible quotes by effective price alone.
func (r *Result) Comparison() []normalize.PriceComparison {
	prices := make([]model.NormalizedPrice, len(r.Scored))
	for i, c := range r.Scored {
		prices[i] = c.Price
	}
	return normalize.ComparePrices(prices)
}

// Ranker ranks providers for job requests. It is safe for concurrent use.
type Ranker struct {
	registry         *providers.Registry
	normalizer       *normalize.Normalizer
	tokens           TokenPrefetcher
	meter            Meter
	store            storage.TraceStore
	logger           *slog.Logger
	weights          model.Weights
	topK             int
	topN             int
	concurrency      int
	providerTimeout  time.Duration
	aggregateTimeout time.Duration
	now              func() time.Time
	newID            func() string
}

// Option configures a Ranker.
type Option func(*Ranker)

// WithTokenPrefetcher enables batch token price warm-up before normalization.
func WithTokenPrefetcher(t TokenPrefetcher) Option {
	return func(r *Ranker) { r.tokens = t }
}

// WithMeter sets the event observer.
func WithMeter(m Meter) Option {
	return func(r *Ranker) { r.meter = m }
}

// WithTraceStore persists every trace and reports its hash.
func WithTraceStore(s storage.TraceStore) Option {
	return func(r *Ranker) { r.store = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Ranker) { r.logger = l }
}

// WithWeights sets the default scoring weights.
func WithWeights(w model.Weights) Option {
	return func(r *Ranker) { r.weights = w }
}

// WithTopK sets how many recommendations are returned.
func WithTopK(k int) Option {
	return func(r *Ranker) { r.topK = k }
}

// WithTopN sets how many scored candidates the trace keeps.
func WithTopN(n int) Option {
	return func(r *Ranker) { r.topN = n }
}

// WithConcurrency bounds simultaneous provider polls.
func WithConcurrency(n int) Option {
	return func(r *Ranker) { r.concurrency = n }
}

// WithProviderTimeout bounds each provider poll.
func WithProviderTimeout(d time.Duration) Option {
	return func(r *Ranker) { r.providerTimeout = d }
}

// WithAggregateTimeout bounds the whole fetch phase. Zero means no limit
// beyond the caller's context.
func WithAggregateTimeout(d time.Duration) Option {
	return func(r *Ranker) { r.aggregateTimeout = d }
}

// WithClock sets the clock used for trace timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Ranker) { r.now = now }
}

// WithIDGenerator overrides run id generation.
func WithIDGenerator(fn func() string) Option {
	return func(r *Ranker) { r.newID = fn }
}

// New creates a Ranker over registry.
func New(registry *providers.Registry, normalizer *normalize.Normalizer, opts ...Option) *Ranker {
	r := &Ranker{
		registry:        registry,
		normalizer:      normalizer,
		meter:           NoopMeter{},
		logger:          slog.Default(),
		weights:         model.DefaultWeights(),
		topK:            DefaultTopK,
		topN:            trace.DefaultTopN,
		concurrency:     DefaultConcurrency,
		providerTimeout: DefaultProviderTimeout,
		now:             time.Now,
		newID:           func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.normalizer == nil {
		r.normalizer = normalize.New(nil)
	}
	if r.concurrency < 1 {
		r.concurrency = DefaultConcurrency
	}
	if r.providerTimeout <= 0 {
		r.providerTimeout = DefaultProviderTimeout
	}
	if r.topK < 1 {
		r.topK = DefaultTopK
	}
	return r
}

// RankOption overrides Ranker defaults for a single call.
type RankOption func(*rankConfig)

type rankConfig struct {
	providerIDs []string
	weights     model.Weights
	topK        int
}

// OnlyProviders restricts the run to the given provider ids.
func OnlyProviders(ids ...string) RankOption {
	return func(c *rankConfig) { c.providerIDs = append(c.providerIDs, ids...) }
}

// UseWeights overrides the scoring weights.
func UseWeights(w model.Weights) RankOption {
	return func(c *rankConfig) { c.weights = w }
}

// UseTopK overrides the number of recommendations.
func UseTopK(k int) RankOption {
	return func(c *rankConfig) { c.topK = k }
}

// fetchOutcome is one provider's poll result.
type fetchOutcome struct {
	adapter  providers.Adapter
	resp     *providers.QuoteResponse
	err      *providers.Error
	duration time.Duration
}

// run carries the mutable state of one ranking.
type run struct {
	id       string
	job      model.JobRequest
	weights  model.Weights
	topK     int
	state    model.RankState
	partial  bool
	polled   int
	rejected []model.RejectedProvider
	fetched  []fetchOutcome
}

func (rn *run) reject(id string, stage model.RejectionStage, code string, retryable bool, reason string) {
	rn.rejected = append(rn.rejected, model.RejectedProvider{
		ProviderID: id,
		Stage:      stage,
		Code:       code,
		Retryable:  retryable,
		Reason:     reason,
	})
}

// Rank matches job against the registered providers. A *ValidationError is
// returned before any I/O for malformed input. When no provider survives,
// the full Result is returned together with ErrNoEligibleProviders.
func (r *Ranker) Rank(ctx context.Context, job model.JobRequest, opts ...RankOption) (*Result, error) {
	cfg := rankConfig{weights: r.weights, topK: r.topK}
	for _, opt := range opts {
		opt(&cfg)
	}

	job = job.Clone()
	if err := job.Validate(); err != nil {
		return nil, &ValidationError{Field: "job", Err: err}
	}
	if err := scoring.ValidateWeights(cfg.weights); err != nil {
		return nil, &ValidationError{Field: "weights", Err: err}
	}
	if cfg.topK < 1 {
		return nil, &ValidationError{Field: "top_k", Err: fmt.Errorf("must be at least 1, got %d", cfg.topK)}
	}

	started := time.Now()
	rn := &run{id: r.newID(), job: job, weights: cfg.weights, topK: cfg.topK}
	log := r.logger.With("run_id", rn.id)

	rn.transition(log, model.StateFetching)
	adapters := r.snapshot(rn, cfg.providerIDs)
	r.fetchAll(ctx, rn, adapters)

	rn.transition(log, model.StateNormalizing)
	r.prefetchTokens(ctx, rn)
	candidates := r.normalizeAll(ctx, rn)

	rn.transition(log, model.StateFiltering)
	survivors := r.filterAll(rn, candidates)

	rn.transition(log, model.StateScoring)
	scored, err := scoring.Score(survivors, rn.weights, job.Constraints.PreferredRegions)
	if err != nil {
		// weights were validated above
		return nil, &ValidationError{Field: "weights", Err: err}
	}

	res := &Result{
		RunID:    rn.id,
		Partial:  rn.partial,
		Scored:   scored,
		Rejected: sortRejected(rn.rejected),
	}
	var rankErr error
	if len(scored) == 0 {
		rn.transition(log, model.StateFailed)
		rankErr = ErrNoEligibleProviders
	} else {
		rn.transition(log, model.StateRanked)
		res.Recommendations = recommend(scored, rn.topK)
	}
	res.State = rn.state

	r.recordTrace(ctx, log, rn, res)

	event := RankEvent{
		RunID:     rn.id,
		State:     res.State,
		Partial:   res.Partial,
		Providers: rn.polled,
		Scored:    len(scored),
		Rejected:  len(res.Rejected),
		Duration:  time.Since(started),
	}
	if len(res.Recommendations) > 0 {
		top := res.Recommendations[0].Candidate
		event.TopProvider = top.ProviderID()
		event.TopPrice = top.Price.EffectiveUSDPerA100Hour
	}
	r.meter.OnRank(event)

	return res, rankErr
}

func (rn *run) transition(log *slog.Logger, s model.RankState) {
	log.Debug("rank state", "from", rn.state, "to", s)
	rn.state = s
}

// snapshot takes the registry view for this run and drops providers that
// cannot satisfy the job's capability constraints.
func (r *Ranker) snapshot(rn *run, ids []string) []providers.Adapter {
	adapters := r.registry.Snapshot(ids...)
	if len(ids) > 0 {
		known := make(map[string]bool, len(adapters))
		for _, a := range adapters {
			known[a.ID()] = true
		}
		for _, id := range ids {
			if !known[id] {
				known[id] = true
				rn.reject(id, model.StageFetch, string(providers.CodeUnknown), false, "provider not registered")
			}
		}
	}

	eligible := adapters[:0:0]
	for _, a := range adapters {
		if reasons := filter.CheckProvider(rn.job.Constraints, a.Info()); len(reasons) > 0 {
			rn.reject(a.ID(), model.StageFilter, "", false, strings.Join(reasons, "; "))
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible
}

func (r *Ranker) quoteRequest(job model.JobRequest) providers.QuoteRequest {
	req := providers.QuoteRequest{
		GPUType:       job.Constraints.RequiredGPUType,
		GPUCount:      job.GPUCount,
		DurationHours: job.DurationHours,
		UseSpot:       job.Constraints.AllowsSpot(),
	}
	if len(job.Constraints.PreferredRegions) == 1 {
		req.Region = job.Constraints.PreferredRegions[0]
	}
	return req
}

// fetchAll polls adapters concurrently. Each poll is bounded by the provider
// timeout even when the adapter ignores its context. When the aggregate
// deadline fires, providers still pending are rejected as timed out.
func (r *Ranker) fetchAll(ctx context.Context, rn *run, adapters []providers.Adapter) {
	rn.polled = len(adapters)
	if len(adapters) == 0 {
		return
	}

	aggCtx := ctx
	if r.aggregateTimeout > 0 {
		var cancel context.CancelFunc
		aggCtx, cancel = context.WithTimeout(ctx, r.aggregateTimeout)
		defer cancel()
	}

	req := r.quoteRequest(rn.job)
	results := make(chan fetchOutcome, len(adapters))
	sem := make(chan struct{}, r.concurrency)

	for _, a := range adapters {
		go func(a providers.Adapter) {
			select {
			case sem <- struct{}{}:
			case <-aggCtx.Done():
				return
			}
			defer func() { <-sem }()
			results <- r.fetchOne(aggCtx, a, req)
		}(a)
	}

	pending := make(map[string]providers.Adapter, len(adapters))
	for _, a := range adapters {
		pending[a.ID()] = a
	}

	r.collect(aggCtx, rn, results, pending)

	if len(pending) == 0 {
		return
	}
	rn.partial = true
	ids := make([]string, 0, len(pending))
	for id := range pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	reason := "aggregate deadline exceeded before provider responded"
	if ctx.Err() != nil {
		reason = "ranking cancelled before provider responded"
	}
	for _, id := range ids {
		rn.reject(id, model.StageFetch, string(providers.CodeTimeout), true, reason)
		r.meter.OnFetch(FetchEvent{RunID: rn.id, ProviderID: id, Code: providers.CodeTimeout, Error: aggCtx.Err()})
	}
}

// collect records outcomes until every provider answered or aggCtx is done.
// Outcomes already buffered when the deadline fires are still recorded.
func (r *Ranker) collect(aggCtx context.Context, rn *run, results <-chan fetchOutcome, pending map[string]providers.Adapter) {
wait:
	for len(pending) > 0 {
		select {
		case o := <-results:
			r.accept(aggCtx, rn, pending, o)
		case <-aggCtx.Done():
			break wait
		}
	}
	for len(pending) > 0 {
		select {
		case o := <-results:
			r.accept(aggCtx, rn, pending, o)
		default:
			return
		}
	}
}

// accept records o unless it is a timeout caused by the aggregate deadline;
// those providers stay pending and are reported as cut off by the deadline.
func (r *Ranker) accept(aggCtx context.Context, rn *run, pending map[string]providers.Adapter, o fetchOutcome) {
	if o.err != nil && o.err.Code == providers.CodeTimeout && aggCtx.Err() != nil {
		return
	}
	delete(pending, o.adapter.ID())
	r.recordFetch(rn, o)
}

func (r *Ranker) fetchOne(parent context.Context, a providers.Adapter, req providers.QuoteRequest) fetchOutcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, r.providerTimeout)
	defer cancel()

	type reply struct {
		resp *providers.QuoteResponse
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		if !a.IsAvailable(ctx) {
			done <- reply{err: providers.NewError(a.ID(), providers.CodeUnavailable, "provider reports unavailable", providers.ErrUnavailable)}
			return
		}
		resp, err := a.GetQuotes(ctx, req)
		done <- reply{resp: resp, err: err}
	}()

	out := fetchOutcome{adapter: a}
	select {
	case rep := <-done:
		out.resp = rep.resp
		if rep.err != nil {
			out.err = providers.Classify(a.ID(), rep.err)
		}
	case <-ctx.Done():
		out.err = providers.Classify(a.ID(), fmt.Errorf("no response within %s: %w", r.providerTimeout, ctx.Err()))
	}
	out.duration = time.Since(start)
	return out
}

func (r *Ranker) recordFetch(rn *run, o fetchOutcome) {
	id := o.adapter.ID()
	ev := FetchEvent{RunID: rn.id, ProviderID: id, Duration: o.duration}

	switch {
	case o.err != nil:
		ev.Code = o.err.Code
		ev.Error = o.err
		rn.reject(id, model.StageFetch, string(o.err.Code), o.err.Retryable, o.err.Error())
	case o.resp == nil || len(o.resp.Quotes) == 0:
		ev.Success = true
		rn.reject(id, model.StageFetch, "", false, "no quotes returned")
	default:
		ev.Success = true
		ev.Quotes = len(o.resp.Quotes)
		rn.fetched = append(rn.fetched, o)
	}
	r.meter.OnFetch(ev)
}

func (r *Ranker) prefetchTokens(ctx context.Context, rn *run) {
	if r.tokens == nil {
		return
	}
	seen := map[string]bool{}
	var symbols []string
	for _, o := range rn.fetched {
		for _, q := range o.resp.Quotes {
			if q.Currency == model.CurrencyToken && q.TokenSymbol != "" && !seen[q.TokenSymbol] {
				seen[q.TokenSymbol] = true
				symbols = append(symbols, q.TokenSymbol)
			}
		}
	}
	if len(symbols) > 0 {
		r.tokens.GetPrices(ctx, symbols)
	}
}

// providerCandidates are one provider's normalized quotes.
type providerCandidates struct {
	outcome    fetchOutcome
	candidates []filter.Candidate
}

func (r *Ranker) normalizeAll(ctx context.Context, rn *run) []providerCandidates {
	sort.Slice(rn.fetched, func(i, j int) bool { return rn.fetched[i].adapter.ID() < rn.fetched[j].adapter.ID() })

	out := make([]providerCandidates, 0, len(rn.fetched))
	for _, o := range rn.fetched {
		pc := providerCandidates{outcome: o}
		for _, q := range o.resp.Quotes {
			q.ProviderID = o.adapter.ID()
			pc.candidates = append(pc.candidates, filter.Candidate{
				Quote:      q,
				Normalized: r.normalizer.NormalizeQuote(ctx, q, rn.job),
			})
		}
		out = append(out, pc)
	}
	return out
}

// filterAll applies quote constraints and keeps the best surviving quote of
// every provider as its scoring input.
func (r *Ranker) filterAll(rn *run, all []providerCandidates) []scoring.Input {
	var inputs []scoring.Input
	for _, pc := range all {
		id := pc.outcome.adapter.ID()
		passed, rejected := filter.Apply(rn.job.Constraints, pc.candidates)
		if len(passed) == 0 {
			stage := model.StageNormalize
			for _, rej := range rejected {
				if !rej.Normalized.HasError {
					stage = model.StageFilter
					break
				}
			}
			rn.reject(id, stage, "", false, joinReasons(rejected))
			continue
		}

		best := passed[0]
		for _, c := range passed[1:] {
			if better(c, best, rn.job.Constraints) {
				best = c
			}
		}
		inputs = append(inputs, scoring.Input{
			Price:      best.Normalized,
			LatencyMs:  pc.outcome.resp.LatencyMs,
			Reputation: pc.outcome.adapter.Info().ReputationScore,
			Unpriced:   unpriced(best.Normalized),
		})
	}
	return inputs
}

// better prefers the lower effective price, then the more preferred region.
func better(a, b filter.Candidate, c model.Constraints) bool {
	if ua, ub := unpriced(a.Normalized), unpriced(b.Normalized); ua != ub {
		return ub
	}
	pa, pb := a.Normalized.EffectiveUSDPerA100Hour, b.Normalized.EffectiveUSDPerA100Hour
	if pa != pb {
		return pa < pb
	}
	return scoring.GeographyScore(a.Quote.Region, c.PreferredRegions) > scoring.GeographyScore(b.Quote.Region, c.PreferredRegions)
}

// unpriced reports a token quote whose rate fell back to zero.
func unpriced(np model.NormalizedPrice) bool {
	return normalize.HasWarning(np, normalize.WarnZeroTokenPrice)
}

func joinReasons(rejected []filter.Rejection) string {
	seen := map[string]bool{}
	var reasons []string
	for _, rej := range rejected {
		for _, reason := range rej.Reasons {
			if !seen[reason] {
				seen[reason] = true
				reasons = append(reasons, reason)
			}
		}
	}
	return strings.Join(reasons, "; ")
}

// recommend takes the top k candidates. Each is compared with its
// neighbour: rank 1 against rank 2, every other rank against the one above.
func recommend(scored []model.ScoredCandidate, k int) []model.Recommendation {
	if k > len(scored) {
		k = len(scored)
	}

	priciest := decimal.Zero
	for _, c := range scored {
		if unpriced(c.Price) {
			continue
		}
		if p := decimal.NewFromFloat(c.Price.EffectiveUSDPerA100Hour); p.GreaterThan(priciest) {
			priciest = p
		}
	}

	recs := make([]model.Recommendation, k)
	for i := 0; i < k; i++ {
		rec := model.Recommendation{Rank: i + 1, Candidate: scored[i]}
		switch {
		case len(scored) == 1:
			rec.Tradeoffs = []string{"only eligible provider"}
		case i == 0:
			rec.Tradeoffs = Tradeoffs(scored[0], scored[1], 2)
		default:
			rec.Tradeoffs = Tradeoffs(scored[i], scored[i-1], i)
		}
		if priciest.IsPositive() && !unpriced(scored[i].Price) {
			p := decimal.NewFromFloat(scored[i].Price.EffectiveUSDPerA100Hour)
			rec.SavingsPercent = priciest.Sub(p).Div(priciest).Mul(decimal.NewFromInt(100)).Round(2).InexactFloat64()
		}
		recs[i] = rec
	}
	return recs
}

func (r *Ranker) recordTrace(ctx context.Context, log *slog.Logger, rn *run, res *Result) {
	t, err := trace.Build(trace.Input{
		RunID:           rn.id,
		Job:             rn.job,
		Weights:         rn.weights,
		Candidates:      res.Scored,
		Rejected:        res.Rejected,
		Recommendations: res.Recommendations,
		Partial:         res.Partial,
		State:           res.State,
		Timestamp:       r.now(),
		TopN:            r.topN,
	})
	if err != nil {
		log.Error("build reasoning trace", "error", err)
		return
	}
	res.Trace = t

	if r.store == nil {
		return
	}
	hash, err := storage.Save(ctx, r.store, t)
	if err != nil {
		log.Warn("persist reasoning trace", "error", err)
		return
	}
	res.TraceHash = hash
}

func sortRejected(rejected []model.RejectedProvider) []model.RejectedProvider {
	out := append([]model.RejectedProvider{}, rejected...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out
}

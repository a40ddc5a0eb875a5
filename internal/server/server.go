package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/providers"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/ranker"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/settlement"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/storage"
)

// DefaultMaxBodySize bounds request bodies.
const DefaultMaxBodySize = 1 << 20

// Server exposes the ranking engine and trace history over HTTP.
type Server struct {
	ranker    *ranker.Ranker
	registry  *providers.Registry
	store     storage.TraceStore
	publisher *settlement.Publisher
	metrics   http.Handler
	maxBody   int64
	mux       *http.ServeMux
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTraceStore enables the trace endpoints.
func WithTraceStore(s storage.TraceStore) Option {
	return func(srv *Server) { srv.store = s }
}

// WithPublisher enables settlement handoff on rank requests that ask for it.
func WithPublisher(p *settlement.Publisher) Option {
	return func(srv *Server) { srv.publisher = p }
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(srv *Server) { srv.metrics = h }
}

// WithMaxBodySize bounds request bodies.
func WithMaxBodySize(n int64) Option {
	return func(srv *Server) {
		if n > 0 {
			srv.maxBody = n
		}
	}
}

// NewServer creates an API server.
func NewServer(r *ranker.Ranker, registry *providers.Registry, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		ranker:   r,
		registry: registry,
		maxBody:  DefaultMaxBodySize,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/rank", s.handleRank)
	s.mux.HandleFunc("GET /api/v1/providers", s.handleProviders)
	s.mux.HandleFunc("GET /api/v1/traces", s.handleListTraces)
	s.mux.HandleFunc("POST /api/v1/traces", s.handlePutTrace)
	s.mux.HandleFunc("GET /api/v1/traces/{hash}", s.handleGetTrace)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// Handler returns the HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// RankRequest is the body of POST /api/v1/rank.
type RankRequest struct {
	Job       model.JobRequest `json:"job"`
	Weights   *model.Weights   `json:"weights,omitempty"`
	TopK      int              `json:"top_k,omitempty"`
	Providers []string         `json:"providers,omitempty"`
	Settle    bool             `json:"settle,omitempty"`
}

// RankResponse is the ranking result plus the optional handoff.
type RankResponse struct {
	*ranker.Result
	Handoff *settlement.Handoff `json:"handoff,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"providers": s.registry.Len(),
	})
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req RankRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}

	var opts []ranker.RankOption
	if req.Weights != nil {
		opts = append(opts, ranker.UseWeights(*req.Weights))
	}
	if req.TopK != 0 {
		opts = append(opts, ranker.UseTopK(req.TopK))
	}
	if len(req.Providers) > 0 {
		opts = append(opts, ranker.OnlyProviders(req.Providers...))
	}

	res, err := s.ranker.Rank(r.Context(), req.Job, opts...)
	switch {
	case ranker.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ranker.ErrNoEligibleProviders):
		writeJSON(w, http.StatusUnprocessableEntity, RankResponse{Result: res, Error: err.Error()})
		return
	case err != nil:
		s.logger.Error("rank", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	resp := RankResponse{Result: res}
	if req.Settle {
		resp.Handoff, resp.Error = s.settle(r.Context(), res)
	}
	writeJSON(w, http.StatusOK, resp)
}

// settle publishes the handoff. Failures are reported in the response but
// do not fail the ranking.
func (s *Server) settle(ctx context.Context, res *ranker.Result) (*settlement.Handoff, string) {
	if s.publisher == nil {
		return nil, "settlement is not configured"
	}
	h, err := settlement.FromResult(res, time.Now())
	if err != nil {
		return nil, err.Error()
	}
	if err := s.publisher.Publish(ctx, h); err != nil {
		s.logger.Warn("publish handoff", "run_id", res.RunID, "error", err)
		return h, fmt.Sprintf("publish handoff: %v", err)
	}
	return h, ""
}

func (s *Server) handleProviders(w http.ResponseWriter, _ *http.Request) {
	adapters := s.registry.All()
	infos := make([]providers.ProviderInfo, 0, len(adapters))
	for _, a := range adapters {
		infos = append(infos, a.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleListTraces(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	q := r.URL.Query()
	filter := storage.ListFilter{
		ProviderID: q.Get("provider"),
		State:      model.RankState(q.Get("state")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = t
	}

	records, err := s.store.List(ctx, filter)
	if err != nil {
		s.logger.Error("list traces", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if records == nil {
		records = []model.TraceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetTrace(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	payload, err := s.store.Get(ctx, r.PathValue("hash"))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "trace not found")
		return
	case err != nil:
		s.logger.Error("get trace", "hash", r.PathValue("hash"), "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	// Payload bytes are returned untouched so clients can verify the hash.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (s *Server) handlePutTrace(w http.ResponseWriter, r *http.Request) {
	if !s.requireStore(w) {
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "trace payload too large")
		return
	}
	if len(payload) == 0 || !json.Valid(payload) {
		writeError(w, http.StatusBadRequest, "trace payload must be JSON")
		return
	}

	hash, err := s.store.Put(r.Context(), r.Header.Get("X-Run-ID"), payload)
	if err != nil {
		s.logger.Error("put trace", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash})
}

func (s *Server) requireStore(w http.ResponseWriter) bool {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "trace storage is disabled")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

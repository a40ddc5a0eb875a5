// Package postgres provides a PostgreSQL-backed trace store for deployments
// where several broker instances share history.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/storage"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/trace"
)

// Store is a PostgreSQL-backed TraceStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	ownsPool    bool
}

var _ storage.TraceStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "gpb_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a Store on an existing pool. Close leaves the pool open.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "gpb_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn, ensures the schema and returns a Store that owns the pool.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	s := New(pool, opts...)
	s.ownsPool = true
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) tracesTable() string { return s.tablePrefix + "traces" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			hash TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			provider_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			size INTEGER NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_created_idx ON %[1]s (created_at DESC);
		CREATE INDEX IF NOT EXISTS %[1]s_provider_idx ON %[1]s (provider_id);
	`, s.tracesTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, runID string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("postgres: empty trace payload")
	}
	hash := trace.Hash(payload)

	providerID, state := storage.Summarize(payload)

	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (hash, run_id, provider_id, state, size, payload)
			VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (hash) DO NOTHING`, s.tracesTable()),
		hash, runID, providerID, string(state), len(payload), payload,
	)
	if err != nil {
		return "", fmt.Errorf("postgres: insert trace: %w", err)
	}
	return hash, nil
}

func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	hash = strings.ToLower(hash)
	var payload []byte
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT payload FROM %s WHERE hash = $1`, s.tracesTable()), hash,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get trace: %w", err)
	}
	if trace.Hash(payload) != hash {
		return nil, fmt.Errorf("%w: %s", storage.ErrHashMismatch, hash)
	}
	return payload, nil
}

func (s *Store) List(ctx context.Context, filter storage.ListFilter) ([]model.TraceRecord, error) {
	var conditions []string
	var args []any
	if filter.ProviderID != "" {
		args = append(args, filter.ProviderID)
		conditions = append(conditions, fmt.Sprintf("provider_id = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, string(filter.State))
		conditions = append(conditions, fmt.Sprintf("state = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	args = append(args, limit)

	q := fmt.Sprintf("SELECT hash, run_id, provider_id, state, size, created_at FROM %s", s.tracesTable())
	if len(conditions) > 0 {
		q += " WHERE " + strings.Join(conditions, " AND ")
	}
	q += fmt.Sprintf(" ORDER BY created_at DESC, hash LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list traces: %w", err)
	}
	defer rows.Close()

	var records []model.TraceRecord
	for rows.Next() {
		var r model.TraceRecord
		var state string
		var created time.Time
		if err := rows.Scan(&r.Hash, &r.RunID, &r.ProviderID, &state, &r.Size, &created); err != nil {
			return nil, fmt.Errorf("postgres: scan trace: %w", err)
		}
		r.State = model.RankState(state)
		r.CreatedAt = created.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the pool if the store opened it.
func (s *Store) Close() error {
	if s.ownsPool {
		s.pool.Close()
	}
	return nil
}

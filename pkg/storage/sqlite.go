package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/trace"

	_ "modernc.org/sqlite"
)

// SQLite stores traces in a local SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ TraceStore = (*SQLite)(nil)

// SQLiteOption configures an SQLite store.
type SQLiteOption func(*SQLite)

// WithClock sets the clock used for created_at.
func WithClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) { s.now = now }
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string, opts ...SQLiteOption) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLite{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLite) Put(ctx context.Context, runID string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("empty trace payload")
	}
	hash := trace.Hash(payload)
	providerID, state := Summarize(payload)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO traces (hash, run_id, provider_id, state, size, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(hash) DO NOTHING`,
		hash, runID, providerID, string(state), len(payload), payload, s.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert trace: %w", err)
	}
	return hash, nil
}

func (s *SQLite) Get(ctx context.Context, hash string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM traces WHERE hash = ?`, strings.ToLower(hash)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("get trace: %w", err)
	}
	if trace.Hash(payload) != strings.ToLower(hash) {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, hash)
	}
	return payload, nil
}

func (s *SQLite) List(ctx context.Context, filter ListFilter) ([]model.TraceRecord, error) {
	query := "SELECT hash, run_id, provider_id, state, size, created_at FROM traces"
	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY created_at DESC, hash LIMIT ?"
	args = append(args, limitOrDefault(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var records []model.TraceRecord
	for rows.Next() {
		var r model.TraceRecord
		var state string
		if err := rows.Scan(&r.Hash, &r.RunID, &r.ProviderID, &state, &r.Size, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trace row: %w", err)
		}
		r.State = model.RankState(state)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// buildWhereClause constructs a SQL WHERE clause from a ListFilter.
func buildWhereClause(filter ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.ProviderID != "" {
		conditions = append(conditions, "provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, string(filter.State))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	return strings.Join(conditions, " AND "), args
}

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/trace"
)

var (
	// ErrNotFound is returned when no trace exists for a hash.
	ErrNotFound = errors.New("trace not found")
	// ErrHashMismatch is returned when stored bytes do not hash to their key.
	ErrHashMismatch = errors.New("trace hash mismatch")
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// ListFilter narrows a history listing.
type ListFilter struct {
	ProviderID string
	State      model.RankState
	Since      time.Time
	Limit      int
}

// TraceStore persists canonical trace payloads addressed by their SHA-256.
type TraceStore interface {
	// Put stores payload and returns its content hash. Storing the same
	// payload twice is a no-op that returns the same hash.
	Put(ctx context.Context, runID string, payload []byte) (string, error)

	// Get returns the payload for hash or ErrNotFound.
	Get(ctx context.Context, hash string) ([]byte, error)

	// List returns trace summaries, newest first.
	List(ctx context.Context, filter ListFilter) ([]model.TraceRecord, error)

	// Close releases resources.
	Close() error
}

// Save canonicalizes t and stores it.
func Save(ctx context.Context, s TraceStore, t *model.ReasoningTrace) (string, error) {
	payload, hash, err := trace.Digest(t)
	if err != nil {
		return "", fmt.Errorf("canonicalize trace: %w", err)
	}
	got, err := s.Put(ctx, t.RunID, payload)
	if err != nil {
		return "", err
	}
	if got != hash {
		return "", fmt.Errorf("%w: store returned %s, expected %s", ErrHashMismatch, got, hash)
	}
	return hash, nil
}

// Load fetches and decodes a trace.
func Load(ctx context.Context, s TraceStore, hash string) (*model.ReasoningTrace, error) {
	payload, err := s.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	return trace.Decode(payload)
}

// Summarize extracts the history columns from a payload. Payloads that are
// not traces are stored with empty summary fields.
func Summarize(payload []byte) (providerID string, state model.RankState) {
	t, err := trace.Decode(payload)
	if err != nil {
		return "", ""
	}
	if len(t.Recommendations) > 0 {
		providerID = t.Recommendations[0].Candidate.ProviderID()
	}
	return providerID, t.State
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return DefaultListLimit
	}
	return n
}

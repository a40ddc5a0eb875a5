// Package trace builds the auditable reasoning trace of a ranking call and
// its canonical, hashable JSON form.
package trace

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
)

// DefaultTopN is how many scored candidates a trace keeps.
const DefaultTopN = 5

// ErrInvalidTrace is wrapped by every Build validation failure.
var ErrInvalidTrace = errors.New("invalid trace")

// Input collects everything a trace records.
type Input struct {
	RunID           string
	Job             model.JobRequest
	Weights         model.Weights
	Candidates      []model.ScoredCandidate
	Rejected        []model.RejectedProvider
	Recommendations []model.Recommendation
	Partial         bool
	State           model.RankState
	Timestamp       time.Time
	TopN            int
}

// Build validates in and returns the trace. Candidates are assumed sorted
// best first and are truncated to TopN (DefaultTopN when zero).
func Build(in Input) (*model.ReasoningTrace, error) {
	if in.RunID == "" {
		return nil, fmt.Errorf("%w: run id is required", ErrInvalidTrace)
	}
	if err := in.Job.Validate(); err != nil {
		return nil, fmt.Errorf("%w: job: %v", ErrInvalidTrace, err)
	}
	if in.Weights.IsZero() {
		return nil, fmt.Errorf("%w: weights are required", ErrInvalidTrace)
	}
	if in.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is required", ErrInvalidTrace)
	}
	switch in.State {
	case model.StateRanked, model.StateFailed:
	case "":
		return nil, fmt.Errorf("%w: state is required", ErrInvalidTrace)
	default:
		return nil, fmt.Errorf("%w: state %q is not terminal", ErrInvalidTrace, in.State)
	}

	topN := in.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}
	candidates := in.Candidates
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}

	t := &model.ReasoningTrace{
		Version:         model.TraceVersion,
		RunID:           in.RunID,
		Job:             in.Job.Clone(),
		Weights:         in.Weights,
		Candidates:      append([]model.ScoredCandidate{}, candidates...),
		Rejected:        append([]model.RejectedProvider{}, in.Rejected...),
		Recommendations: append([]model.Recommendation{}, in.Recommendations...),
		Partial:         in.Partial,
		State:           in.State,
		Timestamp:       in.Timestamp.UTC(),
	}
	return t, nil
}

// Canonical encodes v as JSON with object keys sorted at every level, no
// HTML escaping and no trailing newline. Equal values always produce equal bytes.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash returns the lowercase hex SHA-256 of b.
func Hash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Digest canonicalizes v and hashes it.
func Digest(v any) (payload []byte, hash string, err error) {
	payload, err = Canonical(v)
	if err != nil {
		return nil, "", err
	}
	return payload, Hash(payload), nil
}

// Decode parses a stored trace payload.
func Decode(payload []byte) (*model.ReasoningTrace, error) {
	var t model.ReasoningTrace
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &t, nil
}

package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/trace"
)

// maxPayload bounds trace downloads.
const maxPayload = 8 << 20

// HTTPStore talks to a remote content store exposing POST /traces and
// GET /traces/{hash}. Every hash the remote returns is checked locally.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	token   string
}

var _ TraceStore = (*HTTPStore)(nil)

// HTTPOption configures an HTTPStore.
type HTTPOption func(*HTTPStore)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPStore) { s.client = c }
}

// WithBearerToken sends an Authorization header on every request.
func WithBearerToken(token string) HTTPOption {
	return func(s *HTTPStore) { s.token = token }
}

// NewHTTPStore creates a client for the store at baseURL.
func NewHTTPStore(baseURL string, opts ...HTTPOption) *HTTPStore {
	s := &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type putResponse struct {
	Hash string `json:"hash"`
}

func (s *HTTPStore) Put(ctx context.Context, runID string, payload []byte) (string, error) {
	if len(payload) == 0 {
		return "", fmt.Errorf("empty trace payload")
	}
	local := trace.Hash(payload)

	req, err := s.newRequest(ctx, http.MethodPost, "/traces", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Run-ID", runID)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("store trace: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", statusError("store trace", resp)
	}

	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode store response: %w", err)
	}
	if !strings.EqualFold(out.Hash, local) {
		return "", fmt.Errorf("%w: remote %s, local %s", ErrHashMismatch, out.Hash, local)
	}
	return local, nil
}

func (s *HTTPStore) Get(ctx context.Context, hash string) ([]byte, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/traces/"+url.PathEscape(hash), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch trace: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch trace", resp)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload))
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	if trace.Hash(payload) != strings.ToLower(hash) {
		return nil, fmt.Errorf("%w: %s", ErrHashMismatch, hash)
	}
	return payload, nil
}

func (s *HTTPStore) List(ctx context.Context, filter ListFilter) ([]model.TraceRecord, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limitOrDefault(filter.Limit)))
	if filter.ProviderID != "" {
		q.Set("provider", filter.ProviderID)
	}
	if filter.State != "" {
		q.Set("state", string(filter.State))
	}
	if !filter.Since.IsZero() {
		q.Set("since", filter.Since.UTC().Format(time.RFC3339))
	}

	req, err := s.newRequest(ctx, http.MethodGet, "/traces?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list traces", resp)
	}

	var records []model.TraceRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode trace list: %w", err)
	}
	return records, nil
}

func (s *HTTPStore) Close() error { return nil }

func (s *HTTPStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	return req, nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
}

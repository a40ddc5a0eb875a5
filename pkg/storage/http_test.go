package storage_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/GPU-Broker/pkg/model"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/storage"
	"github.com/ogulcanaydogan/GPU-Broker/pkg/trace"
)

// fakeContentStore is a minimal content-addressed HTTP store.
type fakeContentStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	lastAuth string
	badHash  bool
}

func (f *fakeContentStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAuth = r.Header.Get("Authorization")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/traces":
		body, _ := io.ReadAll(r.Body)
		hash := trace.Hash(body)
		f.blobs[hash] = body
		if f.badHash {
			hash = strings.Repeat("0", 64)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"hash": hash})
	case r.Method == http.MethodGet && r.URL.Path == "/traces":
		if r.URL.Query().Get("limit") != "7" {
			http.Error(w, "bad limit", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode([]model.TraceRecord{{Hash: "abc", RunID: "run-1"}})
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/traces/"):
		blob, ok := f.blobs[strings.TrimPrefix(r.URL.Path, "/traces/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(blob)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func newFakeStore(t *testing.T) (*fakeContentStore, *storage.HTTPStore) {
	t.Helper()
	fake := &fakeContentStore{blobs: map[string][]byte{}}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)
	return fake, storage.NewHTTPStore(ts.URL+"/", storage.WithBearerToken("secret"))
}

func TestHTTPStore_RoundTrip(t *testing.T) {
	fake, s := newFakeStore(t)
	ctx := context.Background()

	hash, err := storage.Save(ctx, s, sampleTrace(t, "run-1", "lambda", model.StateRanked))
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", fake.lastAuth)

	tr, err := storage.Load(ctx, s, hash)
	require.NoError(t, err)
	assert.Equal(t, "run-1", tr.RunID)
}

func TestHTTPStore_RemoteHashMismatch(t *testing.T) {
	fake, s := newFakeStore(t)
	fake.badHash = true

	_, err := s.Put(context.Background(), "run-1", []byte(`{"a":1}`))
	assert.ErrorIs(t, err, storage.ErrHashMismatch)
}

func TestHTTPStore_TamperedPayload(t *testing.T) {
	fake, s := newFakeStore(t)
	ctx := context.Background()

	hash, err := s.Put(ctx, "run-1", []byte(`{"a":1}`))
	require.NoError(t, err)
	fake.mu.Lock()
	fake.blobs[hash] = []byte(`{"a":2}`)
	fake.mu.Unlock()

	_, err = s.Get(ctx, hash)
	assert.ErrorIs(t, err, storage.ErrHashMismatch)
}

func TestHTTPStore_NotFound(t *testing.T) {
	_, s := newFakeStore(t)
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestHTTPStore_List(t *testing.T) {
	_, s := newFakeStore(t)
	records, err := s.List(context.Background(), storage.ListFilter{Limit: 7})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "run-1", records[0].RunID)
	assert.NoError(t, s.Close())
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder/notation"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/source"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/metrics"
)

type response struct {
	Hits []struct {
		ID        string   `json:"id"`
		Score     float64  `json:"score"`
		Alignment *struct {
			QueryAligned string `json:"query_aligned"`
		} `json:"alignment"`
	} `json:"hits"`
	Partial bool   `json:"partial"`
	Cached  bool   `json:"cached"`
	BuildID string `json:"build_id"`
	Error   string `json:"error"`
}

func buildDB(t *testing.T, c notation.Codec, records ...source.Record) store.Paths {
	t.Helper()
	dir := t.TempDir()
	paths := store.Paths{Store: filepath.Join(dir, "db.fmt"), Index: filepath.Join(dir, "db.idx")}
	_, err := indexer.NewBuilder(c, indexer.Options{}).Build(context.Background(), source.NewSlice(records...), paths, indexer.NoLimit)
	require.NoError(t, err)
	return paths
}

type fixture struct {
	mux     *http.ServeMux
	engine  *executor.Engine
	paths   store.Paths
	codec   notation.Codec
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	c, err := notation.For(notation.Symbols)
	require.NoError(t, err)
	paths := buildDB(t, c,
		source.Record{ID: "A", Notation: "MKV"},
		source.Record{ID: "B", Notation: "MKL"},
		source.Record{ID: "C", Notation: "QQQ"},
	)
	m := metrics.New(prometheus.NewRegistry())
	eng, err := executor.Open(paths, executor.Options{Codec: c, Workers: 2, ChunkSize: 1})
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(cache.NewLRUBackend(16, time.Minute), time.Minute, m)
	}
	mux := http.NewServeMux()
	New(eng, qc, m, 10, 2).Register(mux)
	return &fixture{mux: mux, engine: eng, paths: paths, codec: c, metrics: m}
}

func (f *fixture) do(t *testing.T, method, target string) (int, response) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec.Code, body
}

func TestSearchRanksHits(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/api/v1/search?q=MKV&top=2")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body.Hits, 2)
	assert.Equal(t, "A", body.Hits[0].ID)
	assert.Equal(t, 14.0, body.Hits[0].Score)
	assert.Equal(t, "B", body.Hits[1].ID)
	assert.False(t, body.Partial)
	assert.Nil(t, body.Hits[0].Alignment)
}

func TestSearchClampsTopAndAligns(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/api/v1/search?q=MKV&top=50&align=true")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body.Hits, 2)
	require.NotNil(t, body.Hits[0].Alignment)
	assert.Equal(t, "MKV", body.Hits[0].Alignment.QueryAligned)
}

func TestSearchRejectsBadRequests(t *testing.T) {
	f := newFixture(t, false)
	for _, target := range []string{
		"/api/v1/search",
		"/api/v1/search?q=MKV&top=0",
		"/api/v1/search?q=MKV&top=x",
		"/api/v1/search?q=MKV&align=maybe",
		"/api/v1/search?q=M%C3%A9",
	} {
		code, body := f.do(t, http.MethodGet, target)
		assert.Equal(t, http.StatusBadRequest, code, target)
		assert.NotEmpty(t, body.Error, target)
	}
}

func TestSearchCachesByBuild(t *testing.T) {
	f := newFixture(t, true)

	_, first := f.do(t, http.MethodGet, "/api/v1/search?q=MKV&top=2")
	assert.False(t, first.Cached)
	_, second := f.do(t, http.MethodGet, "/api/v1/search?q=MKV&top=2")
	assert.True(t, second.Cached)
	assert.Equal(t, first.Hits, second.Hits)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHitsTotal))

	_, err := indexer.NewBuilder(f.codec, indexer.Options{}).Build(context.Background(),
		source.NewSlice(source.Record{ID: "Z", Notation: "MKV"}), f.paths, indexer.NoLimit)
	require.NoError(t, err)
	code, _ := f.do(t, http.MethodPost, "/api/v1/database/reload")
	require.Equal(t, http.StatusOK, code)

	_, third := f.do(t, http.MethodGet, "/api/v1/search?q=MKV&top=2")
	assert.False(t, third.Cached)
	require.Len(t, third.Hits, 1)
	assert.Equal(t, "Z", third.Hits[0].ID)
	assert.NotEqual(t, first.BuildID, third.BuildID)
}

func TestCacheEndpoints(t *testing.T) {
	f := newFixture(t, true)
	f.do(t, http.MethodGet, "/api/v1/search?q=MKV")

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend":"lru"`)

	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	_, body := f.do(t, http.MethodGet, "/api/v1/search?q=MKV")
	assert.False(t, body.Cached)
}

func TestCacheInvalidateWithoutCache(t *testing.T) {
	f := newFixture(t, false)
	code, _ := f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestDatabaseInfo(t *testing.T) {
	f := newFixture(t, false)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/database", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 3.0, info["records"])
	assert.Equal(t, notation.Symbols, info["notation"])
}

type partialEngine struct {
	*executor.Engine
}

func (p partialEngine) Search(ctx context.Context, q encoder.EncodedSequence, topK int, opts ...executor.SearchOption) (*executor.SearchResult, error) {
	return &executor.SearchResult{
		Query:   q.String(),
		Hits:    []executor.ScoreResult{{ID: "A", Score: 14}},
		Scanned: 1,
		Total:   3,
		Partial: true,
	}, fmt.Errorf("%w: %w", apperrors.ErrCancelled, context.DeadlineExceeded)
}

func TestSearchReturnsPartialResults(t *testing.T) {
	f := newFixture(t, false)
	mux := http.NewServeMux()
	New(partialEngine{f.engine}, nil, nil, 10, 10).Register(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/search?q=MKV", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Partial)
	assert.Len(t, body.Hits, 1)
}

func TestReloadFailureKeepsServing(t *testing.T) {
	f := newFixture(t, false)
	require.NoError(t, writeGarbage(f.paths.Index))

	code, body := f.do(t, http.MethodPost, "/api/v1/database/reload")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEmpty(t, body.Error)

	code, search := f.do(t, http.MethodGet, "/api/v1/search?q=MKV&top=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "A", search.Hits[0].ID)
}

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not an index"), 0o644)
}

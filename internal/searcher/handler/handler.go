// Package handler exposes the search engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder/notation"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/metrics"
)

// SearchEngine is the part of *executor.Engine the handler drives.
type SearchEngine interface {
	Codec() notation.Codec
	Info() (store.Info, error)
	Search(ctx context.Context, query encoder.EncodedSequence, topK int, opts ...executor.SearchOption) (*executor.SearchResult, error)
	Reload() error
}

type Handler struct {
	engine  SearchEngine
	cache   *cache.QueryCache
	metrics *metrics.Metrics
	topK    int
	maxTopK int
	logger  *slog.Logger
}

// New builds a Handler. queryCache and m may be nil.
func New(engine SearchEngine, queryCache *cache.QueryCache, m *metrics.Metrics, defaultTopK, maxTopK int) *Handler {
	return &Handler{
		engine:  engine,
		cache:   queryCache,
		metrics: m,
		topK:    defaultTopK,
		maxTopK: maxTopK,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/database", h.Database)
	mux.HandleFunc("POST /api/v1/database/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type searchResponse struct {
	*executor.SearchResult
	Cached bool `json:"cached"`
}

// Search answers GET /api/v1/search?q=<notation>&top=<k>&align=<bool>.
// A search that runs out of time answers 200 with the hits found so far and
// "partial": true.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	raw := r.URL.Query().Get("q")
	if raw == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	topK := h.topK
	if s := r.URL.Query().Get("top"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		topK = min(n, h.maxTopK)
	}
	withAlignment := false
	if s := r.URL.Query().Get("align"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "align must be a boolean")
			return
		}
		withAlignment = b
	}

	query, err := h.engine.Codec().Encode("query", raw)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %w", apperrors.ErrQueryEncoding, err))
		return
	}
	query = query.WithDescription(raw)

	compute := func() (*executor.SearchResult, error) {
		return h.engine.Search(ctx, query, topK, executor.WithAlignment(withAlignment))
	}
	var (
		result *executor.SearchResult
		cached bool
	)
	if h.cache != nil {
		info, infoErr := h.engine.Info()
		if infoErr != nil {
			h.fail(w, r, infoErr)
			return
		}
		key := cache.Key{
			BuildID:   fmt.Sprintf("%016x", info.BuildID),
			Query:     query.String(),
			TopK:      topK,
			Alignment: withAlignment,
		}
		result, cached, err = h.cache.GetOrCompute(ctx, key, compute)
	} else {
		result, err = compute()
	}

	if err != nil && !(errors.Is(err, apperrors.ErrCancelled) && result != nil) {
		h.fail(w, r, err)
		return
	}
	h.observeLatency(cached, time.Since(start))
	log.Info("search completed",
		"query", raw,
		"top_k", topK,
		"hits", len(result.Hits),
		"partial", result.Partial,
		"cached", cached,
		"latency", time.Since(start),
	)
	h.writeJSON(w, http.StatusOK, searchResponse{SearchResult: result, Cached: cached})
}

// Database describes the database being served.
func (h *Handler) Database(w http.ResponseWriter, r *http.Request) {
	info, err := h.engine.Info()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	codec := h.engine.Codec()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"records":         info.Count,
		"build_id":        fmt.Sprintf("%016x", info.BuildID),
		"created_at":      info.CreatedAt,
		"encoder_version": info.EncoderVersion,
		"notation":        codec.Name,
		"store_bytes":     info.StoreSize,
	})
}

// Reload reopens the database files and drops cached results.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reload(); err != nil {
		h.fail(w, r, err)
		return
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(r.Context()); err != nil {
			h.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	h.Database(w, r)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"backend":  h.cache.Backend(),
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) observeLatency(cached bool, d time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "miss"
	switch {
	case h.cache == nil:
		status = "disabled"
	case cached:
		status = "hit"
	}
	h.metrics.SearchLatency.WithLabelValues(status).Observe(d.Seconds())
}

// fail maps err to its HTTP status. Server-side failures are logged and
// their detail withheld from the client.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	log := logger.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

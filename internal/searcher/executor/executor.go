// Package executor runs similarity searches: it scores an encoded query
// against every record of a formatted database in parallel and keeps the
// best K hits.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/encoder/notation"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/indexer/store"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/align"
	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/ranker"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/metrics"
)

// ScoreResult is one ranked hit.
type ScoreResult struct {
	ID        string           `json:"id"`
	Ordinal   int              `json:"ordinal"`
	Score     float64          `json:"score"`
	Alignment *align.Alignment `json:"alignment,omitempty"`
}

// SearchResult holds the ranked hits of one search. Partial is set when the
// search was cancelled before every record was scored.
type SearchResult struct {
	Query    string        `json:"query"`
	Hits     []ScoreResult `json:"hits"`
	Scanned  int           `json:"scanned"`
	Total    int           `json:"total"`
	Partial  bool          `json:"partial"`
	BuildID  string        `json:"build_id"`
	Duration time.Duration `json:"duration_ns"`
}

type Options struct {
	// Codec encodes notation queries and fixes the encoder version the
	// database must have been built with.
	Codec notation.Codec
	// Scorer defaults to BLOSUM62 with a gap penalty of -4.
	Scorer    *align.Scorer
	Workers   int
	ChunkSize int
	// WithAlignment makes every search compute alignments for its hits
	// unless the call overrides it.
	WithAlignment bool
	Metrics       *metrics.Metrics
}

// SearchOption adjusts a single search.
type SearchOption func(*searchConfig)

type searchConfig struct {
	withAlignment bool
}

// WithAlignment turns hit alignments on or off for one search.
func WithAlignment(on bool) SearchOption {
	return func(c *searchConfig) { c.withAlignment = on }
}

// Engine serves searches against one database. Searches run concurrently;
// Reload swaps in a rebuilt database without interrupting them.
type Engine struct {
	paths  store.Paths
	opts   Options
	logger *slog.Logger

	mu     sync.RWMutex
	reader *store.Reader
}

// Open validates the database at paths and returns an Engine over it.
func Open(paths store.Paths, opts Options) (*Engine, error) {
	if opts.Codec.Encoder == nil || opts.Codec.Parser == nil {
		return nil, fmt.Errorf("%w: executor needs a notation codec", apperrors.ErrInvalidInput)
	}
	if opts.Scorer == nil {
		opts.Scorer = align.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 256
	}
	r, err := store.Open(paths, opts.Codec.Encoder.Version())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		paths:  paths,
		opts:   opts,
		reader: r,
		logger: slog.Default().With("component", "search-engine", "store", paths.Store),
	}
	e.observeDatabase(r)
	e.logger.Info("database opened", "records", r.Len(), "build_id", buildID(r))
	return e, nil
}

// Search opens the database at paths, runs one search and closes it.
func Search(ctx context.Context, query encoder.EncodedSequence, paths store.Paths, topK int, opts Options) (*SearchResult, error) {
	e, err := Open(paths, opts)
	if err != nil {
		return nil, err
	}
	defer e.Close()
	return e.Search(ctx, query, topK)
}

func (e *Engine) Paths() store.Paths { return e.paths }

func (e *Engine) Codec() notation.Codec { return e.opts.Codec }

// Info describes the database currently served.
func (e *Engine) Info() (store.Info, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.reader == nil {
		return store.Info{}, errClosed
	}
	return e.reader.Info(), nil
}

var errClosed = fmt.Errorf("%w: search engine is closed", apperrors.ErrInternal)

// SearchNotation encodes a raw query with the engine's codec and searches
// for it. A query that cannot be encoded fails with ErrQueryEncoding before
// any record is scored.
func (e *Engine) SearchNotation(ctx context.Context, raw string, topK int, opts ...SearchOption) (*SearchResult, error) {
	q, err := e.opts.Codec.Encode("query", raw)
	if err != nil {
		e.countOutcome("error")
		return nil, fmt.Errorf("%w: %w", apperrors.ErrQueryEncoding, err)
	}
	return e.Search(ctx, q.WithDescription(raw), topK, opts...)
}

// Search scores query against every record and returns the best topK hits,
// best first. Equal scores rank by ordinal. If ctx ends mid-scan, the hits
// found so far are returned with Partial set, together with an error
// wrapping ErrCancelled.
func (e *Engine) Search(ctx context.Context, query encoder.EncodedSequence, topK int, opts ...SearchOption) (*SearchResult, error) {
	cfg := searchConfig{withAlignment: e.opts.WithAlignment}
	for _, o := range opts {
		o(&cfg)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", apperrors.ErrInvalidInput, topK)
	}
	if query.Len() == 0 {
		return nil, fmt.Errorf("%w: empty query", apperrors.ErrQueryEncoding)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.reader == nil {
		return nil, errClosed
	}

	start := time.Now()
	top, scanned, scanErr := e.scan(ctx, e.reader, query.Symbols, topK)
	if scanErr != nil && !errors.Is(scanErr, apperrors.ErrCancelled) {
		e.countOutcome("error")
		return nil, scanErr
	}

	hits := top.Results()
	res := &SearchResult{
		Query:   query.String(),
		Hits:    make([]ScoreResult, len(hits)),
		Scanned: scanned,
		Total:   e.reader.Len(),
		Partial: scanErr != nil,
		BuildID: buildID(e.reader),
	}
	for i, h := range hits {
		res.Hits[i] = ScoreResult{ID: h.ID, Ordinal: h.Ordinal, Score: h.Score}
		if cfg.withAlignment && !res.Partial {
			rec, err := e.reader.Record(h.Ordinal)
			if err != nil {
				e.countOutcome("error")
				return nil, err
			}
			a := e.opts.Scorer.Align(query.Symbols, rec.Symbols)
			res.Hits[i].Alignment = &a
		}
	}
	res.Duration = time.Since(start)

	if m := e.opts.Metrics; m != nil {
		m.RecordsScoredTotal.Add(float64(scanned))
		m.SearchResultsCount.Observe(float64(len(res.Hits)))
	}
	switch {
	case res.Partial:
		e.countOutcome("partial")
		e.logger.Warn("search cancelled", "scanned", scanned, "total", res.Total, "error", scanErr)
		return res, scanErr
	case len(res.Hits) == 0:
		e.countOutcome("zero_result")
	default:
		e.countOutcome("ok")
	}
	e.logger.Debug("search completed",
		"query_len", query.Len(),
		"top_k", topK,
		"scanned", scanned,
		"hits", len(res.Hits),
		"duration", res.Duration,
	)
	return res, nil
}

// scan splits the records into chunks and scores them on at most Workers
// goroutines. Each chunk keeps its own best K and merges them into the
// shared ranker once.
func (e *Engine) scan(ctx context.Context, r *store.Reader, q []encoder.Symbol, topK int) (*ranker.TopK, int, error) {
	top := ranker.New(topK)
	n := r.Len()
	var scanned atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for lo := 0; lo < n && gctx.Err() == nil; lo += e.opts.ChunkSize {
		hi := min(lo+e.opts.ChunkSize, n)
		g.Go(func() error {
			local := ranker.New(topK)
			defer func() { top.OfferAll(local.Results()) }()
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				rec, err := r.Record(i)
				if err != nil {
					return err
				}
				local.Offer(ranker.Hit{Ordinal: i, ID: rec.ID, Score: e.opts.Scorer.Score(q, rec.Symbols)})
				scanned.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()
	done := int(scanned.Load())
	switch {
	case err == nil && done == n:
		return top, done, nil
	case ctx.Err() != nil:
		return top, done, fmt.Errorf("%w: %w", apperrors.ErrCancelled, ctx.Err())
	default:
		return nil, done, err
	}
}

// Reload reopens the database files, for use after a rebuild. Searches in
// flight finish on the old database. If the new files do not validate, the
// engine keeps serving the old database and returns the error.
func (e *Engine) Reload() error {
	r, err := store.Open(e.paths, e.opts.Codec.Encoder.Version())
	if err != nil {
		e.countReload("error")
		e.logger.Error("reload failed, keeping current database", "error", err)
		return err
	}
	e.mu.Lock()
	old := e.reader
	e.reader = r
	e.mu.Unlock()
	if old != nil {
		old.Close()
	}
	e.countReload("ok")
	e.observeDatabase(r)
	e.logger.Info("database reloaded", "records", r.Len(), "build_id", buildID(r))
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.reader == nil {
		return nil
	}
	err := e.reader.Close()
	e.reader = nil
	return err
}

func (e *Engine) countOutcome(outcome string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}
}

func (e *Engine) countReload(status string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.DatabaseReloads.WithLabelValues(status).Inc()
	}
}

func (e *Engine) observeDatabase(r *store.Reader) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.DatabaseRecords.Set(float64(r.Len()))
	}
}

func buildID(r *store.Reader) string {
	return fmt.Sprintf("%016x", r.Info().BuildID)
}

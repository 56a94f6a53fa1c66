// Package cache memoizes search results per database build. Keys include
// the build ID, so a rebuilt database never serves results computed against
// the previous one; Invalidate additionally reclaims the stale entries.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/executor"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/resilience"
)

// Key identifies one search. Query is the encoded symbol string, so two
// notations that encode alike share an entry.
type Key struct {
	BuildID   string
	Query     string
	TopK      int
	Alignment bool
}

func (k Key) hash() string {
	h := sha256.New()
	h.Write([]byte(k.BuildID))
	h.Write([]byte{0})
	h.Write([]byte(k.Query))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(k.TopK)))
	if k.Alignment {
		h.Write([]byte{0, 1})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

type QueryCache struct {
	backend Backend
	ttl     time.Duration
	metrics *metrics.Metrics
	group   singleflight.Group
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New wraps backend. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "query-cache", "backend", backend.Name()),
	}
}

// Get returns the cached result for k. Backend failures are logged and
// reported as misses.
func (c *QueryCache) Get(ctx context.Context, k Key) (*executor.SearchResult, bool) {
	key := k.hash()
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		switch {
		case errors.Is(err, ErrMiss):
		case errors.Is(err, resilience.ErrCircuitOpen):
			c.logger.Debug("cache bypassed", "error", err)
		default:
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var result executor.SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "key", key)
	return &result, true
}

// Set stores result under k. Partial results are never stored.
func (c *QueryCache) Set(ctx context.Context, k Key, result *executor.SearchResult) {
	if result == nil || result.Partial {
		return
	}
	key := k.hash()
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.backend.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached result for k or runs compute once for all
// concurrent callers asking for the same key. A partial result is passed
// through with compute's error and not cached. A caller that joined a
// computation cancelled by another caller's context computes again with its
// own compute while its ctx is live.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	k Key,
	compute func() (*executor.SearchResult, error),
) (*executor.SearchResult, bool, error) {
	if result, ok := c.Get(ctx, k); ok {
		return result, true, nil
	}
	type outcome struct {
		result *executor.SearchResult
		err    error
	}
	key := k.hash()
	for {
		own := false
		val, _, _ := c.group.Do(key, func() (interface{}, error) {
			own = true
			result, err := compute()
			if err == nil {
				c.Set(ctx, k, result)
			}
			return outcome{result, err}, nil
		})
		o := val.(outcome)
		if !own && errors.Is(o.err, apperrors.ErrCancelled) && ctx.Err() == nil {
			c.logger.Debug("shared search was cancelled, recomputing", "key", key)
			continue
		}
		return o.result, false, o.err
	}
}

// Invalidate drops every cached entry.
func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.Purge(ctx)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *QueryCache) Backend() string { return c.backend.Name() }

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

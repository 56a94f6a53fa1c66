package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/chemblast/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/errors"
	pkgredis "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/redis"
)

func newLRU(size int) *LRUBackend {
	return NewLRUBackend(size, time.Minute)
}

func sampleResult() *executor.SearchResult {
	return &executor.SearchResult{
		Query:   "LLS",
		Hits:    []executor.ScoreResult{{ID: "ethanol", Ordinal: 0, Score: 14}},
		Scanned: 2,
		Total:   2,
		BuildID: "0000000000000001",
	}
}

func TestKeyDistinguishesEveryField(t *testing.T) {
	base := Key{BuildID: "a", Query: "LLS", TopK: 10}
	variants := []Key{
		{BuildID: "b", Query: "LLS", TopK: 10},
		{BuildID: "a", Query: "LLT", TopK: 10},
		{BuildID: "a", Query: "LLS", TopK: 11},
		{BuildID: "a", Query: "LLS", TopK: 10, Alignment: true},
	}
	for _, v := range variants {
		assert.NotEqual(t, base.hash(), v.hash(), "%+v", v)
	}
	assert.Equal(t, base.hash(), Key{BuildID: "a", Query: "LLS", TopK: 10}.hash())
}

func TestGetSetRoundTrip(t *testing.T) {
	c := New(newLRU(10), time.Minute, nil)
	ctx := context.Background()
	k := Key{BuildID: "1", Query: "LLS", TopK: 5}

	_, ok := c.Get(ctx, k)
	assert.False(t, ok)

	c.Set(ctx, k, sampleResult())
	got, ok := c.Get(ctx, k)
	require.True(t, ok)
	assert.Equal(t, sampleResult().Hits, got.Hits)
	assert.Equal(t, "0000000000000001", got.BuildID)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestPartialResultsAreNotCached(t *testing.T) {
	c := New(newLRU(10), time.Minute, nil)
	ctx := context.Background()
	k := Key{BuildID: "1", Query: "LLS", TopK: 5}

	partial := sampleResult()
	partial.Partial = true
	c.Set(ctx, k, partial)
	_, ok := c.Get(ctx, k)
	assert.False(t, ok)
}

func TestGetOrComputeRunsOnceAndCaches(t *testing.T) {
	c := New(newLRU(10), time.Minute, nil)
	ctx := context.Background()
	k := Key{BuildID: "1", Query: "LLS", TopK: 5}

	var calls atomic.Int32
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		return sampleResult(), nil
	}

	res, cached, err := c.GetOrCompute(ctx, k, compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "ethanol", res.Hits[0].ID)

	res, cached, err = c.GetOrCompute(ctx, k, compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "ethanol", res.Hits[0].ID)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrComputeCollapsesConcurrentCallers(t *testing.T) {
	c := New(newLRU(10), time.Minute, nil)
	ctx := context.Background()
	k := Key{BuildID: "1", Query: "LLS", TopK: 5}

	release := make(chan struct{})
	var calls atomic.Int32
	compute := func() (*executor.SearchResult, error) {
		calls.Add(1)
		<-release
		return sampleResult(), nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _, err := c.GetOrCompute(ctx, k, compute)
			assert.NoError(t, err)
			assert.Len(t, res.Hits, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.LessOrEqual(t, calls.Load(), int32(8))
	assert.GreaterOrEqual(t, calls.Load(), int32(1))

	_, ok := c.Get(ctx, k)
	assert.True(t, ok)
}

func TestGetOrComputePassesPartialThrough(t *testing.T) {
	c := New(newLRU(10), time.Minute, nil)
	ctx := context.Background()
	k := Key{BuildID: "1", Query: "LLS", TopK: 5}

	partial := sampleResult()
	partial.Partial = true
	cancelled := errors.Join(apperrors.ErrCancelled, context.DeadlineExceeded)

	res, cached, err := c.GetOrCompute(ctx, k, func() (*executor.SearchResult, error) {
		return partial, cancelled
	})
	assert.ErrorIs(t, err, apperrors.ErrCancelled)
	assert.False(t, cached)
	require.NotNil(t, res)
	assert.True(t, res.Partial)

	_, ok := c.Get(ctx, k)
	assert.False(t, ok)
}

func TestGetOrComputeRecomputesForLiveCaller(t *testing.T) {
	c := New(newLRU(10), time.Minute, nil)
	k := Key{BuildID: "1", Query: "LLS", TopK: 5}

	ctxA, cancelA := context.WithCancel(context.Background())
	started := make(chan struct{})
	computeA := func() (*executor.SearchResult, error) {
		close(started)
		<-ctxA.Done()
		partial := sampleResult()
		partial.Partial = true
		return partial, fmt.Errorf("%w: %w", apperrors.ErrCancelled, ctxA.Err())
	}
	var callsB atomic.Int32
	computeB := func() (*executor.SearchResult, error) {
		callsB.Add(1)
		return sampleResult(), nil
	}

	type answer struct {
		res *executor.SearchResult
		err error
	}
	doneA := make(chan answer, 1)
	go func() {
		res, _, err := c.GetOrCompute(ctxA, k, computeA)
		doneA <- answer{res, err}
	}()
	<-started

	doneB := make(chan answer, 1)
	go func() {
		res, _, err := c.GetOrCompute(context.Background(), k, computeB)
		doneB <- answer{res, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancelA()

	a := <-doneA
	assert.ErrorIs(t, a.err, apperrors.ErrCancelled)
	require.NotNil(t, a.res)
	assert.True(t, a.res.Partial)

	b := <-doneB
	require.NoError(t, b.err)
	require.NotNil(t, b.res)
	assert.False(t, b.res.Partial)
	assert.Equal(t, "ethanol", b.res.Hits[0].ID)
	assert.Equal(t, int32(1), callsB.Load())

	_, ok := c.Get(context.Background(), k)
	assert.True(t, ok)
}

func TestInvalidate(t *testing.T) {
	backend := newLRU(10)
	c := New(backend, time.Minute, nil)
	ctx := context.Background()

	c.Set(ctx, Key{BuildID: "1", Query: "A", TopK: 1}, sampleResult())
	c.Set(ctx, Key{BuildID: "1", Query: "B", TopK: 1}, sampleResult())
	assert.Equal(t, 2, backend.Len())

	require.NoError(t, c.Invalidate(ctx))
	assert.Zero(t, backend.Len())
}

func TestLRUBackendExpiresEntries(t *testing.T) {
	b := NewLRUBackend(10, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k", []byte("v"), time.Hour))
	got, err := b.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.Eventually(t, func() bool {
		_, err := b.Get(ctx, "k")
		return errors.Is(err, ErrMiss)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, b.Len())
}

func TestLRUBackendEvictsOldest(t *testing.T) {
	b := newLRU(2)
	ctx := context.Background()
	require.NoError(t, b.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, b.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, b.Set(ctx, "c", []byte("3"), 0))

	_, err := b.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = b.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client, err := pkgredis.NewClient(context.Background(), config.RedisConfig{Addr: addr, PoolSize: 2})
	if err != nil {
		t.Skipf("skipping integration test: redis unavailable: %v", err)
	}
	defer client.Close()

	b := NewRedisBackend(client, "chemblast-test:"+t.Name()+":")
	c := New(b, time.Minute, nil)
	ctx := context.Background()
	k := Key{BuildID: "1", Query: "LLS", TopK: 5}

	c.Set(ctx, k, sampleResult())
	got, ok := c.Get(ctx, k)
	require.True(t, ok)
	assert.Equal(t, "ethanol", got.Hits[0].ID)

	require.NoError(t, c.Invalidate(ctx))
	_, ok = c.Get(ctx, k)
	assert.False(t, ok)
}

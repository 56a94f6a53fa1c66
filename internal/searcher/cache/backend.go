package cache

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	pkgredis "github.com/Adithya-Monish-Kumar-K/chemblast/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/chemblast/pkg/resilience"
)

// ErrMiss is returned by a Backend when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend stores serialized search results under opaque keys.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Purge drops every entry this cache owns and reports how many went.
	Purge(ctx context.Context) (int64, error)
	Name() string
}

// RedisBackend keeps entries in Redis under a shared prefix so that every
// searcher process sees the same cache. Reads and writes go through a
// circuit breaker; while it is open they fail fast and searches run
// uncached.
type RedisBackend struct {
	client  *pkgredis.Client
	prefix  string
	breaker *resilience.Breaker
}

func NewRedisBackend(client *pkgredis.Client, prefix string) *RedisBackend {
	return &RedisBackend{
		client:  client,
		prefix:  prefix,
		breaker: resilience.NewBreaker("redis-cache", resilience.BreakerConfig{FailureThreshold: 5, Cooldown: 15 * time.Second}),
	}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := b.breaker.Do(func() error {
		var err error
		data, err = b.client.Get(ctx, b.prefix+key)
		if pkgredis.IsNilError(err) {
			return ErrMiss
		}
		return err
	}, isMiss)
	return data, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.breaker.Do(func() error {
		return b.client.Set(ctx, b.prefix+key, value, ttl)
	}, nil)
}

func isMiss(err error) bool { return errors.Is(err, ErrMiss) }

func (b *RedisBackend) Purge(ctx context.Context) (int64, error) {
	return b.client.FlushByPattern(ctx, b.prefix+"*")
}

// LRUBackend is an in-process cache bounded by entry count. Every entry
// lives for the TTL the backend was built with; the ttl passed to Set is
// ignored.
type LRUBackend struct {
	cache *expirable.LRU[string, []byte]
}

// NewLRUBackend holds up to size entries (1000 when size <= 0) for ttl each.
// A ttl <= 0 keeps entries until they are evicted.
func NewLRUBackend(size int, ttl time.Duration) *LRUBackend {
	if size <= 0 {
		size = 1000
	}
	return &LRUBackend{cache: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (b *LRUBackend) Name() string { return "lru" }

func (b *LRUBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := b.cache.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	return data, nil
}

func (b *LRUBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	b.cache.Add(key, value)
	return nil
}

func (b *LRUBackend) Purge(_ context.Context) (int64, error) {
	n := int64(b.cache.Len())
	b.cache.Purge()
	return n, nil
}

func (b *LRUBackend) Len() int { return b.cache.Len() }

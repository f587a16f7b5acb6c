package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/resilience"
	"golang.org/x/sync/singleflight"
)

const keyPrefix = "search:"

// Backend is the key-value store behind the cache, satisfied by
// *redis.Client from pkg/redis.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int64, error)
}

// Key identifies one full-search page. Epoch and Generation tie the entry to
// the index snapshot it was computed from, so entries written by another
// process or for an older snapshot are never served and simply expire.
type Key struct {
	Query      string
	Filter     ranker.Filter
	Page       int
	PageSize   int
	Epoch      string
	Generation uint64
}

func (k Key) String() string {
	raw := fmt.Sprintf("%s|type=%s|dept=%s|page=%d|size=%d|epoch=%s|gen=%d",
		k.Query, k.Filter.Type, k.Filter.Department, k.Page, k.PageSize, k.Epoch, k.Generation)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}

// QueryCache stores search pages in the backend. Backend failures trip a
// circuit breaker; while it is open every lookup is a miss and nothing is
// written.
type QueryCache struct {
	backend Backend
	ttl     time.Duration
	group   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates a cache. m may be nil.
func New(backend Backend, ttl time.Duration, m *metrics.Metrics) *QueryCache {
	cbCfg := resilience.CircuitBreakerConfig{
		FailureThreshold:    5,
		ResetTimeout:        30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
	if m != nil {
		cbCfg.OnStateChange = func(name string, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		}
	}
	return &QueryCache{
		backend: backend,
		ttl:     ttl,
		breaker: resilience.NewCircuitBreaker("redis-cache", cbCfg),
		metrics: m,
		logger:  slog.Default().With("component", "query-cache"),
	}
}

func (c *QueryCache) Get(ctx context.Context, key Key) (*executor.Page, bool) {
	k := key.String()
	var (
		data  []byte
		found bool
	)
	err := c.breaker.Execute(func() error {
		var err error
		data, found, err = c.backend.Get(ctx, k)
		return err
	})
	if err != nil || !found {
		if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
			c.logger.Warn("cache get failed", "key", k, "error", err)
		}
		c.miss()
		return nil, false
	}
	var page executor.Page
	if err := json.Unmarshal(data, &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", k, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	c.logger.Debug("cache hit", "query", key.Query, "key", k)
	return &page, true
}

func (c *QueryCache) Set(ctx context.Context, key Key, page *executor.Page) {
	k := key.String()
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", k, "error", err)
		return
	}
	err = c.breaker.Execute(func() error {
		return c.backend.Set(ctx, k, data, c.ttl)
	})
	if err != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		c.logger.Warn("cache set failed", "key", k, "error", err)
	}
}

// GetOrCompute returns the cached page for key or computes and stores it.
// Concurrent misses for the same key share one computation.
func (c *QueryCache) GetOrCompute(
	ctx context.Context,
	key Key,
	computeFn func() (*executor.Page, error),
) (*executor.Page, bool, error) {
	if page, ok := c.Get(ctx, key); ok {
		return page, true, nil
	}
	val, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		page, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, key, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*executor.Page), false, nil
}

func (c *QueryCache) Invalidate(ctx context.Context) error {
	deleted, err := c.backend.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

func (c *QueryCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// BreakerState reports the circuit breaker guarding the backend.
func (c *QueryCache) BreakerState() resilience.State {
	return c.breaker.GetState()
}

func (c *QueryCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

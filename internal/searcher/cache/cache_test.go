package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/resilience"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[string]string
	fail bool
	gets atomic.Int64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[string]string)}
}

var errDown = errors.New("connection refused")

func (f *fakeBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.gets.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, false, errDown
	}
	v, ok := f.data[key]
	return []byte(v), ok, nil
}

func (f *fakeBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errDown
	}
	f.data[key] = string(value)
	return nil
}

func (f *fakeBackend) DeletePrefix(_ context.Context, prefix string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			delete(f.data, k)
			n++
		}
	}
	return n, nil
}

func samplePage() *executor.Page {
	return &executor.Page{
		Query: "套房",
		Results: []executor.Hit{{
			ScoredDoc:  ranker.ScoredDoc{DocID: "kb-001", Score: 3.5, MatchedTerms: []string{"套房"}},
			Title:      "套房定義及貸款成數規定",
			Type:       document.TypeRegulation,
			Department: document.DeptCredit,
			Relevance:  100,
		}},
		TotalCount: 1,
		Page:       1,
		PageSize:   10,
		Generation: 3,
	}
}

func TestKeyVariesWithEveryComponent(t *testing.T) {
	base := Key{Query: "套房", Page: 1, PageSize: 10, Generation: 3}
	variants := []Key{
		{Query: "存款", Page: 1, PageSize: 10, Generation: 3},
		{Query: "套房", Page: 2, PageSize: 10, Generation: 3},
		{Query: "套房", Page: 1, PageSize: 20, Generation: 3},
		{Query: "套房", Page: 1, PageSize: 10, Generation: 4},
		{Query: "套房", Page: 1, PageSize: 10, Generation: 3, Epoch: "replica-b"},
		{Query: "套房", Page: 1, PageSize: 10, Generation: 3, Filter: ranker.Filter{Type: document.TypeCase}},
		{Query: "套房", Page: 1, PageSize: 10, Generation: 3, Filter: ranker.Filter{Department: document.DeptForex}},
	}
	seen := map[string]bool{base.String(): true}
	for _, k := range variants {
		assert.False(t, seen[k.String()], "collision for %+v", k)
		seen[k.String()] = true
	}
	assert.Equal(t, base.String(), Key{Query: "套房", Page: 1, PageSize: 10, Generation: 3}.String())
	assert.True(t, strings.HasPrefix(base.String(), keyPrefix))
}

func TestGetOrComputeCachesPages(t *testing.T) {
	ctx := context.Background()
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := New(newFakeBackend(), time.Minute, m)
	key := Key{Query: "套房", Page: 1, PageSize: 10, Generation: 3}

	calls := 0
	compute := func() (*executor.Page, error) {
		calls++
		return samplePage(), nil
	}

	page, hit, err := c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "kb-001", page.Results[0].DocID)

	page, hit, err = c.GetOrCompute(ctx, key, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, calls)
	assert.Equal(t, samplePage().Results[0].ScoredDoc, page.Results[0].ScoredDoc)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CacheHitsTotal))

	key.Generation++
	_, hit, _ = c.GetOrCompute(ctx, key, compute)
	assert.False(t, hit, "a new index generation never reads old entries")
}

func TestComputeErrorNotCached(t *testing.T) {
	ctx := context.Background()
	c := New(newFakeBackend(), time.Minute, nil)
	key := Key{Query: "套房", Page: 1, PageSize: 10}

	_, _, err := c.GetOrCompute(ctx, key, func() (*executor.Page, error) { return nil, errDown })
	assert.ErrorIs(t, err, errDown)
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
}

func TestBackendFailuresOpenBreaker(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.fail = true
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	c := New(backend, time.Minute, m)
	key := Key{Query: "套房", Page: 1, PageSize: 10}

	for i := 0; i < 10; i++ {
		page, _, err := c.GetOrCompute(ctx, key, func() (*executor.Page, error) { return samplePage(), nil })
		require.NoError(t, err, "backend failures never fail the search")
		assert.Equal(t, 1, page.TotalCount)
	}
	assert.Equal(t, resilience.StateOpen, c.BreakerState())
	assert.Less(t, backend.gets.Load(), int64(10), "open breaker skips the backend")
	assert.Equal(t, float64(resilience.StateOpen), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("redis-cache")))
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	c := New(backend, time.Minute, nil)
	key := Key{Query: "套房", Page: 1, PageSize: 10}
	c.Set(ctx, key, samplePage())
	backend.data["other:key"] = "kept"

	require.NoError(t, c.Invalidate(ctx))
	_, ok := c.Get(ctx, key)
	assert.False(t, ok)
	assert.Equal(t, "kept", backend.data["other:key"])
}

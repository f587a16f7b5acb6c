package analytics

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/kafka"
)

const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"totalSearches"`
	InstantSearches   int64        `json:"instantSearches"`
	DocsIndexed       int64        `json:"docsIndexed"`
	DocsRejected      int64        `json:"docsRejected"`
	CacheHits         int64        `json:"cacheHits"`
	CacheMisses       int64        `json:"cacheMisses"`
	ZeroResultCount   int64        `json:"zeroResultCount"`
	AvgLatencyMs      float64      `json:"avgLatencyMs"`
	P50LatencyMs      float64      `json:"p50LatencyMs"`
	P95LatencyMs      float64      `json:"p95LatencyMs"`
	P99LatencyMs      float64      `json:"p99LatencyMs"`
	TopQueries        []QueryCount `json:"topQueries"`
	ZeroResultQueries []QueryCount `json:"zeroResultQueries"`
	QueriesPerMinute  float64      `json:"queriesPerMinute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator keeps running search statistics. Latency percentiles are
// computed over the most recent samples only.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	instantSearches   atomic.Int64
	docsIndexed       atomic.Int64
	docsRejected      atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	latencies         []float64
	latencyNext       int
	queryCounts       map[string]int64
	queryTerms        map[string][]string
	zeroResultQueries map[string]int64
	startTime         time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]float64, 0, 1024),
		queryCounts:       make(map[string]int64),
		queryTerms:        make(map[string][]string),
		zeroResultQueries: make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleEvent decodes events published by a Collector.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var envelope struct {
			Type EventType `json:"type"`
		}
		if err := json.Unmarshal(value, &envelope); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch envelope.Type {
		case EventSearch, EventInstantSearch:
			event, err := kafka.DecodeJSON[SearchEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode search event", "error", err)
				return nil
			}
			agg.Record(event)
		case EventDocument:
			event, err := kafka.DecodeJSON[DocumentEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode document event", "error", err)
				return nil
			}
			agg.Record(event)
		default:
			agg.logger.Warn("unknown analytics event type", "type", envelope.Type)
		}
		return nil
	}
}

func (a *Aggregator) Record(event any) {
	switch e := event.(type) {
	case SearchEvent:
		a.recordSearchEvent(e)
	case DocumentEvent:
		a.recordDocumentEvent(e)
	}
}

func (a *Aggregator) recordSearchEvent(event SearchEvent) {
	if event.Type == EventInstantSearch {
		a.instantSearches.Add(1)
		a.mu.Lock()
		a.addLatency(event.LatencyMs)
		a.mu.Unlock()
		return
	}
	a.totalSearches.Add(1)
	if event.CacheHit {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}
	if event.TotalCount == 0 {
		a.zeroResults.Add(1)
	}

	a.mu.Lock()
	a.addLatency(event.LatencyMs)
	if event.Query != "" {
		a.queryCounts[event.Query]++
		if _, ok := a.queryTerms[event.Query]; !ok {
			a.queryTerms[event.Query] = termsOf(event.Query, event.Terms)
		}
		if event.TotalCount == 0 {
			a.zeroResultQueries[event.Query]++
		}
	}
	a.mu.Unlock()
}

func (a *Aggregator) recordDocumentEvent(event DocumentEvent) {
	if event.Rejected {
		a.docsRejected.Add(1)
		return
	}
	if event.Action == "indexed" {
		a.docsIndexed.Add(1)
	}
}

// addLatency keeps a ring of the latest samples. Callers hold mu.
func (a *Aggregator) addLatency(ms float64) {
	if len(a.latencies) < maxLatencySamples {
		a.latencies = append(a.latencies, ms)
		return
	}
	a.latencies[a.latencyNext] = ms
	a.latencyNext = (a.latencyNext + 1) % maxLatencySamples
}

func termsOf(query string, terms []string) []string {
	if len(terms) > 0 {
		out := slices.Clone(terms)
		slices.Sort(out)
		return slices.Compact(out)
	}
	return tokenizer.Terms(query)
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches.Load(),
		InstantSearches: a.instantSearches.Load(),
		DocsIndexed:     a.docsIndexed.Load(),
		DocsRejected:    a.docsRejected.Load(),
		CacheHits:       a.cacheHits.Load(),
		CacheMisses:     a.cacheMisses.Load(),
		ZeroResultCount: a.zeroResults.Load(),
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)

		var sum float64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = sum / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}

	return stats
}

// RelatedQueries returns up to n previously searched queries, most frequent
// first, that share at least one term with terms. query itself is excluded.
func (a *Aggregator) RelatedQueries(query string, terms []string, n int) []string {
	if n <= 0 || len(terms) == 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	var related []string
	for _, qc := range topN(a.queryCounts, len(a.queryCounts)) {
		if qc.Query == query {
			continue
		}
		if slices.ContainsFunc(a.queryTerms[qc.Query], func(t string) bool { return slices.Contains(terms, t) }) {
			related = append(related, qc.Query)
			if len(related) == n {
				break
			}
		}
	}
	return related
}

// Restore seeds query counters from a persisted snapshot. Counts add to
// whatever has been recorded since start.
func (a *Aggregator) Restore(stats AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, qc := range stats.TopQueries {
		a.queryCounts[qc.Query] += qc.Count
		if _, ok := a.queryTerms[qc.Query]; !ok {
			a.queryTerms[qc.Query] = tokenizer.Terms(qc.Query)
		}
	}
	for _, qc := range stats.ZeroResultQueries {
		a.zeroResultQueries[qc.Query] += qc.Count
	}
	a.logger.Info("analytics restored from snapshot", "queries", len(stats.TopQueries))
}

func percentile(sorted []float64, pct int) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return strings.Compare(result[i].Query, result[j].Query) < 0
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

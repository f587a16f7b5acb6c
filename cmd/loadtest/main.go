// Command loadtest drives the search service the way the portal does: each
// simulated user types a query one character at a time, firing an instant
// search per keystroke, then submits the full search.
//
// Usage:
//
//	go run ./cmd/loadtest [-url http://localhost:8080] [-users 10] [-duration 30s] [-rps 200]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var defaultQueries = []string{
	"套房貸款成數",
	"存款繼承",
	"不動產轉手",
	"洗錢防制",
	"外匯申報",
	"網路銀行",
	"授信規章",
	"regulation",
	"客戶服務",
	"鑑價",
}

type endpoint string

const (
	endpointInstant endpoint = "instant"
	endpointSearch  endpoint = "search"
)

type stats struct {
	requests  atomic.Int64
	failures  atomic.Int64
	cacheHits atomic.Int64
	stale     atomic.Int64

	mu        sync.Mutex
	latencies map[endpoint][]time.Duration
	codes     map[int]int64
}

func newStats() *stats {
	return &stats{
		latencies: make(map[endpoint][]time.Duration),
		codes:     make(map[int]int64),
	}
}

func (s *stats) record(ep endpoint, d time.Duration, code int, err error) {
	s.requests.Add(1)
	if err != nil || code < 200 || code >= 300 {
		s.failures.Add(1)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.latencies[ep] = append(s.latencies[ep], d)
		s.codes[code]++
	}
}

// searchReply is the subset of the search response the load test inspects.
type searchReply struct {
	CacheHit bool    `json:"cacheHit"`
	Seq      *uint64 `json:"seq"`
}

type runner struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	stats   *stats
	seq     atomic.Uint64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	users := flag.Int("users", 10, "number of concurrent simulated users")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	rps := flag.Float64("rps", 0, "global request rate cap, 0 for unlimited")
	flag.Parse()

	limit := rate.Inf
	if *rps > 0 {
		limit = rate.Limit(*rps)
	}
	r := &runner{
		baseURL: *baseURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        *users * 2,
				MaxIdleConnsPerHost: *users * 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(limit, max(1, *users)),
		stats:   newStats(),
	}

	fmt.Println("=== ARK Search Load Test ===")
	fmt.Printf("Target:   %s\n", *baseURL)
	fmt.Printf("Users:    %d\n", *users)
	fmt.Printf("Duration: %s\n", *duration)
	fmt.Printf("Queries:  %d unique\n", len(defaultQueries))
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for u := 0; u < *users; u++ {
		g.Go(func() error {
			r.simulate(gctx, u)
			return nil
		})
	}
	_ = g.Wait()

	printReport(r.stats, *duration)
}

// simulate loops over the query list until ctx ends, starting at a
// user-specific offset so users do not move in lockstep.
func (r *runner) simulate(ctx context.Context, user int) {
	for i := user; ctx.Err() == nil; i++ {
		query := []rune(defaultQueries[i%len(defaultQueries)])
		for n := 1; n <= len(query) && ctx.Err() == nil; n++ {
			seq := r.seq.Add(1)
			params := url.Values{"q": {string(query[:n])}, "seq": {strconv.FormatUint(seq, 10)}}
			reply, ok := r.get(ctx, endpointInstant, "/api/v1/search/instant", params)
			if ok && (reply.Seq == nil || *reply.Seq != seq) {
				r.stats.stale.Add(1)
			}
		}
		if ctx.Err() != nil {
			return
		}
		r.get(ctx, endpointSearch, "/api/v1/search", url.Values{"q": {string(query)}})
	}
}

func (r *runner) get(ctx context.Context, ep endpoint, path string, params url.Values) (searchReply, bool) {
	var reply searchReply
	if err := r.limiter.Wait(ctx); err != nil {
		return reply, false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		r.stats.record(ep, 0, 0, err)
		return reply, false
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			r.stats.record(ep, elapsed, 0, err)
		}
		return reply, false
	}
	defer resp.Body.Close()
	r.stats.record(ep, elapsed, resp.StatusCode, nil)

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return reply, false
	}
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return reply, false
	}
	if reply.CacheHit {
		r.stats.cacheHits.Add(1)
	}
	return reply, true
}

func printReport(s *stats, duration time.Duration) {
	total := s.requests.Load()
	failures := s.failures.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests: %d\n", total)
	fmt.Printf("Failures:       %d\n", failures)
	fmt.Printf("Cache Hits:     %d\n", s.cacheHits.Load())
	fmt.Printf("Seq Mismatches: %d\n", s.stale.Load())
	if total > 0 {
		fmt.Printf("Failure Rate:   %.2f%%\n", float64(failures)/float64(total)*100)
		fmt.Printf("Requests/sec:   %.2f\n", float64(total)/duration.Seconds())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ep := range []endpoint{endpointInstant, endpointSearch} {
		latencies := s.latencies[ep]
		if len(latencies) == 0 {
			continue
		}
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		fmt.Println()
		fmt.Printf("=== Latency (%s, %d requests) ===\n", ep, len(latencies))
		fmt.Printf("Min: %s\n", latencies[0])
		fmt.Printf("Avg: %s\n", sum/time.Duration(len(latencies)))
		fmt.Printf("P50: %s\n", percentile(latencies, 50))
		fmt.Printf("P95: %s\n", percentile(latencies, 95))
		fmt.Printf("P99: %s\n", percentile(latencies, 99))
		fmt.Printf("Max: %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(s.codes))
	for code := range s.codes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, s.codes[code])
	}

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the search service running?")
		os.Exit(1)
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}

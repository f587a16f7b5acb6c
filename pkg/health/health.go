// Package health probes the dependencies of an ARK service and serves the
// result as liveness and readiness endpoints.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes one dependency. It should return once ctx ends.
type Check func(ctx context.Context) ComponentHealth

type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     string                     `json:"uptime"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// PingCheck turns a ping (database, cache) into a Check.
func PingCheck(ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{Status: StatusDown, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Optional reports a failing dependency as degraded: the service keeps
// answering without it, as search does without the result cache.
func Optional(check Check) Check {
	return func(ctx context.Context) ComponentHealth {
		res := check(ctx)
		if res.Status == StatusDown {
			res.Status = StatusDegraded
		}
		return res
	}
}

type namedCheck struct {
	name  string
	check Check
}

type Checker struct {
	mu      sync.Mutex
	checks  []namedCheck
	last    map[string]Status
	timeout time.Duration
	started time.Time
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Checker)

// WithCheckTimeout bounds each probe. A probe still running at the deadline
// is reported down.
func WithCheckTimeout(d time.Duration) Option {
	return func(c *Checker) { c.timeout = d }
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		last:    make(map[string]Status),
		timeout: 2 * time.Second,
		now:     time.Now,
		logger:  slog.Default().With("component", "health"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	return c
}

// Register adds a probe. Registering a name again replaces its probe.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].check = check
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name, check})
}

// Run probes every dependency concurrently. The report status is the worst
// component status. Status changes are logged once, when they happen.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.Lock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.Unlock()

	results := make([]ComponentHealth, len(checks))
	var g errgroup.Group
	for i, nc := range checks {
		g.Go(func() error {
			results[i] = c.probe(ctx, nc.check)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Uptime:     c.now().Sub(c.started).Round(time.Second).String(),
		Timestamp:  c.now().UTC(),
	}
	for i, nc := range checks {
		res := results[i]
		report.Components[nc.name] = res
		if res.Status.severity() > report.Status.severity() {
			report.Status = res.Status
		}
		c.noteTransition(nc.name, res)
	}
	return report
}

func (c *Checker) probe(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	ch := make(chan ComponentHealth, 1)
	go func() { ch <- check(ctx) }()

	var res ComponentHealth
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("no answer within %v", c.timeout)}
	}
	res.Latency = time.Since(start).Round(time.Millisecond).String()
	return res
}

func (c *Checker) noteTransition(name string, res ComponentHealth) {
	c.mu.Lock()
	prev, seen := c.last[name]
	c.last[name] = res.Status
	c.mu.Unlock()
	if seen && prev == res.Status || !seen && res.Status == StatusUp {
		return
	}
	level := slog.LevelInfo
	if res.Status != StatusUp {
		level = slog.LevelWarn
	}
	c.logger.Log(context.Background(), level, "dependency status changed",
		"name", name,
		"from", prev,
		"to", res.Status,
		"message", res.Message,
	)
}

// LiveHandler answers 200 as long as the process serves HTTP. It probes
// nothing.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": c.now().Sub(c.started).Round(time.Second).String(),
		})
	}
}

// ReadyHandler answers 503 when any dependency is down. A degraded service
// still takes traffic.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

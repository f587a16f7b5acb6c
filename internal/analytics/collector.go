package analytics

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
)

// Recorder consumes events in process, next to the publisher.
type Recorder interface {
	Record(event any)
}

// Collector moves events off the request path. Track enqueues and never
// blocks; one goroutine hands each event to the local recorder and then
// the publisher. When the queue is full the event is dropped and counted.
type Collector struct {
	publisher kafka.Publisher
	local     Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan any
	done    chan struct{}
	dropped atomic.Int64
}

type CollectorOption func(*Collector)

// WithCollectorMetrics reports dropped events to m.
func WithCollectorMetrics(m *metrics.Metrics) CollectorOption {
	return func(c *Collector) { c.metrics = m }
}

// NewCollector creates a collector. publisher and local may be nil.
func NewCollector(publisher kafka.Publisher, local Recorder, bufferSize int, opts ...CollectorOption) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if publisher == nil {
		publisher = kafka.NopPublisher{}
	}
	c := &Collector{
		publisher: publisher,
		local:     local,
		logger:    slog.Default().With("component", "analytics-collector"),
		queue:     make(chan any, bufferSize),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the delivery loop until Close, or until ctx ends, in which
// case queued events are still delivered without ctx.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case ev, ok := <-c.queue:
				if !ok {
					return
				}
				c.deliver(ctx, ev)
			case <-ctx.Done():
				c.drain(context.WithoutCancel(ctx))
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.queue))
}

// Track enqueues event. Calls after Close are ignored.
func (c *Collector) Track(event any) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- event:
	default:
		if n := c.dropped.Add(1); n&(n-1) == 0 {
			c.logger.Warn("analytics queue full, dropping events", "dropped_total", n)
		}
		if c.metrics != nil {
			c.metrics.AnalyticsDropped.Inc()
		}
	}
}

func (c *Collector) Dropped() int64 { return c.dropped.Load() }

// Close stops accepting events and waits until the queued ones are
// delivered. Only valid after Start; later calls return at once.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) drain(ctx context.Context) {
	for {
		select {
		case ev, ok := <-c.queue:
			if !ok {
				return
			}
			c.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (c *Collector) deliver(ctx context.Context, event any) {
	if c.local != nil {
		c.local.Record(event)
	}
	key, typ := route(event)
	if err := c.publisher.Publish(ctx, kafka.Event{Key: key, Type: typ, Value: event}); err != nil {
		c.logger.Error("failed to publish analytics event", "type", typ, "error", err)
	}
}

// route keys document events by id and search events by query, so events
// about the same thing stay in order.
func route(event any) (key, typ string) {
	switch e := event.(type) {
	case SearchEvent:
		return e.Query, string(e.Type)
	case DocumentEvent:
		return e.DocumentID, string(e.Type)
	default:
		return "analytics", ""
	}
}

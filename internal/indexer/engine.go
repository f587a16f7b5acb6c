package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/google/uuid"
)

// Engine maintains the inverted index for a document store. Writers are
// serialized by writeMu and publish a new snapshot with an atomic swap;
// readers load the snapshot once and never block.
type Engine struct {
	store   document.Store
	epoch   string
	current atomic.Pointer[index.Snapshot]
	writeMu sync.Mutex
	weights index.Weights
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// BatchReport summarizes a bulk indexing call.
type BatchReport struct {
	Indexed  int               `json:"indexed"`
	Removed  int               `json:"removed"`
	Rejected []index.Rejection `json:"rejected,omitempty"`
}

// ConsistencyReport counts the drift repaired by CheckConsistency.
type ConsistencyReport struct {
	Orphaned int               `json:"orphaned"`
	Missing  int               `json:"missing"`
	Stale    int               `json:"stale"`
	Rejected []index.Rejection `json:"rejected,omitempty"`
}

func (r ConsistencyReport) Drift() int {
	return r.Orphaned + r.Missing + r.Stale
}

type Stats struct {
	Epoch      string    `json:"epoch"`
	Generation uint64    `json:"generation"`
	Documents  int       `json:"documents"`
	Terms      int       `json:"terms"`
	BuiltAt    time.Time `json:"builtAt"`
}

// NewEngine creates an engine with an empty index. m may be nil.
func NewEngine(store document.Store, weights index.Weights, m *metrics.Metrics) *Engine {
	e := &Engine{
		store:   store,
		epoch:   uuid.NewString(),
		weights: weights,
		metrics: m,
		logger:  slog.Default().With("component", "indexer"),
	}
	e.current.Store(index.Empty(weights))
	return e
}

// Snapshot returns the current index. It reflects every write that has
// completed before the call.
func (e *Engine) Snapshot() *index.Snapshot {
	return e.current.Load()
}

// Epoch is random per engine. Generations restart at zero in every process,
// so (epoch, generation) is what names an index state outside this one.
func (e *Engine) Epoch() string {
	return e.epoch
}

func (e *Engine) Stats() Stats {
	s := e.Snapshot()
	return Stats{Epoch: e.epoch, Generation: s.Generation(), Documents: s.N(), Terms: s.TermCount(), BuiltAt: s.BuiltAt()}
}

func (e *Engine) swap(next *index.Snapshot) {
	e.current.Store(next)
	if e.metrics != nil {
		e.metrics.IndexedDocuments.Set(float64(next.N()))
		e.metrics.IndexTerms.Set(float64(next.TermCount()))
	}
}

// Listener adapts OnDocumentChanged for document.Store.Subscribe.
func (e *Engine) Listener() document.Listener {
	return func(ctx context.Context, ev document.ChangeEvent) {
		if err := e.OnDocumentChanged(ctx, ev); err != nil {
			e.logger.Error("applying change event failed",
				"doc_id", ev.DocumentID,
				"kind", ev.Kind,
				"error", err,
			)
		}
	}
}

// OnDocumentChanged converges the index on the store's current state of the
// record named by ev. The event body is not trusted: the record is re-read,
// so duplicate or reordered events are harmless.
func (e *Engine) OnDocumentChanged(ctx context.Context, ev document.ChangeEvent) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	return e.reconcileLocked(ctx, ev.DocumentID)
}

// Reindex reconciles a single record with the store.
func (e *Engine) Reindex(ctx context.Context, id string) error {
	return e.OnDocumentChanged(ctx, document.ChangeEvent{DocumentID: id, Kind: document.ChangeUpdated})
}

func (e *Engine) reconcileLocked(ctx context.Context, id string) error {
	cur := e.Snapshot()
	doc, err := e.store.Get(ctx, id)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		if _, ok := cur.Document(id); ok {
			e.swap(cur.Without(id))
			e.logger.Debug("document removed from index", "doc_id", id, "reason", "deleted")
		}
		return nil
	case err != nil:
		return fmt.Errorf("reading document %s: %w", id, err)
	}

	indexed, ok := cur.Document(id)
	if !doc.Published() {
		if ok {
			e.swap(cur.Without(id))
			e.logger.Debug("document removed from index", "doc_id", id, "reason", doc.Status)
		}
		return nil
	}
	if ok && upToDate(indexed, doc) {
		return nil
	}

	next, err := cur.With(doc)
	if err != nil {
		e.rejected(id, err)
		if ok {
			e.swap(cur.Without(id))
		}
		return err
	}
	e.swap(next)
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Inc()
	}
	e.logger.Debug("document indexed", "doc_id", id, "version", doc.Version, "generation", next.Generation())
	return nil
}

// upToDate reports whether the indexed copy already matches doc in every
// field the index or result assembly reads.
func upToDate(indexed, doc *document.Document) bool {
	return indexed.Version == doc.Version &&
		indexed.Status == doc.Status &&
		indexed.Type == doc.Type &&
		indexed.Department == doc.Department &&
		indexed.Author == doc.Author &&
		indexed.UpdatedAt.Equal(doc.UpdatedAt)
}

func (e *Engine) rejected(id string, err error) {
	if e.metrics != nil {
		e.metrics.DocsRejectedTotal.Inc()
	}
	e.logger.Warn("document rejected", "doc_id", id, "error", err)
}

// Index adds or replaces a single record without consulting the store.
func (e *Engine) Index(doc *document.Document) error {
	report := e.IndexBatch([]*document.Document{doc})
	if len(report.Rejected) > 0 {
		return apperrors.New(apperrors.ErrMalformedDocument, report.Rejected[0].Reason)
	}
	return nil
}

// IndexBatch applies docs in order and publishes one snapshot. Malformed
// records are reported and skipped; the rest of the batch proceeds.
func (e *Engine) IndexBatch(docs []*document.Document) BatchReport {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	var report BatchReport
	cur := e.Snapshot()
	next := cur
	for _, doc := range docs {
		if err := index.Validate(doc); err != nil {
			id := ""
			if doc != nil {
				id = doc.ID
			}
			e.rejected(id, err)
			report.Rejected = append(report.Rejected, index.Rejection{DocumentID: id, Reason: err.Error()})
			continue
		}
		if !doc.Published() {
			next = next.Without(doc.ID)
			report.Removed++
			continue
		}
		next, _ = next.With(doc)
		report.Indexed++
	}
	if next != cur {
		e.swap(next)
		if e.metrics != nil {
			e.metrics.DocsIndexedTotal.Add(float64(report.Indexed))
		}
	}
	return report
}

// Remove drops id from the index and reports whether it was indexed.
func (e *Engine) Remove(id string) bool {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	cur := e.Snapshot()
	if _, ok := cur.Document(id); !ok {
		return false
	}
	e.swap(cur.Without(id))
	return true
}

// RebuildAll recomputes the index from the store. Readers keep using the
// previous snapshot until the new one is complete; incremental writes wait
// for the rebuild and then apply on top of it.
func (e *Engine) RebuildAll(ctx context.Context) (BatchReport, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	start := time.Now()
	docs, err := e.store.List(ctx)
	if err != nil {
		if e.metrics != nil {
			e.metrics.IndexRebuildsTotal.WithLabelValues("error").Inc()
		}
		return BatchReport{}, fmt.Errorf("listing documents for rebuild: %w", err)
	}

	next, rejected := index.Build(docs, e.weights, e.Snapshot().Generation()+1)
	for _, r := range rejected {
		e.rejected(r.DocumentID, errors.New(r.Reason))
	}
	e.swap(next)
	if e.metrics != nil {
		e.metrics.IndexRebuildsTotal.WithLabelValues("ok").Inc()
	}
	e.logger.Info("index rebuilt",
		"documents", next.N(),
		"terms", next.TermCount(),
		"rejected", len(rejected),
		"generation", next.Generation(),
		"duration", time.Since(start),
	)
	return BatchReport{Indexed: next.N(), Rejected: rejected}, nil
}

// CheckConsistency compares the index with the store and repairs drift:
// postings for records no longer published, published records missing from
// the index, and records indexed at an older version.
func (e *Engine) CheckConsistency(ctx context.Context) (ConsistencyReport, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	docs, err := e.store.List(ctx)
	if err != nil {
		return ConsistencyReport{}, fmt.Errorf("listing documents: %w", err)
	}

	var report ConsistencyReport
	cur := e.Snapshot()
	next := cur
	live := make(map[string]struct{}, len(docs))
	for _, doc := range docs {
		if !doc.Published() {
			continue
		}
		live[doc.ID] = struct{}{}
		indexed, ok := next.Document(doc.ID)
		if ok && upToDate(indexed, doc) {
			continue
		}
		updated, err := next.With(doc)
		if err != nil {
			report.Rejected = append(report.Rejected, index.Rejection{DocumentID: doc.ID, Reason: err.Error()})
			if ok {
				next = next.Without(doc.ID)
				report.Stale++
			}
			continue
		}
		next = updated
		if ok {
			report.Stale++
		} else {
			report.Missing++
		}
	}
	for _, id := range cur.DocumentIDs() {
		if _, ok := live[id]; !ok {
			next = next.Without(id)
			report.Orphaned++
		}
	}

	if next != cur {
		e.swap(next)
	}
	if drift := report.Drift(); drift > 0 {
		if e.metrics != nil {
			e.metrics.InconsistenciesTotal.Add(float64(drift))
		}
		e.logger.Warn("index drift repaired",
			"orphaned", report.Orphaned,
			"missing", report.Missing,
			"stale", report.Stale,
			"generation", next.Generation(),
		)
	}
	return report, nil
}

// StartConsistencyLoop runs CheckConsistency every interval until ctx is
// cancelled.
func (e *Engine) StartConsistencyLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				e.logger.Info("consistency loop stopping")
				return
			case <-ticker.C:
				if _, err := e.CheckConsistency(ctx); err != nil && ctx.Err() == nil {
					e.logger.Error("consistency check failed", "error", err)
				}
			}
		}
	}()
}

// Package searcher is the search service: it turns raw input into processed
// queries, runs them against the current index snapshot and assembles
// verified, paginated results. It is also the write entry point that keeps
// the index in step with the document store.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/tracing"
)

const relatedQueryLimit = 5

// PageCache is satisfied by *cache.QueryCache.
type PageCache interface {
	GetOrCompute(ctx context.Context, key cache.Key, computeFn func() (*executor.Page, error)) (*executor.Page, bool, error)
}

// Tracker receives analytics events; *analytics.Collector satisfies it.
type Tracker interface {
	Track(event any)
}

// RelatedSource suggests other popular queries; *analytics.Aggregator
// satisfies it.
type RelatedSource interface {
	RelatedQueries(query string, terms []string, n int) []string
}

type Filters = ranker.Filter

type Response struct {
	Query          string         `json:"query"`
	Results        []executor.Hit `json:"results"`
	TotalCount     int            `json:"totalCount"`
	Page           int            `json:"page"`
	PageSize       int            `json:"pageSize"`
	ElapsedMs      float64        `json:"elapsedMs"`
	Generation     uint64         `json:"generation"`
	CacheHit       bool           `json:"cacheHit"`
	RelatedQueries []string       `json:"relatedQueries,omitempty"`
}

type IndexResult struct {
	DocumentID string `json:"documentId"`
	Success    bool   `json:"success"`
	Rejected   bool   `json:"rejected,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Version    int64  `json:"version,omitempty"`
}

type RemoveResult struct {
	DocumentID string `json:"documentId"`
	Success    bool   `json:"success"`
	NotFound   bool   `json:"notFound,omitempty"`
}

type Service struct {
	store     document.Store
	engine    *indexer.Engine
	processor *query.Processor
	executor  *executor.Executor
	cache     PageCache
	tracker   Tracker
	related   RelatedSource
	metrics   *metrics.Metrics
	cfg       config.SearchConfig
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

func WithCache(c PageCache) Option { return func(s *Service) { s.cache = c } }

func WithTracker(t Tracker) Option { return func(s *Service) { s.tracker = t } }

func WithRelated(r RelatedSource) Option { return func(s *Service) { s.related = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithClock sets the reference time for recency decay.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store document.Store, engine *indexer.Engine, processor *query.Processor, cfg config.SearchConfig, opts ...Option) *Service {
	s := &Service{
		store:     store,
		engine:    engine,
		processor: processor,
		cfg:       cfg,
		now:       time.Now,
		logger:    slog.Default().With("component", "search-service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.executor = executor.New(executor.Options{
		PhraseBoost:      cfg.PhraseBoost,
		SnippetLength:    cfg.SnippetLength,
		PrefixExpansions: cfg.PrefixExpansions,
	}, s.now)
	return s
}

// Search returns one page of the full ranking. Blank input and input with
// no searchable terms yield an empty response; invalid paging is defaulted.
// Only unknown filter values are reported as errors.
func (s *Service) Search(ctx context.Context, raw string, filters Filters, page, pageSize int) (*Response, error) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "search")
	defer func() {
		span.End()
		span.Log(s.logger)
	}()

	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	page, pageSize = s.paging(page, pageSize)
	resp := &Response{
		Query:    strings.TrimSpace(raw),
		Results:  []executor.Hit{},
		Page:     page,
		PageSize: pageSize,
	}

	q, err := s.processor.Process(raw)
	if err != nil || q.Empty() {
		resp.Generation = s.engine.Snapshot().Generation()
		resp.ElapsedMs = elapsedMs(start)
		s.observe("full", "empty", "none", resp)
		return resp, nil
	}
	resp.Query = q.Normalized
	span.SetAttr("terms", len(q.ExpandedTerms))

	snap := s.engine.Snapshot()
	compute := func() (*executor.Page, error) {
		return s.executor.Execute(ctx, snap, q, filters, page, pageSize), nil
	}
	var result *executor.Page
	cacheStatus := "none"
	if s.cache != nil {
		key := cache.Key{
			Query:      q.Normalized + "|" + strings.Join(q.ExpandedTerms, ","),
			Filter:     filters,
			Page:       page,
			PageSize:   pageSize,
			Epoch:      s.engine.Epoch(),
			Generation: snap.Generation(),
		}
		result, resp.CacheHit, err = s.cache.GetOrCompute(ctx, key, compute)
		if err != nil {
			logger.FromContext(ctx).Warn("cache lookup failed, computing directly", "error", err)
			result, _ = compute()
		}
		cacheStatus = "miss"
		if resp.CacheHit {
			cacheStatus = "hit"
		}
	} else {
		result, _ = compute()
	}

	hits, dropped := s.verify(ctx, result.Results)
	resp.Results = hits
	resp.TotalCount = max(0, result.TotalCount-dropped)
	resp.Generation = result.Generation
	if s.related != nil {
		resp.RelatedQueries = s.related.RelatedQueries(q.Normalized, q.Terms, relatedQueryLimit)
	}
	resp.ElapsedMs = elapsedMs(start)

	outcome := "hit"
	if resp.TotalCount == 0 {
		outcome = "zero"
	}
	s.observe("full", outcome, cacheStatus, resp)
	s.track(ctx, analytics.EventSearch, q, filters, resp)

	logger.FromContext(ctx).Info("search completed",
		"query", q.Normalized,
		"total", resp.TotalCount,
		"returned", len(resp.Results),
		"page", page,
		"cache", cacheStatus,
		"elapsed_ms", resp.ElapsedMs,
	)
	return resp, nil
}

// InstantSearch returns up to limit results for partially typed input.
// Input narrower than the configured minimum display width returns no
// results. limit is clamped to [1, MaxInstantLimit]; zero means the
// configured default.
func (s *Service) InstantSearch(ctx context.Context, prefix string, limit int) *Response {
	start := time.Now()
	ctx, span := tracing.Start(ctx, "instant-search")
	defer func() {
		span.End()
		span.Log(s.logger)
	}()

	limit = s.instantLimit(limit)
	resp := &Response{
		Query:    strings.TrimSpace(prefix),
		Results:  []executor.Hit{},
		Page:     1,
		PageSize: limit,
	}
	snap := s.engine.Snapshot()
	resp.Generation = snap.Generation()

	if query.DisplayWidth(resp.Query) < s.cfg.InstantMinWidth {
		resp.ElapsedMs = elapsedMs(start)
		s.observe("instant", "short", "none", resp)
		return resp
	}
	q, err := s.processor.Process(prefix)
	if err != nil || (q.Empty() && q.LastWord() == "") {
		resp.ElapsedMs = elapsedMs(start)
		s.observe("instant", "empty", "none", resp)
		return resp
	}
	resp.Query = q.Normalized

	result := s.executor.Instant(ctx, snap, q, limit)
	hits, dropped := s.verify(ctx, result.Results)
	resp.Results = hits
	resp.TotalCount = max(0, result.TotalCount-dropped)
	resp.ElapsedMs = elapsedMs(start)

	outcome := "hit"
	if len(hits) == 0 {
		outcome = "zero"
	}
	s.observe("instant", outcome, "none", resp)
	s.track(ctx, analytics.EventInstantSearch, q, Filters{}, resp)
	return resp
}

// IndexDocument validates doc, writes it to the store and brings the index
// up to date before returning. A document without a status is published.
// Validation failures are reported in the result, not as errors.
func (s *Service) IndexDocument(ctx context.Context, doc *document.Document) (*IndexResult, error) {
	log := logger.FromContext(ctx)
	if err := validateDocument(doc); err != nil {
		id := ""
		if doc != nil {
			id = doc.ID
		}
		s.trackDocument(id, "indexed", 0, err)
		log.Warn("document rejected", "doc_id", id, "error", err)
		return &IndexResult{DocumentID: id, Rejected: true, Reason: reason(err)}, nil
	}

	d := doc.Clone()
	d.ID = strings.TrimSpace(d.ID)
	if d.Status == "" {
		d.Status = document.StatusPublished
	}
	ev, err := s.store.Upsert(ctx, d)
	if apperrors.IsValidation(err) {
		s.trackDocument(d.ID, "indexed", 0, err)
		return &IndexResult{DocumentID: d.ID, Rejected: true, Reason: reason(err)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storing document %s: %w", d.ID, err)
	}
	if err := s.engine.Reindex(ctx, d.ID); err != nil {
		log.Warn("index update deferred to consistency check", "doc_id", d.ID, "error", err)
	}

	action := "indexed"
	if !d.Published() {
		action = "unindexed"
	}
	s.trackDocument(d.ID, action, ev.Version, nil)
	log.Info("document indexed", "doc_id", d.ID, "kind", ev.Kind, "version", ev.Version, "status", d.Status)
	return &IndexResult{DocumentID: d.ID, Success: true, Version: ev.Version}, nil
}

// RemoveFromIndex deletes the record from the store, which removes its
// postings. An id the store does not know is still purged from the index if
// it was indexed; otherwise the result reports NotFound.
func (s *Service) RemoveFromIndex(ctx context.Context, id string) (*RemoveResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "document id is required")
	}
	log := logger.FromContext(ctx)

	_, err := s.store.Remove(ctx, id)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		if s.engine.Remove(id) {
			log.Warn("removed orphaned postings", "doc_id", id)
			return &RemoveResult{DocumentID: id, Success: true}, nil
		}
		return &RemoveResult{DocumentID: id, NotFound: true}, nil
	case err != nil:
		return nil, fmt.Errorf("removing document %s: %w", id, err)
	}
	if err := s.engine.Reindex(ctx, id); err != nil {
		log.Warn("index update deferred to consistency check", "doc_id", id, "error", err)
	}
	s.trackDocument(id, "removed", 0, nil)
	log.Info("document removed", "doc_id", id)
	return &RemoveResult{DocumentID: id, Success: true}, nil
}

// ArchiveDocument marks a record archived. It stays in the store and leaves
// the index.
func (s *Service) ArchiveDocument(ctx context.Context, id string) (*IndexResult, error) {
	doc, err := s.store.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if doc.Status == document.StatusArchived {
		return &IndexResult{DocumentID: doc.ID, Success: true, Version: doc.Version}, nil
	}
	doc.Status = document.StatusArchived
	ev, err := s.store.Upsert(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("archiving document %s: %w", doc.ID, err)
	}
	if err := s.engine.Reindex(ctx, doc.ID); err != nil {
		logger.FromContext(ctx).Warn("index update deferred to consistency check", "doc_id", doc.ID, "error", err)
	}
	s.trackDocument(doc.ID, "archived", ev.Version, nil)
	return &IndexResult{DocumentID: doc.ID, Success: true, Version: ev.Version}, nil
}

// Rebuild recomputes the index from the store.
func (s *Service) Rebuild(ctx context.Context) (indexer.BatchReport, error) {
	return s.engine.RebuildAll(ctx)
}

func (s *Service) IndexStats() indexer.Stats {
	return s.engine.Stats()
}

// verify drops hits whose record is gone from the store or no longer
// published, repairing the index for each. Hits for records the store
// cannot currently read are kept.
func (s *Service) verify(ctx context.Context, hits []executor.Hit) ([]executor.Hit, int) {
	_, span := tracing.Start(ctx, "verify")
	defer span.End()

	kept := make([]executor.Hit, 0, len(hits))
	dropped := 0
	for _, h := range hits {
		doc, err := s.store.Get(ctx, h.DocID)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			dropped++
			s.heal(ctx, h.DocID, "missing from store")
			continue
		case err != nil:
			logger.FromContext(ctx).Debug("store unavailable, serving indexed copy", "doc_id", h.DocID, "error", err)
		case !doc.Published():
			dropped++
			s.heal(ctx, h.DocID, "status "+string(doc.Status))
			continue
		case doc.Version != h.Version:
			s.heal(ctx, h.DocID, "stale version")
		}
		kept = append(kept, h)
	}
	span.SetAttr("dropped", dropped)
	return kept, dropped
}

// heal re-indexes one record within the configured timeout. It runs on a
// context detached from the caller's cancellation so an abandoned request
// still completes the repair.
func (s *Service) heal(ctx context.Context, id, why string) {
	err := fmt.Errorf("posting for %s: %s: %w", id, why, apperrors.ErrIndexInconsistency)
	logger.FromContext(ctx).Warn("index inconsistency detected", "doc_id", id, "error", err)
	if s.metrics != nil {
		s.metrics.InconsistenciesTotal.Inc()
	}
	healCtx := context.WithoutCancel(ctx)
	if err := resilience.WithTimeout(healCtx, s.cfg.HealTimeout, "reindex "+id, func(ctx context.Context) error {
		return s.engine.Reindex(ctx, id)
	}); err != nil {
		s.logger.ErrorContext(ctx, "self-heal re-index failed", "doc_id", id, "error", err)
	}
}

func (s *Service) paging(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		pageSize = s.cfg.MaxPageSize
	}
	return page, pageSize
}

func (s *Service) instantLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.InstantLimit
	}
	return min(max(limit, 1), s.cfg.MaxInstantLimit)
}

func (s *Service) observe(mode, outcome, cacheStatus string, resp *Response) {
	if s.metrics == nil {
		return
	}
	s.metrics.SearchQueriesTotal.WithLabelValues(mode, outcome).Inc()
	s.metrics.SearchLatency.WithLabelValues(mode, cacheStatus).Observe(resp.ElapsedMs / 1000)
	s.metrics.SearchResultsCount.WithLabelValues(mode).Observe(float64(len(resp.Results)))
}

func (s *Service) track(ctx context.Context, typ analytics.EventType, q *query.ProcessedQuery, filters Filters, resp *Response) {
	if s.tracker == nil {
		return
	}
	var f string
	if filters != (Filters{}) {
		f = fmt.Sprintf("type=%s,department=%s", filters.Type, filters.Department)
	}
	s.tracker.Track(analytics.SearchEvent{
		Type:       typ,
		Query:      q.Normalized,
		Terms:      q.Terms,
		Filters:    f,
		TotalCount: resp.TotalCount,
		Returned:   len(resp.Results),
		LatencyMs:  resp.ElapsedMs,
		CacheHit:   resp.CacheHit,
		Generation: resp.Generation,
		Timestamp:  s.now().UTC(),
		RequestID:  logger.RequestID(ctx),
	})
}

func (s *Service) trackDocument(id, action string, version int64, err error) {
	if s.tracker == nil {
		return
	}
	ev := analytics.DocumentEvent{
		Type:       analytics.EventDocument,
		DocumentID: id,
		Action:     action,
		Version:    version,
		Timestamp:  s.now().UTC(),
	}
	if err != nil {
		ev.Rejected = true
		ev.Reason = reason(err)
	}
	s.tracker.Track(ev)
}

func validateFilters(f Filters) error {
	if f.Type != "" && !f.Type.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown document type %q", f.Type)
	}
	if f.Department != "" && !f.Department.Valid() {
		return apperrors.Newf(apperrors.ErrValidation, "unknown department %q", f.Department)
	}
	return nil
}

func validateDocument(doc *document.Document) error {
	if err := index.Validate(doc); err != nil {
		return err
	}
	if !doc.Type.Valid() {
		return apperrors.Newf(apperrors.ErrMalformedDocument, "document %q has unknown type %q", doc.ID, doc.Type)
	}
	if !doc.Department.Valid() {
		return apperrors.Newf(apperrors.ErrMalformedDocument, "document %q has unknown department %q", doc.ID, doc.Department)
	}
	if doc.Status != "" && !doc.Status.Valid() {
		return apperrors.Newf(apperrors.ErrMalformedDocument, "document %q has unknown status %q", doc.ID, doc.Status)
	}
	return nil
}

func reason(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

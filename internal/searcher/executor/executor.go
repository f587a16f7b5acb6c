package executor

import (
	"context"
	"log/slog"
	"math"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/tracing"
)

// Hit is a ranked result with the fields the portal displays.
type Hit struct {
	ranker.ScoredDoc
	Title          string              `json:"title"`
	Type           document.Type       `json:"type"`
	Department     document.Department `json:"department"`
	DepartmentName string              `json:"departmentName"`
	Author         string              `json:"author,omitempty"`
	Tags           []string            `json:"tags,omitempty"`
	Version        int64               `json:"version"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	Snippet        string              `json:"snippet"`
	// Relevance is the score as a percentage of the best score for the query.
	Relevance int `json:"relevance"`
}

type Page struct {
	Query      string   `json:"query"`
	Terms      []string `json:"terms"`
	Results    []Hit    `json:"results"`
	TotalCount int      `json:"totalCount"`
	Page       int      `json:"page"`
	PageSize   int      `json:"pageSize"`
	Generation uint64   `json:"generation"`
}

type Options struct {
	PhraseBoost      float64
	SnippetLength    int
	PrefixExpansions int
}

// Executor runs processed queries against an index snapshot. It holds no
// index state of its own: the same snapshot and query always produce the
// same page.
type Executor struct {
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// New creates an executor. now supplies the reference time for recency
// decay; nil means time.Now.
func New(opts Options, now func() time.Time) *Executor {
	if now == nil {
		now = time.Now
	}
	return &Executor{
		opts:   opts,
		now:    now,
		logger: slog.Default().With("component", "query-executor"),
	}
}

// Execute ranks every candidate and returns the requested page. page and
// pageSize must already be validated; a page past the end is empty but
// still reports the full TotalCount.
func (e *Executor) Execute(ctx context.Context, snap *index.Snapshot, q *query.ProcessedQuery, filter ranker.Filter, page, pageSize int) *Page {
	_, span := tracing.Start(ctx, "rank")
	defer span.End()

	candidates := ranker.Score(q, snap, e.params(filter))
	out := &Page{
		Query:      q.Normalized,
		Terms:      q.ExpandedTerms,
		Results:    []Hit{},
		TotalCount: len(candidates),
		Page:       page,
		PageSize:   pageSize,
		Generation: snap.Generation(),
	}
	span.SetAttr("candidates", len(candidates))

	if window := merger.Window(candidates, page, pageSize, ranker.Compare); len(window) > 0 {
		out.Results = e.hits(snap, window, topScore(candidates))
	}

	e.logger.DebugContext(ctx, "query executed",
		"query", q.Normalized,
		"terms", q.ExpandedTerms,
		"candidates", len(candidates),
		"page", page,
		"returned", len(out.Results),
		"generation", out.Generation,
	)
	return out
}

// Instant returns the limit best results for partial input. The trailing
// word is also matched as a prefix of indexed terms.
func (e *Executor) Instant(ctx context.Context, snap *index.Snapshot, q *query.ProcessedQuery, limit int) *Page {
	_, span := tracing.Start(ctx, "instant-rank")
	defer span.End()

	expanded := ExpandPrefix(q, snap, e.opts.PrefixExpansions)
	candidates := ranker.Score(expanded, snap, e.params(ranker.Filter{}))
	top := merger.TopK(candidates, limit, ranker.Compare)
	span.SetAttr("candidates", len(candidates))

	out := &Page{
		Query:      q.Normalized,
		Terms:      expanded.ExpandedTerms,
		Results:    []Hit{},
		TotalCount: len(candidates),
		Page:       1,
		PageSize:   limit,
		Generation: snap.Generation(),
	}
	if len(top) > 0 {
		out.Results = e.hits(snap, top, top[0].Score)
	}
	return out
}

// topScore is the best score among candidates. Relevance percentages are
// relative to it on every page.
func topScore(candidates []ranker.ScoredDoc) float64 {
	best := 0.0
	for _, c := range candidates {
		best = max(best, c.Score)
	}
	return best
}

// ExpandPrefix returns q with up to n indexed terms that start with its
// trailing word added to the expanded terms. Words shorter than two
// characters are not expanded.
func ExpandPrefix(q *query.ProcessedQuery, snap *index.Snapshot, n int) *query.ProcessedQuery {
	word := q.LastWord()
	if n <= 0 || utf8.RuneCountInString(word) < 2 {
		return q
	}
	extra := snap.TermsWithPrefix(word, n)
	if len(extra) == 0 {
		return q
	}
	out := *q
	out.ExpandedTerms = append(slices.Clone(q.ExpandedTerms), extra...)
	slices.Sort(out.ExpandedTerms)
	out.ExpandedTerms = slices.Compact(out.ExpandedTerms)
	return &out
}

func (e *Executor) params(filter ranker.Filter) ranker.RankParams {
	return ranker.RankParams{
		Now:         e.now(),
		PhraseBoost: e.opts.PhraseBoost,
		Filter:      filter,
	}
}

func (e *Executor) hits(snap *index.Snapshot, scored []ranker.ScoredDoc, top float64) []Hit {
	hits := make([]Hit, 0, len(scored))
	for _, sd := range scored {
		doc, ok := snap.Document(sd.DocID)
		if !ok {
			continue
		}
		hits = append(hits, Hit{
			ScoredDoc:      sd,
			Title:          doc.Title,
			Type:           doc.Type,
			Department:     doc.Department,
			DepartmentName: doc.Department.DisplayName(),
			Author:         doc.Author,
			Tags:           doc.Tags,
			Version:        doc.Version,
			UpdatedAt:      doc.UpdatedAt,
			Snippet:        Snippet(doc.Content, sd.MatchedTerms, e.opts.SnippetLength),
			Relevance:      relevance(sd.Score, top),
		})
	}
	return hits
}

func relevance(score, top float64) int {
	if top <= 0 {
		return 0
	}
	return int(math.Round(score / top * 100))
}

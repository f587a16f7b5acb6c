package executor

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/query"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/ranker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)

func newExecutor() *Executor {
	return New(Options{PhraseBoost: 0.25, SnippetLength: 40, PrefixExpansions: 8}, func() time.Time { return now })
}

func process(t *testing.T, raw string) *query.ProcessedQuery {
	t.Helper()
	q, err := query.NewProcessor(nil).Process(raw)
	require.NoError(t, err)
	return q
}

func corpus(t *testing.T) *index.Snapshot {
	t.Helper()
	var docs []*document.Document
	for i := 1; i <= 5; i++ {
		docs = append(docs, &document.Document{
			ID:         fmt.Sprintf("kb-%03d", i),
			Title:      fmt.Sprintf("套房%s規定", strings.Repeat("貸", i)),
			Content:    strings.Repeat("說明", i) + "套房貸款成數",
			Type:       document.TypeRegulation,
			Department: document.DeptCredit,
			Status:     document.StatusPublished,
			UpdatedAt:  now.AddDate(0, 0, -i*30),
		})
	}
	docs = append(docs, &document.Document{
		ID:         "kb-100",
		Title:      "Regulation index for forex",
		Content:    "regulation summary",
		Type:       document.TypeFAQ,
		Department: document.DeptForex,
		Status:     document.StatusPublished,
		UpdatedAt:  now,
	})
	snap, rejected := index.Build(docs, index.DefaultWeights(), 7)
	require.Empty(t, rejected)
	return snap
}

func docIDs(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.DocID
	}
	return out
}

func TestPaginationConcatenatesToFullList(t *testing.T) {
	e := newExecutor()
	snap := corpus(t)
	q := process(t, "套房")
	ctx := context.Background()

	full := e.Execute(ctx, snap, q, ranker.Filter{}, 1, 5)
	require.Equal(t, 5, full.TotalCount)
	require.Len(t, full.Results, 5)

	var concatenated []string
	for page := 1; page <= 3; page++ {
		p := e.Execute(ctx, snap, q, ranker.Filter{}, page, 2)
		assert.Equal(t, 5, p.TotalCount)
		concatenated = append(concatenated, docIDs(p.Results)...)
	}
	assert.Equal(t, docIDs(full.Results), concatenated)

	beyond := e.Execute(ctx, snap, q, ranker.Filter{}, 4, 2)
	assert.Empty(t, beyond.Results)
	assert.NotNil(t, beyond.Results)
	assert.Equal(t, 5, beyond.TotalCount)
	assert.Equal(t, uint64(7), beyond.Generation)
}

func TestHitsCarryPresentationFields(t *testing.T) {
	e := newExecutor()
	page := e.Execute(context.Background(), corpus(t), process(t, "套房"), ranker.Filter{}, 1, 10)
	require.NotEmpty(t, page.Results)

	top := page.Results[0]
	assert.Equal(t, 100, top.Relevance)
	assert.Equal(t, "授信部", top.DepartmentName)
	assert.Contains(t, top.Snippet, "套房")
	for _, h := range page.Results[1:] {
		assert.LessOrEqual(t, h.Relevance, 100)
		assert.Greater(t, h.Relevance, 0)
	}
}

func TestFilterNarrowsCandidates(t *testing.T) {
	e := newExecutor()
	page := e.Execute(context.Background(), corpus(t), process(t, "regulation"), ranker.Filter{Department: document.DeptCredit}, 1, 10)
	assert.Zero(t, page.TotalCount)
	assert.Empty(t, page.Results)
}

func TestInstantExpandsTrailingPrefix(t *testing.T) {
	e := newExecutor()
	snap := corpus(t)
	ctx := context.Background()

	page := e.Instant(ctx, snap, process(t, "regul"), 5)
	assert.Equal(t, []string{"kb-100"}, docIDs(page.Results))
	assert.Contains(t, page.Terms, "regulation")

	page = e.Instant(ctx, snap, process(t, "套房"), 3)
	assert.Len(t, page.Results, 3)
	assert.Equal(t, 5, page.TotalCount)
	full := e.Execute(ctx, snap, process(t, "套房"), ranker.Filter{}, 1, 3)
	assert.Equal(t, docIDs(full.Results), docIDs(page.Results), "top-k agrees with the full ranking")
}

func TestExpandPrefixLeavesShortWords(t *testing.T) {
	snap := corpus(t)
	q := process(t, "套房 r")
	assert.Same(t, q, ExpandPrefix(q, snap, 8))
	q = process(t, "zzz")
	assert.Same(t, q, ExpandPrefix(q, snap, 8))
}

func TestSnippet(t *testing.T) {
	long := strings.Repeat("前言", 50) + "套房定義" + strings.Repeat("後記", 50)

	s := Snippet(long, []string{"套房"}, 20)
	assert.Equal(t, 20, utf8.RuneCountInString(s))
	assert.Contains(t, s, "套房定義")

	s = Snippet(long, []string{"不存在"}, 20)
	assert.Equal(t, strings.Repeat("前言", 10), s)

	s = Snippet(long, []string{"後記"}, 20)
	assert.True(t, strings.HasPrefix(s, "套房定義") || strings.Contains(s, "後記"))

	assert.Equal(t, "short text", Snippet("short\n  text", []string{"zz"}, 20))
	assert.Empty(t, Snippet("", []string{"套房"}, 20))

	s = Snippet(strings.Repeat("x ", 40)+"ＡＭＬ規定", []string{"aml"}, 10)
	assert.Contains(t, s, "ＡＭＬ")
}

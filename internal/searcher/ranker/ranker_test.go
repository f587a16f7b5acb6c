package ranker

import (
	"math"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 12, 20, 9, 0, 0, 0, time.UTC)

func doc(id, title, content string, typ document.Type) *document.Document {
	return &document.Document{
		ID:         id,
		Title:      title,
		Content:    content,
		Type:       typ,
		Department: document.DeptCredit,
		Status:     document.StatusPublished,
		UpdatedAt:  now,
	}
}

func snapshot(t *testing.T, docs ...*document.Document) *index.Snapshot {
	t.Helper()
	snap, rejected := index.Build(docs, index.DefaultWeights(), 1)
	require.Empty(t, rejected)
	return snap
}

func process(t *testing.T, raw string) *query.ProcessedQuery {
	t.Helper()
	q, err := query.NewProcessor(nil).Process(raw)
	require.NoError(t, err)
	return q
}

func ids(results []ScoredDoc) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.DocID
	}
	return out
}

func TestIDF(t *testing.T) {
	assert.InDelta(t, 1.0, IDF(1, 1), 1e-9)
	assert.InDelta(t, math.Log(4)+1, IDF(3, 0), 1e-9)
	assert.Greater(t, IDF(10, 1), IDF(10, 5))
	assert.Greater(t, IDF(10, 10), 0.0)
}

func TestRecencyFactor(t *testing.T) {
	assert.Equal(t, 1.0, RecencyFactor(now, now))
	assert.InDelta(t, 0.5, RecencyFactor(now.AddDate(0, 0, -365), now), 1e-9)
	assert.Equal(t, 1.0, RecencyFactor(now.Add(-23*time.Hour), now), "partial days are floored")
	assert.Equal(t, 1.0, RecencyFactor(now.Add(48*time.Hour), now))
	assert.Equal(t, 1.0, RecencyFactor(time.Time{}, now))
	assert.Greater(t, RecencyFactor(now.AddDate(-20, 0, 0), now), 0.0)
}

func TestTitleOutranksNamesakeCase(t *testing.T) {
	snap := snapshot(t,
		doc("1", "套房定義及貸款成數規定", "", document.TypeRegulation),
		doc("2", "套房承作經驗分享", "", document.TypeCase),
		doc("3", "存款繼承作業", "", document.TypeSOP),
	)
	results := Rank(process(t, "套房"), snap, RankParams{Now: now, PhraseBoost: 0.25})
	assert.Equal(t, []string{"1", "2"}, ids(results))
	assert.Equal(t, []string{"套房"}, results[0].MatchedTerms)
}

func TestFieldWeights(t *testing.T) {
	inTitle := doc("a", "外匯申報", "", document.TypeFAQ)
	inTags := doc("b", "規定", "", document.TypeFAQ)
	inTags.Tags = []string{"外匯"}
	inContent := doc("c", "規定", "外匯", document.TypeFAQ)
	snap := snapshot(t, inContent, inTags, inTitle)

	results := Rank(process(t, "外匯"), snap, RankParams{Now: now})
	require.Len(t, results, 3)
	assert.Equal(t, []string{"a", "b", "c"}, ids(results))
	idf := IDF(3, 3)
	assert.InDelta(t, 3*idf, results[0].Score, 1e-4)
	assert.InDelta(t, 2*idf, results[1].Score, 1e-4)
	assert.InDelta(t, 1*idf, results[2].Score, 1e-4)
}

func TestTiesBreakByDocumentID(t *testing.T) {
	snap := snapshot(t,
		doc("kb-b", "外匯申報", "內容", document.TypeFAQ),
		doc("kb-a", "外匯申報", "內容", document.TypeFAQ),
	)
	results := Rank(process(t, "外匯"), snap, RankParams{Now: now})
	require.Len(t, results, 2)
	assert.Equal(t, results[0].Score, results[1].Score)
	assert.Equal(t, []string{"kb-a", "kb-b"}, ids(results))
}

func TestRankIsDeterministic(t *testing.T) {
	var docs []*document.Document
	for _, id := range []string{"d", "b", "e", "a", "c"} {
		docs = append(docs, doc(id, "套房貸款"+id, "套房成數與貸款規定", document.TypeRegulation))
	}
	snap := snapshot(t, docs...)
	q := process(t, "套房貸款")
	first := Rank(q, snap, RankParams{Now: now, PhraseBoost: 0.25})
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, Rank(q, snap, RankParams{Now: now, PhraseBoost: 0.25}))
	}
}

func TestRecencyOrdersOtherwiseEqualDocuments(t *testing.T) {
	old := doc("a", "外匯申報", "", document.TypeFAQ)
	old.UpdatedAt = now.AddDate(0, 0, -365)
	fresh := doc("b", "外匯申報", "", document.TypeFAQ)
	snap := snapshot(t, old, fresh)

	results := Rank(process(t, "外匯"), snap, RankParams{Now: now})
	assert.Equal(t, []string{"b", "a"}, ids(results))
	assert.InDelta(t, results[0].Score/2, results[1].Score, 1e-3)
}

func TestPhraseBoost(t *testing.T) {
	snap := snapshot(t, doc("a", "套房定義", "", document.TypeRegulation))
	q := process(t, "套房定義")
	plain := Rank(q, snap, RankParams{Now: now})
	boosted := Rank(q, snap, RankParams{Now: now, PhraseBoost: 0.25})
	assert.InDelta(t, plain[0].Score*1.25, boosted[0].Score, 1e-3)
}

func TestFilterAndCandidateRestriction(t *testing.T) {
	reg := doc("1", "套房定義", "", document.TypeRegulation)
	cs := doc("2", "套房案例", "", document.TypeCase)
	forex := doc("3", "套房外匯", "", document.TypeCase)
	forex.Department = document.DeptForex
	other := doc("4", "存款繼承", "", document.TypeSOP)
	snap := snapshot(t, reg, cs, forex, other)
	q := process(t, "套房")

	assert.Equal(t, []string{"1", "2", "3"}, ids(Rank(q, snap, RankParams{Now: now})))
	assert.Equal(t, []string{"2", "3"}, ids(Rank(q, snap, RankParams{Now: now, Filter: Filter{Type: document.TypeCase}})))
	assert.Equal(t, []string{"3"}, ids(Rank(q, snap, RankParams{Now: now, Filter: Filter{Type: document.TypeCase, Department: document.DeptForex}})))
	assert.Empty(t, Rank(process(t, "外幣"), snap, RankParams{Now: now}))
}

func TestEmptyQueryScoresNothing(t *testing.T) {
	snap := snapshot(t, doc("1", "套房定義", "", document.TypeRegulation))
	assert.Empty(t, Rank(process(t, "a"), snap, RankParams{Now: now}))
	assert.Empty(t, Rank(nil, snap, RankParams{Now: now}))
}

func BenchmarkRank(b *testing.B) {
	var docs []*document.Document
	for i := 0; i < 2000; i++ {
		id := string(rune('a'+i%26)) + string(rune('a'+i/26%26)) + string(rune('a'+i/676))
		docs = append(docs, doc(id, "套房定義及貸款成數規定", "套房貸款成數最高不得超過房屋鑑價之70%", document.TypeRegulation))
	}
	snap, _ := index.Build(docs, index.DefaultWeights(), 1)
	q, _ := query.NewProcessor(nil).Process("套房貸款")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Rank(q, snap, RankParams{Now: now, PhraseBoost: 0.25})
	}
}

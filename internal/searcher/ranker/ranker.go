package ranker

import (
	"cmp"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/searcher/query"
)

const recencyHorizonDays = 365

type ScoredDoc struct {
	DocID        string   `json:"documentId"`
	Score        float64  `json:"score"`
	MatchedTerms []string `json:"matchedTerms"`
}

// Filter restricts candidates. Zero fields match everything.
type Filter struct {
	Type       document.Type       `json:"type,omitempty"`
	Department document.Department `json:"department,omitempty"`
}

func (f Filter) Match(doc *document.Document) bool {
	if f.Type != "" && doc.Type != f.Type {
		return false
	}
	if f.Department != "" && doc.Department != f.Department {
		return false
	}
	return true
}

type RankParams struct {
	// Now is the reference time for recency decay.
	Now         time.Time
	PhraseBoost float64
	Filter      Filter
}

// Score returns every candidate that shares at least one expanded term with
// q, in no particular order. Only posting lists of the query's terms are
// visited.
func Score(q *query.ProcessedQuery, snap *index.Snapshot, params RankParams) []ScoredDoc {
	if q.Empty() {
		return nil
	}
	n := snap.N()
	acc := make(map[string]*ScoredDoc)
	for _, term := range q.ExpandedTerms {
		postings := snap.Postings(term)
		if len(postings) == 0 {
			continue
		}
		idf := IDF(n, len(postings))
		for _, p := range postings {
			sd, ok := acc[p.DocID]
			if !ok {
				doc, indexed := snap.Document(p.DocID)
				if !indexed || !params.Filter.Match(doc) {
					continue
				}
				sd = &ScoredDoc{DocID: p.DocID}
				acc[p.DocID] = sd
			}
			sd.Score += idf * p.Weighted
			sd.MatchedTerms = append(sd.MatchedTerms, term)
		}
	}

	results := make([]ScoredDoc, 0, len(acc))
	for id, sd := range acc {
		doc, _ := snap.Document(id)
		score := sd.Score * RecencyFactor(doc.UpdatedAt, params.Now)
		if params.PhraseBoost > 0 && q.Normalized != "" && strings.Contains(tokenizer.Normalize(doc.Title), q.Normalized) {
			score *= 1 + params.PhraseBoost
		}
		sd.Score = math.Round(score*10000) / 10000
		results = append(results, *sd)
	}
	return results
}

// Rank scores and orders candidates by descending score, then ascending
// document id. The output is identical for identical inputs.
func Rank(q *query.ProcessedQuery, snap *index.Snapshot, params RankParams) []ScoredDoc {
	results := Score(q, snap, params)
	slices.SortFunc(results, Compare)
	return results
}

// Compare orders a before b when a ranks higher.
func Compare(a, b ScoredDoc) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return strings.Compare(a.DocID, b.DocID)
}

// IDF is the smoothed inverse document frequency ln((n+1)/(df+1)) + 1. It
// is positive for every df in [0, n].
func IDF(n, df int) float64 {
	return math.Log(float64(n+1)/float64(df+1)) + 1
}

// RecencyFactor returns 1/(1+days/365) for the whole days between updatedAt
// and now. Future timestamps count as zero days; a zero updatedAt means the
// age is unknown and is not penalized.
func RecencyFactor(updatedAt, now time.Time) float64 {
	if updatedAt.IsZero() || now.IsZero() {
		return 1
	}
	days := math.Floor(now.Sub(updatedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return 1 / (1 + days/recencyHorizonDays)
}

// Package query turns raw search input into index terms. It tokenizes with
// the indexer's tokenizer so both sides produce identical terms, then expands
// the result through a synonym table.
package query

import (
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
	"golang.org/x/text/width"
)

type ProcessedQuery struct {
	Raw string `json:"raw"`
	// Normalized is the trimmed, width-folded, lower-cased input.
	Normalized    string   `json:"normalized"`
	Terms         []string `json:"terms"`
	ExpandedTerms []string `json:"expandedTerms"`
}

// Empty reports whether the query produced no searchable terms.
func (q *ProcessedQuery) Empty() bool {
	return q == nil || len(q.ExpandedTerms) == 0
}

// LastWord returns the trailing non-CJK word of the input, the word a user
// is most likely still typing. It is empty when the input ends in a
// separator or a CJK character.
func (q *ProcessedQuery) LastWord() string {
	if q == nil {
		return ""
	}
	start := strings.LastIndexFunc(q.Normalized, func(r rune) bool {
		return tokenizer.IsCJK(r) || !(unicode.IsLetter(r) || unicode.IsDigit(r))
	})
	if start < 0 {
		return q.Normalized
	}
	_, size := utf8.DecodeRuneInString(q.Normalized[start:])
	return q.Normalized[start+size:]
}

type Processor struct {
	synonyms atomic.Pointer[Synonyms]
	logger   *slog.Logger
}

// NewProcessor creates a processor. syn may be nil for no expansion.
func NewProcessor(syn *Synonyms) *Processor {
	p := &Processor{logger: slog.Default().With("component", "query-processor")}
	p.SetSynonyms(syn)
	return p
}

// SetSynonyms atomically replaces the synonym table. In-flight queries keep
// the table they started with.
func (p *Processor) SetSynonyms(syn *Synonyms) {
	if syn == nil {
		syn = &Synonyms{}
	}
	p.synonyms.Store(syn)
}

func (p *Processor) Synonyms() *Synonyms {
	return p.synonyms.Load()
}

// Process trims, tokenizes and expands raw. Blank input returns
// ErrEmptyQuery; input that yields no terms (for example a single Latin
// letter) returns an empty ProcessedQuery and no error.
func (p *Processor) Process(raw string) (*ProcessedQuery, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, apperrors.New(apperrors.ErrEmptyQuery, "query is empty")
	}
	q := &ProcessedQuery{
		Raw:        raw,
		Normalized: tokenizer.Normalize(trimmed),
		Terms:      tokenizer.Terms(trimmed),
	}
	expanded := slices.Clone(q.Terms)
	expanded = append(expanded, p.Synonyms().expand(q.Normalized, q.Terms)...)
	slices.Sort(expanded)
	q.ExpandedTerms = slices.Compact(expanded)
	if len(q.ExpandedTerms) > len(q.Terms) {
		p.logger.Debug("query expanded", "query", q.Normalized, "terms", q.Terms, "expanded", q.ExpandedTerms)
	}
	return q, nil
}

// DisplayWidth returns the number of terminal columns s occupies: East Asian
// wide and fullwidth characters count two, everything else one.
func DisplayWidth(s string) int {
	n := 0
	for _, r := range s {
		switch width.LookupRune(r).Kind() {
		case width.EastAsianWide, width.EastAsianFullwidth:
			n += 2
		default:
			n++
		}
	}
	return n
}

// Package index holds the inverted index as immutable snapshots. A write
// derives a new snapshot that shares untouched posting lists with its
// predecessor; readers holding the old snapshot are never affected.
package index

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/document"
	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/pkg/errors"
)

type Snapshot struct {
	generation uint64
	builtAt    time.Time
	weights    Weights
	postings   map[string]PostingList
	docs       map[string]*document.Document
	docTerms   map[string][]string

	vocabOnce sync.Once
	vocab     []string
}

// Rejection records a record that could not be indexed.
type Rejection struct {
	DocumentID string `json:"documentId"`
	Reason     string `json:"reason"`
}

func Empty(w Weights) *Snapshot {
	return &Snapshot{
		builtAt:  time.Now(),
		weights:  w,
		postings: make(map[string]PostingList),
		docs:     make(map[string]*document.Document),
		docTerms: make(map[string][]string),
	}
}

// Validate rejects records missing an id or title.
func Validate(doc *document.Document) error {
	if doc == nil || strings.TrimSpace(doc.ID) == "" {
		return apperrors.New(apperrors.ErrMalformedDocument, "document id is required")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return apperrors.Newf(apperrors.ErrMalformedDocument, "document %q has no title", doc.ID)
	}
	return nil
}

// Build indexes every published, well-formed record in docs. Malformed
// records are skipped and reported.
func Build(docs []*document.Document, w Weights, generation uint64) (*Snapshot, []Rejection) {
	s := Empty(w)
	s.generation = generation
	var rejected []Rejection

	lists := make(map[string][]Posting)
	for _, doc := range docs {
		if !doc.Published() {
			continue
		}
		if err := Validate(doc); err != nil {
			rejected = append(rejected, Rejection{DocumentID: doc.ID, Reason: err.Error()})
			continue
		}
		freqs := analyze(doc)
		terms := make([]string, 0, len(freqs))
		for term, f := range freqs {
			lists[term] = append(lists[term], Posting{DocID: doc.ID, Freq: f, Weighted: f.Weighted(w)})
			terms = append(terms, term)
		}
		slices.Sort(terms)
		s.docs[doc.ID] = doc.Clone()
		s.docTerms[doc.ID] = terms
	}
	for term, list := range lists {
		slices.SortFunc(list, func(a, b Posting) int { return strings.Compare(a.DocID, b.DocID) })
		s.postings[term] = PostingList(list)
	}
	return s, rejected
}

// analyze counts term occurrences per field. Tags are tokenized one at a
// time so bigrams never span two tags.
func analyze(doc *document.Document) map[string]FieldFreq {
	freqs := make(map[string]FieldFreq)
	count := func(text string, field Field) {
		for _, tok := range tokenizer.Tokenize(text) {
			f := freqs[tok.Term]
			f.add(field)
			freqs[tok.Term] = f
		}
	}
	count(doc.Title, FieldTitle)
	for _, tag := range doc.Tags {
		count(tag, FieldTags)
	}
	count(doc.Content, FieldContent)
	return freqs
}

func (s *Snapshot) derive() *Snapshot {
	return &Snapshot{
		generation: s.generation + 1,
		builtAt:    time.Now(),
		weights:    s.weights,
		postings:   maps.Clone(s.postings),
		docs:       maps.Clone(s.docs),
		docTerms:   maps.Clone(s.docTerms),
	}
}

// With returns a snapshot reflecting doc. A record that is not published is
// removed instead. Malformed records leave s untouched and return an error.
func (s *Snapshot) With(doc *document.Document) (*Snapshot, error) {
	if err := Validate(doc); err != nil {
		return s, err
	}
	if !doc.Published() {
		return s.Without(doc.ID), nil
	}

	next := s.derive()
	next.dropPostings(doc.ID)

	freqs := analyze(doc)
	terms := make([]string, 0, len(freqs))
	for term, f := range freqs {
		next.postings[term] = next.postings[term].upsert(Posting{DocID: doc.ID, Freq: f, Weighted: f.Weighted(s.weights)})
		terms = append(terms, term)
	}
	slices.Sort(terms)
	next.docs[doc.ID] = doc.Clone()
	next.docTerms[doc.ID] = terms
	return next, nil
}

// Without returns a snapshot with no postings for id. It still advances the
// generation when id was not indexed.
func (s *Snapshot) Without(id string) *Snapshot {
	next := s.derive()
	next.dropPostings(id)
	delete(next.docs, id)
	delete(next.docTerms, id)
	return next
}

// dropPostings removes id from every list it appears in. Only called on a
// freshly derived snapshot, whose maps are private copies.
func (s *Snapshot) dropPostings(id string) {
	for _, term := range s.docTerms[id] {
		list := s.postings[term].remove(id)
		if len(list) == 0 {
			delete(s.postings, term)
			continue
		}
		s.postings[term] = list
	}
}

func (s *Snapshot) Generation() uint64 { return s.generation }

func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

func (s *Snapshot) Weights() Weights { return s.weights }

// N is the number of indexed records.
func (s *Snapshot) N() int { return len(s.docs) }

func (s *Snapshot) TermCount() int { return len(s.postings) }

// Postings returns the list for term. Callers must not modify it.
func (s *Snapshot) Postings(term string) PostingList { return s.postings[term] }

func (s *Snapshot) DocFreq(term string) int { return len(s.postings[term]) }

// Document returns the indexed copy of a record. Callers must not modify it.
func (s *Snapshot) Document(id string) (*document.Document, bool) {
	doc, ok := s.docs[id]
	return doc, ok
}

// TermsOf returns a copy of the terms indexed for id.
func (s *Snapshot) TermsOf(id string) ([]string, bool) {
	terms, ok := s.docTerms[id]
	return slices.Clone(terms), ok
}

// DocumentIDs returns the indexed ids in ascending order.
func (s *Snapshot) DocumentIDs() []string {
	return slices.Sorted(maps.Keys(s.docs))
}

// TermsWithPrefix returns up to limit vocabulary terms starting with prefix,
// in ascending order.
func (s *Snapshot) TermsWithPrefix(prefix string, limit int) []string {
	s.vocabOnce.Do(func() {
		s.vocab = slices.Sorted(maps.Keys(s.postings))
	})
	i, _ := slices.BinarySearch(s.vocab, prefix)
	var out []string
	for ; i < len(s.vocab) && len(out) < limit; i++ {
		if !strings.HasPrefix(s.vocab[i], prefix) {
			break
		}
		out = append(out, s.vocab[i])
	}
	return out
}

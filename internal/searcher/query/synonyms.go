package query

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/ark-knowledge-search/internal/indexer/tokenizer"
	"gopkg.in/yaml.v3"
)

// Synonyms is an immutable table of interchangeable phrase groups. A query
// that matches any phrase of a group is expanded with the terms of every
// phrase in that group.
type Synonyms struct {
	groups []synonymGroup
}

type synonymGroup struct {
	phrases []phrase
	terms   []string
}

type phrase struct {
	normalized string
	terms      []string
	cjk        bool
}

type synonymsFile struct {
	Groups [][]string `yaml:"groups"`
}

// LoadSynonyms reads a YAML synonym file of the form
//
//	groups:
//	  - [套房, 小套房]
func LoadSynonyms(path string) (*Synonyms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading synonyms file: %w", err)
	}
	return ParseSynonyms(data)
}

func ParseSynonyms(data []byte) (*Synonyms, error) {
	var f synonymsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing synonyms: %w", err)
	}
	return NewSynonyms(f.Groups)
}

// NewSynonyms builds a table from phrase groups. Groups with fewer than two
// distinct phrases are rejected.
func NewSynonyms(groups [][]string) (*Synonyms, error) {
	s := &Synonyms{}
	for i, raw := range groups {
		g := synonymGroup{}
		seen := make(map[string]struct{})
		for _, text := range raw {
			norm := tokenizer.Normalize(strings.TrimSpace(text))
			if norm == "" {
				continue
			}
			if _, dup := seen[norm]; dup {
				continue
			}
			seen[norm] = struct{}{}
			terms := tokenizer.Terms(norm)
			if len(terms) == 0 {
				return nil, fmt.Errorf("synonym group %d: phrase %q has no searchable terms", i, text)
			}
			g.phrases = append(g.phrases, phrase{
				normalized: norm,
				terms:      terms,
				cjk:        strings.IndexFunc(norm, tokenizer.IsCJK) >= 0,
			})
			g.terms = append(g.terms, terms...)
		}
		if len(g.phrases) < 2 {
			return nil, fmt.Errorf("synonym group %d needs at least two phrases", i)
		}
		slices.Sort(g.terms)
		g.terms = slices.Compact(g.terms)
		s.groups = append(s.groups, g)
	}
	return s, nil
}

// Len returns the number of groups.
func (s *Synonyms) Len() int {
	if s == nil {
		return 0
	}
	return len(s.groups)
}

// Lookup returns the normalized phrases grouped with text, excluding text
// itself.
func (s *Synonyms) Lookup(text string) []string {
	norm := tokenizer.Normalize(strings.TrimSpace(text))
	var out []string
	for _, g := range s.groups {
		idx := slices.IndexFunc(g.phrases, func(p phrase) bool { return p.normalized == norm })
		if idx < 0 {
			continue
		}
		for i, p := range g.phrases {
			if i != idx {
				out = append(out, p.normalized)
			}
		}
	}
	return out
}

// expand returns the terms of every group matched by the query. CJK phrases
// match as substrings of the normalized query since CJK input has no word
// boundaries; other phrases match when all of their terms are query terms.
func (s *Synonyms) expand(normalized string, terms []string) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, g := range s.groups {
		if slices.ContainsFunc(g.phrases, func(p phrase) bool { return p.matches(normalized, terms) }) {
			out = append(out, g.terms...)
		}
	}
	return out
}

func (p phrase) matches(normalized string, terms []string) bool {
	if p.cjk {
		return strings.Contains(normalized, p.normalized)
	}
	for _, t := range p.terms {
		if _, found := slices.BinarySearch(terms, t); !found {
			return false
		}
	}
	return true
}

package index

import (
	"slices"
	"strings"
)

// Field identifies which part of a record a term occurrence came from.
type Field int

const (
	FieldTitle Field = iota
	FieldTags
	FieldContent
)

func (f Field) String() string {
	switch f {
	case FieldTitle:
		return "title"
	case FieldTags:
		return "tags"
	case FieldContent:
		return "content"
	default:
		return "unknown"
	}
}

// Weights multiply per-field term frequency.
type Weights struct {
	Title   float64
	Tags    float64
	Content float64
}

func DefaultWeights() Weights {
	return Weights{Title: 3, Tags: 2, Content: 1}
}

func (w Weights) Of(f Field) float64 {
	switch f {
	case FieldTitle:
		return w.Title
	case FieldTags:
		return w.Tags
	default:
		return w.Content
	}
}

// FieldFreq counts occurrences of one term per field of one record.
type FieldFreq struct {
	Title   int `json:"title"`
	Tags    int `json:"tags"`
	Content int `json:"content"`
}

func (f *FieldFreq) add(field Field) {
	switch field {
	case FieldTitle:
		f.Title++
	case FieldTags:
		f.Tags++
	default:
		f.Content++
	}
}

func (f FieldFreq) Weighted(w Weights) float64 {
	return float64(f.Title)*w.Title + float64(f.Tags)*w.Tags + float64(f.Content)*w.Content
}

// Posting is one record's entry in a term's posting list.
type Posting struct {
	DocID    string
	Freq     FieldFreq
	Weighted float64
}

// PostingList is ordered by DocID. Snapshots never mutate a published list.
type PostingList []Posting

func (pl PostingList) search(docID string) (int, bool) {
	return slices.BinarySearchFunc(pl, docID, func(p Posting, id string) int {
		return strings.Compare(p.DocID, id)
	})
}

// upsert returns a new list with p inserted or replaced.
func (pl PostingList) upsert(p Posting) PostingList {
	i, found := pl.search(p.DocID)
	out := make(PostingList, 0, len(pl)+1)
	out = append(out, pl[:i]...)
	out = append(out, p)
	if found {
		i++
	}
	return append(out, pl[i:]...)
}

// remove returns a new list without docID, or pl itself when absent.
func (pl PostingList) remove(docID string) PostingList {
	i, found := pl.search(docID)
	if !found {
		return pl
	}
	out := make(PostingList, 0, len(pl)-1)
	out = append(out, pl[:i]...)
	return append(out, pl[i+1:]...)
}

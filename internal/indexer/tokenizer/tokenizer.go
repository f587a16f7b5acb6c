// Package tokenizer turns record fields and queries into index terms. Input
// is width-folded and lower-cased, then split on whitespace and punctuation.
// Alphanumeric words shorter than two characters are dropped. Runs of CJK
// characters are shingled into overlapping bigrams; a lone CJK character is
// kept as a unigram.
package tokenizer

import (
	"slices"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Token represents a single normalised term and its position in the token
// stream.
type Token struct {
	Term     string
	Position int
}

// Normalize folds full-width forms to their narrow equivalents and
// lower-cases the result.
func Normalize(text string) string {
	return strings.ToLower(width.Fold.String(text))
}

// IsCJK reports whether r belongs to a script written without spaces.
func IsCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

func isWordRune(r rune) bool {
	return (unicode.IsLetter(r) || unicode.IsDigit(r)) && !IsCJK(r)
}

// Tokenize breaks text into index terms in order of appearance.
func Tokenize(text string) []Token {
	text = Normalize(text)
	tokens := make([]Token, 0, len(text)/3)
	emit := func(term string) {
		tokens = append(tokens, Token{Term: term, Position: len(tokens)})
	}

	var word []rune
	var cjk []rune
	flushWord := func() {
		if len(word) >= 2 {
			emit(string(word))
		}
		word = word[:0]
	}
	flushCJK := func() {
		switch len(cjk) {
		case 0:
		case 1:
			emit(string(cjk))
		default:
			for i := 0; i+1 < len(cjk); i++ {
				emit(string(cjk[i : i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case IsCJK(r):
			flushWord()
			cjk = append(cjk, r)
		case isWordRune(r):
			flushCJK()
			word = append(word, r)
		default:
			flushWord()
			flushCJK()
		}
	}
	flushWord()
	flushCJK()
	return tokens
}

// Terms returns the distinct terms of text, sorted.
func Terms(text string) []string {
	tokens := Tokenize(text)
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		terms = append(terms, t.Term)
	}
	slices.Sort(terms)
	return slices.Compact(terms)
}

// IsCJKTerm reports whether a term was produced from a CJK run.
func IsCJKTerm(term string) bool {
	for _, r := range term {
		return IsCJK(r)
	}
	return false
}

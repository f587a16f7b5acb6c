package executor

import (
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

// Snippet returns at most maxRunes characters of content, centred on the
// earliest occurrence of any of terms. Content without a match yields its
// opening characters. Whitespace runs are collapsed to single spaces.
func Snippet(content string, terms []string, maxRunes int) string {
	runes := []rune(content)
	if maxRunes <= 0 || len(runes) == 0 {
		return ""
	}
	if len(runes) <= maxRunes {
		return collapseSpace(content)
	}

	pos, length := firstMatch(runes, terms)
	start := 0
	if pos >= 0 {
		start = pos - (maxRunes-length)/2
	}
	start = max(0, min(start, len(runes)-maxRunes))
	return collapseSpace(string(runes[start : start+maxRunes]))
}

// firstMatch finds the earliest rune offset at which a term occurs in
// runes, comparing width-folded lower-case forms rune by rune so offsets
// map back onto the original text.
func firstMatch(runes []rune, terms []string) (int, int) {
	folded := make([]rune, len(runes))
	for i, r := range runes {
		folded[i] = foldRune(r)
	}
	best, bestLen := -1, 0
	for _, term := range terms {
		tr := []rune(term)
		if len(tr) == 0 {
			continue
		}
		for i := 0; i+len(tr) <= len(folded); i++ {
			if best >= 0 && i >= best {
				break
			}
			if equalRunes(folded[i:i+len(tr)], tr) {
				best, bestLen = i, len(tr)
				break
			}
		}
	}
	return best, bestLen
}

func foldRune(r rune) rune {
	if f := width.LookupRune(r).Folded(); f != 0 {
		r = f
	}
	return unicode.ToLower(r)
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

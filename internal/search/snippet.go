package search

import (
	"slices"
	"strings"
	"unicode"
)

const (
	snippetLen = 200
	ellipsis   = "..."
	// leadIn is how much context is kept before the first matched term.
	leadIn = 30
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "do": true, "for": true, "from": true, "how": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "the": true, "to": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "who": true, "with": true,
}

// Snippet returns at most 200 characters of content around the densest
// cluster of query terms, marking cut ends with "...". Without any match it
// returns the start of the content.
func Snippet(content, query string) string {
	text := []rune(strings.Join(strings.Fields(content), " "))
	if len(text) <= snippetLen {
		return string(text)
	}

	lower := make([]rune, len(text))
	for i, r := range text {
		lower[i] = unicode.ToLower(r)
	}
	var hits []int
	for _, term := range queryTerms(query) {
		hits = append(hits, indexAll(lower, []rune(term))...)
	}
	if len(hits) == 0 {
		return string(text[:snippetLen-len(ellipsis)]) + ellipsis
	}
	slices.Sort(hits)

	best, bestN := hits[0], 0
	for i, h := range hits {
		n := 0
		for _, o := range hits[i:] {
			if o >= h+snippetLen-2*len(ellipsis)-leadIn {
				break
			}
			n++
		}
		if n > bestN {
			best, bestN = h, n
		}
	}

	start := max(0, best-leadIn)
	// Snap to a word start inside the lead-in.
	if start > 0 {
		if i := indexRune(text[start:best], ' '); i >= 0 {
			start += i + 1
		}
	}
	s, e := window(len(text), start)

	var b strings.Builder
	if s > 0 {
		b.WriteString(ellipsis)
	}
	b.WriteString(strings.TrimSpace(string(text[s:e])))
	if e < len(text) {
		b.WriteString(ellipsis)
	}
	return b.String()
}

// window picks [s, e) so that the text plus its markers fits snippetLen.
func window(n, start int) (int, int) {
	width := snippetLen - len(ellipsis)
	switch {
	case start+width >= n:
		return max(0, n-width), n
	case start == 0:
		return 0, width
	default:
		return start, start + width - len(ellipsis)
	}
}

func queryTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopWords[f] || slices.Contains(out, f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func indexAll(s, sub []rune) []int {
	var out []int
	for i := 0; i+len(sub) <= len(s); i++ {
		if slices.Equal(s[i:i+len(sub)], sub) {
			out = append(out, i)
		}
	}
	return out
}

func indexRune(s []rune, r rune) int {
	return slices.Index(s, r)
}

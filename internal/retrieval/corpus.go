package retrieval

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"fixwise/internal/types"
)

// =============================================================================
// CORPUS SNAPSHOT - Immutable tokenized index built at reload time
// =============================================================================

type indexedDocument struct {
	doc types.KnowledgeDocument

	// latestVersion is true when no other document with the same title has a
	// higher version; such chunks get the recency bonus.
	latestVersion bool
}

type indexedChunk struct {
	chunk  types.Chunk
	tokens []string
	terms  map[string]struct{}
}

type corpusSnapshot struct {
	docs   map[string]indexedDocument
	chunks []indexedChunk

	// df counts how many chunks contain each term at least once.
	df         map[string]int
	idfNorm    float64
	totalCount int
}

// buildSnapshot tokenizes the corpus once. Chunks are indexed in the order
// the loader returned them; ranking never depends on that order.
func buildSnapshot(docs []types.KnowledgeDocument, chunks []types.Chunk) *corpusSnapshot {
	snap := &corpusSnapshot{
		docs:       make(map[string]indexedDocument, len(docs)),
		chunks:     make([]indexedChunk, 0, len(chunks)),
		df:         make(map[string]int),
		totalCount: len(chunks),
	}

	latest := make(map[string]int, len(docs))
	for _, d := range docs {
		if v, ok := latest[d.Title]; !ok || d.Version > v {
			latest[d.Title] = d.Version
		}
	}
	for _, d := range docs {
		snap.docs[d.ID] = indexedDocument{
			doc:           d,
			latestVersion: d.Version == latest[d.Title],
		}
	}

	for _, c := range chunks {
		if _, ok := snap.docs[c.DocumentID]; !ok {
			continue
		}
		tokens := tokenize(c.Content)
		terms := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			terms[t] = struct{}{}
		}
		for t := range terms {
			snap.df[t]++
		}
		snap.chunks = append(snap.chunks, indexedChunk{
			chunk:  c,
			tokens: tokens,
			terms:  terms,
		})
	}

	// Normalizer keeps per-term IDF in [0, 1]: a term found in one chunk out
	// of N scores 1, a term found everywhere scores near 0.
	if snap.totalCount > 0 {
		snap.idfNorm = math.Log(1 + float64(snap.totalCount))
	}
	return snap
}

// idf returns the normalized inverse document frequency of term in [0, 1].
func (s *corpusSnapshot) idf(term string) float64 {
	df := s.df[term]
	if df == 0 || s.idfNorm == 0 {
		return 0
	}
	return math.Log(1+float64(s.totalCount)/float64(df)) / s.idfNorm
}

// =============================================================================
// QUERY PARSING & TOKENIZATION
// =============================================================================

type parsedQuery struct {
	// terms are the unique normalized query tokens, in first-seen order so
	// scoring iterates deterministically.
	terms []string

	// phrase is the full normalized token sequence used for the
	// exact-phrase containment bonus.
	phrase []string
}

func parseQuery(query string) parsedQuery {
	phrase := tokenize(query)
	seen := make(map[string]struct{}, len(phrase))
	terms := make([]string, 0, len(phrase))
	for _, t := range phrase {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		terms = append(terms, t)
	}
	return parsedQuery{terms: terms, phrase: phrase}
}

// tokenize lowercases, splits on non-alphanumeric runes and drops stopwords
// and single characters. "Pump won't start!" -> ["pump", "won", "start"].
func tokenize(text string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() == 0 {
			return
		}
		tok := b.String()
		b.Reset()
		if len(tok) < 2 || stopwords[tok] {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}

// containsPhrase reports whether needle appears as a contiguous subsequence
// of haystack.
func containsPhrase(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, t := range needle {
			if haystack[i+j] != t {
				continue outer
			}
		}
		return true
	}
	return false
}

// excerpt returns a short window of content centered on the first matched
// term, suitable for citing in an assistant message.
func excerpt(content string, terms []string) string {
	const window = 160
	lower := strings.ToLower(content)

	pos := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && (pos == -1 || i < pos) {
			pos = i
		}
	}
	if pos < 0 {
		pos = 0
	}

	start := pos - window/4
	if start < 0 {
		start = 0
	}
	end := start + window
	if end > len(content) {
		end = len(content)
	}

	// Round the window to rune boundaries so a multibyte character at
	// either edge is never split into invalid UTF-8.
	for start > 0 && !utf8.RuneStart(content[start]) {
		start--
	}
	for end < len(content) && !utf8.RuneStart(content[end]) {
		end++
	}

	out := strings.TrimSpace(content[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(content) {
		out += "…"
	}
	return out
}

// stopwords are terms too common in troubleshooting text to carry signal.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "do": true, "does": true,
	"for": true, "from": true, "has": true, "have": true, "how": true,
	"if": true, "in": true, "is": true, "it": true, "its": true, "my": true,
	"no": true, "not": true, "of": true, "on": true, "or": true, "our": true,
	"so": true, "than": true, "that": true, "the": true, "their": true,
	"then": true, "there": true, "these": true, "they": true, "this": true,
	"to": true, "was": true, "we": true, "what": true, "when": true,
	"where": true, "which": true, "why": true, "will": true, "with": true,
	"you": true, "your": true,
}

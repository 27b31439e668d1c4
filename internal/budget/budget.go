// Package budget estimates token counts for embedding inputs and trims
// documents that would exceed a provider's input limit. Because the supported
// embedding backends use different tokenizers, it relies on a conservative
// character heuristic: 1 token is roughly 4 characters of English prose.
package budget

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// DefaultMaxDocumentTokens is the smallest input limit among the supported
	// embedding models (gemini-embedding-001 and Ollama's default context).
	// Override via search.Config.MaxDocumentTokens.
	DefaultMaxDocumentTokens = 2048
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// Truncate shortens s so that Estimate(s) <= maxTokens. The cut falls on the
// last word boundary before the limit when one exists, and never splits a
// UTF-8 sequence. It reports whether s was shortened. A maxTokens of zero or
// less disables truncation.
func Truncate(s string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || Estimate(s) <= maxTokens {
		return s, false
	}

	// len(s) exceeds limit here since Estimate(s) > maxTokens.
	limit := maxTokens*charsPerToken + charsPerToken - 1
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	cut := s[:limit]

	if i := strings.LastIndexFunc(cut, unicode.IsSpace); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRightFunc(cut, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	}), true
}

// Package search defines the shared tokenization policy for full-text
// queries. The same policy feeds the postgres tsquery used by chunk
// retrieval and the query_terms reported in ACB provenance; the two must
// never diverge or retrieval and provenance stop describing each other.
package search

import (
	"strings"
	"unicode"
)

// Terms tokenizes query text: lowercase, every non-word rune becomes a
// space, tokens of length <= 2 are dropped. Order is preserved and
// duplicates are kept.
func Terms(queryText string) []string {
	var b strings.Builder
	b.Grow(len(queryText))
	for _, r := range strings.ToLower(queryText) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) > 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// TSQuery builds a postgres to_tsquery expression from query text by
// AND-joining the tokens from Terms. Returns "" when no token survives,
// in which case callers skip the FTS predicate entirely.
func TSQuery(queryText string) string {
	return strings.Join(Terms(queryText), " & ")
}

package service

import (
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {}, "for": {}, "with": {}, "by": {},
	"in": {}, "on": {}, "at": {}, "from": {}, "as": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"been": {}, "it": {}, "this": {}, "that": {}, "these": {}, "those": {}, "we": {}, "our": {}, "you": {},
	"your": {}, "i": {}, "me": {}, "my": {}, "us": {}, "them": {}, "they": {}, "their": {}, "do": {},
	"does": {}, "did": {}, "what": {}, "how": {}, "why": {}, "when": {}, "where": {}, "which": {}, "can": {},
	"could": {}, "should": {}, "would": {}, "may": {}, "might": {}, "will": {}, "shall": {}, "who": {},
	"whom": {}, "not": {},
}

// stripOperators replaces quotes and search operator characters with spaces
// and collapses whitespace.
func stripOperators(query string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, query)
	return strings.Join(strings.Fields(cleaned), " ")
}

// sanitizeQuery strips operators and drops stopwords. When every token is a
// stopword the operator-stripped query is returned unchanged.
func sanitizeQuery(query string) string {
	stripped := stripOperators(query)
	var tokens []string
	for _, token := range strings.Fields(stripped) {
		if _, ok := stopwords[strings.ToLower(token)]; ok {
			continue
		}
		tokens = append(tokens, token)
	}
	if len(tokens) == 0 {
		return stripped
	}
	return strings.Join(tokens, " ")
}

// cleanTerms trims, drops empties and case-insensitive duplicates, and caps
// the list at max.
func cleanTerms(terms []string, max int) []string {
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" {
			continue
		}
		key := strings.ToLower(t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, t)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}

// makeExcerpt collapses whitespace and cuts to max runes.
func makeExcerpt(content string, max int) string {
	clean := strings.Join(strings.Fields(content), " ")
	return truncateRunes(clean, max)
}

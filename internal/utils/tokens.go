package utils

import (
	"regexp"
	"strings"
)

var (
	tokenPattern = regexp.MustCompile(`[a-z0-9]+`)
	stopwords    = map[string]struct{}{
		"a": {}, "about": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
		"be": {}, "can": {}, "could": {}, "do": {}, "does": {}, "for": {},
		"from": {}, "have": {}, "hello": {}, "hi": {}, "how": {}, "i": {},
		"im": {}, "in": {}, "is": {}, "it": {}, "know": {}, "me": {}, "my": {},
		"need": {}, "of": {}, "on": {}, "or": {}, "our": {}, "please": {},
		"regards": {}, "tell": {}, "thanks": {}, "that": {}, "the": {},
		"their": {}, "them": {}, "there": {}, "these": {}, "they": {},
		"this": {}, "those": {}, "to": {}, "want": {}, "was": {}, "we": {},
		"were": {}, "what": {}, "whats": {}, "when": {}, "where": {},
		"which": {}, "who": {}, "with": {}, "would": {}, "you": {}, "your": {},
	}
)

// ExtractMeaningfulTokens tokenizes text, removes stopwords, and
// deduplicates tokens while preserving order.
func ExtractMeaningfulTokens(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)

	seen := make(map[string]struct{}, len(raw))
	result := make([]string, 0, len(raw))
	for _, token := range raw {
		if len(token) == 1 && (token[0] < '0' || token[0] > '9') {
			continue
		}
		if _, isStopword := stopwords[token]; isStopword {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		result = append(result, token)
	}
	return result
}

// WordCount reports the number of whitespace-separated words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

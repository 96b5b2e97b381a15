package service

import (
	"sort"
	"strings"
	"unicode"
)

var tagStopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "had": {}, "her": {}, "was": {},
	"one": {}, "our": {}, "out": {}, "has": {}, "have": {}, "this": {},
	"that": {}, "with": {}, "from": {}, "they": {}, "will": {}, "been": {},
	"were": {}, "their": {}, "there": {}, "which": {}, "would": {},
	"about": {}, "could": {}, "other": {}, "these": {}, "some": {},
	"into": {}, "than": {}, "them": {}, "then": {}, "when": {}, "what": {},
	"your": {}, "just": {}, "like": {}, "also": {}, "more": {}, "very": {},
}

const maxDerivedTags = 5

// DeriveTags picks the most frequent meaningful words of an extraction as
// lightweight labels. Purely heuristic; ties break alphabetically so the
// result is deterministic.
func DeriveTags(text string) []string {
	counts := map[string]int{}
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len(word) <= 3 {
			continue
		}
		if _, skip := tagStopwords[word]; skip {
			continue
		}
		counts[word]++
	}

	words := make([]string, 0, len(counts))
	for word := range counts {
		words = append(words, word)
	}
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > maxDerivedTags {
		words = words[:maxDerivedTags]
	}
	return words
}

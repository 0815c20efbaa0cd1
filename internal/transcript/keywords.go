package transcript

import (
	"strings"
)

// stopWords are excluded from chunk keywords. The identical set and token
// policy run on the query side so keyword matching is symmetric.
var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "but": {}, "not": {},
	"you": {}, "all": {}, "can": {}, "her": {}, "was": {}, "one": {},
	"our": {}, "out": {}, "day": {}, "get": {}, "has": {}, "him": {},
	"his": {}, "how": {}, "its": {}, "new": {}, "now": {}, "old": {},
	"see": {}, "two": {}, "way": {}, "who": {}, "did": {}, "your": {},
	"from": {}, "they": {}, "this": {}, "that": {}, "have": {}, "been": {},
	"were": {}, "said": {}, "each": {}, "which": {}, "their": {},
	"will": {}, "about": {}, "would": {}, "there": {}, "could": {},
	"other": {}, "into": {}, "more": {}, "some": {}, "them": {},
	"then": {}, "than": {}, "these": {}, "just": {}, "like": {},
	"also": {}, "going": {}, "really": {}, "very": {}, "with": {},
	"what": {}, "when": {}, "where": {}, "because": {}, "think": {},
	"know": {}, "want": {}, "right": {}, "here": {}, "well": {},
	"thing": {}, "things": {}, "kind": {}, "actually": {}, "basically": {},
}

// queryStopWords extends the base set with interrogatives that carry no
// signal in a search query.
var queryStopWords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "who": {}, "why": {},
	"how": {}, "which": {}, "that": {}, "this": {},
}

// tokenize lowercases the text, replaces every non-alphanumeric rune with a
// space, and splits on whitespace.
func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	cleaned := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return ' '
	}, lowered)
	return strings.Fields(cleaned)
}

// ExtractKeywords produces up to max deduplicated keywords from the text,
// dropping tokens of length <= 3 and stop words.
func ExtractKeywords(text string, max int) []string {
	return extract(text, max, nil)
}

// ExtractQueryKeywords is the query-side variant: it additionally drops
// interrogatives so question phrasing does not pollute matching.
func ExtractQueryKeywords(query string, max int) []string {
	return extract(query, max, queryStopWords)
}

func extract(text string, max int, extraStop map[string]struct{}) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, tok := range tokenize(text) {
		if len(tok) <= 3 {
			continue
		}
		if _, stop := stopWords[tok]; stop {
			continue
		}
		if extraStop != nil {
			if _, stop := extraStop[tok]; stop {
				continue
			}
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) >= max {
			break
		}
	}
	return out
}

package enrich

import (
	"sort"
	"strings"
	"unicode"
)

// PlaceholderTopic is produced when the heuristic finds nothing usable, so
// every bill still carries at least one open-vocabulary candidate.
const PlaceholderTopic = "General Legislation"

const maxCandidateTopics = 7

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "act": {}, "amend": {}, "amending": {},
	"as": {}, "at": {}, "be": {}, "by": {}, "for": {}, "from": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "per": {}, "provide": {},
	"provides": {}, "providing": {}, "relating": {}, "relate": {}, "related": {},
	"shall": {}, "state": {}, "the": {}, "thereof": {}, "this": {}, "to": {},
	"under": {}, "upon": {}, "with": {}, "date": {}, "effective": {},
}

// genericTerms score lower because they appear in nearly every bill and
// make useless topic labels on their own.
var genericTerms = map[string]struct{}{
	"bill": {}, "law": {}, "laws": {}, "legislature": {}, "section": {},
	"wyoming": {}, "county": {}, "commission": {}, "department": {},
	"program": {}, "funds": {}, "funding": {}, "general": {},
}

// CandidateTopics derives open-vocabulary topic labels from bill text by
// counting adjacent word pairs. It is deterministic and model-free, used to
// seed the open vocabulary before any AI pass runs.
func CandidateTopics(text string) []string {
	words := tokenize(text)

	counts := map[string]int{}
	for i := 0; i+1 < len(words); i++ {
		a, b := words[i], words[i+1]
		if _, stop := stopwords[a]; stop {
			continue
		}
		if _, stop := stopwords[b]; stop {
			continue
		}
		counts[a+" "+b]++
	}

	type scored struct {
		bigram string
		score  int
	}
	ranked := make([]scored, 0, len(counts))
	for bigram, n := range counts {
		score := n * 2
		for _, w := range strings.Fields(bigram) {
			if _, generic := genericTerms[w]; generic {
				score--
			}
		}
		// Generic pairs rank last but stay in. A bill titled "funding
		// bill" still deserves a real candidate, not the placeholder.
		if score < 1 {
			score = 1
		}
		ranked = append(ranked, scored{bigram, score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].bigram < ranked[j].bigram
	})

	out := make([]string, 0, maxCandidateTopics)
	for _, r := range ranked {
		out = append(out, titleCase(r.bigram))
		if len(out) == maxCandidateTopics {
			break
		}
	}
	if len(out) == 0 {
		out = singleTermCandidates(words)
	}
	if len(out) == 0 {
		return []string{PlaceholderTopic}
	}
	return out
}

// singleTermCandidates falls back to the most frequent standalone words
// when no adjacent pair survived, so text with any substantive word at all
// avoids the placeholder.
func singleTermCandidates(words []string) []string {
	counts := map[string]int{}
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		counts[w]++
	}

	type scored struct {
		word  string
		count int
	}
	ranked := make([]scored, 0, len(counts))
	for w, n := range counts {
		ranked = append(ranked, scored{w, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].word < ranked[j].word
	})

	out := make([]string, 0, maxCandidateTopics)
	for _, r := range ranked {
		out = append(out, titleCase(r.word))
		if len(out) == maxCandidateTopics {
			break
		}
	}
	return out
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		words = append(words, f)
	}
	return words
}

func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		fields[i] = strings.ToUpper(f[:1]) + f[1:]
	}
	return strings.Join(fields, " ")
}

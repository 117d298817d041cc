package review

import (
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "can": true, "could": true, "for": true, "from": true,
	"has": true, "have": true, "in": true, "is": true, "it": true, "its": true,
	"may": true, "no": true, "not": true, "of": true, "on": true, "or": true,
	"should": true, "that": true, "the": true, "this": true, "to": true,
	"was": true, "which": true, "with": true, "without": true, "when": true,
}

// tokenize lowercases s, splits it into words, drops stop words and
// reduces each word to a rough stem.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || stopWords[f] {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

// stem strips common English suffixes so "validated" and "validating" meet
// at "validat".
func stem(w string) string {
	for _, suffix := range []string{"ations", "ation", "ings", "ing", "ies", "ed", "es", "ly", "s"} {
		if strings.HasSuffix(w, suffix) && len(w)-len(suffix) >= 3 {
			return strings.TrimSuffix(w, suffix)
		}
	}
	return w
}

// Similarity scores how alike two issue descriptions are, from 0 to 1. It is
// the larger of the token Jaccard index and the containment of the smaller
// token set in the larger one, so a terse finding still matches a verbose
// restatement of it.
func Similarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	jaccard := float64(inter) / float64(union)

	smaller := len(setA)
	if len(setB) < smaller {
		smaller = len(setB)
	}
	containment := float64(inter) / float64(smaller)

	if containment > jaccard {
		return containment
	}
	return jaccard
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenize(s) {
		set[t] = true
	}
	return set
}

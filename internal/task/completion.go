package task

import (
	"regexp"
	"strings"
)

var promiseRegex = regexp.MustCompile(`(?is)<promise>\s*(.*?)\s*</promise>`)

// CompletionDetector decides whether a round's output declares the current
// phase complete. Matching is case-insensitive and ignores runs of whitespace.
type CompletionDetector struct {
	phrases  []string
	promises []string
}

// NewCompletionDetector builds a detector for the given phrases. A phrase of
// the form <promise>X</promise> matches any promise tag whose text is X.
func NewCompletionDetector(phrases []string) *CompletionDetector {
	d := &CompletionDetector{}
	for _, p := range phrases {
		if m := promiseRegex.FindStringSubmatch(p); m != nil {
			d.promises = append(d.promises, strings.ToLower(normalizeSpace(m[1])))
			continue
		}
		if n := normalizeSpace(p); n != "" {
			d.phrases = append(d.phrases, strings.ToLower(n))
		}
	}
	return d
}

// Detect reports whether content contains any completion phrase.
func (d *CompletionDetector) Detect(content string) bool {
	if d == nil || content == "" {
		return false
	}
	if len(d.promises) > 0 {
		for _, m := range promiseRegex.FindAllStringSubmatch(content, -1) {
			got := strings.ToLower(normalizeSpace(m[1]))
			for _, want := range d.promises {
				if got == want {
					return true
				}
			}
		}
	}
	lower := strings.ToLower(normalizeSpace(content))
	for _, p := range d.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

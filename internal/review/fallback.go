package review

import (
	"regexp"
	"strings"

	"github.com/spf13/cast"
)

var (
	categoryLineRegex = regexp.MustCompile(`(?im)^[\s*\-#>|]*\**\s*(code[ _]quality|quality|correctness|performance|security|best[ _-]?practices|documentation)\s*(?:score)?\s*\**\s*[:|\-]\s*\**\s*(\d+(?:\.\d+)?)\s*/\s*10`)
	overallRegex      = regexp.MustCompile(`(?i)overall(?:[ _]score)?\s*\**\s*[:\-]?\s*\**\s*(\d+(?:\.\d+)?)\s*/\s*10`)
	anyScoreRegex     = regexp.MustCompile(`(?i)score[:\s*]+(\d+(?:\.\d+)?)\s*/\s*10`)
	severityLineRegex = regexp.MustCompile(`(?im)^[\s>]*(?:[-*•]|\d+[.)])?\s*\**\[?(critical|high|medium|low)\]?\**(?:\s+(?:severity|priority))?\s*\**\s*(?::|[-–]\s)\s*(.+)$`)
	fileLineRegex     = regexp.MustCompile("(?i)`?([\\w./\\\\-]+\\.[A-Za-z][A-Za-z0-9]{0,5})`?\\s*(?::|,?\\s+line\\s+)(\\d+)(?:\\s*[-–]\\s*(\\d+))?")
	backtickFileRegex = regexp.MustCompile("`([\\w./\\\\-]+\\.[A-Za-z][A-Za-z0-9]{0,5})`")
)

// parseFallback recovers scores and severity-tagged issues from free text.
// It reports false when nothing could be recovered.
func parseFallback(raw string) (*Report, bool) {
	rep := &Report{}

	for _, m := range categoryLineRegex.FindAllStringSubmatch(raw, -1) {
		cat, ok := ParseCategory(m[1])
		if !ok {
			continue
		}
		if s, ok := parseScore(m[2]); ok {
			if rep.Scores == nil {
				rep.Scores = make(map[Category]float64)
			}
			rep.Scores[cat] = s
		}
	}

	if m := overallRegex.FindStringSubmatch(raw); m != nil {
		if s, ok := parseScore(m[1]); ok {
			rep.Overall = &s
		}
	}
	if rep.Overall == nil && len(rep.Scores) == 0 {
		var sum float64
		n := 0
		for _, m := range anyScoreRegex.FindAllStringSubmatch(raw, -1) {
			if s, ok := parseScore(m[1]); ok {
				sum += s
				n++
			}
		}
		if n > 0 {
			mean := sum / float64(n)
			rep.Overall = &mean
		}
	}

	seen := make(map[string]bool)
	for _, m := range severityLineRegex.FindAllStringSubmatch(raw, -1) {
		sev, _ := ParseSeverity(m[1])
		text := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[2]), "*"))
		if text == "" {
			continue
		}
		issue := Issue{Severity: sev, Description: text}
		if fm := fileLineRegex.FindStringSubmatch(text); fm != nil {
			issue.File = fm[1]
			issue.LineStart = cast.ToInt(fm[2])
			issue.LineEnd = issue.LineStart
			if fm[3] != "" {
				issue.LineEnd = cast.ToInt(fm[3])
			}
		} else if fm := backtickFileRegex.FindStringSubmatch(text); fm != nil {
			issue.File = fm[1]
		}
		if issue.LineEnd < issue.LineStart {
			issue.LineEnd = issue.LineStart
		}
		key := issueKey(issue)
		if seen[key] {
			continue
		}
		seen[key] = true
		rep.Issues = append(rep.Issues, issue)
	}

	return rep, rep.HasData() || len(rep.Issues) > 0
}

package review

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cast"
)

// reportValidate checks decoded issues and scores before they enter a report.
var reportValidate = validator.New()

var (
	fencedJSONRegex = regexp.MustCompile("(?s)```(?:json|JSON)?[ \t]*\r?\n(\\{.*?\\})\\s*```")
	scoreTextRegex  = regexp.MustCompile(`(-?\d+(?:\.\d+)?)\s*(?:/\s*(\d+(?:\.\d+)?))?`)
	lineRangeRegex  = regexp.MustCompile(`(\d+)(?:\s*[-–:]\s*(\d+))?`)
)

// rawReport is the loose shape reviewers are asked to answer in. Every field
// is optional and tolerates the usual type drift.
type rawReport struct {
	OverallScore   any            `json:"overall_score"`
	Score          any            `json:"score"`
	AverageScore   any            `json:"average_score"`
	Scores         map[string]any `json:"scores"`
	Files          []any          `json:"files"`
	CriticalIssues []any          `json:"critical_issues"`
	TopIssues      []any          `json:"top_issues"`
	Issues         []any          `json:"issues"`
	Summary        any            `json:"summary"`
}

type rawFile struct {
	Path   string `json:"path"`
	File   string `json:"file"`
	Score  any    `json:"score"`
	Issues []any  `json:"issues"`
}

type rawIssue struct {
	File           string `json:"file"`
	Path           string `json:"path"`
	Filename       string `json:"filename"`
	Line           any    `json:"line"`
	Lines          any    `json:"lines"`
	LineStart      any    `json:"line_start"`
	LineEnd        any    `json:"line_end"`
	Severity       string `json:"severity"`
	Priority       string `json:"priority"`
	Description    string `json:"description"`
	Issue          string `json:"issue"`
	Message        string `json:"message"`
	Title          string `json:"title"`
	Suggestion     string `json:"suggestion"`
	Recommendation string `json:"recommendation"`
	Fix            string `json:"fix"`
}

// Parse turns a reviewer response into a report. The structured parser is
// tried first, then the free-text extractor; when neither recovers anything
// the report is returned with ParseEmpty. Parse never fails.
func Parse(reviewer, raw string) *Report {
	text := withoutResponseShape(raw)
	if rep, ok := parseStructured(text); ok {
		rep.Reviewer = reviewer
		rep.Raw = raw
		rep.ParseStatus = ParseStructured
		return rep
	}
	if rep, ok := parseFallback(text); ok {
		rep.Reviewer = reviewer
		rep.Raw = raw
		rep.ParseStatus = ParseFallback
		return rep
	}
	return &Report{Reviewer: reviewer, Raw: raw, ParseStatus: ParseEmpty}
}

// withoutResponseShape removes copies of the example answer from raw, so a
// reviewer that echoes its instructions is not scored on the example.
func withoutResponseShape(raw string) string {
	return strings.ReplaceAll(strings.ReplaceAll(raw, "\r\n", "\n"), responseShape, "")
}

// extractJSON returns candidate JSON documents in the order they should be
// tried: fenced blocks first, then the outermost brace span.
func extractJSON(raw string) []string {
	var candidates []string
	for _, m := range fencedJSONRegex.FindAllStringSubmatch(raw, -1) {
		candidates = append(candidates, m[1])
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		candidates = append(candidates, raw[start:end+1])
	}
	return candidates
}

func parseStructured(raw string) (*Report, bool) {
	for _, candidate := range extractJSON(raw) {
		var doc map[string]any
		if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
			continue
		}
		var rr rawReport
		if err := weakDecode(doc, &rr); err != nil {
			continue
		}
		rep := buildReport(rr)
		if rep.HasData() || len(rep.Issues) > 0 {
			return rep, true
		}
	}
	return nil, false
}

func weakDecode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func buildReport(rr rawReport) *Report {
	rep := &Report{Summary: strings.TrimSpace(cast.ToString(rr.Summary))}

	for key, v := range rr.Scores {
		cat, ok := ParseCategory(key)
		if !ok {
			continue
		}
		if s, ok := parseScore(v); ok {
			if rep.Scores == nil {
				rep.Scores = make(map[Category]float64)
			}
			rep.Scores[cat] = s
		}
	}

	for _, v := range []any{rr.OverallScore, rr.Score, rr.AverageScore} {
		if s, ok := parseScore(v); ok {
			rep.Overall = &s
			break
		}
	}

	seen := make(map[string]bool)
	add := func(items []any, fileHint string) {
		for _, item := range items {
			issue, ok := decodeIssue(item, fileHint)
			if !ok {
				continue
			}
			key := issueKey(issue)
			if seen[key] {
				continue
			}
			seen[key] = true
			rep.Issues = append(rep.Issues, issue)
		}
	}

	var fileScores []float64
	for _, item := range rr.Files {
		var f rawFile
		if err := weakDecode(item, &f); err != nil {
			continue
		}
		path := firstNonEmpty(f.Path, f.File)
		if s, ok := parseScore(f.Score); ok {
			fileScores = append(fileScores, s)
		}
		add(f.Issues, path)
	}
	add(rr.CriticalIssues, "")
	add(rr.TopIssues, "")
	add(rr.Issues, "")

	if rep.Overall == nil && len(rep.Scores) == 0 && len(fileScores) > 0 {
		var sum float64
		for _, s := range fileScores {
			sum += s
		}
		mean := sum / float64(len(fileScores))
		rep.Overall = &mean
	}
	return rep
}

func decodeIssue(item any, fileHint string) (Issue, bool) {
	var ri rawIssue
	if s, ok := item.(string); ok {
		ri.Description = s
	} else if err := weakDecode(item, &ri); err != nil {
		return Issue{}, false
	}

	sev, ok := ParseSeverity(firstNonEmpty(ri.Severity, ri.Priority))
	if !ok {
		sev = SeverityMedium
	}
	issue := Issue{
		File:        strings.TrimSpace(firstNonEmpty(ri.File, ri.Path, ri.Filename, fileHint)),
		Severity:    sev,
		Description: strings.TrimSpace(firstNonEmpty(ri.Description, ri.Issue, ri.Message, ri.Title)),
		Suggestion:  strings.TrimSpace(firstNonEmpty(ri.Suggestion, ri.Recommendation, ri.Fix)),
	}

	start, end := parseLines(ri.LineStart)
	if start == 0 {
		start, end = parseLines(ri.Line)
	}
	if start == 0 {
		start, end = parseLines(ri.Lines)
	}
	if e, _ := parseLines(ri.LineEnd); e > 0 {
		end = e
	}
	issue.LineStart, issue.LineEnd = start, end
	if issue.LineEnd < issue.LineStart {
		issue.LineEnd = issue.LineStart
	}

	if err := reportValidate.Struct(issue); err != nil {
		return Issue{}, false
	}
	return issue, true
}

// parseScore reads a 0-10 score from a number or strings such as "7.5",
// "7.5/10" or "85/100".
func parseScore(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	var score float64
	if s, ok := v.(string); ok {
		m := scoreTextRegex.FindStringSubmatch(s)
		if m == nil {
			return 0, false
		}
		score = cast.ToFloat64(m[1])
		if m[2] != "" {
			if denom := cast.ToFloat64(m[2]); denom > 0 && denom != 10 {
				score = score * 10 / denom
			}
		}
	} else {
		f, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, false
		}
		score = f
	}
	if err := reportValidate.Var(score, "gte=0,lte=10"); err != nil {
		return 0, false
	}
	return score, true
}

// parseLines reads a line or line range from a number, a string such as
// "12-18", or a two-element list.
func parseLines(v any) (start, end int) {
	switch t := v.(type) {
	case nil:
		return 0, 0
	case string:
		m := lineRangeRegex.FindStringSubmatch(t)
		if m == nil {
			return 0, 0
		}
		start = cast.ToInt(m[1])
		end = start
		if m[2] != "" {
			end = cast.ToInt(m[2])
		}
	case []any:
		if len(t) == 0 {
			return 0, 0
		}
		start, _ = parseLines(t[0])
		end, _ = parseLines(t[len(t)-1])
	default:
		n, err := cast.ToIntE(t)
		if err != nil {
			return 0, 0
		}
		start, end = n, n
	}
	if start < 0 {
		return 0, 0
	}
	if end < start {
		end = start
	}
	return start, end
}

func issueKey(i Issue) string {
	return i.File + "|" + cast.ToString(i.LineStart) + "|" + strings.Join(tokenize(i.Description), " ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

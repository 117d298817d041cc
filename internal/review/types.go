// Package review runs two independent reviewers over an artifact set,
// parses their responses into structured reports and reconciles the
// findings into a consensus issue list.
package review

import (
	"sort"
	"strconv"
	"strings"

	"github.com/Iron-Ham/crossfix/internal/artifact"
)

// Severity is the severity level of an issue
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// String returns the string representation of the severity
func (s Severity) String() string {
	return string(s)
}

// IsValid returns true if the severity is a recognized value
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Weight returns a numeric weight for sorting/prioritizing issues
// Higher weight = more severe
func (s Severity) Weight() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ParseSeverity normalizes the severity spellings reviewers use. Unknown
// values report false.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical", "blocker", "severe":
		return SeverityCritical, true
	case "high", "major", "error":
		return SeverityHigh, true
	case "medium", "moderate", "warning":
		return SeverityMedium, true
	case "low", "minor", "info", "suggestion", "nit", "style":
		return SeverityLow, true
	}
	return "", false
}

// maxSeverity returns the more severe of a and b
func maxSeverity(a, b Severity) Severity {
	if b.Weight() > a.Weight() {
		return b
	}
	return a
}

// Category is a scored review dimension
type Category string

const (
	CategoryQuality       Category = "quality"
	CategoryCorrectness   Category = "correctness"
	CategoryPerformance   Category = "performance"
	CategorySecurity      Category = "security"
	CategoryBestPractices Category = "best_practices"
	CategoryDocumentation Category = "documentation"
)

// AllCategories returns the scored categories in report order
func AllCategories() []Category {
	return []Category{
		CategoryQuality,
		CategoryCorrectness,
		CategoryPerformance,
		CategorySecurity,
		CategoryBestPractices,
		CategoryDocumentation,
	}
}

// Weight returns the category's share of the weighted score
func (c Category) Weight() float64 {
	switch c {
	case CategoryQuality, CategoryCorrectness:
		return 0.25
	case CategorySecurity, CategoryBestPractices:
		return 0.15
	case CategoryPerformance, CategoryDocumentation:
		return 0.10
	default:
		return 0
	}
}

// ParseCategory maps a score key such as "code_quality" or "Best Practices"
// onto a category.
func ParseCategory(s string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)
	switch key {
	case "quality", "code_quality", "overall_quality", "readability", "maintainability":
		return CategoryQuality, true
	case "correctness", "bugs", "logic":
		return CategoryCorrectness, true
	case "performance", "efficiency":
		return CategoryPerformance, true
	case "security":
		return CategorySecurity, true
	case "best_practices", "bestpractices", "style":
		return CategoryBestPractices, true
	case "documentation", "docs", "comments":
		return CategoryDocumentation, true
	}
	return "", false
}

// Issue is a single finding reported by a reviewer
type Issue struct {
	File        string   `json:"file,omitempty"`
	LineStart   int      `json:"line_start,omitempty" validate:"gte=0"`
	LineEnd     int      `json:"line_end,omitempty" validate:"gte=0"`
	Severity    Severity `json:"severity" validate:"required,oneof=critical high medium low"`
	Description string   `json:"description" validate:"required"`
	Suggestion  string   `json:"suggestion,omitempty"`
	// Sources lists the reviewers that reported the issue
	Sources []string `json:"sources,omitempty"`
}

// HasLine reports whether the issue points at a line
func (i Issue) HasLine() bool {
	return i.LineStart > 0
}

// Lines returns the issue's line range; end is never before start
func (i Issue) Lines() (start, end int) {
	start, end = i.LineStart, i.LineEnd
	if end < start {
		end = start
	}
	return start, end
}

// Location formats file and line range for display
func (i Issue) Location() string {
	if i.File == "" {
		return "(unspecified)"
	}
	if !i.HasLine() {
		return i.File
	}
	start, end := i.Lines()
	if end > start {
		return i.File + ":" + strconv.Itoa(start) + "-" + strconv.Itoa(end)
	}
	return i.File + ":" + strconv.Itoa(start)
}

// ParseStatus records how a reviewer response was understood
type ParseStatus string

const (
	// ParseStructured means the response contained a decodable JSON report
	ParseStructured ParseStatus = "structured"
	// ParseFallback means data was recovered from free text
	ParseFallback ParseStatus = "fallback"
	// ParseEmpty means nothing usable was recovered
	ParseEmpty ParseStatus = "empty"
)

// Report is one reviewer's parsed response
type Report struct {
	Reviewer string               `json:"reviewer"`
	Scores   map[Category]float64 `json:"scores,omitempty"`
	// Overall is the reviewer's own overall score, if it gave one
	Overall     *float64    `json:"overall,omitempty"`
	Issues      []Issue     `json:"issues,omitempty"`
	Summary     string      `json:"summary,omitempty"`
	ParseStatus ParseStatus `json:"parse_status"`
	// Raw is the unparsed response
	Raw string `json:"-"`
}

// HasData reports whether the report carries any score
func (r *Report) HasData() bool {
	return r != nil && (r.Overall != nil || len(r.Scores) > 0)
}

// Score returns the report's quality score: the explicit overall score when
// present, else the weighted mean of the categories that were scored. ok is
// false when the report has no score at all.
func (r *Report) Score() (score float64, ok bool) {
	if r == nil {
		return 0, false
	}
	if r.Overall != nil {
		return *r.Overall, true
	}
	var sum, weights float64
	for cat, v := range r.Scores {
		w := cat.Weight()
		sum += v * w
		weights += w
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

// Aggregate returns the mean score over the reports that have one. Reports
// without data are skipped rather than counted as zero.
func Aggregate(reports ...*Report) (float64, bool) {
	var sum float64
	n := 0
	for _, r := range reports {
		if s, ok := r.Score(); ok {
			sum += s
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// ConsensusIssue is an issue confirmed by both reviewers, or carried from the
// only available reviewer in single-source mode
type ConsensusIssue struct {
	Issue
	// Descriptions holds each reviewer's distinct wording
	Descriptions []string `json:"descriptions,omitempty"`
	// Agreement is the match strength between the two findings (0-1);
	// single-source issues carry 0
	Agreement float64 `json:"agreement"`
}

// SortConsensus orders issues by severity, then agreement, then location
func SortConsensus(issues []ConsensusIssue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Severity.Weight() != b.Severity.Weight() {
			return a.Severity.Weight() > b.Severity.Weight()
		}
		if a.Agreement != b.Agreement {
			return a.Agreement > b.Agreement
		}
		if a.File != b.File {
			return a.File < b.File
		}
		return a.LineStart < b.LineStart
	})
}

// Result is the outcome of one cross-review pass
type Result struct {
	Iteration int `json:"iteration"`
	// Reports holds the parsed report of each available reviewer, keyed by
	// reviewer name
	Reports   map[string]*Report `json:"reports"`
	Consensus []ConsensusIssue   `json:"consensus"`
	// SingleSource is set when only one reviewer produced a report
	SingleSource bool `json:"single_source"`
	// Unavailable lists reviewers that could not be reached
	Unavailable  []string `json:"unavailable,omitempty"`
	Aggregate    float64  `json:"aggregate_score"`
	HasAggregate bool     `json:"has_aggregate"`
	// Artifacts is the set that was reviewed
	Artifacts artifact.Set `json:"-"`
}

// Scores returns the score of every reviewer that has one
func (r *Result) Scores() map[string]float64 {
	out := make(map[string]float64)
	if r == nil {
		return out
	}
	for name, rep := range r.Reports {
		if s, ok := rep.Score(); ok {
			out[name] = s
		}
	}
	return out
}

// Score returns the aggregate score
func (r *Result) Score() (float64, bool) {
	if r == nil {
		return 0, false
	}
	return r.Aggregate, r.HasAggregate
}

// Top returns at most n consensus issues in order
func (r *Result) Top(n int) []ConsensusIssue {
	if r == nil || n <= 0 {
		return nil
	}
	if n > len(r.Consensus) {
		n = len(r.Consensus)
	}
	return append([]ConsensusIssue(nil), r.Consensus[:n]...)
}

package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Iron-Ham/crossfix/internal/artifact"
)

const structuredResponse = "Here is my review.\n\n```json\n" + `{
  "overall_score": "7.5/10",
  "scores": {"code_quality": 8, "security": "6", "vibes": 9},
  "files": [
    {"path": "api.py", "score": 7, "issues": [
      {"severity": "HIGH", "line": "12", "description": "Missing input validation for user_id", "recommendation": "Validate it"}
    ]}
  ],
  "critical_issues": [
    {"file": "api.py", "line": 12, "issue": "Missing input validation for user_id", "severity": "high"},
    "Hard-coded credentials"
  ],
  "summary": "Decent."
}` + "\n```\nThanks."

func TestParse_Structured(t *testing.T) {
	rep := Parse("gemini", structuredResponse)

	assert.Equal(t, ParseStructured, rep.ParseStatus)
	assert.Equal(t, "gemini", rep.Reviewer)
	assert.Equal(t, structuredResponse, rep.Raw)
	require.NotNil(t, rep.Overall)
	assert.InDelta(t, 7.5, *rep.Overall, 1e-9)
	assert.Equal(t, map[Category]float64{CategoryQuality: 8, CategorySecurity: 6}, rep.Scores)
	assert.Equal(t, "Decent.", rep.Summary)

	require.Len(t, rep.Issues, 2)
	first := rep.Issues[0]
	assert.Equal(t, "api.py", first.File)
	assert.Equal(t, 12, first.LineStart)
	assert.Equal(t, 12, first.LineEnd)
	assert.Equal(t, SeverityHigh, first.Severity)
	assert.Equal(t, "Validate it", first.Suggestion)

	second := rep.Issues[1]
	assert.Equal(t, "Hard-coded credentials", second.Description)
	assert.Equal(t, SeverityMedium, second.Severity)
	assert.Empty(t, second.File)
}

func TestParse_UnfencedJSON(t *testing.T) {
	raw := `Review: {"scores": {"correctness": 9, "documentation": 5}, "issues": [{"severity": "low", "file": "a.py", "line_start": 3, "line_end": 7, "description": "No docstring"}]} done`
	rep := Parse("codex", raw)

	assert.Equal(t, ParseStructured, rep.ParseStatus)
	assert.Nil(t, rep.Overall)
	require.Len(t, rep.Issues, 1)
	assert.Equal(t, 3, rep.Issues[0].LineStart)
	assert.Equal(t, 7, rep.Issues[0].LineEnd)

	score, ok := rep.Score()
	require.True(t, ok)
	assert.InDelta(t, (9*0.25+5*0.10)/0.35, score, 1e-9)
}

func TestParse_FileScoresAverageWhenNoOverall(t *testing.T) {
	raw := `{"files": [{"path": "a.py", "score": 6}, {"path": "b.py", "score": "8/10"}]}`
	rep := Parse("codex", raw)

	require.NotNil(t, rep.Overall)
	assert.InDelta(t, 7.0, *rep.Overall, 1e-9)
}

func TestParse_Fallback(t *testing.T) {
	raw := `The code is reasonable overall.

Overall Score: 6.5/10
Security: 5/10
**Code Quality**: 7/10

Issues:
- **HIGH**: SQL injection in ` + "`db.py:42`" + `
- LOW - Missing docstring in utils.py
- High-level structure is fine
`
	rep := Parse("gemini", raw)

	assert.Equal(t, ParseFallback, rep.ParseStatus)
	require.NotNil(t, rep.Overall)
	assert.InDelta(t, 6.5, *rep.Overall, 1e-9)
	assert.Equal(t, map[Category]float64{CategorySecurity: 5, CategoryQuality: 7}, rep.Scores)

	require.Len(t, rep.Issues, 2)
	assert.Equal(t, SeverityHigh, rep.Issues[0].Severity)
	assert.Equal(t, "db.py", rep.Issues[0].File)
	assert.Equal(t, 42, rep.Issues[0].LineStart)
	assert.Equal(t, SeverityLow, rep.Issues[1].Severity)
	assert.Equal(t, "Missing docstring in utils.py", rep.Issues[1].Description)
}

func TestParse_FallbackAfterEmptyJSON(t *testing.T) {
	rep := Parse("gemini", "{}\nThe first module gets score: 7/10 and the second score: 9/10")

	assert.Equal(t, ParseFallback, rep.ParseStatus)
	require.NotNil(t, rep.Overall)
	assert.InDelta(t, 8.0, *rep.Overall, 1e-9)
}

func TestParse_Empty(t *testing.T) {
	rep := Parse("codex", "I could not review these files.")

	assert.Equal(t, ParseEmpty, rep.ParseStatus)
	assert.False(t, rep.HasData())
	assert.Empty(t, rep.Issues)
	_, ok := rep.Score()
	assert.False(t, ok)
}

func TestParse_EchoedPromptIsNotAReview(t *testing.T) {
	set := artifact.Set{Root: "/gen", Files: []string{"app.py"}}

	rep := Parse("codex", "user instructions:\n"+BuildPrompt(set)+"\nERROR: quota exceeded")
	assert.Equal(t, ParseEmpty, rep.ParseStatus)
	assert.False(t, rep.HasData())
	assert.Empty(t, rep.Issues)

	// a terminal echo arrives with CRLF line endings
	echoed := strings.ReplaceAll("user instructions:\n"+BuildPrompt(set), "\n", "\r\n")
	rep = Parse("codex", echoed+`{"overall_score": 6.5, "issues": []}`)
	assert.Equal(t, ParseStructured, rep.ParseStatus)
	require.NotNil(t, rep.Overall)
	assert.InDelta(t, 6.5, *rep.Overall, 1e-9)
	assert.Empty(t, rep.Issues)
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		in     any
		want   float64
		wantOK bool
	}{
		{7.5, 7.5, true},
		{"7.5", 7.5, true},
		{"7.5/10", 7.5, true},
		{"85/100", 8.5, true},
		{8, 8, true},
		{11, 0, false},
		{-1, 0, false},
		{"N/A", 0, false},
		{nil, 0, false},
	}
	for _, tt := range tests {
		got, ok := parseScore(tt.in)
		assert.Equal(t, tt.wantOK, ok, "%v", tt.in)
		if tt.wantOK {
			assert.InDelta(t, tt.want, got, 1e-9, "%v", tt.in)
		}
	}
}

func TestParseLines(t *testing.T) {
	tests := []struct {
		in         any
		start, end int
	}{
		{float64(12), 12, 12},
		{"12", 12, 12},
		{"12-18", 12, 18},
		{"L40", 40, 40},
		{[]any{float64(3), float64(9)}, 3, 9},
		{"18-12", 18, 18},
		{nil, 0, 0},
		{"none", 0, 0},
	}
	for _, tt := range tests {
		start, end := parseLines(tt.in)
		assert.Equal(t, tt.start, start, "%v", tt.in)
		assert.Equal(t, tt.end, end, "%v", tt.in)
	}
}

func TestAggregate_SkipsReportsWithoutData(t *testing.T) {
	seven := 7.0
	withData := &Report{Overall: &seven}
	empty := &Report{ParseStatus: ParseEmpty}

	score, ok := Aggregate(withData, empty, nil)
	require.True(t, ok)
	assert.InDelta(t, 7.0, score, 1e-9)

	_, ok = Aggregate(empty)
	assert.False(t, ok)
}

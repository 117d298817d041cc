package review

import (
	"fmt"
	"strings"

	"github.com/Iron-Ham/crossfix/internal/artifact"
)

const responseShape = `{
  "overall_score": 7.2,
  "scores": {
    "quality": 7, "correctness": 8, "performance": 7,
    "security": 6, "best_practices": 7, "documentation": 6
  },
  "files": [
    {
      "path": "relative/path.py",
      "score": 7.5,
      "issues": [
        {"severity": "high", "line_start": 10, "line_end": 14, "description": "...", "suggestion": "..."}
      ]
    }
  ],
  "critical_issues": [
    {"file": "relative/path.py", "line_start": 10, "severity": "high", "description": "..."}
  ],
  "summary": "..."
}`

// BuildPrompt returns the review request sent to every reviewer for set.
func BuildPrompt(set artifact.Set) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Review the %d file(s) under %s comprehensively.\n\n", set.Len(), set.Root)
	sb.WriteString("Files:\n")
	for _, f := range set.Files {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	sb.WriteString(`
Score each category from 0 to 10: quality, correctness, performance, security,
best_practices, documentation. Report every issue with its severity
(critical, high, medium, low), the file path relative to the directory above
and the affected line range.

Answer with a single JSON object in a ` + "```json" + ` block using this structure:
`)
	sb.WriteString(responseShape)
	sb.WriteString("\n")
	return sb.String()
}

package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/crossfix/internal/review"
)

// SummaryMarkdown renders the summary and the records as Markdown.
func SummaryMarkdown(s Summary, records []IterationRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Run %s\n\n", s.RunID)
	fmt.Fprintf(&sb, "- Started: %s\n", s.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- Duration: %s\n", s.Duration.Round(time.Second))
	fmt.Fprintf(&sb, "- Backend switches: %d\n", s.SwitchCount)

	writeLoop(&sb, "Implementation", s.Implementation)
	writeLoop(&sb, "Improvement", s.Improvement)

	impl := filter(records, LoopImplementation)
	if len(impl) > 0 {
		sb.WriteString("\n## Implementation rounds\n\n")
		sb.WriteString("| # | Phase | Task | Backend | Writes | Elapsed | Stop |\n")
		sb.WriteString("|---|---|---|---|---|---|---|\n")
		for _, r := range impl {
			fmt.Fprintf(&sb, "| %d | %s | %s | %s | %d | %s | %s |\n",
				r.Iteration, r.Phase, r.TaskType, r.Backend, r.WriteActions, r.Elapsed.Round(time.Second), r.TerminalReason)
		}
	}

	imp := filter(records, LoopImprovement)
	if len(imp) > 0 {
		sb.WriteString("\n## Improvement iterations\n\n")
		sb.WriteString("| # | Score | Reviewers | Consensus | Fix backend | Stop |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")
		for _, r := range imp {
			fmt.Fprintf(&sb, "| %d | %s | %s | %d | %s | %s |\n",
				r.Iteration, formatScore(r.AggregateScore, r.HasScore), formatScores(r.Scores),
				r.ConsensusCount, r.Backend, r.TerminalReason)
		}
	}
	return sb.String()
}

func writeLoop(sb *strings.Builder, title string, s LoopSummary) {
	if s.Iterations == 0 {
		return
	}
	fmt.Fprintf(sb, "\n## %s\n\n", title)
	fmt.Fprintf(sb, "- Iterations: %d\n", s.Iterations)
	if s.TerminalReason != "" {
		fmt.Fprintf(sb, "- Stopped: %s\n", s.TerminalReason)
	}
	fmt.Fprintf(sb, "- Write actions: %d\n", s.WriteActions)
	if len(s.Scores) > 0 {
		parts := make([]string, len(s.Scores))
		for i, v := range s.Scores {
			parts[i] = fmt.Sprintf("%.2f", v)
		}
		fmt.Fprintf(sb, "- Score progress: %s\n", strings.Join(parts, " -> "))
	}
	if d, ok := s.Improvement(); ok {
		fmt.Fprintf(sb, "- Total improvement: %+.2f\n", d)
	}
}

// ConsensusMarkdown renders one review pass as Markdown.
func ConsensusMarkdown(res *review.Result) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Cross-review, iteration %d\n\n", res.Iteration)
	fmt.Fprintf(&sb, "- Aggregate score: %s\n", formatScore(res.Aggregate, res.HasAggregate))
	if scores := res.Scores(); len(scores) > 0 {
		fmt.Fprintf(&sb, "- Reviewer scores: %s\n", formatScores(scores))
	}
	if len(res.Unavailable) > 0 {
		fmt.Fprintf(&sb, "- Unavailable: %s\n", strings.Join(res.Unavailable, ", "))
	}
	if res.SingleSource {
		sb.WriteString("- Single source: issues were not cross-checked\n")
	}

	if len(res.Consensus) == 0 {
		sb.WriteString("\nNo consensus issues.\n")
		return sb.String()
	}
	fmt.Fprintf(&sb, "\n## Consensus issues (%d)\n\n", len(res.Consensus))
	for i, ci := range res.Consensus {
		fmt.Fprintf(&sb, "%d. **%s** `%s` %s", i+1, ci.Severity, ci.Location(), ci.Description)
		if ci.Agreement > 0 {
			fmt.Fprintf(&sb, " (agreement %.2f)", ci.Agreement)
		}
		sb.WriteString("\n")
		if ci.Suggestion != "" {
			fmt.Fprintf(&sb, "   - Suggestion: %s\n", ci.Suggestion)
		}
	}
	return sb.String()
}

func filter(records []IterationRecord, loop Loop) []IterationRecord {
	var out []IterationRecord
	for _, r := range records {
		if r.Loop == loop {
			out = append(out, r)
		}
	}
	return out
}

func formatScore(v float64, ok bool) string {
	if !ok {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}

func formatScores(scores map[string]float64) string {
	if len(scores) == 0 {
		return "-"
	}
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s %.2f", name, scores[name])
	}
	return strings.Join(parts, ", ")
}

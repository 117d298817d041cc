// Package report renders a run report for the terminal.
package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Iron-Ham/crossfix/internal/engine"
	"github.com/Iron-Ham/crossfix/internal/review"
	"github.com/Iron-Ham/crossfix/internal/task"
	"github.com/Iron-Ham/crossfix/internal/util"
)

const labelWidth = 18

// DefaultWidth is used when Options.Width is not positive.
const DefaultWidth = 100

// Options controls rendering.
type Options struct {
	Styles Styles
	// Width caps the length of issue lines.
	Width int
	// MaxIssues limits the unresolved issues listed; 0 lists all.
	MaxIssues int
}

// Render writes the report to w.
func Render(w io.Writer, r *engine.Report, opts Options) error {
	_, err := io.WriteString(w, String(r, opts))
	return err
}

// String renders the report.
func String(r *engine.Report, opts Options) string {
	if opts.Width <= 0 {
		opts.Width = DefaultWidth
	}
	s := opts.Styles
	var sb strings.Builder

	sb.WriteString(s.Title.Render("crossfix run " + r.RunID))
	sb.WriteString("\n")

	row := func(label, value string) {
		sb.WriteString("  ")
		sb.WriteString(util.PadRight(s.Label.Render(label), labelWidth))
		sb.WriteString(value)
		sb.WriteString("\n")
	}

	if r.StopReason != "" {
		row("Implementation", fmt.Sprintf("%s after %s, %s",
			reasonStyle(s, r.StopReason.String()).Render(r.StopReason.String()),
			util.Plural(r.Iterations, "round"),
			util.Plural(r.TotalWrites, "write")))
	}
	if r.ImproveReason != "" {
		row("Improvement", fmt.Sprintf("%s after %s",
			reasonStyle(s, r.ImproveReason.String()).Render(r.ImproveReason.String()),
			util.Plural(r.ImproveSteps, "iteration")))
	}
	row("Score", scoreLine(s, r))
	if len(r.Scores) > 0 {
		row("Reviewers", reviewerLine(r.Scores))
	}
	if len(r.Unavailable) > 0 {
		row("Unavailable", s.Warning.Render(strings.Join(r.Unavailable, ", ")))
	}
	row("Backend switches", fmt.Sprintf("%d", r.SwitchCount))
	row("Elapsed", r.Elapsed.Round(time.Millisecond).String())
	if r.Dir != "" {
		row("History", r.Dir)
	}

	if len(r.StallEvidence) > 0 {
		sb.WriteString("\n")
		sb.WriteString(s.Bad.Render(fmt.Sprintf("Stalled: last %s without a write", util.Plural(len(r.StallEvidence), "round"))))
		sb.WriteString("\n")
		for i, actions := range r.StallEvidence {
			sb.WriteString(s.Muted.Render(fmt.Sprintf("  %d. %s", i+1, actionSummary(actions))))
			sb.WriteString("\n")
		}
	}

	if len(r.Unresolved) > 0 {
		issues := r.Unresolved
		if opts.MaxIssues > 0 && len(issues) > opts.MaxIssues {
			issues = issues[:opts.MaxIssues]
		}
		sb.WriteString("\n")
		title := fmt.Sprintf("Unresolved issues (%d)", len(r.Unresolved))
		if r.SingleSource {
			title += " " + s.Muted.Render("single reviewer")
		}
		sb.WriteString(s.Title.Render(title))
		sb.WriteString("\n")
		for i, issue := range issues {
			line := fmt.Sprintf("  %d. %s %s  %s", i+1,
				severityStyle(s, issue.Severity).Render("["+string(issue.Severity)+"]"),
				location(issue), util.FirstLine(issue.Description))
			sb.WriteString(util.TruncateANSI(line, opts.Width))
			sb.WriteString("\n")
		}
		if len(issues) < len(r.Unresolved) {
			sb.WriteString(s.Muted.Render(fmt.Sprintf("  ... and %d more", len(r.Unresolved)-len(issues))))
			sb.WriteString("\n")
		}
	}

	if len(r.Warnings) > 0 {
		sb.WriteString("\n")
		for _, w := range r.Warnings {
			sb.WriteString(s.Warning.Render("! " + w))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func scoreLine(s Styles, r *engine.Report) string {
	if !r.HasScore {
		return s.Muted.Render("no review data")
	}
	var parts []string
	for _, v := range r.ScoreProgress {
		parts = append(parts, fmt.Sprintf("%.2f", v))
	}
	if len(parts) == 0 {
		parts = []string{fmt.Sprintf("%.2f", r.FinalScore)}
	}
	line := strings.Join(parts, " -> ")
	if d, ok := r.Improvement(); ok && len(parts) > 1 {
		line += fmt.Sprintf(" (%+.2f)", d)
	}
	target := fmt.Sprintf("target %.2f", r.Target)
	if r.TargetReached() {
		return line + ", " + s.Good.Render(target+" reached")
	}
	return line + ", " + s.Warning.Render(target+" not reached")
}

func reviewerLine(scores map[string]float64) string {
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

func location(issue review.ConsensusIssue) string {
	if issue.File == "" {
		return "(general)"
	}
	if !issue.HasLine() {
		return issue.File
	}
	if issue.LineEnd > issue.LineStart {
		return fmt.Sprintf("%s:%d-%d", issue.File, issue.LineStart, issue.LineEnd)
	}
	return fmt.Sprintf("%s:%d", issue.File, issue.LineStart)
}

func actionSummary(actions []task.Action) string {
	if len(actions) == 0 {
		return "no actions"
	}
	parts := make([]string, 0, len(actions))
	for _, a := range actions {
		p := a.Tool
		if p == "" {
			p = string(a.Kind)
		}
		if a.Target != "" {
			p += " " + a.Target
		}
		parts = append(parts, p)
	}
	return strings.Join(parts, ", ")
}

func reasonStyle(s Styles, reason string) lipgloss.Style {
	switch reason {
	case "declared_complete", "schedule_exhausted", "target_reached":
		return s.Good
	case "stall_detected", "canceled", "time_limit_exceeded":
		return s.Bad
	default:
		return s.Warning
	}
}

func severityStyle(s Styles, sev review.Severity) lipgloss.Style {
	switch sev {
	case review.SeverityCritical, review.SeverityHigh:
		return s.Bad
	case review.SeverityMedium:
		return s.Warning
	default:
		return s.Muted
	}
}

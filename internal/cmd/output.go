package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Iron-Ham/crossfix/internal/engine"
	"github.com/Iron-Ham/crossfix/internal/report"
)

// reportOptions styles the report only when writing to a terminal, and fits
// issue lines to its width.
func reportOptions(w io.Writer, maxIssues int) report.Options {
	opts := report.Options{Styles: report.PlainStyles(), MaxIssues: maxIssues}
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return opts
	}
	if os.Getenv("NO_COLOR") == "" {
		opts.Styles = report.ColorStyles()
	}
	if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
		opts.Width = width
	}
	return opts
}

func printReport(cmd *cobra.Command, r *engine.Report, maxIssues int) error {
	out := cmd.OutOrStdout()
	return report.Render(out, r, reportOptions(out, maxIssues))
}

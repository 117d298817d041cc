package cmd

import (
	"github.com/spf13/cobra"
)

var reviewCmd = &cobra.Command{
	Use:   "review <dir>",
	Short: "Cross-review a directory once and print the consensus",
	Long: `Review asks both configured reviewers to score the files in <dir> and
prints the issues they agree on. Nothing is modified and no history is
written. When one reviewer is unavailable its partner's findings are listed
as single-source issues.`,
	Args: cobra.ExactArgs(1),
	RunE: runReview,
}

var reviewMaxIssues int

func init() {
	rootCmd.AddCommand(reviewCmd)
	reviewCmd.Flags().IntVar(&reviewMaxIssues, "max-issues", 0, "issues to list (0 for all)")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Improve.Enabled = false

	s, err := newSession(cmd.Context(), cfg, args[0], sessionOptions{})
	if err != nil {
		return err
	}
	defer s.close()

	rep, err := s.engine.Improve(cmd.Context(), s.plan(""))
	if err != nil {
		return err
	}
	return printReport(cmd, rep, reviewMaxIssues)
}

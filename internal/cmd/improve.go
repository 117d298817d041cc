package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var improveCmd = &cobra.Command{
	Use:   "improve <dir>",
	Short: "Run the cross-review fix loop over an existing directory",
	Long: `Improve reviews <dir> with both reviewers, sends the top consensus issues
to a fixing backend, and re-reviews until the aggregate score reaches the
target, the iteration limit is hit, or nothing actionable remains.`,
	Args: cobra.ExactArgs(1),
	RunE: runImprove,
}

var improveMaxIssues int

func init() {
	rootCmd.AddCommand(improveCmd)

	improveCmd.Flags().Float64("target", 0, "target aggregate score (overrides improve.target_score)")
	improveCmd.Flags().Int("max-iterations", 0, "review iterations (overrides improve.max_iterations)")
	improveCmd.Flags().Bool("early-stop", false, "stop after consecutive iterations without improvement")
	improveCmd.Flags().IntVar(&improveMaxIssues, "max-issues", 10, "unresolved issues to list in the report (0 for all)")
	_ = viper.BindPFlag("improve.target_score", improveCmd.Flags().Lookup("target"))
	_ = viper.BindPFlag("improve.max_iterations", improveCmd.Flags().Lookup("max-iterations"))
	_ = viper.BindPFlag("improve.early_stop", improveCmd.Flags().Lookup("early-stop"))
}

func runImprove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Improve.Enabled = true

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := newSession(ctx, cfg, args[0], sessionOptions{persist: true})
	if err != nil {
		return err
	}
	defer s.close()

	rep, runErr := s.engine.Improve(ctx, s.plan(""))
	if rep != nil {
		if err := printReport(cmd, rep, improveMaxIssues); err != nil {
			return err
		}
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Implement a plan, then cross-review and fix the result",
	Long: `Run drives the configured backends through the plan in bounded rounds
inside --dir, then runs the cross-review improvement loop over the files
produced. The run stops at the iteration or time limit, when the final phase
declares completion, or when rounds stop writing files.

History is written to <dir>/.crossfix/runs/<run-id> unless paths.output_dir
says otherwise.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runPlanFile  string
	runDir       string
	runMaxIssues int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runPlanFile, "plan", "p", "", "plan or specification file (required)")
	runCmd.Flags().StringVarP(&runDir, "dir", "d", ".", "directory the backends write into")
	runCmd.Flags().IntVar(&runMaxIssues, "max-issues", 10, "unresolved issues to list in the report (0 for all)")
	runCmd.Flags().Int("max-iterations", 0, "implementation round limit (overrides run.max_iterations)")
	runCmd.Flags().Duration("max-time", 0, "wall-clock limit (overrides run.max_time)")
	runCmd.Flags().Bool("no-improve", false, "skip the improvement loop and only review the result")
	_ = runCmd.MarkFlagRequired("plan")
	_ = viper.BindPFlag("run.max_iterations", runCmd.Flags().Lookup("max-iterations"))
	_ = viper.BindPFlag("run.max_time", runCmd.Flags().Lookup("max-time"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noImprove, _ := cmd.Flags().GetBool("no-improve"); noImprove {
		cfg.Improve.Enabled = false
	}

	plan, err := os.ReadFile(runPlanFile)
	if err != nil {
		return fmt.Errorf("failed to read plan: %w", err)
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", runDir, err)
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	s, err := newSession(ctx, cfg, runDir, sessionOptions{persist: true})
	if err != nil {
		return err
	}
	defer s.close()

	fmt.Fprintf(cmd.ErrOrStderr(), "Run %s in %s\n", s.runID, s.workDir)
	rep, runErr := s.engine.Run(ctx, s.plan(string(plan)))
	if rep != nil {
		if err := printReport(cmd, rep, runMaxIssues); err != nil {
			return err
		}
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}

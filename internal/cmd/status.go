package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/crossfix/internal/backend"
	"github.com/Iron-Ham/crossfix/internal/task"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configured backends, their availability and routing",
	Long: `Display every configured backend and whether it can be reached, the
backend each task type routes to, and the two reviewers.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := backend.NewRegistryFromConfig(cfg, backend.Options{})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Backends:")
	avail := reg.Availability()
	for _, id := range reg.IDs() {
		state := "available"
		if err := avail[id]; err != nil {
			state = "unavailable: " + err.Error()
		}
		fmt.Fprintf(out, "  %-10s %-7s %s\n", id, cfg.Backends[id].Kind, state)
	}

	fmt.Fprintln(out)
	if cfg.Routing.Enabled {
		fmt.Fprintln(out, "Routing:")
		types := make([]string, 0, len(cfg.Routing.Strategy))
		for t := range cfg.Routing.Strategy {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(out, "  %-10s -> %s\n", t, cfg.Routing.Strategy[t])
		}
		for _, t := range []task.Type{task.Generation, task.Analysis, task.Auxiliary} {
			if _, ok := cfg.Routing.Strategy[string(t)]; !ok {
				fmt.Fprintf(out, "  %-10s -> %s (default)\n", t, cfg.Routing.DefaultBackend)
			}
		}
	} else {
		fmt.Fprintf(out, "Routing: disabled, every round uses %s\n", cfg.Routing.DefaultBackend)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Reviewers: %s, %s\n", cfg.Review.ReviewerA, cfg.Review.ReviewerB)
	fmt.Fprintf(out, "Improve: enabled=%t target=%.2f max_iterations=%d\n",
		cfg.Improve.Enabled, cfg.Improve.TargetScore, cfg.Improve.MaxIterations)
	return nil
}


package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/crossfix/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history <run-dir>",
	Short: "Show the recorded history of a run",
	Long: `History loads the iteration records persisted for a run and prints its
summary: how each loop stopped, score progress, and one row per iteration.

Formats:
  md    - markdown summary (default)
  yaml  - the summary as persisted in summary.yaml
  json  - every iteration record as a JSON array`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

var historyFormat string

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "md", "output format: md, yaml or json")
}

func runHistory(cmd *cobra.Command, args []string) error {
	run, err := history.Load(afero.NewOsFs(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch historyFormat {
	case "md", "markdown":
		_, err = fmt.Fprint(out, history.SummaryMarkdown(run.Summary, run.Records))
	case "yaml":
		var data []byte
		if data, err = yaml.Marshal(run.Summary); err == nil {
			_, err = out.Write(data)
		}
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		err = enc.Encode(run.Records)
	default:
		return fmt.Errorf("unknown format %q (want md, yaml or json)", historyFormat)
	}
	return err
}

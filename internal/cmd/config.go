package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or validate crossfix configuration",
	Long: `View or validate crossfix configuration.

Without arguments, displays the effective configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and list every problem found",
	RunE:  runConfigValidate,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a commented default config file at $XDG_CONFIG_HOME/crossfix/config.yaml.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "# Config file: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "# Config file: (none - using defaults)\n")
	}

	settings := viper.AllSettings()
	delete(settings, "config")
	data, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, err = out.Write(data)
	return err
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", e.Error())
			}
			return fmt.Errorf("configuration has %d problem(s)", len(verrs))
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s", configFile)
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigFile), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", filepath.Join(config.ConfigDir(), "config.yaml"))
	fmt.Fprintf(out, "  2. $HOME/.config/crossfix/config.yaml\n")
	fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	fmt.Fprintln(out, "\nEnvironment variables: CROSSFIX_* (e.g., CROSSFIX_RUN_MAX_ITERATIONS)")
	return nil
}

const defaultConfigFile = `# crossfix configuration

run:
  # Rounds and wall-clock time allowed for the implementation loop
  max_iterations: 800
  max_time: 2h
  # Consecutive rounds without a write before the run is stopped
  stall_threshold: 10
  # Consecutive rounds without a write before generation is forced
  loop_warn_threshold: 5
  # Early rounds that may plan before anything is written
  planning_window: 3
  completion_phrases:
    - all files implemented

routing:
  enabled: true
  default_backend: codex
  # task type -> backend id
  strategy:
    generation: codex
    analysis: gemini
    auxiliary: gemini

# Ordered phase schedule; rounds: 0 runs until the phase declares completion
phases:
  - kind: implementation
    rounds: 0
  - kind: self_review_alignment
    rounds: 1

improve:
  enabled: true
  target_score: 8.0
  max_iterations: 5
  # Consensus issues sent to the fixer per iteration
  batch_size: 5
  early_stop: false
  patience: 2

review:
  reviewer_a: gemini
  reviewer_b: codex
  line_tolerance: 5
  description_threshold: 0.3
  no_line_threshold: 0.6

backends:
  codex:
    kind: cli
    command: codex
    args: [exec, --sandbox, workspace-write]
    watch: true
    timeout: 10m
  gemini:
    kind: cli
    command: gemini
    args: [-p]
    watch: true
    timeout: 10m

artifacts:
  include: ["**"]
  exclude: ["**/test_*.py", "**/__pycache__/**"]

logging:
  enabled: true
  level: info

paths:
  # Relative paths resolve against the run directory
  output_dir: .crossfix/runs
`

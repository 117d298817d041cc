package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/crossfix/internal/config"
	"github.com/Iron-Ham/crossfix/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "crossfix",
	Short: "Bounded implementation and cross-review loops over coding backends",
	Long: `Crossfix drives coding backends through a plan in bounded rounds,
routing each round to the backend suited to its task type, then has two
independent reviewers score the result and fixes the issues they agree on
until a target score is reached.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $XDG_CONFIG_HOME/crossfix/config.yaml)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("metrics.addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/crossfix")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CROSSFIX")
	// e.g. CROSSFIX_RUN_MAX_ITERATIONS for run.max_iterations
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing config file is fine; a malformed one surfaces in loadConfig
	configErr = viper.ReadInConfig()
}

// configErr holds the result of reading the config file.
var configErr error

// loadConfig returns the validated configuration. A config file that was
// named explicitly must exist and parse.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		var notFound viper.ConfigFileNotFoundError
		if viper.GetString("config") != "" || !errors.As(configErr, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", configErr)
		}
	}
	return config.Load()
}

// Package commands implements the kaichi command tree.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/imjszhang/wiseflow/internal/config"
)

var (
	flagConfig   string
	flagLogLevel string

	appVersion = "dev"
)

// Execute runs the root command. A non-zero exit happens only on
// unrecoverable initialisation errors; a completed learn invocation exits 0
// regardless of its success rate.
func Execute(version string) error {
	appVersion = version

	root := &cobra.Command{
		Use:           "kaichi",
		Short:         "Self-improving code-generation agent",
		Long:          "Kaichi observes a target project, proposes tasks, generates and executes code, and distills successful programs into a retrievable skill library.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newLearnCmd())
	root.AddCommand(newObserveCmd())
	root.AddCommand(newSkillsCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newMCPCmd())
	root.AddCommand(newVersionCmd())

	return root.Execute()
}

// loadConfig loads configuration honoring the global flags.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		if _, err := os.Stat("kaichi.toml"); err == nil {
			path = "kaichi.toml"
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return cfg, nil
}

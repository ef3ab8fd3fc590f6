package commands

import (
	"github.com/spf13/cobra"

	"github.com/targeted-equity/estimates/pkg/config"
	"github.com/targeted-equity/estimates/pkg/logger"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "estimates",
	Short: "Analyst estimates tracker",
	Long: `Estimates Tracker CLI

Captures daily snapshots of analyst estimates into a local history
store to track real revisions over time. Intended to run once per day
from an external scheduler.

Examples:
  estimates capture --universe master
  estimates status
  estimates revisions NVDA
  estimates universe refresh sp500
  estimates serve
  estimates schedule`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig loads configuration and builds the logger every command
// shares.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	if verbose {
		cfg.LogLevel = "debug"
	}

	return cfg, logger.New(cfg), nil
}

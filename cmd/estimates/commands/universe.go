package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/targeted-equity/estimates/internal/universe"
	"github.com/targeted-equity/estimates/pkg/httputil"
)

// universeCmd represents the universe command
var universeCmd = &cobra.Command{
	Use:   "universe",
	Short: "Inspect and maintain universe files",
}

// universeListCmd resolves a universe and prints its tickers.
var universeListCmd = &cobra.Command{
	Use:   "list NAME",
	Short: "Resolve a universe and print its tickers",
	Long: `Resolves the named universe exactly as a capture run would and
prints the ticker list.

Example:
  estimates universe list master`,
	Args: cobra.ExactArgs(1),
	RunE: runUniverseList,
}

// universeRefreshCmd rewrites a universe file from its upstream source.
var universeRefreshCmd = &cobra.Command{
	Use:   "refresh sp500",
	Short: "Rewrite a universe file from its upstream source",
	Long: `Fetches the current S&P 500 constituents table and rewrites the
sp500 universe file. Only the sp500 universe has an upstream source;
the other files are hand-maintained.

Example:
  estimates universe refresh sp500`,
	Args: cobra.ExactArgs(1),
	RunE: runUniverseRefresh,
}

func init() {
	rootCmd.AddCommand(universeCmd)
	universeCmd.AddCommand(universeListCmd)
	universeCmd.AddCommand(universeRefreshCmd)
}

func runUniverseList(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	provider := universe.NewProvider(cfg.UniverseDir, log)
	tickers, err := provider.Resolve(args[0])
	if err != nil {
		return err
	}

	for _, ticker := range tickers {
		fmt.Println(ticker)
	}
	return nil
}

func runUniverseRefresh(cmd *cobra.Command, args []string) error {
	name := strings.ToLower(args[0])
	if name != "sp500" {
		return fmt.Errorf("universe %q has no upstream source (only sp500 can be refreshed)", name)
	}

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	httpClient := httputil.New(log, cfg.FMP.Timeout)
	refresher := universe.NewSP500Refresher(httpClient, log)

	count, err := refresher.Refresh(cmd.Context(), cfg.UniverseDir)
	if err != nil {
		return fmt.Errorf("refresh sp500 universe: %w", err)
	}

	fmt.Printf("Wrote %d S&P 500 constituents\n", count)
	return nil
}

package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/targeted-equity/estimates/internal/capture"
	"github.com/targeted-equity/estimates/internal/fmp"
	"github.com/targeted-equity/estimates/internal/history"
	"github.com/targeted-equity/estimates/internal/universe"
	"github.com/targeted-equity/estimates/pkg/config"
	"github.com/targeted-equity/estimates/pkg/httputil"
	"github.com/targeted-equity/estimates/pkg/logger"
)

// captureCmd represents the capture command
var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture today's analyst estimates for a universe",
	Long: `Fetches current analyst estimates for every ticker in the selected
universe and appends distinct observations to the history store.
Unchanged values coalesce, so a same-day re-run writes nothing new.

The command exits 0 when the run finalized, even with per-ticker
failures; it exits non-zero only on a fatal condition (unknown
universe, unusable store, invalid configuration).

Example:
  estimates capture --universe master
  estimates capture --universe sp500`,
	RunE: runCapture,
}

var captureUniverse string

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVar(&captureUniverse, "universe", "master", "universe to capture (master|sp500|broad|disruption)")
}

func runCapture(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.FMP.APIKey == "" {
		return fmt.Errorf("FMP_API_KEY is required for capture")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := runCaptureOnce(ctx, cfg, log, captureUniverse)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

// runCaptureOnce runs a single capture: it opens the store, drives the
// orchestrator across the universe, and closes the store so the file
// is quiescent between runs. Shared by the capture command and the
// resident schedule mode.
func runCaptureOnce(ctx context.Context, cfg *config.Config, log *logger.Logger, universeName string) (*capture.RunSummary, error) {
	store, err := history.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	provider := universe.NewProvider(cfg.UniverseDir, log)
	httpClient := httputil.New(log, cfg.FMP.Timeout)
	fetcher := fmp.NewClient(cfg.FMP, httpClient, log)

	orchestrator := capture.New(provider, fetcher, store, cfg.Capture, log)
	return orchestrator.Run(ctx, universeName)
}

// printSummary renders the run summary for the terminal.
func printSummary(summary *capture.RunSummary) {
	fmt.Println()
	printDoubleSeparator()
	fmt.Printf("  ESTIMATES CAPTURE - %s\n", summary.FinishedAt.Format("2006-01-02"))
	printSeparator()
	printKeyValue("Universe", summary.Universe)
	printKeyValue("Succeeded", fmt.Sprintf("%d", summary.Succeeded))
	printKeyValue("Failed", fmt.Sprintf("%d", summary.Failed))
	printKeyValue("Skipped", fmt.Sprintf("%d", summary.Skipped))
	printKeyValue("Rows inserted", fmt.Sprintf("%d", summary.Inserted))
	printKeyValue("Rows coalesced", fmt.Sprintf("%d", summary.Coalesced))
	printKeyValue("Duration", summary.FinishedAt.Sub(summary.StartedAt).Round(timeRound).String())
	if summary.Cancelled {
		printKeyValue("Cancelled", "yes (partial run)")
	}

	if len(summary.Failures) > 0 {
		printSeparator()
		fmt.Println("  Failed tickers:")
		for _, f := range summary.Failures {
			fmt.Printf("   - %s (%s)\n", f.Ticker, f.Reason)
		}
	}
	printDoubleSeparator()
	fmt.Println()
}

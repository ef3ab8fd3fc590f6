package commands

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/targeted-equity/estimates/internal/history"
)

// revisionsCmd represents the revisions command
var revisionsCmd = &cobra.Command{
	Use:   "revisions TICKER",
	Short: "Show the revision summary for a ticker",
	Long: `Compares the latest EPS and revenue estimates for the ticker's
nearest tracked fiscal period against past snapshots over several
lookback windows.

Example:
  estimates revisions NVDA
  estimates revisions AZN.L --days 7,30`,
	Args: cobra.ExactArgs(1),
	RunE: runRevisions,
}

var revisionDays []int

func init() {
	rootCmd.AddCommand(revisionsCmd)

	revisionsCmd.Flags().IntSliceVar(&revisionDays, "days", []int{7, 30, 60, 90}, "lookback windows in days")
}

func runRevisions(cmd *cobra.Command, args []string) error {
	ticker := strings.ToUpper(args[0])

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	summary, err := store.RevisionSummary(cmd.Context(), ticker, revisionDays, time.Now().UTC())
	if errors.Is(err, history.ErrNoHistory) {
		return fmt.Errorf("no history for %s; run a capture first", ticker)
	}
	if err != nil {
		return fmt.Errorf("build revision summary: %w", err)
	}

	fmt.Println()
	printDoubleSeparator()
	fmt.Printf("  REVISION SUMMARY - %s\n", summary.Ticker)
	printSeparator()
	printKeyValue("Fiscal period", summary.FiscalPeriod)
	for _, w := range summary.Windows {
		printKeyValue(fmt.Sprintf("EPS %dd", w.Days), formatPct(w.EPSChangePct))
		printKeyValue(fmt.Sprintf("Revenue %dd", w.Days), formatPct(w.RevenueChangePct))
	}
	printDoubleSeparator()
	fmt.Println()

	return nil
}

func formatPct(pct *float64) string {
	if pct == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.2f%%", *pct)
}

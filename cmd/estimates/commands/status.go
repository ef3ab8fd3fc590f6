package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/targeted-equity/estimates/internal/history"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show history store status",
	Long: `Prints the state of the local history store: tracked ticker count,
row count, and the range of snapshot dates.

Example:
  estimates status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	stats, err := store.Stats(cmd.Context())
	if err != nil {
		return fmt.Errorf("read store stats: %w", err)
	}

	fmt.Println()
	printDoubleSeparator()
	fmt.Println("  ESTIMATES TRACKER STATUS")
	printSeparator()
	printKeyValue("Database", stats.Path)
	printKeyValue("Tickers tracked", fmt.Sprintf("%d", stats.TickerCount))
	printKeyValue("History rows", fmt.Sprintf("%d", stats.RowCount))
	printKeyValue("Snapshot dates", fmt.Sprintf("%d", len(stats.SnapshotDates)))
	if len(stats.SnapshotDates) > 0 {
		printKeyValue("Latest", stats.SnapshotDates[0])
		printKeyValue("Oldest", stats.SnapshotDates[len(stats.SnapshotDates)-1])
	}
	printDoubleSeparator()
	fmt.Println()

	return nil
}

package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/targeted-equity/estimates/internal/api"
	"github.com/targeted-equity/estimates/internal/history"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only history API",
	Long: `Starts an HTTP server exposing the history store's read APIs for
the report generator:

  GET /health
  GET /api/history?ticker=&fiscal_period=&metric=[&since=]
  GET /api/revisions/{ticker}[?days=7,30,60,90]
  GET /api/status

Example:
  estimates serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := history.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	handler := api.NewHistoryHandler(store, log)
	server := api.New(cfg, log, api.NewRouter(handler, log))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}

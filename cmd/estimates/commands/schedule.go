package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/targeted-equity/estimates/internal/scheduler"
	"github.com/targeted-equity/estimates/pkg/config"
	"github.com/targeted-equity/estimates/pkg/logger"
)

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run captures on a cron schedule",
	Long: `Stays resident and fires a capture run on the configured cron
schedule (CAPTURE_SCHEDULE, seconds field included). Use this on hosts
without an external scheduler; otherwise prefer a plain scheduled
"estimates capture" invocation.

Example:
  estimates schedule
  estimates schedule --universe sp500`,
	RunE: runSchedule,
}

var scheduleUniverse string

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringVar(&scheduleUniverse, "universe", "master", "universe to capture on each firing")
}

// captureJob adapts a capture run to the scheduler's Job interface.
type captureJob struct {
	cfg      *config.Config
	log      *logger.Logger
	universe string
}

func (j *captureJob) Name() string {
	return "capture-" + j.universe
}

func (j *captureJob) Schedule() string {
	return j.cfg.CaptureSchedule
}

func (j *captureJob) Run(ctx context.Context) error {
	summary, err := runCaptureOnce(ctx, j.cfg, j.log, j.universe)
	if err != nil {
		return err
	}

	if summary.Failed > 0 {
		j.log.WithFields(map[string]interface{}{
			"failed": summary.Failed,
		}).Warn("Scheduled capture finished with per-ticker failures")
	}
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.FMP.APIKey == "" {
		return fmt.Errorf("FMP_API_KEY is required for capture")
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(&captureJob{cfg: cfg, log: log, universe: scheduleUniverse}); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched.Start()
	<-ctx.Done()
	sched.Stop()

	return nil
}

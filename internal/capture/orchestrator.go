package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/targeted-equity/estimates/internal/history"
	"github.com/targeted-equity/estimates/pkg/config"
	"github.com/targeted-equity/estimates/pkg/logger"
)

// UniverseResolver resolves a named universe to a fixed ticker list.
type UniverseResolver interface {
	Resolve(name string) ([]string, error)
}

// Fetcher fetches the current estimate snapshots for one ticker.
// CapturedAt on the returned snapshots is left zero; the orchestrator
// assigns it.
type Fetcher interface {
	FetchEstimates(ctx context.Context, ticker string) ([]history.Snapshot, error)
}

// Appender is the history store's ingestion contract.
type Appender interface {
	Append(ctx context.Context, snap history.Snapshot) (history.AppendResult, error)
}

// runState tracks one run through its lifecycle.
type runState int

const (
	stateNotStarted runState = iota
	stateResolvingUniverse
	stateCapturing
	stateFinalized
)

func (s runState) String() string {
	switch s {
	case stateNotStarted:
		return "not-started"
	case stateResolvingUniverse:
		return "resolving-universe"
	case stateCapturing:
		return "capturing"
	case stateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("runState(%d)", int(s))
	}
}

// Orchestrator drives fetcher -> store for a whole universe once per
// Run call. It holds no persisted state across runs; a same-day re-run
// is idempotent because unchanged values coalesce in the store.
type Orchestrator struct {
	resolver UniverseResolver
	fetcher  Fetcher
	store    Appender
	logger   *logger.Logger

	workers int
	retry   RetryPolicy

	// Shared across all workers, so total upstream request rate stays
	// bounded regardless of worker count.
	limiter *rate.Limiter
}

// New creates an orchestrator from the capture configuration.
func New(resolver UniverseResolver, fetcher Fetcher, store Appender, cfg config.CaptureConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		fetcher:  fetcher,
		store:    store,
		logger:   log.WithField("module", "capture"),
		workers:  cfg.Workers,
		retry: RetryPolicy{
			MaxAttempts:  cfg.MaxAttempts,
			InitialDelay: cfg.RetryDelay,
			MaxDelay:     cfg.MaxDelay,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
	}
}

// Run captures the whole universe once. Per-ticker and per-key
// failures land in the summary and are never returned as errors; the
// error return is reserved for fatal conditions (unknown universe).
// A cancelled run still finalizes with a partial summary.
func (o *Orchestrator) Run(ctx context.Context, universeName string) (*RunSummary, error) {
	state := stateNotStarted
	summary := &RunSummary{
		Universe:  universeName,
		StartedAt: time.Now().UTC(),
	}

	o.transition(&state, stateResolvingUniverse)
	tickers, err := o.resolver.Resolve(universeName)
	if err != nil {
		return nil, fmt.Errorf("resolve universe: %w", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"universe": universeName,
		"tickers":  len(tickers),
		"workers":  o.workers,
	}).Info("Starting estimates capture")

	o.transition(&state, stateCapturing)
	resultCh := make(chan tickerResult, len(tickers))
	tickerCh := make(chan string, len(tickers))

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			o.worker(ctx, workerID, tickerCh, resultCh)
		}(i)
	}

	for _, ticker := range tickers {
		tickerCh <- ticker
	}
	close(tickerCh)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	for result := range resultCh {
		switch {
		case result.skipped:
			summary.Skipped++
		case result.failure != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, *result.failure)
		default:
			summary.Succeeded++
		}
		summary.Inserted += result.inserted
		summary.Coalesced += result.coalesced
	}

	o.transition(&state, stateFinalized)
	summary.FinishedAt = time.Now().UTC()
	summary.Cancelled = ctx.Err() != nil

	o.logger.WithFields(map[string]interface{}{
		"universe":  summary.Universe,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"skipped":   summary.Skipped,
		"inserted":  summary.Inserted,
		"coalesced": summary.Coalesced,
		"duration":  summary.FinishedAt.Sub(summary.StartedAt),
	}).Info("Estimates capture completed")

	return summary, nil
}

// transition advances the per-run state machine.
func (o *Orchestrator) transition(state *runState, to runState) {
	*state = to
	o.logger.WithField("state", to.String()).Debug("Run state changed")
}

// worker processes tickers from tickerCh. Cancellation is checked at
// the top of each iteration; remaining tickers drain as skipped so the
// partial summary still accounts for the whole universe.
func (o *Orchestrator) worker(ctx context.Context, workerID int, tickerCh <-chan string, resultCh chan<- tickerResult) {
	for ticker := range tickerCh {
		select {
		case <-ctx.Done():
			resultCh <- tickerResult{ticker: ticker, skipped: true}
			continue
		default:
		}

		resultCh <- o.captureTicker(ctx, workerID, ticker)
	}
}

// captureTicker fetches one ticker (with pacing and bounded retry) and
// appends every metric snapshot to the store.
func (o *Orchestrator) captureTicker(ctx context.Context, workerID int, ticker string) tickerResult {
	result := tickerResult{ticker: ticker}

	var snapshots []history.Snapshot
	err := o.retry.Execute(ctx, func() error {
		// Pacing applies to every attempt, shared across workers.
		if err := o.limiter.Wait(ctx); err != nil {
			return err
		}

		var fetchErr error
		snapshots, fetchErr = o.fetcher.FetchEstimates(ctx, ticker)
		return fetchErr
	})

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.skipped = true
			return result
		}

		reason := ReasonPermanent
		if isTransient(err) {
			reason = ReasonTransientExhausted
		}

		o.logger.WithError(err).WithFields(map[string]interface{}{
			"worker": workerID,
			"ticker": ticker,
			"reason": reason,
		}).Error("Failed to fetch estimates")

		result.failure = &TickerFailure{Ticker: ticker, Reason: reason, Err: err.Error()}
		return result
	}

	capturedAt := time.Now().UTC()

	var storageErr error
	for _, snap := range snapshots {
		snap.CapturedAt = capturedAt

		outcome, err := o.store.Append(ctx, snap)
		if err != nil {
			// One key's storage failure never blocks the others.
			o.logger.WithError(err).WithFields(map[string]interface{}{
				"worker":        workerID,
				"ticker":        ticker,
				"fiscal_period": snap.FiscalPeriod,
				"metric":        snap.Metric,
			}).Error("Failed to append snapshot")
			storageErr = err
			continue
		}

		switch outcome {
		case history.Inserted:
			result.inserted++
		case history.Coalesced:
			result.coalesced++
		}
	}

	if storageErr != nil {
		result.failure = &TickerFailure{Ticker: ticker, Reason: ReasonStorage, Err: storageErr.Error()}
		return result
	}

	o.logger.WithFields(map[string]interface{}{
		"worker":    workerID,
		"ticker":    ticker,
		"inserted":  result.inserted,
		"coalesced": result.coalesced,
	}).Debug("Captured estimates")

	return result
}

package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/targeted-equity/estimates/internal/history"
	"github.com/targeted-equity/estimates/pkg/config"
	"github.com/targeted-equity/estimates/pkg/logger"
)

type fakeResolver struct {
	universes map[string][]string
}

func (r *fakeResolver) Resolve(name string) ([]string, error) {
	tickers, ok := r.universes[name]
	if !ok {
		return nil, errors.New("unknown universe: " + name)
	}
	return tickers, nil
}

// classifiedErr mimics the fetch client's error classification.
type classifiedErr struct {
	msg       string
	transient bool
}

func (e *classifiedErr) Error() string     { return e.msg }
func (e *classifiedErr) IsTransient() bool { return e.transient }

// fakeFetcher returns canned snapshots or errors per ticker and counts
// attempts.
type fakeFetcher struct {
	mu        sync.Mutex
	snapshots map[string][]history.Snapshot
	errs      map[string]error
	attempts  map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		snapshots: make(map[string][]history.Snapshot),
		errs:      make(map[string]error),
		attempts:  make(map[string]int),
	}
}

func (f *fakeFetcher) FetchEstimates(_ context.Context, ticker string) ([]history.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[ticker]++
	if err, ok := f.errs[ticker]; ok {
		return nil, err
	}
	return f.snapshots[ticker], nil
}

func (f *fakeFetcher) attemptCount(ticker string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[ticker]
}

// memoryStore is an in-memory Appender with the same coalescing
// contract as the real store.
type memoryStore struct {
	mu      sync.Mutex
	rows    map[string][]history.Snapshot
	failAll bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: make(map[string][]history.Snapshot)}
}

func (m *memoryStore) Append(_ context.Context, snap history.Snapshot) (history.AppendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAll {
		return 0, errors.New("disk full")
	}

	key := snap.Ticker + "|" + snap.FiscalPeriod + "|" + string(snap.Metric)
	rows := m.rows[key]
	if len(rows) > 0 && rows[len(rows)-1].Value.Equal(snap.Value) {
		return history.Coalesced, nil
	}
	m.rows[key] = append(rows, snap)
	return history.Inserted, nil
}

func epsSnapshot(ticker string, value float64) history.Snapshot {
	return history.Snapshot{
		Ticker:       ticker,
		FiscalPeriod: "2026-12-31",
		Metric:       history.MetricEPSAvg,
		Value:        history.Num(value),
	}
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		Workers:     4,
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		RateLimit:   1000,
		Burst:       1000,
	}
}

func TestRunFirstCaptureInsertsAll(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snapshots["AAA"] = []history.Snapshot{epsSnapshot("AAA", 1.20)}
	fetcher.snapshots["BBB"] = []history.Snapshot{epsSnapshot("BBB", 2.00)}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"AAA", "BBB"}}}
	store := newMemoryStore()

	orch := New(resolver, fetcher, store, testCaptureConfig(), logger.NewNop())
	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 2, summary.Inserted)
	assert.Equal(t, 0, summary.Coalesced)
	assert.False(t, summary.Cancelled)
}

func TestRunSecondCaptureCoalescesUnchanged(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snapshots["AAA"] = []history.Snapshot{epsSnapshot("AAA", 1.20)}
	fetcher.snapshots["BBB"] = []history.Snapshot{epsSnapshot("BBB", 2.00)}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"AAA", "BBB"}}}
	store := newMemoryStore()

	orch := New(resolver, fetcher, store, testCaptureConfig(), logger.NewNop())
	_, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	// BBB revises, AAA holds.
	fetcher.snapshots["BBB"] = []history.Snapshot{epsSnapshot("BBB", 2.05)}

	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Coalesced)
}

func TestRunIdempotentRerun(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snapshots["AAA"] = []history.Snapshot{epsSnapshot("AAA", 1.20)}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"AAA"}}}
	store := newMemoryStore()

	orch := New(resolver, fetcher, store, testCaptureConfig(), logger.NewNop())
	_, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Inserted)
	assert.Equal(t, 1, summary.Coalesced)
}

func TestRunTransientExhausted(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["CCC"] = &classifiedErr{msg: "timeout", transient: true}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"CCC"}}}
	store := newMemoryStore()

	orch := New(resolver, fetcher, store, testCaptureConfig(), logger.NewNop())
	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "CCC", summary.Failures[0].Ticker)
	assert.Equal(t, ReasonTransientExhausted, summary.Failures[0].Reason)

	// All attempts were used before giving up.
	assert.Equal(t, 3, fetcher.attemptCount("CCC"))
}

func TestRunPermanentFailureNotRetried(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.errs["DDD"] = &classifiedErr{msg: "no estimates available", transient: false}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"DDD"}}}
	store := newMemoryStore()

	orch := New(resolver, fetcher, store, testCaptureConfig(), logger.NewNop())
	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, ReasonPermanent, summary.Failures[0].Reason)
	assert.Equal(t, 1, fetcher.attemptCount("DDD"))
}

func TestRunFailureIsolation(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snapshots["AAA"] = []history.Snapshot{epsSnapshot("AAA", 1.20)}
	fetcher.errs["BAD"] = &classifiedErr{msg: "not found", transient: false}
	fetcher.snapshots["CCC"] = []history.Snapshot{epsSnapshot("CCC", 3.00)}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"AAA", "BAD", "CCC"}}}
	store := newMemoryStore()

	orch := New(resolver, fetcher, store, testCaptureConfig(), logger.NewNop())
	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Inserted)
}

func TestRunStorageFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snapshots["AAA"] = []history.Snapshot{epsSnapshot("AAA", 1.20)}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"AAA"}}}
	store := newMemoryStore()
	store.failAll = true

	orch := New(resolver, fetcher, store, testCaptureConfig(), logger.NewNop())
	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, ReasonStorage, summary.Failures[0].Reason)
}

func TestRunUnknownUniverseIsFatal(t *testing.T) {
	resolver := &fakeResolver{universes: map[string][]string{}}

	orch := New(resolver, newFakeFetcher(), newMemoryStore(), testCaptureConfig(), logger.NewNop())
	summary, err := orch.Run(context.Background(), "nope")
	assert.Error(t, err)
	assert.Nil(t, summary)
}

func TestRunCancellationFinalizesPartialSummary(t *testing.T) {
	tickers := make([]string, 20)
	fetcher := newFakeFetcher()
	for i := range tickers {
		tickers[i] = string(rune('A'+i)) + "X"
		fetcher.snapshots[tickers[i]] = []history.Snapshot{epsSnapshot(tickers[i], 1.0)}
	}

	resolver := &fakeResolver{universes: map[string][]string{"test": tickers}}
	store := newMemoryStore()

	cfg := testCaptureConfig()
	cfg.Workers = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(resolver, fetcher, store, cfg, logger.NewNop())
	summary, err := orch.Run(ctx, "test")
	require.NoError(t, err)

	assert.True(t, summary.Cancelled)
	assert.Equal(t, len(tickers), summary.Skipped)
	assert.Equal(t, 0, summary.Succeeded)
	assert.False(t, summary.FinishedAt.IsZero())
}

func TestRunAccountsForWholeUniverse(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.snapshots["AAA"] = []history.Snapshot{epsSnapshot("AAA", 1.20)}
	fetcher.errs["BBB"] = &classifiedErr{msg: "offline", transient: true}

	resolver := &fakeResolver{universes: map[string][]string{"test": {"AAA", "BBB"}}}

	orch := New(resolver, fetcher, newMemoryStore(), testCaptureConfig(), logger.NewNop())
	summary, err := orch.Run(context.Background(), "test")
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded+summary.Failed+summary.Skipped)
}

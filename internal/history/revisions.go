package history

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// ErrNoHistory is returned by the revision queries when the store has
// never observed the requested ticker.
var ErrNoHistory = errors.New("no history for ticker")

// Revision compares the latest observation of a key against the newest
// observation at or before the lookback horizon. This is the read side
// the report generator consumes to render "estimate revised from X to
// Y" lines.
type Revision struct {
	Ticker         string
	FiscalPeriod   string
	Metric         Metric
	Current        Value
	Past           Value
	PastCapturedAt time.Time
	DaysCompared   int

	// ChangePct is nil when either side is unavailable or the past
	// value is zero.
	ChangePct *float64
}

// Revision computes the revision for one key over a lookback window.
// Returns nil when there is no current row or no row old enough to
// compare against.
func (s *Store) Revision(ctx context.Context, ticker, fiscalPeriod string, metric Metric, lookback time.Duration, now time.Time) (*Revision, error) {
	current, err := s.Latest(ctx, ticker, fiscalPeriod, metric)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}

	horizon := now.Add(-lookback)

	query := `
		SELECT id, ticker, fiscal_period, metric, value, captured_at, source_updated_at
		FROM estimate_history
		WHERE ticker = ? AND fiscal_period = ? AND metric = ? AND captured_at <= ?
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	`

	past, err := scanRecord(s.db.QueryRowContext(ctx, query,
		ticker, fiscalPeriod, string(metric), horizon.UnixNano()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "revision", Err: err}
	}

	rev := &Revision{
		Ticker:         ticker,
		FiscalPeriod:   fiscalPeriod,
		Metric:         metric,
		Current:        current.Value,
		Past:           past.Value,
		PastCapturedAt: past.CapturedAt,
		DaysCompared:   int(now.Sub(past.CapturedAt).Hours() / 24),
	}

	if current.Value.Valid && past.Value.Valid && past.Value.Float64 != 0 {
		pct := (current.Value.Float64 - past.Value.Float64) / abs(past.Value.Float64) * 100
		rev.ChangePct = &pct
	}

	return rev, nil
}

// SummaryWindow holds the EPS and revenue revision over one lookback
// window, in percent. Nil when not computable.
type SummaryWindow struct {
	Days             int
	EPSChangePct     *float64
	RevenueChangePct *float64
}

// Summary is the revision summary for a ticker's next fiscal period
// across several lookback windows.
type Summary struct {
	Ticker       string
	FiscalPeriod string
	Windows      []SummaryWindow
}

// RevisionSummary builds the revision summary for the ticker's nearest
// tracked fiscal period across the given lookback windows (in days).
func (s *Store) RevisionSummary(ctx context.Context, ticker string, days []int, now time.Time) (*Summary, error) {
	fiscalPeriod, err := s.nextFiscalPeriod(ctx, ticker)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Ticker: ticker, FiscalPeriod: fiscalPeriod}

	for _, d := range days {
		lookback := time.Duration(d) * 24 * time.Hour
		window := SummaryWindow{Days: d}

		eps, err := s.Revision(ctx, ticker, fiscalPeriod, MetricEPSAvg, lookback, now)
		if err != nil {
			return nil, err
		}
		if eps != nil {
			window.EPSChangePct = eps.ChangePct
		}

		rev, err := s.Revision(ctx, ticker, fiscalPeriod, MetricRevenueAvg, lookback, now)
		if err != nil {
			return nil, err
		}
		if rev != nil {
			window.RevenueChangePct = rev.ChangePct
		}

		summary.Windows = append(summary.Windows, window)
	}

	return summary, nil
}

// nextFiscalPeriod returns the earliest fiscal period tracked for the
// ticker. Fiscal periods are ISO dates, so lexicographic order is
// chronological order.
func (s *Store) nextFiscalPeriod(ctx context.Context, ticker string) (string, error) {
	query := `
		SELECT DISTINCT fiscal_period FROM estimate_history
		WHERE ticker = ?
		ORDER BY fiscal_period ASC
		LIMIT 1
	`

	var fiscalPeriod string
	err := s.db.QueryRowContext(ctx, query, ticker).Scan(&fiscalPeriod)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoHistory
	}
	if err != nil {
		return "", &StorageError{Op: "next fiscal period", Err: err}
	}

	return fiscalPeriod, nil
}

// Stats summarizes store contents for the status surfaces.
type Stats struct {
	Path          string
	TickerCount   int
	SnapshotDates []string // YYYY-MM-DD, newest first
	RowCount      int
}

// Stats returns store-level counts for status reporting.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Path: s.path}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT ticker), COUNT(*) FROM estimate_history`,
	).Scan(&stats.TickerCount, &stats.RowCount)
	if err != nil {
		return nil, &StorageError{Op: "stats", Err: err}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT date(captured_at / 1000000000, 'unixepoch')
		FROM estimate_history
		ORDER BY 1 DESC
	`)
	if err != nil {
		return nil, &StorageError{Op: "stats dates", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, &StorageError{Op: "stats dates scan", Err: err}
		}
		stats.SnapshotDates = append(stats.SnapshotDates, d)
	}
	if rows.Err() != nil {
		return nil, &StorageError{Op: "stats dates iterate", Err: rows.Err()}
	}

	return stats, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

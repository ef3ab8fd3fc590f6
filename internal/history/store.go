package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrOutOfOrder is returned by Append when a snapshot's captured_at is
// older than the latest stored row for its key. Normal capture only
// moves forward in time; out-of-order backfill is not supported.
var ErrOutOfOrder = errors.New("snapshot captured_at precedes latest stored row")

// StorageError wraps an underlying database fault. Callers treat one
// key's storage failure as independent of other keys in the same run.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("history store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Store owns the estimate_history table: an append-only,
// timestamp-indexed revision trail keyed by (ticker, fiscal_period,
// metric). Every distinct observed value gets a row; repeat
// observations of the latest value are coalesced, so history is a
// compressed step-function of distinct values over time.
//
// The store is idle between runs, which is the safe point for an
// external backup job to copy the database file.
type Store struct {
	db   *sql.DB
	path string

	// Serializes Append's read-compare-insert so concurrent workers
	// can never write two adjacent rows with equal values for a key.
	mu sync.Mutex
}

// Open opens (creating if needed) the SQLite-backed store at path.
// The caller owns the returned store and must Close it at run end.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, &StorageError{Op: "open", Err: err}
	}

	// database/sql defaults to a connection pool; a single writer job
	// needs exactly one connection for SQLite.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, path: path}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &StorageError{Op: "close", Err: err}
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate creates the schema. The table is append-only: nothing in
// this package issues UPDATE or DELETE against estimate_history.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS estimate_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		fiscal_period TEXT NOT NULL,
		metric TEXT NOT NULL,
		value REAL,
		captured_at INTEGER NOT NULL,
		source_updated_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_history_key
		ON estimate_history(ticker, fiscal_period, metric, captured_at);
	CREATE INDEX IF NOT EXISTS idx_history_captured_at
		ON estimate_history(captured_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return &StorageError{Op: "migrate", Err: err}
	}
	return nil
}

// Latest returns the most recently captured row for the key, or nil
// if the key has never been observed.
func (s *Store) Latest(ctx context.Context, ticker, fiscalPeriod string, metric Metric) (*Record, error) {
	query := `
		SELECT id, ticker, fiscal_period, metric, value, captured_at, source_updated_at
		FROM estimate_history
		WHERE ticker = ? AND fiscal_period = ? AND metric = ?
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	`

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, ticker, fiscalPeriod, string(metric)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &StorageError{Op: "latest", Err: err}
	}
	return rec, nil
}

// Append applies the coalescing contract for one snapshot: if the
// observed value equals the latest stored row's value for the key
// (unavailable equals unavailable), no row is written and the result
// is Coalesced; otherwise a new row is written and the result is
// Inserted. The read-compare-insert runs in one transaction under the
// store mutex, so the coalescing invariant holds even for concurrent
// appends on the same key.
func (s *Store) Append(ctx context.Context, snap Snapshot) (AppendResult, error) {
	if err := snap.validate(); err != nil {
		return Coalesced, &StorageError{Op: "append", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Coalesced, &StorageError{Op: "append begin", Err: err}
	}
	defer tx.Rollback()

	query := `
		SELECT id, ticker, fiscal_period, metric, value, captured_at, source_updated_at
		FROM estimate_history
		WHERE ticker = ? AND fiscal_period = ? AND metric = ?
		ORDER BY captured_at DESC, id DESC
		LIMIT 1
	`

	latest, err := scanRecord(tx.QueryRowContext(ctx, query, snap.Ticker, snap.FiscalPeriod, string(snap.Metric)))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Coalesced, &StorageError{Op: "append read", Err: err}
	}

	if latest != nil {
		if snap.CapturedAt.Before(latest.CapturedAt) {
			return Coalesced, fmt.Errorf("append %s/%s/%s: %w",
				snap.Ticker, snap.FiscalPeriod, snap.Metric, ErrOutOfOrder)
		}
		if snap.Value.Equal(latest.Value) {
			return Coalesced, nil
		}
	}

	insert := `
		INSERT INTO estimate_history
			(ticker, fiscal_period, metric, value, captured_at, source_updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, insert,
		snap.Ticker,
		snap.FiscalPeriod,
		string(snap.Metric),
		nullFloat(snap.Value),
		snap.CapturedAt.UnixNano(),
		nullTime(snap.SourceUpdatedAt),
	)
	if err != nil {
		return Coalesced, &StorageError{Op: "append insert", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return Coalesced, &StorageError{Op: "append commit", Err: err}
	}

	return Inserted, nil
}

// History returns the full revision trail for the key, oldest first.
func (s *Store) History(ctx context.Context, ticker, fiscalPeriod string, metric Metric) ([]Record, error) {
	query := `
		SELECT id, ticker, fiscal_period, metric, value, captured_at, source_updated_at
		FROM estimate_history
		WHERE ticker = ? AND fiscal_period = ? AND metric = ?
		ORDER BY captured_at ASC, id ASC
	`

	return s.queryRecords(ctx, "history", query, ticker, fiscalPeriod, string(metric))
}

// RevisionsSince returns the revision trail for the key filtered to
// rows captured at or after since, oldest first.
func (s *Store) RevisionsSince(ctx context.Context, ticker, fiscalPeriod string, metric Metric, since time.Time) ([]Record, error) {
	query := `
		SELECT id, ticker, fiscal_period, metric, value, captured_at, source_updated_at
		FROM estimate_history
		WHERE ticker = ? AND fiscal_period = ? AND metric = ? AND captured_at >= ?
		ORDER BY captured_at ASC, id ASC
	`

	return s.queryRecords(ctx, "revisions_since", query,
		ticker, fiscalPeriod, string(metric), since.UnixNano())
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...interface{}) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &StorageError{Op: op, Err: err}
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &StorageError{Op: op + " scan", Err: err}
		}
		records = append(records, *rec)
	}
	if rows.Err() != nil {
		return nil, &StorageError{Op: op + " iterate", Err: rows.Err()}
	}

	return records, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*Record, error) {
	var (
		rec        Record
		metric     string
		value      sql.NullFloat64
		capturedAt int64
		updatedAt  sql.NullInt64
	)

	err := row.Scan(&rec.ID, &rec.Ticker, &rec.FiscalPeriod, &metric, &value, &capturedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.Metric = Metric(metric)
	if value.Valid {
		rec.Value = Num(value.Float64)
	}
	rec.CapturedAt = time.Unix(0, capturedAt).UTC()
	if updatedAt.Valid {
		rec.SourceUpdatedAt = time.Unix(0, updatedAt.Int64).UTC()
	}

	return &rec, nil
}

func nullFloat(v Value) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.Float64, Valid: v.Valid}
}

func nullTime(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

package history

import (
	"fmt"
	"time"
)

// Metric identifies one analyst-consensus figure tracked per fiscal period.
type Metric string

const (
	MetricEPSAvg             Metric = "eps_avg"
	MetricEPSHigh            Metric = "eps_high"
	MetricEPSLow             Metric = "eps_low"
	MetricRevenueAvg         Metric = "revenue_avg"
	MetricRevenueHigh        Metric = "revenue_high"
	MetricRevenueLow         Metric = "revenue_low"
	MetricNumAnalystsEPS     Metric = "num_analysts_eps"
	MetricNumAnalystsRevenue Metric = "num_analysts_revenue"
)

// Metrics lists every tracked metric in schema order.
var Metrics = []Metric{
	MetricEPSAvg,
	MetricEPSHigh,
	MetricEPSLow,
	MetricRevenueAvg,
	MetricRevenueHigh,
	MetricRevenueLow,
	MetricNumAnalystsEPS,
	MetricNumAnalystsRevenue,
}

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	for _, known := range Metrics {
		if m == known {
			return true
		}
	}
	return false
}

// Value is an observed metric value. A metric the API returns as null
// (no analyst coverage yet) is an explicit unavailable observation,
// not a missing row: consumers must handle both cases.
type Value struct {
	Float64 float64
	Valid   bool
}

// Num returns an available Value.
func Num(f float64) Value {
	return Value{Float64: f, Valid: true}
}

// Unavailable returns the unavailable Value.
func Unavailable() Value {
	return Value{}
}

// Equal reports whether two observations carry the same value.
// Two unavailable observations are equal.
func (v Value) Equal(other Value) bool {
	if v.Valid != other.Valid {
		return false
	}
	return !v.Valid || v.Float64 == other.Float64
}

func (v Value) String() string {
	if !v.Valid {
		return "n/a"
	}
	return fmt.Sprintf("%g", v.Float64)
}

// Snapshot is one observation of analyst consensus for one ticker at
// one fiscal period, captured at one point in time, before persistence.
type Snapshot struct {
	Ticker          string
	FiscalPeriod    string
	Metric          Metric
	Value           Value
	CapturedAt      time.Time
	SourceUpdatedAt time.Time // zero when the upstream supplies none
}

// validate checks that a snapshot is well-formed for ingestion.
func (s Snapshot) validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("snapshot has empty ticker")
	}
	if s.FiscalPeriod == "" {
		return fmt.Errorf("snapshot has empty fiscal period")
	}
	if !s.Metric.Valid() {
		return fmt.Errorf("snapshot has unknown metric %q", s.Metric)
	}
	if s.CapturedAt.IsZero() {
		return fmt.Errorf("snapshot has zero captured_at")
	}
	return nil
}

// Record is a persisted snapshot. Written once, never updated in
// place, never deleted: the table is an append-only revision trail.
type Record struct {
	ID              int64
	Ticker          string
	FiscalPeriod    string
	Metric          Metric
	Value           Value
	CapturedAt      time.Time
	SourceUpdatedAt time.Time
}

// AppendResult is the outcome of one Append call.
type AppendResult int

const (
	// Inserted means a new row was written (first observation for the
	// key, or the value changed relative to the latest row).
	Inserted AppendResult = iota

	// Coalesced means the observed value equals the latest stored row
	// for the key, so no duplicate row was written.
	Coalesced
)

func (r AppendResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Coalesced:
		return "coalesced"
	default:
		return fmt.Sprintf("AppendResult(%d)", int(r))
	}
}

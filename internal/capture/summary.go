package capture

import "time"

// Failure reasons recorded in the run summary.
const (
	ReasonTransientExhausted = "transient-exhausted"
	ReasonPermanent          = "permanent"
	ReasonStorage            = "storage"
)

// TickerFailure records why one ticker failed during a run.
type TickerFailure struct {
	Ticker string `json:"ticker"`
	Reason string `json:"reason"`
	Err    string `json:"error"`
}

// RunSummary is the immutable result of one capture run. It is the
// primary observability surface: producible even for a run with zero
// successes, as long as universe resolution succeeded.
type RunSummary struct {
	Universe   string    `json:"universe"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Cancelled  bool      `json:"cancelled"`

	// Per-ticker outcomes. Succeeded + Failed + Skipped equals the
	// resolved universe size.
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	// Per-key append outcomes across all succeeded tickers.
	Inserted  int `json:"inserted"`
	Coalesced int `json:"coalesced"`

	Failures []TickerFailure `json:"failures,omitempty"`
}

// tickerResult is one worker's outcome for one ticker.
type tickerResult struct {
	ticker    string
	inserted  int
	coalesced int
	skipped   bool
	failure   *TickerFailure
}

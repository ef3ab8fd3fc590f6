package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/targeted-equity/estimates/internal/history"
	"github.com/targeted-equity/estimates/pkg/logger"
)

// defaultRevisionWindows matches the lookback windows the report
// generator renders.
var defaultRevisionWindows = []int{7, 30, 60, 90}

// HistoryHandler serves the history store's read APIs.
type HistoryHandler struct {
	store  *history.Store
	logger *logger.Logger
}

// NewHistoryHandler creates a new history handler.
func NewHistoryHandler(store *history.Store, log *logger.Logger) *HistoryHandler {
	return &HistoryHandler{
		store:  store,
		logger: log,
	}
}

// recordResponse is the wire shape of one history row. Value is null
// when the observation was explicitly unavailable.
type recordResponse struct {
	Ticker          string     `json:"ticker"`
	FiscalPeriod    string     `json:"fiscal_period"`
	Metric          string     `json:"metric"`
	Value           *float64   `json:"value"`
	CapturedAt      time.Time  `json:"captured_at"`
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty"`
}

func toRecordResponse(rec history.Record) recordResponse {
	resp := recordResponse{
		Ticker:       rec.Ticker,
		FiscalPeriod: rec.FiscalPeriod,
		Metric:       string(rec.Metric),
		CapturedAt:   rec.CapturedAt,
	}
	if rec.Value.Valid {
		v := rec.Value.Float64
		resp.Value = &v
	}
	if !rec.SourceUpdatedAt.IsZero() {
		t := rec.SourceUpdatedAt
		resp.SourceUpdatedAt = &t
	}
	return resp
}

// GetHistory returns the full revision trail for one key, oldest first.
// GET /api/history?ticker=AAPL&fiscal_period=2026-12-31&metric=eps_avg[&since=RFC3339]
func (h *HistoryHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ticker := r.URL.Query().Get("ticker")
	fiscalPeriod := r.URL.Query().Get("fiscal_period")
	metric := history.Metric(r.URL.Query().Get("metric"))

	if ticker == "" || fiscalPeriod == "" {
		respondError(w, http.StatusBadRequest, "ticker and fiscal_period are required")
		return
	}
	if !metric.Valid() {
		respondError(w, http.StatusBadRequest, "unknown metric")
		return
	}

	var (
		records []history.Record
		err     error
	)

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, parseErr := time.Parse(time.RFC3339, sinceStr)
		if parseErr != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		records, err = h.store.RevisionsSince(ctx, ticker, fiscalPeriod, metric, since)
	} else {
		records, err = h.store.History(ctx, ticker, fiscalPeriod, metric)
	}

	if err != nil {
		h.logger.WithError(err).Error("Failed to read history")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve history")
		return
	}

	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, toRecordResponse(rec))
	}

	respondJSON(w, http.StatusOK, resp)
}

// GetRevisions returns the revision summary for a ticker's nearest
// fiscal period.
// GET /api/revisions/{ticker}[?days=7,30,60,90]
func (h *HistoryHandler) GetRevisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ticker := mux.Vars(r)["ticker"]

	days := defaultRevisionWindows
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		days = nil
		for _, part := range strings.Split(daysStr, ",") {
			d, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || d <= 0 {
				respondError(w, http.StatusBadRequest, "days must be positive integers")
				return
			}
			days = append(days, d)
		}
	}

	summary, err := h.store.RevisionSummary(ctx, ticker, days, time.Now().UTC())
	if errors.Is(err, history.ErrNoHistory) {
		respondError(w, http.StatusNotFound, "no history for ticker")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to build revision summary")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve revisions")
		return
	}

	respondJSON(w, http.StatusOK, summaryResponse(summary))
}

// GetStatus returns store-level counts.
// GET /api/status
func (h *HistoryHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to read store stats")
		respondError(w, http.StatusInternalServerError, "Failed to retrieve status")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"db_path":        stats.Path,
		"ticker_count":   stats.TickerCount,
		"row_count":      stats.RowCount,
		"snapshot_dates": stats.SnapshotDates,
	})
}

// summaryResponse flattens a revision summary for the wire.
func summaryResponse(s *history.Summary) map[string]interface{} {
	windows := make([]map[string]interface{}, 0, len(s.Windows))
	for _, w := range s.Windows {
		windows = append(windows, map[string]interface{}{
			"days":               w.Days,
			"eps_change_pct":     w.EPSChangePct,
			"revenue_change_pct": w.RevenueChangePct,
		})
	}

	return map[string]interface{}{
		"ticker":        s.Ticker,
		"fiscal_period": s.FiscalPeriod,
		"windows":       windows,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/targeted-equity/estimates/internal/history"
	"github.com/targeted-equity/estimates/pkg/httputil"
)

// maxFiscalPeriods bounds how many upcoming fiscal periods are kept
// per ticker.
const maxFiscalPeriods = 4

// estimateRow mirrors one element of the FMP analyst-estimates
// response. Fields vary in availability per ticker, so every metric is
// a pointer: nil means the metric is not covered by any analyst.
type estimateRow struct {
	Symbol                         string   `json:"symbol"`
	Date                           string   `json:"date"`
	EstimatedEpsAvg                *float64 `json:"estimatedEpsAvg"`
	EstimatedEpsHigh               *float64 `json:"estimatedEpsHigh"`
	EstimatedEpsLow                *float64 `json:"estimatedEpsLow"`
	EstimatedRevenueAvg            *float64 `json:"estimatedRevenueAvg"`
	EstimatedRevenueHigh           *float64 `json:"estimatedRevenueHigh"`
	EstimatedRevenueLow            *float64 `json:"estimatedRevenueLow"`
	NumberAnalystsEstimatedEps     *float64 `json:"numberAnalystsEstimatedEps"`
	NumberAnalystsEstimatedRevenue *float64 `json:"numberAnalystsEstimatedRevenue"`
}

// errorResponse is FMP's error payload, returned with status 200 for
// some failure modes.
type errorResponse struct {
	ErrorMessage string `json:"Error Message"`
}

// FetchEstimates fetches current analyst estimates for a ticker and
// flattens them into one snapshot per (fiscal period, metric). The
// caller assigns CapturedAt. Failures are classified *FetchError
// values.
func (c *Client) FetchEstimates(ctx context.Context, ticker string) ([]history.Snapshot, error) {
	resp, err := c.httpClient.Get(ctx, c.endpoint("analyst-estimates/"+ticker))
	if err != nil {
		// Timeouts and network faults are retryable.
		return nil, transientErr(ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		if httputil.IsRetryableStatus(resp.StatusCode) {
			return nil, transientErr(ticker, err)
		}
		return nil, permanentErr(ticker, err)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr(ticker, fmt.Errorf("read response body: %w", err))
	}

	var rows []estimateRow
	if err := json.Unmarshal(body, &rows); err != nil {
		// FMP reports some errors as a 200 with an object payload.
		var apiErr errorResponse
		if jsonErr := json.Unmarshal(body, &apiErr); jsonErr == nil && apiErr.ErrorMessage != "" {
			return nil, permanentErr(ticker, fmt.Errorf("API error: %s", apiErr.ErrorMessage))
		}
		return nil, permanentErr(ticker, fmt.Errorf("decode response: %w", err))
	}

	if len(rows) == 0 {
		return nil, permanentErr(ticker, fmt.Errorf("no estimates available"))
	}

	if len(rows) > maxFiscalPeriods {
		rows = rows[:maxFiscalPeriods]
	}

	snapshots := make([]history.Snapshot, 0, len(rows)*len(history.Metrics))
	for _, row := range rows {
		if row.Date == "" {
			continue
		}
		snapshots = append(snapshots, rowSnapshots(ticker, row)...)
	}

	if len(snapshots) == 0 {
		return nil, permanentErr(ticker, fmt.Errorf("no usable fiscal periods in response"))
	}

	c.logger.WithFields(map[string]interface{}{
		"ticker":    ticker,
		"snapshots": len(snapshots),
	}).Debug("Fetched estimates")

	return snapshots, nil
}

// rowSnapshots flattens one fiscal period into per-metric snapshots.
func rowSnapshots(ticker string, row estimateRow) []history.Snapshot {
	metrics := []struct {
		metric history.Metric
		value  *float64
	}{
		{history.MetricEPSAvg, row.EstimatedEpsAvg},
		{history.MetricEPSHigh, row.EstimatedEpsHigh},
		{history.MetricEPSLow, row.EstimatedEpsLow},
		{history.MetricRevenueAvg, row.EstimatedRevenueAvg},
		{history.MetricRevenueHigh, row.EstimatedRevenueHigh},
		{history.MetricRevenueLow, row.EstimatedRevenueLow},
		{history.MetricNumAnalystsEPS, row.NumberAnalystsEstimatedEps},
		{history.MetricNumAnalystsRevenue, row.NumberAnalystsEstimatedRevenue},
	}

	snapshots := make([]history.Snapshot, 0, len(metrics))
	for _, m := range metrics {
		value := history.Unavailable()
		if m.value != nil {
			value = history.Num(*m.value)
		}
		snapshots = append(snapshots, history.Snapshot{
			Ticker:       ticker,
			FiscalPeriod: row.Date,
			Metric:       m.metric,
			Value:        value,
		})
	}

	return snapshots
}

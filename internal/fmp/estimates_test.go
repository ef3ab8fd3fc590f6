package fmp

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/targeted-equity/estimates/internal/history"
	"github.com/targeted-equity/estimates/pkg/config"
	"github.com/targeted-equity/estimates/pkg/httputil"
	"github.com/targeted-equity/estimates/pkg/logger"
)

const estimatesJSON = `[
	{
		"symbol": "AAPL",
		"date": "2026-12-31",
		"estimatedEpsAvg": 7.25,
		"estimatedEpsHigh": 7.80,
		"estimatedEpsLow": 6.90,
		"estimatedRevenueAvg": 420000000000,
		"estimatedRevenueHigh": 435000000000,
		"estimatedRevenueLow": 405000000000,
		"numberAnalystsEstimatedEps": 28,
		"numberAnalystsEstimatedRevenue": 26
	},
	{
		"symbol": "AAPL",
		"date": "2027-12-31",
		"estimatedEpsAvg": 8.10,
		"estimatedRevenueAvg": 450000000000
	}
]`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.FMPConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 2 * time.Second,
	}
	return NewClient(cfg, httputil.New(logger.NewNop(), cfg.Timeout), logger.NewNop())
}

func TestFetchEstimatesFlattensMetrics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/analyst-estimates/AAPL", r.URL.Path)
		assert.Equal(t, "test-key", r.URL.Query().Get("apikey"))
		w.Write([]byte(estimatesJSON))
	})

	snapshots, err := client.FetchEstimates(context.Background(), "AAPL")
	require.NoError(t, err)

	// 2 fiscal periods x 8 metrics.
	require.Len(t, snapshots, 16)

	byKey := make(map[string]history.Value)
	for _, s := range snapshots {
		assert.Equal(t, "AAPL", s.Ticker)
		assert.True(t, s.CapturedAt.IsZero(), "CapturedAt is the orchestrator's to assign")
		byKey[s.FiscalPeriod+"|"+string(s.Metric)] = s.Value
	}

	assert.Equal(t, history.Num(7.25), byKey["2026-12-31|eps_avg"])
	assert.Equal(t, history.Num(420e9), byKey["2026-12-31|revenue_avg"])
	assert.Equal(t, history.Num(28), byKey["2026-12-31|num_analysts_eps"])
	assert.Equal(t, history.Num(26), byKey["2026-12-31|num_analysts_revenue"])

	// Metrics missing from the second period come back unavailable.
	assert.Equal(t, history.Num(8.10), byKey["2027-12-31|eps_avg"])
	assert.Equal(t, history.Unavailable(), byKey["2027-12-31|eps_high"])
	assert.Equal(t, history.Unavailable(), byKey["2027-12-31|num_analysts_eps"])
}

func TestFetchEstimatesKeepsFourPeriods(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[
			{"symbol":"AAPL","date":"2026-12-31","estimatedEpsAvg":1},
			{"symbol":"AAPL","date":"2027-12-31","estimatedEpsAvg":2},
			{"symbol":"AAPL","date":"2028-12-31","estimatedEpsAvg":3},
			{"symbol":"AAPL","date":"2029-12-31","estimatedEpsAvg":4},
			{"symbol":"AAPL","date":"2030-12-31","estimatedEpsAvg":5},
			{"symbol":"AAPL","date":"2031-12-31","estimatedEpsAvg":6}
		]`))
	})

	snapshots, err := client.FetchEstimates(context.Background(), "AAPL")
	require.NoError(t, err)

	periods := make(map[string]bool)
	for _, s := range snapshots {
		periods[s.FiscalPeriod] = true
	}
	assert.Len(t, periods, 4)
	assert.False(t, periods["2030-12-31"])
}

func TestFetchEstimatesRateLimitedIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.FetchEstimates(context.Background(), "AAPL")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.True(t, fetchErr.IsTransient())
}

func TestFetchEstimatesServerErrorIsTransient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.FetchEstimates(context.Background(), "AAPL")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.True(t, fetchErr.IsTransient())
}

func TestFetchEstimatesNotFoundIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := client.FetchEstimates(context.Background(), "NOPE")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.IsTransient())
	assert.Equal(t, "NOPE", fetchErr.Ticker)
}

func TestFetchEstimatesAPIErrorPayloadIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API KEY."}`))
	})

	_, err := client.FetchEstimates(context.Background(), "AAPL")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.IsTransient())
	assert.Contains(t, err.Error(), "Invalid API KEY")
}

func TestFetchEstimatesEmptyResponseIsPermanent(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})

	_, err := client.FetchEstimates(context.Background(), "SHEL.L")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.IsTransient())
}

func TestFetchEstimatesTimeoutIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(server.Close)

	cfg := config.FMPConfig{APIKey: "test-key", BaseURL: server.URL, Timeout: 20 * time.Millisecond}
	client := NewClient(cfg, httputil.New(logger.NewNop(), cfg.Timeout), logger.NewNop())

	_, err := client.FetchEstimates(context.Background(), "AAPL")
	require.Error(t, err)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.True(t, fetchErr.IsTransient())
}

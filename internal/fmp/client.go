package fmp

import (
	"fmt"
	"net/url"

	"github.com/targeted-equity/estimates/pkg/config"
	"github.com/targeted-equity/estimates/pkg/httputil"
	"github.com/targeted-equity/estimates/pkg/logger"
)

// Client handles communication with the Financial Modeling Prep API.
// All FMP calls go through this client.
type Client struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	apiKey     string
	baseURL    string
}

// NewClient creates a new FMP API client.
func NewClient(cfg config.FMPConfig, httpClient *httputil.Client, log *logger.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     log.WithField("module", "fmp"),
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
	}
}

// endpoint builds a full request URL with the API key attached.
func (c *Client) endpoint(path string) string {
	return fmt.Sprintf("%s/%s?apikey=%s", c.baseURL, path, url.QueryEscape(c.apiKey))
}

// FetchError is a classified fetch failure. Transient failures
// (timeouts, rate-limit responses, 5xx, network faults) are worth
// retrying; permanent ones (unknown ticker, other 4xx, malformed
// payloads) are not.
type FetchError struct {
	Ticker    string
	Transient bool
	Err       error
}

func (e *FetchError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("fetch %s (%s): %v", e.Ticker, kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether the failure is worth retrying.
func (e *FetchError) IsTransient() bool {
	return e.Transient
}

func transientErr(ticker string, err error) *FetchError {
	return &FetchError{Ticker: ticker, Transient: true, Err: err}
}

func permanentErr(ticker string, err error) *FetchError {
	return &FetchError{Ticker: ticker, Transient: false, Err: err}
}

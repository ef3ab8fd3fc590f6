package universe

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/targeted-equity/estimates/pkg/httputil"
	"github.com/targeted-equity/estimates/pkg/logger"
)

const sp500SourceURL = "https://en.wikipedia.org/wiki/List_of_S%26P_500_companies"

// Constituent is one row of the S&P 500 membership table.
type Constituent struct {
	Symbol   string
	Security string
	Sector   string
}

// SP500Refresher rewrites the sp500 universe file from the Wikipedia
// constituents table. Refresh is a separate explicit command; the
// Provider itself never touches the network.
type SP500Refresher struct {
	httpClient *httputil.Client
	logger     *logger.Logger
	sourceURL  string
}

// NewSP500Refresher creates a refresher using the given HTTP client.
func NewSP500Refresher(httpClient *httputil.Client, log *logger.Logger) *SP500Refresher {
	return &SP500Refresher{
		httpClient: httpClient,
		logger:     log.WithField("module", "universe"),
		sourceURL:  sp500SourceURL,
	}
}

// Refresh fetches the current constituents and rewrites the sp500
// universe file under dir. Returns the number of constituents written.
func (r *SP500Refresher) Refresh(ctx context.Context, dir string) (int, error) {
	constituents, err := r.fetch(ctx)
	if err != nil {
		return 0, err
	}

	path := filepath.Join(dir, universeFiles["sp500"])
	if err := writeConstituents(path, constituents); err != nil {
		return 0, err
	}

	r.logger.WithFields(map[string]interface{}{
		"constituents": len(constituents),
		"path":         path,
	}).Info("Refreshed S&P 500 universe")

	return len(constituents), nil
}

// fetch downloads and parses the constituents table.
func (r *SP500Refresher) fetch(ctx context.Context) ([]Constituent, error) {
	resp, err := r.httpClient.Get(ctx, r.sourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch constituents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch constituents: unexpected status code: %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse constituents page: %w", err)
	}

	var constituents []Constituent
	doc.Find("table#constituents tbody tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return // header row
		}

		symbol := strings.TrimSpace(cells.Eq(0).Text())
		if symbol == "" {
			return
		}

		constituents = append(constituents, Constituent{
			// Wikipedia uses dots in class shares (BRK.B); FMP uses dashes.
			Symbol:   strings.ReplaceAll(symbol, ".", "-"),
			Security: strings.TrimSpace(cells.Eq(1).Text()),
			Sector:   strings.TrimSpace(cells.Eq(2).Text()),
		})
	})

	if len(constituents) == 0 {
		return nil, fmt.Errorf("parse constituents page: no rows found in constituents table")
	}

	return constituents, nil
}

// writeConstituents writes the universe CSV atomically (write to a
// temp file, then rename) so a concurrent resolve never sees a
// half-written file.
func writeConstituents(path string, constituents []Constituent) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "sp500-*.csv")
	if err != nil {
		return fmt.Errorf("write universe file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	for _, c := range constituents {
		if err := w.Write([]string{c.Symbol, c.Security, c.Sector}); err != nil {
			tmp.Close()
			return fmt.Errorf("write universe file: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write universe file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write universe file: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write universe file: %w", err)
	}

	return nil
}

package universe

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/targeted-equity/estimates/pkg/logger"
)

// ErrUnknownUniverse is returned by Resolve for unrecognized universe
// names. It is fatal to a capture run.
var ErrUnknownUniverse = errors.New("unknown universe")

// universeFiles maps universe names to the CSV file backing each one.
// Files have no header row; column 0 is the ticker, remaining columns
// (name, exchange/sector) are ignored by the resolver.
var universeFiles = map[string]string{
	"master":     "master_universe.csv",
	"sp500":      "sp500.csv",
	"broad":      "index_broad_us.csv",
	"disruption": "disruption_index.csv",
}

// Provider resolves a named universe to an ordered, deduplicated list
// of tickers. Resolution is a pure file lookup: deterministic for a
// given backing directory, no network calls. The orchestrator resolves
// once at run start and treats the list as fixed for that run.
type Provider struct {
	dir    string
	logger *logger.Logger
}

// NewProvider creates a provider over the given universe directory.
func NewProvider(dir string, log *logger.Logger) *Provider {
	return &Provider{
		dir:    dir,
		logger: log.WithField("module", "universe"),
	}
}

// Names returns the recognized universe names, sorted.
func (p *Provider) Names() []string {
	names := make([]string, 0, len(universeFiles))
	for name := range universeFiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the universe's tickers in file order, deduplicated,
// normalized to FMP format.
func (p *Provider) Resolve(name string) ([]string, error) {
	file, ok := universeFiles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %s)",
			ErrUnknownUniverse, name, strings.Join(p.Names(), ", "))
	}

	path := filepath.Join(p.dir, file)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open universe file %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // universe files vary in column count

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read universe file %s: %w", path, err)
	}

	seen := make(map[string]bool)
	tickers := make([]string, 0, len(rows))
	unknownExchanges := 0

	for _, row := range rows {
		if len(row) == 0 {
			continue
		}

		raw := strings.TrimSpace(row[0])
		if raw == "" || isHeaderCell(raw) {
			continue
		}

		ticker, ok := NormalizeTicker(raw)
		if !ok {
			unknownExchanges++
			p.logger.WithField("ticker", raw).Warn("Unknown exchange code, using bare symbol")
		}
		if ticker == "" || seen[ticker] {
			continue
		}

		seen[ticker] = true
		tickers = append(tickers, ticker)
	}

	if len(tickers) == 0 {
		return nil, fmt.Errorf("universe %q resolved to zero tickers from %s", name, path)
	}

	p.logger.WithFields(map[string]interface{}{
		"universe":          name,
		"tickers":           len(tickers),
		"unknown_exchanges": unknownExchanges,
	}).Info("Resolved universe")

	return tickers, nil
}

// isHeaderCell filters accidental header rows in hand-maintained files.
func isHeaderCell(cell string) bool {
	switch strings.ToLower(cell) {
	case "ticker", "symbol":
		return true
	}
	return false
}

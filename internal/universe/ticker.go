package universe

import "strings"

// exchangeCodes maps Bloomberg-style exchange suffixes in universe
// files to FMP ticker suffixes.
var exchangeCodes = map[string]string{
	"LN": ".L",  // London
	"GY": ".DE", // Germany (Xetra)
	"FP": ".PA", // France (Paris)
	"NA": ".AS", // Netherlands (Amsterdam)
	"DC": ".CO", // Denmark (Copenhagen)
	"SE": ".SW", // Switzerland
	"SQ": ".MC", // Spain (Madrid)
	"IM": ".MI", // Italy (Milan)
	"BB": ".BR", // Belgium (Brussels)
	"SS": ".ST", // Sweden (Stockholm)
	"FH": ".HE", // Finland (Helsinki)
	"NO": ".OL", // Norway (Oslo)
	"AT": ".VI", // Austria (Vienna)
	"PL": ".WA", // Poland (Warsaw)
	"AU": ".AX", // Australia (ASX)
	"HK": ".HK", // Hong Kong
	"JP": ".T",  // Japan (Tokyo)
	"CN": ".SS", // China (Shanghai)
	"SZ": ".SZ", // China (Shenzhen)
	"TO": ".TO", // Canada (Toronto)
	"V":  ".V",  // Canada (TSX Venture)
}

// NormalizeTicker converts a ticker from "SYMBOL EXCHANGE" universe
// format to FMP API format:
//
//	"AZN LN"  -> "AZN.L"
//	"BP/ LN"  -> "BP.L"
//	"AAPL"    -> "AAPL"
//
// The second return value is false when the exchange code is unknown;
// the bare symbol is returned so the caller can decide whether to keep
// it.
func NormalizeTicker(ticker string) (string, bool) {
	ticker = strings.TrimSpace(ticker)

	idx := strings.LastIndex(ticker, " ")
	if idx < 0 {
		return ticker, true
	}

	// Symbols may carry embedded slashes ("BP/ LN"); strip them.
	symbol := strings.ReplaceAll(strings.TrimSpace(ticker[:idx]), "/", "")
	code := ticker[idx+1:]

	suffix, ok := exchangeCodes[code]
	if !ok {
		return symbol, false
	}

	return symbol + suffix, true
}

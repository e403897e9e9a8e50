// market/instruments.go
package market

import (
	"fmt"
	"strings"
)

type InstrumentMeta struct {
	Name          string
	BaseCurrency  string
	QuoteCurrency string
	PipLocation   int
}

func meta(base, quote string, pip int) InstrumentMeta {
	return InstrumentMeta{
		Name:          base + "_" + quote,
		BaseCurrency:  base,
		QuoteCurrency: quote,
		PipLocation:   pip,
	}
}

var Instruments = map[string]InstrumentMeta{
	"EUR_USD": meta("EUR", "USD", -4),
	"GBP_USD": meta("GBP", "USD", -4),
	"AUD_USD": meta("AUD", "USD", -4),
	"NZD_USD": meta("NZD", "USD", -4),
	"USD_JPY": meta("USD", "JPY", -2),
	"USD_CHF": meta("USD", "CHF", -4),
	"USD_CAD": meta("USD", "CAD", -4),
	"EUR_GBP": meta("EUR", "GBP", -4),
	"EUR_JPY": meta("EUR", "JPY", -2),
	"GBP_JPY": meta("GBP", "JPY", -2),
}

// Normalize turns "eur/usd", "EURUSD" or "EUR_USD" into "EUR_USD".
func Normalize(pair string) string {
	p := strings.ToUpper(strings.TrimSpace(pair))
	p = strings.NewReplacer("/", "_", "-", "_").Replace(p)
	if len(p) == 6 && !strings.Contains(p, "_") {
		p = p[:3] + "_" + p[3:]
	}
	return p
}

// Lookup returns instrument metadata for pair. Pairs missing from the table
// are derived from their BASE_QUOTE name.
func Lookup(pair string) (InstrumentMeta, error) {
	name := Normalize(pair)
	if m, ok := Instruments[name]; ok {
		return m, nil
	}
	parts := strings.Split(name, "_")
	if len(parts) != 2 || len(parts[0]) != 3 || len(parts[1]) != 3 {
		return InstrumentMeta{}, fmt.Errorf("unknown instrument %s", pair)
	}
	pip := -4
	if parts[1] == "JPY" {
		pip = -2
	}
	return meta(parts[0], parts[1], pip), nil
}

// QuoteToAccountRate converts one unit of the quote currency into the
// account currency using the pair's own price. Crosses need a third rate and
// report ok=false; see History.QuoteRate.
func QuoteToAccountRate(m InstrumentMeta, accountCurrency string, price float64) (rate float64, ok bool) {
	switch {
	case m.QuoteCurrency == accountCurrency:
		return 1.0, true
	case m.BaseCurrency == accountCurrency && price > 0:
		// USD_JPY mid gives JPY per USD, we want USD per JPY
		return 1.0 / price, true
	default:
		return 0, false
	}
}

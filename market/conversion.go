package market

import (
	"errors"
	"fmt"
)

// ErrNoConversion means no price in hand links a currency to the account
// currency.
var ErrNoConversion = errors.New("no conversion rate")

// CurrencyRate returns the account-currency value of one unit of ccy from the
// latest close of ACCT_CCY or CCY_ACCT in h.
func (h History) CurrencyRate(ccy, accountCurrency string) (float64, bool) {
	if ccy == accountCurrency {
		return 1.0, true
	}
	// USD_JPY gives JPY per USD
	if px, ok := h.LastClose(accountCurrency + "_" + ccy); ok && px > 0 {
		return 1.0 / px, true
	}
	if px, ok := h.LastClose(ccy + "_" + accountCurrency); ok && px > 0 {
		return px, true
	}
	return 0, false
}

// QuoteRate converts one unit of m's quote currency into the account
// currency. Pairs quoted in or based on the account currency use price;
// crosses such as EUR_JPY need the quote currency's USD pair in h.
func (h History) QuoteRate(m InstrumentMeta, accountCurrency string, price float64) (float64, error) {
	if rate, ok := QuoteToAccountRate(m, accountCurrency, price); ok {
		return rate, nil
	}
	if rate, ok := h.CurrencyRate(m.QuoteCurrency, accountCurrency); ok {
		return rate, nil
	}
	return 0, fmt.Errorf("%s: %s to %s: %w", m.Name, m.QuoteCurrency, accountCurrency, ErrNoConversion)
}

// ConversionPair names the instrument that prices ccy in accountCurrency,
// preferring a listed one. It is empty when ccy is the account currency.
func ConversionPair(ccy, accountCurrency string) string {
	if ccy == accountCurrency {
		return ""
	}
	if _, ok := Instruments[ccy+"_"+accountCurrency]; ok {
		return ccy + "_" + accountCurrency
	}
	return accountCurrency + "_" + ccy
}

// Package portfolio holds the snapshot types supplied by the external
// portfolio manager. The risk components read them and never mutate them.
package portfolio

import (
	"math"
	"strings"
	"time"

	"github.com/rustyeddy/fxrisk/market"
)

type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

type Position struct {
	ID            string    `json:"id" yaml:"id"`
	Pair          string    `json:"pair" yaml:"pair"`
	Direction     Direction `json:"direction" yaml:"direction"`
	EntryPrice    float64   `json:"entry_price" yaml:"entry_price"`
	Size          float64   `json:"size" yaml:"size"` // units of base currency, signed
	StopLoss      float64   `json:"stop_loss" yaml:"stop_loss"`
	TakeProfit    float64   `json:"take_profit" yaml:"take_profit"`
	EntryTime     time.Time `json:"entry_time" yaml:"entry_time"`
	StrategyName  string    `json:"strategy_name" yaml:"strategy_name"`
	UnrealizedPnL float64   `json:"unrealized_pnl" yaml:"unrealized_pnl"`
}

// Sign is +1 for long exposure and -1 for short. Direction wins over the
// sign of Size when both are set.
func (p Position) Sign() float64 {
	switch Direction(strings.ToUpper(string(p.Direction))) {
	case Long:
		return 1
	case Short:
		return -1
	}
	if p.Size < 0 {
		return -1
	}
	return 1
}

// Units is the absolute position size.
func (p Position) Units() float64 {
	return math.Abs(p.Size)
}

// Notional is the absolute position value in the account currency at price.
// A non-positive price falls back to the entry price. Crosses are converted
// through rates; without a usable rate the error wraps market.ErrNoConversion.
func (p Position) Notional(price float64, accountCurrency string, rates market.History) (float64, error) {
	if price <= 0 {
		price = p.EntryPrice
	}
	if price <= 0 {
		return 0, nil
	}
	m, err := market.Lookup(p.Pair)
	if err != nil {
		return 0, err
	}
	rate, err := rates.QuoteRate(m, accountCurrency, price)
	if err != nil {
		return 0, err
	}
	return p.Units() * price * rate, nil
}

// SignedNotional is Notional with the position direction applied.
func (p Position) SignedNotional(price float64, accountCurrency string, rates market.History) (float64, error) {
	n, err := p.Notional(price, accountCurrency, rates)
	return p.Sign() * n, err
}

// Package indicators provides the volatility measures used by the risk monitors.
package indicators

import "github.com/rustyeddy/fxrisk/market"

// Indicator folds closed candles into a single value, one candle at a time.
type Indicator interface {
	// Name is a stable label such as "ATR(14)", used in logs.
	Name() string

	// Warmup is the number of candles needed before Ready.
	Warmup() int

	Reset()

	// Update consumes the next closed candle.
	Update(c market.Candle)

	Ready() bool

	// Value is 0 until Ready.
	Value() float64
}

package market

import "time"

// Candle represents OHLC (Open, High, Low, Close) candlestick data
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Valid reports whether the candle carries usable, ordered prices.
func (c Candle) Valid() bool {
	if c.Open <= 0 || c.High <= 0 || c.Low <= 0 || c.Close <= 0 {
		return false
	}
	return c.High >= c.Low
}

// History maps a pair to its candles ordered oldest to newest.
type History map[string][]Candle

// Tail returns at most the last n candles for pair.
func (h History) Tail(pair string, n int) []Candle {
	cs := h[pair]
	if n <= 0 || len(cs) <= n {
		return cs
	}
	return cs[len(cs)-n:]
}

// LastClose returns the most recent close for pair.
func (h History) LastClose(pair string) (float64, bool) {
	cs := h[pair]
	if len(cs) == 0 {
		return 0, false
	}
	return cs[len(cs)-1].Close, true
}

// Closes extracts the close series from candles.
func Closes(candles []Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

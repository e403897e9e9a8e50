package indicators

import (
	"fmt"
	"math"

	"github.com/rustyeddy/fxrisk/market"
	"gonum.org/v1/gonum/stat"
)

// Returns computes simple close-to-close returns. Steps off a non-positive
// close are skipped.
func Returns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev := closes[i-1]
		if prev <= 0 || closes[i] <= 0 {
			continue
		}
		out = append(out, (closes[i]-prev)/prev)
	}
	return out
}

// Volatility is the sample standard deviation of the last period returns.
func Volatility(candles []market.Candle, period int) (float64, error) {
	if period < 2 {
		return 0, fmt.Errorf("period must be at least 2, got %d", period)
	}
	if len(candles) < period+1 {
		return 0, fmt.Errorf("not enough candles: need %d, got %d", period+1, len(candles))
	}
	rets := Returns(market.Closes(candles[len(candles)-period-1:]))
	if len(rets) < 2 {
		return 0, fmt.Errorf("not enough valid returns: %d", len(rets))
	}
	sd := stat.StdDev(rets, nil)
	if math.IsNaN(sd) {
		return 0, fmt.Errorf("volatility is NaN")
	}
	return sd, nil
}

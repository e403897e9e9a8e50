package risk

// EUR_USD → quote = USD → QuoteToAccount = 1.0
// USD_JPY → quote = JPY → QuoteToAccount = 1 / USDJPY_mid

import "math"

// Inputs describe a fixed-fractional sizing request. The resulting units are
// the base size handed to the emergency manager for throttling.
type Inputs struct {
	Equity         float64
	RiskPct        float64 // 0.005
	EntryPrice     float64
	StopPrice      float64
	PipLocation    int
	QuoteToAccount float64 // USD quote → 1.0, JPY quote → JPYUSD
}

type Result struct {
	Units      float64
	StopPips   float64
	RiskAmount float64
}

// PipSize returns the pip size for a given pip location.
func PipSize(loc int) float64 {
	return math.Pow(10, float64(loc))
}

// Calculate sizes a position so that hitting the stop loses RiskPct of
// equity. A zero stop distance yields zero units.
func Calculate(in Inputs) Result {
	pip := PipSize(in.PipLocation)
	stopPips := math.Abs(in.EntryPrice-in.StopPrice) / pip
	riskAmt := in.Equity * in.RiskPct

	res := Result{StopPips: stopPips, RiskAmount: riskAmt}
	pipValuePerUnit := pip * in.QuoteToAccount
	if stopPips == 0 || pipValuePerUnit <= 0 || riskAmt <= 0 {
		return res
	}

	res.Units = math.Floor(riskAmt / (stopPips * pipValuePerUnit))
	return res
}

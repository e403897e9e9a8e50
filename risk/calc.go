package risk

import "math"

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// PlannedRiskUSD computes absolute account-currency risk if the stop is hit.
func PlannedRiskUSD(units, entry, stop, quoteToAccountRate float64) float64 {
	move := abs(entry - stop) // quote currency per unit of base
	return abs(units) * move * quoteToAccountRate
}

// RR is the reward:risk ratio of a bracket. 0 when there is no risk leg.
func RR(entry, stop, takeProfit float64) float64 {
	risk := abs(entry - stop)
	reward := abs(takeProfit - entry)
	if risk == 0 {
		return 0
	}
	return reward / risk
}

func RiskPct(plannedRiskUSD, equity float64) float64 {
	if equity <= 0 {
		return math.Inf(1)
	}
	return plannedRiskUSD / equity
}

package emergency

import (
	"math"

	"github.com/rustyeddy/fxrisk/risk"
	"go.uber.org/zap"
)

type sizeOptions struct {
	volatility     float64
	hasVolatility  bool
	correlation    float64
	hasCorrelation bool
}

type SizeOption func(*sizeOptions)

// WithVolatility scales size down when vol is above the reference volatility.
func WithVolatility(vol float64) SizeOption {
	return func(o *sizeOptions) {
		o.volatility = vol
		o.hasVolatility = true
	}
}

// WithCorrelation discounts size by the pair's correlation to the rest of
// the book.
func WithCorrelation(corr float64) SizeOption {
	return func(o *sizeOptions) {
		o.correlation = corr
		o.hasCorrelation = true
	}
}

// CalculatePositionSize applies the level multiplier and the optional
// volatility and correlation factors to base. It is 0 whenever the level
// stops trading.
func (m *Manager) CalculatePositionSize(base float64, pair string, opts ...SizeOption) float64 {
	p := m.Protocol()
	if p.StopTrading || !(base > 0) || math.IsInf(base, 0) {
		return 0
	}

	var o sizeOptions
	for _, f := range opts {
		f(&o)
	}

	size := base * p.PositionSizeMultiplier
	volFactor, corrFactor := 1.0, 1.0

	if o.hasVolatility && o.volatility > 0 && !math.IsInf(o.volatility, 0) {
		volFactor = math.Min(1, math.Max(m.cfg.VolatilityFloor, m.cfg.ReferenceVolatility/o.volatility))
	}
	if o.hasCorrelation && !math.IsNaN(o.correlation) {
		c := math.Min(1, math.Abs(o.correlation))
		corrFactor = math.Max(m.cfg.CorrelationFloor, 1-m.cfg.CorrelationPenalty*c)
	}
	size *= volFactor * corrFactor

	m.log.Debug("position size",
		zap.String("pair", pair),
		zap.Float64("base", base),
		zap.Float64("multiplier", p.PositionSizeMultiplier),
		zap.Float64("volatility_factor", volFactor),
		zap.Float64("correlation_factor", corrFactor),
		zap.Float64("size", size))
	return size
}

// ValidateSignal passes the signal gate and requires that trading is not
// stopped.
func (m *Manager) ValidateSignal(signal int, atr, rewardRisk float64) bool {
	if m.Protocol().StopTrading {
		return false
	}
	return m.cfg.Gate.Evaluate(signal, atr, rewardRisk).Allowed
}

// ValidateTrade is ValidateSignal with reward:risk derived from the order
// levels.
func (m *Manager) ValidateTrade(signal int, atr, entry, stop, takeProfit float64) bool {
	return m.ValidateSignal(signal, atr, risk.RR(entry, stop, takeProfit))
}

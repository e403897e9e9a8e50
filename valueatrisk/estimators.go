package valueatrisk

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Estimator turns a return series into a loss estimate for a position of
// the given value. The set is closed: only this package implements it.
type Estimator interface {
	Method() Method
	Calculate(returns []float64, value, confidence float64) (float64, error)
	estimator()
}

// Estimators builds the three estimators for cfg.
func (c Config) Estimators() []Estimator {
	return []Estimator{
		historical{},
		parametric{},
		monteCarlo{simulations: c.Simulations, seed: c.Seed},
	}
}

type historical struct{}

func (historical) Method() Method { return Historical }
func (historical) estimator()     {}

func (historical) Calculate(returns []float64, value, confidence float64) (float64, error) {
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}
	pnl := make([]float64, len(returns))
	for i, r := range returns {
		pnl[i] = value * r
	}
	return lossQuantile(pnl, confidence)
}

type parametric struct{}

func (parametric) Method() Method { return Parametric }
func (parametric) estimator()     {}

func (parametric) Calculate(returns []float64, value, confidence float64) (float64, error) {
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}
	sigma := stat.StdDev(returns, nil)
	if math.IsNaN(sigma) || math.IsInf(sigma, 0) {
		return 0, fmt.Errorf("parametric sigma: %w", ErrNumerical)
	}
	return value * ZScore(confidence) * sigma, nil
}

type monteCarlo struct {
	simulations int
	seed        uint64
}

func (monteCarlo) Method() Method { return MonteCarlo }
func (monteCarlo) estimator()     {}

func (m monteCarlo) Calculate(returns []float64, value, confidence float64) (float64, error) {
	if len(returns) < 2 {
		return 0, ErrInsufficientData
	}
	mean, sigma := stat.MeanStdDev(returns, nil)
	if math.IsNaN(sigma) || math.IsNaN(mean) {
		return 0, fmt.Errorf("monte carlo moments: %w", ErrNumerical)
	}

	seed := m.seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	dist := distuv.Normal{Mu: mean, Sigma: sigma, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)}

	n := m.simulations
	if n <= 0 {
		n = 1000
	}
	pnl := make([]float64, n)
	for i := range pnl {
		pnl[i] = value * dist.Rand()
	}
	return lossQuantile(pnl, confidence)
}

// lossQuantile returns the loss at the (1-confidence) tail of a P&L sample
// as a positive number.
func lossQuantile(pnl []float64, confidence float64) (float64, error) {
	sorted := slices.Clone(pnl)
	slices.Sort(sorted)
	q := stat.Quantile(1-confidence, stat.Empirical, sorted, nil)
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return 0, fmt.Errorf("quantile: %w", ErrNumerical)
	}
	return -q, nil
}

// ZScore is the one-sided standard normal quantile for confidence
// (1.645 at 0.95).
func ZScore(confidence float64) float64 {
	return distuv.UnitNormal.Quantile(confidence)
}

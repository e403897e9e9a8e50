// Package valueatrisk estimates one-day portfolio Value-at-Risk with a closed
// set of estimators (historical, parametric, Monte Carlo) and checks the
// estimates against a daily risk budget.
package valueatrisk

import (
	"errors"
	"fmt"
	"time"
)

// PortfolioPair labels aggregate results.
const PortfolioPair = "PORTFOLIO"

type Method string

const (
	Historical Method = "historical"
	Parametric Method = "parametric"
	MonteCarlo Method = "monte_carlo"
)

// Methods lists every estimator in reporting order.
var Methods = []Method{Historical, Parametric, MonteCarlo}

var (
	// ErrInsufficientData is soft: callers turn it into a zero result flagged
	// Insufficient, never into "no risk".
	ErrInsufficientData = errors.New("insufficient return history")
	ErrNumerical        = errors.New("numerical failure")
)

// Result is a single VaR estimate in account currency.
type Result struct {
	Method          Method    `json:"method"`
	Value           float64   `json:"value"`
	ConfidenceLevel float64   `json:"confidence_level"`
	Timestamp       time.Time `json:"timestamp"`
	Pair            string    `json:"pair"`
	PositionSize    float64   `json:"position_size"` // gross exposure the estimate applies to
	Volatility      float64   `json:"volatility"`
	Samples         int       `json:"samples"`
	Insufficient    bool      `json:"insufficient"`
	Stale           bool      `json:"stale"` // carried from an earlier cycle after the estimator failed
}

type Config struct {
	ConfidenceLevel float64       `json:"confidence_level" yaml:"confidence_level"`
	TargetDailyVaR  float64       `json:"target_daily_var" yaml:"target_daily_var"` // fraction of balance
	Lookback        int           `json:"lookback" yaml:"lookback"`
	MinSamples      int           `json:"min_samples" yaml:"min_samples"`
	Simulations     int           `json:"simulations" yaml:"simulations"`
	Seed            uint64        `json:"seed" yaml:"seed"` // 0 seeds from the clock
	StaleAfter      time.Duration `json:"stale_after" yaml:"stale_after"`
	AccountCurrency string        `json:"account_currency" yaml:"account_currency"`
}

func DefaultConfig() Config {
	return Config{
		ConfidenceLevel: 0.95,
		TargetDailyVaR:  0.0031,
		Lookback:        252,
		MinSamples:      30,
		Simulations:     1000,
		Seed:            42,
		StaleAfter:      15 * time.Minute,
		AccountCurrency: "USD",
	}
}

func (c Config) Validate() error {
	if c.ConfidenceLevel <= 0.5 || c.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence_level must be in (0.5, 1), got %v", c.ConfidenceLevel)
	}
	if c.TargetDailyVaR <= 0 || c.TargetDailyVaR >= 1 {
		return fmt.Errorf("target_daily_var must be in (0, 1), got %v", c.TargetDailyVaR)
	}
	if c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2")
	}
	if c.Lookback < c.MinSamples {
		return fmt.Errorf("lookback %d is shorter than min_samples %d", c.Lookback, c.MinSamples)
	}
	if c.Simulations < 100 {
		return fmt.Errorf("simulations must be at least 100")
	}
	if c.AccountCurrency == "" {
		return fmt.Errorf("account_currency is required")
	}
	return nil
}

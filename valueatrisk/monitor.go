package valueatrisk

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/portfolio"
	"github.com/rustyeddy/fxrisk/risk"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// Monitor runs the estimators over portfolio snapshots and caches the most
// recent results for status queries.
type Monitor struct {
	cfg        Config
	log        *zap.Logger
	now        func() time.Time
	estimators []Estimator

	mu       sync.RWMutex
	latest   map[Method]Result
	balance  float64
	lastCalc time.Time
	failed   []Method
	breaches int
}

type Option func(*Monitor)

func WithLogger(l *zap.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(cfg Config, opts ...Option) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("var config: %w", err)
	}
	m := &Monitor{
		cfg:        cfg,
		log:        zap.NewNop(),
		now:        time.Now,
		estimators: cfg.Estimators(),
		latest:     make(map[Method]Result),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.Named("var")
	return m, nil
}

func (m *Monitor) Config() Config { return m.cfg }

// CalculatePortfolioVaR estimates VaR for the snapshot using history for
// returns. An empty portfolio yields an empty map. A failing estimator is
// logged and its last good result is carried forward flagged Stale; with no
// earlier result it is left out. The others still report.
func (m *Monitor) CalculatePortfolioVaR(state portfolio.State, history market.History) map[Method]Result {
	out := make(map[Method]Result)
	if state.Empty() {
		m.Record(out, state.TotalBalance)
		return out
	}

	returns, value := m.portfolioReturns(state, history)
	ts := m.now().UTC()
	vol := 0.0
	if len(returns) >= 2 {
		vol = stat.StdDev(returns, nil)
	}

	prev := m.Latest()
	var failed []Method
	for _, est := range m.estimators {
		res := Result{
			Method:          est.Method(),
			ConfidenceLevel: m.cfg.ConfidenceLevel,
			Timestamp:       ts,
			Pair:            PortfolioPair,
			PositionSize:    value,
			Volatility:      vol,
			Samples:         len(returns),
		}

		if len(returns) < m.cfg.MinSamples || value <= 0 {
			res.Insufficient = true
			out[res.Method] = res
			continue
		}

		v, err := m.run(est, returns, value)
		switch {
		case errors.Is(err, ErrInsufficientData):
			res.Insufficient = true
		case err != nil:
			m.log.Warn("estimator failed", zap.String("method", string(res.Method)), zap.Error(err))
			failed = append(failed, res.Method)
			if last, ok := prev[res.Method]; ok && !last.Insufficient {
				last.Stale = true
				out[res.Method] = last
			}
			continue
		default:
			res.Value = clamp(v, 0, value)
		}
		out[res.Method] = res
	}

	m.mu.Lock()
	m.failed = failed
	m.mu.Unlock()
	m.Record(out, state.TotalBalance)

	m.log.Debug("portfolio var calculated",
		zap.Int("samples", len(returns)),
		zap.Float64("exposure", value),
		zap.Int("methods", len(out)))
	return out
}

// run isolates one estimator, turning panics into errors.
func (m *Monitor) run(est Estimator, returns []float64, value float64) (v float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v: %w", est.Method(), r, ErrNumerical)
		}
	}()
	v, err = est.Calculate(returns, value, m.cfg.ConfidenceLevel)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("%s returned %v: %w", est.Method(), v, ErrNumerical)
	}
	return v, err
}

// portfolioReturns weights each held pair's returns by signed notional over
// gross exposure. Legs are joined on candle time, so a lagging or gapped
// series never pairs returns from different days. Legs that cannot be priced
// in the account currency are logged and left out.
func (m *Monitor) portfolioReturns(state portfolio.State, history market.History) ([]float64, float64) {
	type leg struct {
		signed float64
		closes map[int64]float64
	}

	var legs []leg
	gross := 0.0
	for _, pair := range state.Pairs() {
		pos, _ := state.Position(pair)
		candles := history.Tail(pair, m.cfg.Lookback+1)
		if len(candles) < 2 {
			m.log.Debug("no return history", zap.String("pair", pair))
			continue
		}
		px, _ := history.LastClose(pair)
		signed, err := pos.SignedNotional(px, m.cfg.AccountCurrency, history)
		if err != nil {
			m.log.Warn("leg left out of var", zap.String("pair", pair), zap.Error(err))
			continue
		}
		if signed == 0 {
			continue
		}
		closes := make(map[int64]float64, len(candles))
		for _, c := range candles {
			if c.Close > 0 {
				closes[c.Time.Unix()] = c.Close
			}
		}
		legs = append(legs, leg{signed: signed, closes: closes})
		gross += math.Abs(signed)
	}
	if len(legs) == 0 || gross == 0 {
		return nil, 0
	}

	var times []int64
	for ts := range legs[0].closes {
		shared := true
		for _, l := range legs[1:] {
			if _, ok := l.closes[ts]; !ok {
				shared = false
				break
			}
		}
		if shared {
			times = append(times, ts)
		}
	}
	slices.Sort(times)
	if len(times) < 2 {
		return nil, gross
	}

	out := make([]float64, len(times)-1)
	for _, l := range legs {
		w := l.signed / gross
		for i := 1; i < len(times); i++ {
			prev, cur := l.closes[times[i-1]], l.closes[times[i]]
			out[i-1] += w * (cur - prev) / prev
		}
	}
	return out, gross
}

// Record stores results as the latest estimate for balance.
func (m *Monitor) Record(results map[Method]Result, balance float64) {
	cp := make(map[Method]Result, len(results))
	for k, v := range results {
		cp[k] = v
	}
	m.mu.Lock()
	m.latest = cp
	m.balance = balance
	m.lastCalc = m.now()
	m.mu.Unlock()
}

// Latest returns a copy of the cached results.
func (m *Monitor) Latest() map[Method]Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[Method]Result, len(m.latest))
	for k, v := range m.latest {
		cp[k] = v
	}
	return cp
}

// BreachThreshold is the daily loss budget in account currency.
func (m *Monitor) BreachThreshold(balance float64) float64 {
	return m.cfg.TargetDailyVaR * balance
}

// CheckVaRBreaches compares the latest results with the budget.
func (m *Monitor) CheckVaRBreaches() map[Method]bool {
	m.mu.RLock()
	results, balance := m.latest, m.balance
	m.mu.RUnlock()

	breaches := m.CheckBreaches(results, balance)
	count := 0
	for _, b := range breaches {
		if b {
			count++
		}
	}
	m.mu.Lock()
	m.breaches = count
	m.mu.Unlock()
	return breaches
}

// CheckBreaches is the pure form of CheckVaRBreaches.
func (m *Monitor) CheckBreaches(results map[Method]Result, balance float64) map[Method]bool {
	threshold := m.BreachThreshold(balance)
	out := make(map[Method]bool, len(results))
	for method, r := range results {
		out[method] = !r.Insufficient && r.Value > threshold
	}
	return out
}

// GenerateVaRAlerts emits one alert per breached method.
func (m *Monitor) GenerateVaRAlerts(breaches map[Method]bool) []risk.Alert {
	m.mu.RLock()
	results, balance := m.latest, m.balance
	m.mu.RUnlock()

	threshold := m.BreachThreshold(balance)
	ts := m.now().UTC()

	var alerts []risk.Alert
	for _, method := range Methods {
		if !breaches[method] {
			continue
		}
		r := results[method]
		ratio := math.Inf(1)
		if threshold > 0 {
			ratio = r.Value / threshold
		}
		alerts = append(alerts, risk.Alert{
			Type:     risk.AlertVaRBreach,
			Severity: breachSeverity(ratio),
			Message: fmt.Sprintf("%s VaR %.2f exceeds daily budget %.2f (%.0f%%)",
				method, r.Value, threshold, 100*ratio),
			Context: map[string]any{
				"method":     string(method),
				"var":        r.Value,
				"threshold":  threshold,
				"ratio":      ratio,
				"confidence": r.ConfidenceLevel,
			},
			Timestamp: ts,
		})
	}
	return alerts
}

func breachSeverity(ratio float64) risk.Severity {
	switch {
	case ratio >= 2:
		return risk.SeverityCritical
	case ratio >= 1.5:
		return risk.SeverityHigh
	default:
		return risk.SeverityMedium
	}
}

// Summary is the health snapshot of the monitor.
type Summary struct {
	ConfidenceLevel float64           `json:"confidence_level"`
	TargetDailyVaR  float64           `json:"target_daily_var"`
	Lookback        int               `json:"lookback"`
	Simulations     int               `json:"simulations"`
	Threshold       float64           `json:"threshold"`
	LastCalculated  time.Time         `json:"last_calculated"`
	BreachCount     int               `json:"breach_count"`
	FailedMethods   []Method          `json:"failed_methods,omitempty"`
	Results         map[Method]Result `json:"results"`
	Stale           bool              `json:"stale"`
}

func (m *Monitor) Summary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[Method]Result, len(m.latest))
	for k, v := range m.latest {
		results[k] = v
	}
	stale := m.lastCalc.IsZero() ||
		(m.cfg.StaleAfter > 0 && m.now().Sub(m.lastCalc) > m.cfg.StaleAfter)

	return Summary{
		ConfidenceLevel: m.cfg.ConfidenceLevel,
		TargetDailyVaR:  m.cfg.TargetDailyVaR,
		Lookback:        m.cfg.Lookback,
		Simulations:     m.cfg.Simulations,
		Threshold:       m.cfg.TargetDailyVaR * m.balance,
		LastCalculated:  m.lastCalc,
		BreachCount:     m.breaches,
		FailedMethods:   append([]Method(nil), m.failed...),
		Results:         results,
		Stale:           stale,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

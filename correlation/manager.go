// Package correlation watches pairwise return correlation between held
// positions and recommends size cuts when diversification breaks down.
package correlation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/portfolio"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

type Config struct {
	Lookback           int     `json:"lookback" yaml:"lookback"` // candles, daily by convention
	WarningThreshold   float64 `json:"warning_threshold" yaml:"warning_threshold"`
	BreachThreshold    float64 `json:"breach_threshold" yaml:"breach_threshold"`
	MinObservations    int     `json:"min_observations" yaml:"min_observations"`
	MinAdjustmentRatio float64 `json:"min_adjustment_ratio" yaml:"min_adjustment_ratio"`
	AccountCurrency    string  `json:"account_currency" yaml:"account_currency"`
}

func DefaultConfig() Config {
	return Config{
		Lookback:           30,
		WarningThreshold:   0.4,
		BreachThreshold:    0.7,
		MinObservations:    10,
		MinAdjustmentRatio: 0.25,
		AccountCurrency:    "USD",
	}
}

func (c Config) Validate() error {
	if c.WarningThreshold <= 0 || c.WarningThreshold >= 1 {
		return fmt.Errorf("warning_threshold must be in (0, 1)")
	}
	if c.BreachThreshold < c.WarningThreshold || c.BreachThreshold > 1 {
		return fmt.Errorf("breach_threshold must be in [warning_threshold, 1]")
	}
	if c.MinObservations < 3 {
		return fmt.Errorf("min_observations must be at least 3")
	}
	if c.Lookback < c.MinObservations {
		return fmt.Errorf("lookback %d is shorter than min_observations %d", c.Lookback, c.MinObservations)
	}
	if c.MinAdjustmentRatio <= 0 || c.MinAdjustmentRatio >= 1 {
		return fmt.Errorf("min_adjustment_ratio must be in (0, 1)")
	}
	return nil
}

type Manager struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu       sync.RWMutex
	latest   Matrix
	previous Matrix
	prices   market.History // from the last CalculateMatrix, prices the legs
}

type Option func(*Manager)

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func New(cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("correlation config: %w", err)
	}
	m := &Manager{cfg: cfg, log: zap.NewNop(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.Named("correlation")
	return m, nil
}

func (m *Manager) Config() Config { return m.cfg }

// CalculateMatrix correlates close-to-close returns of every held pair,
// joined on candle timestamps.
func (m *Manager) CalculateMatrix(state portfolio.State, history market.History) Matrix {
	pairs := state.Pairs()
	mx := newMatrix(m.now().UTC(), pairs)

	for i := 0; i < len(pairs); i++ {
		for j := i + 1; j < len(pairs); j++ {
			a, b := pairs[i], pairs[j]
			x, y := jointReturns(history.Tail(a, m.cfg.Lookback+1), history.Tail(b, m.cfg.Lookback+1))
			if len(x) < m.cfg.MinObservations {
				m.log.Debug("skipping pair without joint history",
					zap.String("pair1", a), zap.String("pair2", b), zap.Int("observations", len(x)))
				continue
			}
			c := stat.Correlation(x, y, nil)
			if math.IsNaN(c) || math.IsInf(c, 0) {
				continue
			}
			mx.set(Entry{Pair1: a, Pair2: b, Correlation: c, Observations: len(x)})
		}
	}

	m.mu.Lock()
	m.previous = m.latest
	m.latest = mx
	m.prices = history
	m.mu.Unlock()
	return mx
}

// jointReturns aligns two candle series on timestamp and returns the
// close-to-close returns over the shared candles.
func jointReturns(a, b []market.Candle) ([]float64, []float64) {
	closes := make(map[int64]float64, len(b))
	for _, c := range b {
		closes[c.Time.Unix()] = c.Close
	}

	var ca, cb []float64
	for _, c := range a {
		if v, ok := closes[c.Time.Unix()]; ok && c.Close > 0 && v > 0 {
			ca = append(ca, c.Close)
			cb = append(cb, v)
		}
	}
	if len(ca) < 2 {
		return nil, nil
	}

	x := make([]float64, 0, len(ca)-1)
	y := make([]float64, 0, len(ca)-1)
	for i := 1; i < len(ca); i++ {
		x = append(x, (ca[i]-ca[i-1])/ca[i-1])
		y = append(y, (cb[i]-cb[i-1])/cb[i-1])
	}
	return x, y
}

// Latest returns the most recently calculated matrix.
func (m *Manager) Latest() Matrix {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

type DriftReport struct {
	Max         float64 `json:"max_correlation"`
	Avg         float64 `json:"avg_correlation"`
	HighCount   int     `json:"high_count"`
	BreachCount int     `json:"breach_count"`
	MaxChange   float64 `json:"max_change"`
	Pairs       int     `json:"pairs"`
}

// MonitorDrift summarizes absolute correlations against the thresholds and
// the largest move since the previously calculated matrix.
func (m *Manager) MonitorDrift(mx Matrix) DriftReport {
	m.mu.RLock()
	prev := m.previous
	m.mu.RUnlock()

	var r DriftReport
	sum := 0.0
	for _, e := range mx.Entries() {
		c := math.Abs(e.Correlation)
		sum += c
		r.Max = math.Max(r.Max, c)
		if c >= m.cfg.WarningThreshold {
			r.HighCount++
		}
		if c >= m.cfg.BreachThreshold {
			r.BreachCount++
		}
		if old, ok := prev.Get(e.Pair1, e.Pair2); ok {
			r.MaxChange = math.Max(r.MaxChange, math.Abs(e.Correlation-old))
		}
		r.Pairs++
	}
	if r.Pairs > 0 {
		r.Avg = sum / float64(r.Pairs)
	}
	return r
}

// Breach is a pair whose absolute correlation crossed the warning threshold.
type Breach struct {
	Pair1          string        `json:"pair1"`
	Pair2          string        `json:"pair2"`
	Correlation    float64       `json:"correlation"`
	Severity       risk.Severity `json:"severity"`
	Threshold      float64       `json:"threshold"`
	Recommendation string        `json:"recommendation"`
}

func (b Breach) Alert(ts time.Time) risk.Alert {
	return risk.Alert{
		Type:     risk.AlertCorrelationBreach,
		Severity: b.Severity,
		Message: fmt.Sprintf("%s/%s correlation %.2f above %.2f",
			b.Pair1, b.Pair2, b.Correlation, b.Threshold),
		Context: map[string]any{
			"pair1":          b.Pair1,
			"pair2":          b.Pair2,
			"correlation":    b.Correlation,
			"threshold":      b.Threshold,
			"recommendation": b.Recommendation,
		},
		Timestamp: ts,
	}
}

// DetectBreaches lists pairs at or above the warning threshold, strongest
// first.
func (m *Manager) DetectBreaches(mx Matrix) []Breach {
	thr := m.cfg.WarningThreshold
	var out []Breach
	for _, e := range mx.Entries() {
		c := math.Abs(e.Correlation)
		if c < thr {
			continue
		}
		sev := breachSeverity(c - thr)
		out = append(out, Breach{
			Pair1:          e.Pair1,
			Pair2:          e.Pair2,
			Correlation:    e.Correlation,
			Severity:       sev,
			Threshold:      thr,
			Recommendation: recommendation(e, sev),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Correlation) > math.Abs(out[j].Correlation)
	})
	return out
}

func breachSeverity(excess float64) risk.Severity {
	switch {
	case excess >= 0.45:
		return risk.SeverityCritical
	case excess >= 0.3:
		return risk.SeverityHigh
	case excess >= 0.15:
		return risk.SeverityMedium
	default:
		return risk.SeverityLow
	}
}

func recommendation(e Entry, sev risk.Severity) string {
	kind := "move together"
	if e.Correlation < 0 {
		kind = "move inversely"
	}
	switch sev {
	case risk.SeverityCritical:
		return fmt.Sprintf("%s and %s %s (%.2f): treat as one exposure, close or hedge one leg",
			e.Pair1, e.Pair2, kind, e.Correlation)
	case risk.SeverityHigh:
		return fmt.Sprintf("%s and %s %s (%.2f): reduce combined size",
			e.Pair1, e.Pair2, kind, e.Correlation)
	case risk.SeverityMedium:
		return fmt.Sprintf("%s and %s %s (%.2f): avoid adding to either position",
			e.Pair1, e.Pair2, kind, e.Correlation)
	default:
		return fmt.Sprintf("%s and %s %s (%.2f): monitor",
			e.Pair1, e.Pair2, kind, e.Correlation)
	}
}

// Recommendation proposes a proportional size cut for one position.
type Recommendation struct {
	Pair            string        `json:"pair"`
	CurrentSize     float64       `json:"current_size"`
	RecommendedSize float64       `json:"recommended_size"`
	AdjustmentRatio float64       `json:"adjustment_ratio"`
	Priority        int           `json:"priority"` // 1 is most urgent
	Severity        risk.Severity `json:"severity"`
	Reason          string        `json:"reason"`
}

// SuggestAdjustments shrinks the larger leg of every breaching pair whose
// positions actually add up, i.e. correlation times the direction signs is
// positive. Opposing legs of a correlated pair hedge each other and are left
// alone. Leg sizes are compared in the account currency at the prices seen by
// the last CalculateMatrix; a pair with a leg that cannot be converted is
// skipped.
func (m *Manager) SuggestAdjustments(state portfolio.State, mx Matrix) []Recommendation {
	m.mu.RLock()
	prices := m.prices
	m.mu.RUnlock()

	best := map[string]Recommendation{}

	for _, b := range m.DetectBreaches(mx) {
		pa, okA := state.Position(b.Pair1)
		pb, okB := state.Position(b.Pair2)
		if !okA || !okB {
			continue
		}
		effective := b.Correlation * pa.Sign() * pb.Sign()
		if effective < b.Threshold {
			continue
		}

		na, errA := m.legValue(pa, b.Pair1, prices)
		nb, errB := m.legValue(pb, b.Pair2, prices)
		if err := errors.Join(errA, errB); err != nil {
			m.log.Warn("cannot size correlated legs", zap.String("pair1", b.Pair1),
				zap.String("pair2", b.Pair2), zap.Error(err))
			continue
		}

		target, pair := pa, b.Pair1
		if nb > na {
			target, pair = pb, b.Pair2
		}

		ratio := math.Max(m.cfg.MinAdjustmentRatio, b.Threshold/math.Abs(b.Correlation))
		if ratio >= 1 {
			continue
		}
		rec := Recommendation{
			Pair:            pair,
			CurrentSize:     target.Size,
			RecommendedSize: target.Size * ratio,
			AdjustmentRatio: ratio,
			Priority:        5 - b.Severity.Rank(),
			Severity:        b.Severity,
			Reason: fmt.Sprintf("correlation %.2f with %s exceeds %.2f",
				b.Correlation, other(b, pair), b.Threshold),
		}
		if cur, ok := best[pair]; !ok || rec.AdjustmentRatio < cur.AdjustmentRatio {
			best[pair] = rec
		}
	}

	out := make([]Recommendation, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		if out[i].AdjustmentRatio != out[j].AdjustmentRatio {
			return out[i].AdjustmentRatio < out[j].AdjustmentRatio
		}
		return out[i].Pair < out[j].Pair
	})
	return out
}

func (m *Manager) legValue(p portfolio.Position, pair string, prices market.History) (float64, error) {
	px, _ := prices.LastClose(pair)
	return p.Notional(px, m.cfg.AccountCurrency, prices)
}

func other(b Breach, pair string) string {
	if b.Pair1 == pair {
		return b.Pair2
	}
	return b.Pair1
}

// CurrencyExposure nets each position into its base and quote currencies:
// long EUR_USD 10000 @ 1.1 is EUR +10000 and USD -11000. It surfaces
// concentration that pairwise price correlation misses.
func CurrencyExposure(positions map[string]portfolio.Position) map[string]float64 {
	acc := map[string]decimal.Decimal{}
	for key, p := range positions {
		pair := p.Pair
		if pair == "" {
			pair = key
		}
		meta, err := market.Lookup(pair)
		if err != nil {
			continue
		}
		units := decimal.NewFromFloat(p.Units()).Mul(decimal.NewFromFloat(p.Sign()))
		quote := units.Mul(decimal.NewFromFloat(p.EntryPrice))

		acc[meta.BaseCurrency] = acc[meta.BaseCurrency].Add(units)
		acc[meta.QuoteCurrency] = acc[meta.QuoteCurrency].Sub(quote)
	}

	out := make(map[string]float64, len(acc))
	for ccy, v := range acc {
		out[ccy] = v.InexactFloat64()
	}
	return out
}

// PortfolioCorrelation is the highest absolute correlation between pair and
// any other held pair, for use as a sizing discount.
func PortfolioCorrelation(mx Matrix, pair string) (float64, bool) {
	found := false
	max := 0.0
	for _, p := range mx.Pairs {
		if c, ok := mx.Get(pair, p); ok {
			found = true
			max = math.Max(max, math.Abs(c))
		}
	}
	return max, found
}

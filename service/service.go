// Package service runs the periodic risk cycle: fetch the portfolio and
// candles, evaluate VaR, correlation and the emergency protocol, then alert,
// persist and export metrics.
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/fxrisk/config"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/emergency"
	"github.com/rustyeddy/fxrisk/indicators"
	"github.com/rustyeddy/fxrisk/journal"
	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/metrics"
	"github.com/rustyeddy/fxrisk/notify"
	"github.com/rustyeddy/fxrisk/pkg/id"
	"github.com/rustyeddy/fxrisk/portfolio"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Deps are the collaborators of a Service. Notifier, Journal and Metrics are
// optional.
type Deps struct {
	Snapshots   portfolio.SnapshotSource
	Candles     market.CandleSource
	VaR         *valueatrisk.Monitor
	Correlation *correlation.Manager
	Emergency   *emergency.Manager
	Notifier    notify.Notifier
	Journal     *journal.AsyncWriter
	Metrics     *metrics.Recorder
	Logger      *zap.Logger
	Clock       func() time.Time
}

type Service struct {
	cfg config.ServiceConfig
	Deps
	log *zap.Logger
	now func() time.Time

	mu          sync.Mutex
	lastState   portfolio.State
	haveState   bool
	lastCandles market.History
	last        Report
	haveReport  bool
}

// Report is everything one cycle produced.
type Report struct {
	Timestamp           time.Time                                 `json:"timestamp"`
	Stale               bool                                      `json:"stale"`
	MissingPairs        []string                                  `json:"missing_pairs,omitempty"`
	Equity              float64                                   `json:"equity"`
	VaR                 map[valueatrisk.Method]valueatrisk.Result `json:"var"`
	VaRBreaches         map[valueatrisk.Method]bool               `json:"var_breaches"`
	VaRLimit            float64                                   `json:"var_limit"`
	Matrix              correlation.Matrix                        `json:"-"`
	Drift               correlation.DriftReport                   `json:"correlation_drift"`
	CorrelationBreaches []correlation.Breach                      `json:"correlation_breaches,omitempty"`
	Adjustments         []correlation.Recommendation              `json:"adjustments,omitempty"`
	Exposure            map[string]float64                        `json:"currency_exposure"`
	Emergency           emergency.Status                          `json:"emergency"`
	StressEvents        []emergency.StressEvent                   `json:"stress_events,omitempty"`
	Alerts              []risk.Alert                              `json:"alerts,omitempty"`
}

var ErrNoSnapshot = errors.New("no portfolio snapshot available")

// ATRPeriod is the ATR window used to gate trade signals.
const ATRPeriod = 14

func New(cfg config.ServiceConfig, d Deps) (*Service, error) {
	switch {
	case d.Snapshots == nil:
		return nil, fmt.Errorf("service: snapshot source is required")
	case d.Candles == nil:
		return nil, fmt.Errorf("service: candle source is required")
	case d.VaR == nil || d.Correlation == nil || d.Emergency == nil:
		return nil, fmt.Errorf("service: risk components are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	s := &Service{
		cfg:         cfg,
		Deps:        d,
		log:         zap.NewNop(),
		now:         time.Now,
		lastCandles: market.History{},
	}
	if d.Logger != nil {
		s.log = d.Logger
	}
	if d.Clock != nil {
		s.now = d.Clock
	}
	s.log = s.log.Named("service")
	return s, nil
}

// RunCycle evaluates the portfolio once. Data source failures fall back to
// the last good data and mark the report stale; only a cycle with no
// snapshot at all fails.
func (s *Service) RunCycle(ctx context.Context) (Report, error) {
	start := s.now()
	rep := Report{Timestamp: start.UTC()}

	state, err := fetch(ctx, s, "snapshot", s.Snapshots.Snapshot)
	if err != nil {
		s.countError("snapshot")
		s.mu.Lock()
		last, ok := s.lastState, s.haveState
		s.mu.Unlock()
		if !ok {
			return rep, fmt.Errorf("%w: %w", ErrNoSnapshot, err)
		}
		s.log.Warn("using last known portfolio snapshot", zap.Error(err))
		state = last
		rep.Stale = true
	} else {
		s.mu.Lock()
		s.lastState, s.haveState = state, true
		s.mu.Unlock()
	}

	history, stale, missing := s.fetchHistory(ctx, s.pairs(state))
	rep.Stale = rep.Stale || stale
	rep.MissingPairs = missing

	var (
		g  errgroup.Group
		mx correlation.Matrix
	)
	g.Go(func() error {
		rep.VaR = s.VaR.CalculatePortfolioVaR(state, history)
		return nil
	})
	g.Go(func() error {
		mx = s.Correlation.CalculateMatrix(state, history)
		return nil
	})
	_ = g.Wait()

	var alerts []risk.Alert

	rep.VaRLimit = s.VaR.BreachThreshold(state.TotalBalance)
	rep.VaRBreaches = s.VaR.CheckVaRBreaches()
	alerts = append(alerts, s.VaR.GenerateVaRAlerts(rep.VaRBreaches)...)

	rep.Matrix = mx
	rep.Drift = s.Correlation.MonitorDrift(mx)
	rep.CorrelationBreaches = s.Correlation.DetectBreaches(mx)
	for _, b := range rep.CorrelationBreaches {
		alerts = append(alerts, b.Alert(rep.Timestamp))
	}
	rep.Adjustments = s.Correlation.SuggestAdjustments(state, mx)
	rep.Exposure = correlation.CurrencyExposure(state.ActivePositions)

	prev := s.Emergency.Level()
	rep.Equity = state.Equity()
	lvl := s.Emergency.UpdatePortfolioValue(rep.Equity)
	rep.StressEvents = s.Emergency.MonitorStressEvents(history)
	rep.Emergency = s.Emergency.Status()
	if lvl != prev {
		if a, ok := rep.Emergency.Alert(); ok {
			alerts = append(alerts, a)
		}
	}
	for _, ev := range rep.StressEvents {
		alerts = append(alerts, ev.Alert())
	}

	for i := range alerts {
		if alerts[i].ID == "" {
			alerts[i].ID = id.New()
		}
	}
	rep.Alerts = alerts

	s.publish(ctx, rep)
	if s.Metrics != nil {
		s.Metrics.ObserveCycle(s.now().Sub(start).Seconds(), rep.Stale)
	}

	s.mu.Lock()
	s.last, s.haveReport = rep, true
	s.mu.Unlock()

	s.log.Info("risk cycle complete",
		zap.Bool("stale", rep.Stale),
		zap.Stringer("level", rep.Emergency.Level),
		zap.Float64("drawdown", rep.Emergency.Drawdown),
		zap.Int("var_breaches", countTrue(rep.VaRBreaches)),
		zap.Int("correlation_breaches", len(rep.CorrelationBreaches)),
		zap.Int("stress_events", len(rep.StressEvents)),
		zap.Int("alerts", len(rep.Alerts)))
	return rep, nil
}

// pairs is the held pairs, the pairs that convert held crosses into the
// account currency and the watch list, deduplicated and sorted.
func (s *Service) pairs(state portfolio.State) []string {
	acct := s.VaR.Config().AccountCurrency
	set := map[string]bool{}
	for _, p := range state.Pairs() {
		set[p] = true
		m, err := market.Lookup(p)
		if err != nil || m.BaseCurrency == acct || m.QuoteCurrency == acct {
			continue
		}
		set[market.ConversionPair(m.QuoteCurrency, acct)] = true
	}
	for _, p := range s.cfg.WatchPairs {
		set[market.Normalize(p)] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// fetchHistory loads candles for every pair concurrently. A failed pair
// reuses its last good candles when there are any.
func (s *Service) fetchHistory(ctx context.Context, pairs []string) (market.History, bool, []string) {
	s.mu.Lock()
	last := make(market.History, len(s.lastCandles))
	for k, v := range s.lastCandles {
		last[k] = v
	}
	s.mu.Unlock()

	var (
		g       errgroup.Group
		mu      sync.Mutex
		stale   bool
		missing []string
		fresh   = market.History{}
		out     = make(market.History, len(pairs))
	)
	g.SetLimit(s.cfg.Concurrency)

	for _, pair := range pairs {
		g.Go(func() error {
			cs, err := fetch(ctx, s, "candles "+pair, func(ctx context.Context) ([]market.Candle, error) {
				return s.Candles.Candles(ctx, pair, s.cfg.CandleCount)
			})

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				out[pair] = cs
				fresh[pair] = cs
				return nil
			}

			s.countError("candles")
			if prev, ok := last[pair]; ok {
				s.log.Warn("using last known candles", zap.String("pair", pair), zap.Error(err))
				out[pair] = prev
				stale = true
				return nil
			}
			s.log.Warn("no candles for pair", zap.String("pair", pair), zap.Error(err))
			missing = append(missing, pair)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	for k, v := range fresh {
		s.lastCandles[k] = v
	}
	s.mu.Unlock()

	sort.Strings(missing)
	return out, stale || len(missing) > 0, missing
}

// publish routes alerts to the notifier and everything to the journal and
// metrics. Nothing here blocks on the database.
func (s *Service) publish(ctx context.Context, rep Report) {
	for _, a := range rep.Alerts {
		if s.Notifier != nil {
			if err := s.Notifier.Notify(ctx, a); err != nil {
				s.countError("notify")
				s.log.Warn("alert delivery failed", zap.String("alert_id", a.ID), zap.Error(err))
			}
		}
		if s.Journal != nil {
			s.Journal.Alert(a)
		}
		if s.Metrics != nil {
			s.Metrics.ObserveAlert(a.Type, string(a.Severity))
		}
	}

	if s.Journal != nil {
		if len(rep.VaR) > 0 {
			s.Journal.VaR(rep.VaR)
		}
		s.Journal.Correlations(rep.Matrix)
		for _, adj := range rep.Adjustments {
			s.Journal.Adjustment(rep.Timestamp, adj)
		}
	}

	if s.Metrics != nil {
		s.Metrics.ObserveVaR(rep.VaR, rep.VaRBreaches, rep.VaRLimit)
		s.Metrics.ObserveCorrelation(rep.Drift, len(rep.CorrelationBreaches))
		s.Metrics.ObserveEmergency(rep.Emergency)
		s.Metrics.ObserveStress(rep.StressEvents)
	}
}

func (s *Service) countError(component string) {
	if s.Metrics != nil {
		s.Metrics.CountError(component)
	}
}

// Last returns the most recent report.
func (s *Service) Last() (Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.haveReport
}

// PositionSize sizes a new position in pair through the emergency protocol,
// using the pair's recent volatility and its strongest correlation to the
// book from the last cycle.
func (s *Service) PositionSize(base float64, pair string) float64 {
	pair = market.Normalize(pair)

	s.mu.Lock()
	candles := s.lastCandles[pair]
	mx := s.last.Matrix
	s.mu.Unlock()

	var opts []emergency.SizeOption
	if vol, err := indicators.Volatility(candles, s.Correlation.Config().Lookback); err == nil {
		opts = append(opts, emergency.WithVolatility(vol))
	}
	if c, ok := correlation.PortfolioCorrelation(mx, pair); ok {
		opts = append(opts, emergency.WithCorrelation(c))
	}
	return s.Emergency.CalculatePositionSize(base, pair, opts...)
}

// QuoteRate converts one unit of m's quote currency into the account
// currency. Crosses are priced off the last cycle's candles, so their
// conversion pair must be held or watched.
func (s *Service) QuoteRate(m market.InstrumentMeta, price float64) (float64, error) {
	s.mu.Lock()
	prices := s.lastCandles
	s.mu.Unlock()
	return prices.QuoteRate(m, s.VaR.Config().AccountCurrency, price)
}

// ValidateTrade gates a signal on pair through the emergency manager, with
// ATR taken from the last cycle's candles. Without enough candles the ATR is
// zero and the gate rejects the trade.
func (s *Service) ValidateTrade(signal int, pair string, entry, stop, takeProfit float64) bool {
	pair = market.Normalize(pair)

	s.mu.Lock()
	candles := s.lastCandles[pair]
	s.mu.Unlock()

	atr, err := indicators.ATRFunc(candles, ATRPeriod)
	if err != nil {
		s.log.Debug("atr unavailable", zap.String("pair", pair), zap.Error(err))
	}
	return s.Emergency.ValidateTrade(signal, atr, entry, stop, takeProfit)
}

// Run executes a cycle immediately and then every interval until ctx ends.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.log.Info("risk service started", zap.Duration("interval", s.cfg.Interval))
	for {
		if _, err := s.RunCycle(ctx); err != nil {
			s.log.Error("risk cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			s.log.Info("risk service stopping")
			return nil
		case <-ticker.C:
		}
	}
}

func countTrue(m map[valueatrisk.Method]bool) int {
	n := 0
	for _, v := range m {
		if v {
			n++
		}
	}
	return n
}

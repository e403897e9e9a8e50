package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/fxrisk/config"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/emergency"
	"github.com/rustyeddy/fxrisk/journal"
	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/metrics"
	"github.com/rustyeddy/fxrisk/notify"
	"github.com/rustyeddy/fxrisk/portfolio"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 3, 21, 0, 0, 0, time.UTC)

type fakeSnapshots struct {
	mu    sync.Mutex
	state portfolio.State
	err   error
	calls int
}

func (f *fakeSnapshots) Snapshot(ctx context.Context) (portfolio.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.state, f.err
}

func (f *fakeSnapshots) set(st portfolio.State, err error) {
	f.mu.Lock()
	f.state, f.err = st, err
	f.mu.Unlock()
}

type fakeCandles struct {
	mu    sync.Mutex
	data  market.History
	fail  map[string]error
	block bool
	calls map[string]int
}

func (f *fakeCandles) Candles(ctx context.Context, pair string, count int) ([]market.Candle, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[pair]++
	block := f.block
	err := f.fail[pair]
	cs, ok := f.data[pair]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, market.ErrNoData
	}
	if count > 0 && len(cs) > count {
		cs = cs[len(cs)-count:]
	}
	return cs, nil
}

func (f *fakeCandles) callCount(pair string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[pair]
}

// dailyCandles turns a shared return path into candles with a small range.
func dailyCandles(start float64, rets []float64) []market.Candle {
	base := now.AddDate(0, 0, -len(rets))
	px := start
	out := []market.Candle{{Time: base, Open: px, High: px * 1.001, Low: px * 0.999, Close: px}}
	for i, r := range rets {
		prev := px
		px *= 1 + r
		out = append(out, market.Candle{
			Time: base.AddDate(0, 0, i+1),
			Open: prev, High: max(prev, px) * 1.001, Low: min(prev, px) * 0.999, Close: px,
		})
	}
	return out
}

func returns(n int, seed uint64) []float64 {
	rng := rand.New(rand.NewPCG(seed, seed+99))
	out := make([]float64, n)
	for i := range out {
		out[i] = 0.006 * rng.NormFloat64()
	}
	return out
}

func book(balance float64) portfolio.State {
	return portfolio.State{
		Timestamp:    now,
		TotalBalance: balance,
		ActivePositions: map[string]portfolio.Position{
			"EUR_USD": {Pair: "EUR_USD", Direction: portfolio.Long, Size: 100000, EntryPrice: 1.1},
			"GBP_USD": {Pair: "GBP_USD", Direction: portfolio.Long, Size: 50000, EntryPrice: 1.25},
		},
	}
}

type harness struct {
	svc       *Service
	snapshots *fakeSnapshots
	candles   *fakeCandles
	alerts    *notify.Channel
	rec       *metrics.Recorder
	em        *emergency.Manager
}

func newHarness(t *testing.T, mutate ...func(*config.Config)) *harness {
	t.Helper()

	cfg := config.Default()
	cfg.Service.FetchTimeout = 50 * time.Millisecond
	cfg.Service.RetryDelay = time.Millisecond
	cfg.Service.FetchRetries = 2
	for _, f := range mutate {
		f(cfg)
	}
	clock := func() time.Time { return now }

	vm, err := valueatrisk.New(cfg.VaR, valueatrisk.WithClock(clock))
	require.NoError(t, err)
	cm, err := correlation.New(cfg.Correlation, correlation.WithClock(clock))
	require.NoError(t, err)
	em, err := emergency.New(cfg.Account.Balance, cfg.Emergency, emergency.WithClock(clock))
	require.NoError(t, err)

	rets := returns(80, 7)
	h := &harness{
		snapshots: &fakeSnapshots{state: book(100000)},
		candles: &fakeCandles{data: market.History{
			"EUR_USD": dailyCandles(1.1, rets),
			"GBP_USD": dailyCandles(1.25, rets),
		}},
		alerts: notify.NewChannel(64),
		rec:    metrics.New(prometheus.NewRegistry()),
		em:     em,
	}

	h.svc, err = New(cfg.Service, Deps{
		Snapshots:   h.snapshots,
		Candles:     h.candles,
		VaR:         vm,
		Correlation: cm,
		Emergency:   em,
		Notifier:    h.alerts,
		Metrics:     h.rec,
		Clock:       clock,
	})
	require.NoError(t, err)
	return h
}

func drain(c chan risk.Alert) []risk.Alert {
	var out []risk.Alert
	for {
		select {
		case a := <-c:
			out = append(out, a)
		default:
			return out
		}
	}
}

func TestNewRequiresDependencies(t *testing.T) {
	t.Parallel()
	_, err := New(config.Default().Service, Deps{})
	assert.Error(t, err)
}

func TestRunCycle(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, rep.Stale)
	assert.Empty(t, rep.MissingPairs)

	require.Len(t, rep.VaR, 3)
	for _, r := range rep.VaR {
		assert.GreaterOrEqual(t, r.Value, 0.0)
		assert.LessOrEqual(t, r.Value, r.PositionSize)
		assert.False(t, r.Insufficient)
	}
	assert.InDelta(t, 310, rep.VaRLimit, 1e-9)

	// identical return paths are perfectly correlated
	require.Len(t, rep.CorrelationBreaches, 1)
	assert.Equal(t, risk.SeverityCritical, rep.CorrelationBreaches[0].Severity)
	require.Len(t, rep.Adjustments, 1)
	assert.Equal(t, "EUR_USD", rep.Adjustments[0].Pair)

	assert.Equal(t, emergency.Normal, rep.Emergency.Level)
	assert.InDelta(t, 100000, rep.Equity, 1e-9)
	assert.InDelta(t, 100000, rep.Exposure["EUR"], 1e-6)

	delivered := drain(h.alerts.C)
	assert.Len(t, delivered, len(rep.Alerts))
	types := map[string]int{}
	for _, a := range delivered {
		assert.NotEmpty(t, a.ID)
		types[a.Type]++
	}
	assert.Equal(t, 1, types[risk.AlertCorrelationBreach])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.rec.Cycles.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.rec.CorrelationBreach))

	last, ok := h.svc.Last()
	require.True(t, ok)
	assert.Equal(t, rep.Timestamp, last.Timestamp)
}

func TestRunCycle_EmergencyStop(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	h.snapshots.set(book(75000), nil)
	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, emergency.Level4, rep.Emergency.Level)
	assert.True(t, rep.Emergency.TradingHalted)
	assert.Zero(t, h.svc.PositionSize(1000, "EUR_USD"))

	var found bool
	for _, a := range drain(h.alerts.C) {
		if a.Type == risk.AlertEmergencyLevel {
			found = true
			assert.Equal(t, risk.SeverityCritical, a.Severity)
		}
	}
	assert.True(t, found)
	assert.Equal(t, 4.0, testutil.ToFloat64(h.rec.EmergencyLevel))

	// the level alert fires on change only
	_, err = h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	for _, a := range drain(h.alerts.C) {
		assert.NotEqual(t, risk.AlertEmergencyLevel, a.Type)
	}
}

func TestRunCycle_CrossPairConverted(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	rets := returns(80, 13)
	h.candles.mu.Lock()
	h.candles.data["EUR_JPY"] = dailyCandles(153.91, rets)
	h.candles.data["USD_JPY"] = dailyCandles(150, returns(80, 17))
	h.candles.mu.Unlock()
	h.snapshots.set(portfolio.State{
		Timestamp:    now,
		TotalBalance: 100000,
		ActivePositions: map[string]portfolio.Position{
			"EUR_JPY": {Direction: portfolio.Long, Size: 10000, EntryPrice: 153.91},
		},
	}, nil)

	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)

	// USD_JPY is fetched without being held or watched
	assert.Equal(t, 1, h.candles.callCount("USD_JPY"))

	usdjpy := h.candles.data["USD_JPY"]
	eurjpy := h.candles.data["EUR_JPY"]
	want := 10000 * eurjpy[len(eurjpy)-1].Close / usdjpy[len(usdjpy)-1].Close
	require.Len(t, rep.VaR, 3)
	for m, r := range rep.VaR {
		assert.InDelta(t, want, r.PositionSize, 1e-6, m)
		assert.False(t, rep.VaRBreaches[m], m)
	}

	rate, err := h.svc.QuoteRate(market.Instruments["EUR_JPY"], 153.91)
	require.NoError(t, err)
	assert.InDelta(t, 1/usdjpy[len(usdjpy)-1].Close, rate, 1e-12)

	_, err = h.svc.QuoteRate(market.Instruments["GBP_JPY"], 190)
	require.NoError(t, err, "same yen conversion")
	sek, err := market.Lookup("EUR_SEK")
	require.NoError(t, err)
	_, err = h.svc.QuoteRate(sek, 11.2)
	assert.ErrorIs(t, err, market.ErrNoConversion)
}

func TestRunCycle_SnapshotFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	down := errors.New("portfolio manager unavailable")

	h.snapshots.set(portfolio.State{}, down)
	_, err := h.svc.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
	assert.ErrorIs(t, err, down)
	assert.Equal(t, 3, h.snapshots.calls)

	h.snapshots.set(book(100000), nil)
	_, err = h.svc.RunCycle(context.Background())
	require.NoError(t, err)

	h.snapshots.set(portfolio.State{}, down)
	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Stale)
	assert.Len(t, rep.VaR, 3)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.rec.Errors.WithLabelValues("snapshot")))
}

func TestRunCycle_CandleFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)

	h.candles.mu.Lock()
	h.candles.fail = map[string]error{"GBP_USD": errors.New("connection reset")}
	h.candles.mu.Unlock()

	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, rep.Stale)
	assert.Empty(t, rep.MissingPairs)
	assert.Len(t, rep.CorrelationBreaches, 1)
	// one call in the first cycle, three attempts in the second
	assert.Equal(t, 4, h.candles.callCount("GBP_USD"))
}

func TestRunCycle_MissingPairNotRetried(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.Config) { c.Service.WatchPairs = []string{"aud/usd"} })

	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"AUD_USD"}, rep.MissingPairs)
	assert.True(t, rep.Stale)
	assert.Equal(t, 1, h.candles.callCount("AUD_USD"))
}

func TestRunCycle_FetchTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.Config) {
		c.Service.FetchTimeout = 5 * time.Millisecond
		c.Service.FetchRetries = 1
	})
	h.candles.block = true

	start := time.Now()
	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, []string{"EUR_USD", "GBP_USD"}, rep.MissingPairs)
	assert.Equal(t, 2, h.candles.callCount("EUR_USD"))
	for _, r := range rep.VaR {
		assert.True(t, r.Insufficient)
	}
}

func TestRunCycle_Journal(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	store, err := journal.NewSQLite(filepath.Join(t.TempDir(), "risk.db"))
	require.NoError(t, err)
	defer store.Close()
	h.svc.Journal = journal.NewAsyncWriter(store)

	rep, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.svc.Journal.Close(context.Background()))

	ctx := context.Background()
	vars, err := store.RecentVaRCalculations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, vars, 3)

	alerts, err := store.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, len(rep.Alerts))

	adj, err := store.RecentPositionAdjustments(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, adj, 1)
}

func TestPositionSize(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	assert.InDelta(t, 1000, h.svc.PositionSize(1000, "EUR_USD"), 1e-9)

	_, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)

	// perfectly correlated book: 1 - 0.5*1 discount, volatility below reference
	assert.InDelta(t, 500, h.svc.PositionSize(1000, "eur_usd"), 1e-6)
}

func TestValidateTrade(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// no candles yet, so ATR is zero
	assert.False(t, h.svc.ValidateTrade(1, "EUR_USD", 1.1, 1.095, 1.11))

	_, err := h.svc.RunCycle(context.Background())
	require.NoError(t, err)

	assert.True(t, h.svc.ValidateTrade(1, "EUR_USD", 1.1, 1.095, 1.11))
	assert.False(t, h.svc.ValidateTrade(0, "EUR_USD", 1.1, 1.095, 1.11), "flat signal")
	assert.False(t, h.svc.ValidateTrade(1, "EUR_USD", 1.1, 1.095, 1.102), "reward:risk below gate")

	h.snapshots.set(book(75000), nil)
	_, err = h.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.False(t, h.svc.ValidateTrade(1, "EUR_USD", 1.1, 1.095, 1.11), "trading halted")
}

func TestRun(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *config.Config) { c.Service.Interval = 5 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	var done atomic.Bool
	go func() {
		assert.NoError(t, h.svc.Run(ctx))
		done.Store(true)
	}()

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.rec.Cycles.WithLabelValues("false")) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.Eventually(t, done.Load, time.Second, 5*time.Millisecond)
}

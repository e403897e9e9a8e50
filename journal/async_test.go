package journal

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failures alert writes, and can block until
// release is closed.
type flakyStore struct {
	Store

	mu       sync.Mutex
	failures int
	calls    int
	alerts   []risk.Alert
	release  chan struct{}
}

func (f *flakyStore) StoreRiskAlert(ctx context.Context, a risk.Alert) (string, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("database is locked")
	}
	f.alerts = append(f.alerts, a)
	return a.ID, nil
}

func TestAsyncWriterRetries(t *testing.T) {
	t.Parallel()

	fs := &flakyStore{failures: 2}
	w := NewAsyncWriter(fs, WithRetry(3, time.Millisecond))

	require.True(t, w.Alert(risk.Alert{ID: "a1", Type: risk.AlertVaRBreach}))
	require.NoError(t, w.Close(context.Background()))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, 3, fs.calls)
	require.Len(t, fs.alerts, 1)
	assert.Equal(t, "a1", fs.alerts[0].ID)
}

func TestAsyncWriterGivesUp(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		failed []string
	)
	fs := &flakyStore{failures: 100}
	w := NewAsyncWriter(fs,
		WithRetry(2, time.Millisecond),
		WithErrorHandler(func(name string, err error) {
			mu.Lock()
			failed = append(failed, name)
			mu.Unlock()
		}))

	w.Alert(risk.Alert{ID: "a1"})
	require.NoError(t, w.Close(context.Background()))

	assert.Equal(t, 3, fs.calls)
	mu.Lock()
	assert.Equal(t, []string{"risk_alert"}, failed)
	mu.Unlock()
}

func TestAsyncWriterDropsWhenFull(t *testing.T) {
	t.Parallel()

	fs := &flakyStore{release: make(chan struct{})}
	w := NewAsyncWriter(fs, WithQueueSize(1), WithRetry(0, 0))

	accepted := 0
	for i := 0; i < 10; i++ {
		if w.Alert(risk.Alert{ID: "x"}) {
			accepted++
		}
	}
	// one write is held by the worker and one sits in the queue
	assert.LessOrEqual(t, accepted, 2)
	assert.GreaterOrEqual(t, w.Dropped(), int64(8))

	close(fs.release)
	require.NoError(t, w.Close(context.Background()))
	assert.False(t, w.Alert(risk.Alert{ID: "late"}))
}

// poisonOnce spoils the first VaR batch with a row sqlite rejects after the
// valid rows went in, then lets retries through untouched.
type poisonOnce struct {
	*SQLite
	mu    sync.Mutex
	calls int
}

func (p *poisonOnce) StoreVaRCalculations(ctx context.Context, results []valueatrisk.Result) error {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		results = append(append([]valueatrisk.Result(nil), results...), valueatrisk.Result{Value: math.NaN()})
	}
	return p.SQLite.StoreVaRCalculations(ctx, results)
}

func TestAsyncWriterVaRRetryNoDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()
	store := &poisonOnce{SQLite: j}

	w := NewAsyncWriter(store, WithRetry(2, time.Millisecond))
	ts := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	require.True(t, w.VaR(map[valueatrisk.Method]valueatrisk.Result{
		valueatrisk.Historical: {Method: valueatrisk.Historical, Value: 10, Timestamp: ts},
		valueatrisk.Parametric: {Method: valueatrisk.Parametric, Value: 11, Timestamp: ts},
		valueatrisk.MonteCarlo: {Method: valueatrisk.MonteCarlo, Value: 12, Timestamp: ts},
	}))
	require.NoError(t, w.Close(ctx))

	assert.Equal(t, 2, store.calls)
	vars, err := j.RecentVaRCalculations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, vars, 3)
	seen := map[valueatrisk.Method]int{}
	for _, r := range vars {
		seen[r.Method]++
	}
	assert.Equal(t, map[valueatrisk.Method]int{
		valueatrisk.Historical: 1, valueatrisk.Parametric: 1, valueatrisk.MonteCarlo: 1,
	}, seen)
}

func TestAsyncWriterSkipsStaleVaR(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()

	w := NewAsyncWriter(j)
	ts := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	w.VaR(map[valueatrisk.Method]valueatrisk.Result{
		valueatrisk.Historical: {Method: valueatrisk.Historical, Value: 10, Timestamp: ts},
		valueatrisk.MonteCarlo: {Method: valueatrisk.MonteCarlo, Value: 12, Timestamp: ts, Stale: true},
	})
	require.NoError(t, w.Close(ctx))

	vars, err := j.RecentVaRCalculations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, valueatrisk.Historical, vars[0].Method)
}

func TestAsyncWriterSQLite(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()

	w := NewAsyncWriter(j)
	ts := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	w.VaR(map[valueatrisk.Method]valueatrisk.Result{
		valueatrisk.Historical: {Method: valueatrisk.Historical, Value: 10, Timestamp: ts},
		valueatrisk.MonteCarlo: {Method: valueatrisk.MonteCarlo, Value: 12, Timestamp: ts},
	})
	w.Correlations(correlation.FromEntries(ts, correlation.Entry{Pair1: "EUR_USD", Pair2: "GBP_USD", Correlation: 0.5}))
	w.Adjustment(ts, correlation.Recommendation{Pair: "EUR_USD", CurrentSize: 1000, RecommendedSize: 500})
	w.Alert(risk.Alert{Type: risk.AlertCorrelationBreach, Severity: risk.SeverityLow, Timestamp: ts})
	require.NoError(t, w.Close(ctx))

	vars, err := j.RecentVaRCalculations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, vars, 2)

	corrs, err := j.RecentCorrelations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, corrs, 1)

	adj, err := j.RecentPositionAdjustments(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, adj, 1)

	alerts, err := j.ActiveAlerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Zero(t, w.Dropped())
}

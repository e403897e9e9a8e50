package journal

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) (*SQLite, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")

	j, err := NewSQLite(path)
	require.NoError(t, err)

	return j, path
}

func TestSQLiteSchemaCreated(t *testing.T) {
	t.Parallel()

	j, path := newTestSQLite(t)
	assert.NoError(t, j.Close())

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type='table'`)
	require.NoError(t, err)
	defer rows.Close()

	found := map[string]bool{}
	for rows.Next() {
		var name string
		assert.NoError(t, rows.Scan(&name))
		found[name] = true
	}
	assert.NoError(t, rows.Err())

	for _, tbl := range []string{"var_calculations", "correlations", "risk_alerts", "position_adjustments"} {
		assert.True(t, found[tbl], tbl)
	}
}

func TestSQLiteVaRCalculations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()

	t1 := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	require.NoError(t, j.StoreVaRCalculations(ctx, []valueatrisk.Result{{
		Method: valueatrisk.Historical, Value: 812.5, ConfidenceLevel: 0.95, Timestamp: t1,
		Pair: valueatrisk.PortfolioPair, PositionSize: 110000, Volatility: 0.0061, Samples: 252,
	}}))
	require.NoError(t, j.StoreVaRCalculations(ctx, []valueatrisk.Result{{
		Method: valueatrisk.Parametric, ConfidenceLevel: 0.95, Timestamp: t2,
		Pair: valueatrisk.PortfolioPair, Insufficient: true,
	}}))
	require.NoError(t, j.StoreVaRCalculations(ctx, nil))

	got, err := j.RecentVaRCalculations(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, valueatrisk.Parametric, got[0].Method)
	assert.True(t, got[0].Insufficient)
	assert.True(t, got[0].Timestamp.Equal(t2))

	assert.Equal(t, valueatrisk.Historical, got[1].Method)
	assert.InDelta(t, 812.5, got[1].Value, 1e-9)
	assert.Equal(t, 252, got[1].Samples)
	assert.False(t, got[1].Insufficient)

	got, err = j.RecentVaRCalculations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSQLiteVaRCalculations_AllOrNothing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()

	ts := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	// sqlite stores NaN as NULL, which the schema rejects
	err := j.StoreVaRCalculations(ctx, []valueatrisk.Result{
		{Method: valueatrisk.Historical, Value: 10, Timestamp: ts, Pair: valueatrisk.PortfolioPair},
		{Method: valueatrisk.Parametric, Value: math.NaN(), Timestamp: ts, Pair: valueatrisk.PortfolioPair},
	})
	require.Error(t, err)

	got, err := j.RecentVaRCalculations(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSQLiteCorrelations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()

	ts := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	m := correlation.FromEntries(ts,
		correlation.Entry{Pair1: "GBP_USD", Pair2: "EUR_USD", Correlation: 0.83, Observations: 30},
		correlation.Entry{Pair1: "EUR_USD", Pair2: "USD_JPY", Correlation: -0.12, Observations: 28},
	)
	require.NoError(t, j.StoreCorrelationData(ctx, m))
	require.NoError(t, j.StoreCorrelationData(ctx, correlation.Matrix{}))

	got, err := j.RecentCorrelations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byPair := map[string]CorrelationRecord{}
	for _, r := range got {
		byPair[r.Pair1+"/"+r.Pair2] = r
		assert.True(t, r.Timestamp.Equal(ts))
	}
	assert.InDelta(t, 0.83, byPair["EUR_USD/GBP_USD"].Correlation, 1e-12)
	assert.Equal(t, 28, byPair["EUR_USD/USD_JPY"].Observations)
}

func TestSQLiteAlerts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()

	ts := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	id1, err := j.StoreRiskAlert(ctx, risk.Alert{
		Type: risk.AlertVaRBreach, Severity: risk.SeverityHigh, Message: "historical VaR above limit",
		Context: map[string]any{"method": "historical", "value": 500.0}, Timestamp: ts,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id1)

	id2, err := j.StoreRiskAlert(ctx, risk.Alert{
		ID: "custom", Type: risk.AlertStressEvent, Severity: risk.SeverityMedium, Message: "spike",
		Timestamp: ts.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, "custom", id2)

	active, err := j.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "custom", active[0].ID)
	assert.Nil(t, active[0].Context)
	assert.Equal(t, "historical", active[1].Context["method"])
	assert.Equal(t, 500.0, active[1].Context["value"])
	assert.Equal(t, risk.SeverityHigh, active[1].Severity)

	require.NoError(t, j.ResolveAlert(ctx, id1))
	assert.ErrorIs(t, j.ResolveAlert(ctx, id1), ErrNotFound)
	assert.ErrorIs(t, j.ResolveAlert(ctx, "missing"), ErrNotFound)

	active, err = j.ActiveAlerts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "custom", active[0].ID)
}

func TestSQLitePositionAdjustments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	j, _ := newTestSQLite(t)
	defer j.Close()

	ts := time.Date(2024, 4, 10, 9, 0, 0, 0, time.UTC)
	aid, err := j.StorePositionAdjustment(ctx, ts, correlation.Recommendation{
		Pair: "EUR_USD", CurrentSize: 100000, RecommendedSize: 40000, AdjustmentRatio: 0.4,
		Priority: 1, Severity: risk.SeverityCritical, Reason: "correlation 1.00 with GBP_USD exceeds 0.40",
	})
	require.NoError(t, err)

	got, err := j.RecentPositionAdjustments(ctx, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, aid, r.ID)
	assert.Equal(t, "EUR_USD", r.Pair)
	assert.InDelta(t, 40000, r.RecommendedSize, 1e-9)
	assert.Equal(t, 1, r.Priority)
	assert.Equal(t, risk.SeverityCritical, r.Severity)
	assert.True(t, r.Timestamp.Equal(ts))
}

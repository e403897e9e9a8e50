package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/emergency"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ObserveVaR(map[valueatrisk.Method]valueatrisk.Result{
		valueatrisk.Historical: {Method: valueatrisk.Historical, Value: 500},
		valueatrisk.Parametric: {Method: valueatrisk.Parametric, Value: 200},
	}, map[valueatrisk.Method]bool{valueatrisk.Historical: true}, 310)

	assert.Equal(t, 500.0, testutil.ToFloat64(r.VaR.WithLabelValues("historical")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VaRBreached.WithLabelValues("historical")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.VaRBreached.WithLabelValues("parametric")))
	assert.Equal(t, 310.0, testutil.ToFloat64(r.VaRLimit))

	r.ObserveCorrelation(correlation.DriftReport{Max: 0.9, Avg: 0.5}, 2)
	assert.Equal(t, 0.9, testutil.ToFloat64(r.CorrelationMax))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.CorrelationBreach))

	r.ObserveEmergency(emergency.Status{Level: emergency.Level4, Drawdown: 0.25, TradingHalted: true})
	assert.Equal(t, 4.0, testutil.ToFloat64(r.EmergencyLevel))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.TradingHalted))

	r.ObserveStress([]emergency.StressEvent{
		{Type: emergency.EventVolatilitySpike, RecommendedAction: emergency.ActionTightenStops},
		{Type: emergency.EventVolatilitySpike, RecommendedAction: emergency.ActionTightenStops},
	})
	assert.Equal(t, 2.0, testutil.ToFloat64(r.StressEvents.WithLabelValues(emergency.EventVolatilitySpike, emergency.ActionTightenStops)))

	r.CountError("candles")
	r.ObserveCycle(0.2, true)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Errors.WithLabelValues("candles")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Cycles.WithLabelValues("true")))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Greater(t, n, 10)
}

func TestRecorderIsolatedRegistries(t *testing.T) {
	t.Parallel()
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}

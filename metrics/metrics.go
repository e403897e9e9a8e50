// Package metrics exposes the risk state as Prometheus series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/emergency"
	"github.com/rustyeddy/fxrisk/valueatrisk"
)

const namespace = "fxrisk"

type Recorder struct {
	VaR               *prometheus.GaugeVec
	VaRBreached       *prometheus.GaugeVec
	VaRLimit          prometheus.Gauge
	CorrelationMax    prometheus.Gauge
	CorrelationAvg    prometheus.Gauge
	CorrelationBreach prometheus.Gauge
	EmergencyLevel    prometheus.Gauge
	Drawdown          prometheus.Gauge
	SizeMultiplier    prometheus.Gauge
	TradingHalted     prometheus.Gauge
	StressEvents      *prometheus.CounterVec
	Alerts            *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	Cycles            *prometheus.CounterVec
	CycleDuration     prometheus.Histogram
}

// New registers every series with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		VaR: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "var", Name: "value",
			Help: "Latest portfolio VaR in account currency by method",
		}, []string{"method"}),
		VaRBreached: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "var", Name: "breached",
			Help: "1 when the method's VaR exceeds the daily limit",
		}, []string{"method"}),
		VaRLimit: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "var", Name: "limit",
			Help: "Daily VaR limit in account currency",
		}),
		CorrelationMax: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "max_abs",
			Help: "Largest absolute pairwise correlation",
		}),
		CorrelationAvg: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "avg_abs",
			Help: "Mean absolute pairwise correlation",
		}),
		CorrelationBreach: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "correlation", Name: "breaches",
			Help: "Pairs at or above the warning threshold",
		}),
		EmergencyLevel: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "emergency", Name: "level",
			Help: "Emergency level, 0 is NORMAL and 4 is EMERGENCY_STOP",
		}),
		Drawdown: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "emergency", Name: "drawdown_ratio",
			Help: "Drawdown from the high-water mark",
		}),
		SizeMultiplier: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "emergency", Name: "position_size_multiplier",
			Help: "Multiplier applied to new position sizes",
		}),
		TradingHalted: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "emergency", Name: "trading_halted",
			Help: "1 when the emergency protocol stops trading",
		}),
		StressEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "emergency", Name: "stress_events_total",
			Help: "Stress events detected",
		}, []string{"type", "action"}),
		Alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Alerts generated by type and severity",
		}, []string{"type", "severity"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "collaborator_errors_total",
			Help: "Failed calls to data sources, the journal and notifiers",
		}, []string{"component"}),
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Risk cycles run, labelled stale when last-known data was used",
		}, []string{"stale"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one risk cycle",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (r *Recorder) ObserveVaR(results map[valueatrisk.Method]valueatrisk.Result, breaches map[valueatrisk.Method]bool, limit float64) {
	for m, res := range results {
		r.VaR.WithLabelValues(string(m)).Set(res.Value)
		r.VaRBreached.WithLabelValues(string(m)).Set(b2f(breaches[m]))
	}
	r.VaRLimit.Set(limit)
}

func (r *Recorder) ObserveCorrelation(d correlation.DriftReport, breaches int) {
	r.CorrelationMax.Set(d.Max)
	r.CorrelationAvg.Set(d.Avg)
	r.CorrelationBreach.Set(float64(breaches))
}

func (r *Recorder) ObserveEmergency(st emergency.Status) {
	r.EmergencyLevel.Set(float64(st.Level))
	r.Drawdown.Set(st.Drawdown)
	r.SizeMultiplier.Set(st.PositionSizeMultiplier)
	r.TradingHalted.Set(b2f(st.TradingHalted))
}

func (r *Recorder) ObserveStress(events []emergency.StressEvent) {
	for _, ev := range events {
		r.StressEvents.WithLabelValues(ev.Type, ev.RecommendedAction).Inc()
	}
}

func (r *Recorder) ObserveAlert(alertType, severity string) {
	r.Alerts.WithLabelValues(alertType, severity).Inc()
}

func (r *Recorder) CountError(component string) {
	r.Errors.WithLabelValues(component).Inc()
}

func (r *Recorder) ObserveCycle(seconds float64, stale bool) {
	label := "false"
	if stale {
		label = "true"
	}
	r.Cycles.WithLabelValues(label).Inc()
	r.CycleDuration.Observe(seconds)
}

package emergency

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/fxrisk/indicators"
	"github.com/rustyeddy/fxrisk/market"
	"github.com/rustyeddy/fxrisk/risk"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

const (
	EventVolatilitySpike  = "VOLATILITY_SPIKE"
	EventMarketWideStress = "MARKET_WIDE_STRESS"

	ActionTightenStops     = "TIGHTEN_STOPS"
	ActionReduceExposure   = "REDUCE_EXPOSURE"
	ActionHaltNewPositions = "HALT_NEW_POSITIONS"

	marketWidePair     = "MARKET"
	marketWideMinPairs = 3
)

// StressEvent is a volatility spike against the rolling baseline. Severity is
// the ratio of the latest measure to the baseline.
type StressEvent struct {
	Type              string    `json:"event_type"`
	Severity          float64   `json:"severity"`
	AffectedPairs     []string  `json:"affected_pairs"`
	RecommendedAction string    `json:"recommended_action"`
	Timestamp         time.Time `json:"timestamp"`
	DetectedAt        time.Time `json:"detected_at"`
}

func (e StressEvent) Alert() risk.Alert {
	return risk.Alert{
		Type:     risk.AlertStressEvent,
		Severity: stressSeverity(e.Severity),
		Message: fmt.Sprintf("%s on %v: volatility %.2fx baseline, %s",
			e.Type, e.AffectedPairs, e.Severity, e.RecommendedAction),
		Context: map[string]any{
			"event_type":         e.Type,
			"affected_pairs":     e.AffectedPairs,
			"ratio":              e.Severity,
			"recommended_action": e.RecommendedAction,
		},
		Timestamp: e.Timestamp,
	}
}

func stressSeverity(ratio float64) risk.Severity {
	switch {
	case ratio >= 4:
		return risk.SeverityCritical
	case ratio >= 3:
		return risk.SeverityHigh
	default:
		return risk.SeverityMedium
	}
}

func recommendedAction(ratio float64) string {
	switch {
	case ratio >= 4:
		return ActionHaltNewPositions
	case ratio >= 3:
		return ActionReduceExposure
	default:
		return ActionTightenStops
	}
}

type eventKey struct {
	pair string
	at   int64
}

type spike struct {
	pair  string
	ratio float64
	at    time.Time
}

// MonitorStressEvents compares each pair's latest true range with the mean of
// the StressWindow true ranges before it, which takes StressWindow+2 candles.
// Pairs still warming up are skipped. An event is returned once per
// (pair, candle).
func (m *Manager) MonitorStressEvents(history market.History) []StressEvent {
	pairs := make([]string, 0, len(history))
	for p := range history {
		pairs = append(pairs, p)
	}
	sort.Strings(pairs)

	var spikes []spike
	evaluated := 0
	for _, pair := range pairs {
		cs := history.Tail(pair, m.cfg.StressWindow+2)
		if len(cs) < m.cfg.StressWindow+2 {
			continue
		}
		measures := indicators.RangeSeries(cs)
		latest := measures[len(measures)-1]
		baseline := stat.Mean(measures[:len(measures)-1], nil)
		evaluated++

		if !(baseline > 0) || math.IsNaN(latest) {
			continue
		}
		ratio := latest / baseline
		if ratio >= m.cfg.StressMultiplier {
			spikes = append(spikes, spike{pair: pair, ratio: ratio, at: cs[len(cs)-1].Time})
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	m.pruneLocked(now)

	var out []StressEvent
	var wideAt time.Time
	wideRatio := 0.0
	affected := make([]string, 0, len(spikes))
	for _, s := range spikes {
		affected = append(affected, s.pair)
		wideRatio += s.ratio
		if s.at.After(wideAt) {
			wideAt = s.at
		}

		ev := StressEvent{
			Type:              EventVolatilitySpike,
			Severity:          s.ratio,
			AffectedPairs:     []string{s.pair},
			RecommendedAction: recommendedAction(s.ratio),
			Timestamp:         s.at,
			DetectedAt:        now,
		}
		if m.recordLocked(eventKey{s.pair, s.at.Unix()}, ev) {
			out = append(out, ev)
		}
	}

	if len(spikes) >= marketWideMinPairs && 2*len(spikes) >= evaluated {
		ratio := wideRatio / float64(len(spikes))
		ev := StressEvent{
			Type:              EventMarketWideStress,
			Severity:          ratio,
			AffectedPairs:     affected,
			RecommendedAction: recommendedAction(ratio),
			Timestamp:         wideAt,
			DetectedAt:        now,
		}
		if m.recordLocked(eventKey{marketWidePair, wideAt.Unix()}, ev) {
			out = append(out, ev)
		}
	}

	for _, ev := range out {
		m.log.Warn("stress event",
			zap.String("type", ev.Type),
			zap.Strings("pairs", ev.AffectedPairs),
			zap.Float64("ratio", ev.Severity),
			zap.String("action", ev.RecommendedAction))
	}
	return out
}

// recordLocked stores ev unless its key was already seen.
func (m *Manager) recordLocked(k eventKey, ev StressEvent) bool {
	if _, dup := m.seen[k]; dup {
		return false
	}
	m.seen[k] = ev.DetectedAt
	m.events = append(m.events, ev)
	if over := len(m.events) - m.cfg.MaxStressEvents; over > 0 {
		m.events = append([]StressEvent(nil), m.events[over:]...)
	}
	return true
}

func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.StressRetention)
	kept := m.events[:0]
	for _, ev := range m.events {
		if ev.DetectedAt.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	m.events = kept
	for k, at := range m.seen {
		if !at.After(cutoff) {
			delete(m.seen, k)
		}
	}
}

func (m *Manager) activeEventsLocked(now time.Time) int {
	cutoff := now.Add(-m.cfg.StressRetention)
	n := 0
	for _, ev := range m.events {
		if ev.DetectedAt.After(cutoff) {
			n++
		}
	}
	return n
}

// ActiveStressEvents returns the retained events, oldest first.
func (m *Manager) ActiveStressEvents() []StressEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cutoff := m.now().Add(-m.cfg.StressRetention)
	var out []StressEvent
	for _, ev := range m.events {
		if ev.DetectedAt.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// Package emergency turns portfolio drawdown into a discrete emergency level
// that throttles or halts trading, and watches candles for volatility stress.
package emergency

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rustyeddy/fxrisk/risk"
	"go.uber.org/zap"
)

var ErrInvalidPortfolioValue = errors.New("invalid portfolio value")

type Config struct {
	Protocols      []Protocol `json:"protocols" yaml:"protocols"`
	HysteresisBand float64    `json:"hysteresis_band" yaml:"hysteresis_band"`

	StressMultiplier float64       `json:"stress_multiplier" yaml:"stress_multiplier"`
	StressWindow     int           `json:"stress_window" yaml:"stress_window"`
	StressRetention  time.Duration `json:"stress_retention" yaml:"stress_retention"`
	MaxStressEvents  int           `json:"max_stress_events" yaml:"max_stress_events"`

	ReferenceVolatility float64 `json:"reference_volatility" yaml:"reference_volatility"`
	VolatilityFloor     float64 `json:"volatility_floor" yaml:"volatility_floor"`
	CorrelationPenalty  float64 `json:"correlation_penalty" yaml:"correlation_penalty"`
	CorrelationFloor    float64 `json:"correlation_floor" yaml:"correlation_floor"`

	Gate risk.SignalGate `json:"signal_gate" yaml:"signal_gate"`
}

func DefaultConfig() Config {
	return Config{
		Protocols:           DefaultProtocols(),
		StressMultiplier:    2.0,
		StressWindow:        24,
		StressRetention:     time.Hour,
		MaxStressEvents:     100,
		ReferenceVolatility: 0.01,
		VolatilityFloor:     0.25,
		CorrelationPenalty:  0.5,
		CorrelationFloor:    0.25,
		Gate:                risk.DefaultSignalGate(),
	}
}

func (c Config) Validate() error {
	if err := validateProtocols(c.Protocols); err != nil {
		return err
	}
	if c.HysteresisBand < 0 || c.HysteresisBand >= c.Protocols[0].DrawdownThreshold {
		return fmt.Errorf("hysteresis_band must be in [0, %.2f)", c.Protocols[0].DrawdownThreshold)
	}
	if c.StressMultiplier <= 1 {
		return fmt.Errorf("stress_multiplier must be greater than 1")
	}
	if c.StressWindow < 2 {
		return fmt.Errorf("stress_window must be at least 2")
	}
	if c.StressRetention <= 0 {
		return fmt.Errorf("stress_retention must be positive")
	}
	if c.MaxStressEvents <= 0 {
		return fmt.Errorf("max_stress_events must be positive")
	}
	if c.ReferenceVolatility <= 0 {
		return fmt.Errorf("reference_volatility must be positive")
	}
	for name, f := range map[string]float64{
		"volatility_floor":    c.VolatilityFloor,
		"correlation_penalty": c.CorrelationPenalty,
		"correlation_floor":   c.CorrelationFloor,
	} {
		if f < 0 || f > 1 {
			return fmt.Errorf("%s must be in [0, 1]", name)
		}
	}
	return c.Gate.Validate()
}

// Manager owns the emergency state. All mutation happens under mu; readers
// get copies.
type Manager struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu        sync.RWMutex
	level     Level
	value     float64
	hwm       float64
	drawdown  float64
	invalid   bool
	lastErr   error
	updatedAt time.Time
	events    []StressEvent
	seen      map[eventKey]time.Time
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

// New starts a manager at NORMAL with initialValue as the high-water mark.
func New(initialValue float64, cfg Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("emergency config: %w", err)
	}
	if !validValue(initialValue) {
		return nil, fmt.Errorf("%w: initial value %v", ErrInvalidPortfolioValue, initialValue)
	}
	m := &Manager{
		cfg:   cfg,
		log:   zap.NewNop(),
		now:   time.Now,
		level: Normal,
		value: initialValue,
		hwm:   initialValue,
		seen:  make(map[eventKey]time.Time),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.Named("emergency")
	m.updatedAt = m.now().UTC()
	return m, nil
}

func (m *Manager) Config() Config { return m.cfg }

func validValue(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

// UpdatePortfolioValue recomputes drawdown from the high-water mark and sets
// the level to the most severe protocol whose threshold is at or below it.
// An invalid value forces LEVEL_4 and leaves the last valid value and
// high-water mark untouched.
func (m *Manager) UpdatePortfolioValue(v float64) Level {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.level
	m.updatedAt = m.now().UTC()

	if !validValue(v) {
		m.invalid = true
		m.lastErr = fmt.Errorf("%w: %v", ErrInvalidPortfolioValue, v)
		m.level = Level4
		m.log.Error("invalid portfolio value, failing safe",
			zap.Float64("value", v), zap.Stringer("level", m.level))
		return m.level
	}

	wasInvalid := m.invalid
	m.invalid = false
	m.lastErr = nil
	m.value = v
	if v > m.hwm {
		m.hwm = v
	}
	m.drawdown = (m.hwm - v) / m.hwm

	next := levelFor(m.cfg.Protocols, m.drawdown)
	if band := m.cfg.HysteresisBand; band > 0 && next < prev && !wasInvalid {
		// a downgrade must clear the lower threshold by band
		held := levelFor(m.cfg.Protocols, m.drawdown+band)
		next = max(next, min(prev, held))
	}
	m.level = next

	if next != prev {
		m.log.Warn("emergency level changed",
			zap.Stringer("from", prev),
			zap.Stringer("to", next),
			zap.Float64("drawdown", m.drawdown),
			zap.Float64("value", v),
			zap.Float64("high_water_mark", m.hwm))
	}
	return m.level
}

// Level returns the current emergency level.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Protocol returns the protocol in force.
func (m *Manager) Protocol() Protocol {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return protocolFor(m.cfg.Protocols, m.level)
}

type Status struct {
	Level                  Level     `json:"emergency_level"`
	Drawdown               float64   `json:"portfolio_drawdown"`
	PortfolioValue         float64   `json:"portfolio_value"`
	HighWaterMark          float64   `json:"high_water_mark"`
	PositionSizeMultiplier float64   `json:"position_size_multiplier"`
	TradingHalted          bool      `json:"trading_halted"`
	ActiveStressEvents     int       `json:"active_stress_events"`
	ProtocolDescription    string    `json:"protocol_description"`
	InvalidInput           bool      `json:"invalid_input"`
	Error                  string    `json:"error,omitempty"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// Status returns a consistent copy of the emergency state.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := protocolFor(m.cfg.Protocols, m.level)
	st := Status{
		Level:                  m.level,
		Drawdown:               m.drawdown,
		PortfolioValue:         m.value,
		HighWaterMark:          m.hwm,
		PositionSizeMultiplier: p.PositionSizeMultiplier,
		TradingHalted:          p.StopTrading,
		ActiveStressEvents:     m.activeEventsLocked(m.now()),
		ProtocolDescription:    p.Description,
		InvalidInput:           m.invalid,
		UpdatedAt:              m.updatedAt,
	}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}

// Alert describes the status as an EMERGENCY_LEVEL alert. NORMAL yields
// ok == false.
func (s Status) Alert() (risk.Alert, bool) {
	if s.Level == Normal {
		return risk.Alert{}, false
	}
	msg := fmt.Sprintf("%s at %.1f%% drawdown: %s", s.Level, s.Drawdown*100, s.ProtocolDescription)
	if s.InvalidInput {
		msg = fmt.Sprintf("%s after invalid portfolio value: %s", s.Level, s.ProtocolDescription)
	}
	return risk.Alert{
		Type:     risk.AlertEmergencyLevel,
		Severity: s.Level.Severity(),
		Message:  msg,
		Context: map[string]any{
			"level":           s.Level.String(),
			"drawdown":        s.Drawdown,
			"portfolio_value": s.PortfolioValue,
			"trading_halted":  s.TradingHalted,
			"invalid_input":   s.InvalidInput,
		},
		Timestamp: s.UpdatedAt,
	}, true
}

package emergency

import (
	"fmt"
	"strings"

	"github.com/rustyeddy/fxrisk/risk"
)

// Level is the emergency state, ordered by severity.
type Level int

const (
	Normal Level = iota
	Level1
	Level2
	Level3
	Level4
)

var levelNames = [...]string{"NORMAL", "LEVEL_1", "LEVEL_2", "LEVEL_3_CRISIS", "LEVEL_4_EMERGENCY_STOP"}

func (l Level) String() string {
	if l < Normal || l > Level4 {
		return fmt.Sprintf("Level(%d)", int(l))
	}
	return levelNames[l]
}

func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// levelAliases are the accepted short names besides levelNames.
var levelAliases = map[string]Level{
	"LEVEL_3":        Level3,
	"CRISIS":         Level3,
	"LEVEL_4":        Level4,
	"EMERGENCY_STOP": Level4,
}

// UnmarshalText accepts the full names, case-insensitively, and the aliases.
func (l *Level) UnmarshalText(b []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(b)))
	for i, n := range levelNames {
		if s == n {
			*l = Level(i)
			return nil
		}
	}
	if a, ok := levelAliases[s]; ok {
		*l = a
		return nil
	}
	return fmt.Errorf("unknown emergency level %q", string(b))
}

// Severity maps a level onto the alert scale.
func (l Level) Severity() risk.Severity {
	switch l {
	case Level1:
		return risk.SeverityLow
	case Level2:
		return risk.SeverityMedium
	case Level3:
		return risk.SeverityHigh
	case Level4:
		return risk.SeverityCritical
	}
	return ""
}

// Protocol binds a level to the drawdown that triggers it and the trading
// restrictions it imposes.
type Protocol struct {
	DrawdownThreshold      float64 `json:"drawdown_threshold" yaml:"drawdown_threshold"`
	PositionSizeMultiplier float64 `json:"position_size_multiplier" yaml:"position_size_multiplier"`
	StopTrading            bool    `json:"stop_trading" yaml:"stop_trading"`
	Description            string  `json:"description" yaml:"description"`
}

var normalProtocol = Protocol{
	PositionSizeMultiplier: 1,
	Description:            "Normal trading",
}

// DefaultProtocols are LEVEL_1 through LEVEL_4 in order.
func DefaultProtocols() []Protocol {
	return []Protocol{
		{DrawdownThreshold: 0.10, PositionSizeMultiplier: 0.75, Description: "Reduce new position size by 25%"},
		{DrawdownThreshold: 0.15, PositionSizeMultiplier: 0.50, Description: "Halve new position size"},
		{DrawdownThreshold: 0.20, PositionSizeMultiplier: 0.25, Description: "Crisis: new positions at quarter size"},
		{DrawdownThreshold: 0.25, PositionSizeMultiplier: 0, StopTrading: true, Description: "Emergency stop: all trading halted"},
	}
}

func validateProtocols(ps []Protocol) error {
	if len(ps) != int(Level4) {
		return fmt.Errorf("need exactly %d protocols, got %d", int(Level4), len(ps))
	}
	prevThr, prevMul := 0.0, 1.0
	for i, p := range ps {
		lvl := Level(i + 1)
		if !(p.DrawdownThreshold > prevThr) || p.DrawdownThreshold >= 1 {
			return fmt.Errorf("%s: drawdown_threshold must increase and stay below 1", lvl)
		}
		if p.PositionSizeMultiplier < 0 || p.PositionSizeMultiplier > prevMul {
			return fmt.Errorf("%s: position_size_multiplier must be in [0, %.2f]", lvl, prevMul)
		}
		prevThr, prevMul = p.DrawdownThreshold, p.PositionSizeMultiplier
	}
	last := ps[len(ps)-1]
	if !last.StopTrading || last.PositionSizeMultiplier > 1e-9 {
		return fmt.Errorf("%s must stop trading with a zero multiplier", Level4)
	}
	return nil
}

// levelFor returns the most severe level whose threshold is at or below dd.
func levelFor(ps []Protocol, dd float64) Level {
	lvl := Normal
	for i, p := range ps {
		if dd >= p.DrawdownThreshold {
			lvl = Level(i + 1)
		}
	}
	return lvl
}

func protocolFor(ps []Protocol, l Level) Protocol {
	if l <= Normal || int(l) > len(ps) {
		return normalProtocol
	}
	return ps[l-1]
}

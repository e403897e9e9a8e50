package risk

import "fmt"

type Violation struct {
	Code string
	Msg  string
}

type Decision struct {
	Allowed    bool
	Violations []Violation
}

func (d *Decision) add(code, msg string) {
	d.Violations = append(d.Violations, Violation{Code: code, Msg: msg})
	d.Allowed = false
}

// Has reports whether the decision carries a violation with code.
func (d Decision) Has(code string) bool {
	for _, v := range d.Violations {
		if v.Code == code {
			return true
		}
	}
	return false
}

// SignalGate is the base quality gate every trading signal must pass before
// the emergency state is consulted.
type SignalGate struct {
	MinATR        float64 `json:"min_atr" yaml:"min_atr"`
	MinRewardRisk float64 `json:"min_reward_risk" yaml:"min_reward_risk"`
}

func DefaultSignalGate() SignalGate {
	return SignalGate{
		MinATR:        0.0005,
		MinRewardRisk: 1.5,
	}
}

// Evaluate checks a signal (+1 buy, -1 sell, 0 none) against the gate.
func (g SignalGate) Evaluate(signal int, atr, rewardRisk float64) Decision {
	d := Decision{Allowed: true}

	if signal == 0 {
		d.add("NO_SIGNAL", "signal is flat")
	}
	if !(atr >= g.MinATR) {
		d.add("ATR_TOO_LOW", fmt.Sprintf("ATR %.6f below minimum %.6f", atr, g.MinATR))
	}
	if !(rewardRisk >= g.MinRewardRisk) {
		d.add("RR_TOO_LOW", fmt.Sprintf("RR %.2f below minimum %.2f", rewardRisk, g.MinRewardRisk))
	}
	return d
}

func (g SignalGate) Validate() error {
	if g.MinATR < 0 {
		return fmt.Errorf("min_atr must not be negative")
	}
	if g.MinRewardRisk < 0 {
		return fmt.Errorf("min_reward_risk must not be negative")
	}
	return nil
}

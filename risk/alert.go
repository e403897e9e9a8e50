package risk

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank orders severities, higher is worse. Unknown severities rank 0.
func (s Severity) Rank() int {
	switch Severity(strings.ToUpper(string(s))) {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Alert types emitted by the risk components.
const (
	AlertVaRBreach         = "VAR_BREACH"
	AlertCorrelationBreach = "CORRELATION_BREACH"
	AlertStressEvent       = "STRESS_EVENT"
	AlertEmergencyLevel    = "EMERGENCY_LEVEL"
)

// Alert is the generic message handed to notification channels and the
// metrics store.
type Alert struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (a Alert) String() string {
	return fmt.Sprintf("[%s] %s: %s", a.Severity, a.Type, a.Message)
}

// Package journal persists risk metrics, alerts and adjustment
// recommendations.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
)

var ErrNotFound = errors.New("not found")

// CorrelationRecord is one stored matrix entry.
type CorrelationRecord struct {
	Timestamp time.Time `json:"timestamp"`
	correlation.Entry
}

// AdjustmentRecord is a stored position adjustment recommendation.
type AdjustmentRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	correlation.Recommendation
}

// Store is the metrics store the risk cycle writes to.
type Store interface {
	StoreVaRCalculations(ctx context.Context, results []valueatrisk.Result) error
	StoreCorrelationData(ctx context.Context, m correlation.Matrix) error
	StoreRiskAlert(ctx context.Context, a risk.Alert) (string, error)
	StorePositionAdjustment(ctx context.Context, ts time.Time, r correlation.Recommendation) (string, error)

	RecentVaRCalculations(ctx context.Context, limit int) ([]valueatrisk.Result, error)
	RecentCorrelations(ctx context.Context, limit int) ([]CorrelationRecord, error)
	RecentPositionAdjustments(ctx context.Context, limit int) ([]AdjustmentRecord, error)
	ActiveAlerts(ctx context.Context) ([]risk.Alert, error)
	ResolveAlert(ctx context.Context, id string) error

	Close() error
}

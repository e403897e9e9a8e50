package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
)

const defaultLimit = 100

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}

// RecentVaRCalculations returns up to limit results, newest first.
func (j *SQLite) RecentVaRCalculations(ctx context.Context, limit int) ([]valueatrisk.Result, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, method, pair, value, confidence_level, position_size, volatility, samples, insufficient
		FROM var_calculations
		ORDER BY time DESC, id DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []valueatrisk.Result
	for rows.Next() {
		var (
			r      valueatrisk.Result
			method string
		)
		if err := rows.Scan(
			&r.Timestamp,
			&method,
			&r.Pair,
			&r.Value,
			&r.ConfidenceLevel,
			&r.PositionSize,
			&r.Volatility,
			&r.Samples,
			&r.Insufficient,
		); err != nil {
			return nil, err
		}
		r.Method = valueatrisk.Method(method)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentCorrelations returns up to limit matrix entries, newest first.
func (j *SQLite) RecentCorrelations(ctx context.Context, limit int) ([]CorrelationRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT time, pair1, pair2, correlation, observations
		FROM correlations
		ORDER BY time DESC, id DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CorrelationRecord
	for rows.Next() {
		var rec CorrelationRecord
		if err := rows.Scan(
			&rec.Timestamp,
			&rec.Pair1,
			&rec.Pair2,
			&rec.Correlation,
			&rec.Observations,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RecentPositionAdjustments returns up to limit recommendations, newest first.
func (j *SQLite) RecentPositionAdjustments(ctx context.Context, limit int) ([]AdjustmentRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT adjustment_id, time, pair, current_size, recommended_size, adjustment_ratio, priority, severity, reason
		FROM position_adjustments
		ORDER BY time DESC, adjustment_id DESC
		LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AdjustmentRecord
	for rows.Next() {
		var (
			rec AdjustmentRecord
			sev string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.Timestamp,
			&rec.Pair,
			&rec.CurrentSize,
			&rec.RecommendedSize,
			&rec.AdjustmentRatio,
			&rec.Priority,
			&sev,
			&rec.Reason,
		); err != nil {
			return nil, err
		}
		rec.Severity = risk.Severity(sev)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveAlerts returns unresolved alerts, newest first.
func (j *SQLite) ActiveAlerts(ctx context.Context) ([]risk.Alert, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT alert_id, time, type, severity, message, context
		FROM risk_alerts
		WHERE resolved = 0
		ORDER BY time DESC, alert_id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Alert
	for rows.Next() {
		var (
			a       risk.Alert
			sev     string
			rawJSON string
		)
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Type, &sev, &a.Message, &rawJSON); err != nil {
			return nil, err
		}
		a.Severity = risk.Severity(sev)
		if rawJSON != "" && rawJSON != "{}" {
			if err := json.Unmarshal([]byte(rawJSON), &a.Context); err != nil {
				return nil, fmt.Errorf("decode context of alert %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

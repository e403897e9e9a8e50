package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/pkg/id"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
)

type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	// sqlite serializes writers anyway; one connection also keeps :memory: coherent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// StoreVaRCalculations writes one cycle's results in one transaction, so a
// retried write never leaves a partial cycle behind.
func (j *SQLite) StoreVaRCalculations(ctx context.Context, results []valueatrisk.Result) error {
	if len(results) == 0 {
		return nil
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store var: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO var_calculations
		(time, method, pair, value, confidence_level, position_size, volatility, samples, insufficient)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store var: %w", err)
	}
	defer stmt.Close()

	for _, r := range results {
		ts := r.Timestamp
		if ts.IsZero() {
			ts = j.now()
		}
		_, err := stmt.ExecContext(ctx,
			ts.UTC(), string(r.Method), r.Pair, r.Value, r.ConfidenceLevel,
			r.PositionSize, r.Volatility, r.Samples, r.Insufficient,
		)
		if err != nil {
			return fmt.Errorf("store var %s: %w", r.Method, err)
		}
	}
	return tx.Commit()
}

// StoreCorrelationData writes every entry of m in one transaction.
func (j *SQLite) StoreCorrelationData(ctx context.Context, m correlation.Matrix) error {
	entries := m.Entries()
	if len(entries) == 0 {
		return nil
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = j.now()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store correlations: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO correlations (time, pair1, pair2, correlation, observations)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store correlations: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, ts.UTC(), e.Pair1, e.Pair2, e.Correlation, e.Observations); err != nil {
			return fmt.Errorf("store correlation %s/%s: %w", e.Pair1, e.Pair2, err)
		}
	}
	return tx.Commit()
}

// StoreRiskAlert saves a and returns its ID, generating one when a has none.
func (j *SQLite) StoreRiskAlert(ctx context.Context, a risk.Alert) (string, error) {
	if a.ID == "" {
		a.ID = id.New()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = j.now()
	}
	ctxJSON := []byte("{}")
	if len(a.Context) > 0 {
		b, err := json.Marshal(a.Context)
		if err != nil {
			return "", fmt.Errorf("encode alert context: %w", err)
		}
		ctxJSON = b
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO risk_alerts (alert_id, time, type, severity, message, context)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Timestamp.UTC(), a.Type, string(a.Severity), a.Message, string(ctxJSON),
	)
	if err != nil {
		return "", fmt.Errorf("store alert %s: %w", a.Type, err)
	}
	return a.ID, nil
}

func (j *SQLite) StorePositionAdjustment(ctx context.Context, ts time.Time, r correlation.Recommendation) (string, error) {
	if ts.IsZero() {
		ts = j.now()
	}
	aid := id.New()
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO position_adjustments
		(adjustment_id, time, pair, current_size, recommended_size, adjustment_ratio, priority, severity, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		aid, ts.UTC(), r.Pair, r.CurrentSize, r.RecommendedSize, r.AdjustmentRatio,
		r.Priority, string(r.Severity), r.Reason,
	)
	if err != nil {
		return "", fmt.Errorf("store adjustment %s: %w", r.Pair, err)
	}
	return aid, nil
}

// ResolveAlert marks an active alert resolved.
func (j *SQLite) ResolveAlert(ctx context.Context, alertID string) error {
	res, err := j.db.ExecContext(ctx, `
		UPDATE risk_alerts SET resolved = 1, resolved_time = ?
		WHERE alert_id = ? AND resolved = 0`, j.now().UTC(), alertID)
	if err != nil {
		return fmt.Errorf("resolve alert %s: %w", alertID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert %q: %w", alertID, ErrNotFound)
	}
	return nil
}

func (j *SQLite) Close() error {
	return j.db.Close()
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/revlift/revlift/internal/types"
)

const measurementColumns = `id, action_id, page_url, metric, window_days,
	start_date, end_date, baseline_value, baseline_start, baseline_end,
	measured_value, absolute_impact, percent_impact, estimated_impact,
	revenue_impact, prediction_error, prediction_accuracy, attribution_confidence,
	status, completed_at, attribution_notes, created_at`

// CreateMeasurement persists a new pending measurement. The unique partial
// index on (action_id) WHERE status='pending' enforces one active
// measurement per tracked action.
func (s *SQLiteStorage) CreateMeasurement(ctx context.Context, m *types.Measurement) error {
	if m.ID == "" {
		return fmt.Errorf("measurement id is required")
	}
	if m.ActionID == "" {
		return fmt.Errorf("action_id is required")
	}
	if !m.Metric.IsValid() {
		return fmt.Errorf("invalid metric type: %s", m.Metric)
	}
	if m.WindowDays < 1 {
		return fmt.Errorf("window_days must be positive (got %d)", m.WindowDays)
	}

	now := time.Now().UTC()
	m.CreatedAt = now
	m.Status = types.MeasurementPending

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var opportunityID string
	err = tx.QueryRowContext(ctx, "SELECT opportunity_id FROM actions WHERE id = ?", m.ActionID).Scan(&opportunityID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("action not found: %s", m.ActionID)
	}
	if err != nil {
		return fmt.Errorf("failed to look up action: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO measurements (
			id, action_id, page_url, metric, window_days,
			start_date, end_date, baseline_value, baseline_start, baseline_end,
			estimated_impact, attribution_confidence, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ActionID, m.PageURL, m.Metric, m.WindowDays,
		m.StartDate.UTC(), m.EndDate.UTC(), m.BaselineValue.String(),
		m.BaselineStart.UTC(), m.BaselineEnd.UTC(),
		m.EstimatedImpact.String(), m.AttributionConfidence.String(),
		types.MeasurementPending, now)
	if err != nil {
		return fmt.Errorf("failed to insert measurement: %w", err)
	}

	if err := recordEvent(ctx, tx, opportunityID, types.EventTracked, "revlift-tracker", m.ID); err != nil {
		return err
	}

	return tx.Commit()
}

// GetMeasurement retrieves a measurement by ID. Returns nil when absent.
func (s *SQLiteStorage) GetMeasurement(ctx context.Context, id string) (*types.Measurement, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM measurements WHERE id = ?", measurementColumns), id)
	m, err := scanMeasurement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get measurement: %w", err)
	}
	return m, nil
}

// GetMeasurementByAction returns the most recent measurement for an
// action, or nil when the action has never been tracked
func (s *SQLiteStorage) GetMeasurementByAction(ctx context.Context, actionID string) (*types.Measurement, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM measurements WHERE action_id = ? ORDER BY created_at DESC LIMIT 1
	`, measurementColumns), actionID)
	m, err := scanMeasurement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get measurement by action: %w", err)
	}
	return m, nil
}

// GetDueMeasurements returns pending measurements whose observation window
// has closed (endDate <= now)
func (s *SQLiteStorage) GetDueMeasurements(ctx context.Context, now time.Time) ([]*types.Measurement, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM measurements
		WHERE status = 'pending' AND end_date <= ?
		ORDER BY end_date ASC
	`, measurementColumns), now.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query due measurements: %w", err)
	}
	defer rows.Close()

	var out []*types.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read due measurements: %w", err)
	}
	return out, nil
}

// CompleteMeasurement finalizes a pending measurement with its computed
// results. When the outcome is complete, the verified impact is also
// denormalized onto the owning action inside the same transaction. The
// pending-status guard makes finalization happen exactly once; a row
// already finalized by a concurrent sweep is reported as an error.
func (s *SQLiteStorage) CompleteMeasurement(ctx context.Context, m *types.Measurement) error {
	if m.Status != types.MeasurementComplete && m.Status != types.MeasurementInconclusive {
		return fmt.Errorf("measurement must be finalized as complete or inconclusive (got %s)", m.Status)
	}

	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE measurements
		SET measured_value = ?, absolute_impact = ?, percent_impact = ?,
		    revenue_impact = ?, prediction_error = ?, prediction_accuracy = ?,
		    status = ?, completed_at = ?, attribution_notes = ?
		WHERE id = ? AND status = 'pending'
	`, m.MeasuredValue.String(), m.AbsoluteImpact.String(), m.PercentImpact.String(),
		m.RevenueImpact.String(), m.PredictionError.String(), m.PredictionAccuracy.String(),
		m.Status, now, m.AttributionNotes, m.ID)
	if err != nil {
		return fmt.Errorf("failed to finalize measurement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check finalization: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("measurement %s is not pending", m.ID)
	}

	var opportunityID string
	err = tx.QueryRowContext(ctx, "SELECT opportunity_id FROM actions WHERE id = ?", m.ActionID).Scan(&opportunityID)
	if err != nil {
		return fmt.Errorf("failed to look up action: %w", err)
	}

	if m.Status == types.MeasurementComplete {
		if err := setVerifiedImpact(ctx, tx, m.ActionID, m.RevenueImpact.String(), now); err != nil {
			return err
		}
	}

	if err := recordStatusChange(ctx, tx, opportunityID, types.EventMeasured, "revlift-tracker",
		string(types.MeasurementPending), string(m.Status), m.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	m.CompletedAt = &now
	return nil
}

// FailMeasurement marks a pending measurement inconclusive with the
// captured error text. Used by the sweep's per-row failure isolation.
func (s *SQLiteStorage) FailMeasurement(ctx context.Context, id, notes string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE measurements
		SET status = ?, completed_at = ?, attribution_notes = ?
		WHERE id = ? AND status = 'pending'
	`, types.MeasurementInconclusive, now, notes, id)
	if err != nil {
		return fmt.Errorf("failed to mark measurement inconclusive: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("measurement %s is not pending", id)
	}
	return nil
}

// GetImpactSummary aggregates finalized measurements. An empty store
// yields a zero-valued summary, not an error.
func (s *SQLiteStorage) GetImpactSummary(ctx context.Context) (*types.ImpactSummary, error) {
	summary := &types.ImpactSummary{
		TotalRevenueImpact: decimal.Zero,
		AverageAccuracy:    decimal.Zero,
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM measurements GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count measurements: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan measurement count: %w", err)
		}
		switch types.MeasurementStatus(status) {
		case types.MeasurementPending:
			summary.Pending = count
		case types.MeasurementComplete:
			summary.Complete = count
		case types.MeasurementInconclusive:
			summary.Inconclusive = count
		}
		summary.TotalMeasurements += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read measurement counts: %w", err)
	}

	compRows, err := s.db.QueryContext(ctx, `
		SELECT revenue_impact, prediction_accuracy FROM measurements WHERE status = 'complete'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query completed measurements: %w", err)
	}
	defer compRows.Close()
	accuracySum := decimal.Zero
	for compRows.Next() {
		var revenue, accuracy sql.NullString
		if err := compRows.Scan(&revenue, &accuracy); err != nil {
			return nil, fmt.Errorf("failed to scan completed measurement: %w", err)
		}
		r, err := scanDecimal(revenue)
		if err != nil {
			return nil, err
		}
		a, err := scanDecimal(accuracy)
		if err != nil {
			return nil, err
		}
		summary.TotalRevenueImpact = summary.TotalRevenueImpact.Add(r)
		accuracySum = accuracySum.Add(a)
	}
	if err := compRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read completed measurements: %w", err)
	}

	if summary.Complete > 0 {
		summary.AverageAccuracy = accuracySum.Div(decimal.NewFromInt(int64(summary.Complete)))
	}

	return summary, nil
}

// GetRecentMeasurements returns measurements ordered by creation, newest
// first
func (s *SQLiteStorage) GetRecentMeasurements(ctx context.Context, limit int) ([]*types.Measurement, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM measurements ORDER BY created_at DESC, id DESC
	`, measurementColumns)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent measurements: %w", err)
	}
	defer rows.Close()

	var out []*types.Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recent measurements: %w", err)
	}
	return out, nil
}

func scanMeasurement(row rowScanner) (*types.Measurement, error) {
	var m types.Measurement
	var baseline, measured, absolute, percent sql.NullString
	var estimated, revenue, predErr, predAcc, attribution sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&m.ID, &m.ActionID, &m.PageURL, &m.Metric, &m.WindowDays,
		&m.StartDate, &m.EndDate, &baseline, &m.BaselineStart, &m.BaselineEnd,
		&measured, &absolute, &percent, &estimated,
		&revenue, &predErr, &predAcc, &attribution,
		&m.Status, &completedAt, &m.AttributionNotes, &m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if m.BaselineValue, err = scanDecimal(baseline); err != nil {
		return nil, err
	}
	if m.MeasuredValue, err = scanDecimal(measured); err != nil {
		return nil, err
	}
	if m.AbsoluteImpact, err = scanDecimal(absolute); err != nil {
		return nil, err
	}
	if m.PercentImpact, err = scanDecimal(percent); err != nil {
		return nil, err
	}
	if m.EstimatedImpact, err = scanDecimal(estimated); err != nil {
		return nil, err
	}
	if m.RevenueImpact, err = scanDecimal(revenue); err != nil {
		return nil, err
	}
	if m.PredictionError, err = scanDecimal(predErr); err != nil {
		return nil, err
	}
	if m.PredictionAccuracy, err = scanDecimal(predAcc); err != nil {
		return nil, err
	}
	if m.AttributionConfidence, err = scanDecimal(attribution); err != nil {
		return nil, err
	}
	m.CompletedAt = timePtr(completedAt)

	return &m, nil
}

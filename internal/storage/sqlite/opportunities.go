package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/revlift/revlift/internal/types"
)

// DefaultExpiryDays is applied when a create request carries no explicit
// expiry: the opportunity expires 30 days after creation.
const DefaultExpiryDays = 30

const opportunityColumns = `id, opportunity_type, title, description, status, priority, confidence,
	page_url, mod_id, category, estimated_revenue_impact, estimated_rpm_increase,
	expires_at, created_at, updated_at, approved_at, approved_by,
	rejected_at, rejected_by, rejection_reason, implemented_at`

// CreateOpportunity creates an opportunity together with all of its
// actions as one atomic unit. When pageURL is set and a pending
// opportunity for the same (pageURL, opportunityType) already exists, no
// new row is inserted: the existing row is refreshed only if the incoming
// confidence is strictly greater, and its id is returned either way.
func (s *SQLiteStorage) CreateOpportunity(ctx context.Context, input *types.CreateOpportunityInput, actor string) (string, bool, error) {
	if err := input.Validate(); err != nil {
		return "", false, fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()

	// Acquire a dedicated connection so BEGIN IMMEDIATE and COMMIT run on
	// the same connection; the pool would otherwise split them.
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE acquires the write lock up front, serializing the
	// dedup-check-then-insert across concurrent detectors.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return "", false, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if input.PageURL != "" {
		var existingID string
		var existingConfidence sql.NullString
		err = conn.QueryRowContext(ctx, `
			SELECT id, confidence FROM opportunities
			WHERE page_url = ? AND opportunity_type = ? AND status = 'pending'
			LIMIT 1
		`, input.PageURL, input.OpportunityType).Scan(&existingID, &existingConfidence)
		if err != nil && err != sql.ErrNoRows {
			return "", false, fmt.Errorf("failed to check for duplicate opportunity: %w", err)
		}
		if err == nil {
			stored, derr := scanDecimal(existingConfidence)
			if derr != nil {
				return "", false, derr
			}
			if input.Confidence.GreaterThan(stored) {
				_, err = conn.ExecContext(ctx, `
					UPDATE opportunities
					SET title = ?, description = ?, priority = ?, confidence = ?,
					    estimated_revenue_impact = ?, estimated_rpm_increase = ?, updated_at = ?
					WHERE id = ?
				`, input.Title, input.Description, normalizePriority(input.Priority),
					input.Confidence.String(), decimalArg(input.EstimatedRevenueImpact),
					decimalArg(input.EstimatedRPMIncrease), now, existingID)
				if err != nil {
					return "", false, fmt.Errorf("failed to refresh duplicate opportunity: %w", err)
				}
				if err := recordEvent(ctx, conn, existingID, types.EventUpdated, actor,
					fmt.Sprintf("refreshed by higher-confidence detection (%s > %s)", input.Confidence, stored)); err != nil {
					return "", false, err
				}
			}
			if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
				return "", false, fmt.Errorf("failed to commit transaction: %w", err)
			}
			committed = true
			return existingID, false, nil
		}
	}

	id := uuid.NewString()
	expiresAt := input.ExpiresAt
	if expiresAt == nil {
		e := now.AddDate(0, 0, DefaultExpiryDays)
		expiresAt = &e
	}

	_, err = conn.ExecContext(ctx, `
		INSERT INTO opportunities (
			id, opportunity_type, title, description, status, priority, confidence,
			page_url, mod_id, category, estimated_revenue_impact, estimated_rpm_increase,
			expires_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, input.OpportunityType, input.Title, input.Description, types.OpportunityPending,
		normalizePriority(input.Priority), input.Confidence.String(),
		nullString(input.PageURL), nullString(input.ModID), nullString(input.Category),
		decimalArg(input.EstimatedRevenueImpact), decimalArg(input.EstimatedRPMIncrease),
		expiresAt.UTC(), now, now)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert opportunity: %w", err)
	}

	for i := range input.Actions {
		data := input.Actions[i].ActionData
		if len(data) == 0 {
			data = json.RawMessage("{}")
		}
		_, err = conn.ExecContext(ctx, `
			INSERT INTO actions (id, opportunity_id, action_type, action_data, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, uuid.NewString(), id, input.Actions[i].ActionType, string(data), types.ActionPending, now, now)
		if err != nil {
			return "", false, fmt.Errorf("failed to insert action %d: %w", i, err)
		}
	}

	if err := recordEvent(ctx, conn, id, types.EventCreated, actor,
		fmt.Sprintf("%s (%d actions)", input.OpportunityType, len(input.Actions))); err != nil {
		return "", false, err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return "", false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return id, true, nil
}

// GetOpportunity retrieves an opportunity by ID, including its actions.
// Returns nil (not an error) when no such row exists.
func (s *SQLiteStorage) GetOpportunity(ctx context.Context, id string) (*types.Opportunity, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM opportunities WHERE id = ?", opportunityColumns), id)

	opp, err := scanOpportunity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get opportunity: %w", err)
	}

	actions, err := s.getActionsForOpportunities(ctx, []string{opp.ID})
	if err != nil {
		return nil, err
	}
	opp.Actions = actions[opp.ID]
	return opp, nil
}

// GetPendingOpportunities returns non-expired pending opportunities ordered
// by priority (highest first), estimated revenue impact (highest first),
// then age (oldest first, the fairness tie-break). Actions are attached.
func (s *SQLiteStorage) GetPendingOpportunities(ctx context.Context, limit int) ([]*types.Opportunity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM opportunities
		WHERE status = 'pending'
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY priority DESC,
		         CAST(COALESCE(estimated_revenue_impact, '0') AS REAL) DESC,
		         created_at ASC
	`, opportunityColumns)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	return s.queryOpportunities(ctx, query, time.Now().UTC())
}

// GetImplementedOpportunities returns implemented opportunities, most
// recently implemented first
func (s *SQLiteStorage) GetImplementedOpportunities(ctx context.Context, limit int) ([]*types.Opportunity, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM opportunities
		WHERE status = 'implemented'
		ORDER BY implemented_at DESC
	`, opportunityColumns)
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	return s.queryOpportunities(ctx, query)
}

// ApproveOpportunity approves a pending opportunity and cascades the
// decision to every action it owns, inside one transaction
func (s *SQLiteStorage) ApproveOpportunity(ctx context.Context, id, approvedBy string) error {
	return s.decideOpportunity(ctx, id, approvedBy, "", true)
}

// RejectOpportunity rejects a pending opportunity and cascades the
// decision to every action it owns, inside one transaction
func (s *SQLiteStorage) RejectOpportunity(ctx context.Context, id, rejectedBy, reason string) error {
	return s.decideOpportunity(ctx, id, rejectedBy, reason, false)
}

func (s *SQLiteStorage) decideOpportunity(ctx context.Context, id, actor, reason string, approve bool) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM opportunities WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return fmt.Errorf("opportunity not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("failed to check opportunity status: %w", err)
	}
	// Status transitions are monotonic: only pending rows can be decided.
	if status != string(types.OpportunityPending) {
		return fmt.Errorf("opportunity %s is not pending (status: %s)", id, status)
	}

	if approve {
		_, err = tx.ExecContext(ctx, `
			UPDATE opportunities SET status = ?, approved_at = ?, approved_by = ?, updated_at = ?
			WHERE id = ?
		`, types.OpportunityApproved, now, actor, now, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE opportunities SET status = ?, rejected_at = ?, rejected_by = ?, rejection_reason = ?, updated_at = ?
			WHERE id = ?
		`, types.OpportunityRejected, now, actor, nullString(reason), now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to update opportunity: %w", err)
	}

	// Cascade the identical decision to the owned actions.
	if approve {
		_, err = tx.ExecContext(ctx, `
			UPDATE actions SET status = ?, approved_at = ?, approved_by = ?, updated_at = ?
			WHERE opportunity_id = ? AND status = 'pending'
		`, types.ActionApproved, now, actor, now, id)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE actions SET status = ?, rejected_at = ?, rejected_by = ?, updated_at = ?
			WHERE opportunity_id = ? AND status = 'pending'
		`, types.ActionRejected, now, actor, now, id)
	}
	if err != nil {
		return fmt.Errorf("failed to cascade decision to actions: %w", err)
	}

	eventType := types.EventApproved
	newStatus := types.OpportunityApproved
	comment := ""
	if !approve {
		eventType = types.EventRejected
		newStatus = types.OpportunityRejected
		comment = reason
	}
	if err := recordStatusChange(ctx, tx, id, eventType, actor,
		status, string(newStatus), comment); err != nil {
		return err
	}

	return tx.Commit()
}

// ExpireOldOpportunities bulk-transitions pending opportunities to expired
// where the expiry has passed or, lacking an explicit expiry, the row is
// older than daysOld. Approved, rejected and implemented rows are never
// touched. Idempotent: an immediate second run expires zero further rows.
func (s *SQLiteStorage) ExpireOldOpportunities(ctx context.Context, daysOld int) (int, error) {
	if daysOld <= 0 {
		daysOld = DefaultExpiryDays
	}
	now := time.Now().UTC()
	cutoff := now.AddDate(0, 0, -daysOld)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM opportunities
		WHERE status = 'pending'
		  AND ((expires_at IS NOT NULL AND expires_at <= ?)
		       OR (expires_at IS NULL AND created_at <= ?))
	`, now, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to select expirable opportunities: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan opportunity id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return 0, fmt.Errorf("failed to read expirable opportunities: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `
			UPDATE opportunities SET status = ?, updated_at = ? WHERE id = ? AND status = 'pending'
		`, types.OpportunityExpired, now, id); err != nil {
			return 0, fmt.Errorf("failed to expire opportunity %s: %w", id, err)
		}
		if err := recordStatusChange(ctx, tx, id, types.EventExpired, "revlift-expirer",
			string(types.OpportunityPending), string(types.OpportunityExpired), ""); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// GetQueueStats returns per-status counts plus the decimal sum of
// estimated revenue impact over pending opportunities only
func (s *SQLiteStorage) GetQueueStats(ctx context.Context) (*types.QueueStats, error) {
	stats := &types.QueueStats{PendingEstimatedRevenue: decimal.Zero}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM opportunities GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count opportunities: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch types.OpportunityStatus(status) {
		case types.OpportunityPending:
			stats.Pending = count
		case types.OpportunityApproved:
			stats.Approved = count
		case types.OpportunityRejected:
			stats.Rejected = count
		case types.OpportunityImplemented:
			stats.Implemented = count
		case types.OpportunityExpired:
			stats.Expired = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read status counts: %w", err)
	}

	// Sum in decimal, not SQL floats.
	estRows, err := s.db.QueryContext(ctx, `
		SELECT estimated_revenue_impact FROM opportunities
		WHERE status = 'pending' AND estimated_revenue_impact IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending estimates: %w", err)
	}
	defer estRows.Close()
	for estRows.Next() {
		var ns sql.NullString
		if err := estRows.Scan(&ns); err != nil {
			return nil, fmt.Errorf("failed to scan estimate: %w", err)
		}
		d, err := scanDecimal(ns)
		if err != nil {
			return nil, err
		}
		stats.PendingEstimatedRevenue = stats.PendingEstimatedRevenue.Add(d)
	}
	if err := estRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending estimates: %w", err)
	}

	return stats, nil
}

func (s *SQLiteStorage) queryOpportunities(ctx context.Context, query string, args ...interface{}) ([]*types.Opportunity, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query opportunities: %w", err)
	}
	defer rows.Close()

	var opps []*types.Opportunity
	var ids []string
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan opportunity: %w", err)
		}
		opps = append(opps, opp)
		ids = append(ids, opp.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read opportunities: %w", err)
	}

	if len(ids) > 0 {
		actionsByOpp, err := s.getActionsForOpportunities(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, opp := range opps {
			opp.Actions = actionsByOpp[opp.ID]
		}
	}

	return opps, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOpportunity(row rowScanner) (*types.Opportunity, error) {
	var opp types.Opportunity
	var confidence sql.NullString
	var pageURL, modID, category sql.NullString
	var estRevenue, estRPM sql.NullString
	var expiresAt, approvedAt, rejectedAt, implementedAt sql.NullTime
	var approvedBy, rejectedBy, rejectionReason sql.NullString

	err := row.Scan(
		&opp.ID, &opp.OpportunityType, &opp.Title, &opp.Description, &opp.Status,
		&opp.Priority, &confidence, &pageURL, &modID, &category,
		&estRevenue, &estRPM, &expiresAt, &opp.CreatedAt, &opp.UpdatedAt,
		&approvedAt, &approvedBy, &rejectedAt, &rejectedBy, &rejectionReason,
		&implementedAt,
	)
	if err != nil {
		return nil, err
	}

	if opp.Confidence, err = scanDecimal(confidence); err != nil {
		return nil, err
	}
	if opp.EstimatedRevenueImpact, err = scanDecimalPtr(estRevenue); err != nil {
		return nil, err
	}
	if opp.EstimatedRPMIncrease, err = scanDecimalPtr(estRPM); err != nil {
		return nil, err
	}
	opp.PageURL = pageURL.String
	opp.ModID = modID.String
	opp.Category = category.String
	opp.ExpiresAt = timePtr(expiresAt)
	opp.ApprovedAt = timePtr(approvedAt)
	opp.ApprovedBy = approvedBy.String
	opp.RejectedAt = timePtr(rejectedAt)
	opp.RejectedBy = rejectedBy.String
	opp.RejectionReason = rejectionReason.String
	opp.ImplementedAt = timePtr(implementedAt)

	return &opp, nil
}

func normalizePriority(p int) int {
	if p == 0 {
		return 5
	}
	return p
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/revlift/revlift/internal/types"
)

const actionColumns = `id, opportunity_id, action_type, action_data, status,
	approved_at, approved_by, rejected_at, rejected_by, executed_at,
	pre_execution_metrics, post_execution_metrics, verified_impact, verified_at,
	created_at, updated_at`

// GetAction retrieves an action by ID. Returns nil when no such row exists.
func (s *SQLiteStorage) GetAction(ctx context.Context, id string) (*types.Action, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM actions WHERE id = ?", actionColumns), id)
	action, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get action: %w", err)
	}
	return action, nil
}

// GetApprovedActions returns approved, not-yet-executed actions together
// with a summary of their parent opportunity. This is the poll surface for
// an external executor.
func (s *SQLiteStorage) GetApprovedActions(ctx context.Context) ([]*types.ApprovedAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id, a.opportunity_id, a.action_type, a.action_data, a.status,
		       a.approved_at, a.approved_by, a.rejected_at, a.rejected_by, a.executed_at,
		       a.pre_execution_metrics, a.post_execution_metrics, a.verified_impact, a.verified_at,
		       a.created_at, a.updated_at,
		       o.opportunity_type, o.title, o.page_url, o.priority
		FROM actions a
		JOIN opportunities o ON a.opportunity_id = o.id
		WHERE a.status = 'approved' AND a.executed_at IS NULL
		ORDER BY o.priority DESC, a.created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query approved actions: %w", err)
	}
	defer rows.Close()

	var out []*types.ApprovedAction
	for rows.Next() {
		var aa types.ApprovedAction
		var actionData string
		var approvedAt, rejectedAt, executedAt, verifiedAt sql.NullTime
		var approvedBy, rejectedBy sql.NullString
		var preMetrics, postMetrics, verifiedImpact sql.NullString
		var pageURL sql.NullString

		err := rows.Scan(
			&aa.ID, &aa.OpportunityID, &aa.ActionType, &actionData, &aa.Status,
			&approvedAt, &approvedBy, &rejectedAt, &rejectedBy, &executedAt,
			&preMetrics, &postMetrics, &verifiedImpact, &verifiedAt,
			&aa.CreatedAt, &aa.UpdatedAt,
			&aa.OpportunityType, &aa.OpportunityTitle, &pageURL, &aa.Priority,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approved action: %w", err)
		}

		aa.ActionData = json.RawMessage(actionData)
		aa.ApprovedAt = timePtr(approvedAt)
		aa.ApprovedBy = approvedBy.String
		aa.RejectedAt = timePtr(rejectedAt)
		aa.RejectedBy = rejectedBy.String
		aa.ExecutedAt = timePtr(executedAt)
		if preMetrics.Valid {
			aa.PreExecutionMetrics = json.RawMessage(preMetrics.String)
		}
		if postMetrics.Valid {
			aa.PostExecutionMetrics = json.RawMessage(postMetrics.String)
		}
		if aa.VerifiedImpact, err = scanDecimalPtr(verifiedImpact); err != nil {
			return nil, err
		}
		aa.VerifiedAt = timePtr(verifiedAt)
		aa.PageURL = pageURL.String

		out = append(out, &aa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read approved actions: %w", err)
	}
	return out, nil
}

// MarkActionExecuted records the executed state and metric snapshots, then
// recounts the parent's non-executed actions against fresh state inside
// the same transaction. If the count reaches zero the parent is promoted
// to implemented. The promotion guards on the parent still being approved,
// so two sibling actions executing at nearly the same instant cannot
// promote twice, and an already-implemented parent is skipped.
func (s *SQLiteStorage) MarkActionExecuted(ctx context.Context, id string, preMetrics, postMetrics []byte) (bool, error) {
	if len(preMetrics) > 0 && !json.Valid(preMetrics) {
		return false, fmt.Errorf("pre-execution metrics must be valid JSON")
	}
	if len(postMetrics) > 0 && !json.Valid(postMetrics) {
		return false, fmt.Errorf("post-execution metrics must be valid JSON")
	}

	now := time.Now().UTC()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return false, fmt.Errorf("failed to begin immediate transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	var opportunityID, status string
	err = conn.QueryRowContext(ctx,
		"SELECT opportunity_id, status FROM actions WHERE id = ?", id).Scan(&opportunityID, &status)
	if err == sql.ErrNoRows {
		return false, fmt.Errorf("action not found: %s", id)
	}
	if err != nil {
		return false, fmt.Errorf("failed to check action status: %w", err)
	}
	if status != string(types.ActionApproved) {
		return false, fmt.Errorf("action %s is not approved (status: %s)", id, status)
	}

	_, err = conn.ExecContext(ctx, `
		UPDATE actions
		SET status = ?, executed_at = ?, pre_execution_metrics = ?, post_execution_metrics = ?, updated_at = ?
		WHERE id = ?
	`, types.ActionExecuted, now, nullJSON(preMetrics), nullJSON(postMetrics), now, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark action executed: %w", err)
	}

	if err := recordStatusChange(ctx, conn, opportunityID, types.EventExecuted, "executor",
		status, string(types.ActionExecuted), id); err != nil {
		return false, err
	}

	// Fan-in check: recount against fresh state inside this transaction.
	var remaining int
	err = conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM actions WHERE opportunity_id = ? AND status != 'executed'
	`, opportunityID).Scan(&remaining)
	if err != nil {
		return false, fmt.Errorf("failed to count remaining actions: %w", err)
	}

	promoted := false
	if remaining == 0 {
		res, err := conn.ExecContext(ctx, `
			UPDATE opportunities SET status = ?, implemented_at = ?, updated_at = ?
			WHERE id = ? AND status = 'approved'
		`, types.OpportunityImplemented, now, now, opportunityID)
		if err != nil {
			return false, fmt.Errorf("failed to promote opportunity: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			promoted = true
			if err := recordStatusChange(ctx, conn, opportunityID, types.EventImplemented, "executor",
				string(types.OpportunityApproved), string(types.OpportunityImplemented), ""); err != nil {
				return false, err
			}
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return promoted, nil
}

// GetUntrackedExecutedActions returns IDs of executed actions that have no
// impact measurement yet. The sweep uses this to start tracking for
// actions whose executor never called back into the tracker.
func (s *SQLiteStorage) GetUntrackedExecutedActions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.id FROM actions a
		WHERE a.status = 'executed'
		  AND NOT EXISTS (SELECT 1 FROM measurements m WHERE m.action_id = a.id)
		ORDER BY a.executed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query untracked actions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan action id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read untracked actions: %w", err)
	}
	return ids, nil
}

// setVerifiedImpact denormalizes a finalized measurement's impact onto the
// owning action for fast dashboard reads. Runs inside the caller's tx.
func setVerifiedImpact(ctx context.Context, ex execer, actionID, impact string, at time.Time) error {
	_, err := ex.ExecContext(ctx, `
		UPDATE actions SET verified_impact = ?, verified_at = ?, updated_at = ? WHERE id = ?
	`, impact, at, at, actionID)
	if err != nil {
		return fmt.Errorf("failed to set verified impact: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) getActionsForOpportunities(ctx context.Context, oppIDs []string) (map[string][]*types.Action, error) {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(oppIDs)), ", ")
	args := make([]interface{}, len(oppIDs))
	for i, id := range oppIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM actions WHERE opportunity_id IN (%s) ORDER BY created_at ASC
	`, actionColumns, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	byOpp := make(map[string][]*types.Action)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan action: %w", err)
		}
		byOpp[action.OpportunityID] = append(byOpp[action.OpportunityID], action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read actions: %w", err)
	}
	return byOpp, nil
}

func scanAction(row rowScanner) (*types.Action, error) {
	var a types.Action
	var actionData string
	var approvedAt, rejectedAt, executedAt, verifiedAt sql.NullTime
	var approvedBy, rejectedBy sql.NullString
	var preMetrics, postMetrics, verifiedImpact sql.NullString

	err := row.Scan(
		&a.ID, &a.OpportunityID, &a.ActionType, &actionData, &a.Status,
		&approvedAt, &approvedBy, &rejectedAt, &rejectedBy, &executedAt,
		&preMetrics, &postMetrics, &verifiedImpact, &verifiedAt,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ActionData = json.RawMessage(actionData)
	a.ApprovedAt = timePtr(approvedAt)
	a.ApprovedBy = approvedBy.String
	a.RejectedAt = timePtr(rejectedAt)
	a.RejectedBy = rejectedBy.String
	a.ExecutedAt = timePtr(executedAt)
	if preMetrics.Valid {
		a.PreExecutionMetrics = json.RawMessage(preMetrics.String)
	}
	if postMetrics.Valid {
		a.PostExecutionMetrics = json.RawMessage(postMetrics.String)
	}
	if a.VerifiedImpact, err = scanDecimalPtr(verifiedImpact); err != nil {
		return nil, err
	}
	a.VerifiedAt = timePtr(verifiedAt)

	return &a, nil
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

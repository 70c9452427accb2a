package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/revlift/revlift/internal/types"
)

// execer is satisfied by *sql.Conn, *sql.Tx and *sql.DB, letting event
// rows be recorded inside whichever transaction the mutation runs in
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// recordEvent appends an audit trail entry for an opportunity. Events are
// written inside the mutating transaction so the audit trail can never
// disagree with the row it describes.
func recordEvent(ctx context.Context, ex execer, opportunityID string, eventType types.EventType, actor, comment string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO events (opportunity_id, event_type, actor, comment)
		VALUES (?, ?, ?, ?)
	`, opportunityID, eventType, actor, nullString(comment))
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// recordStatusChange is recordEvent for status transitions: the old and
// new status are carried on the event row
func recordStatusChange(ctx context.Context, ex execer, opportunityID string, eventType types.EventType, actor, oldStatus, newStatus, comment string) error {
	_, err := ex.ExecContext(ctx, `
		INSERT INTO events (opportunity_id, event_type, actor, old_value, new_value, comment)
		VALUES (?, ?, ?, ?, ?, ?)
	`, opportunityID, eventType, actor, oldStatus, newStatus, nullString(comment))
	if err != nil {
		return fmt.Errorf("failed to record status change: %w", err)
	}
	return nil
}

// GetEvents returns the audit trail for an opportunity, newest first
func (s *SQLiteStorage) GetEvents(ctx context.Context, opportunityID string, limit int) ([]*types.Event, error) {
	query := `
		SELECT id, opportunity_id, event_type, actor, old_value, new_value, comment, created_at
		FROM events
		WHERE opportunity_id = ?
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, opportunityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		var e types.Event
		var oldValue, newValue, comment sql.NullString
		if err := rows.Scan(&e.ID, &e.OpportunityID, &e.EventType, &e.Actor,
			&oldValue, &newValue, &comment, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if oldValue.Valid {
			e.OldValue = &oldValue.String
		}
		if newValue.Valid {
			e.NewValue = &newValue.String
		}
		if comment.Valid {
			e.Comment = &comment.String
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

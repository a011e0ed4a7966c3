package postgres

import (
	"context"
	"fmt"
	"time"

	"crewflow/internal/store"

	"github.com/google/uuid"
)

// AppendAudit writes one transition event to the append-only trail.
// There is deliberately no update or delete counterpart.
func (s *Store) AppendAudit(ctx context.Context, tx store.DBTransaction, ev *store.AuditEvent) error {
	executor := s.getExecutor(tx)

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := executor.ExecContext(ctx, query,
		ev.ActionRecordID, ev.Actor, ev.Event, ev.FromStatus, ev.ToStatus, ev.Detail, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit event for %s: %w", ev.ActionRecordID, err)
	}
	return nil
}

// ListAudit returns all events for a record ordered by insertion, which is
// the record's total transition order.
func (s *Store) ListAudit(ctx context.Context, actionRecordID uuid.UUID) ([]store.AuditEvent, error) {
	query := `
		SELECT id, action_record_id, actor, event, from_status, to_status, detail, created_at
		FROM audit_log
		WHERE action_record_id = $1
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, actionRecordID)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}
	defer rows.Close()

	var events []store.AuditEvent
	for rows.Next() {
		var ev store.AuditEvent
		if err := rows.Scan(
			&ev.ID, &ev.ActionRecordID, &ev.Actor, &ev.Event,
			&ev.FromStatus, &ev.ToStatus, &ev.Detail, &ev.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("audit scan failed: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

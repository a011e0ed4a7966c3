package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"crewflow/internal/store"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// actionColumns is the canonical column list scanned by scanAction.
const actionColumns = `id, user_id, agent_id, action_type, action_data, schedule, priority,
	approval_required, approval_status, dependencies, tags, resource_key,
	status, retry_count, max_retries, cancellation_requested,
	error_message, result, chained_from,
	created_at, scheduled_for, executed_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAction(row rowScanner) (*store.ActionRecord, error) {
	var rec store.ActionRecord
	var actionData, scheduleRaw, result []byte

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.AgentID, &rec.ActionType,
		&actionData, &scheduleRaw, &rec.Priority,
		&rec.ApprovalRequired, &rec.ApprovalStatus,
		pq.Array(&rec.Dependencies), pq.Array(&rec.Tags), &rec.ResourceKey,
		&rec.Status, &rec.RetryCount, &rec.MaxRetries, &rec.CancellationRequested,
		&rec.ErrorMessage, &result, &rec.ChainedFrom,
		&rec.CreatedAt, &rec.ScheduledFor, &rec.ExecutedAt, &rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.ActionData = actionData
	if result != nil {
		rec.Result = result
	}
	rec.Schedule, err = store.ScanSchedule(scheduleRaw)
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// CreateAction inserts a new record in status pending.
func (s *Store) CreateAction(ctx context.Context, tx store.DBTransaction, rec *store.ActionRecord) error {
	executor := s.getExecutor(tx)

	scheduleRaw, err := rec.Schedule.Value()
	if err != nil {
		return err
	}

	query := `
		INSERT INTO autonomous_actions
			(id, user_id, agent_id, action_type, action_data, schedule, priority,
			 approval_required, approval_status, dependencies, tags, resource_key,
			 status, retry_count, max_retries, chained_from, created_at, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`

	_, err = executor.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.AgentID, rec.ActionType,
		[]byte(rec.ActionData), scheduleRaw, rec.Priority,
		rec.ApprovalRequired, rec.ApprovalStatus,
		pq.Array(rec.Dependencies), pq.Array(rec.Tags), rec.ResourceKey,
		rec.Status, rec.RetryCount, rec.MaxRetries,
		rec.ChainedFrom, rec.CreatedAt, rec.ScheduledFor,
	)
	if err != nil {
		return fmt.Errorf("failed to create action %s: %w", rec.ID, err)
	}
	return nil
}

// GetAction returns a record by id regardless of owner.
func (s *Store) GetAction(ctx context.Context, id uuid.UUID) (*store.ActionRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM autonomous_actions WHERE id = $1", actionColumns)

	rec, err := scanAction(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetActionForUser returns a record scoped to its owner.
func (s *Store) GetActionForUser(ctx context.Context, id, userID uuid.UUID) (*store.ActionRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM autonomous_actions WHERE id = $1 AND user_id = $2", actionColumns)

	rec, err := scanAction(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPending returns non-terminal records for a user, most urgent first.
func (s *Store) ListPending(ctx context.Context, userID uuid.UUID, filter store.ActionFilter) ([]store.ActionRecord, error) {
	where := "WHERE user_id = $1 AND status IN ('pending', 'scheduled', 'executing')"
	args := []interface{}{userID}
	where, args = applyFilter(where, args, filter)

	query := fmt.Sprintf(`
		SELECT %s FROM autonomous_actions
		%s
		ORDER BY %s, scheduled_for ASC NULLS LAST
	`, actionColumns, where, priorityOrder)

	return s.queryActions(ctx, query, args...)
}

// ListHistory returns records for a user, newest first.
func (s *Store) ListHistory(ctx context.Context, userID uuid.UUID, filter store.ActionFilter, limit int) ([]store.ActionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	where := "WHERE user_id = $1"
	args := []interface{}{userID}
	where, args = applyFilter(where, args, filter)

	args = append(args, limit)
	query := fmt.Sprintf(`
		SELECT %s FROM autonomous_actions
		%s
		ORDER BY created_at DESC
		LIMIT $%d
	`, actionColumns, where, len(args))

	return s.queryActions(ctx, query, args...)
}

// CountActive returns the number of non-terminal records for a user.
func (s *Store) CountActive(ctx context.Context, tx store.DBTransaction, userID uuid.UUID) (int64, error) {
	executor := s.getExecutor(tx)

	// Advisory lock at user level so two concurrent proposals cannot both
	// pass the quota check below the limit.
	lockKey := int32(userID[0])<<24 | int32(userID[1])<<16 | int32(userID[2])<<8 | int32(userID[3])
	if _, err := executor.ExecContext(ctx, `SELECT pg_advisory_xact_lock(1, $1)`, lockKey); err != nil {
		return 0, err
	}

	var count int64
	err := executor.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM autonomous_actions WHERE user_id = $1 AND status IN ('pending', 'scheduled', 'executing')`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// CountBacklog returns the number of scheduled records already due. It
// feeds the backlog gauge sampled at metrics scrape time.
func (s *Store) CountBacklog(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM autonomous_actions WHERE status = 'scheduled' AND scheduled_for <= $1`,
		now,
	).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) queryActions(ctx context.Context, query string, args ...interface{}) ([]store.ActionRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("action list query failed: %w", err)
	}
	defer rows.Close()

	var records []store.ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("action list scan failed: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func applyFilter(where string, args []interface{}, filter store.ActionFilter) (string, []interface{}) {
	if filter.AgentID != "" {
		args = append(args, filter.AgentID)
		where += " AND agent_id = $" + strconv.Itoa(len(args))
	}
	if filter.ActionType != "" {
		args = append(args, filter.ActionType)
		where += " AND action_type = $" + strconv.Itoa(len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where += " AND status = $" + strconv.Itoa(len(args))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		where += " AND $" + strconv.Itoa(len(args)) + " = ANY(tags)"
	}
	return where, args
}

// priorityOrder sorts critical first. Priorities are stored as text, so
// ordering needs an explicit rank.
const priorityOrder = `CASE priority
		WHEN 'critical' THEN 0
		WHEN 'high' THEN 1
		WHEN 'medium' THEN 2
		ELSE 3
	END`

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"crewflow/internal/store"

	"github.com/google/uuid"
)

// PromoteEligible transitions pending records to scheduled once approval
// gating and dependencies clear. scheduled_for was computed at propose
// time, so promotion only flips the status. The audit entry is written in
// the same statement so a promoted record is never missing its trail.
func (s *Store) PromoteEligible(ctx context.Context, now time.Time) (int, error) {
	query := `
		WITH promoted AS (
			UPDATE autonomous_actions a
			SET status = 'scheduled'
			WHERE a.status = 'pending'
			  AND (a.approval_required = FALSE OR a.approval_status = 'approved')
			  AND NOT EXISTS (
				SELECT 1 FROM unnest(a.dependencies) AS dep_id
				LEFT JOIN autonomous_actions d ON d.id = dep_id
				WHERE d.id IS NULL OR d.status <> 'completed'
			  )
			RETURNING a.id
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status)
		SELECT id, 'scheduler', $1, 'pending', 'scheduled' FROM promoted
	`

	res, err := s.db.ExecContext(ctx, query, store.AuditEventSchedule)
	if err != nil {
		return 0, fmt.Errorf("promote sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CascadeCancelDependents cancels pending/scheduled records that have a
// dependency in failed or cancelled. Transitive chains resolve over
// consecutive sweeps.
func (s *Store) CascadeCancelDependents(ctx context.Context, actor string, now time.Time) (int, error) {
	query := `
		WITH victims AS (
			SELECT a.id, a.status
			FROM autonomous_actions a
			WHERE a.status IN ('pending', 'scheduled')
			  AND EXISTS (
				SELECT 1 FROM unnest(a.dependencies) AS dep_id
				JOIN autonomous_actions d ON d.id = dep_id
				WHERE d.status IN ('failed', 'cancelled')
			  )
			FOR UPDATE SKIP LOCKED
		),
		cancelled AS (
			UPDATE autonomous_actions a
			SET status = 'cancelled', completed_at = $2,
			    error_message = 'dependency failed or was cancelled'
			FROM victims v
			WHERE a.id = v.id
			RETURNING a.id, v.status AS from_status
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
		SELECT id, $1, $3, from_status, 'cancelled', 'dependency failed or was cancelled' FROM cancelled
	`

	res, err := s.db.ExecContext(ctx, query, actor, now, store.AuditEventCascadeCancel)
	if err != nil {
		return 0, fmt.Errorf("cascade cancel sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClaimDue atomically claims up to limit due scheduled records using
// SELECT ... FOR UPDATE SKIP LOCKED, transitioning them to executing.
//
// The ranked CTE keeps only the most urgent record per resource key, so a
// single batch never claims two actions targeting the same entity; the
// anti-join against executing records blocks claims while a conflicting
// execution is in flight. Two workers racing on the same due record see
// exactly one winner: the loser skips the locked row.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, limit int) ([]store.ActionRecord, error) {
	if limit <= 0 {
		limit = 1
	}

	query := fmt.Sprintf(`
		WITH ranked AS (
			SELECT a.id, ROW_NUMBER() OVER (
				PARTITION BY a.resource_key
				ORDER BY %[1]s, a.scheduled_for
			) AS rn
			FROM autonomous_actions a
			WHERE a.status = 'scheduled'
			  AND a.scheduled_for <= $1
			  AND NOT EXISTS (
				SELECT 1 FROM autonomous_actions e
				WHERE e.status = 'executing' AND e.resource_key = a.resource_key
			  )
			  AND NOT EXISTS (
				SELECT 1 FROM unnest(a.dependencies) AS dep_id
				LEFT JOIN autonomous_actions d ON d.id = dep_id
				WHERE d.id IS NULL OR d.status <> 'completed'
			  )
		),
		due AS (
			SELECT a.id
			FROM autonomous_actions a
			JOIN ranked r ON r.id = a.id
			WHERE r.rn = 1 AND a.status = 'scheduled'
			ORDER BY %[1]s, a.scheduled_for
			FOR UPDATE OF a SKIP LOCKED
			LIMIT $2
		),
		claimed AS (
			UPDATE autonomous_actions a
			SET status = 'executing', executed_at = $1
			FROM due
			WHERE a.id = due.id
			RETURNING a.id, a.user_id, a.agent_id, a.action_type, a.action_data,
				a.schedule, a.priority, a.approval_required, a.approval_status,
				a.dependencies, a.tags, a.resource_key, a.status, a.retry_count,
				a.max_retries, a.cancellation_requested, a.error_message, a.result,
				a.chained_from, a.created_at, a.scheduled_for, a.executed_at, a.completed_at
		),
		logged AS (
			INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status)
			SELECT id, 'worker', $3, 'scheduled', 'executing' FROM claimed
		)
		SELECT %[2]s FROM claimed
	`, priorityOrderPrefixed, actionColumns)

	rows, err := s.db.QueryContext(ctx, query, now, limit, store.AuditEventExecuteStart)
	if err != nil {
		return nil, fmt.Errorf("claim query failed: %w", err)
	}
	defer rows.Close()

	var records []store.ActionRecord
	for rows.Next() {
		rec, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("claim scan failed: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// priorityOrderPrefixed is priorityOrder qualified for the aliased table in
// the claim query.
const priorityOrderPrefixed = `CASE a.priority
		WHEN 'critical' THEN 0
		WHEN 'high' THEN 1
		WHEN 'medium' THEN 2
		ELSE 3
	END`

// CompleteAction finishes an executing record successfully.
func (s *Store) CompleteAction(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) error {
	query := `
		WITH done AS (
			UPDATE autonomous_actions
			SET status = 'completed', result = $2, completed_at = $3, error_message = NULL
			WHERE id = $1 AND status = 'executing'
			RETURNING id
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status)
		SELECT id, 'worker', $4, 'executing', 'completed' FROM done
	`

	res, err := s.db.ExecContext(ctx, query, id, []byte(result), now, store.AuditEventExecuteEnd)
	if err != nil {
		return fmt.Errorf("complete action %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// The claim was lost (reclaimed by the watchdog or cancelled).
		return store.ErrInvalidState
	}
	return nil
}

// FailActionRetryable records a transient failure. While retries remain the
// record re-enters scheduled at retryAt with retry_count incremented;
// once the ceiling is hit it becomes terminally failed and retry_count is
// clamped so retry_count <= max_retries holds at every observed state.
func (s *Store) FailActionRetryable(ctx context.Context, id uuid.UUID, errMsg string, retryAt, now time.Time) (store.ActionStatus, error) {
	query := `
		WITH failed AS (
			UPDATE autonomous_actions
			SET retry_count = LEAST(retry_count + 1, max_retries),
			    status = CASE WHEN retry_count + 1 > max_retries THEN 'failed' ELSE 'scheduled' END,
			    scheduled_for = CASE WHEN retry_count + 1 > max_retries THEN scheduled_for ELSE $3 END,
			    completed_at = CASE WHEN retry_count + 1 > max_retries THEN $4 ELSE NULL END,
			    executed_at = CASE WHEN retry_count + 1 > max_retries THEN executed_at ELSE NULL END,
			    error_message = $2
			WHERE id = $1 AND status = 'executing'
			RETURNING id, status
		),
		logged AS (
			INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
			SELECT id, 'worker',
			       CASE WHEN status = 'failed' THEN $5 ELSE $6 END,
			       'executing', status, $2
			FROM failed
		)
		SELECT status FROM failed
	`

	var status store.ActionStatus
	err := s.db.QueryRowContext(ctx, query, id, errMsg, retryAt, now,
		store.AuditEventExecuteEnd, store.AuditEventRetry).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrInvalidState
	}
	if err != nil {
		return "", fmt.Errorf("fail action %s: %w", id, err)
	}
	return status, nil
}

// FailActionTerminal marks an executing record permanently failed.
// Used for non-retryable error classes regardless of remaining retries.
func (s *Store) FailActionTerminal(ctx context.Context, id uuid.UUID, errMsg string, now time.Time) error {
	query := `
		WITH failed AS (
			UPDATE autonomous_actions
			SET status = 'failed', error_message = $2, completed_at = $3
			WHERE id = $1 AND status = 'executing'
			RETURNING id
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
		SELECT id, 'worker', $4, 'executing', 'failed', $2 FROM failed
	`

	res, err := s.db.ExecContext(ctx, query, id, errMsg, now, store.AuditEventExecuteEnd)
	if err != nil {
		return fmt.Errorf("terminal fail action %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInvalidState
	}
	return nil
}

// CancelAction cancels a non-terminal record owned by userID. Executing
// records only get the advisory cancellation_requested flag; the worker
// finalizes at its next checkpoint. Returns the status the record held
// before the call.
func (s *Store) CancelAction(ctx context.Context, id, userID uuid.UUID, actor, reason string, now time.Time) (store.ActionStatus, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var status store.ActionStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM autonomous_actions WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		id, userID,
	).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	if status.Terminal() {
		return status, store.ErrInvalidState
	}

	if status == store.ActionStatusExecuting {
		if _, err := tx.ExecContext(ctx,
			`UPDATE autonomous_actions SET cancellation_requested = TRUE WHERE id = $1`, id,
		); err != nil {
			return "", err
		}
		if err := s.AppendAudit(ctx, tx, &store.AuditEvent{
			ActionRecordID: id,
			Actor:          actor,
			Event:          store.AuditEventCancel,
			FromStatus:     string(status),
			ToStatus:       string(status),
			Detail:         strPtr("cancellation requested; worker will stop at next checkpoint"),
		}); err != nil {
			return "", err
		}
		return status, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE autonomous_actions SET status = 'cancelled', completed_at = $2, error_message = $3 WHERE id = $1`,
		id, now, reason,
	); err != nil {
		return "", err
	}
	if err := s.AppendAudit(ctx, tx, &store.AuditEvent{
		ActionRecordID: id,
		Actor:          actor,
		Event:          store.AuditEventCancel,
		FromStatus:     string(status),
		ToStatus:       string(store.ActionStatusCancelled),
		Detail:         strPtr(reason),
	}); err != nil {
		return "", err
	}

	return status, tx.Commit()
}

// FinalizeCancel transitions executing -> cancelled once the worker
// observes a cancellation request at a checkpoint.
func (s *Store) FinalizeCancel(ctx context.Context, id uuid.UUID, actor string, now time.Time) error {
	query := `
		WITH done AS (
			UPDATE autonomous_actions
			SET status = 'cancelled', completed_at = $2
			WHERE id = $1 AND status = 'executing'
			RETURNING id
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
		SELECT id, $3, $4, 'executing', 'cancelled', 'cancellation observed at worker checkpoint' FROM done
	`

	res, err := s.db.ExecContext(ctx, query, id, now, actor, store.AuditEventCancel)
	if err != nil {
		return fmt.Errorf("finalize cancel %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInvalidState
	}
	return nil
}

// MarkDueNow forces a pending or scheduled record to be eligible
// immediately. Approval gating is still enforced by the WHERE clause: a
// gated record that is not approved cannot be bumped.
func (s *Store) MarkDueNow(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		WITH target AS (
			SELECT id, status FROM autonomous_actions
			WHERE id = $1 AND status IN ('pending', 'scheduled')
			  AND (approval_required = FALSE OR approval_status = 'approved')
			FOR UPDATE
		),
		bumped AS (
			UPDATE autonomous_actions a
			SET status = 'scheduled', scheduled_for = $2
			FROM target t
			WHERE a.id = t.id
			RETURNING a.id, t.status AS from_status
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
		SELECT id, 'user', $3, from_status, 'scheduled', 'manually triggered' FROM bumped
	`

	res, err := s.db.ExecContext(ctx, query, id, now, store.AuditEventSchedule)
	if err != nil {
		return fmt.Errorf("manual trigger %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInvalidState
	}
	return nil
}

// DeferAction returns a freshly claimed record to scheduled with a new
// eligibility time. Used when a conditional action's trigger conditions
// are not currently satisfied.
func (s *Store) DeferAction(ctx context.Context, id uuid.UUID, until time.Time) error {
	query := `
		WITH deferred AS (
			UPDATE autonomous_actions
			SET status = 'scheduled', scheduled_for = $2, executed_at = NULL
			WHERE id = $1 AND status = 'executing'
			RETURNING id
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
		SELECT id, 'worker', $3, 'executing', 'scheduled', 'trigger conditions not satisfied; deferred' FROM deferred
	`

	res, err := s.db.ExecContext(ctx, query, id, until, store.AuditEventSchedule)
	if err != nil {
		return fmt.Errorf("defer action %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInvalidState
	}
	return nil
}

// CancellationRequested reports the advisory cancellation flag.
func (s *Store) CancellationRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := s.db.QueryRowContext(ctx,
		`SELECT cancellation_requested FROM autonomous_actions WHERE id = $1`, id,
	).Scan(&requested)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return requested, nil
}

// ReclaimStuck returns executing records whose executed_at is older than
// cutoff to the retry path. A record never stays stuck in executing: a
// crashed worker's claim is re-scheduled, or terminally failed once
// retries are exhausted.
func (s *Store) ReclaimStuck(ctx context.Context, cutoff, now time.Time) (int, error) {
	query := `
		WITH stuck AS (
			SELECT id FROM autonomous_actions
			WHERE status = 'executing' AND executed_at IS NOT NULL AND executed_at < $1
			FOR UPDATE SKIP LOCKED
		),
		reclaimed AS (
			UPDATE autonomous_actions a
			SET retry_count = LEAST(a.retry_count + 1, a.max_retries),
			    status = CASE WHEN a.retry_count + 1 > a.max_retries THEN 'failed' ELSE 'scheduled' END,
			    scheduled_for = CASE WHEN a.retry_count + 1 > a.max_retries THEN a.scheduled_for ELSE $2 END,
			    completed_at = CASE WHEN a.retry_count + 1 > a.max_retries THEN $2 ELSE NULL END,
			    executed_at = CASE WHEN a.retry_count + 1 > a.max_retries THEN a.executed_at ELSE NULL END,
			    error_message = 'execution timed out and was reclaimed'
			FROM stuck
			WHERE a.id = stuck.id
			RETURNING a.id, a.status
		)
		INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
		SELECT id, 'watchdog', $3, 'executing', status, 'execution timed out and was reclaimed' FROM reclaimed
	`

	res, err := s.db.ExecContext(ctx, query, cutoff, now, store.AuditEventReclaim)
	if err != nil {
		return 0, fmt.Errorf("watchdog sweep failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ChainNext inserts the next occurrence of a recurring action as a fresh
// record linked to its predecessor, preserving full audit history per
// occurrence.
func (s *Store) ChainNext(ctx context.Context, next *store.ActionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.CreateAction(ctx, tx, next); err != nil {
		return err
	}

	detail := "next recurring occurrence"
	if next.ChainedFrom != nil {
		detail = fmt.Sprintf("next recurring occurrence, chained from %s", *next.ChainedFrom)
	}
	if err := s.AppendAudit(ctx, tx, &store.AuditEvent{
		ActionRecordID: next.ID,
		Actor:          "scheduler",
		Event:          store.AuditEventChain,
		FromStatus:     "",
		ToStatus:       string(store.ActionStatusPending),
		Detail:         &detail,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateActionApproval records the outcome of an approval decision on the
// owning record. Approved decisions may overwrite action_data with the
// approver's parameter overrides; rejection and expiry cancel the record.
// The conditional WHERE keeps approval_status moving only forward.
func (s *Store) UpdateActionApproval(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ApprovalStatus, modifiedParams json.RawMessage) error {
	executor := s.getExecutor(tx)

	var params interface{}
	if len(modifiedParams) > 0 {
		params = []byte(modifiedParams)
	}

	query := `
		UPDATE autonomous_actions
		SET approval_status = $2,
		    action_data = COALESCE($3, action_data),
		    status = CASE WHEN $2 IN ('rejected', 'expired') THEN 'cancelled' ELSE status END,
		    completed_at = CASE WHEN $2 IN ('rejected', 'expired') THEN NOW() ELSE completed_at END,
		    error_message = CASE WHEN $2 = 'rejected' THEN 'approval rejected'
		                         WHEN $2 = 'expired' THEN 'approval window expired'
		                         ELSE error_message END
		WHERE id = $1 AND approval_status = 'pending' AND status = 'pending'
	`

	res, err := executor.ExecContext(ctx, query, id, status, params)
	if err != nil {
		return fmt.Errorf("update approval outcome for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrInvalidState
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}

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
	"github.com/lib/pq"
)

const approvalColumns = `id, action_record_id, user_id, risk_level, status,
	affected_count, reversible, reason, modified_params, conditions,
	responded_by, responded_at, created_at, expires_at`

func scanApproval(row rowScanner) (*store.ApprovalRequest, error) {
	var req store.ApprovalRequest
	var modifiedParams []byte

	err := row.Scan(
		&req.ID, &req.ActionRecordID, &req.UserID, &req.RiskLevel, &req.Status,
		&req.Impact.AffectedCount, &req.Impact.Reversible,
		&req.Reason, &modifiedParams, pq.Array(&req.Conditions),
		&req.RespondedBy, &req.RespondedAt, &req.CreatedAt, &req.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	if modifiedParams != nil {
		req.ModifiedParams = modifiedParams
	}
	return &req, nil
}

// CreateApproval inserts a new pending approval request.
func (s *Store) CreateApproval(ctx context.Context, tx store.DBTransaction, req *store.ApprovalRequest) error {
	executor := s.getExecutor(tx)

	query := `
		INSERT INTO approval_requests
			(id, action_record_id, user_id, risk_level, status,
			 affected_count, reversible, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := executor.ExecContext(ctx, query,
		req.ID, req.ActionRecordID, req.UserID, req.RiskLevel, req.Status,
		req.Impact.AffectedCount, req.Impact.Reversible, req.CreatedAt, req.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create approval request %s: %w", req.ID, err)
	}
	return nil
}

// GetApproval returns a request by id.
func (s *Store) GetApproval(ctx context.Context, id uuid.UUID) (*store.ApprovalRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_requests WHERE id = $1", approvalColumns)

	req, err := scanApproval(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// GetApprovalForUser returns a request scoped to its owner.
func (s *Store) GetApprovalForUser(ctx context.Context, id, userID uuid.UUID) (*store.ApprovalRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM approval_requests WHERE id = $1 AND user_id = $2", approvalColumns)

	req, err := scanApproval(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

// ListPendingApprovals returns undecided requests for a user, oldest first
// so the ones closest to expiry surface on top.
func (s *Store) ListPendingApprovals(ctx context.Context, userID uuid.UUID) ([]store.ApprovalRequest, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM approval_requests
		WHERE user_id = $1 AND status = 'pending'
		ORDER BY expires_at ASC
	`, approvalColumns)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("pending approvals query failed: %w", err)
	}
	defer rows.Close()

	var requests []store.ApprovalRequest
	for rows.Next() {
		req, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("pending approvals scan failed: %w", err)
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// ResolveApproval conditionally moves a pending request to its decided
// state. The WHERE status = 'pending' guard makes concurrent responders
// race to exactly one winner.
func (s *Store) ResolveApproval(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ApprovalStatus, respondedBy string, reason *string, conditions []string, modifiedParams json.RawMessage, now time.Time) error {
	executor := s.getExecutor(tx)

	var params interface{}
	if len(modifiedParams) > 0 {
		params = []byte(modifiedParams)
	}
	if conditions == nil {
		conditions = []string{}
	}

	query := `
		UPDATE approval_requests
		SET status = $2, responded_by = $3, responded_at = $4,
		    reason = $5, conditions = $6, modified_params = $7
		WHERE id = $1 AND status = 'pending'
	`

	res, err := executor.ExecContext(ctx, query, id, status, respondedBy, now, reason, pq.Array(conditions), params)
	if err != nil {
		return fmt.Errorf("resolve approval %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Distinguish a missing request from one that already has a decision.
		var existing store.ApprovalStatus
		err := executor.QueryRowContext(ctx, `SELECT status FROM approval_requests WHERE id = $1`, id).Scan(&existing)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		return store.ErrAlreadyResolved
	}
	return nil
}

// ExpireApprovals moves undecided requests strictly past expires_at to
// expired and cancels their owning records in the same statement, so a
// crash or transient error can never leave a request expired while its
// action lingers in pending. Records already resolved out-of-band keep
// their state, and only cancellations that actually happened are
// audited. Returns the number of requests expired.
func (s *Store) ExpireApprovals(ctx context.Context, now time.Time) (int, error) {
	query := `
		WITH expired AS (
			UPDATE approval_requests
			SET status = 'expired'
			WHERE status = 'pending' AND expires_at < $1
			RETURNING action_record_id
		),
		cancelled AS (
			UPDATE autonomous_actions a
			SET approval_status = 'expired', status = 'cancelled',
			    completed_at = $1, error_message = 'approval window expired'
			FROM expired e
			WHERE a.id = e.action_record_id
			  AND a.approval_status = 'pending' AND a.status = 'pending'
			RETURNING a.id
		),
		logged AS (
			INSERT INTO audit_log (action_record_id, actor, event, from_status, to_status, detail)
			SELECT id, 'scheduler', $2, 'pending', 'cancelled',
			       'approval window expired with no decision'
			FROM cancelled
		)
		SELECT COUNT(*) FROM expired
	`

	var n int
	if err := s.db.QueryRowContext(ctx, query, now, store.AuditEventExpire).Scan(&n); err != nil {
		return 0, fmt.Errorf("expiry sweep failed: %w", err)
	}
	return n, nil
}

// ApprovalStats aggregates outcome counts and the mean human response time
// over resolved requests.
func (s *Store) ApprovalStats(ctx context.Context, userID uuid.UUID) (*store.ApprovalStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected'),
			COUNT(*) FILTER (WHERE status = 'expired'),
			COALESCE(EXTRACT(EPOCH FROM AVG(responded_at - created_at) FILTER (WHERE responded_at IS NOT NULL)), 0)
		FROM approval_requests
		WHERE user_id = $1
	`

	var stats store.ApprovalStats
	var avgSeconds float64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&stats.Pending, &stats.Approved, &stats.Rejected, &stats.Expired, &avgSeconds,
	)
	if err != nil {
		return nil, fmt.Errorf("approval stats query failed: %w", err)
	}
	stats.AverageResponse = time.Duration(avgSeconds * float64(time.Second))
	return &stats, nil
}

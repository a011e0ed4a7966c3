package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// UserStore handles retrieving user accounts for authentication and quota.
type UserStore interface {
	// CreateUser inserts a new user with its hashed API key.
	CreateUser(ctx context.Context, user *User, hashedKey string) error

	// GetUserByID returns a user by its ID.
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)

	// GetUserByAPIKeyHash returns a user by its API key hash.
	GetUserByAPIKeyHash(ctx context.Context, hash string) (*User, error)
}

// ActionStore persists ActionRecords and enforces their state machine.
// All transitions are conditional updates so that concurrent workers
// racing on the same record observe exactly one winner.
type ActionStore interface {
	// CreateAction inserts a new record in status pending.
	CreateAction(ctx context.Context, tx DBTransaction, rec *ActionRecord) error

	// GetAction returns a record by id regardless of owner.
	GetAction(ctx context.Context, id uuid.UUID) (*ActionRecord, error)

	// GetActionForUser returns a record scoped to its owner, or ErrNotFound.
	GetActionForUser(ctx context.Context, id, userID uuid.UUID) (*ActionRecord, error)

	// ListPending returns non-terminal records for a user.
	ListPending(ctx context.Context, userID uuid.UUID, filter ActionFilter) ([]ActionRecord, error)

	// ListHistory returns records for a user, newest first.
	ListHistory(ctx context.Context, userID uuid.UUID, filter ActionFilter, limit int) ([]ActionRecord, error)

	// CountActive returns the number of non-terminal records for a user.
	CountActive(ctx context.Context, tx DBTransaction, userID uuid.UUID) (int64, error)

	// PromoteEligible transitions pending records to scheduled once
	// approval gating and dependencies clear. Returns promoted count.
	PromoteEligible(ctx context.Context, now time.Time) (int, error)

	// CascadeCancelDependents cancels pending/scheduled records whose
	// dependencies reached failed or cancelled. Returns cancelled count.
	CascadeCancelDependents(ctx context.Context, actor string, now time.Time) (int, error)

	// ClaimDue atomically claims up to limit due scheduled records,
	// transitioning them to executing. At most one record per resource
	// key is claimed, and records whose resource key already has an
	// executing record are skipped. Implementations must use
	// SELECT ... FOR UPDATE SKIP LOCKED semantics.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]ActionRecord, error)

	// CompleteAction finishes an executing record successfully.
	CompleteAction(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) error

	// FailActionRetryable records a transient failure. The record
	// re-enters scheduled at retryAt while retries remain, otherwise it
	// becomes terminally failed. Returns the resulting status.
	FailActionRetryable(ctx context.Context, id uuid.UUID, errMsg string, retryAt, now time.Time) (ActionStatus, error)

	// FailActionTerminal marks an executing record permanently failed.
	FailActionTerminal(ctx context.Context, id uuid.UUID, errMsg string, now time.Time) error

	// CancelAction cancels a non-terminal record. For executing records
	// it only sets the advisory cancellation_requested flag; the worker
	// finalizes at its next checkpoint. Returns the status the record
	// held before the call.
	CancelAction(ctx context.Context, id, userID uuid.UUID, actor, reason string, now time.Time) (ActionStatus, error)

	// FinalizeCancel transitions executing -> cancelled, called by the
	// worker when it observes a cancellation request at a checkpoint.
	FinalizeCancel(ctx context.Context, id uuid.UUID, actor string, now time.Time) error

	// MarkDueNow forces a pending/scheduled record to be eligible
	// immediately. Approval gating still applies to pending records.
	MarkDueNow(ctx context.Context, id uuid.UUID, now time.Time) error

	// DeferAction pushes a scheduled-claim back to scheduled with a new
	// eligibility time, used when trigger conditions are not satisfied.
	DeferAction(ctx context.Context, id uuid.UUID, until time.Time) error

	// CancellationRequested reports the advisory cancellation flag.
	CancellationRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// ReclaimStuck returns executing records whose executed_at is older
	// than cutoff to the retry path (watchdog sweep). Returns count.
	ReclaimStuck(ctx context.Context, cutoff, now time.Time) (int, error)

	// ChainNext inserts the next occurrence of a recurring action as a
	// fresh record linked to its predecessor.
	ChainNext(ctx context.Context, next *ActionRecord) error

	// UpdateActionApproval records the outcome of an approval decision
	// on the owning record, applying parameter overrides if present.
	UpdateActionApproval(ctx context.Context, tx DBTransaction, id uuid.UUID, status ApprovalStatus, modifiedParams json.RawMessage) error
}

// ApprovalStore persists approval requests.
type ApprovalStore interface {
	// CreateApproval inserts a new pending approval request.
	CreateApproval(ctx context.Context, tx DBTransaction, req *ApprovalRequest) error

	// GetApproval returns a request by id.
	GetApproval(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error)

	// GetApprovalForUser returns a request scoped to its owner.
	GetApprovalForUser(ctx context.Context, id, userID uuid.UUID) (*ApprovalRequest, error)

	// ListPendingApprovals returns undecided requests for a user.
	ListPendingApprovals(ctx context.Context, userID uuid.UUID) ([]ApprovalRequest, error)

	// ResolveApproval conditionally moves a pending request to
	// approved/rejected. Returns ErrAlreadyResolved if a decision or
	// expiry already landed.
	ResolveApproval(ctx context.Context, tx DBTransaction, id uuid.UUID, status ApprovalStatus, respondedBy string, reason *string, conditions []string, modifiedParams json.RawMessage, now time.Time) error

	// ExpireApprovals moves undecided requests past their expiry window
	// to expired and cancels their owning action records atomically.
	// Returns the number of requests expired.
	ExpireApprovals(ctx context.Context, now time.Time) (int, error)

	// ApprovalStats aggregates outcome counts and mean response time.
	ApprovalStats(ctx context.Context, userID uuid.UUID) (*ApprovalStats, error)
}

// AuditStore appends to and reads the immutable audit trail.
type AuditStore interface {
	// AppendAudit writes one transition event. Entries are append-only.
	AppendAudit(ctx context.Context, tx DBTransaction, ev *AuditEvent) error

	// ListAudit returns all events for a record in transition order.
	ListAudit(ctx context.Context, actionRecordID uuid.UUID) ([]AuditEvent, error)
}

// Package store contains the durable state layer for crewflow.
package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User represents a merchant account in the multi-tenant system.
// All operations must be scoped by UserID.
type User struct {
	ID             uuid.UUID
	Name           string
	Tier           string
	RateLimit      int
	RateLimitBurst int
	CreatedAt      time.Time
}

// ActionStatus represents the lifecycle state of an autonomous action.
type ActionStatus string

const (
	ActionStatusPending   ActionStatus = "pending"
	ActionStatusScheduled ActionStatus = "scheduled"
	ActionStatusExecuting ActionStatus = "executing"
	ActionStatusCompleted ActionStatus = "completed"
	ActionStatusFailed    ActionStatus = "failed"
	ActionStatusCancelled ActionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s ActionStatus) Terminal() bool {
	return s == ActionStatusCompleted || s == ActionStatusFailed || s == ActionStatusCancelled
}

// ApprovalStatus tracks the human sign-off state of an action.
// Transitions only move forward: pending -> approved/rejected/expired.
type ApprovalStatus string

const (
	ApprovalStatusNone     ApprovalStatus = "none"
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

// Priority determines dequeue ordering. Critical actions are claimed first.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// RiskLevel is the computed risk classification of a proposed action.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// AtLeast reports whether r is at or above the given level.
func (r RiskLevel) AtLeast(min RiskLevel) bool {
	return riskRank(r) >= riskRank(min)
}

func riskRank(r RiskLevel) int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// ActionRecord is a single proposed or in-flight autonomous action.
// The row in the database is the sole source of truth for its state;
// workers operate on it by id and never hold it beyond one processing step.
type ActionRecord struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	AgentID    string
	ActionType string

	// ActionData is opaque to the scheduler and approval layers.
	// It is validated only at the executor boundary.
	ActionData json.RawMessage

	Schedule Schedule
	Priority Priority

	ApprovalRequired bool
	ApprovalStatus   ApprovalStatus

	// Dependencies must all reach completed before this record may execute.
	Dependencies []uuid.UUID
	Tags         []string

	// ResourceKey identifies the external entity the action targets.
	// At most one action per resource key is executing at any instant.
	ResourceKey string

	Status     ActionStatus
	RetryCount int
	MaxRetries int

	// CancellationRequested marks advisory cancellation of an executing
	// action. The worker checks it at the next safe checkpoint.
	CancellationRequested bool

	ErrorMessage *string
	Result       json.RawMessage

	// ChainedFrom links a recurring occurrence to its predecessor record.
	ChainedFrom *uuid.UUID

	CreatedAt    time.Time
	ScheduledFor *time.Time
	ExecutedAt   *time.Time
	CompletedAt  *time.Time
}

// DefaultMaxRetries is applied when a proposal does not set a retry ceiling.
const DefaultMaxRetries = 3

// EstimatedImpact summarizes what an action would touch, shown to approvers.
type EstimatedImpact struct {
	AffectedCount int  `json:"affected_count"`
	Reversible    bool `json:"reversible"`
}

// ApprovalRequest gates a risky action behind human sign-off.
type ApprovalRequest struct {
	ID             uuid.UUID
	ActionRecordID uuid.UUID
	UserID         uuid.UUID
	RiskLevel      RiskLevel
	Status         ApprovalStatus
	Impact         EstimatedImpact

	// Decision fields, set on respond.
	Reason         *string
	ModifiedParams json.RawMessage
	Conditions     []string
	RespondedBy    *string
	RespondedAt    *time.Time

	CreatedAt time.Time
	ExpiresAt time.Time
}

// ApprovalStats aggregates approval outcomes for a user.
type ApprovalStats struct {
	Pending  int64
	Approved int64
	Rejected int64
	Expired  int64

	// AverageResponse is the mean time between request creation and a
	// human decision, over resolved (approved/rejected) requests.
	AverageResponse time.Duration
}

// Audit event names. One entry is appended per state transition.
const (
	AuditEventPropose           = "propose"
	AuditEventApprovalRequested = "approval_requested"
	AuditEventApprove           = "approve"
	AuditEventReject            = "reject"
	AuditEventExpire            = "expire"
	AuditEventSchedule          = "schedule"
	AuditEventExecuteStart      = "execute_start"
	AuditEventExecuteEnd        = "execute_end"
	AuditEventRetry             = "retry"
	AuditEventCancel            = "cancel"
	AuditEventCancelNoop        = "cancel_noop"
	AuditEventCascadeCancel     = "cascade_cancel"
	AuditEventChain             = "chain"
	AuditEventReclaim           = "reclaim"
)

// AuditEvent is one immutable entry in the append-only audit trail.
// Entries are never updated or deleted.
type AuditEvent struct {
	ID             int64
	ActionRecordID uuid.UUID
	Actor          string
	Event          string
	FromStatus     string
	ToStatus       string
	Detail         *string
	CreatedAt      time.Time
}

// ActionFilter narrows listPending/listHistory queries.
type ActionFilter struct {
	AgentID    string
	ActionType string
	Status     ActionStatus
	Tag        string
}

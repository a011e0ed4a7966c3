// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// CreateUserRequest is the request body for creating a new user account.
type CreateUserRequest struct {
	Name string `json:"name"`
	Tier string `json:"tier,omitempty"`
}

// CreateUserResponse returns the raw API key exactly once.
type CreateUserResponse struct {
	ID     string `json:"user_id"`
	Name   string `json:"name"`
	Tier   string `json:"tier"`
	APIKey string `json:"api_key"`
}

// ScheduleRequest is the wire form of an action schedule.
type ScheduleRequest struct {
	Type       string             `json:"type"`
	RunAt      *time.Time         `json:"run_at,omitempty"`
	Cron       string             `json:"cron,omitempty"`
	Conditions []ConditionRequest `json:"conditions,omitempty"`
}

// ConditionRequest is one trigger condition on a conditional schedule.
type ConditionRequest struct {
	Metric   string  `json:"metric"`
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
}

// ProposeActionRequest is the request body for proposing an action.
type ProposeActionRequest struct {
	AgentID          string           `json:"agent_id"`
	ActionType       string           `json:"action_type"`
	ActionData       json.RawMessage  `json:"action_data,omitempty"`
	Schedule         *ScheduleRequest `json:"schedule,omitempty"`
	Priority         string           `json:"priority,omitempty"`
	ApprovalRequired bool             `json:"approval_required,omitempty"`
	Dependencies     []string         `json:"dependencies,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	MaxRetries       *int             `json:"max_retries,omitempty"`
}

// ActionResponse represents an action record in API responses.
type ActionResponse struct {
	ID               string          `json:"id"`
	AgentID          string          `json:"agent_id"`
	ActionType       string          `json:"action_type"`
	ActionData       json.RawMessage `json:"action_data"`
	Schedule         ScheduleRequest `json:"schedule"`
	Priority         string          `json:"priority"`
	Status           string          `json:"status"`
	ApprovalRequired bool            `json:"approval_required"`
	ApprovalStatus   string          `json:"approval_status"`
	Dependencies     []string        `json:"dependencies,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	ResourceKey      string          `json:"resource_key"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
	ErrorMessage     *string         `json:"error_message,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	ChainedFrom      *string         `json:"chained_from,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ScheduledFor     *time.Time      `json:"scheduled_for,omitempty"`
	ExecutedAt       *time.Time      `json:"executed_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// ProposeActionResponse is returned after a successful proposal.
type ProposeActionResponse struct {
	Action   ActionResponse    `json:"action"`
	Approval *ApprovalResponse `json:"approval,omitempty"`
}

// ListActionsResponse wraps action listings.
type ListActionsResponse struct {
	Actions []ActionResponse `json:"actions"`
}

// CancelActionRequest is the request body for cancelling an action.
type CancelActionRequest struct {
	Reason string `json:"reason,omitempty"`
}

// ApprovalResponse represents an approval request in API responses.
type ApprovalResponse struct {
	ID             string          `json:"id"`
	ActionID       string          `json:"action_id"`
	RiskLevel      string          `json:"risk_level"`
	Status         string          `json:"status"`
	AffectedCount  int             `json:"affected_count"`
	Reversible     bool            `json:"reversible"`
	Reason         *string         `json:"reason,omitempty"`
	ModifiedParams json.RawMessage `json:"modified_params,omitempty"`
	Conditions     []string        `json:"conditions,omitempty"`
	RespondedBy    *string         `json:"responded_by,omitempty"`
	RespondedAt    *time.Time      `json:"responded_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
}

// ListApprovalsResponse wraps pending approval listings.
type ListApprovalsResponse struct {
	Approvals []ApprovalResponse `json:"approvals"`
}

// RespondApprovalRequest is the request body for an approval decision.
type RespondApprovalRequest struct {
	Approved       bool            `json:"approved"`
	Reason         *string         `json:"reason,omitempty"`
	Conditions     []string        `json:"conditions,omitempty"`
	ModifiedParams json.RawMessage `json:"modified_params,omitempty"`
	RespondedBy    string          `json:"responded_by,omitempty"`
}

// ApprovalStatsResponse aggregates approval outcomes for a user.
type ApprovalStatsResponse struct {
	Pending                int64   `json:"pending"`
	Approved               int64   `json:"approved"`
	Rejected               int64   `json:"rejected"`
	Expired                int64   `json:"expired"`
	AverageResponseSeconds float64 `json:"average_response_seconds"`
}

// AuditEventResponse is one entry of an action's transition trail.
type AuditEventResponse struct {
	ID         int64     `json:"id"`
	Actor      string    `json:"actor"`
	Event      string    `json:"event"`
	FromStatus string    `json:"from_status,omitempty"`
	ToStatus   string    `json:"to_status"`
	Detail     *string   `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// GetAuditResponse wraps an action's audit trail.
type GetAuditResponse struct {
	Events []AuditEventResponse `json:"events"`
}

// AlertRuleRequest maps an alert to one proposed action.
type AlertRuleRequest struct {
	ActionType string             `json:"action_type"`
	ActionData json.RawMessage    `json:"action_data,omitempty"`
	Priority   string             `json:"priority,omitempty"`
	Schedule   *ScheduleRequest   `json:"schedule,omitempty"`
	Conditions []ConditionRequest `json:"conditions,omitempty"`
}

// AlertRequest is a monitoring alert submitted for evaluation.
type AlertRequest struct {
	ID       string             `json:"id"`
	AgentID  string             `json:"agent_id"`
	Metric   string             `json:"metric"`
	Value    float64            `json:"value"`
	Severity string             `json:"severity,omitempty"`
	Context  json.RawMessage    `json:"context,omitempty"`
	Rules    []AlertRuleRequest `json:"rules"`
}

// AlertResponse lists the actions an alert proposed.
type AlertResponse struct {
	Actions []ActionResponse `json:"actions"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

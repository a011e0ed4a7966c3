// Package actions is the service facade over the scheduling subsystem.
// All public operations (propose, cancel, manual trigger, listing,
// approval responses) go through here.
package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"crewflow/internal/gate"
	"crewflow/internal/quota"
	"crewflow/internal/store"
	"crewflow/internal/trigger"

	"github.com/google/uuid"
)

// Store is the persistence surface the service needs.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	store.ActionStore
	store.ApprovalStore
	store.AuditStore
	GetUserByID(ctx context.Context, id uuid.UUID) (*store.User, error)
}

// Service implements the public operations of the scheduling subsystem.
type Service struct {
	store  Store
	gate   *gate.Gate
	quota  *quota.Service
	eval   *trigger.Evaluator
	clock  func() time.Time
	logger *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock injects a clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// New creates the action service.
func New(st Store, g *gate.Gate, q *quota.Service, eval *trigger.Evaluator, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		gate:   g,
		quota:  q,
		eval:   eval,
		clock:  func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProposeInput describes a new action proposal.
type ProposeInput struct {
	AgentID          string
	ActionType       string
	ActionData       json.RawMessage
	Schedule         store.Schedule
	Priority         store.Priority
	ApprovalRequired bool
	Dependencies     []uuid.UUID
	Tags             []string
	MaxRetries       *int
}

func (in *ProposeInput) validate() error {
	if in.AgentID == "" {
		return &store.ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if in.ActionType == "" {
		return &store.ValidationError{Field: "action_type", Reason: "must not be empty"}
	}
	if len(in.ActionData) == 0 {
		in.ActionData = json.RawMessage(`{}`)
	}
	if !json.Valid(in.ActionData) {
		return &store.ValidationError{Field: "action_data", Reason: "must be valid JSON"}
	}
	if in.Priority == "" {
		in.Priority = store.PriorityMedium
	}
	if !in.Priority.Valid() {
		return &store.ValidationError{Field: "priority", Reason: fmt.Sprintf("unknown priority %q", in.Priority)}
	}
	if in.Schedule.Type == "" {
		in.Schedule.Type = store.ScheduleImmediate
	}
	if err := in.Schedule.Validate(); err != nil {
		return err
	}
	if in.MaxRetries != nil && *in.MaxRetries < 0 {
		return &store.ValidationError{Field: "max_retries", Reason: "must not be negative"}
	}
	return nil
}

// Propose validates a proposal, checks quota, computes the resource key
// and first eligibility time, runs it through the approval gate, and
// persists the record plus its audit trail atomically. The returned
// record reflects the stored state including any attached approval.
func (s *Service) Propose(ctx context.Context, user *store.User, in ProposeInput) (*store.ActionRecord, *store.ApprovalRequest, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	now := s.clock()
	for _, dep := range in.Dependencies {
		if _, err := s.store.GetActionForUser(ctx, dep, user.ID); err != nil {
			return nil, nil, fmt.Errorf("dependency %s: %w", dep, err)
		}
	}

	firstRun, err := in.Schedule.FirstRun(now)
	if err != nil {
		return nil, nil, err
	}
	if in.Schedule.Type == store.ScheduleDelayed && firstRun.Before(now) {
		return nil, nil, &store.ValidationError{Field: "schedule.run_at", Reason: "must be in the future"}
	}

	maxRetries := store.DefaultMaxRetries
	if in.MaxRetries != nil {
		maxRetries = *in.MaxRetries
	}

	rec := &store.ActionRecord{
		ID:               uuid.New(),
		UserID:           user.ID,
		AgentID:          in.AgentID,
		ActionType:       in.ActionType,
		ActionData:       in.ActionData,
		Schedule:         in.Schedule,
		Priority:         in.Priority,
		ApprovalRequired: in.ApprovalRequired,
		ApprovalStatus:   store.ApprovalStatusNone,
		Dependencies:     in.Dependencies,
		Tags:             in.Tags,
		Status:           store.ActionStatusPending,
		MaxRetries:       maxRetries,
		CreatedAt:        now,
		ScheduledFor:     &firstRun,
	}
	rec.ResourceKey = store.ComputeResourceKey(rec.AgentID, rec.ActionType, rec.ActionData, rec.ID)

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin propose tx: %w", err)
	}
	defer tx.Rollback()

	// The quota count takes a per-user advisory lock inside the tx, so
	// two concurrent proposals near the ceiling serialize here.
	if err := s.quota.Check(ctx, tx, user); err != nil {
		return nil, nil, err
	}

	req, err := s.gate.Attach(ctx, tx, rec)
	if err != nil {
		return nil, nil, err
	}

	if err := s.store.CreateAction(ctx, tx, rec); err != nil {
		return nil, nil, err
	}

	detail := fmt.Sprintf("agent %s proposed %s (%s schedule, priority %s)",
		rec.AgentID, rec.ActionType, rec.Schedule.Type, rec.Priority)
	if err := s.store.AppendAudit(ctx, tx, &store.AuditEvent{
		ActionRecordID: rec.ID,
		Actor:          rec.AgentID,
		Event:          store.AuditEventPropose,
		FromStatus:     "",
		ToStatus:       string(store.ActionStatusPending),
		Detail:         &detail,
		CreatedAt:      now,
	}); err != nil {
		return nil, nil, err
	}

	if req != nil {
		if err := s.store.CreateApproval(ctx, tx, req); err != nil {
			return nil, nil, err
		}
		gateDetail := fmt.Sprintf("risk %s, expires %s", req.RiskLevel, req.ExpiresAt.Format(time.RFC3339))
		if err := s.store.AppendAudit(ctx, tx, &store.AuditEvent{
			ActionRecordID: rec.ID,
			Actor:          "gate",
			Event:          store.AuditEventApprovalRequested,
			FromStatus:     string(store.ActionStatusPending),
			ToStatus:       string(store.ActionStatusPending),
			Detail:         &gateDetail,
			CreatedAt:      now,
		}); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit propose tx: %w", err)
	}

	s.logger.Info("action proposed",
		"action_id", rec.ID,
		"user_id", user.ID,
		"agent_id", rec.AgentID,
		"action_type", rec.ActionType,
		"approval_required", rec.ApprovalRequired,
	)
	return rec, req, nil
}

// HandleAlert expands a monitoring alert into proposals and persists each
// through the normal propose path, so alert-driven actions get the same
// gating, quota, and audit treatment as agent-driven ones.
func (s *Service) HandleAlert(ctx context.Context, user *store.User, alert trigger.Alert) ([]*store.ActionRecord, error) {
	proposals, err := s.eval.Evaluate(ctx, alert)
	if err != nil {
		return nil, err
	}

	var records []*store.ActionRecord
	for _, p := range proposals {
		rec, _, err := s.Propose(ctx, user, ProposeInput{
			AgentID:    p.AgentID,
			ActionType: p.ActionType,
			ActionData: p.ActionData,
			Schedule:   p.Schedule,
			Priority:   p.Priority,
			Tags:       []string{"alert:" + alert.ID},
		})
		if err != nil {
			return records, fmt.Errorf("propose from alert %s: %w", alert.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Cancel cancels an action. Pending and scheduled records cancel
// immediately; executing records only get the advisory flag and finish
// cancelling at the worker's next checkpoint. Terminal records return
// ErrInvalidState.
func (s *Service) Cancel(ctx context.Context, userID, actionID uuid.UUID, reason string) (*store.ActionRecord, error) {
	previous, err := s.store.CancelAction(ctx, actionID, userID, "user", reason, s.clock())
	if err != nil {
		return nil, err
	}

	s.logger.Info("action cancel requested",
		"action_id", actionID, "user_id", userID, "previous_status", previous)
	return s.store.GetActionForUser(ctx, actionID, userID)
}

// TriggerManually makes a pending or scheduled action eligible for
// immediate claim, bypassing its schedule but never its approval gating.
func (s *Service) TriggerManually(ctx context.Context, userID, actionID uuid.UUID) (*store.ActionRecord, error) {
	rec, err := s.store.GetActionForUser(ctx, actionID, userID)
	if err != nil {
		return nil, err
	}
	if rec.Status.Terminal() || rec.Status == store.ActionStatusExecuting {
		return nil, fmt.Errorf("cannot trigger %s action: %w", rec.Status, store.ErrInvalidState)
	}

	// MarkDueNow writes the audit entry in the same statement as the
	// transition, and still refuses gated records awaiting approval.
	if err := s.store.MarkDueNow(ctx, actionID, s.clock()); err != nil {
		return nil, err
	}
	return s.store.GetActionForUser(ctx, actionID, userID)
}

// ListPending returns the user's queued and in-flight actions.
func (s *Service) ListPending(ctx context.Context, userID uuid.UUID, filter store.ActionFilter) ([]store.ActionRecord, error) {
	return s.store.ListPending(ctx, userID, filter)
}

// ListHistory returns the user's actions newest first, bounded by limit.
func (s *Service) ListHistory(ctx context.Context, userID uuid.UUID, filter store.ActionFilter, limit int) ([]store.ActionRecord, error) {
	return s.store.ListHistory(ctx, userID, filter, limit)
}

// Get returns one action scoped to its owner.
func (s *Service) Get(ctx context.Context, userID, actionID uuid.UUID) (*store.ActionRecord, error) {
	return s.store.GetActionForUser(ctx, actionID, userID)
}

// RespondToApproval records a human decision on a pending approval.
func (s *Service) RespondToApproval(ctx context.Context, userID, requestID uuid.UUID, decision gate.Decision) error {
	if decision.ModifiedParams != nil && !json.Valid(decision.ModifiedParams) {
		return &store.ValidationError{Field: "modified_params", Reason: "must be valid JSON"}
	}
	if decision.RespondedBy == "" {
		decision.RespondedBy = "user"
	}
	return s.gate.Respond(ctx, requestID, userID, decision)
}

// GetPendingApprovals returns the user's undecided approval requests.
func (s *Service) GetPendingApprovals(ctx context.Context, userID uuid.UUID) ([]store.ApprovalRequest, error) {
	return s.store.ListPendingApprovals(ctx, userID)
}

// GetApprovalStats aggregates approval outcomes for the user.
func (s *Service) GetApprovalStats(ctx context.Context, userID uuid.UUID) (*store.ApprovalStats, error) {
	return s.store.ApprovalStats(ctx, userID)
}

// GetAudit returns the full transition trail of one action.
func (s *Service) GetAudit(ctx context.Context, userID, actionID uuid.UUID) ([]store.AuditEvent, error) {
	if _, err := s.store.GetActionForUser(ctx, actionID, userID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, actionID)
}

// Package gate implements the approval gate: risk classification of
// proposed actions, human decision arbitration, and expiry of stale
// requests.
package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"crewflow/internal/store"

	"github.com/google/uuid"
)

// DefaultApprovalWindow is how long a request waits for a human decision
// before the expiry sweep cancels the action.
const DefaultApprovalWindow = time.Hour

// Thresholds configure when payload magnitude escalates risk.
type Thresholds struct {
	// CriticalAmount is the monetary amount at or above which any action
	// is classified critical.
	CriticalAmount float64

	// CriticalQuantity is the affected item count at or above which any
	// action is classified critical.
	CriticalQuantity int
}

// DefaultThresholds returns the standard escalation thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{CriticalAmount: 1000, CriticalQuantity: 100}
}

// Store is the persistence surface the gate needs.
type Store interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	store.ApprovalStore
	AppendAudit(ctx context.Context, tx store.DBTransaction, ev *store.AuditEvent) error
	UpdateActionApproval(ctx context.Context, tx store.DBTransaction, id uuid.UUID, status store.ApprovalStatus, modifiedParams json.RawMessage) error
	GetActionForUser(ctx context.Context, id, userID uuid.UUID) (*store.ActionRecord, error)
}

// Gate evaluates risk and arbitrates approve/reject decisions.
type Gate struct {
	store      Store
	thresholds Thresholds
	window     time.Duration
	clock      func() time.Time
	logger     *slog.Logger
}

// Option configures a Gate.
type Option func(*Gate)

// WithClock injects a clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(g *Gate) { g.clock = clock }
}

// WithWindow overrides the approval expiry window.
func WithWindow(window time.Duration) Option {
	return func(g *Gate) { g.window = window }
}

// WithThresholds overrides the risk escalation thresholds.
func WithThresholds(t Thresholds) Option {
	return func(g *Gate) { g.thresholds = t }
}

// New creates an approval gate.
func New(s Store, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		store:      s,
		thresholds: DefaultThresholds(),
		window:     DefaultApprovalWindow,
		clock:      func() time.Time { return time.Now().UTC() },
		logger:     logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Classify computes the risk level of an action as a pure function of its
// type and payload magnitude. Price mutations, destructive actions, and
// payloads above the configured thresholds are critical.
func Classify(actionType string, actionData json.RawMessage, t Thresholds) store.RiskLevel {
	lower := strings.ToLower(actionType)

	switch {
	case strings.Contains(lower, "price"), strings.Contains(lower, "discount"), strings.Contains(lower, "refund"):
		return store.RiskCritical
	case strings.Contains(lower, "delete"), strings.Contains(lower, "remove"), strings.Contains(lower, "archive"):
		return store.RiskCritical
	}

	if exceedsThresholds(actionData, t) {
		return store.RiskCritical
	}

	switch {
	case strings.Contains(lower, "fulfill"), strings.Contains(lower, "order"), strings.Contains(lower, "inventory"):
		return store.RiskMedium
	case strings.Contains(lower, "campaign"), strings.Contains(lower, "publish"):
		return store.RiskMedium
	}
	return store.RiskLow
}

func exceedsThresholds(actionData json.RawMessage, t Thresholds) bool {
	var payload struct {
		Amount   float64           `json:"amount"`
		Quantity int               `json:"quantity"`
		Items    []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(actionData, &payload); err != nil {
		return false
	}
	if t.CriticalAmount > 0 && payload.Amount >= t.CriticalAmount {
		return true
	}
	if t.CriticalQuantity > 0 && (payload.Quantity >= t.CriticalQuantity || len(payload.Items) >= t.CriticalQuantity) {
		return true
	}
	return false
}

// EstimateImpact summarizes what the action would touch for approvers.
// Destructive actions are flagged irreversible.
func EstimateImpact(actionType string, actionData json.RawMessage) store.EstimatedImpact {
	impact := store.EstimatedImpact{AffectedCount: 1, Reversible: true}

	lower := strings.ToLower(actionType)
	if strings.Contains(lower, "delete") || strings.Contains(lower, "remove") {
		impact.Reversible = false
	}

	var payload struct {
		Quantity int               `json:"quantity"`
		Items    []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(actionData, &payload); err == nil {
		if len(payload.Items) > 0 {
			impact.AffectedCount = len(payload.Items)
		} else if payload.Quantity > 0 {
			impact.AffectedCount = payload.Quantity
		}
	}
	return impact
}

// RequiresApproval decides whether the action must wait for human
// sign-off. The gate may escalate gating but never silently downgrade a
// caller's explicit request.
func RequiresApproval(risk store.RiskLevel, requested bool) bool {
	return requested || risk.AtLeast(store.RiskCritical)
}

// Attach gates a record being created. If approval is required the record
// is marked pending approval and an ApprovalRequest is created in the
// same transaction. Returns the request, or nil when no gating applies.
//
// The caller owns the transaction and writes the record itself; Attach
// mutates rec before insertion.
func (g *Gate) Attach(ctx context.Context, tx store.DBTransaction, rec *store.ActionRecord) (*store.ApprovalRequest, error) {
	risk := Classify(rec.ActionType, rec.ActionData, g.thresholds)
	if !RequiresApproval(risk, rec.ApprovalRequired) {
		rec.ApprovalRequired = false
		rec.ApprovalStatus = store.ApprovalStatusNone
		return nil, nil
	}

	now := g.clock()
	rec.ApprovalRequired = true
	rec.ApprovalStatus = store.ApprovalStatusPending

	req := &store.ApprovalRequest{
		ID:             uuid.New(),
		ActionRecordID: rec.ID,
		UserID:         rec.UserID,
		RiskLevel:      risk,
		Status:         store.ApprovalStatusPending,
		Impact:         EstimateImpact(rec.ActionType, rec.ActionData),
		CreatedAt:      now,
		ExpiresAt:      now.Add(g.window),
	}
	return req, nil
}

// Decision is a human response to an approval request.
type Decision struct {
	Approved       bool
	Reason         *string
	Conditions     []string
	ModifiedParams json.RawMessage
	RespondedBy    string
}

// Respond arbitrates a decision. On approve the action's approval status
// flips to approved and any parameter overrides land on action_data; on
// reject the action is cancelled. Fails with ErrNotFound when the request
// or its owning record is not visible to the caller, ErrAlreadyResolved
// when a decision or expiry already landed.
func (g *Gate) Respond(ctx context.Context, requestID, userID uuid.UUID, decision Decision) error {
	req, err := g.store.GetApprovalForUser(ctx, requestID, userID)
	if err != nil {
		return err
	}
	if _, err := g.store.GetActionForUser(ctx, req.ActionRecordID, userID); err != nil {
		return err
	}

	now := g.clock()
	outcome := store.ApprovalStatusRejected
	event := store.AuditEventReject
	if decision.Approved {
		outcome = store.ApprovalStatusApproved
		event = store.AuditEventApprove
	}

	tx, err := g.store.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := g.store.ResolveApproval(ctx, tx, requestID, outcome,
		decision.RespondedBy, decision.Reason, decision.Conditions, decision.ModifiedParams, now); err != nil {
		return err
	}

	var overrides json.RawMessage
	if decision.Approved {
		overrides = decision.ModifiedParams
	}
	if err := g.store.UpdateActionApproval(ctx, tx, req.ActionRecordID, outcome, overrides); err != nil {
		return fmt.Errorf("apply approval outcome: %w", err)
	}

	detail := fmt.Sprintf("risk %s", req.RiskLevel)
	if decision.Reason != nil {
		detail = fmt.Sprintf("risk %s: %s", req.RiskLevel, *decision.Reason)
	}
	toStatus := string(store.ActionStatusPending)
	if !decision.Approved {
		toStatus = string(store.ActionStatusCancelled)
	}
	if err := g.store.AppendAudit(ctx, tx, &store.AuditEvent{
		ActionRecordID: req.ActionRecordID,
		Actor:          decision.RespondedBy,
		Event:          event,
		FromStatus:     string(store.ActionStatusPending),
		ToStatus:       toStatus,
		Detail:         &detail,
	}); err != nil {
		return err
	}

	return tx.Commit()
}

// ExpireSweep transitions undecided requests past their window to expired
// and cancels their owning records. The store does both in one statement,
// so a request is never expired without its action being cancelled. Run
// periodically so stale critical actions never linger.
func (g *Gate) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	return g.store.ExpireApprovals(ctx, now)
}

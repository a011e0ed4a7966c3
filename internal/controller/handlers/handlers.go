// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"crewflow/internal/actions"
	"crewflow/internal/gate"
	"crewflow/internal/store"
	"crewflow/internal/trigger"
	"crewflow/pkg/api"

	"github.com/google/uuid"
)

// ActionService is the service surface the handlers expose over HTTP.
type ActionService interface {
	Propose(ctx context.Context, user *store.User, in actions.ProposeInput) (*store.ActionRecord, *store.ApprovalRequest, error)
	HandleAlert(ctx context.Context, user *store.User, alert trigger.Alert) ([]*store.ActionRecord, error)
	Cancel(ctx context.Context, userID, actionID uuid.UUID, reason string) (*store.ActionRecord, error)
	TriggerManually(ctx context.Context, userID, actionID uuid.UUID) (*store.ActionRecord, error)
	ListPending(ctx context.Context, userID uuid.UUID, filter store.ActionFilter) ([]store.ActionRecord, error)
	ListHistory(ctx context.Context, userID uuid.UUID, filter store.ActionFilter, limit int) ([]store.ActionRecord, error)
	Get(ctx context.Context, userID, actionID uuid.UUID) (*store.ActionRecord, error)
	RespondToApproval(ctx context.Context, userID, requestID uuid.UUID, decision gate.Decision) error
	GetPendingApprovals(ctx context.Context, userID uuid.UUID) ([]store.ApprovalRequest, error)
	GetApprovalStats(ctx context.Context, userID uuid.UUID) (*store.ApprovalStats, error)
	GetAudit(ctx context.Context, userID, actionID uuid.UUID) ([]store.AuditEvent, error)
}

// UserStore is the account surface the handlers need.
type UserStore interface {
	CreateUser(ctx context.Context, user *store.User, hashedKey string) error
	Ping(ctx context.Context) error
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	service ActionService
	users   UserStore
}

// New creates a new Handlers instance.
func New(service ActionService, users UserStore) *Handlers {
	return &Handlers{service: service, users: users}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// serviceError maps service-layer failures to HTTP responses.
func (h *Handlers) serviceError(w http.ResponseWriter, err error) {
	switch {
	case store.IsValidation(err):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "not found", http.StatusNotFound)
	case errors.Is(err, store.ErrQuotaExceeded):
		h.httpError(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, store.ErrInvalidState), errors.Is(err, store.ErrAlreadyResolved):
		h.httpError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, store.ErrAccessDenied):
		h.httpError(w, "access denied", http.StatusForbidden)
	default:
		h.httpError(w, "internal error", http.StatusInternalServerError)
	}
}

// pathUUID parses a path parameter as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	return uuid.Parse(r.PathValue(name))
}

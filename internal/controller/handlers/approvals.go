package handlers

import (
	"encoding/json"
	"net/http"

	"crewflow/internal/controller/middleware"
	"crewflow/internal/gate"
	"crewflow/pkg/api"
)

// ListApprovals handles GET /approvals.
func (h *Handlers) ListApprovals(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	requests, err := h.service.GetPendingApprovals(r.Context(), user.ID)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := api.ListApprovalsResponse{Approvals: make([]api.ApprovalResponse, 0, len(requests))}
	for i := range requests {
		resp.Approvals = append(resp.Approvals, toApprovalResponse(&requests[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// RespondApproval handles POST /approvals/{id}/respond.
func (h *Handlers) RespondApproval(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		h.httpError(w, "invalid approval id", http.StatusBadRequest)
		return
	}

	var req api.RespondApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	err = h.service.RespondToApproval(r.Context(), user.ID, id, gate.Decision{
		Approved:       req.Approved,
		Reason:         req.Reason,
		Conditions:     req.Conditions,
		ModifiedParams: req.ModifiedParams,
		RespondedBy:    req.RespondedBy,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// ApprovalStats handles GET /approvals/stats.
func (h *Handlers) ApprovalStats(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	stats, err := h.service.GetApprovalStats(r.Context(), user.ID)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, api.ApprovalStatsResponse{
		Pending:                stats.Pending,
		Approved:               stats.Approved,
		Rejected:               stats.Rejected,
		Expired:                stats.Expired,
		AverageResponseSeconds: stats.AverageResponse.Seconds(),
	})
}

package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"crewflow/internal/actions"
	"crewflow/internal/controller/middleware"
	"crewflow/internal/store"
	"crewflow/internal/trigger"
	"crewflow/pkg/api"
)

// ProposeAction handles POST /actions.
func (h *Handlers) ProposeAction(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.ProposeActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	deps, err := parseDependencies(req.Dependencies)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	rec, approval, err := h.service.Propose(r.Context(), user, actions.ProposeInput{
		AgentID:          req.AgentID,
		ActionType:       req.ActionType,
		ActionData:       req.ActionData,
		Schedule:         fromScheduleRequest(req.Schedule),
		Priority:         store.Priority(req.Priority),
		ApprovalRequired: req.ApprovalRequired,
		Dependencies:     deps,
		Tags:             req.Tags,
		MaxRetries:       req.MaxRetries,
	})
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := api.ProposeActionResponse{Action: toActionResponse(rec)}
	if approval != nil {
		a := toApprovalResponse(approval)
		resp.Approval = &a
	}
	h.respondJson(w, http.StatusCreated, resp)
}

// ListPending handles GET /actions.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	records, err := h.service.ListPending(r.Context(), user.ID, filterFromQuery(r))
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, listResponse(records))
}

// ListHistory handles GET /actions/history.
func (h *Handlers) ListHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			h.httpError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	records, err := h.service.ListHistory(r.Context(), user.ID, filterFromQuery(r), limit)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, listResponse(records))
}

// GetAction handles GET /actions/{id}.
func (h *Handlers) GetAction(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		h.httpError(w, "invalid action id", http.StatusBadRequest)
		return
	}

	rec, err := h.service.Get(r.Context(), user.ID, id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, toActionResponse(rec))
}

// CancelAction handles POST /actions/{id}/cancel.
func (h *Handlers) CancelAction(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		h.httpError(w, "invalid action id", http.StatusBadRequest)
		return
	}

	var req api.CancelActionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.httpError(w, "invalid JSON", http.StatusBadRequest)
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "cancelled by user"
	}

	rec, err := h.service.Cancel(r.Context(), user.ID, id, req.Reason)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, toActionResponse(rec))
}

// TriggerAction handles POST /actions/{id}/trigger.
func (h *Handlers) TriggerAction(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		h.httpError(w, "invalid action id", http.StatusBadRequest)
		return
	}

	rec, err := h.service.TriggerManually(r.Context(), user.ID, id)
	if err != nil {
		h.serviceError(w, err)
		return
	}
	h.respondJson(w, http.StatusOK, toActionResponse(rec))
}

// GetActionAudit handles GET /actions/{id}/audit.
func (h *Handlers) GetActionAudit(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := pathUUID(r, "id")
	if err != nil {
		h.httpError(w, "invalid action id", http.StatusBadRequest)
		return
	}

	events, err := h.service.GetAudit(r.Context(), user.ID, id)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := api.GetAuditResponse{Events: make([]api.AuditEventResponse, 0, len(events))}
	for _, ev := range events {
		resp.Events = append(resp.Events, toAuditResponse(ev))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// SubmitAlert handles POST /alerts, proposing actions from a monitoring
// alert through the standard gating and quota path.
func (h *Handlers) SubmitAlert(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		h.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.AlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	alert := trigger.Alert{
		ID:       req.ID,
		AgentID:  req.AgentID,
		Metric:   req.Metric,
		Value:    req.Value,
		Severity: req.Severity,
		Context:  req.Context,
	}
	for _, rule := range req.Rules {
		converted := trigger.ProposalRule{
			ActionType: rule.ActionType,
			ActionData: rule.ActionData,
			Priority:   store.Priority(rule.Priority),
		}
		if rule.Schedule != nil {
			s := fromScheduleRequest(rule.Schedule)
			converted.Schedule = &s
		}
		for _, c := range rule.Conditions {
			converted.Conditions = append(converted.Conditions, store.TriggerCondition{
				Metric: c.Metric, Operator: c.Operator, Value: c.Value,
			})
		}
		alert.Rules = append(alert.Rules, converted)
	}

	records, err := h.service.HandleAlert(r.Context(), user, alert)
	if err != nil {
		h.serviceError(w, err)
		return
	}

	resp := api.AlertResponse{Actions: make([]api.ActionResponse, 0, len(records))}
	for _, rec := range records {
		resp.Actions = append(resp.Actions, toActionResponse(rec))
	}
	h.respondJson(w, http.StatusAccepted, resp)
}

func filterFromQuery(r *http.Request) store.ActionFilter {
	q := r.URL.Query()
	return store.ActionFilter{
		AgentID:    q.Get("agent_id"),
		ActionType: q.Get("action_type"),
		Status:     store.ActionStatus(q.Get("status")),
		Tag:        q.Get("tag"),
	}
}

func listResponse(records []store.ActionRecord) api.ListActionsResponse {
	resp := api.ListActionsResponse{Actions: make([]api.ActionResponse, 0, len(records))}
	for i := range records {
		resp.Actions = append(resp.Actions, toActionResponse(&records[i]))
	}
	return resp
}

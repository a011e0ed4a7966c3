package handlers

import (
	"crewflow/internal/store"
	"crewflow/pkg/api"

	"github.com/google/uuid"
)

func toScheduleResponse(s store.Schedule) api.ScheduleRequest {
	out := api.ScheduleRequest{
		Type:  string(s.Type),
		RunAt: s.RunAt,
		Cron:  s.Cron,
	}
	for _, c := range s.Conditions {
		out.Conditions = append(out.Conditions, api.ConditionRequest{
			Metric: c.Metric, Operator: c.Operator, Value: c.Value,
		})
	}
	return out
}

func fromScheduleRequest(req *api.ScheduleRequest) store.Schedule {
	if req == nil {
		return store.Schedule{Type: store.ScheduleImmediate}
	}
	s := store.Schedule{
		Type:  store.ScheduleType(req.Type),
		RunAt: req.RunAt,
		Cron:  req.Cron,
	}
	for _, c := range req.Conditions {
		s.Conditions = append(s.Conditions, store.TriggerCondition{
			Metric: c.Metric, Operator: c.Operator, Value: c.Value,
		})
	}
	return s
}

func toActionResponse(rec *store.ActionRecord) api.ActionResponse {
	out := api.ActionResponse{
		ID:               rec.ID.String(),
		AgentID:          rec.AgentID,
		ActionType:       rec.ActionType,
		ActionData:       rec.ActionData,
		Schedule:         toScheduleResponse(rec.Schedule),
		Priority:         string(rec.Priority),
		Status:           string(rec.Status),
		ApprovalRequired: rec.ApprovalRequired,
		ApprovalStatus:   string(rec.ApprovalStatus),
		Tags:             rec.Tags,
		ResourceKey:      rec.ResourceKey,
		RetryCount:       rec.RetryCount,
		MaxRetries:       rec.MaxRetries,
		ErrorMessage:     rec.ErrorMessage,
		Result:           rec.Result,
		CreatedAt:        rec.CreatedAt,
		ScheduledFor:     rec.ScheduledFor,
		ExecutedAt:       rec.ExecutedAt,
		CompletedAt:      rec.CompletedAt,
	}
	for _, dep := range rec.Dependencies {
		out.Dependencies = append(out.Dependencies, dep.String())
	}
	if rec.ChainedFrom != nil {
		chained := rec.ChainedFrom.String()
		out.ChainedFrom = &chained
	}
	return out
}

func toApprovalResponse(req *store.ApprovalRequest) api.ApprovalResponse {
	return api.ApprovalResponse{
		ID:             req.ID.String(),
		ActionID:       req.ActionRecordID.String(),
		RiskLevel:      string(req.RiskLevel),
		Status:         string(req.Status),
		AffectedCount:  req.Impact.AffectedCount,
		Reversible:     req.Impact.Reversible,
		Reason:         req.Reason,
		ModifiedParams: req.ModifiedParams,
		Conditions:     req.Conditions,
		RespondedBy:    req.RespondedBy,
		RespondedAt:    req.RespondedAt,
		CreatedAt:      req.CreatedAt,
		ExpiresAt:      req.ExpiresAt,
	}
}

func toAuditResponse(ev store.AuditEvent) api.AuditEventResponse {
	return api.AuditEventResponse{
		ID:         ev.ID,
		Actor:      ev.Actor,
		Event:      ev.Event,
		FromStatus: ev.FromStatus,
		ToStatus:   ev.ToStatus,
		Detail:     ev.Detail,
		CreatedAt:  ev.CreatedAt,
	}
}

func parseDependencies(raw []string) ([]uuid.UUID, error) {
	var deps []uuid.UUID
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, &store.ValidationError{Field: "dependencies", Reason: "invalid UUID " + s}
		}
		deps = append(deps, id)
	}
	return deps, nil
}

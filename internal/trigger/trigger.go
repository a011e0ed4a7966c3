// Package trigger turns monitoring alerts into action proposals and
// re-evaluates trigger conditions for conditional schedules.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"crewflow/internal/store"
)

// MetricSource supplies current metric observations for condition
// evaluation. Implementations typically read from the monitoring
// pipeline that raised the alert.
type MetricSource interface {
	// Observe returns the current value of a named metric. The bool is
	// false when the metric is unknown.
	Observe(ctx context.Context, metric string) (float64, bool, error)
}

// MetricMap is a static MetricSource, used for alert-scoped metrics and
// in tests.
type MetricMap map[string]float64

func (m MetricMap) Observe(_ context.Context, metric string) (float64, bool, error) {
	v, ok := m[metric]
	return v, ok, nil
}

// Alert is a monitoring signal that may propose one or more actions.
type Alert struct {
	ID       string             `json:"id"`
	AgentID  string             `json:"agent_id"`
	Metric   string             `json:"metric"`
	Value    float64            `json:"value"`
	Severity string             `json:"severity"`
	Context  json.RawMessage    `json:"context,omitempty"`
	Rules    []ProposalRule     `json:"rules,omitempty"`
}

// ProposalRule maps an alert to one proposed action. A single alert can
// carry several rules and thus fan out into several proposals.
type ProposalRule struct {
	ActionType string                   `json:"action_type"`
	ActionData json.RawMessage          `json:"action_data"`
	Priority   store.Priority           `json:"priority"`
	Schedule   *store.Schedule          `json:"schedule,omitempty"`
	Conditions []store.TriggerCondition `json:"conditions,omitempty"`
}

// Proposal is the evaluator's output, ready to hand to the proposing
// service.
type Proposal struct {
	AgentID    string
	ActionType string
	ActionData json.RawMessage
	Priority   store.Priority
	Schedule   store.Schedule
}

// Evaluator converts alerts into proposals.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator returns an alert evaluator.
func NewEvaluator(logger *slog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate expands an alert into zero or more proposals. Rules whose
// conditions do not hold against the alert's own metric are skipped, not
// failed: an alert racing a recovering metric is normal.
func (e *Evaluator) Evaluate(ctx context.Context, alert Alert) ([]Proposal, error) {
	if alert.AgentID == "" {
		return nil, &store.ValidationError{Field: "agent_id", Reason: "must not be empty"}
	}
	if len(alert.Rules) == 0 {
		return nil, nil
	}

	source := MetricMap{alert.Metric: alert.Value}

	var proposals []Proposal
	for _, rule := range alert.Rules {
		if rule.ActionType == "" {
			return nil, &store.ValidationError{Field: "action_type", Reason: "must not be empty"}
		}

		ok, err := Satisfied(ctx, source, rule.Conditions)
		if err != nil {
			return nil, fmt.Errorf("evaluate alert %s rule %s: %w", alert.ID, rule.ActionType, err)
		}
		if !ok {
			e.logger.Debug("alert rule conditions not met, skipping",
				"alert_id", alert.ID, "action_type", rule.ActionType)
			continue
		}

		schedule := store.Schedule{Type: store.ScheduleImmediate}
		if rule.Schedule != nil {
			schedule = *rule.Schedule
		}
		// Conditional rules re-check at claim time against live metrics,
		// so the conditions ride along on the schedule.
		if len(rule.Conditions) > 0 && schedule.Type == store.ScheduleConditional {
			schedule.Conditions = rule.Conditions
		}

		priority := rule.Priority
		if priority == "" {
			priority = severityPriority(alert.Severity)
		}

		data := rule.ActionData
		if data == nil {
			data = alert.Context
		}
		if data == nil {
			data = json.RawMessage(`{}`)
		}

		proposals = append(proposals, Proposal{
			AgentID:    alert.AgentID,
			ActionType: rule.ActionType,
			ActionData: data,
			Priority:   priority,
			Schedule:   schedule,
		})
	}
	return proposals, nil
}

// Satisfied reports whether every condition holds against the source.
// Unknown metrics fail closed: a condition on a metric the source cannot
// observe is not satisfied.
func Satisfied(ctx context.Context, source MetricSource, conditions []store.TriggerCondition) (bool, error) {
	for _, cond := range conditions {
		observed, known, err := source.Observe(ctx, cond.Metric)
		if err != nil {
			return false, fmt.Errorf("observe %s: %w", cond.Metric, err)
		}
		if !known {
			return false, nil
		}
		if !cond.Holds(observed) {
			return false, nil
		}
	}
	return true, nil
}

func severityPriority(severity string) store.Priority {
	switch severity {
	case "critical":
		return store.PriorityCritical
	case "high":
		return store.PriorityHigh
	case "low":
		return store.PriorityLow
	default:
		return store.PriorityMedium
	}
}

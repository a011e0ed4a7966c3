package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleType discriminates the schedule variant of an action.
type ScheduleType string

const (
	ScheduleImmediate   ScheduleType = "immediate"
	ScheduleDelayed     ScheduleType = "delayed"
	ScheduleRecurring   ScheduleType = "recurring"
	ScheduleConditional ScheduleType = "conditional"
)

// TriggerCondition is an externally evaluated predicate over a monitored
// metric. Conditional actions execute only while all their conditions hold,
// re-checked before every dispatch.
type TriggerCondition struct {
	Metric   string  `json:"metric"`
	Operator string  `json:"operator"` // gt, gte, lt, lte, eq
	Value    float64 `json:"value"`
}

// Holds reports whether the condition is satisfied by the observed value.
func (c TriggerCondition) Holds(observed float64) bool {
	switch c.Operator {
	case "gt":
		return observed > c.Value
	case "gte":
		return observed >= c.Value
	case "lt":
		return observed < c.Value
	case "lte":
		return observed <= c.Value
	case "eq":
		return observed == c.Value
	}
	return false
}

// cronParser accepts standard 5-field cron specs plus descriptors
// like @hourly and @every 30m.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule is the tagged variant deciding when an action becomes eligible.
// Exactly one of the optional fields is meaningful, selected by Type.
type Schedule struct {
	Type ScheduleType `json:"type"`

	// RunAt is set for delayed schedules.
	RunAt *time.Time `json:"run_at,omitempty"`

	// Cron is set for recurring schedules.
	Cron string `json:"cron,omitempty"`

	// Conditions are set for conditional schedules.
	Conditions []TriggerCondition `json:"conditions,omitempty"`
}

// Validate checks the variant for structural correctness.
func (s Schedule) Validate() error {
	switch s.Type {
	case ScheduleImmediate:
		return nil
	case ScheduleDelayed:
		if s.RunAt == nil || s.RunAt.IsZero() {
			return &ValidationError{Field: "schedule.run_at", Reason: "required for delayed schedules"}
		}
	case ScheduleRecurring:
		if s.Cron == "" {
			return &ValidationError{Field: "schedule.cron", Reason: "required for recurring schedules"}
		}
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return &ValidationError{Field: "schedule.cron", Reason: fmt.Sprintf("unparseable spec: %v", err)}
		}
	case ScheduleConditional:
		if len(s.Conditions) == 0 {
			return &ValidationError{Field: "schedule.conditions", Reason: "at least one condition required"}
		}
		for _, c := range s.Conditions {
			if c.Metric == "" {
				return &ValidationError{Field: "schedule.conditions", Reason: "condition metric is required"}
			}
			switch c.Operator {
			case "gt", "gte", "lt", "lte", "eq":
			default:
				return &ValidationError{Field: "schedule.conditions", Reason: fmt.Sprintf("unknown operator %q", c.Operator)}
			}
		}
	default:
		return &ValidationError{Field: "schedule.type", Reason: fmt.Sprintf("unknown type %q", s.Type)}
	}
	return nil
}

// FirstRun computes the initial eligibility time for the schedule.
// Conditional schedules are nominally eligible immediately; the worker
// re-checks their conditions before every dispatch.
func (s Schedule) FirstRun(now time.Time) (time.Time, error) {
	switch s.Type {
	case ScheduleImmediate, ScheduleConditional:
		return now, nil
	case ScheduleDelayed:
		if s.RunAt == nil {
			return time.Time{}, &ValidationError{Field: "schedule.run_at", Reason: "required for delayed schedules"}
		}
		return *s.RunAt, nil
	case ScheduleRecurring:
		return s.NextRun(now)
	}
	return time.Time{}, &ValidationError{Field: "schedule.type", Reason: fmt.Sprintf("unknown type %q", s.Type)}
}

// NextRun computes the next occurrence of a recurring schedule after now.
func (s Schedule) NextRun(now time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(s.Cron)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron spec %q: %w", s.Cron, err)
	}
	return sched.Next(now), nil
}

// Value serializes the schedule for storage in a JSONB column.
func (s Schedule) Value() (json.RawMessage, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schedule: %w", err)
	}
	return b, nil
}

// ScanSchedule deserializes a schedule from its stored JSON form.
func ScanSchedule(raw []byte) (Schedule, error) {
	var s Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		return Schedule{}, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return s, nil
}

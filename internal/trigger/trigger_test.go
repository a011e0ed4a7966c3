package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"crewflow/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nullWriter{}, nil))
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestEvaluateFansOutMultipleRules(t *testing.T) {
	e := NewEvaluator(testLogger())

	alert := Alert{
		ID:       "alert-1",
		AgentID:  "inventory-agent",
		Metric:   "stock_level",
		Value:    2,
		Severity: "high",
		Rules: []ProposalRule{
			{ActionType: "reorder_stock", ActionData: json.RawMessage(`{"product_id":"p1","quantity":50}`)},
			{ActionType: "pause_campaign", ActionData: json.RawMessage(`{"campaign_id":"c1"}`)},
		},
	}

	proposals, err := e.Evaluate(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(proposals))
	}
	if proposals[0].ActionType != "reorder_stock" || proposals[1].ActionType != "pause_campaign" {
		t.Errorf("unexpected proposals: %+v", proposals)
	}
	for _, p := range proposals {
		if p.AgentID != "inventory-agent" {
			t.Errorf("agent id not propagated: %s", p.AgentID)
		}
		if p.Priority != store.PriorityHigh {
			t.Errorf("expected severity-derived priority high, got %s", p.Priority)
		}
		if p.Schedule.Type != store.ScheduleImmediate {
			t.Errorf("expected immediate default schedule, got %s", p.Schedule.Type)
		}
	}
}

func TestEvaluateSkipsUnsatisfiedRules(t *testing.T) {
	e := NewEvaluator(testLogger())

	alert := Alert{
		ID:      "alert-2",
		AgentID: "pricing-agent",
		Metric:  "conversion_rate",
		Value:   0.08,
		Rules: []ProposalRule{
			{
				ActionType: "lower_price",
				ActionData: json.RawMessage(`{"product_id":"p1"}`),
				Conditions: []store.TriggerCondition{
					{Metric: "conversion_rate", Operator: "lt", Value: 0.05},
				},
			},
			{
				ActionType: "raise_price",
				ActionData: json.RawMessage(`{"product_id":"p1"}`),
				Conditions: []store.TriggerCondition{
					{Metric: "conversion_rate", Operator: "gt", Value: 0.05},
				},
			},
		},
	}

	proposals, err := e.Evaluate(context.Background(), alert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(proposals) != 1 {
		t.Fatalf("expected 1 proposal, got %d", len(proposals))
	}
	if proposals[0].ActionType != "raise_price" {
		t.Errorf("wrong rule selected: %s", proposals[0].ActionType)
	}
}

func TestEvaluateMissingAgent(t *testing.T) {
	e := NewEvaluator(testLogger())
	_, err := e.Evaluate(context.Background(), Alert{Rules: []ProposalRule{{ActionType: "x"}}})
	if !store.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestEvaluateMissingActionType(t *testing.T) {
	e := NewEvaluator(testLogger())
	_, err := e.Evaluate(context.Background(), Alert{
		AgentID: "a", Rules: []ProposalRule{{}},
	})
	if !store.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestEvaluateNoRules(t *testing.T) {
	e := NewEvaluator(testLogger())
	proposals, err := e.Evaluate(context.Background(), Alert{AgentID: "a"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proposals != nil {
		t.Errorf("expected no proposals, got %+v", proposals)
	}
}

func TestSatisfiedAllHold(t *testing.T) {
	source := MetricMap{"stock": 3, "sales_rate": 12}
	ok, err := Satisfied(context.Background(), source, []store.TriggerCondition{
		{Metric: "stock", Operator: "lt", Value: 5},
		{Metric: "sales_rate", Operator: "gte", Value: 10},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected conditions satisfied")
	}
}

func TestSatisfiedUnknownMetricFailsClosed(t *testing.T) {
	ok, err := Satisfied(context.Background(), MetricMap{}, []store.TriggerCondition{
		{Metric: "stock", Operator: "lt", Value: 5},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("unknown metric must not satisfy a condition")
	}
}

type erroringSource struct{}

func (erroringSource) Observe(context.Context, string) (float64, bool, error) {
	return 0, false, errors.New("source down")
}

func TestSatisfiedSourceError(t *testing.T) {
	_, err := Satisfied(context.Background(), erroringSource{}, []store.TriggerCondition{
		{Metric: "stock", Operator: "lt", Value: 5},
	})
	if err == nil {
		t.Error("expected error from failing source")
	}
}

func TestSatisfiedEmptyConditions(t *testing.T) {
	ok, err := Satisfied(context.Background(), MetricMap{}, nil)
	if err != nil || !ok {
		t.Errorf("empty conditions must be satisfied, got ok=%v err=%v", ok, err)
	}
}

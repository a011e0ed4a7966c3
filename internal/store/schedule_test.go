package store

import (
	"errors"
	"testing"
	"time"
)

func TestScheduleValidate(t *testing.T) {
	runAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		sched   Schedule
		wantErr bool
	}{
		{"immediate", Schedule{Type: ScheduleImmediate}, false},
		{"delayed with run_at", Schedule{Type: ScheduleDelayed, RunAt: &runAt}, false},
		{"delayed missing run_at", Schedule{Type: ScheduleDelayed}, true},
		{"recurring five-field", Schedule{Type: ScheduleRecurring, Cron: "0 3 * * *"}, false},
		{"recurring descriptor", Schedule{Type: ScheduleRecurring, Cron: "@hourly"}, false},
		{"recurring every", Schedule{Type: ScheduleRecurring, Cron: "@every 30m"}, false},
		{"recurring empty spec", Schedule{Type: ScheduleRecurring}, true},
		{"recurring garbage spec", Schedule{Type: ScheduleRecurring, Cron: "not a cron"}, true},
		{
			"conditional valid",
			Schedule{Type: ScheduleConditional, Conditions: []TriggerCondition{
				{Metric: "inventory_level", Operator: "lt", Value: 10},
			}},
			false,
		},
		{"conditional no conditions", Schedule{Type: ScheduleConditional}, true},
		{
			"conditional missing metric",
			Schedule{Type: ScheduleConditional, Conditions: []TriggerCondition{
				{Operator: "lt", Value: 10},
			}},
			true,
		},
		{
			"conditional bad operator",
			Schedule{Type: ScheduleConditional, Conditions: []TriggerCondition{
				{Metric: "inventory_level", Operator: "between", Value: 10},
			}},
			true,
		},
		{"unknown type", Schedule{Type: "hourly"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.sched.Validate()
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr {
				var verr *ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected *ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestScheduleFirstRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	runAt := now.Add(2 * time.Hour)

	t.Run("immediate runs now", func(t *testing.T) {
		got, err := Schedule{Type: ScheduleImmediate}.FirstRun(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(now) {
			t.Errorf("expected %v, got %v", now, got)
		}
	})

	t.Run("conditional is nominally eligible now", func(t *testing.T) {
		s := Schedule{Type: ScheduleConditional, Conditions: []TriggerCondition{
			{Metric: "inventory_level", Operator: "lt", Value: 10},
		}}
		got, err := s.FirstRun(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(now) {
			t.Errorf("expected %v, got %v", now, got)
		}
	})

	t.Run("delayed runs at run_at", func(t *testing.T) {
		got, err := Schedule{Type: ScheduleDelayed, RunAt: &runAt}.FirstRun(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(runAt) {
			t.Errorf("expected %v, got %v", runAt, got)
		}
	})

	t.Run("recurring picks next cron occurrence", func(t *testing.T) {
		got, err := Schedule{Type: ScheduleRecurring, Cron: "0 3 * * *"}.FirstRun(now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})
}

func TestScheduleNextRun(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	s := Schedule{Type: ScheduleRecurring, Cron: "*/15 * * * *"}
	got, err := s.NextRun(now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 3, 1, 10, 45, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if _, err := (Schedule{Type: ScheduleRecurring, Cron: "bogus"}).NextRun(now); err == nil {
		t.Error("expected error for unparseable spec")
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	runAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := Schedule{Type: ScheduleDelayed, RunAt: &runAt}

	raw, err := s.Value()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	back, err := ScanSchedule(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if back.Type != ScheduleDelayed {
		t.Errorf("expected delayed, got %s", back.Type)
	}
	if back.RunAt == nil || !back.RunAt.Equal(runAt) {
		t.Errorf("expected run_at %v preserved, got %v", runAt, back.RunAt)
	}

	if _, err := ScanSchedule([]byte("{broken")); err == nil {
		t.Error("expected error for malformed stored schedule")
	}
}

func TestTriggerConditionHolds(t *testing.T) {
	tests := []struct {
		op       string
		observed float64
		value    float64
		want     bool
	}{
		{"gt", 11, 10, true},
		{"gt", 10, 10, false},
		{"gte", 10, 10, true},
		{"lt", 9, 10, true},
		{"lt", 10, 10, false},
		{"lte", 10, 10, true},
		{"eq", 10, 10, true},
		{"eq", 9.5, 10, false},
		{"between", 10, 10, false},
	}
	for _, tt := range tests {
		c := TriggerCondition{Metric: "m", Operator: tt.op, Value: tt.value}
		if got := c.Holds(tt.observed); got != tt.want {
			t.Errorf("%s(%v, %v) = %v, want %v", tt.op, tt.observed, tt.value, got, tt.want)
		}
	}
}

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"crewflow/internal/capability"
	"crewflow/internal/executor"
	"crewflow/internal/store"
	"crewflow/internal/trigger"

	"github.com/google/uuid"
)

// mockStore implements the worker's Store surface with overridable
// functions and call tracking.
type mockStore struct {
	mu sync.Mutex

	claimFunc         func(now time.Time, limit int) ([]store.ActionRecord, error)
	cancellationFunc  func(id uuid.UUID) (bool, error)
	completeFunc      func(id uuid.UUID) error
	failRetryableFunc func(id uuid.UUID, errMsg string, retryAt time.Time) (store.ActionStatus, error)

	completed      []uuid.UUID
	completedWith  []json.RawMessage
	failedTerminal []uuid.UUID
	failedRetry    []uuid.UUID
	retryAts       []time.Time
	finalized      []uuid.UUID
	deferred       []uuid.UUID
	deferredUntil  []time.Time
	chained        []*store.ActionRecord
}

func (m *mockStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]store.ActionRecord, error) {
	if m.claimFunc != nil {
		return m.claimFunc(now, limit)
	}
	return nil, nil
}

func (m *mockStore) CompleteAction(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeFunc != nil {
		if err := m.completeFunc(id); err != nil {
			return err
		}
	}
	m.completed = append(m.completed, id)
	m.completedWith = append(m.completedWith, result)
	return nil
}

func (m *mockStore) FailActionRetryable(ctx context.Context, id uuid.UUID, errMsg string, retryAt, now time.Time) (store.ActionStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedRetry = append(m.failedRetry, id)
	m.retryAts = append(m.retryAts, retryAt)
	if m.failRetryableFunc != nil {
		return m.failRetryableFunc(id, errMsg, retryAt)
	}
	return store.ActionStatusScheduled, nil
}

func (m *mockStore) FailActionTerminal(ctx context.Context, id uuid.UUID, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failedTerminal = append(m.failedTerminal, id)
	return nil
}

func (m *mockStore) FinalizeCancel(ctx context.Context, id uuid.UUID, actor string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = append(m.finalized, id)
	return nil
}

func (m *mockStore) CancellationRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	if m.cancellationFunc != nil {
		return m.cancellationFunc(id)
	}
	return false, nil
}

func (m *mockStore) DeferAction(ctx context.Context, id uuid.UUID, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deferred = append(m.deferred, id)
	m.deferredUntil = append(m.deferredUntil, until)
	return nil
}

func (m *mockStore) ChainNext(ctx context.Context, next *store.ActionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chained = append(m.chained, next)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nullWriter{}, nil))
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestAgent(m *mockStore, reg *capability.StaticRegistry, metrics trigger.MetricSource, opts ...Option) *Agent {
	if reg == nil {
		reg = capability.NewStaticRegistry()
	}
	if metrics == nil {
		metrics = trigger.MetricMap{}
	}
	exec := executor.New(reg, time.Minute)
	return New(m, exec, metrics, AgentConfig{ID: "worker-1"}, testLogger(), opts...)
}

func immediateRecord() *store.ActionRecord {
	return &store.ActionRecord{
		ID:         uuid.New(),
		UserID:     uuid.New(),
		AgentID:    "inventory-agent",
		ActionType: "reorder_stock",
		ActionData: json.RawMessage(`{"product_id":"p1","quantity":5}`),
		Schedule:   store.Schedule{Type: store.ScheduleImmediate},
		Priority:   store.PriorityMedium,
		Status:     store.ActionStatusExecuting,
		MaxRetries: 3,
	}
}

func TestProcessCompletesSuccessfulAction(t *testing.T) {
	m := &mockStore{}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"ordered":5}`), nil
		}))

	a := newTestAgent(m, reg, nil)
	rec := immediateRecord()
	a.Process(context.Background(), rec)

	if len(m.completed) != 1 || m.completed[0] != rec.ID {
		t.Fatalf("expected completion for %s, got %v", rec.ID, m.completed)
	}
	if string(m.completedWith[0]) != `{"ordered":5}` {
		t.Errorf("result not recorded: %s", m.completedWith[0])
	}
	if len(m.failedRetry) != 0 || len(m.failedTerminal) != 0 {
		t.Error("successful action must not fail")
	}
}

func TestProcessCancellationCheckpointBeforeExecution(t *testing.T) {
	m := &mockStore{
		cancellationFunc: func(uuid.UUID) (bool, error) { return true, nil },
	}
	executed := false
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			executed = true
			return nil, nil
		}))

	a := newTestAgent(m, reg, nil)
	a.Process(context.Background(), immediateRecord())

	if executed {
		t.Error("cancelled action must not execute")
	}
	if len(m.finalized) != 1 {
		t.Errorf("expected cancel finalization, got %v", m.finalized)
	}
	if len(m.completed) != 0 {
		t.Error("cancelled action must not complete")
	}
}

func TestProcessRetryableFailureSchedulesBackoff(t *testing.T) {
	m := &mockStore{}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return nil, executor.NewRetryable(executor.KindNetwork, errors.New("connection reset"))
		}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAgent(m, reg, nil, WithClock(func() time.Time { return now }))

	rec := immediateRecord()
	rec.RetryCount = 1
	a.Process(context.Background(), rec)

	if len(m.failedRetry) != 1 {
		t.Fatalf("expected retryable failure, got retry=%v terminal=%v", m.failedRetry, m.failedTerminal)
	}
	// Second retry: 30s * 2^1 = 1m after now.
	want := now.Add(time.Minute)
	if !m.retryAts[0].Equal(want) {
		t.Errorf("expected retry at %s, got %s", want, m.retryAts[0])
	}
}

func TestProcessTerminalFailureBypassesRetry(t *testing.T) {
	m := &mockStore{}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return nil, executor.NewTerminal(executor.KindValidation, errors.New("negative quantity"))
		}))

	a := newTestAgent(m, reg, nil)
	rec := immediateRecord()
	a.Process(context.Background(), rec)

	if len(m.failedTerminal) != 1 {
		t.Fatalf("expected terminal failure, got %v", m.failedTerminal)
	}
	if len(m.failedRetry) != 0 {
		t.Error("terminal failure must not enter the retry path")
	}
}

func TestProcessMissingCapabilityIsTerminal(t *testing.T) {
	m := &mockStore{}
	a := newTestAgent(m, nil, nil)
	a.Process(context.Background(), immediateRecord())

	if len(m.failedTerminal) != 1 {
		t.Errorf("unbound capability must fail terminally, got %v retry=%v", m.failedTerminal, m.failedRetry)
	}
}

func TestProcessUnclassifiedErrorIsRetryable(t *testing.T) {
	m := &mockStore{}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("something odd")
		}))

	a := newTestAgent(m, reg, nil)
	a.Process(context.Background(), immediateRecord())

	if len(m.failedRetry) != 1 || len(m.failedTerminal) != 0 {
		t.Errorf("unclassified errors must be retryable, retry=%v terminal=%v", m.failedRetry, m.failedTerminal)
	}
}

func TestProcessConditionalUnsatisfiedDefers(t *testing.T) {
	m := &mockStore{}
	executed := false
	reg := capability.NewStaticRegistry()
	reg.Register("pricing-agent", "lower_price", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			executed = true
			return nil, nil
		}))

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	metrics := trigger.MetricMap{"conversion_rate": 0.2}
	a := newTestAgent(m, reg, metrics, WithClock(func() time.Time { return now }))

	rec := immediateRecord()
	rec.AgentID = "pricing-agent"
	rec.ActionType = "lower_price"
	rec.Schedule = store.Schedule{
		Type: store.ScheduleConditional,
		Conditions: []store.TriggerCondition{
			{Metric: "conversion_rate", Operator: "lt", Value: 0.1},
		},
	}
	a.Process(context.Background(), rec)

	if executed {
		t.Error("unsatisfied conditional action must not execute")
	}
	if len(m.deferred) != 1 {
		t.Fatalf("expected deferral, got %v", m.deferred)
	}
	want := now.Add(time.Minute)
	if !m.deferredUntil[0].Equal(want) {
		t.Errorf("expected re-check at %s, got %s", want, m.deferredUntil[0])
	}
}

func TestProcessConditionalSatisfiedExecutes(t *testing.T) {
	m := &mockStore{}
	reg := capability.NewStaticRegistry()
	reg.Register("pricing-agent", "lower_price", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}))

	metrics := trigger.MetricMap{"conversion_rate": 0.02}
	a := newTestAgent(m, reg, metrics)

	rec := immediateRecord()
	rec.AgentID = "pricing-agent"
	rec.ActionType = "lower_price"
	rec.Schedule = store.Schedule{
		Type: store.ScheduleConditional,
		Conditions: []store.TriggerCondition{
			{Metric: "conversion_rate", Operator: "lt", Value: 0.1},
		},
	}
	a.Process(context.Background(), rec)

	if len(m.completed) != 1 {
		t.Errorf("satisfied conditional action must execute, completed=%v deferred=%v", m.completed, m.deferred)
	}
}

func TestProcessRecurringChainsNextOccurrence(t *testing.T) {
	m := &mockStore{}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}))

	now := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	a := newTestAgent(m, reg, nil, WithClock(func() time.Time { return now }))

	rec := immediateRecord()
	rec.Schedule = store.Schedule{Type: store.ScheduleRecurring, Cron: "0 * * * *"}
	rec.ApprovalRequired = true
	rec.ApprovalStatus = store.ApprovalStatusApproved
	a.Process(context.Background(), rec)

	if len(m.chained) != 1 {
		t.Fatalf("expected chained occurrence, got %d", len(m.chained))
	}
	next := m.chained[0]
	if next.ChainedFrom == nil || *next.ChainedFrom != rec.ID {
		t.Errorf("chain link missing: %v", next.ChainedFrom)
	}
	want := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	if next.ScheduledFor == nil || !next.ScheduledFor.Equal(want) {
		t.Errorf("expected next occurrence at %s, got %v", want, next.ScheduledFor)
	}
	if next.Status != store.ActionStatusPending || next.RetryCount != 0 {
		t.Errorf("next occurrence must start fresh: %+v", next)
	}
	// Approval outcome carries over; the chain is not re-gated.
	if !next.ApprovalRequired || next.ApprovalStatus != store.ApprovalStatusApproved {
		t.Errorf("approval outcome not inherited: required=%v status=%s",
			next.ApprovalRequired, next.ApprovalStatus)
	}
}

func TestProcessRecurringChainsAfterExhaustedRetries(t *testing.T) {
	m := &mockStore{
		failRetryableFunc: func(uuid.UUID, string, time.Time) (store.ActionStatus, error) {
			return store.ActionStatusFailed, nil
		},
	}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return nil, executor.NewRetryable(executor.KindNetwork, errors.New("down"))
		}))

	a := newTestAgent(m, reg, nil)
	rec := immediateRecord()
	rec.Schedule = store.Schedule{Type: store.ScheduleRecurring, Cron: "@hourly"}
	rec.RetryCount = 3
	a.Process(context.Background(), rec)

	if len(m.chained) != 1 {
		t.Error("a failed occurrence must not break the recurring chain")
	}
}

func TestProcessRecurringDoesNotChainOnRetry(t *testing.T) {
	m := &mockStore{}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return nil, executor.NewRetryable(executor.KindNetwork, errors.New("down"))
		}))

	a := newTestAgent(m, reg, nil)
	rec := immediateRecord()
	rec.Schedule = store.Schedule{Type: store.ScheduleRecurring, Cron: "@hourly"}
	a.Process(context.Background(), rec)

	if len(m.chained) != 0 {
		t.Error("an occurrence pending retry must not chain yet")
	}
}

func TestProcessRecurringCancelBreaksChain(t *testing.T) {
	m := &mockStore{
		cancellationFunc: func(uuid.UUID) (bool, error) { return true, nil },
	}
	a := newTestAgent(m, nil, nil)

	rec := immediateRecord()
	rec.Schedule = store.Schedule{Type: store.ScheduleRecurring, Cron: "@hourly"}
	a.Process(context.Background(), rec)

	if len(m.chained) != 0 {
		t.Error("cancellation must break the recurring chain")
	}
}

func TestProcessLostClaimDoesNotChain(t *testing.T) {
	m := &mockStore{
		completeFunc: func(uuid.UUID) error { return store.ErrInvalidState },
	}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}))

	a := newTestAgent(m, reg, nil)
	rec := immediateRecord()
	rec.Schedule = store.Schedule{Type: store.ScheduleRecurring, Cron: "@hourly"}
	a.Process(context.Background(), rec)

	if len(m.chained) != 0 {
		t.Error("a lost claim must not chain; the winning transition owns the record")
	}
}

func TestRunContendedClaimHasOneWinner(t *testing.T) {
	// Two agents pull from a store that hands a due record to exactly one
	// claimant, the way SKIP LOCKED does: the loser's claim comes back
	// empty and the record executes once.
	rec := *immediateRecord()

	var claimed int32
	m := &mockStore{}
	m.claimFunc = func(now time.Time, limit int) ([]store.ActionRecord, error) {
		if atomic.CompareAndSwapInt32(&claimed, 0, 1) {
			return []store.ActionRecord{rec}, nil
		}
		return nil, nil
	}

	var executions int32
	executed := make(chan struct{})
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			atomic.AddInt32(&executions, 1)
			close(executed)
			return json.RawMessage(`{}`), nil
		}))

	a1 := newTestAgent(m, reg, nil)
	a2 := newTestAgent(m, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go a1.Run(ctx)
	go a2.Run(ctx)

	select {
	case <-executed:
	case <-time.After(5 * time.Second):
		t.Fatal("contended record was never executed")
	}

	cancel()
	for _, a := range []*Agent{a1, a2} {
		select {
		case <-a.Done():
		case <-time.After(5 * time.Second):
			t.Fatal("agent did not drain after cancellation")
		}
	}

	if n := atomic.LoadInt32(&executions); n != 1 {
		t.Errorf("expected exactly one execution, got %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.completed) != 1 {
		t.Errorf("expected exactly one completion, got %d", len(m.completed))
	}
}

func TestProcessConcurrentCompletionLoserIsNoOp(t *testing.T) {
	// The same claim observed by two workers (a watchdog reclaim race):
	// the store's conditional update lets exactly one completion land and
	// rejects the other, so the loser records nothing further and the
	// recurring chain is extended once.
	var wins int32
	m := &mockStore{
		completeFunc: func(uuid.UUID) error {
			if atomic.AddInt32(&wins, 1) > 1 {
				return store.ErrInvalidState
			}
			return nil
		},
	}
	reg := capability.NewStaticRegistry()
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		}))

	a := newTestAgent(m, reg, nil)
	template := immediateRecord()
	template.Schedule = store.Schedule{Type: store.ScheduleRecurring, Cron: "@hourly"}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		rec := *template
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Process(context.Background(), &rec)
		}()
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.completed) != 1 {
		t.Errorf("expected the winning completion only, got %d", len(m.completed))
	}
	if len(m.chained) != 1 {
		t.Errorf("expected one chained occurrence, got %d", len(m.chained))
	}
	if len(m.failedRetry) != 0 || len(m.failedTerminal) != 0 {
		t.Error("the losing worker must not record a failure")
	}
}

func TestRunClaimsAndDrains(t *testing.T) {
	var claims int
	rec := *immediateRecord()

	m := &mockStore{}
	m.claimFunc = func(now time.Time, limit int) ([]store.ActionRecord, error) {
		claims++
		if claims == 1 {
			return []store.ActionRecord{rec}, nil
		}
		return nil, nil
	}

	reg := capability.NewStaticRegistry()
	done := make(chan struct{})
	reg.Register("inventory-agent", "reorder_stock", capability.Func(
		func(ctx context.Context, data json.RawMessage) (json.RawMessage, error) {
			close(done)
			return json.RawMessage(`{}`), nil
		}))

	a := newTestAgent(m, reg, nil)
	ctx, cancel := context.WithCancel(context.Background())

	go a.Run(ctx)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("claimed action was not executed")
	}

	cancel()
	select {
	case <-a.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not drain after cancellation")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.completed) != 1 {
		t.Errorf("expected 1 completion, got %d", len(m.completed))
	}
}

// Package worker contains the pull-loop that claims due actions and
// drives them through execution.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"crewflow/internal/executor"
	"crewflow/internal/store"
	"crewflow/internal/trigger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Store is the persistence surface the worker needs. All transitions are
// conditional on the record still being in executing, so a lost claim
// (watchdog reclaim, cancellation) surfaces as ErrInvalidState.
type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]store.ActionRecord, error)
	CompleteAction(ctx context.Context, id uuid.UUID, result json.RawMessage, now time.Time) error
	FailActionRetryable(ctx context.Context, id uuid.UUID, errMsg string, retryAt, now time.Time) (store.ActionStatus, error)
	FailActionTerminal(ctx context.Context, id uuid.UUID, errMsg string, now time.Time) error
	FinalizeCancel(ctx context.Context, id uuid.UUID, actor string, now time.Time) error
	CancellationRequested(ctx context.Context, id uuid.UUID) (bool, error)
	DeferAction(ctx context.Context, id uuid.UUID, until time.Time) error
	ChainNext(ctx context.Context, next *store.ActionRecord) error
}

// AgentConfig holds configuration for the worker agent.
type AgentConfig struct {
	ID              string
	Concurrency     int
	PollInterval    time.Duration // minimum poll interval (default: 1s)
	MaxBackoff      time.Duration // maximum backoff when the queue is empty (default: 30s)
	RecheckInterval time.Duration // re-check delay for unsatisfied conditional actions (default: 1m)
}

// Agent runs the claim/execute pull-loop.
type Agent struct {
	store   Store
	exec    *executor.Executor
	backoff executor.BackoffPolicy
	metrics trigger.MetricSource
	config  AgentConfig
	clock   func() time.Time
	logger  *slog.Logger
	done    chan struct{}

	processed metric.Int64Counter
}

// Option configures an Agent.
type Option func(*Agent)

// WithClock injects a clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(a *Agent) { a.clock = clock }
}

// WithBackoff overrides the retry backoff policy.
func WithBackoff(p executor.BackoffPolicy) Option {
	return func(a *Agent) { a.backoff = p }
}

// New creates a worker agent. metrics supplies live observations for
// conditional actions' claim-time re-checks.
func New(st Store, exec *executor.Executor, metrics trigger.MetricSource, config AgentConfig, logger *slog.Logger, opts ...Option) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.RecheckInterval <= 0 {
		config.RecheckInterval = 1 * time.Minute
	}

	a := &Agent{
		store:   st,
		exec:    exec,
		backoff: executor.DefaultBackoff(),
		metrics: metrics,
		config:  config,
		clock:   func() time.Time { return time.Now().UTC() },
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}

	meter := otel.Meter("crewflow-worker")
	a.processed, _ = meter.Int64Counter("crewflow_actions_processed_total",
		metric.WithDescription("Actions processed by outcome"))

	return a
}

// Run starts the pull-loop. It blocks until the context is cancelled; on
// shutdown it stops claiming and lets in-flight executions finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("worker agent starting",
		"agent", a.config.ID, "concurrency", a.config.Concurrency)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// Adaptive polling: a freed slot triggers an immediate re-poll, an
	// empty queue backs the timer off exponentially.
	pollNow := make(chan struct{}, 1)
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}
	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("worker agent draining in-flight executions")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			records, err := a.store.ClaimDue(ctx, a.clock(), availableSlots)
			if err != nil {
				a.logger.Error("claim failed", "error", err)
				continue
			}

			if len(records) == 0 {
				currentBackoff = currentBackoff * 2
				if currentBackoff > a.config.MaxBackoff {
					currentBackoff = a.config.MaxBackoff
				}
				continue
			}
			currentBackoff = a.config.PollInterval

			a.logger.Debug("claimed actions", "count", len(records))

			for _, rec := range records {
				sem <- struct{}{}
				wg.Add(1)
				go func(rec store.ActionRecord) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.Process(ctx, &rec)
				}(rec)
			}

			if len(records) < availableSlots {
				triggerPoll()
			}
		}
	}
}

// Done returns a channel closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Process drives one claimed record through its checkpoints and
// execution. Completion and failure are recorded on a background context
// so a shutdown mid-flight never loses the outcome of a side effect that
// already happened.
func (a *Agent) Process(ctx context.Context, rec *store.ActionRecord) {
	tracer := otel.Tracer("crewflow-worker")
	spanCtx, span := tracer.Start(ctx, "process_action",
		trace.WithAttributes(
			attribute.String("action.id", rec.ID.String()),
			attribute.String("action.type", rec.ActionType),
			attribute.String("agent.id", rec.AgentID),
			attribute.String("user.id", rec.UserID.String()),
			attribute.String("priority", string(rec.Priority)),
			attribute.Int("retry_count", rec.RetryCount),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log := a.logger.With("action_id", rec.ID, "action_type", rec.ActionType)

	// Cancellation checkpoint before any side effect.
	if cancelled, err := a.checkpointCancel(spanCtx, rec.ID); err != nil {
		log.Error("cancellation checkpoint failed", "error", err)
	} else if cancelled {
		log.Info("cancellation observed before execution")
		a.count(spanCtx, "cancelled")
		return
	}

	// Conditional actions re-check their trigger conditions at claim
	// time; a stale claim whose conditions no longer hold is deferred,
	// not executed.
	if rec.Schedule.Type == store.ScheduleConditional {
		ok, err := trigger.Satisfied(spanCtx, a.metrics, rec.Schedule.Conditions)
		if err != nil {
			log.Warn("condition re-check failed, deferring", "error", err)
			ok = false
		}
		if !ok {
			until := a.clock().Add(a.config.RecheckInterval)
			if err := a.store.DeferAction(context.Background(), rec.ID, until); err != nil {
				log.Error("defer failed", "error", err)
			}
			a.count(spanCtx, "deferred")
			return
		}
	}

	result, execErr := a.exec.Execute(spanCtx, rec)

	now := a.clock()
	if execErr == nil {
		if err := a.store.CompleteAction(context.Background(), rec.ID, result, now); err != nil {
			// Lost the claim while executing (watchdog or cancel); the
			// winner's transition stands.
			log.Warn("completion not recorded", "error", err)
			return
		}
		log.Info("action completed")
		a.count(spanCtx, "completed")
		a.chainIfRecurring(spanCtx, rec, now)
		return
	}

	span.RecordError(execErr)

	if !executor.Retryable(execErr) {
		if err := a.store.FailActionTerminal(context.Background(), rec.ID, execErr.Error(), now); err != nil {
			log.Warn("terminal failure not recorded", "error", err)
			return
		}
		log.Error("action failed terminally", "error", execErr)
		a.count(spanCtx, "failed")
		a.chainIfRecurring(spanCtx, rec, now)
		return
	}

	retryAt := now.Add(a.backoff.NextDelay(rec.RetryCount))
	status, err := a.store.FailActionRetryable(context.Background(), rec.ID, execErr.Error(), retryAt, now)
	if err != nil {
		log.Warn("retryable failure not recorded", "error", err)
		return
	}

	if status == store.ActionStatusFailed {
		log.Error("action failed after exhausting retries", "error", execErr, "retries", rec.MaxRetries)
		a.count(spanCtx, "failed")
		a.chainIfRecurring(spanCtx, rec, now)
		return
	}
	log.Warn("action failed, retry scheduled", "error", execErr, "retry_at", retryAt)
	a.count(spanCtx, "retried")
}

// checkpointCancel finalizes an advisory cancellation if one is pending.
func (a *Agent) checkpointCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	requested, err := a.store.CancellationRequested(ctx, id)
	if err != nil || !requested {
		return false, err
	}
	if err := a.store.FinalizeCancel(context.Background(), id, a.config.ID, a.clock()); err != nil {
		return false, fmt.Errorf("finalize cancel: %w", err)
	}
	return true, nil
}

// chainIfRecurring inserts the next occurrence of a recurring action once
// the current one reaches a terminal outcome. Cancellation breaks the
// chain; completion and failure do not. The new record inherits the
// predecessor's approval outcome, so an approved recurring action is not
// re-gated every occurrence.
func (a *Agent) chainIfRecurring(ctx context.Context, rec *store.ActionRecord, now time.Time) {
	if rec.Schedule.Type != store.ScheduleRecurring {
		return
	}

	nextRun, err := rec.Schedule.NextRun(now)
	if err != nil {
		a.logger.Error("next occurrence computation failed", "action_id", rec.ID, "error", err)
		return
	}

	next := &store.ActionRecord{
		ID:               uuid.New(),
		UserID:           rec.UserID,
		AgentID:          rec.AgentID,
		ActionType:       rec.ActionType,
		ActionData:       rec.ActionData,
		Schedule:         rec.Schedule,
		Priority:         rec.Priority,
		ApprovalRequired: rec.ApprovalRequired,
		ApprovalStatus:   rec.ApprovalStatus,
		Dependencies:     nil,
		Tags:             rec.Tags,
		Status:           store.ActionStatusPending,
		MaxRetries:       rec.MaxRetries,
		ChainedFrom:      &rec.ID,
		CreatedAt:        now,
		ScheduledFor:     &nextRun,
	}
	next.ResourceKey = store.ComputeResourceKey(next.AgentID, next.ActionType, next.ActionData, next.ID)

	if err := a.store.ChainNext(context.Background(), next); err != nil {
		a.logger.Error("chaining next occurrence failed", "action_id", rec.ID, "error", err)
		return
	}
	a.logger.Info("chained next occurrence",
		"action_id", rec.ID, "next_id", next.ID, "scheduled_for", nextRun)
}

func (a *Agent) count(ctx context.Context, outcome string) {
	if a.processed != nil {
		a.processed.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

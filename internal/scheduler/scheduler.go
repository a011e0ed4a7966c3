// Package scheduler runs the periodic sweeps that advance records
// nobody is actively touching: promotion of eligible pending records,
// cascade cancellation, approval expiry, and the stuck-execution
// watchdog.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Store is the sweep surface of the action store.
type Store interface {
	PromoteEligible(ctx context.Context, now time.Time) (int, error)
	CascadeCancelDependents(ctx context.Context, actor string, now time.Time) (int, error)
	ReclaimStuck(ctx context.Context, cutoff, now time.Time) (int, error)
}

// Expirer is the approval gate's expiry sweep.
type Expirer interface {
	ExpireSweep(ctx context.Context, now time.Time) (int, error)
}

// Default watchdog policy. Executions older than the timeout plus grace
// are reclaimed back to the retry path.
const (
	DefaultExecutionTimeout = 5 * time.Minute
	DefaultReclaimGrace     = time.Minute
)

// Config holds sweep intervals and the watchdog reclaim policy.
type Config struct {
	SweepInterval    time.Duration // default: 5s
	ExecutionTimeout time.Duration // default: 5m, how long a claim may execute
	ReclaimGrace     time.Duration // default: 1m, slack past the timeout before the watchdog reclaims
}

// Scheduler owns the sweep loop.
type Scheduler struct {
	store   Store
	expirer Expirer
	config  Config
	clock   func() time.Time
	logger  *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock injects a clock for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// New creates a scheduler.
func New(st Store, expirer Expirer, config Config, logger *slog.Logger, opts ...Option) *Scheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = 5 * time.Second
	}
	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = DefaultExecutionTimeout
	}
	if config.ReclaimGrace <= 0 {
		config.ReclaimGrace = DefaultReclaimGrace
	}
	s := &Scheduler{
		store:   st,
		expirer: expirer,
		config:  config,
		clock:   func() time.Time { return time.Now().UTC() },
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the sweep loop until Stop is called or the context is
// cancelled. It returns immediately; sweeps run on a background
// goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()

		// First sweep runs immediately so a restart doesn't wait a full
		// interval to promote backlogged records.
		s.Sweep(ctx)

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for any in-progress sweep to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Sweep runs one pass of every periodic maintenance task. Each task is
// independent; a failing one is logged and the rest still run.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.clock()

	if n, err := s.expirer.ExpireSweep(ctx, now); err != nil {
		s.logger.Error("approval expiry sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("expired stale approvals", "count", n)
	}

	if n, err := s.store.CascadeCancelDependents(ctx, "scheduler", now); err != nil {
		s.logger.Error("cascade cancel sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("cascade-cancelled dependent actions", "count", n)
	}

	if n, err := s.store.PromoteEligible(ctx, now); err != nil {
		s.logger.Error("promotion sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Info("promoted eligible actions", "count", n)
	}

	cutoff := now.Add(-(s.config.ExecutionTimeout + s.config.ReclaimGrace))
	if n, err := s.store.ReclaimStuck(ctx, cutoff, now); err != nil {
		s.logger.Error("watchdog sweep failed", "error", err)
	} else if n > 0 {
		s.logger.Warn("reclaimed stuck executions", "count", n)
	}
}

// Package executor dispatches claimed actions to capability
// implementations and classifies their failures.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"crewflow/internal/capability"
	"crewflow/internal/store"
)

// DefaultCallTimeout bounds a single capability invocation.
const DefaultCallTimeout = 2 * time.Minute

// Executor resolves and invokes the capability for a claimed action.
// It never hardcodes vendor-specific logic; all side effects go through
// the injected registry.
type Executor struct {
	registry capability.Registry
	timeout  time.Duration
}

// New creates an executor over the given capability registry.
func New(registry capability.Registry, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Executor{registry: registry, timeout: timeout}
}

// Execute runs the capability for rec under the per-call timeout.
//
// A missing capability is a terminal validation failure: retrying cannot
// make the binding appear. A deadline overrun is retryable; the watchdog
// and retry path together guarantee the record never sticks in executing.
func (e *Executor) Execute(ctx context.Context, rec *store.ActionRecord) (json.RawMessage, error) {
	impl, ok := e.registry.Lookup(rec.AgentID, rec.ActionType)
	if !ok {
		return nil, NewTerminal(KindValidation,
			fmt.Errorf("no capability registered for agent %q action %q", rec.AgentID, rec.ActionType))
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := impl.Execute(callCtx, rec.ActionData)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return nil, NewRetryable(KindTimeout,
				fmt.Errorf("capability call exceeded %v: %w", e.timeout, err))
		}
		return nil, err
	}
	return result, nil
}

// BackoffPolicy computes retry delays: baseDelay * multiplier^retryCount,
// capped at maxDelay. Delays are monotonically non-decreasing in
// retryCount.
type BackoffPolicy struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// DefaultBackoff retries at 30s, 1m, 2m, ... capped at 15 minutes.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  30 * time.Second,
		Multiplier: 2,
		MaxDelay:   15 * time.Minute,
	}
}

// NextDelay returns the delay before the attempt following retryCount
// consecutive failures.
func (p BackoffPolicy) NextDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(retryCount)))
	if delay > p.MaxDelay || delay <= 0 {
		return p.MaxDelay
	}
	return delay
}

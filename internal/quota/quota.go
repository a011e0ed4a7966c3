// Package quota enforces per-tier ceilings on active autonomous actions.
package quota

import (
	"context"
	"fmt"

	"crewflow/internal/store"

	"github.com/google/uuid"
)

// Unlimited disables the ceiling for a tier.
const Unlimited = -1

// tierLimits maps subscription tiers to their maximum number of active
// (non-terminal) actions.
var tierLimits = map[string]int64{
	"free":       10,
	"pro":        50,
	"enterprise": Unlimited,
}

// Limit returns the active-action ceiling for a tier. Unknown tiers get
// the free ceiling.
func Limit(tier string) int64 {
	if limit, ok := tierLimits[tier]; ok {
		return limit
	}
	return tierLimits["free"]
}

// Counter counts a user's active actions. The tx must hold the user's
// quota advisory lock so concurrent proposals serialize on the check.
type Counter interface {
	CountActive(ctx context.Context, tx store.DBTransaction, userID uuid.UUID) (int64, error)
}

// Service checks proposals against tier quotas.
type Service struct {
	counter Counter
}

// New returns a quota service over the given counter.
func New(counter Counter) *Service {
	return &Service{counter: counter}
}

// Check fails with ErrQuotaExceeded when admitting one more action would
// push the user over their tier ceiling. Terminal records never count.
func (s *Service) Check(ctx context.Context, tx store.DBTransaction, user *store.User) error {
	limit := Limit(user.Tier)
	if limit == Unlimited {
		return nil
	}

	active, err := s.counter.CountActive(ctx, tx, user.ID)
	if err != nil {
		return fmt.Errorf("count active actions: %w", err)
	}
	if active >= limit {
		return fmt.Errorf("tier %s allows %d active actions, have %d: %w",
			user.Tier, limit, active, store.ErrQuotaExceeded)
	}
	return nil
}

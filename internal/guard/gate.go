package guard

import (
	"context"
	"sync"
)

// Gate is a single guard invocation. It starts Pending, moves once to
// Allowed or Denied, and never leaves a terminal state. A fresh check needs a
// fresh Gate. After Dispose a late result is dropped and the gate stays
// Pending, which callers treat as "render nothing".
type Gate struct {
	guard *Guard
	tier  Tier

	once     sync.Once
	mu       sync.Mutex
	outcome  Outcome
	disposed bool
}

// NewGate returns a Pending gate for tier.
func (g *Guard) NewGate(tier Tier) *Gate {
	return &Gate{
		guard:   g,
		tier:    tier,
		outcome: Outcome{Tier: tier, State: StatePending},
	}
}

// Evaluate runs the check on the first call and returns the current
// outcome. Concurrent and later calls do not re-run it, and a disposed gate
// never starts it.
func (gt *Gate) Evaluate(ctx context.Context) Outcome {
	gt.mu.Lock()
	disposed := gt.disposed
	gt.mu.Unlock()
	if disposed {
		return gt.Outcome()
	}
	gt.once.Do(func() {
		out := gt.guard.Check(ctx, gt.tier)
		gt.mu.Lock()
		defer gt.mu.Unlock()
		if gt.disposed {
			return
		}
		gt.outcome = out
	})
	return gt.Outcome()
}

// Outcome returns the current state without evaluating.
func (gt *Gate) Outcome() Outcome {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	return gt.outcome
}

// Dispose detaches the gate from its caller.
func (gt *Gate) Dispose() {
	gt.mu.Lock()
	defer gt.mu.Unlock()
	gt.disposed = true
}

package limiter

import (
	"context"
	"time"
)

// Decision is the outcome of one Admit call.
type Decision struct {
	// Allowed reports whether the attempt was admitted and recorded.
	Allowed bool
	// Count is the number of events inside the trailing window after the
	// call (including the new event when Allowed).
	Count int
	// OldestInWindow is the timestamp of the oldest still-counting event.
	// Zero when the window is empty. On denial it feeds the retry-after
	// hint: oldest + window - now.
	OldestInWindow time.Time
}

// RetryAfter computes how long a denied caller must wait for the window to
// slide, never returning a negative duration.
func (d Decision) RetryAfter(window time.Duration, now time.Time) time.Duration {
	if d.OldestInWindow.IsZero() {
		return 0
	}
	wait := d.OldestInWindow.Add(window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Store is the shared-state contract behind the gate: sliding-window
// admission plus the lockout lifecycle, always keyed by
// "{identifier}:{policy_name}".
//
// Admit must be atomic with respect to concurrent callers on the same key:
// the count-then-insert sequence is a single operation, so N racing callers
// can never all observe room in the window. Contention is scoped to the
// key; unrelated keys never share a serialization point.
//
// Implementations are selected by deployment (Redis for shared state,
// in-process for single instances) and are never mixed for the same route.
type Store interface {
	// Admit evaluates and, when allowed, records one attempt.
	Admit(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)

	// Reset deletes all window events and any lockout for the key. Called
	// by collaborators after the guarded operation succeeds, so legitimate
	// recovery is immediate. Resetting an empty key is a no-op.
	Reset(ctx context.Context, key string) error

	// Lock places (or extends) the single hard block for the key.
	Lock(ctx context.Context, key string, until time.Time) error

	// Unlock removes the hard block, if any.
	Unlock(ctx context.Context, key string) error

	// CheckLock reports whether the key is currently blocked and until
	// when. Stale records are treated as unlocked and may be dropped
	// opportunistically.
	CheckLock(ctx context.Context, key string) (time.Time, bool, error)
}

package limiter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a mutable time source shared between a test and the store.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestMemoryStoreAdmitBoundary(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	const limit = 5
	window := time.Minute

	for i := 1; i <= limit; i++ {
		decision, err := store.Admit(ctx, "user-1:login", limit, window)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "attempt %d should be admitted", i)
		assert.Equal(t, i, decision.Count)
	}

	// The attempt that would exceed the limit is denied and not recorded.
	decision, err := store.Admit(ctx, "user-1:login", limit, window)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, limit, decision.Count)

	// A denied attempt leaves no trace: the count stays at the limit.
	decision, err = store.Admit(ctx, "user-1:login", limit, window)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, limit, decision.Count)
}

func TestMemoryStoreWindowSlides(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	window := time.Minute

	for i := 0; i < 5; i++ {
		decision, err := store.Admit(ctx, "user-1:login", 5, window)
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := store.Admit(ctx, "user-1:login", 5, window)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Once the oldest events fall out of the trailing window, capacity
	// returns without any reset.
	clock.Advance(window + time.Second)

	decision, err = store.Admit(ctx, "user-1:login", 5, window)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)
}

func TestMemoryStoreRetryAfterHint(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	window := time.Minute
	start := clock.Now()

	for i := 0; i < 3; i++ {
		_, err := store.Admit(ctx, "user-1:forgot", 3, window)
		require.NoError(t, err)
		clock.Advance(5 * time.Second)
	}

	decision, err := store.Admit(ctx, "user-1:forgot", 3, window)
	require.NoError(t, err)
	require.False(t, decision.Allowed)

	// Oldest event at t0; denial at t0+15s; the window opens at t0+60s.
	assert.Equal(t, start, decision.OldestInWindow)
	assert.Equal(t, 45*time.Second, decision.RetryAfter(window, clock.Now()))
}

func TestMemoryStoreResetIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Admit(ctx, "user-1:login", 5, time.Minute)
		require.NoError(t, err)
	}
	require.NoError(t, store.Lock(ctx, "user-1:login", clock.Now().Add(15*time.Minute)))

	require.NoError(t, store.Reset(ctx, "user-1:login"))

	_, locked, err := store.CheckLock(ctx, "user-1:login")
	require.NoError(t, err)
	assert.False(t, locked)

	decision, err := store.Admit(ctx, "user-1:login", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)

	// Resetting an empty or unknown key is a no-op, not an error.
	require.NoError(t, store.Reset(ctx, "user-1:login"))
	require.NoError(t, store.Reset(ctx, "never-seen:login"))
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := store.Admit(ctx, "user-1:login", 5, time.Minute)
		require.NoError(t, err)
	}
	denied, err := store.Admit(ctx, "user-1:login", 5, time.Minute)
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// Same identity under another policy, and another identity under the
	// same policy, both keep their own budgets.
	other, err := store.Admit(ctx, "user-1:register", 5, time.Hour)
	require.NoError(t, err)
	assert.True(t, other.Allowed)

	other, err = store.Admit(ctx, "user-2:login", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestMemoryStoreConcurrentAdmitNeverOverAdmits(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const (
		limit   = 5
		callers = 60
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)

	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			decision, err := store.Admit(ctx, "burst:login", limit, time.Minute)
			assert.NoError(t, err)
			if decision.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
			assert.LessOrEqual(t, decision.Count, limit)
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, limit, allowed, "exactly limit callers may win the race")
}

func TestMemoryStoreLockOverwrites(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	first := clock.Now().Add(5 * time.Minute)
	second := clock.Now().Add(15 * time.Minute)

	require.NoError(t, store.Lock(ctx, "user-1:login", first))
	require.NoError(t, store.Lock(ctx, "user-1:login", second))

	until, locked, err := store.CheckLock(ctx, "user-1:login")
	require.NoError(t, err)
	require.True(t, locked)
	assert.Equal(t, second, until)
}

func TestMemoryStoreStaleLockIsDropped(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Lock(ctx, "user-1:login", clock.Now().Add(time.Minute)))

	clock.Advance(2 * time.Minute)

	_, locked, err := store.CheckLock(ctx, "user-1:login")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestMemoryStoreUnlock(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.Lock(ctx, "user-1:login", clock.Now().Add(time.Hour)))
	require.NoError(t, store.Unlock(ctx, "user-1:login"))

	_, locked, err := store.CheckLock(ctx, "user-1:login")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestMemoryStoreSweepDropsExpiredOnly(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	ctx := context.Background()

	_, err := store.Admit(ctx, "old:login", 5, time.Minute)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)

	_, err = store.Admit(ctx, "fresh:login", 5, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.Lock(ctx, "old:login", clock.Now().Add(10*time.Second)))

	clock.Advance(45 * time.Second)
	store.Sweep()

	// "old" expired (event and lock), "fresh" is still counting.
	decision, err := store.Admit(ctx, "fresh:login", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	_, locked, err := store.CheckLock(ctx, "old:login")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestDecisionRetryAfterNeverNegative(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		decision Decision
		want     time.Duration
	}{
		{
			name:     "empty window",
			decision: Decision{},
			want:     0,
		},
		{
			name:     "oldest mid-window",
			decision: Decision{OldestInWindow: now.Add(-20 * time.Second)},
			want:     40 * time.Second,
		},
		{
			name:     "oldest already outside",
			decision: Decision{OldestInWindow: now.Add(-2 * time.Minute)},
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.decision.RetryAfter(time.Minute, now))
		})
	}
}

func TestMemoryStoreShardDistribution(t *testing.T) {
	store := NewMemoryStore()

	seen := make(map[*memoryShard]bool)
	for i := 0; i < 256; i++ {
		seen[store.shardFor(fmt.Sprintf("user-%d:login", i))] = true
	}
	assert.Greater(t, len(seen), 1, "keys must spread across shards")
}

package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"go.uber.org/zap"

	"abuse-gateway/internal/models"
	"abuse-gateway/internal/util"
)

const shardCount = 64

// MemoryStore is the in-process backend for single-instance deployments.
// State is partitioned into murmur3-addressed shards; one mutex per shard
// serializes every operation on the keys it owns, which is what makes the
// count-then-insert in Admit atomic per key while keeping unrelated keys
// off each other's locks.
type MemoryStore struct {
	shards [shardCount]*memoryShard
	now    func() time.Time
}

type memoryShard struct {
	mu     sync.Mutex
	events map[string][]models.RateWindowEvent
	locks  map[string]models.LockoutRecord
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock injects the time source. Tests use it to slide windows without
// sleeping.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i] = &memoryShard{
			events: make(map[string][]models.RateWindowEvent),
			locks:  make(map[string]models.LockoutRecord),
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *memoryShard {
	return s.shards[murmur3.Sum32([]byte(key))%shardCount]
}

func (s *MemoryStore) Admit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	now := s.now()
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	live := pruneExpired(shard.events[key], now)

	decision := Decision{Count: len(live)}
	if len(live) > 0 {
		decision.OldestInWindow = live[0].Timestamp
	}

	if len(live) < limit {
		event := models.RateWindowEvent{
			Key:       key,
			Timestamp: now,
			ExpiresAt: now.Add(window),
		}
		live = append(live, event)
		decision.Allowed = true
		decision.Count = len(live)
		if decision.OldestInWindow.IsZero() {
			decision.OldestInWindow = now
		}
	}

	shard.events[key] = live
	return decision, nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.events, key)
	delete(shard.locks, key)
	return nil
}

func (s *MemoryStore) Lock(_ context.Context, key string, until time.Time) error {
	now := s.now()
	if !until.After(now) {
		return nil
	}

	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	// Overwrite semantics: a second lock extends the block, it never
	// duplicates the record.
	shard.locks[key] = models.LockoutRecord{
		Key:         key,
		LockedUntil: until,
		CreatedAt:   now,
	}
	return nil
}

func (s *MemoryStore) Unlock(_ context.Context, key string) error {
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.locks, key)
	return nil
}

func (s *MemoryStore) CheckLock(_ context.Context, key string) (time.Time, bool, error) {
	now := s.now()
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	record, ok := shard.locks[key]
	if !ok {
		return time.Time{}, false, nil
	}
	if !record.Active(now) {
		delete(shard.locks, key)
		return time.Time{}, false, nil
	}
	return record.LockedUntil, true, nil
}

// Sweep eagerly drops expired events and stale lockouts. It is an
// optimization only: every read path filters by expiry regardless, so the
// sweep cadence never affects correctness.
func (s *MemoryStore) Sweep() {
	now := s.now()
	removed := 0

	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, events := range shard.events {
			live := pruneExpired(events, now)
			removed += len(events) - len(live)
			if len(live) == 0 {
				delete(shard.events, key)
			} else {
				shard.events[key] = live
			}
		}
		for key, record := range shard.locks {
			if !record.Active(now) {
				delete(shard.locks, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		util.Debug("Expired gate records swept", zap.Int("removed", removed))
	}
}

// pruneExpired drops events whose expiry has passed. Events are appended in
// timestamp order, so the survivors keep the oldest entry at index 0.
func pruneExpired(events []models.RateWindowEvent, now time.Time) []models.RateWindowEvent {
	if len(events) == 0 {
		return events
	}
	live := events[:0:len(events)]
	for _, e := range events {
		if !e.Expired(now) {
			live = append(live, e)
		}
	}
	return live
}

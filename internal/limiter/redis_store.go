package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"abuse-gateway/internal/client"
	"abuse-gateway/internal/util"
)

const (
	rateWindowPrefix = "rate_window:"
	lockoutPrefix    = "lockout:"

	defaultStoreTimeout = 2 * time.Second
)

// admitScript is the atomic count-then-insert. Running it server-side
// closes the check/insert race: Redis executes the script as one unit, so
// concurrent callers on the same key are serialized.
//
// KEYS[1]  window zset
// ARGV[1]  now (unix ms)
// ARGV[2]  window start (unix ms)
// ARGV[3]  limit
// ARGV[4]  window length (ms)
// ARGV[5]  unique member suffix
//
// Returns {allowed, count, oldest_score_ms}.
const admitScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local window_ms = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

local count = redis.call('ZCARD', key)
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldest_score = 0
if oldest[2] then
    oldest_score = tonumber(oldest[2])
end

if count < limit then
    redis.call('ZADD', key, now, ARGV[1] .. '-' .. ARGV[5])
    redis.call('PEXPIRE', key, window_ms)
    if oldest_score == 0 then
        oldest_score = now
    end
    return {1, count + 1, oldest_score}
end

return {0, count, oldest_score}
`

// RedisStore backs the gate with Redis so multiple gateway instances share
// one view of windows and lockouts. Window events live in a per-key sorted
// set scored by timestamp; lockouts are plain keys whose TTL equals the
// remaining block, so Redis expires every record on its own.
type RedisStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

// NewRedisStore wraps a connected Redis client. timeout bounds every store
// round-trip; zero selects the default.
func NewRedisStore(c *client.RedisClient, timeout time.Duration) *RedisStore {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &RedisStore{client: c, timeout: timeout}
}

// opContext builds a fresh bounded context detached from the request.
// A caller aborting mid-flight must not stop the decision from being
// recorded, otherwise cancelled requests would evade rate accounting.
func (s *RedisStore) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *RedisStore) Admit(_ context.Context, key string, limit int, window time.Duration) (Decision, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	now := time.Now()
	nowMs := now.UnixMilli()
	windowStart := now.Add(-window).UnixMilli()

	result, err := s.client.Eval(ctx, admitScript,
		[]string{rateWindowPrefix + key},
		nowMs, windowStart, limit, window.Milliseconds(), uuid.NewString())
	if err != nil {
		util.Error("Sliding window admit failed",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("window", window),
			zap.Error(err))
		return Decision{}, fmt.Errorf("sliding window admit: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected admit script result: %v", result)
	}

	decision := Decision{
		Allowed: values[0].(int64) == 1,
		Count:   int(values[1].(int64)),
	}
	if oldest := values[2].(int64); oldest > 0 {
		decision.OldestInWindow = time.UnixMilli(oldest)
	}

	util.Debug("Sliding window evaluated",
		zap.String("key", key),
		zap.Bool("allowed", decision.Allowed),
		zap.Int("count", decision.Count),
		zap.Int("limit", limit))

	return decision, nil
}

func (s *RedisStore) Reset(_ context.Context, key string) error {
	ctx, cancel := s.opContext()
	defer cancel()

	if err := s.client.Del(ctx, rateWindowPrefix+key, lockoutPrefix+key); err != nil {
		util.Error("Failed to reset rate window",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("reset rate window: %w", err)
	}

	util.Debug("Rate window reset", zap.String("key", key))
	return nil
}

func (s *RedisStore) Lock(_ context.Context, key string, until time.Time) error {
	ctx, cancel := s.opContext()
	defer cancel()

	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}

	// Plain SET so relocking an already-locked key overwrites the record;
	// the TTL keeps exactly zero or one live lockout per key.
	value := strconv.FormatInt(until.UnixMilli(), 10)
	if err := s.client.Set(ctx, lockoutPrefix+key, value, ttl); err != nil {
		util.Error("Failed to set lockout",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return fmt.Errorf("set lockout: %w", err)
	}

	util.Info("Lockout placed",
		zap.String("key", key),
		zap.Time("locked_until", until))
	return nil
}

func (s *RedisStore) Unlock(_ context.Context, key string) error {
	ctx, cancel := s.opContext()
	defer cancel()

	if err := s.client.Del(ctx, lockoutPrefix+key); err != nil {
		util.Error("Failed to remove lockout",
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("remove lockout: %w", err)
	}
	return nil
}

func (s *RedisStore) CheckLock(_ context.Context, key string) (time.Time, bool, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	value, err := s.client.Get(ctx, lockoutPrefix+key)
	if err != nil {
		if err == client.ErrKeyNotFound {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("check lockout: %w", err)
	}

	untilMs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		// An unreadable record cannot be honored; drop it.
		_ = s.client.Del(ctx, lockoutPrefix+key)
		return time.Time{}, false, nil
	}

	until := time.UnixMilli(untilMs)
	if !until.After(time.Now()) {
		// TTL should have expired it already; clean up just in case.
		_ = s.client.Del(ctx, lockoutPrefix+key)
		return time.Time{}, false, nil
	}

	return until, true, nil
}

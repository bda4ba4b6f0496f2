package handler

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/sharegate/sharegate/pkg/logger"
	"github.com/sharegate/sharegate/pkg/response"
)

// KeyFunc extracts a rate-limiting key from a request.
type KeyFunc func(c *fiber.Ctx) string

// Limiter decides whether one more request for key fits in its window.
type Limiter interface {
	Allow(ctx context.Context, key string, now time.Time) (bool, error)
}

// RateLimiter is the fiber middleware around a primary limiter and an
// optional fallback used when the primary store errors. Counters live only
// in the backing stores, never in process memory.
type RateLimiter struct {
	primary  Limiter
	fallback Limiter
	keyFunc  KeyFunc
	scope    string
	now      func() time.Time
}

func NewRateLimiter(scope string, primary, fallback Limiter, keyFunc KeyFunc) *RateLimiter {
	if keyFunc == nil {
		keyFunc = defaultKeyFunc
	}
	scope = strings.TrimSpace(scope)
	if scope == "" {
		scope = "default"
	}
	return &RateLimiter{
		primary:  primary,
		fallback: fallback,
		keyFunc:  keyFunc,
		scope:    scope,
		now:      time.Now,
	}
}

// IPAndUserKey combines IP address with authenticated user ID for rate limiting.
// This prevents a single authenticated user from bypassing IP-based limits via
// multiple IPs, and prevents shared IPs from unfairly limiting distinct users.
func IPAndUserKey(c *fiber.Ctx) string {
	ip := c.IP()
	if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
		return ip + ":" + userID
	}
	return ip
}

// ShortCodeAndIPKey scopes password guessing to one link and one client, so a
// noisy client cannot lock everyone out of a link.
func ShortCodeAndIPKey(c *fiber.Ctx) string {
	return c.Params("short_code") + ":" + c.IP()
}

func defaultKeyFunc(c *fiber.Ctx) string {
	return c.IP()
}

func (rl *RateLimiter) allow(ctx context.Context, key string) (bool, error) {
	now := rl.now()
	allowed, err := rl.primary.Allow(ctx, key, now)
	if err == nil || rl.fallback == nil {
		return allowed, err
	}
	logger.Warn().Err(err).Str("scope", rl.scope).Msg("Primary rate limit store failed, using fallback")
	return rl.fallback.Allow(ctx, key, now)
}

// Middleware returns the rate limiting middleware. When every store fails
// the request is let through and the failure logged.
func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		allowed, err := rl.allow(c.UserContext(), rl.keyFunc(c))
		if err != nil {
			logger.Error().Err(err).Str("scope", rl.scope).Msg("Rate limit check failed")
			return c.Next()
		}
		if !allowed {
			RecordRateLimited(rl.scope)
			return response.TooManyRequests(c, "too many requests, please try again later")
		}
		return c.Next()
	}
}

// SQLLimiter is a fixed-window counter in the shared database. Counters
// survive restarts and are shared by replicas on the same database.
type SQLLimiter struct {
	db     *sql.DB
	scope  string
	limit  int
	window time.Duration
}

func NewSQLLimiter(db *sql.DB, scope string, limit int, window time.Duration) *SQLLimiter {
	return &SQLLimiter{db: db, scope: scope, limit: limit, window: window}
}

func (l *SQLLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	scopedKey := l.scope + ":" + key
	now = now.UTC()

	var count int
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_counters (scope_key, count, window_end, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(scope_key) DO UPDATE SET
			count = CASE
				WHEN rate_limit_counters.window_end <= excluded.updated_at THEN 1
				ELSE rate_limit_counters.count + 1
			END,
			window_end = CASE
				WHEN rate_limit_counters.window_end <= excluded.updated_at THEN excluded.window_end
				ELSE rate_limit_counters.window_end
			END,
			updated_at = excluded.updated_at
		RETURNING count
	`, scopedKey, now.Add(l.window), now).Scan(&count)
	if err != nil {
		return false, err
	}
	return count <= l.limit, nil
}

// PruneRateLimitCounters deletes counters whose window has closed.
func PruneRateLimitCounters(ctx context.Context, db *sql.DB, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM rate_limit_counters WHERE window_end <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// slidingWindowScript keeps one sorted-set member per accepted request and
// trims members older than the window before counting.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local current = redis.call('ZCARD', key)
	if current >= limit then
		return 0
	end

	local seq = redis.call('INCR', key .. ':seq')
	redis.call('ZADD', key, now, now .. ':' .. seq)
	local ttl = math.ceil(window_ms / 1000)
	redis.call('EXPIRE', key, ttl)
	redis.call('EXPIRE', key .. ':seq', ttl)
	return 1
`)

// RedisLimiter is a sliding-window limiter shared by every instance pointed
// at the same Redis.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.Scripter, scope string, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: "sharegate:ratelimit:" + scope + ":",
		limit:  limit,
		window: window,
	}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, now time.Time) (bool, error) {
	nowMs := now.UnixMilli()
	res, err := slidingWindowScript.Run(ctx, l.client, []string{l.prefix + key},
		nowMs, nowMs-l.window.Milliseconds(), l.limit, l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("redis rate limit script: %w", err)
	}
	return res == 1, nil
}

package middleware

import (
	"context"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// Quota is a fixed-window request budget shared by every route using the same Name.
type Quota struct {
	Name   string
	Limit  int
	Window time.Duration
	// FailClosed rejects requests with 503 when Redis cannot be reached.
	FailClosed bool
}

// QuotaState is the outcome of counting one request against a Quota.
type QuotaState struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

var errNoRateLimitStore = errors.New("redis client is nil")

func rateLimitsEnforced() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development":
		return false
	}
	return true
}

// CheckQuota counts one request from subject against q. Quotas are only
// enforced in deployed environments.
func CheckQuota(ctx context.Context, rdb *redis.Client, q Quota, subject string) (QuotaState, error) {
	if !rateLimitsEnforced() {
		return QuotaState{Allowed: true, Remaining: q.Limit, ResetIn: q.Window}, nil
	}
	if rdb == nil {
		return QuotaState{}, errNoRateLimitStore
	}

	key := "rl:" + q.Name + ":" + subject
	pipe := rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return QuotaState{}, err
	}

	resetIn := ttl.Val()
	if resetIn <= 0 {
		if err := rdb.Expire(ctx, key, q.Window).Err(); err != nil {
			return QuotaState{}, err
		}
		resetIn = q.Window
	}

	count := int(incr.Val())
	return QuotaState{
		Allowed:   count <= q.Limit,
		Remaining: max(q.Limit-count, 0),
		ResetIn:   resetIn,
	}, nil
}

// RateLimit enforces q per authenticated user, or per client IP before login.
func RateLimit(rdb *redis.Client, q Quota) fiber.Handler {
	return func(c *fiber.Ctx) error {
		subject := "ip:" + c.IP()
		if uid, ok := c.Locals(LocalUserID).(string); ok && uid != "" {
			subject = "user:" + uid
		}

		state, err := CheckQuota(c.UserContext(), rdb, q, subject)
		if err != nil {
			if !q.FailClosed {
				return c.Next()
			}
			Logger.WarnContext(c.UserContext(), "rate limit store unavailable",
				"quota", q.Name, "path", c.Path(), "error", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "rate limit unavailable",
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(q.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(state.Remaining))
		if !state.Allowed {
			secs := int((state.ResetIn + time.Second - 1) / time.Second)
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(secs))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}

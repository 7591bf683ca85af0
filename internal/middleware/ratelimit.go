package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// FailPolicy decides what happens to a request when Redis cannot be reached.
type FailPolicy int

const (
	// FailOpen lets the request through.
	FailOpen FailPolicy = iota
	// FailClosed answers 503.
	FailClosed
)

var errNoLimiter = errors.New("rate limit store unavailable")

// Rule is a fixed-window limit on one named resource.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
	Policy FailPolicy
}

// Decision is the outcome of one rate limit check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// limitsBypassed reports environments where rate limits are not enforced.
func limitsBypassed() bool {
	switch os.Getenv("APP_ENV") {
	case "", "test", "development", "stress":
		return true
	}
	return false
}

// CheckRateLimit counts one hit against rule for subject. A counter found
// without an expiry gets one, so the window always closes.
func CheckRateLimit(ctx context.Context, rdb *redis.Client, rule Rule, subject string) (Decision, error) {
	if limitsBypassed() {
		return Decision{Allowed: true, Remaining: rule.Limit}, nil
	}
	if rdb == nil {
		return Decision{}, errNoLimiter
	}

	key := fmt.Sprintf("rl:%s:%s", rule.Name, subject)
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		RedisErrors.WithLabelValues("rate_limit").Inc()
		return Decision{}, err
	}
	resetIn := ttl.Val()
	if resetIn < 0 {
		if err := rdb.Expire(ctx, key, rule.Window).Err(); err != nil {
			RedisErrors.WithLabelValues("rate_limit").Inc()
			return Decision{}, err
		}
		resetIn = rule.Window
	}

	count := int(incr.Val())
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= rule.Limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}, nil
}

// rateLimitSubject keys limits by authenticated user, falling back to the
// client IP.
func rateLimitSubject(c *fiber.Ctx) string {
	if uid, ok := c.Locals("userID").(uint); ok {
		return fmt.Sprintf("user:%d", uid)
	}
	return "ip:" + c.IP()
}

// RateLimit enforces rule on the routes it guards and reports the remaining
// budget in X-RateLimit-* headers.
func RateLimit(rdb *redis.Client, rule Rule) fiber.Handler {
	if rule.Name == "" {
		panic("middleware: rate limit rule needs a name")
	}
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		d, err := CheckRateLimit(ctx, rdb, rule, rateLimitSubject(c))
		if err != nil {
			if rule.Policy == FailClosed {
				Logger.WarnContext(ctx, "rate limit fail-closed",
					slog.String("rule", rule.Name),
					slog.String("error", err.Error()),
				)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "rate limit unavailable",
				})
			}
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(rule.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			if d.ResetIn > 0 {
				c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(d.ResetIn.Round(time.Second).Seconds())))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "rate limit exceeded",
			})
		}
		return c.Next()
	}
}

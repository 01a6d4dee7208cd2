package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/qasim313/Unbrandit/internal/logging"
	"github.com/qasim313/Unbrandit/pkg/response"
	"github.com/redis/go-redis/v9"
)

type RateLimiter struct {
	redis *redis.Client
}

// NewRateLimiter returns a fixed-window limiter. A nil client disables it.
func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// Limit creates a per-user rate limiting middleware
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rl == nil || rl.redis == nil || maxRequests <= 0 {
			return c.Next()
		}
		userID := GetUserID(c)
		if userID == "" {
			return c.Next()
		}

		key := fmt.Sprintf("ratelimit:%s:%s", keyPrefix, userID)
		ctx := c.UserContext()

		var incr *redis.IntCmd
		_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(ctx, key)
			pipe.ExpireNX(ctx, key, window)
			return nil
		})
		if err != nil {
			// Fail open while Redis is unreachable.
			logging.Warn().Err(err).Str("limit", keyPrefix).Msg("rate limiter unavailable")
			return c.Next()
		}
		count := incr.Val()

		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			ttl, _ := rl.redis.TTL(ctx, key).Result()
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(ttl.Seconds())))
			c.Set("X-RateLimit-Remaining", "0")
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))

		return c.Next()
	}
}

// BuildLimit limits build submissions per hour
func (rl *RateLimiter) BuildLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("build", maxPerHour, time.Hour)
}

// UploadLimit limits uploads per hour
func (rl *RateLimiter) UploadLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("upload", maxPerHour, time.Hour)
}

// ProjectLimit limits project creation and decompile retries per hour
func (rl *RateLimiter) ProjectLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("project", maxPerHour, time.Hour)
}

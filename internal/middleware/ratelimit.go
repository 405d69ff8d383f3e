package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/mocktest-backend/internal/config"
	"github.com/stemsi/mocktest-backend/internal/response"
)

// RateLimiter is a fixed-window per-IP limiter whose counters live in Redis,
// so every instance behind a load balancer shares the same budget.
type RateLimiter struct {
	rdb      *redis.Client
	scope    string
	rate     int
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewRateLimiter allows rate requests per interval for each client IP.
// scope keeps separate budgets for separate route groups.
func NewRateLimiter(rdb *redis.Client, scope string, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		scope:    scope,
		rate:     rate,
		interval: interval,
		log:      log.With().Str("component", "rate_limiter").Logger(),
		now:      time.Now,
	}
}

// Middleware returns a Gin middleware that rate-limits requests by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.rate <= 0 {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		now := rl.now()
		start := now.Truncate(rl.interval)
		key := config.CacheKey.RateLimitKey(rl.scope, c.ClientIP(), start.Unix())

		pipe := rl.rdb.TxPipeline()
		incr := pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, rl.interval)
		if _, err := pipe.Exec(ctx); err != nil {
			// Fail open: a Redis outage must not lock everyone out of login.
			rl.log.Warn().Err(err).Msg("Rate limit check failed")
			c.Next()
			return
		}

		count := int(incr.Val())
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(rl.rate-count, 0)))

		if count > rl.rate {
			wait := start.Add(rl.interval).Sub(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			response.AbortFail(c, http.StatusTooManyRequests, response.ErrRateLimitExceeded)
			return
		}
		c.Next()
	}
}

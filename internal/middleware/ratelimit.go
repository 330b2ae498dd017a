package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds requests per user (or per IP before auth) using a
// fixed window counter in Redis
type RateLimiter struct {
	redisClient *redis.Client
	requests    int
	window      time.Duration
}

// NewRateLimiter creates a rate limiter allowing requests per window
func NewRateLimiter(redisClient *redis.Client, requests int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		requests:    requests,
		window:      window,
	}
}

// Middleware returns the Gin handler
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		identifier := "ip:" + c.ClientIP()
		if userID, exists := c.Get("user_id"); exists {
			identifier = fmt.Sprintf("user:%v", userID)
		}

		count, err := rl.bump(c, identifier)
		if err != nil {
			// Fail open when Redis is unavailable; token validation still
			// protects the endpoints
			c.Next()
			return
		}

		remaining := rl.requests - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if count > rl.requests {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
				"limit": rl.requests,
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) bump(c *gin.Context, identifier string) (int, error) {
	ctx := c.Request.Context()
	key := "ratelimit:" + identifier

	count, err := rl.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		rl.redisClient.Expire(ctx, key, rl.window)
	}
	return int(count), nil
}

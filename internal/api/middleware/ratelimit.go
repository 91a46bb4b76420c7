package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"contactbook/internal/pkg/metrics"
	"contactbook/internal/pkg/ratelimit"

	"github.com/gin-gonic/gin"
)

// Limiter 非阻塞限流判定。
type Limiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// RateLimit 按客户端 IP 限流，超限返回 429。Redis 不可用时放行。
func RateLimit(limiter Limiter, scope string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := limiter.Allow(c.Request.Context(), scope+":"+c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("scope", scope), slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !decision.Allowed {
			retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			metrics.RateLimitRejectedTotal.WithLabelValues(scope).Inc()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests", "retry_after": retryAfter})
			return
		}
		c.Next()
	}
}

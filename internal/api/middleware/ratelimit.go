package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"lesionlog/internal/api/respond"
	"lesionlog/internal/pkg/metrics"

	"github.com/gin-gonic/gin"
)

// Allower 是令牌桶限流器（ratelimit.Limiter 实现）。
type Allower interface {
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
}

// RateLimit 按客户端 IP 限流；限流器不可用时放行。
func RateLimit(limiter Allower, route string, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		ok, retry, err := limiter.Allow(c.Request.Context(), route+":"+c.ClientIP())
		if err != nil {
			if logger != nil {
				logger.Warn("rate limiter unavailable", slog.String("route", route), slog.String("error", err.Error()))
			}
			c.Next()
			return
		}
		if !ok {
			metrics.RateLimitRejectedTotal.WithLabelValues(route).Inc()
			if retry > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			}
			respond.Fail(c, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}

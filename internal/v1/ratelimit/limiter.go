// Package ratelimit implements rate limiting logic using Redis or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/qiju-live/gameroom/internal/v1/config"
	"github.com/qiju-live/gameroom/internal/v1/logging"
	"github.com/qiju-live/gameroom/internal/v1/metrics"
)

// RateLimiter guards the WebSocket upgrade endpoints against connection
// churn from a single address. Seat tokens already gate in-room authority,
// so the HTTP edge only needs a per-IP limit.
type RateLimiter struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// NewRateLimiter creates a RateLimiter backed by Redis when a client is
// provided, otherwise by process-local memory.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "✅ Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Warn(context.Background(), "⚠️  Rate limiter using Memory store (Redis disabled or unavailable)")
	}

	return &RateLimiter{
		wsIP:  limiter.New(store, wsIPRate),
		store: store,
	}, nil
}

// WebSocketMiddleware rejects upgrade requests once an IP exhausts its
// connection budget. Store failures fail open.
func (rl *RateLimiter) WebSocketMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		ip := c.ClientIP()

		ipContext, err := rl.wsIP.Get(ctx, ip)
		if err != nil {
			logging.Error(ctx, "WS Rate limiter store failed", zap.Error(err))
			c.Next()
			return
		}

		if ipContext.Reached {
			metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
			c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many connections from this IP",
			})
			return
		}

		c.Next()
	}
}

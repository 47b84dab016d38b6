package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nexmarket/realtime/logger"
	"github.com/nexmarket/realtime/storage/kv"
	"github.com/nexmarket/realtime/tools/errs"
)

// RateLimit is a fixed-window counter per client IP on the cache
// substrate's atomic increment. The window key expires on its own. If the
// substrate is down the request passes: rate limiting degrades, it never
// takes the gateway down with it.
func RateLimit(kvs kv.Store, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit <= 0 {
			c.Next()
			return
		}
		key := "rt:rl:" + c.ClientIP()
		n, err := kvs.IncrWithTTL(c.Request.Context(), key, window)
		if err != nil {
			logger.Warnf("[ratelimit] counter unavailable: %v", err)
			c.Next()
			return
		}
		if n > limit {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errs.ErrRateLimited)
			return
		}
		c.Next()
	}
}

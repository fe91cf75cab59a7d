package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	obslogger "github.com/smallbiznis/folio/internal/observability/logger"
	"go.uber.org/zap"
)

// RateLimit enforces the per-client limit of endpoint. Limiter failures let
// the request through.
func (s *Server) RateLimit(endpoint string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), endpoint, c.ClientIP())
		if err != nil {
			obslogger.FromContext(c.Request.Context()).Warn("rate limit check failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.Allowed {
			s.obsMetrics.RecordRateLimited(endpoint)
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

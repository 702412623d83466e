package api

import (
	"strconv"
	"strings"
	"time"

	"maritime-query-engine/internal/common/errors"
	"maritime-query-engine/internal/common/metrics"
	"maritime-query-engine/internal/security"

	"github.com/gin-gonic/gin"
)

const claimsKey = "mqe.claims"

// authenticate verifies the bearer credential. The verified claims are the
// only input later used to bind a tenant.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.abort(c, errors.NewAccessDeniedError("bearer credential required"))
			return
		}
		claims, err := s.verifier.Verify(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			s.abort(c, err)
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// rateLimit throttles per credential subject.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFrom(c)
		if claims != nil && !s.limiter.Allow(claims.TenantID+"/"+claims.Subject) {
			s.abort(c, errors.NewRateLimitedError())
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())

		if route == "/health" || route == "/ready" || route == "/metrics" {
			return
		}
		s.logger.Info("request", map[string]interface{}{
			"method":   c.Request.Method,
			"route":    route,
			"status":   status,
			"duration": time.Since(start).Milliseconds(),
		})
	}
}

func claimsFrom(c *gin.Context) *security.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*security.Claims)
	return claims
}

package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Middleware applies the admission controller to every route except
// those in skipPaths (health and status probes). Denied requests get a
// 429 with a one-second retry hint.
func Middleware(limiter *Limiter, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.FullPath()]; ok {
			c.Next()
			return
		}
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		if !limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate_limited",
				"message":    "Too many requests, slow down.",
				"retryAfter": 1,
			})
			return
		}

		c.Next()
	}
}

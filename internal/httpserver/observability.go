package httpserver

import (
	"time"

	"github.com/aak1247/sitetap/internal/obs"
	"github.com/gin-gonic/gin"
)

// observabilityMiddleware records request counts and latency per route
// template, so path parameters do not explode label cardinality.
func observabilityMiddleware(m *obs.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		m.ObserveHTTP(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

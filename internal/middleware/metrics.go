package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"floodbuddy/internal/observability"
)

// Metrics records request latency by route template, not raw path.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

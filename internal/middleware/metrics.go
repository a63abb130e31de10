package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ridetrack/internal/metrics"
)

// Metrics records request latency by route template.
func Metrics(m metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start).Seconds())
	}
}

package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/elearning-api/internal/service"
)

// unmatchedRoute labels requests that hit no route, keeping raw paths (and any
// signed tokens embedded in them) out of metric labels.
const unmatchedRoute = "unmatched"

// Metrics records latency and status per route template. Probe endpoints are skipped.
func Metrics(metricsSvc *service.MetricsService, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		path := c.FullPath()
		if _, ok := skipped[path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		if path == "" {
			path = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

package monitoring

import (
	"time"

	"github.com/gin-gonic/gin"
)

// unroutedPath labels requests answered by NoRoute, e.g. offline assets.
const unroutedPath = "unrouted"

// Middleware records HTTP request metrics.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		// Route template, not the raw URL, to keep label cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = unroutedPath
		}
		metrics.RecordRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

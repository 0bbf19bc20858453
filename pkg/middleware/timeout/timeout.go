package timeout

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// New bounds every request context, and therefore every storage call made with it, by d.
func New(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

package backpressure

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// GinMiddleware sheds load on the routes it guards. Saturated requests
// get 503 with a Retry-After hint instead of queueing.
func GinMiddleware(c *Controller) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if c == nil {
			ctx.Next()
			return
		}

		status := c.Check()
		if status.Healthy {
			ctx.Next()
			return
		}

		ctx.Header("Retry-After", strconv.Itoa(status.RetryAfterSeconds))
		ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
			"error": gin.H{
				"type":        "service_unavailable",
				"message":     "server overloaded, retry later",
				"reasons":     status.Reasons,
				"retry_after": status.RetryAfterSeconds,
			},
		})
	}
}

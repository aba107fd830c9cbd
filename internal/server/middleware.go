package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	maxWebhookBodyBytes = 64 << 10
	maxJSONBodyBytes    = 16 << 10
)

// LimitBody caps the request body; reads past the limit fail.
func LimitBody(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > limit {
			AbortWithError(c, invalidRequestError())
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		c.Next()
	}
}

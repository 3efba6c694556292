package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodyLimit refuses bodies larger than maxBytes. A declared Content-Length over the
// limit is answered 413 up front; otherwise reads past the limit fail in the handler.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": gin.H{
					"code":    "PAYLOAD_TOO_LARGE",
					"message": "Request body too large",
				},
				"correlation_id": GetCorrelationID(c),
			})
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

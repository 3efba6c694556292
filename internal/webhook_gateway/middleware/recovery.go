package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/rental-payments-ledger/internal/platform/metrics"
)

const unmatchedRoute = "unmatched"

// Recovery answers a panicking request with a 500 error envelope and counts the
// panic per route. A provider delivery that panics is therefore redelivered by
// its rail, and the stored event stays for the retry scheduler.
func Recovery(logger *slog.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if err, ok := r.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(r)
			}

			route := c.FullPath()
			if route == "" {
				route = unmatchedRoute
			}
			m.ObserveHandlerPanic(route)

			correlationID := GetCorrelationID(c)
			logger.Error("Handler panicked",
				"panic", fmt.Sprint(r),
				"route", route,
				"method", c.Request.Method,
				"client_address", c.ClientIP(),
				"correlation_id", correlationID,
				"stack", string(debug.Stack()),
			)

			body := gin.H{
				"error": gin.H{
					"code":    "INTERNAL_SERVER_ERROR",
					"message": "An internal server error occurred",
				},
			}
			if correlationID != "" {
				body["correlation_id"] = correlationID
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		}()

		c.Next()
	}
}

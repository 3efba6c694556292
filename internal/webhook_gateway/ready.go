package webhook_gateway

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultCheckTimeout = 2 * time.Second

// ReadinessCheck reports whether one dependency answers
type ReadinessCheck func(ctx context.Context) error

// newReadyHandler reports 503 with the failing dependencies when any check errors
func newReadyHandler(checks map[string]ReadinessCheck, timeout time.Duration) gin.HandlerFunc {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		results := make(gin.H, len(names))
		status := http.StatusOK
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "unavailable"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(captured *string) *gin.Engine {
		router := gin.New()
		router.Use(CorrelationID())
		router.POST("/webhooks", func(c *gin.Context) {
			*captured = c.GetString(CorrelationIDKey)
			c.Status(http.StatusOK)
		})
		return router
	}

	t.Run("GeneratesCorrelationIDIfNotProvided", func(t *testing.T) {
		var captured string
		router := newRouter(&captured)

		req := httptest.NewRequest(http.MethodPost, "/webhooks", nil)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		respHeaderID := rr.Header().Get(CorrelationIDHeader)
		_, err := uuid.Parse(respHeaderID)
		assert.NoError(t, err)
		assert.Equal(t, respHeaderID, captured)
	})

	t.Run("UsesCorrelationIDIfProvided", func(t *testing.T) {
		var captured string
		router := newRouter(&captured)

		req := httptest.NewRequest(http.MethodPost, "/webhooks", nil)
		req.Header.Set(CorrelationIDHeader, "corr-1")
		req.Header.Set(RequestIDHeader, "req-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, "corr-1", rr.Header().Get(CorrelationIDHeader))
		assert.Equal(t, "corr-1", captured)
	})

	t.Run("FallsBackToProviderRequestID", func(t *testing.T) {
		var captured string
		router := newRouter(&captured)

		req := httptest.NewRequest(http.MethodPost, "/webhooks", nil)
		req.Header.Set(RequestIDHeader, "req-1")
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		assert.Equal(t, "req-1", rr.Header().Get(CorrelationIDHeader))
		assert.Equal(t, "req-1", captured)
	})
}

func TestGetCorrelationID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("ReturnsIDFromContextIfExists", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(CorrelationIDKey, "abc")
		assert.Equal(t, "abc", GetCorrelationID(c))
	})

	t.Run("ReturnsEmptyStringIfIDInContextIsNotString", func(t *testing.T) {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Set(CorrelationIDKey, 12345)
		assert.Empty(t, GetCorrelationID(c))
	})
}

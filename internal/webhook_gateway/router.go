package webhook_gateway

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/webhook_gateway/handler"
	"github.com/rental-payments-ledger/internal/webhook_gateway/middleware"
)

// Handlers groups the HTTP handlers mounted by the gateway
type Handlers struct {
	Webhooks    *handler.WebhookHandler
	Withdrawals *handler.WithdrawalHandler
	Wallets     *handler.WalletHandler
	Payments    *handler.PaymentHandler
	Ready       gin.HandlerFunc
}

// setupRouter configures routes and middleware for the gateway
func setupRouter(logger *slog.Logger, r *gin.Engine, h Handlers, gatherer prometheus.Gatherer, m *metrics.Metrics, maxBodyBytes int64) {
	r.Use(middleware.Recovery(logger, m))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.BodyLimit(maxBodyBytes))

	// Provider event deliveries, one path per provider
	r.POST("/webhooks/:provider", h.Webhooks.Receive)

	v1 := r.Group("/api/v1")
	{
		withdrawals := v1.Group("/withdrawals")
		{
			withdrawals.POST("", h.Withdrawals.Create)
			withdrawals.GET("/:id", h.Withdrawals.GetByID)
			withdrawals.POST("/:id/retry", h.Withdrawals.Retry)
		}

		wallets := v1.Group("/wallets")
		{
			wallets.GET("/:userID", h.Wallets.GetByUserID)
			wallets.GET("/:userID/journal", h.Wallets.GetJournal)
		}

		v1.POST("/payments/:id/authentication-complete", h.Payments.CompleteAuthentication)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Health check endpoint for monitoring
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	r.GET("/ready", h.Ready)
}

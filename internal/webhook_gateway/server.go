package webhook_gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/webhook_gateway/handler"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
)

// Services are the collaborators behind the gateway's handlers
type Services struct {
	Webhooks    service.WebhookService
	Withdrawals service.WithdrawalService
	Wallets     service.WalletService
	Payments    service.PaymentService
	Metrics     *metrics.Metrics
	// ReadinessChecks back /ready, keyed by dependency name
	ReadinessChecks map[string]ReadinessCheck
}

// Server handles HTTP requests and manages the gateway's lifecycle
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	httpRouter *gin.Engine
}

// NewServer creates and configures the gateway HTTP server
func NewServer(log *slog.Logger, cfg *config.Config, services Services, gatherer prometheus.Gatherer, clk clock.Clock) *Server {
	if cfg.Application.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	httpRouter := gin.New()

	setupRouter(log, httpRouter, Handlers{
		Webhooks:    handler.NewWebhookHandler(log, services.Webhooks, clk),
		Withdrawals: handler.NewWithdrawalHandler(log, services.Withdrawals),
		Wallets:     handler.NewWalletHandler(log, services.Wallets),
		Payments:    handler.NewPaymentHandler(log, services.Payments),
		Ready:       newReadyHandler(services.ReadinessChecks, cfg.Server.ReadTimeout),
	}, gatherer, services.Metrics, cfg.Server.MaxBodyBytes)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &Server{
		logger:     log,
		httpServer: httpServer,
		httpRouter: httpRouter,
	}
}

// Handler exposes the routed engine
func (s *Server) Handler() http.Handler {
	return s.httpRouter
}

// Start begins listening for HTTP requests
func (s *Server) Start() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server, waiting at most timeout for in-flight requests
func (s *Server) Stop(ctx context.Context, timeout time.Duration) error {
	s.logger.Info("Stopping HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/data/mongo"
	"github.com/rental-payments-ledger/internal/data/postgres"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/ledger"
	"github.com/rental-payments-ledger/internal/logger"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/messaging/producers"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/persistence"
	"github.com/rental-payments-ledger/internal/platform/providers/banktransfer"
	"github.com/rental-payments-ledger/internal/platform/providers/cardrail"
	"github.com/rental-payments-ledger/internal/platform/ratelimit"
	"github.com/rental-payments-ledger/internal/reconciliation"
	"github.com/rental-payments-ledger/internal/webhook_gateway"
	"github.com/rental-payments-ledger/internal/webhook_gateway/service"
	"github.com/rental-payments-ledger/internal/withdrawal"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("webhook_gateway")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)
	clk := clock.RealClock{}

	// Metrics registry served at /metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize databases with app context; migrations run before the pool opens
	postgresDB, err := persistence.NewPostgresDB(appCtx, log, &cfg.Postgres)
	if err != nil {
		log.Error("Failed to initialize PostgreSQL", "error", err)
		os.Exit(1)
	}

	mongoDB, err := persistence.NewMongoDB(appCtx, log, &cfg.MongoDB)
	if err != nil {
		log.Error("Failed to initialize MongoDB", "error", err)
		os.Exit(1)
	}

	// Rate limit counters live in Redis when several gateway instances share a quota
	var (
		limitStore  ratelimit.Store
		redisClient *redis.Client
	)
	switch cfg.RateLimit.Store {
	case "redis":
		redisClient, err = persistence.NewRedisClient(appCtx, log, &cfg.Redis)
		if err != nil {
			log.Error("Failed to initialize Redis", "error", err)
			os.Exit(1)
		}
		limitStore = ratelimit.NewRedisStore(redisClient)
	default:
		limitStore = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(log, limitStore, cfg.RateLimit, m, clk)

	// Operator notifications fall back to the log when Kafka is unavailable
	var (
		notifier             shared.Notifier = producers.NewLogNotifier(log)
		notificationProducer *producers.NotificationProducer
	)
	notificationProducer, err = producers.NewNotificationProducer(appCtx, log, &cfg.Kafka, m)
	if err != nil {
		log.Warn("Operator notifications will only be logged", "error", err)
	} else {
		notifier = notificationProducer
	}

	// Initialize repositories
	walletRepo := postgres.NewWalletRepository(log, postgresDB)
	transactionRepo := postgres.NewTransactionRepository(log, postgresDB)
	webhookRepo := postgres.NewWebhookEventRepository(log, postgresDB)
	journalRepo := mongo.NewJournalRepository(log, mongoDB.Database(), cfg.MongoDB.JournalCollection)
	if err = journalRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to prepare journal collection", "error", err)
		os.Exit(1)
	}

	// Provider gateways
	cardRail := cardrail.NewClient(cfg.Providers.CardRail, log, m)
	bankRail := banktransfer.NewClient(cfg.Providers.BankTransfer, log, m)

	// Ledger and reconciliation pipeline
	engine := ledger.NewEngine(log, postgresDB, walletRepo, transactionRepo, journalRepo, notifier, cfg.Withdrawal, m, clk)
	dispatcher := reconciliation.NewDispatcher(log, postgresDB, transactionRepo, engine, notifier, m, clk)
	dedup := reconciliation.NewDedupStore(log, webhookRepo, cfg.Webhook.BloomCapacity, cfg.Webhook.BloomFalsePositive)
	metrics.RegisterDedupFilter(registry, dedup.FilterStats)
	intake := reconciliation.NewIntake(
		log,
		limiter,
		reconciliation.Verifiers(cfg.Webhook.CardRailSecret, cfg.Webhook.BankRailSecret, cfg.Webhook.MaxAge),
		reconciliation.NewValidator(cfg.Webhook.MaxAge, cfg.Webhook.MaxFutureSkew, clk),
		dedup,
		dispatcher,
		notifier,
		m,
		clk,
	)
	payoutRouter := withdrawal.NewRouter(log, bankRail, cardRail, engine, notifier, m, clk)

	// Initialize services
	services := webhook_gateway.Services{
		Webhooks:    intake,
		Withdrawals: service.NewWithdrawalService(log, engine, payoutRouter, transactionRepo, cfg.Withdrawal.InferMethod),
		Wallets:     service.NewWalletService(walletRepo, transactionRepo, journalRepo),
		Payments:    service.NewPaymentService(log, postgresDB, transactionRepo, cardRail, clk),
		Metrics:     m,
		ReadinessChecks: map[string]webhook_gateway.ReadinessCheck{
			"postgres": postgresDB.Ping,
			"mongodb":  mongoDB.Ping,
		},
	}
	if redisClient != nil {
		services.ReadinessChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	// Initialize REST server
	server := webhook_gateway.NewServer(log, cfg, services, registry, clk)
	log.Info("Webhook gateway initialized", "rate_limit_store", cfg.RateLimit.Store)

	// Expired in-memory windows are swept in the background
	go limiter.RunSweeper(appCtx, cfg.RateLimit.SweepInterval)

	// Create error channel for server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		log.Info("Starting HTTP server", "port", cfg.Server.Port)
		if err := server.Start(); err != nil {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serverErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Server error occurred", "error", err)
		serverErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Stop accepting requests before closing what they depend on
	if err = server.Stop(shutdownCtx, cfg.Server.WriteTimeout); err != nil {
		log.Error("Error during server shutdown", "error", err)
	}

	postgresDB.Close()

	if notificationProducer != nil {
		if err = notificationProducer.Close(); err != nil {
			log.Error("Error closing notification producer", "error", err)
		}
	}

	if redisClient != nil {
		if err = redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", "error", err)
		}
	}

	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serverErr != nil {
		log.Error("HTTP server shutdown with errors", "error", serverErr)
	}
	if err != nil {
		log.Error("Webhook gateway shutdown completed with errors")
	} else {
		log.Info("Webhook gateway shutdown completed successfully")
	}
}

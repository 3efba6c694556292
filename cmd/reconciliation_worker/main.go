package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rental-payments-ledger/internal/config"
	"github.com/rental-payments-ledger/internal/data/mongo"
	"github.com/rental-payments-ledger/internal/data/postgres"
	"github.com/rental-payments-ledger/internal/domain/shared"
	"github.com/rental-payments-ledger/internal/ledger"
	"github.com/rental-payments-ledger/internal/logger"
	"github.com/rental-payments-ledger/internal/platform/clock"
	"github.com/rental-payments-ledger/internal/platform/messaging/consumers"
	"github.com/rental-payments-ledger/internal/platform/messaging/producers"
	"github.com/rental-payments-ledger/internal/platform/metrics"
	"github.com/rental-payments-ledger/internal/platform/persistence"
	"github.com/rental-payments-ledger/internal/reconciliation"
	"github.com/rental-payments-ledger/internal/reconciliation_worker/consumer"
	"github.com/rental-payments-ledger/internal/reconciliation_worker/retry_scheduler"
)

func main() {
	// Create base context with cancellation
	appCtx, cancelAppCtx := context.WithCancel(context.Background())
	defer cancelAppCtx()

	// Initialize configuration
	cfg, err := config.LoadConfig("reconciliation_worker")
	if err != nil {
		// logger is not initialized yet, so we use fmt
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewLogger(cfg)
	clk := clock.RealClock{}

	log.Info("Starting Reconciliation Worker",
		"app_name", cfg.Application.Name,
		"env", cfg.Application.Env,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	// Initialize databases with app context
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

	// Initialize repositories
	walletRepo := postgres.NewWalletRepository(log, postgresDB)
	transactionRepo := postgres.NewTransactionRepository(log, postgresDB)
	webhookRepo := postgres.NewWebhookEventRepository(log, postgresDB)
	bookingRepo := postgres.NewBookingRepository(log, postgresDB)
	journalRepo := mongo.NewJournalRepository(log, mongoDB.Database(), cfg.MongoDB.JournalCollection)
	if err = journalRepo.EnsureIndexes(appCtx); err != nil {
		log.Error("Failed to prepare journal collection", "error", err)
		os.Exit(1)
	}

	// Initialize Kafka DLQ producer; nil when no DLQ topic is configured
	dlqProducer, err := producers.NewDLQProducer(appCtx, log, &cfg.Kafka, "reconciliation_worker")
	if err != nil {
		log.Error("Failed to initialize DLQ Kafka producer", "error", err)
		os.Exit(1)
	}
	var dlq producers.DeadLetterPublisher
	if dlqProducer != nil {
		dlq = dlqProducer
	}

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

	engine := ledger.NewEngine(log, postgresDB, walletRepo, transactionRepo, journalRepo, notifier, cfg.Withdrawal, m, clk)
	dispatcher := reconciliation.NewDispatcher(log, postgresDB, transactionRepo, engine, notifier, m, clk)

	scheduler, err := retry_scheduler.NewScheduler(log, cfg.Retry, cfg.WorkerPool.Size, webhookRepo, dispatcher, dlq, notifier, m, clk)
	if err != nil {
		log.Error("Failed to initialize retry scheduler", "error", err)
		os.Exit(1)
	}

	bookingHandler := consumer.NewBookingEventHandler(log, bookingRepo, walletRepo, engine, m)
	kafkaConsumer := consumers.NewKafkaConsumer(log, &cfg.Kafka, dlq)

	// Health and scrape endpoints
	gin.SetMode(gin.ReleaseMode)
	opsRouter := gin.New()
	opsRouter.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})
	opsRouter.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	opsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           opsRouter,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
	}

	// Create error channel for service errors
	errChan := make(chan error, 2)

	// Create wait group for graceful shutdown
	var wg sync.WaitGroup

	// Start Kafka consumer
	log.Info("Starting Kafka consumer",
		"topic", cfg.Kafka.BookingEventsTopic,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := kafkaConsumer.Subscribe(appCtx, bookingHandler.HandleMessage); err != nil {
		log.Error("Failed to subscribe to booking events", "error", err)
		os.Exit(1)
	}

	// Start the retry sweep and the retention purge
	wg.Add(2)
	go func() {
		defer wg.Done()
		log.Info("Starting Retry Scheduler",
			"interval", cfg.Retry.Interval.String(),
			"batch_size", cfg.Retry.BatchSize,
			"max_attempts", cfg.Retry.MaxAttempts,
		)
		scheduler.Start(appCtx)
	}()
	go func() {
		defer wg.Done()
		log.Info("Starting retention purge", "interval", cfg.Retry.PurgeInterval.String(), "retention", cfg.Retry.Retention.String())
		scheduler.StartPurge(appCtx)
	}()

	go func() {
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("ops server error: %w", err)
		}
	}()

	// Set up signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	// Wait for a shutdown signal or error
	var serviceErr error
	select {
	case <-quit:
		log.Info("Shutdown signal received")
	case err := <-errChan:
		log.Error("Service error occurred", "error", err)
		serviceErr = err
	}

	// Cancel the application context
	cancelAppCtx()

	// Create a shutdown context with timeout
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	// Graceful shutdown sequence
	log.Info("Starting graceful shutdown...")

	// Wait for all goroutines to finish
	log.Info("Waiting for services to stop...")
	wgChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(wgChan)
	}()

	select {
	case <-wgChan:
		log.Info("All services stopped successfully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown timeout reached, forcing exit")
	}

	// Release the retry worker pool once no sweep is submitting to it
	scheduler.Shutdown()

	if err = opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping ops server", "error", err)
	}

	// Close Kafka consumer before the DLQ it parks messages on
	if err = kafkaConsumer.Close(); err != nil {
		log.Error("Error closing Kafka consumer", "error", err)
	}

	if err = dlqProducer.Close(); err != nil {
		log.Error("Error closing DLQ Kafka producer", "error", err)
	}

	if notificationProducer != nil {
		if err = notificationProducer.Close(); err != nil {
			log.Error("Error closing notification producer", "error", err)
		}
	}

	// Shutdown postgres connection pool
	postgresDB.Close()

	// Close MongoDB connection
	if err = mongoDB.Close(shutdownCtx); err != nil {
		log.Error("Error closing MongoDB connection", "error", err)
	}

	// Final status
	if serviceErr != nil {
		log.Error("Reconciliation Worker shutdown with errors", "error", serviceErr)
	}
	if err != nil {
		log.Error("Reconciliation Worker shutdown completed with errors")
	} else {
		log.Info("Reconciliation Worker shutdown completed successfully")
	}
}
